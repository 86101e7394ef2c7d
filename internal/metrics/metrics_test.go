package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"synkdocs/api/internal/prosemirror"
)

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, family := range families {
		out[family.GetName()] = family
	}
	return out
}

func counterValue(t *testing.T, family *dto.MetricFamily, label, value string) float64 {
	t.Helper()
	if family == nil {
		t.Fatal("metric family missing")
	}
	for _, metric := range family.GetMetric() {
		if label == "" {
			return metric.GetCounter().GetValue()
		}
		for _, pair := range metric.GetLabel() {
			if pair.GetName() == label && pair.GetValue() == value {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestObserveFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := New(reg)

	rec.ObserveFormat(ResultOK, 2*time.Millisecond, prosemirror.Stats{
		TextDropped:        2,
		HeadingsDropped:    1,
		HeadingsNormalized: 3,
	})
	rec.ObserveFormat(ResultParseError, time.Millisecond, prosemirror.Stats{})

	families := gather(t, reg)
	requests := families["synkdocs_format_requests_total"]
	if got := counterValue(t, requests, "result", ResultOK); got != 1 {
		t.Fatalf("ok requests = %v", got)
	}
	if got := counterValue(t, requests, "result", ResultParseError); got != 1 {
		t.Fatalf("parse_error requests = %v", got)
	}

	dropped := families["synkdocs_format_nodes_dropped_total"]
	if got := counterValue(t, dropped, "type", "text"); got != 2 {
		t.Fatalf("text dropped = %v", got)
	}
	if got := counterValue(t, dropped, "type", "heading"); got != 1 {
		t.Fatalf("heading dropped = %v", got)
	}
	if got := counterValue(t, dropped, "type", "image"); got != 0 {
		t.Fatalf("image dropped = %v", got)
	}

	if got := counterValue(t, families["synkdocs_heading_level_coerced_total"], "", ""); got != 3 {
		t.Fatalf("levels coerced = %v", got)
	}

	histogram := families["synkdocs_format_duration_seconds"]
	if histogram == nil || histogram.GetMetric()[0].GetHistogram().GetSampleCount() != 2 {
		t.Fatalf("unexpected duration histogram: %v", histogram)
	}
}

func TestObserveCache(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := New(reg)
	rec.ObserveCache(CacheHit)
	rec.ObserveCache(CacheHit)
	rec.ObserveCache(CacheMiss)

	cache := gather(t, reg)["synkdocs_format_cache_total"]
	if got := counterValue(t, cache, "outcome", CacheHit); got != 2 {
		t.Fatalf("hits = %v", got)
	}
	if got := counterValue(t, cache, "outcome", CacheMiss); got != 1 {
		t.Fatalf("misses = %v", got)
	}
}

func TestNewRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	defer func() {
		if recover() == nil {
			t.Fatal("expected duplicate registration to panic")
		}
	}()
	New(reg)
}
