// Package metrics defines the Prometheus collectors for the formatter.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"synkdocs/api/internal/prosemirror"
)

// Format request results
const (
	ResultOK                 = "ok"
	ResultParseError         = "parse_error"
	ResultValidationError    = "validation_error"
	ResultDepthExceeded      = "depth_exceeded"
	ResultSerializationError = "serialization_error"
)

// Cache outcomes
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// Recorder holds the formatter collectors.
type Recorder struct {
	requests      *prometheus.CounterVec
	duration      prometheus.Histogram
	nodesDropped  *prometheus.CounterVec
	levelsCoerced prometheus.Counter
	cache         *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "synkdocs_format_requests_total",
				Help: "Format calls by result",
			},
			[]string{"result"},
		),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "synkdocs_format_duration_seconds",
			Help:    "Time spent decoding, formatting and encoding a document",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		nodesDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "synkdocs_format_nodes_dropped_total",
				Help: "Nodes removed by the validity filter, by node type",
			},
			[]string{"type"},
		),
		levelsCoerced: factory.NewCounter(prometheus.CounterOpts{
			Name: "synkdocs_heading_level_coerced_total",
			Help: "Heading levels that were clamped, defaulted or replaced",
		}),
		cache: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "synkdocs_format_cache_total",
				Help: "Format cache lookups by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// ObserveFormat records one format call.
func (r *Recorder) ObserveFormat(result string, elapsed time.Duration, stats prosemirror.Stats) {
	r.requests.WithLabelValues(result).Inc()
	r.duration.Observe(elapsed.Seconds())
	if stats.TextDropped > 0 {
		r.nodesDropped.WithLabelValues(prosemirror.TypeText).Add(float64(stats.TextDropped))
	}
	if stats.HeadingsDropped > 0 {
		r.nodesDropped.WithLabelValues(prosemirror.TypeHeading).Add(float64(stats.HeadingsDropped))
	}
	if stats.ImagesDropped > 0 {
		r.nodesDropped.WithLabelValues(prosemirror.TypeImage).Add(float64(stats.ImagesDropped))
	}
	if stats.HeadingsNormalized > 0 {
		r.levelsCoerced.Add(float64(stats.HeadingsNormalized))
	}
}

// ObserveCache records a cache lookup.
func (r *Recorder) ObserveCache(outcome string) {
	r.cache.WithLabelValues(outcome).Inc()
}
