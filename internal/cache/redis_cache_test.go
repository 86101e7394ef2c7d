package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"synkdocs/api/internal/prosemirror"
)

func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	c, err := NewRedisCache("redis://"+s.Addr(), "1.0.0", 0)
	if err != nil {
		t.Fatalf("failed to create redis cache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, s
}

func TestNewRedisCache(t *testing.T) {
	c, _ := setupTestRedis(t)
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisCacheInvalidURL(t *testing.T) {
	if _, err := NewRedisCache("not-a-url://", "1.0.0", 0); err == nil {
		t.Fatal("expected error for invalid url")
	}
}

func TestGetMiss(t *testing.T) {
	c, _ := setupTestRedis(t)

	entry, ok, err := c.Get(context.Background(), []byte(`{"type":"doc"}`))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok || entry.Output != nil {
		t.Fatalf("expected miss, got %q", entry.Output)
	}
}

func TestSetAndGet(t *testing.T) {
	c, s := setupTestRedis(t)
	ctx := context.Background()
	input := []byte(`{"type":"doc","content":[{"type":"image"},{"type":"paragraph","content":[{"type":"text","text":"a  <b>"}]}]}`)
	output := []byte(`{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"a <b>"}]}]}`)
	stats := prosemirror.Stats{
		Nodes:         4,
		TextCollapsed: 1,
		ImagesDropped: 1,
		Diagnostics:   []prosemirror.Diagnostic{{Path: "$.content[0]", Message: "note"}},
	}

	if err := c.Set(ctx, input, Entry{Output: output, Stats: stats}, time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	entry, ok, err := c.Get(ctx, input)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok || string(entry.Output) != string(output) {
		t.Fatalf("Get = %q, %v", entry.Output, ok)
	}
	if !entry.Stats.Changed() || entry.Stats.ImagesDropped != 1 || entry.Stats.TextCollapsed != 1 {
		t.Fatalf("stats not preserved: %+v", entry.Stats)
	}
	if len(entry.Stats.Diagnostics) != 1 || entry.Stats.Diagnostics[0].Path != "$.content[0]" {
		t.Fatalf("diagnostics not preserved: %+v", entry.Stats.Diagnostics)
	}

	ttl := s.TTL(c.Key(input))
	if ttl != time.Minute {
		t.Errorf("expected TTL 1m, got %v", ttl)
	}
}

func TestEntriesExpire(t *testing.T) {
	c, s := setupTestRedis(t)
	ctx := context.Background()
	input := []byte(`{"type":"doc"}`)

	if err := c.Set(ctx, input, Entry{Output: input}, time.Second); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	s.FastForward(2 * time.Second)

	if _, ok, err := c.Get(ctx, input); err != nil || ok {
		t.Fatalf("expected expired entry, ok=%v err=%v", ok, err)
	}
}

func TestCorruptEntryIsAnError(t *testing.T) {
	c, s := setupTestRedis(t)
	input := []byte(`{"type":"doc"}`)
	if err := s.Set(c.Key(input), "not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, ok, err := c.Get(context.Background(), input); err == nil || ok {
		t.Fatalf("expected decode error, ok=%v err=%v", ok, err)
	}
}

func TestKeyScope(t *testing.T) {
	s := miniredis.RunT(t)
	newCache := func(version string, depth int) *RedisCache {
		t.Helper()
		c, err := NewRedisCache("redis://"+s.Addr(), version, depth)
		if err != nil {
			t.Fatalf("NewRedisCache failed: %v", err)
		}
		t.Cleanup(func() { _ = c.Close() })
		return c
	}
	older := newCache("0.9.0", 0)
	current := newCache("1.0.0", 0)
	shallow := newCache("1.0.0", 2)

	input := []byte(`{"type":"doc"}`)
	if older.Key(input) == current.Key(input) {
		t.Fatal("keys for different versions must differ")
	}
	if shallow.Key(input) == current.Key(input) {
		t.Fatal("keys for different depth limits must differ")
	}
	if !strings.HasPrefix(current.Key(input), "fmt:1.0.0:d0:") {
		t.Fatalf("unexpected key %q", current.Key(input))
	}
	if len(current.Key(input)) != len("fmt:1.0.0:d0:")+64 {
		t.Fatalf("expected a 256-bit hex digest, got %q", current.Key(input))
	}

	ctx := context.Background()
	if err := older.Set(ctx, input, Entry{Output: []byte("stale")}, time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, ok, _ := current.Get(ctx, input); ok {
		t.Fatal("output from another formatter version must not be served")
	}

	if err := current.Set(ctx, input, Entry{Output: input}, time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, ok, _ := shallow.Get(ctx, input); ok {
		t.Fatal("output cached under another depth limit must not be served")
	}
}

func TestGetFailsWhenRedisDown(t *testing.T) {
	c, s := setupTestRedis(t)
	s.Close()

	if _, _, err := c.Get(context.Background(), []byte(`{"type":"doc"}`)); err == nil {
		t.Fatal("expected error when redis is unavailable")
	}
}
