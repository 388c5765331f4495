package cache

import (
	"testing"
	"time"
)

func TestGeometryCacheRoundTrip(t *testing.T) {
	c, err := NewGeometryCache(10, time.Minute)
	if err != nil {
		t.Fatalf("NewGeometryCache() error = %v", err)
	}

	if _, ok := c.Get("POINT(0 0)", "buffer", "5"); ok {
		t.Fatal("expected miss before any Set")
	}

	c.Set("POINT(0 0)", "buffer", "5", "POLYGON((...))")
	got, ok := c.Get("POINT(0 0)", "buffer", "5")
	if !ok {
		t.Fatal("expected hit after Set")
	}
	if got != "POLYGON((...))" {
		t.Errorf("Get() = %q", got)
	}

	m := c.Metrics()
	if m.Hits != 1 || m.Misses != 1 {
		t.Errorf("unexpected metrics: %+v", m)
	}
}

func TestGeometryCacheDistinguishesParams(t *testing.T) {
	c, _ := NewGeometryCache(10, 0)
	c.Set("POINT(0 0)", "buffer", "5", "A")
	c.Set("POINT(0 0)", "buffer", "10", "B")

	got5, _ := c.Get("POINT(0 0)", "buffer", "5")
	got10, _ := c.Get("POINT(0 0)", "buffer", "10")
	if got5 != "A" || got10 != "B" {
		t.Errorf("expected distinct cache entries, got %q / %q", got5, got10)
	}
}

func TestExpressionCacheRoundTrip(t *testing.T) {
	c, err := NewExpressionCache(10, 0)
	if err != nil {
		t.Fatalf("NewExpressionCache() error = %v", err)
	}

	c.Set(`ST_Intersects("geom", x)`, "postgresql", "parcels", "intersects", "POINT(0 0)")
	got, ok := c.Get("postgresql", "parcels", "intersects", "POINT(0 0)")
	if !ok {
		t.Fatal("expected hit")
	}
	if got != `ST_Intersects("geom", x)` {
		t.Errorf("Get() = %q", got)
	}

	if _, ok := c.Get("postgresql", "parcels", "within", "POINT(0 0)"); ok {
		t.Error("expected miss for a different predicate key part")
	}
}

func TestMetricsHitRateComputed(t *testing.T) {
	c, _ := NewExpressionCache(10, 0)
	c.Set("x", "a")
	_, _ = c.Get("a")
	_, _ = c.Get("a")
	_, _ = c.Get("missing")

	m := c.Metrics()
	if m.Hits != 2 || m.Misses != 1 {
		t.Fatalf("unexpected counters: %+v", m)
	}
	if m.HitRate < 66.0 || m.HitRate > 67.0 {
		t.Errorf("unexpected hit rate: %v", m.HitRate)
	}
}
