// Package cache provides the two ristretto-backed result caches C9 owns:
// repaired/transformed geometries keyed by their source WKT + operation, and
// built backend expressions keyed by their inputs (spec §4.9). Both follow
// the teacher-adjacent QueryCache pattern — md5 fingerprint keys, hit/miss
// counters, TTL'd ristretto storage — rather than the Combined Query
// Optimizer's own result cache (internal/filter/optimize), which memoizes a
// different thing (rewritten expressions, not geometries).
package cache

import (
	"crypto/md5" //nolint:gosec // cache fingerprint, not a security boundary
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
)

// Metrics reports a cache's hit/miss/eviction counters (spec §4.9).
type Metrics struct {
	Hits      int64
	Misses    int64
	Evictions int64
	HitRate   float64
}

// resultCache is the shared ristretto wrapper both caches in this package
// build on, mirroring the teacher-adjacent QueryCache shape.
type resultCache struct {
	store *ristretto.Cache
	ttl   time.Duration

	mu        sync.Mutex
	hits      int64
	misses    int64
	evictions int64
}

func newResultCache(maxCost int64, ttl time.Duration) (*resultCache, error) {
	rc := &resultCache{ttl: ttl}
	store, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxCost * 10,
		MaxCost:     maxCost,
		BufferItems: 64,
		OnEvict: func(*ristretto.Item) {
			rc.mu.Lock()
			rc.evictions++
			rc.mu.Unlock()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("cache: creating store: %w", err)
	}
	rc.store = store
	return rc, nil
}

func (rc *resultCache) get(key string) (any, bool) {
	v, ok := rc.store.Get(key)
	rc.mu.Lock()
	if ok {
		rc.hits++
	} else {
		rc.misses++
	}
	rc.mu.Unlock()
	return v, ok
}

func (rc *resultCache) set(key string, value any, cost int64) {
	rc.store.SetWithTTL(key, value, cost, rc.ttl)
	rc.store.Wait()
}

func (rc *resultCache) metrics() Metrics {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	hitRate := 0.0
	if total := rc.hits + rc.misses; total > 0 {
		hitRate = float64(rc.hits) / float64(total) * 100
	}
	return Metrics{Hits: rc.hits, Misses: rc.misses, Evictions: rc.evictions, HitRate: hitRate}
}

func fingerprint(parts ...string) string {
	h := md5.New() //nolint:gosec
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// GeometryCache memoizes C3's repaired/transformed WKT outputs keyed by
// (source WKT, operation name, operation params). Saves re-running the
// repair ladder or a reprojection for a source geometry reused across
// several target layers in one filter request.
type GeometryCache struct {
	rc *resultCache
}

// NewGeometryCache builds a GeometryCache with room for maxEntries distinct
// geometries, each entry expiring after ttl (0 disables expiry).
func NewGeometryCache(maxEntries int64, ttl time.Duration) (*GeometryCache, error) {
	if maxEntries <= 0 {
		maxEntries = 200
	}
	rc, err := newResultCache(maxEntries, ttl)
	if err != nil {
		return nil, err
	}
	return &GeometryCache{rc: rc}, nil
}

// Get looks up a previously cached WKT for (sourceWKT, operation, params).
func (g *GeometryCache) Get(sourceWKT, operation, params string) (string, bool) {
	v, ok := g.rc.get(fingerprint(sourceWKT, operation, params))
	if !ok {
		return "", false
	}
	wkt, ok := v.(string)
	return wkt, ok
}

// Set stores resultWKT under (sourceWKT, operation, params).
func (g *GeometryCache) Set(sourceWKT, operation, params, resultWKT string) {
	g.rc.set(fingerprint(sourceWKT, operation, params), resultWKT, 1)
}

// Metrics returns the cache's hit/miss/eviction counters.
func (g *GeometryCache) Metrics() Metrics {
	return g.rc.metrics()
}

// ExpressionCache memoizes a built backend expression keyed by (backend,
// target layer ID, predicates, source fingerprint, buffer params, combine
// operator) — the full set of Build() inputs for a backend builder. Two
// identical target+source+predicate combinations within a session (common
// when the same source geometry drives several target layers) skip
// re-running the builder entirely.
type ExpressionCache struct {
	rc *resultCache
}

// NewExpressionCache builds an ExpressionCache with room for maxEntries
// distinct expressions.
func NewExpressionCache(maxEntries int64, ttl time.Duration) (*ExpressionCache, error) {
	if maxEntries <= 0 {
		maxEntries = 200
	}
	rc, err := newResultCache(maxEntries, ttl)
	if err != nil {
		return nil, err
	}
	return &ExpressionCache{rc: rc}, nil
}

// Get looks up a previously built expression by its builder-input key parts.
func (e *ExpressionCache) Get(keyParts ...string) (string, bool) {
	v, ok := e.rc.get(fingerprint(keyParts...))
	if !ok {
		return "", false
	}
	expr, ok := v.(string)
	return expr, ok
}

// Set stores expression under the builder-input key parts.
func (e *ExpressionCache) Set(expression string, keyParts ...string) {
	e.rc.set(fingerprint(keyParts...), expression, 1)
}

// Metrics returns the cache's hit/miss/eviction counters.
func (e *ExpressionCache) Metrics() Metrics {
	return e.rc.metrics()
}
