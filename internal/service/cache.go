package service

import (
	"slices"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	referenceCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "estatedesk_reference_cache_hits_total",
		Help: "Reference data lookups served from the session cache",
	}, []string{"kind"})

	referenceCacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "estatedesk_reference_cache_misses_total",
		Help: "Reference data lookups that went to the CRM",
	}, []string{"kind"})
)

// CacheConfig sizes the per-session reference data caches.
type CacheConfig struct {
	// Size is the maximum number of sessions cached per kind.
	Size int
	TTL  time.Duration
}

// referenceCache keeps one reference list per session. Reference data is
// agency-wide, so any mutation purges every session's copy.
type referenceCache[T any] struct {
	kind string
	lru  *expirable.LRU[string, []T]

	// gen counts purges so a fetch that straddles one is not cached.
	mu  sync.Mutex
	gen uint64
}

func newReferenceCache[T any](kind string, cfg CacheConfig) *referenceCache[T] {
	size := cfg.Size
	if size <= 0 {
		size = 256
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &referenceCache[T]{
		kind: kind,
		lru:  expirable.NewLRU[string, []T](size, nil, ttl),
	}
}

func (c *referenceCache[T]) get(sessionID string) ([]T, bool) {
	items, ok := c.lru.Get(sessionID)
	if !ok {
		referenceCacheMisses.WithLabelValues(c.kind).Inc()
		return nil, false
	}
	referenceCacheHits.WithLabelValues(c.kind).Inc()
	return slices.Clone(items), true
}

// generation is read before a CRM fetch and handed back to set.
func (c *referenceCache[T]) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// set caches items unless a purge happened since gen was read.
func (c *referenceCache[T]) set(sessionID string, items []T, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.lru.Add(sessionID, slices.Clone(items))
}

func (c *referenceCache[T]) forget(sessionID string) {
	c.lru.Remove(sessionID)
}

func (c *referenceCache[T]) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.lru.Purge()
}
