package cache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/jonboulle/clockwork"

	"github.com/bisheshkhanal/ragebaiter/internal/metrics"
	"github.com/bisheshkhanal/ragebaiter/internal/stance"
)

const (
	DefaultTTL      = 5 * time.Minute
	DefaultCapacity = 500
)

// ResultCache maps post ids to analysis results. Entries expire after a fixed
// TTL, checked lazily on Get; when full, the least recently inserted or read
// entry is evicted.
type ResultCache struct {
	mu      sync.Mutex
	entries *simplelru.LRU[string, entry]
	ttl     time.Duration
	clock   clockwork.Clock
	metrics *metrics.Metrics
}

type entry struct {
	result    *stance.AnalysisResult
	createdAt time.Time
}

type Option func(*ResultCache)

func WithTTL(ttl time.Duration) Option {
	return func(c *ResultCache) { c.ttl = ttl }
}

func WithClock(clock clockwork.Clock) Option {
	return func(c *ResultCache) { c.clock = clock }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *ResultCache) { c.metrics = m }
}

func New(capacity int, opts ...Option) *ResultCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &ResultCache{
		ttl:   DefaultTTL,
		clock: clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(c)
	}

	// simplelru only fails on a non-positive size.
	lru, err := simplelru.NewLRU[string, entry](capacity, nil)
	if err != nil {
		panic(err)
	}
	c.entries = lru
	return c
}

// Get returns the cached result for id. An entry older than the TTL is a miss
// and is removed.
func (c *ResultCache) Get(id string) (*stance.AnalysisResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries.Get(id)
	if !ok {
		c.metrics.CacheMiss()
		return nil, false
	}

	if c.clock.Since(e.createdAt) > c.ttl {
		c.entries.Remove(id)
		c.metrics.CacheEvicted("ttl")
		c.metrics.CacheMiss()
		return nil, false
	}

	c.metrics.CacheHit()
	return e.result, true
}

func (c *ResultCache) Set(id string, result *stance.AnalysisResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := c.entries.Add(id, entry{result: result, createdAt: c.clock.Now()})
	if evicted {
		c.metrics.CacheEvicted("capacity")
	}
}

func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
}
