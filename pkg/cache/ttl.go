package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

type options struct {
	namespace string
	analytics *Analytics
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a TTLCache.
type Option func(*options)

// WithNamespace labels this cache's events and metrics.
func WithNamespace(ns string) Option {
	return func(o *options) { o.namespace = ns }
}

// WithAnalytics shares a as the observer. Without it every cache gets a
// private Analytics.
func WithAnalytics(a *Analytics) Option {
	return func(o *options) {
		if a != nil {
			o.analytics = a
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// TTLCache is an in-memory map whose entries expire a fixed time after they
// are written. Expired entries are removed when read, or by Sweep.
//
// Lookups never fail: absence is the only negative outcome. It is safe for
// concurrent use.
type TTLCache[K comparable, V any] struct {
	namespace string
	analytics *Analytics
	now       func() time.Time
	logger    *slog.Logger

	mu    sync.RWMutex
	items map[K]entry[V]

	sweepMu sync.Mutex
	stop    chan struct{}
	done    chan struct{}
}

func New[K comparable, V any](opts ...Option) *TTLCache[K, V] {
	o := options{
		now:    time.Now,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.analytics == nil {
		o.analytics = NewAnalytics()
	}
	return &TTLCache[K, V]{
		namespace: o.namespace,
		analytics: o.analytics,
		now:       o.now,
		logger:    o.logger,
		items:     make(map[K]entry[V]),
	}
}

// Analytics returns the observer this cache reports to.
func (c *TTLCache[K, V]) Analytics() *Analytics {
	return c.analytics
}

// Get returns the live value for key. A missing or expired entry is a miss;
// an expired entry is removed.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	now := c.now()

	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()

	if ok && now.Before(e.expiresAt) {
		c.analytics.Track(Event{Type: EventHit, Namespace: c.namespace, At: now})
		return e.value, true
	}

	if ok {
		c.mu.Lock()
		// Only remove the entry we saw; a concurrent Set may have replaced it.
		if cur, still := c.items[key]; still && cur.expiresAt.Equal(e.expiresAt) {
			delete(c.items, key)
			c.analytics.evicted(c.namespace, 1)
		}
		c.mu.Unlock()
	}

	c.analytics.Track(Event{Type: EventMiss, Namespace: c.namespace, At: now})
	var zero V
	return zero, false
}

// Set stores value for ttl, replacing any existing entry. A ttl of zero or
// less removes key.
func (c *TTLCache[K, V]) Set(key K, value V, ttl time.Duration) {
	c.set(key, value, ttl, 0)
}

func (c *TTLCache[K, V]) set(key K, value V, ttl, latency time.Duration) {
	if ttl <= 0 {
		c.Delete(key)
		return
	}
	now := c.now()

	c.mu.Lock()
	c.items[key] = entry[V]{value: value, expiresAt: now.Add(ttl)}
	c.mu.Unlock()

	c.analytics.Track(Event{Type: EventSet, Namespace: c.namespace, Latency: latency, At: now})
}

func (c *TTLCache[K, V]) Delete(key K) {
	c.mu.Lock()
	_, ok := c.items[key]
	delete(c.items, key)
	c.mu.Unlock()

	if ok {
		c.analytics.Track(Event{Type: EventDelete, Namespace: c.namespace})
	}
}

// Clear drops every entry. Analytics counters are kept.
func (c *TTLCache[K, V]) Clear() {
	c.mu.Lock()
	n := len(c.items)
	c.items = make(map[K]entry[V])
	c.mu.Unlock()

	c.logger.Debug("cache cleared", "namespace", c.namespace, "entries", n)
}

// Len counts stored entries, including expired ones not yet removed.
func (c *TTLCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// GetOrLoad returns the cached value for key, or calls load, caches its
// result for ttl and returns it. Errors from load are returned and nothing
// is cached. Concurrent misses on one key may each call load.
func (c *TTLCache[K, V]) GetOrLoad(ctx context.Context, key K, ttl time.Duration, load func(context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	start := c.now()
	v, err := load(ctx)
	if err != nil {
		var zero V
		return zero, err
	}
	c.set(key, v, ttl, max(c.now().Sub(start), time.Nanosecond))
	return v, nil
}

// Sweep removes every expired entry and returns how many it removed.
func (c *TTLCache[K, V]) Sweep() int {
	now := c.now()

	c.mu.Lock()
	removed := 0
	for k, e := range c.items {
		if !now.Before(e.expiresAt) {
			delete(c.items, k)
			removed++
		}
	}
	c.mu.Unlock()

	if removed > 0 {
		c.analytics.evicted(c.namespace, removed)
		c.logger.Debug("swept expired cache entries", "namespace", c.namespace, "removed", removed)
	}
	return removed
}

// StartSweeper runs Sweep every interval on one goroutine until Close. It
// is a no-op if a sweeper is already running.
func (c *TTLCache[K, V]) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		return
	}
	c.sweepMu.Lock()
	defer c.sweepMu.Unlock()
	if c.stop != nil {
		return
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})

	go func(stop <-chan struct{}, done chan<- struct{}) {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.Sweep()
			}
		}
	}(c.stop, c.done)
}

// Close stops the sweeper and waits for it to exit. Entries stay readable.
func (c *TTLCache[K, V]) Close() {
	c.sweepMu.Lock()
	defer c.sweepMu.Unlock()
	if c.stop == nil {
		return
	}
	close(c.stop)
	<-c.done
	c.stop, c.done = nil, nil
}
