package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/manenim/outbound-guard/pkg/metrics"
)

const (
	defaultMaxEvents    = 1000
	defaultRecentWindow = 5 * time.Minute
	reportEvents        = 50
	reportNamespaces    = 5
)

type EventType int

const (
	EventHit EventType = iota
	EventMiss
	EventSet
	EventDelete
)

func (t EventType) String() string {
	switch t {
	case EventHit:
		return "hit"
	case EventMiss:
		return "miss"
	case EventSet:
		return "set"
	case EventDelete:
		return "delete"
	default:
		return "unknown"
	}
}

func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *EventType) UnmarshalText(b []byte) error {
	for _, candidate := range []EventType{EventHit, EventMiss, EventSet, EventDelete} {
		if candidate.String() == string(b) {
			*t = candidate
			return nil
		}
	}
	return fmt.Errorf("cache: unknown event type %q", b)
}

// Event is one cache operation. Latency is set only for sets that followed
// a load.
type Event struct {
	Type      EventType     `json:"type"`
	Namespace string        `json:"namespace,omitempty"`
	Latency   time.Duration `json:"latency,omitempty"`
	At        time.Time     `json:"at"`
}

// Stats are the running lookup counters. HitRate is 0 before any lookup.
type Stats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

type NamespaceCount struct {
	Namespace string `json:"namespace"`
	Writes    uint64 `json:"writes"`
}

// Report is a point-in-time summary for dashboards.
type Report struct {
	Stats
	Sets           uint64           `json:"sets"`
	Deletes        uint64           `json:"deletes"`
	RecentHitRate  float64          `json:"recent_hit_rate"`
	AvgLoadLatency time.Duration    `json:"avg_load_latency"`
	TopNamespaces  []NamespaceCount `json:"top_namespaces"`
	RecentEvents   []Event          `json:"recent_events"`
	GeneratedAt    time.Time        `json:"generated_at"`
}

// Analytics observes any number of caches. Construct one per process and
// pass it to every cache with WithAnalytics. It is safe for concurrent use.
type Analytics struct {
	now          func() time.Time
	logger       *slog.Logger
	recorder     metrics.Recorder
	recentWindow time.Duration

	mu           sync.Mutex
	hits         uint64
	misses       uint64
	sets         uint64
	deletes      uint64
	latencyTotal time.Duration
	latencyCount uint64
	writes       map[string]uint64
	events       []Event
	next         int
	full         bool
}

type AnalyticsOption func(*Analytics)

func WithAnalyticsClock(now func() time.Time) AnalyticsOption {
	return func(a *Analytics) {
		if now != nil {
			a.now = now
		}
	}
}

func WithAnalyticsLogger(l *slog.Logger) AnalyticsOption {
	return func(a *Analytics) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithAnalyticsRecorder emits "cache.hit", "cache.miss" and
// "cache.eviction", tagged by namespace.
func WithAnalyticsRecorder(r metrics.Recorder) AnalyticsOption {
	return func(a *Analytics) {
		a.recorder = metrics.OrNoOp(r)
	}
}

// WithRecentWindow sets the span Report uses for RecentHitRate.
func WithRecentWindow(d time.Duration) AnalyticsOption {
	return func(a *Analytics) {
		if d > 0 {
			a.recentWindow = d
		}
	}
}

// WithMaxEvents bounds the event history.
func WithMaxEvents(n int) AnalyticsOption {
	return func(a *Analytics) {
		if n > 0 {
			a.events = make([]Event, n)
		}
	}
}

func NewAnalytics(opts ...AnalyticsOption) *Analytics {
	a := &Analytics{
		now:          time.Now,
		logger:       slog.New(slog.DiscardHandler),
		recorder:     metrics.NoOpRecorder{},
		recentWindow: defaultRecentWindow,
		writes:       make(map[string]uint64),
		events:       make([]Event, defaultMaxEvents),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Track records e. A zero At is stamped with the current time.
func (a *Analytics) Track(e Event) {
	tags := map[string]string{"namespace": e.Namespace}
	switch e.Type {
	case EventHit:
		a.recorder.Add("cache.hit", 1, tags)
	case EventMiss:
		a.recorder.Add("cache.miss", 1, tags)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if e.At.IsZero() {
		e.At = a.now()
	}
	switch e.Type {
	case EventHit:
		a.hits++
	case EventMiss:
		a.misses++
	case EventSet:
		a.sets++
		a.writes[e.Namespace]++
	case EventDelete:
		a.deletes++
	}
	if e.Latency > 0 {
		a.latencyTotal += e.Latency
		a.latencyCount++
	}

	a.events[a.next] = e
	a.next = (a.next + 1) % len(a.events)
	if a.next == 0 {
		a.full = true
	}
}

func (a *Analytics) evicted(namespace string, n int) {
	if n > 0 {
		a.recorder.Add("cache.eviction", float64(n), map[string]string{"namespace": namespace})
	}
}

func (a *Analytics) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats()
}

func (a *Analytics) stats() Stats {
	s := Stats{Hits: a.hits, Misses: a.misses}
	if total := a.hits + a.misses; total > 0 {
		s.HitRate = float64(a.hits) / float64(total)
	}
	return s
}

// Reset zeroes every counter and forgets the event history. Cache contents
// are untouched.
func (a *Analytics) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hits, a.misses, a.sets, a.deletes = 0, 0, 0, 0
	a.latencyTotal, a.latencyCount = 0, 0
	a.writes = make(map[string]uint64)
	clear(a.events)
	a.next, a.full = 0, false
}

func (a *Analytics) Report() Report {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	r := Report{
		Stats:       a.stats(),
		Sets:        a.sets,
		Deletes:     a.deletes,
		GeneratedAt: now,
	}
	if a.latencyCount > 0 {
		r.AvgLoadLatency = a.latencyTotal / time.Duration(a.latencyCount)
	}

	history := a.history()
	var recent, recentHits int
	for _, e := range history {
		if now.Sub(e.At) >= a.recentWindow {
			continue
		}
		switch e.Type {
		case EventHit:
			recentHits++
			recent++
		case EventMiss:
			recent++
		}
	}
	if recent > 0 {
		r.RecentHitRate = float64(recentHits) / float64(recent)
	}

	if n := len(history); n > reportEvents {
		history = history[n-reportEvents:]
	}
	r.RecentEvents = history

	r.TopNamespaces = make([]NamespaceCount, 0, len(a.writes))
	for ns, n := range a.writes {
		r.TopNamespaces = append(r.TopNamespaces, NamespaceCount{Namespace: ns, Writes: n})
	}
	sort.Slice(r.TopNamespaces, func(i, j int) bool {
		if r.TopNamespaces[i].Writes != r.TopNamespaces[j].Writes {
			return r.TopNamespaces[i].Writes > r.TopNamespaces[j].Writes
		}
		return r.TopNamespaces[i].Namespace < r.TopNamespaces[j].Namespace
	})
	if len(r.TopNamespaces) > reportNamespaces {
		r.TopNamespaces = r.TopNamespaces[:reportNamespaces]
	}
	return r
}

// history returns the retained events oldest first. Caller holds a.mu.
func (a *Analytics) history() []Event {
	if !a.full {
		return append([]Event(nil), a.events[:a.next]...)
	}
	out := make([]Event, 0, len(a.events))
	out = append(out, a.events[a.next:]...)
	return append(out, a.events[:a.next]...)
}

// Run logs a Report every interval and hands it to fn, if not nil, until ctx
// is done.
func (a *Analytics) Run(ctx context.Context, interval time.Duration, fn func(Report)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r := a.Report()
			a.logger.Info("cache performance analysis",
				"hits", r.Hits,
				"misses", r.Misses,
				"hit_rate", r.HitRate,
				"recent_hit_rate", r.RecentHitRate,
				"avg_load_latency", r.AvgLoadLatency,
				"sets", r.Sets,
			)
			if fn != nil {
				fn(r)
			}
		}
	}
}
