package limiter

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/manenim/outbound-guard/pkg/metrics"
)

// counter keeps the accepted request timestamps for one identity, oldest
// first, trimmed to the longest window.
type counter struct {
	stamps        []time.Time
	nextAllowedAt time.Time
}

type shard struct {
	mu       sync.Mutex
	counters map[Identity]*counter
}

// MemoryLimiter is an in-process sliding-window rate limiter.
//
// It is safe for concurrent use by multiple goroutines. Counters are spread
// over independently locked shards, so check-and-record on one identity is
// atomic while unrelated identities rarely contend. State is local to the
// process and lost on restart.
type MemoryLimiter struct {
	now        func() time.Time
	recorder   metrics.Recorder
	logger     *slog.Logger
	shardCount int
	initial    map[string]Policy

	policyMu sync.RWMutex
	policies map[string]Policy

	shards []*shard
}

// NewMemoryLimiter constructs a MemoryLimiter with no counters.
func NewMemoryLimiter(opts ...Option) *MemoryLimiter {
	m := &MemoryLimiter{
		now:        time.Now,
		recorder:   metrics.NoOpRecorder{},
		logger:     slog.New(slog.DiscardHandler),
		shardCount: defaultShards,
		initial:    make(map[string]Policy),
		policies:   make(map[string]Policy),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.shards = make([]*shard, m.shardCount)
	for i := range m.shards {
		m.shards[i] = &shard{counters: make(map[Identity]*counter)}
	}

	for action, p := range m.initial {
		if err := m.SetConfig(action, p); err != nil {
			m.logger.Warn("skipping invalid rate limit policy", "action", action, "error", err)
		}
	}
	m.initial = nil
	return m
}

// SetConfig registers or replaces the policy for action. Existing history is
// kept, so identities already in flight are judged by the new policy on their
// next call.
func (m *MemoryLimiter) SetConfig(action string, p Policy) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("action %q: %w", action, err)
	}

	m.policyMu.Lock()
	_, replaced := m.policies[action]
	m.policies[action] = p
	m.policyMu.Unlock()

	m.logger.Info("rate limit policy set",
		"action", action,
		"replaced", replaced,
		"per_minute", p.RequestsPerMinute,
		"per_hour", p.RequestsPerHour,
		"per_day", p.RequestsPerDay,
		"cooldown", p.Cooldown,
	)
	return nil
}

// Policy returns the policy registered for action.
func (m *MemoryLimiter) Policy(action string) (Policy, bool) {
	m.policyMu.RLock()
	defer m.policyMu.RUnlock()
	p, ok := m.policies[action]
	return p, ok
}

// Policies returns a snapshot of every registered policy.
func (m *MemoryLimiter) Policies() map[string]Policy {
	m.policyMu.RLock()
	defer m.policyMu.RUnlock()
	out := make(map[string]Policy, len(m.policies))
	for k, v := range m.policies {
		out[k] = v
	}
	return out
}

func (m *MemoryLimiter) policy(action string) (Policy, error) {
	p, ok := m.Policy(action)
	if !ok {
		return Policy{}, &ConfigurationError{Action: action}
	}
	return p, nil
}

// shardFor hashes both fields, so ("a:b", "c") and ("a", "b:c") are
// distinct identities that may still share a shard.
func (m *MemoryLimiter) shardFor(id Identity) *shard {
	d := xxhash.New()
	_, _ = d.WriteString(id.Action)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(id.Key)
	return m.shards[d.Sum64()%uint64(len(m.shards))]
}

// Allow reports whether a request for id would be admitted now. It never
// changes state; Remaining is computed as if the request were admitted.
func (m *MemoryLimiter) Allow(id Identity) (Decision, error) {
	p, err := m.policy(id.Action)
	if err != nil {
		return Decision{}, err
	}

	s := m.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	return evaluate(s.counters[id], p, m.now()), nil
}

// Record charges one request to id unconditionally. Call it only after the
// request was really issued; TryAcquire is the race-free alternative.
func (m *MemoryLimiter) Record(id Identity) error {
	p, err := m.policy(id.Action)
	if err != nil {
		return err
	}

	s := m.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.counters[id]
	if c == nil {
		c = &counter{}
		s.counters[id] = c
	}
	c.add(m.now(), p)
	return nil
}

// TryAcquire checks and records in one step. Two concurrent callers for the
// same identity never both take the last slot.
func (m *MemoryLimiter) TryAcquire(id Identity) (Decision, error) {
	start := time.Now()

	p, err := m.policy(id.Action)
	if err != nil {
		m.recorder.Add("ratelimit.call", 1, map[string]string{"action": id.Action, "outcome": "error", "reason": "config"})
		return Decision{}, err
	}

	s := m.shardFor(id)
	s.mu.Lock()
	now := m.now()
	c := s.counters[id]
	dec := evaluate(c, p, now)
	if dec.Allow {
		if c == nil {
			c = &counter{}
			s.counters[id] = c
		}
		c.add(now, p)
	}
	s.mu.Unlock()

	outcome := "allowed"
	if !dec.Allow {
		outcome = "denied"
		m.logger.Debug("rate limited",
			"action", id.Action,
			"key", id.Key,
			"reason", dec.Reason.String(),
			"retry_after", dec.RetryAfter,
		)
	}
	m.recorder.Add("ratelimit.call", 1, map[string]string{"action": id.Action, "outcome": outcome, "reason": dec.Reason.String()})
	m.recorder.Observe("ratelimit.latency", time.Since(start).Seconds(), map[string]string{"action": id.Action})
	return dec, nil
}

// Status reports the remaining quota of every window and the time until the
// next call would be admitted. Unknown identities report a full budget.
func (m *MemoryLimiter) Status(id Identity) (LimitStatus, error) {
	p, err := m.policy(id.Action)
	if err != nil {
		return LimitStatus{}, err
	}

	s := m.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := m.now()
	c := s.counters[id]
	var stamps []time.Time
	var next time.Time
	if c != nil {
		stamps = c.stamps
		next = c.nextAllowedAt
	}

	st := LimitStatus{Identity: id, Policy: p, NextAllowedAt: next}
	remaining := [3]int64{}
	for i, w := range p.windows() {
		remaining[i] = max(w.limit-countWithin(stamps, now, w.span), 0)
	}
	st.RemainingMinute, st.RemainingHour, st.RemainingDay = remaining[0], remaining[1], remaining[2]
	st.Remaining = min(remaining[0], remaining[1], remaining[2])

	if dec := evaluate(c, p, now); !dec.Allow {
		st.RetryAfter = dec.RetryAfter
	}
	return st, nil
}

// Reset clears the history of one identity.
func (m *MemoryLimiter) Reset(id Identity) {
	s := m.shardFor(id)
	s.mu.Lock()
	delete(s.counters, id)
	s.mu.Unlock()
}

// ResetAll clears every identity. Policies are kept.
func (m *MemoryLimiter) ResetAll() {
	for _, s := range m.shards {
		s.mu.Lock()
		s.counters = make(map[Identity]*counter)
		s.mu.Unlock()
	}
}

// Prune drops counters whose history has aged out and whose cooldown has
// passed. Such a counter is indistinguishable from one never created.
func (m *MemoryLimiter) Prune() int {
	removed := 0
	for _, s := range m.shards {
		s.mu.Lock()
		now := m.now()
		for key, c := range s.counters {
			c.trim(now)
			if len(c.stamps) == 0 && !now.Before(c.nextAllowedAt) {
				delete(s.counters, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	if removed > 0 {
		m.logger.Debug("pruned idle rate limit counters", "removed", removed)
	}
	return removed
}

// Len returns the number of live counters.
func (m *MemoryLimiter) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.Lock()
		n += len(s.counters)
		s.mu.Unlock()
	}
	return n
}

func evaluate(c *counter, p Policy, now time.Time) Decision {
	var stamps []time.Time
	var next time.Time
	if c != nil {
		stamps = c.stamps
		next = c.nextAllowedAt
	}

	dec := Decision{Allow: true, Remaining: math.MaxInt64, ResetTime: now}
	var wait time.Duration

	for _, w := range p.windows() {
		n := countWithin(stamps, now, w.span)
		remaining := w.limit - n
		if remaining <= 0 {
			if dec.Allow {
				dec.Allow = false
				dec.Reason = w.reason
			}
			// Once this entry leaves the window the count drops below the limit.
			oldest := stamps[len(stamps)-int(w.limit)]
			wait = max(wait, oldest.Add(w.span).Sub(now))
			remaining = 0
		}
		dec.Remaining = min(dec.Remaining, remaining)
	}

	if now.Before(next) {
		if dec.Allow {
			dec.Allow = false
			dec.Reason = ReasonCooldown
		}
		wait = max(wait, next.Sub(now))
	}

	if dec.Allow {
		dec.Remaining--
		return dec
	}
	dec.RetryAfter = wait
	dec.ResetTime = now.Add(wait)
	return dec
}

// countWithin counts timestamps strictly within span before now.
func countWithin(stamps []time.Time, now time.Time, span time.Duration) int64 {
	cutoff := now.Add(-span)
	i := sort.Search(len(stamps), func(i int) bool { return stamps[i].After(cutoff) })
	return int64(len(stamps) - i)
}

func (c *counter) add(now time.Time, p Policy) {
	if n := len(c.stamps); n > 0 && now.Before(c.stamps[n-1]) {
		now = c.stamps[n-1]
	}
	c.stamps = append(c.stamps, now)
	c.nextAllowedAt = now.Add(p.Cooldown)
	c.trim(now)
}

func (c *counter) trim(now time.Time) {
	cutoff := now.Add(-dayWindow)
	i := sort.Search(len(c.stamps), func(i int) bool { return c.stamps[i].After(cutoff) })
	if i > 0 {
		c.stamps = append(c.stamps[:0], c.stamps[i:]...)
	}
}
