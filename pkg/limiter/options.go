package limiter

import (
	"log/slog"
	"time"

	"github.com/manenim/outbound-guard/pkg/metrics"
)

const defaultShards = 32

type Option func(*MemoryLimiter)

// WithClock replaces time.Now. Tests use it to step through exact instants.
func WithClock(now func() time.Time) Option {
	return func(m *MemoryLimiter) {
		if now != nil {
			m.now = now
		}
	}
}

// WithRecorder injects a metrics backend.
func WithRecorder(r metrics.Recorder) Option {
	return func(m *MemoryLimiter) { m.recorder = metrics.OrNoOp(r) }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *MemoryLimiter) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithShards sets the number of independently locked counter shards.
func WithShards(n int) Option {
	return func(m *MemoryLimiter) {
		if n > 0 {
			m.shardCount = n
		}
	}
}

// WithPolicies registers policies at construction. Invalid entries are
// skipped and logged; use SetConfig to get the error.
func WithPolicies(policies map[string]Policy) Option {
	return func(m *MemoryLimiter) {
		for action, p := range policies {
			m.initial[action] = p
		}
	}
}
