package retry

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/manenim/outbound-guard/pkg/metrics"
)

const defaultJitter = 0.2

// Option configures a Strategy.
type Option func(*Strategy)

func WithLogger(l *slog.Logger) Option {
	return func(s *Strategy) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRecorder emits "retry.attempt", "retry.exhausted" and "retry.duration".
func WithRecorder(r metrics.Recorder) Option {
	return func(s *Strategy) {
		s.recorder = metrics.OrNoOp(r)
	}
}

// WithTracer starts a "retry.execute" span per call. The default tracer is a
// no-op.
func WithTracer(t trace.Tracer) Option {
	return func(s *Strategy) {
		if t != nil {
			s.tracer = t
		}
	}
}

func WithRandSource(r RandSource) Option {
	return func(s *Strategy) {
		if r != nil {
			s.rand = r
		}
	}
}

// WithJitter sets the jitter fraction, clamped to [0, 1). Zero disables it.
func WithJitter(fraction float64) Option {
	return func(s *Strategy) {
		s.jitter = min(max(fraction, 0), 0.99)
	}
}

// WithClassifier replaces DefaultClassifier for every call.
func WithClassifier(c Classifier) Option {
	return func(s *Strategy) {
		if c != nil {
			s.classify = c
		}
	}
}

func WithAdaptiveConfig(c AdaptiveConfig) Option {
	return func(s *Strategy) {
		s.adaptiveCfg = c
	}
}

// WithDefaultPolicy replaces the policy used by PresetDefault. Invalid
// policies are ignored.
func WithDefaultPolicy(p Policy) Option {
	return func(s *Strategy) {
		if p.Validate() == nil {
			s.defaultPolicy = p
		}
	}
}

type callConfig struct {
	policy   *Policy
	preset   Preset
	category string
	classify Classifier
}

// CallOption configures a single Execute call.
type CallOption func(*callConfig)

// WithPolicy uses p for this call. It takes precedence over WithPreset.
func WithPolicy(p Policy) CallOption {
	return func(c *callConfig) {
		c.policy = &p
	}
}

func WithPreset(p Preset) CallOption {
	return func(c *callConfig) {
		c.preset = p
	}
}

// WithCategory names the operation family for adaptive tuning, metrics and
// logs. It defaults to "default".
func WithCategory(category string) CallOption {
	return func(c *callConfig) {
		if category != "" {
			c.category = category
		}
	}
}

// WithCallClassifier overrides the strategy classifier for this call.
func WithCallClassifier(cl Classifier) CallOption {
	return func(c *callConfig) {
		if cl != nil {
			c.classify = cl
		}
	}
}
