package retry

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/manenim/outbound-guard/pkg/metrics"
)

const (
	tracerName      = "github.com/manenim/outbound-guard/pkg/retry"
	defaultCategory = "default"
)

// Operation is one attempt. ctx carries the remaining overall budget as its
// deadline.
type Operation[T any] func(ctx context.Context) (T, error)

// Strategy runs operations with jittered exponential backoff under a
// wall-clock budget. It is safe for concurrent use; the only state shared
// between calls is the adaptive failure-rate history.
type Strategy struct {
	defaultPolicy Policy
	jitter        float64
	classify      Classifier
	rand          RandSource
	logger        *slog.Logger
	recorder      metrics.Recorder
	tracer        trace.Tracer
	adaptiveCfg   AdaptiveConfig
	adaptive      *adaptiveTracker
}

func New(opts ...Option) *Strategy {
	s := &Strategy{
		defaultPolicy: Default,
		jitter:        defaultJitter,
		classify:      DefaultClassifier,
		rand:          globalSource{},
		logger:        slog.New(slog.DiscardHandler),
		recorder:      metrics.NoOpRecorder{},
		tracer:        otel.Tracer(tracerName),
		adaptiveCfg:   DefaultAdaptiveConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.adaptive = newAdaptiveTracker(s.adaptiveCfg)
	return s
}

// AdaptivePolicy returns the policy PresetAdaptive would use for category now.
func (s *Strategy) AdaptivePolicy(category string) Policy {
	return s.adaptive.policy(category)
}

// FailureRate returns the share of transient failures among the recent
// attempts of category, and how many attempts that share is based on.
func (s *Strategy) FailureRate(category string) (float64, int) {
	return s.adaptive.rate(category)
}

// Delay returns the wait before retry n (n = 1 precedes the second attempt):
// InitialDelay * BackoffFactor^(n-1) capped at MaxDelay, then jittered and
// capped again.
func (s *Strategy) Delay(p Policy, n int) time.Duration {
	base := float64(p.InitialDelay) * math.Pow(p.BackoffFactor, float64(max(n-1, 0)))
	base = math.Min(base, float64(p.MaxDelay))

	d := base + base*s.jitter*(s.rand.Float64()*2-1)
	d = math.Min(math.Max(d, 0), float64(p.MaxDelay))
	return time.Duration(d)
}

// Run is Execute for operations without a result.
func (s *Strategy) Run(ctx context.Context, op func(ctx context.Context) error, opts ...CallOption) error {
	_, err := Execute(ctx, s, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts...)
	return err
}

// Execute invokes op until it succeeds, fails permanently, runs out of
// attempts or would overrun the policy timeout.
//
// A permanent error is returned unchanged after a single invocation. Running
// out of attempts, time or caller context yields an *ExhaustedError wrapping
// the last failure. A wait that would end past the timeout is never started.
func Execute[T any](ctx context.Context, s *Strategy, op Operation[T], opts ...CallOption) (T, error) {
	var zero T

	cfg := callConfig{category: defaultCategory}
	for _, opt := range opts {
		opt(&cfg)
	}
	p := s.resolve(cfg)
	if err := p.Validate(); err != nil {
		return zero, err
	}
	classify := s.classify
	if cfg.classify != nil {
		classify = cfg.classify
	}

	execID := uuid.NewString()
	ctx, span := s.tracer.Start(ctx, "retry.execute", trace.WithAttributes(
		attribute.String("retry.execution_id", execID),
		attribute.String("retry.category", cfg.category),
		attribute.String("retry.preset", cfg.preset.String()),
		attribute.Int("retry.max_attempts", p.MaxAttempts),
	))
	defer span.End()

	log := s.logger.With("execution_id", execID, "category", cfg.category)
	start := time.Now()
	deadline := start.Add(p.Timeout)
	attemptCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	run := &execution{s: s, span: span, log: log, category: cfg.category, start: start}

	var lastErr error
	for attempt := 1; ; attempt++ {
		if attempt > 1 {
			delay := s.Delay(p, attempt-1)
			if delay > time.Until(deadline) {
				return zero, run.exhausted(ReasonTimeout, attempt-1, lastErr)
			}
			log.Warn("operation failed, retrying",
				"attempt", attempt-1,
				"max_attempts", p.MaxAttempts,
				"next_delay", delay,
				"error", lastErr,
			)
			span.AddEvent("retry.wait", trace.WithAttributes(
				attribute.Int("retry.attempt", attempt-1),
				attribute.Int64("retry.delay_ms", delay.Milliseconds()),
			))
			if err := wait(ctx, delay); err != nil {
				return zero, run.exhausted(ReasonCanceled, attempt-1, lastErr)
			}
		}

		result, err := op(attemptCtx)
		if err == nil {
			s.adaptive.record(cfg.category, false)
			run.attempt("success")
			if attempt > 1 {
				log.Info("operation succeeded after retry", "attempt", attempt)
			}
			span.SetAttributes(attribute.Int("retry.attempts", attempt))
			run.done()
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, run.exhausted(ReasonCanceled, attempt, err)
		}

		if !isTransient(classify, err) {
			run.attempt("permanent")
			log.Error("operation failed permanently", "attempt", attempt, "error", err)
			span.SetAttributes(attribute.Int("retry.attempts", attempt))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			run.done()
			return zero, err
		}

		s.adaptive.record(cfg.category, true)
		run.attempt("transient")

		if attempt >= p.MaxAttempts {
			return zero, run.exhausted(ReasonAttempts, attempt, err)
		}
		if !time.Now().Before(deadline) {
			return zero, run.exhausted(ReasonTimeout, attempt, err)
		}
	}
}

// isTransient lets Transient and Permanent markers override any classifier.
func isTransient(classify Classifier, err error) bool {
	if transient, ok := markedVerdict(err); ok {
		return transient
	}
	return classify(err)
}

func (s *Strategy) resolve(cfg callConfig) Policy {
	if cfg.policy != nil {
		return *cfg.policy
	}
	switch cfg.preset {
	case PresetGentle:
		return Gentle
	case PresetAggressive:
		return Aggressive
	case PresetAdaptive:
		return s.adaptive.policy(cfg.category)
	default:
		return s.defaultPolicy
	}
}

// execution carries the per-call observability state.
type execution struct {
	s        *Strategy
	span     trace.Span
	log      *slog.Logger
	category string
	start    time.Time
}

func (e *execution) attempt(outcome string) {
	e.s.recorder.Add("retry.attempt", 1, map[string]string{"category": e.category, "outcome": outcome})
}

func (e *execution) done() {
	e.s.recorder.Observe("retry.duration", time.Since(e.start).Seconds(), map[string]string{"category": e.category})
}

func (e *execution) exhausted(reason Reason, attempts int, last error) error {
	err := &ExhaustedError{
		Reason:   reason,
		Attempts: attempts,
		Elapsed:  time.Since(e.start),
		Err:      last,
	}
	e.log.Error("retry exhausted",
		"reason", reason.String(),
		"attempts", attempts,
		"elapsed", err.Elapsed,
		"error", last,
	)
	e.s.recorder.Add("retry.exhausted", 1, map[string]string{"category": e.category, "reason": reason.String()})
	e.span.SetAttributes(
		attribute.Int("retry.attempts", attempts),
		attribute.String("retry.exhausted_reason", reason.String()),
	)
	e.span.RecordError(err)
	e.span.SetStatus(codes.Error, err.Error())
	e.done()
	return err
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsExhausted reports whether err is an *ExhaustedError and returns it.
func IsExhausted(err error) (*ExhaustedError, bool) {
	var ex *ExhaustedError
	if errors.As(err, &ex) {
		return ex, true
	}
	return nil, false
}
