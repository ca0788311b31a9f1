// Package retry runs outbound operations with bounded, jittered exponential
// backoff under an overall time budget.
//
//	s := retry.New(retry.WithLogger(logger))
//	body, err := retry.Execute(ctx, s, fetch, retry.WithPreset(retry.PresetGentle))
//
// # Delays
//
// The wait before retry n is InitialDelay * BackoffFactor^(n-1), capped at
// MaxDelay, then moved by a random ±20% (see WithJitter) so callers that
// failed together do not retry together. A wait that would end after
// Policy.Timeout is not started: Execute returns an *ExhaustedError with
// ReasonTimeout straight away. Running out of attempts gives ReasonAttempts
// and caller cancellation gives ReasonCanceled.
//
// # Classification
//
// Only transient failures are retried. DefaultClassifier knows network
// timeouts, connection resets, HTTP 429/5xx (*HTTPError) and the retryable
// gRPC codes. Wrap an error with Transient or Permanent to override it, or
// pass a Classifier (AnyOf composes them). Permanent errors come back
// unchanged after one attempt.
//
// # Presets
//
// Default, Gentle and Aggressive are fixed policies. Adaptive starts from
// AdaptiveBaseline and scales InitialDelay by the recent transient-failure
// rate of the call's category (WithCategory), within a floor and ceiling.
package retry
