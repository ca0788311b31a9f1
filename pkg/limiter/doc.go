// Package limiter provides in-process rate limiting for outbound calls to
// quota-constrained third-party APIs, based on exact sliding windows.
//
// The primary entry point is TryAcquire:
//
//	dec, err := l.TryAcquire(limiter.Identity{Action: "network_read", Key: "awin"})
//
// The returned Decision says whether the call may proceed, how much of the
// tightest budget remains, and how long to wait when it may not.
//
// # Overview
//
// Every logical action (for example "network_read" or "registrar_call") has a
// Policy with three rolling windows and a cooldown:
//
//   - RequestsPerMinute, RequestsPerHour, RequestsPerDay: the maximum number
//     of accepted requests in the trailing 60s, 1h and 24h.
//   - Cooldown: the minimum spacing between two accepted requests for the
//     same identity.
//
// Identity defines "who" is being rate-limited. It is split into:
//
//   - Action: selects the policy
//   - Key: the target within that action (for example a network name or a
//     merchant id)
//
// # Algorithm
//
// Each identity keeps the timestamps of its accepted requests. A request is
// admitted when, counting only timestamps strictly inside each window, every
// count is below its limit and the cooldown has elapsed. On admission the
// timestamp is appended and anything older than 24h is dropped, so memory
// per identity is bounded by RequestsPerDay.
//
// Counting from exact timestamps means a request is never double counted or
// dropped when it crosses a window boundary, unlike periodic counter resets.
//
// # Check and Record
//
// Allow is a pure check and Record charges a request unconditionally. They
// exist separately so dashboards can ask without committing. Callers that
// issue requests should use TryAcquire, which does both under one lock.
//
// # Configuration Errors
//
// Using an action without a registered policy returns a *ConfigurationError
// (errors.Is(err, ErrUnknownAction)). The limiter fails closed: it never
// admits a request it has no policy for.
//
// # Hot Reconfiguration
//
// SetConfig replaces a policy at runtime. History is kept, so an identity is
// judged by the new limits on its next call.
//
// # Concurrency
//
// MemoryLimiter is safe for concurrent use. Identities are spread over
// independently locked shards chosen by xxhash, so TryAcquire on one
// identity is atomic and unrelated identities rarely contend. The limiter
// never blocks waiting for quota; denial is returned immediately and the
// caller decides whether to queue, skip or surface it.
//
// State is process-local and lost on restart. It does not coordinate across
// replicas.
//
// # Configuration
//
// MemoryLimiter is configured using the Functional Options pattern:
//
//	l := limiter.NewMemoryLimiter(
//		limiter.WithPolicies(limiter.DefaultPolicies()),
//		limiter.WithRecorder(rec),
//		limiter.WithLogger(logger),
//	)
//
// Supported options:
//
//   - WithPolicies(map[string]Policy): registers policies at construction.
//   - WithRecorder(metrics.Recorder): emits "ratelimit.call" and
//     "ratelimit.latency" from TryAcquire.
//   - WithLogger(*slog.Logger): policy changes at info, denials at debug.
//   - WithClock(func() time.Time): replaces time.Now.
//   - WithShards(int): number of lock shards (default 32).
package limiter
