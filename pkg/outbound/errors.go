package outbound

import (
	"errors"
	"fmt"
	"time"

	"github.com/manenim/outbound-guard/pkg/limiter"
)

var ErrRateLimited = errors.New("rate limited")

// RateLimitedError is returned when the limiter denies a call. It is a
// normal outcome: the caller decides whether to wait, queue or skip.
type RateLimitedError struct {
	Identity limiter.Identity
	Decision limiter.Decision
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: %s (%s), retry after %v",
		e.Identity, e.Decision.Reason, e.Decision.RetryAfter.Round(time.Millisecond))
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// RetryAfter returns how long the caller should wait before trying again.
func (e *RateLimitedError) RetryAfter() time.Duration { return e.Decision.RetryAfter }
