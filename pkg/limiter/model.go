package limiter

import (
	"time"
)

// Identity names the counter a request is charged to: the Action selects the
// policy, the Key names the target within it (a network, a merchant id, an
// account).
type Identity struct {
	Action string
	Key    string
}

// String is for logs and errors only; counters are keyed by the struct.
func (id Identity) String() string {
	return id.Action + ":" + id.Key
}

// Reason explains a denial. Windows are checked before the cooldown, so a
// request blocked by both reports the window.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonMinute
	ReasonHour
	ReasonDay
	ReasonCooldown
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonMinute:
		return "minute"
	case ReasonHour:
		return "hour"
	case ReasonDay:
		return "day"
	case ReasonCooldown:
		return "cooldown"
	default:
		return "unknown"
	}
}

type Decision struct {
	Allow      bool
	Reason     Reason
	Remaining  int64
	RetryAfter time.Duration
	ResetTime  time.Time
}

// LimitStatus is the operator view of one counter.
type LimitStatus struct {
	Identity        Identity
	Policy          Policy
	RemainingMinute int64
	RemainingHour   int64
	RemainingDay    int64
	Remaining       int64
	RetryAfter      time.Duration
	NextAllowedAt   time.Time
}

type RateLimiter interface {
	TryAcquire(id Identity) (Decision, error)
}
