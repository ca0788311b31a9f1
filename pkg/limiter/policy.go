package limiter

import (
	"fmt"
	"time"
)

const (
	minuteWindow = time.Minute
	hourWindow   = time.Hour
	dayWindow    = 24 * time.Hour
)

// Policy bounds one action. Each limit caps accepted requests in its trailing
// window; Cooldown is the minimum spacing between two accepted requests for
// the same identity. Minute ≤ Hour ≤ Day is expected but not enforced.
type Policy struct {
	RequestsPerMinute int64
	RequestsPerHour   int64
	RequestsPerDay    int64
	Cooldown          time.Duration
}

// Validate reports a policy the limiter cannot enforce.
func (p Policy) Validate() error {
	switch {
	case p.RequestsPerMinute <= 0:
		return fmt.Errorf("%w: requests per minute must be positive, got %d", ErrInvalidPolicy, p.RequestsPerMinute)
	case p.RequestsPerHour <= 0:
		return fmt.Errorf("%w: requests per hour must be positive, got %d", ErrInvalidPolicy, p.RequestsPerHour)
	case p.RequestsPerDay <= 0:
		return fmt.Errorf("%w: requests per day must be positive, got %d", ErrInvalidPolicy, p.RequestsPerDay)
	case p.Cooldown < 0:
		return fmt.Errorf("%w: cooldown must not be negative, got %v", ErrInvalidPolicy, p.Cooldown)
	}
	return nil
}

type window struct {
	span   time.Duration
	limit  int64
	reason Reason
}

func (p Policy) windows() [3]window {
	return [3]window{
		{span: minuteWindow, limit: p.RequestsPerMinute, reason: ReasonMinute},
		{span: hourWindow, limit: p.RequestsPerHour, reason: ReasonHour},
		{span: dayWindow, limit: p.RequestsPerDay, reason: ReasonDay},
	}
}

// DefaultPolicies returns the built-in actions: reads against a partner API,
// writes against it, and calls to a domain registrar.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		"network_read": {
			RequestsPerMinute: 30,
			RequestsPerHour:   300,
			RequestsPerDay:    1000,
			Cooldown:          time.Second,
		},
		"network_write": {
			RequestsPerMinute: 1,
			RequestsPerHour:   10,
			RequestsPerDay:    50,
			Cooldown:          30 * time.Second,
		},
		"registrar_call": {
			RequestsPerMinute: 1,
			RequestsPerHour:   5,
			RequestsPerDay:    20,
			Cooldown:          time.Minute,
		},
	}
}
