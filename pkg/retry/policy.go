package retry

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidPolicy = errors.New("retry: invalid policy")

// Policy bounds one Execute call. Timeout is the wall-clock budget for all
// attempts and waits combined.
type Policy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Timeout       time.Duration
}

func (p Policy) Validate() error {
	switch {
	case p.MaxAttempts < 1:
		return fmt.Errorf("%w: max attempts must be at least 1, got %d", ErrInvalidPolicy, p.MaxAttempts)
	case p.InitialDelay <= 0:
		return fmt.Errorf("%w: initial delay must be positive, got %v", ErrInvalidPolicy, p.InitialDelay)
	case p.MaxDelay < p.InitialDelay:
		return fmt.Errorf("%w: max delay %v is below initial delay %v", ErrInvalidPolicy, p.MaxDelay, p.InitialDelay)
	case p.BackoffFactor <= 1:
		return fmt.Errorf("%w: backoff factor must be greater than 1, got %v", ErrInvalidPolicy, p.BackoffFactor)
	case p.Timeout <= 0:
		return fmt.Errorf("%w: timeout must be positive, got %v", ErrInvalidPolicy, p.Timeout)
	}
	return nil
}

var (
	Default = Policy{
		MaxAttempts:   3,
		InitialDelay:  time.Second,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2,
		Timeout:       30 * time.Second,
	}

	// Gentle makes few attempts with long waits, for APIs that punish bursts.
	Gentle = Policy{
		MaxAttempts:   3,
		InitialDelay:  2 * time.Second,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2.5,
		Timeout:       30 * time.Second,
	}

	// Aggressive retries often with short waits, for cheap idempotent reads.
	Aggressive = Policy{
		MaxAttempts:   7,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 1.2,
		Timeout:       30 * time.Second,
	}

	// AdaptiveBaseline is the starting point the adaptive preset tunes.
	AdaptiveBaseline = Policy{
		MaxAttempts:   5,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 1.5,
		Timeout:       30 * time.Second,
	}
)

type Preset int

const (
	PresetDefault Preset = iota
	PresetGentle
	PresetAggressive
	PresetAdaptive
)

func (p Preset) String() string {
	switch p {
	case PresetDefault:
		return "default"
	case PresetGentle:
		return "gentle"
	case PresetAggressive:
		return "aggressive"
	case PresetAdaptive:
		return "adaptive"
	default:
		return "unknown"
	}
}

// ParsePreset accepts the names returned by Preset.String. The empty string
// is PresetDefault.
func ParsePreset(name string) (Preset, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "default":
		return PresetDefault, nil
	case "gentle":
		return PresetGentle, nil
	case "aggressive":
		return PresetAggressive, nil
	case "adaptive":
		return PresetAdaptive, nil
	}
	return PresetDefault, fmt.Errorf("retry: unknown preset %q", name)
}
