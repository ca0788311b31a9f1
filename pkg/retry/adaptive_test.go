package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAdaptive_NeedsMinimumSamples(t *testing.T) {
	s := New(WithAdaptiveConfig(AdaptiveConfig{MinSamples: 5}))
	for range 4 {
		s.adaptive.record("awin", true)
	}
	assert.Equal(t, AdaptiveBaseline, s.AdaptivePolicy("awin"))
}

func TestAdaptive_NarrowsWhenHealthy(t *testing.T) {
	s := New()
	for range 20 {
		s.adaptive.record("awin", false)
	}

	p := s.AdaptivePolicy("awin")
	assert.Equal(t, AdaptiveBaseline.InitialDelay/2, p.InitialDelay)
	assert.Equal(t, AdaptiveBaseline.MaxAttempts, p.MaxAttempts)
	assert.NoError(t, p.Validate())
}

func TestAdaptive_WidensWhenFailing(t *testing.T) {
	s := New()
	for range 20 {
		s.adaptive.record("godaddy", true)
	}

	p := s.AdaptivePolicy("godaddy")
	assert.Equal(t, time.Duration(float64(AdaptiveBaseline.InitialDelay)*2.5), p.InitialDelay)
	assert.Greater(t, p.InitialDelay, s.AdaptivePolicy("other").InitialDelay)
}

func TestAdaptive_ClampsToFloorAndCeiling(t *testing.T) {
	s := New(WithAdaptiveConfig(AdaptiveConfig{
		Base:    Policy{MaxAttempts: 3, InitialDelay: 100 * time.Millisecond, MaxDelay: 200 * time.Millisecond, BackoffFactor: 2, Timeout: time.Second},
		Floor:   80 * time.Millisecond,
		Ceiling: 220 * time.Millisecond,
	}))

	for range 20 {
		s.adaptive.record("ok", false)
		s.adaptive.record("bad", true)
	}

	assert.Equal(t, 80*time.Millisecond, s.AdaptivePolicy("ok").InitialDelay)

	bad := s.AdaptivePolicy("bad")
	assert.Equal(t, 220*time.Millisecond, bad.InitialDelay)
	assert.Equal(t, 220*time.Millisecond, bad.MaxDelay)
	assert.NoError(t, bad.Validate())
}

func TestAdaptive_WindowForgetsOldOutcomes(t *testing.T) {
	s := New(WithAdaptiveConfig(AdaptiveConfig{Window: 10}))
	for range 10 {
		s.adaptive.record("awin", true)
	}
	for range 10 {
		s.adaptive.record("awin", false)
	}

	rate, n := s.FailureRate("awin")
	assert.Equal(t, 10, n)
	assert.Zero(t, rate)
}
