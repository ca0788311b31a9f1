package config

import (
	"fmt"

	"github.com/manenim/outbound-guard/pkg/limiter"
	"github.com/manenim/outbound-guard/pkg/retry"
)

func (p PolicyConfig) Policy() limiter.Policy {
	return limiter.Policy{
		RequestsPerMinute: p.RequestsPerMinute,
		RequestsPerHour:   p.RequestsPerHour,
		RequestsPerDay:    p.RequestsPerDay,
		Cooldown:          p.Cooldown,
	}
}

func (c LimiterConfig) LimiterPolicies() map[string]limiter.Policy {
	out := make(map[string]limiter.Policy, len(c.Policies))
	for action, p := range c.Policies {
		out[action] = p.Policy()
	}
	return out
}

func (c RetryConfig) AdaptiveConfig() retry.AdaptiveConfig {
	return retry.AdaptiveConfig{
		Base:       retry.AdaptiveBaseline,
		Window:     c.Adaptive.Window,
		MinSamples: c.Adaptive.MinSamples,
		Floor:      c.Adaptive.Floor,
		Ceiling:    c.Adaptive.Ceiling,
	}
}

// Preset parses DefaultPreset. Validation guarantees it is known.
func (c RetryConfig) Preset() retry.Preset {
	p, _ := retry.ParsePreset(c.DefaultPreset)
	return p
}

// PolicySetter is the part of the limiter a reload needs.
type PolicySetter interface {
	SetConfig(action string, p limiter.Policy) error
}

// ApplyPolicies pushes every configured policy to l. Actions removed from
// the file keep their last policy; the limiter has no removal operation.
func ApplyPolicies(l PolicySetter, cfg *Config) error {
	for _, action := range sortedKeys(cfg.Limiter.Policies) {
		if err := l.SetConfig(action, cfg.Limiter.Policies[action].Policy()); err != nil {
			return fmt.Errorf("apply limiter policy: %w", err)
		}
	}
	return nil
}
