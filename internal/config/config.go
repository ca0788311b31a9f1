// Package config loads outboundd configuration using viper.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/manenim/outbound-guard/pkg/limiter"
	"github.com/manenim/outbound-guard/pkg/retry"
)

const EnvPrefix = "OUTBOUND"

type Config struct {
	Server    ServerConfig     `mapstructure:"server" validate:"required"`
	Logging   LoggingConfig    `mapstructure:"logging" validate:"required"`
	Telemetry TelemetryConfig  `mapstructure:"telemetry" validate:"required"`
	Redis     RedisConfig      `mapstructure:"redis"`
	Limiter   LimiterConfig    `mapstructure:"limiter" validate:"required"`
	Retry     RetryConfig      `mapstructure:"retry" validate:"required"`
	Cache     CacheConfig      `mapstructure:"cache" validate:"required"`
	Upstreams []UpstreamConfig `mapstructure:"upstreams" validate:"dive"`
}

type ServerConfig struct {
	Addr              string        `mapstructure:"addr" validate:"required,hostname_port"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" validate:"min=1s,max=5m"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" validate:"min=100ms,max=1m"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

// TelemetryConfig enables OTLP/HTTP trace export when Endpoint is set.
type TelemetryConfig struct {
	ServiceName  string  `mapstructure:"service_name" validate:"required,min=1,max=100"`
	Endpoint     string  `mapstructure:"endpoint" validate:"omitempty,hostname_port"`
	Insecure     bool    `mapstructure:"insecure"`
	SamplerRatio float64 `mapstructure:"sampler_ratio" validate:"min=0,max=1"`
}

// RedisConfig enables publishing cache reports to Redis.
type RedisConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Addr            string        `mapstructure:"addr" validate:"required_if=Enabled true,omitempty,hostname_port"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db" validate:"min=0,max=15"`
	Key             string        `mapstructure:"key" validate:"required_if=Enabled true"`
	Channel         string        `mapstructure:"channel" validate:"required_if=Enabled true"`
	PublishInterval time.Duration `mapstructure:"publish_interval" validate:"min=1s,max=1h"`
	ReportTTL       time.Duration `mapstructure:"report_ttl" validate:"min=1s,max=24h"`
}

type LimiterConfig struct {
	Shards   int                     `mapstructure:"shards" validate:"min=1,max=4096"`
	Policies map[string]PolicyConfig `mapstructure:"policies" validate:"required,min=1,dive"`
}

type PolicyConfig struct {
	RequestsPerMinute int64         `mapstructure:"requests_per_minute" validate:"min=1"`
	RequestsPerHour   int64         `mapstructure:"requests_per_hour" validate:"min=1"`
	RequestsPerDay    int64         `mapstructure:"requests_per_day" validate:"min=1"`
	Cooldown          time.Duration `mapstructure:"cooldown" validate:"min=0,max=24h"`
}

type RetryConfig struct {
	Jitter        float64        `mapstructure:"jitter" validate:"min=0,max=0.9"`
	DefaultPreset string         `mapstructure:"default_preset" validate:"oneof=default gentle aggressive adaptive"`
	Adaptive      AdaptiveConfig `mapstructure:"adaptive" validate:"required"`
}

type AdaptiveConfig struct {
	Window     int           `mapstructure:"window" validate:"min=1,max=1000"`
	MinSamples int           `mapstructure:"min_samples" validate:"min=1"`
	Floor      time.Duration `mapstructure:"floor" validate:"min=1ms"`
	Ceiling    time.Duration `mapstructure:"ceiling" validate:"min=1ms,max=5m"`
}

type CacheConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"min=0,max=1h"`
	RecentWindow  time.Duration `mapstructure:"recent_window" validate:"min=1s,max=24h"`
	MaxEvents     int           `mapstructure:"max_events" validate:"min=1,max=100000"`
}

// UpstreamConfig is one third-party HTTP API reachable through the proxy.
// Action must name a limiter policy.
type UpstreamConfig struct {
	Name        string        `mapstructure:"name" validate:"required,alphanum"`
	BaseURL     string        `mapstructure:"base_url" validate:"required,url"`
	Action      string        `mapstructure:"action" validate:"required"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl" validate:"min=0,max=24h"`
	RetryPreset string        `mapstructure:"retry_preset" validate:"omitempty,oneof=default gentle aggressive adaptive"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"min=100ms,max=5m"`
}

var configValidator = validator.New()

// Load reads path, or outbound.yaml from the usual locations when path is
// empty, applies OUTBOUND_* environment overrides and validates the result.
// A missing default file is not an error; a missing explicit path is.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("outbound")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/outbound")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	defaultPolicies(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func Validate(cfg *Config) error {
	if err := configValidator.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	if cfg.Retry.Adaptive.Ceiling < cfg.Retry.Adaptive.Floor {
		return fmt.Errorf("adaptive ceiling (%v) cannot be below floor (%v)",
			cfg.Retry.Adaptive.Ceiling, cfg.Retry.Adaptive.Floor)
	}
	if cfg.Retry.Adaptive.MinSamples > cfg.Retry.Adaptive.Window {
		return fmt.Errorf("adaptive min_samples (%d) cannot exceed window (%d)",
			cfg.Retry.Adaptive.MinSamples, cfg.Retry.Adaptive.Window)
	}

	seen := make(map[string]bool, len(cfg.Upstreams))
	for _, u := range cfg.Upstreams {
		if seen[u.Name] {
			return fmt.Errorf("upstream %q is defined more than once", u.Name)
		}
		seen[u.Name] = true
		if _, ok := cfg.Limiter.Policies[u.Action]; !ok {
			return fmt.Errorf("upstream %q uses action %q which has no limiter policy", u.Name, u.Action)
		}
	}
	return nil
}

// Warnings lists settings that are valid but probably unintended.
func Warnings(cfg *Config) []string {
	var out []string
	for _, action := range sortedKeys(cfg.Limiter.Policies) {
		p := cfg.Limiter.Policies[action]
		if p.RequestsPerMinute > p.RequestsPerHour || p.RequestsPerHour > p.RequestsPerDay {
			out = append(out, fmt.Sprintf("policy %q: limits are not ordered minute <= hour <= day", action))
		}
	}
	if cfg.Redis.Enabled && cfg.Redis.ReportTTL < cfg.Redis.PublishInterval {
		out = append(out, "redis report_ttl is shorter than publish_interval; the report will disappear between publishes")
	}
	return out
}

func formatValidationError(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		messages := make([]string, 0, len(validationErrors))
		for _, fieldError := range validationErrors {
			messages = append(messages, fmt.Sprintf("field '%s' failed validation: %s (value: %v)",
				fieldError.Namespace(), fieldError.Tag(), fieldError.Value()))
		}
		return fmt.Errorf("validation errors: %s", strings.Join(messages, "; "))
	}
	return err
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.read_header_timeout", "5s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("telemetry.service_name", "outboundd")
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.sampler_ratio", 1.0)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key", "outbound:cache:report")
	v.SetDefault("redis.channel", "outbound:cache:reports")
	v.SetDefault("redis.publish_interval", "1m")
	v.SetDefault("redis.report_ttl", "5m")

	v.SetDefault("limiter.shards", 32)

	adaptive := retry.DefaultAdaptiveConfig()
	v.SetDefault("retry.jitter", 0.2)
	v.SetDefault("retry.default_preset", "default")
	v.SetDefault("retry.adaptive.window", adaptive.Window)
	v.SetDefault("retry.adaptive.min_samples", adaptive.MinSamples)
	v.SetDefault("retry.adaptive.floor", adaptive.Floor.String())
	v.SetDefault("retry.adaptive.ceiling", adaptive.Ceiling.String())

	v.SetDefault("cache.sweep_interval", "1m")
	v.SetDefault("cache.recent_window", "5m")
	v.SetDefault("cache.max_events", 1000)
}

// defaultPolicies registers the built-in actions only when the file names
// none, so a file that lists its own actions gets exactly those.
func defaultPolicies(v *viper.Viper) {
	if v.IsSet("limiter.policies") {
		return
	}
	policies := make(map[string]any)
	for action, p := range limiter.DefaultPolicies() {
		policies[action] = map[string]any{
			"requests_per_minute": p.RequestsPerMinute,
			"requests_per_hour":   p.RequestsPerHour,
			"requests_per_day":    p.RequestsPerDay,
			"cooldown":            p.Cooldown.String(),
		}
	}
	v.SetDefault("limiter.policies", policies)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
