package outbound

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/manenim/outbound-guard/pkg/cache"
	"github.com/manenim/outbound-guard/pkg/limiter"
	"github.com/manenim/outbound-guard/pkg/retry"
)

// Request describes one outbound call.
type Request struct {
	// Action selects the rate limit policy and Key the target within it.
	Action string
	Key    string

	// Category groups calls for adaptive retry and metrics. Defaults to
	// Action.
	Category   string
	Preset     retry.Preset
	Policy     *retry.Policy
	Classifier retry.Classifier

	// CacheKey enables memoization when set and the client has a cache.
	CacheKey string
	CacheTTL time.Duration
}

// Client composes a rate limiter, a retry strategy and an optional cache in
// the order every outbound call needs: cached result, then permission, then
// retried execution.
type Client struct {
	limiter limiter.RateLimiter
	retry   *retry.Strategy
	cache   *cache.TTLCache[string, any]
	logger  *slog.Logger
}

type Option func(*Client)

func WithRetry(s *retry.Strategy) Option {
	return func(c *Client) {
		if s != nil {
			c.retry = s
		}
	}
}

func WithCache(tc *cache.TTLCache[string, any]) Option {
	return func(c *Client) { c.cache = tc }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func NewClient(l limiter.RateLimiter, opts ...Option) *Client {
	c := &Client{
		limiter: l,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry == nil {
		c.retry = retry.New(retry.WithLogger(c.logger))
	}
	return c
}

// Call runs op for req. A live cache entry is returned without consulting
// the limiter. Otherwise one limiter slot is taken for the whole retried
// call; a denial returns *RateLimitedError without invoking op.
func Call[T any](ctx context.Context, c *Client, req Request, op retry.Operation[T]) (T, error) {
	var zero T

	cacheable := c.cache != nil && req.CacheKey != "" && req.CacheTTL > 0
	if cacheable {
		if v, ok := c.cache.Get(req.CacheKey); ok {
			if typed, ok := v.(T); ok {
				return typed, nil
			}
			c.logger.Warn("cached value has unexpected type", "cache_key", req.CacheKey, "type", fmt.Sprintf("%T", v))
		}
	}

	id := limiter.Identity{Action: req.Action, Key: req.Key}
	dec, err := c.limiter.TryAcquire(id)
	if err != nil {
		return zero, err
	}
	if !dec.Allow {
		return zero, &RateLimitedError{Identity: id, Decision: dec}
	}

	category := req.Category
	if category == "" {
		category = req.Action
	}
	opts := []retry.CallOption{retry.WithCategory(category), retry.WithPreset(req.Preset)}
	if req.Policy != nil {
		opts = append(opts, retry.WithPolicy(*req.Policy))
	}
	if req.Classifier != nil {
		opts = append(opts, retry.WithCallClassifier(req.Classifier))
	}

	v, err := retry.Execute(ctx, c.retry, op, opts...)
	if err != nil {
		return zero, err
	}
	if cacheable {
		c.cache.Set(req.CacheKey, v, req.CacheTTL)
	}
	return v, nil
}

// CacheKey derives a deterministic key from the action and the call
// parameters. Map keys are sorted by the JSON encoding, so equal parameter
// sets give equal keys.
func CacheKey(action string, params any) (string, error) {
	b, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("cache key for %q: %w", action, err)
	}
	return fmt.Sprintf("%s:%016x", action, xxhash.Sum64(b)), nil
}
