package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultReportKey     = "outbound:cache:report"
	DefaultReportChannel = "outbound:cache:reports"
)

// Publisher exports Analytics reports to Redis for dashboards outside the
// process: the latest report is SET under a key with a TTL and PUBLISHed on
// a channel. Nothing is ever read back.
type Publisher struct {
	client    redis.UniversalClient
	analytics *Analytics
	logger    *slog.Logger
	key       string
	channel   string
	ttl       time.Duration
	interval  time.Duration
}

type PublisherOption func(*Publisher)

func WithReportKey(key string) PublisherOption {
	return func(p *Publisher) {
		if key != "" {
			p.key = key
		}
	}
}

func WithReportChannel(channel string) PublisherOption {
	return func(p *Publisher) {
		if channel != "" {
			p.channel = channel
		}
	}
}

// WithReportTTL bounds how long a stale report stays readable if the
// process stops publishing.
func WithReportTTL(ttl time.Duration) PublisherOption {
	return func(p *Publisher) {
		if ttl > 0 {
			p.ttl = ttl
		}
	}
}

func WithPublishInterval(d time.Duration) PublisherOption {
	return func(p *Publisher) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithPublisherLogger(l *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPublisher checks that Redis answers before returning.
func NewPublisher(ctx context.Context, client redis.UniversalClient, a *Analytics, opts ...PublisherOption) (*Publisher, error) {
	p := &Publisher{
		client:    client,
		analytics: a,
		logger:    slog.New(slog.DiscardHandler),
		key:       DefaultReportKey,
		channel:   DefaultReportChannel,
		ttl:       5 * time.Minute,
		interval:  time.Minute,
	}
	for _, opt := range opts {
		opt(p)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache publisher: ping redis: %w", err)
	}
	return p, nil
}

// Publish writes the current report.
func (p *Publisher) Publish(ctx context.Context) error {
	body, err := json.Marshal(p.analytics.Report())
	if err != nil {
		return fmt.Errorf("cache publisher: encode report: %w", err)
	}

	pipe := p.client.TxPipeline()
	pipe.Set(ctx, p.key, body, p.ttl)
	pipe.Publish(ctx, p.channel, body)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache publisher: %w", err)
	}
	return nil
}

// Run publishes every interval until ctx is done. Failures are logged and
// the next tick tries again.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Publish(ctx); err != nil {
				p.logger.Warn("cache report publish failed", "key", p.key, "error", err)
			}
		}
	}
}
