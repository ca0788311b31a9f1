package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/manenim/outbound-guard/internal/config"
	"github.com/manenim/outbound-guard/internal/connector"
	"github.com/manenim/outbound-guard/internal/httpapi"
	"github.com/manenim/outbound-guard/internal/telemetry"
	"github.com/manenim/outbound-guard/pkg/cache"
	"github.com/manenim/outbound-guard/pkg/limiter"
	"github.com/manenim/outbound-guard/pkg/metrics"
	"github.com/manenim/outbound-guard/pkg/outbound"
	"github.com/manenim/outbound-guard/pkg/retry"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file (default: outbound.yaml in ., ./configs or /etc/outbound)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintln(os.Stderr, "outboundd:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := telemetry.NewLogger(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)
	for _, w := range config.Warnings(cfg) {
		logger.Warn("config warning", "warning", w)
	}

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TracingConfig{
		ServiceName:  cfg.Telemetry.ServiceName,
		Endpoint:     cfg.Telemetry.Endpoint,
		Insecure:     cfg.Telemetry.Insecure,
		SamplerRatio: cfg.Telemetry.SamplerRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewPrometheusRecorder("outbound", reg)

	lim := limiter.NewMemoryLimiter(
		limiter.WithShards(cfg.Limiter.Shards),
		limiter.WithPolicies(cfg.Limiter.LimiterPolicies()),
		limiter.WithRecorder(recorder),
		limiter.WithLogger(logger.With("component", "limiter")),
	)

	strategy := retry.New(
		retry.WithJitter(cfg.Retry.Jitter),
		retry.WithAdaptiveConfig(cfg.Retry.AdaptiveConfig()),
		retry.WithRecorder(recorder),
		retry.WithLogger(logger.With("component", "retry")),
	)

	analytics := cache.NewAnalytics(
		cache.WithRecentWindow(cfg.Cache.RecentWindow),
		cache.WithMaxEvents(cfg.Cache.MaxEvents),
		cache.WithAnalyticsRecorder(recorder),
		cache.WithAnalyticsLogger(logger.With("component", "cache")),
	)
	responses := cache.New[string, any](
		cache.WithNamespace("upstream"),
		cache.WithAnalytics(analytics),
		cache.WithLogger(logger.With("component", "cache")),
	)
	responses.StartSweeper(cfg.Cache.SweepInterval)
	defer responses.Close()

	client := outbound.NewClient(lim,
		outbound.WithRetry(strategy),
		outbound.WithCache(responses),
		outbound.WithLogger(logger),
	)
	conn := connector.New(client, telemetry.InstrumentClient(nil), upstreams(cfg), logger.With("component", "connector"))

	bg, cancelBG := context.WithCancel(ctx)
	defer cancelBG()

	go analytics.Run(bg, time.Minute, nil)
	go pruneLoop(bg, lim, time.Hour)

	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		pub, err := cache.NewPublisher(ctx, rdb, analytics,
			cache.WithReportKey(cfg.Redis.Key),
			cache.WithReportChannel(cfg.Redis.Channel),
			cache.WithReportTTL(cfg.Redis.ReportTTL),
			cache.WithPublishInterval(cfg.Redis.PublishInterval),
			cache.WithPublisherLogger(logger.With("component", "publisher")),
		)
		if err != nil {
			logger.Warn("cache report publishing disabled", "error", err)
		} else {
			go pub.Run(bg)
		}
	}

	if configPath != "" {
		go func() {
			err := config.Watch(bg, configPath, logger.With("component", "config"), func(next *config.Config) {
				if err := config.ApplyPolicies(lim, next); err != nil {
					logger.Warn("rate limit policies not reloaded", "error", err)
				}
			})
			if err != nil {
				logger.Warn("config hot reload disabled", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: httpapi.NewRouter(httpapi.Deps{
			Limiter:     lim,
			Analytics:   analytics,
			Cache:       responses,
			Fetcher:     conn,
			Gatherer:    reg,
			Logger:      logger.With("component", "http"),
			ServiceName: cfg.Telemetry.ServiceName,
		}),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.Server.Addr, "upstreams", len(cfg.Upstreams))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout)
	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func upstreams(cfg *config.Config) []connector.Upstream {
	out := make([]connector.Upstream, 0, len(cfg.Upstreams))
	for _, u := range cfg.Upstreams {
		preset := cfg.Retry.Preset()
		if u.RetryPreset != "" {
			preset, _ = retry.ParsePreset(u.RetryPreset)
		}
		out = append(out, connector.Upstream{
			Name:     u.Name,
			BaseURL:  u.BaseURL,
			Action:   u.Action,
			CacheTTL: u.CacheTTL,
			Preset:   preset,
			Timeout:  u.Timeout,
		})
	}
	return out
}

func pruneLoop(ctx context.Context, lim *limiter.MemoryLimiter, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lim.Prune()
		}
	}
}
