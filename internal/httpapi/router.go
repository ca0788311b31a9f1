// Package httpapi is the operator-facing HTTP surface of outboundd: limiter
// and cache introspection, metrics, and a rate-limited proxy to the
// configured upstreams.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/manenim/outbound-guard/internal/connector"
	"github.com/manenim/outbound-guard/internal/telemetry"
	"github.com/manenim/outbound-guard/pkg/cache"
	"github.com/manenim/outbound-guard/pkg/limiter"
	"github.com/manenim/outbound-guard/pkg/outbound"
	"github.com/manenim/outbound-guard/pkg/retry"
)

// Limiter is the introspection side of the rate limiter.
type Limiter interface {
	Policies() map[string]limiter.Policy
	Status(id limiter.Identity) (limiter.LimitStatus, error)
	Reset(id limiter.Identity)
	ResetAll()
}

type Fetcher interface {
	Fetch(ctx context.Context, name, path string, query url.Values) (*connector.Response, error)
}

type Deps struct {
	Limiter     Limiter
	Analytics   *cache.Analytics
	Cache       interface{ Clear() }
	Fetcher     Fetcher
	Gatherer    prometheus.Gatherer
	Logger      *slog.Logger
	ServiceName string
}

type server struct {
	Deps
}

func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.New(slog.DiscardHandler)
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	s := &server{Deps: d}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(telemetry.HTTPMiddleware(d.ServiceName))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/policies", s.listPolicies)
		r.Get("/limits/{action}/{identifier}", s.limitStatus)
		r.Delete("/limits/{action}/{identifier}", s.resetLimit)
		r.Delete("/limits", s.resetAllLimits)

		r.Get("/cache/stats", s.cacheStats)
		r.Get("/cache/report", s.cacheReport)
		r.Post("/cache/stats/reset", s.resetCacheStats)
		r.Delete("/cache", s.clearCache)

		r.Get("/upstreams/{name}/*", s.proxy)
	})
	return r
}

type policyView struct {
	RequestsPerMinute int64  `json:"requests_per_minute"`
	RequestsPerHour   int64  `json:"requests_per_hour"`
	RequestsPerDay    int64  `json:"requests_per_day"`
	Cooldown          string `json:"cooldown"`
}

func viewPolicy(p limiter.Policy) policyView {
	return policyView{
		RequestsPerMinute: p.RequestsPerMinute,
		RequestsPerHour:   p.RequestsPerHour,
		RequestsPerDay:    p.RequestsPerDay,
		Cooldown:          p.Cooldown.String(),
	}
}

func (s *server) listPolicies(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]policyView)
	for action, p := range s.Limiter.Policies() {
		out[action] = viewPolicy(p)
	}
	writeJSON(w, http.StatusOK, out)
}

type statusView struct {
	Action          string     `json:"action"`
	Identifier      string     `json:"identifier"`
	Policy          policyView `json:"policy"`
	RemainingMinute int64      `json:"remaining_minute"`
	RemainingHour   int64      `json:"remaining_hour"`
	RemainingDay    int64      `json:"remaining_day"`
	Remaining       int64      `json:"remaining"`
	RetryAfterMs    int64      `json:"retry_after_ms"`
	NextAllowedAt   *time.Time `json:"next_allowed_at,omitempty"`
}

func (s *server) limitStatus(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	st, err := s.Limiter.Status(id)
	if err != nil {
		s.writeLimiterError(w, err)
		return
	}
	v := statusView{
		Action:          id.Action,
		Identifier:      id.Key,
		Policy:          viewPolicy(st.Policy),
		RemainingMinute: st.RemainingMinute,
		RemainingHour:   st.RemainingHour,
		RemainingDay:    st.RemainingDay,
		Remaining:       st.Remaining,
		RetryAfterMs:    st.RetryAfter.Milliseconds(),
	}
	if !st.NextAllowedAt.IsZero() {
		next := st.NextAllowedAt
		v.NextAllowedAt = &next
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *server) resetLimit(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	s.Limiter.Reset(id)
	s.Logger.Info("rate limit history reset", "action", id.Action, "key", id.Key)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) resetAllLimits(w http.ResponseWriter, r *http.Request) {
	s.Limiter.ResetAll()
	s.Logger.Info("all rate limit history reset")
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) cacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Analytics.Stats())
}

func (s *server) cacheReport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Analytics.Report())
}

func (s *server) resetCacheStats(w http.ResponseWriter, r *http.Request) {
	s.Analytics.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) clearCache(w http.ResponseWriter, r *http.Request) {
	if s.Cache != nil {
		s.Cache.Clear()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) proxy(w http.ResponseWriter, r *http.Request) {
	if s.Fetcher == nil {
		writeError(w, http.StatusNotFound, "no upstreams configured")
		return
	}
	resp, err := s.Fetcher.Fetch(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "*"), r.URL.Query())
	if err != nil {
		s.writeFetchError(w, err)
		return
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}

func (s *server) writeFetchError(w http.ResponseWriter, err error) {
	var (
		rateLimited *outbound.RateLimitedError
		exhausted   *retry.ExhaustedError
	)
	switch {
	case errors.Is(err, connector.ErrUnknownUpstream):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &rateLimited):
		w.Header().Set("Retry-After", strconv.FormatInt(int64(math.Ceil(rateLimited.RetryAfter().Seconds())), 10))
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, limiter.ErrUnknownAction):
		s.Logger.Error("upstream uses an action without policy", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	case errors.As(err, &exhausted) && exhausted.Reason == retry.ReasonTimeout:
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (s *server) writeLimiterError(w http.ResponseWriter, err error) {
	if errors.Is(err, limiter.ErrUnknownAction) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func identity(r *http.Request) limiter.Identity {
	return limiter.Identity{Action: chi.URLParam(r, "action"), Key: chi.URLParam(r, "identifier")}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
