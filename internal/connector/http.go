// Package connector calls configured third-party HTTP APIs through the
// outbound call path.
package connector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/manenim/outbound-guard/pkg/outbound"
	"github.com/manenim/outbound-guard/pkg/retry"
)

const maxBodyBytes = 10 << 20

var ErrUnknownUpstream = errors.New("unknown upstream")

// Upstream is one API. Calls are rate limited under Action with the
// upstream name as the key.
type Upstream struct {
	Name     string
	BaseURL  string
	Action   string
	CacheTTL time.Duration
	Preset   retry.Preset
	Timeout  time.Duration
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

type HTTPConnector struct {
	outbound  *outbound.Client
	client    *http.Client
	logger    *slog.Logger
	upstreams map[string]Upstream
}

// New builds a connector. A nil client means http.DefaultClient.
func New(oc *outbound.Client, client *http.Client, upstreams []Upstream, logger *slog.Logger) *HTTPConnector {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	byName := make(map[string]Upstream, len(upstreams))
	for _, u := range upstreams {
		u.BaseURL = strings.TrimRight(u.BaseURL, "/")
		byName[u.Name] = u
	}
	return &HTTPConnector{outbound: oc, client: client, logger: logger, upstreams: byName}
}

// Upstreams lists the configured upstreams by name.
func (c *HTTPConnector) Upstreams() []Upstream {
	out := make([]Upstream, 0, len(c.upstreams))
	for _, u := range c.upstreams {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Fetch issues GET BaseURL/path?query against the named upstream. Non-2xx/3xx
// answers come back as *retry.HTTPError after retries; a limiter denial as
// *outbound.RateLimitedError.
func (c *HTTPConnector) Fetch(ctx context.Context, name, path string, query url.Values) (*Response, error) {
	up, ok := c.upstreams[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownUpstream, name)
	}

	target := up.BaseURL + "/" + strings.TrimLeft(path, "/")
	if encoded := query.Encode(); encoded != "" {
		target += "?" + encoded
	}

	req := outbound.Request{
		Action:   up.Action,
		Key:      up.Name,
		Category: up.Name,
		Preset:   up.Preset,
	}
	if up.CacheTTL > 0 {
		key, err := outbound.CacheKey(up.Action, struct {
			Upstream string `json:"upstream"`
			Target   string `json:"target"`
		}{up.Name, target})
		if err != nil {
			return nil, err
		}
		req.CacheKey, req.CacheTTL = key, up.CacheTTL
	}

	resp, err := outbound.Call(ctx, c.outbound, req, func(ctx context.Context) (*Response, error) {
		return c.get(ctx, up, target)
	})
	if err != nil {
		c.logger.Debug("upstream fetch failed", "upstream", name, "error", err)
		return nil, err
	}
	return resp, nil
}

func (c *HTTPConnector) get(ctx context.Context, up Upstream, target string) (*Response, error) {
	if up.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, up.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if err := retry.CheckResponse(resp); err != nil {
		return nil, err
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header.Clone(), Body: body}, nil
}
