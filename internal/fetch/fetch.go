// Package fetch performs the hardened outbound GET against a validated target.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"hls-proxy-go/internal/config"
	"hls-proxy-go/internal/metrics"
	"hls-proxy-go/internal/model"
)

// Sentinel errors for terminal fetch outcomes.
var (
	ErrUpstreamStatus   = errors.New("upstream returned a non-200 status")
	ErrBodyTooLarge     = errors.New("upstream body exceeds the configured ceiling")
	ErrTooManyRedirects = errors.New("upstream redirected too many times")
)

// HopChecker re-validates a redirect target before it is followed.
type HopChecker interface {
	CheckHop(ctx context.Context, u *url.URL) error
}

// Fetcher fetches target URLs with a purpose-built client: short connect and
// total timeouts, a fixed user agent, a capped redirect count with every hop
// re-checked against the address guard, no referrer leakage, and an optional
// outbound forwarding proxy. The metrics parameter is optional; pass nil to
// disable upstream metrics recording.
type Fetcher struct {
	client  *http.Client
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewFetcher builds the hardened client once; it is shared by all requests.
func NewFetcher(cfg *config.Config, hops HopChecker, logger *slog.Logger, m *metrics.Metrics) (*Fetcher, error) {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: time.Duration(cfg.Upstream.ConnectTimeoutSeconds) * time.Second,
		}).DialContext,
		MaxIdleConns:    10,
		IdleConnTimeout: 90 * time.Second,
	}

	// Outbound proxy is explicit configuration only; the process environment
	// is not consulted.
	if cfg.Upstream.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.Upstream.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse upstream.proxy_url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	maxRedirects := cfg.Upstream.MaxRedirects

	return &Fetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) > maxRedirects {
					return fmt.Errorf("%w (max %d)", ErrTooManyRedirects, maxRedirects)
				}
				// The client sets Referer before consulting us; the target
				// origin never learns where the request came from.
				req.Header.Del("Referer")
				return hops.CheckHop(req.Context(), req.URL)
			},
		},
		cfg:     cfg,
		logger:  logger.With("component", "fetcher"),
		metrics: m,
	}, nil
}

// Fetch GETs the original target URL string (query and fragment preserved
// verbatim) and returns the full body and upstream content type. Non-200
// statuses and bodies over the ceiling are terminal errors; the caller maps
// both to a generic server failure without relaying upstream detail.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*model.Fetched, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.Upstream.UserAgent)

	scheme := metrics.NormalizeScheme(req.URL.Scheme)

	start := time.Now()
	resp, err := f.client.Do(req)
	duration := time.Since(start).Seconds()

	if f.metrics != nil {
		f.metrics.UpstreamDuration.WithLabelValues(scheme).Observe(duration)
	}
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if f.metrics != nil {
		f.metrics.UpstreamResponses.WithLabelValues(scheme, strconv.Itoa(resp.StatusCode)).Inc()
	}

	if resp.StatusCode != http.StatusOK {
		f.logger.Error("upstream returned non-200 status",
			"url", rawURL,
			"status", resp.StatusCode,
		)
		return nil, fmt.Errorf("%w: %d", ErrUpstreamStatus, resp.StatusCode)
	}

	limit := f.cfg.Upstream.MaxBodyBytes
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	if int64(len(body)) > limit {
		f.logger.Warn("upstream body over ceiling",
			"url", rawURL,
			"max", limit,
		)
		return nil, ErrBodyTooLarge
	}

	return &model.Fetched{
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}
