package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"

	"hls-proxy-go/internal/config"
	"hls-proxy-go/internal/metrics"
	"hls-proxy-go/internal/model"
)

// Sentinel errors for terminal validation outcomes. Handlers map these to
// HTTP statuses; the guard never writes responses itself.
var (
	ErrEmptyTarget   = errors.New("target url cannot be empty")
	ErrEmptyKey      = errors.New("key cannot be empty")
	ErrKeyMismatch   = errors.New("key is invalid")
	ErrNoHost        = errors.New("target url has no host")
	ErrScheme        = errors.New("target url scheme must be http or https")
	ErrResolve       = errors.New("target host did not resolve")
	ErrForbiddenAddr = errors.New("target resolves to a forbidden address")
)

// Validator checks client-supplied targets before the fetcher touches the
// network. The metrics parameter is optional; pass nil to disable guard
// rejection counters.
type Validator struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	resolver *net.Resolver
	guardFn  func(net.IP) (string, bool)
}

// NewValidator creates a Validator using the default system resolver.
func NewValidator(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Validator {
	return &Validator{
		cfg:      cfg,
		logger:   logger.With("component", "validator"),
		metrics:  m,
		resolver: net.DefaultResolver,
		guardFn:  Forbidden,
	}
}

// NewValidatorForTest creates a Validator whose address guard accepts every
// address. This is intended only for tests that use httptest servers on
// localhost.
func NewValidatorForTest(cfg *config.Config, logger *slog.Logger) *Validator {
	return &Validator{
		cfg:      cfg,
		logger:   logger.With("component", "validator"),
		resolver: net.DefaultResolver,
		guardFn:  func(net.IP) (string, bool) { return "", false },
	}
}

// Validate parses and validates a proxy request: non-empty parameters, key
// equality against the configured secret, parseable http/https URL, and DNS
// resolution with every resolved address passed through the Address Guard.
// A single forbidden address among the resolved set rejects the whole
// request; no fetch happens for rejected targets.
func (v *Validator) Validate(ctx context.Context, pr model.ProxyRequest) (*model.ResolvedTarget, error) {
	if pr.TargetURL == "" {
		return nil, ErrEmptyTarget
	}
	if pr.Key == "" {
		return nil, ErrEmptyKey
	}
	if pr.Key != v.cfg.Auth.Key {
		return nil, ErrKeyMismatch
	}

	u, err := url.Parse(pr.TargetURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoHost, err)
	}
	if u.Hostname() == "" {
		return nil, ErrNoHost
	}

	port, err := impliedPort(u.Scheme)
	if err != nil {
		return nil, err
	}

	addrs, err := v.resolveAndGuard(ctx, u.Hostname())
	if err != nil {
		return nil, err
	}

	return &model.ResolvedTarget{
		Scheme: u.Scheme,
		Host:   u.Hostname(),
		Port:   port,
		Addrs:  addrs,
	}, nil
}

// CheckHop re-validates a redirect target before the fetcher follows it.
// Same scheme and address rules as Validate, without the parameter checks.
func (v *Validator) CheckHop(ctx context.Context, u *url.URL) error {
	if u.Hostname() == "" {
		return ErrNoHost
	}
	if _, err := impliedPort(u.Scheme); err != nil {
		return err
	}
	_, err := v.resolveAndGuard(ctx, u.Hostname())
	return err
}

func (v *Validator) resolveAndGuard(ctx context.Context, host string) ([]net.IP, error) {
	addrs, err := v.resolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResolve, err)
	}

	for _, ip := range addrs {
		reason, forbidden := v.guardFn(ip)
		if !forbidden {
			continue
		}
		v.logger.Warn("rejected target address",
			"host", host,
			"ip", ip.String(),
			"reason", reason,
		)
		if v.metrics != nil {
			v.metrics.GuardRejections.WithLabelValues(reason).Inc()
		}
		return nil, fmt.Errorf("%w: %s", ErrForbiddenAddr, reason)
	}

	return addrs, nil
}

// impliedPort maps the target scheme to its default port.
func impliedPort(scheme string) (uint16, error) {
	switch scheme {
	case "http":
		return 80, nil
	case "https":
		return 443, nil
	default:
		return 0, ErrScheme
	}
}
