// Package config handles TOML configuration loading and validation.
package config

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"net/url"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/hls-proxy/config.toml",
	"configs/config.toml",
}

// generatedKeyLength is the length of a shared secret generated at startup
// when none is configured.
const generatedKeyLength = 32

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host     string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port     int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	Key      string `kong:"help='Shared secret for /proxy requests (overrides config).',env='PROXY_KEY'"`
	LogLevel string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration. It is constructed once
// before the server starts and read concurrently by all requests afterwards;
// nothing mutates it after Load returns.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Public   PublicConfig   `toml:"public"`
	Upstream UpstreamConfig `toml:"upstream"`
	Auth     AuthConfig     `toml:"auth"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath     string // resolved config file path (unexported)
	keyGenerated bool   // true when Auth.Key was generated at load time
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (3000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// PublicConfig is the externally visible authority used when rewriting
// playlist URIs. It is static configuration: the inbound Host header is
// never consulted, which rules out host-header injection into rewritten
// playlists.
type PublicConfig struct {
	Scheme string `toml:"scheme"`
	Domain string `toml:"domain"` // host, or host:port when non-default
}

// UpstreamConfig holds outbound fetch settings.
type UpstreamConfig struct {
	ProxyURL              string `toml:"proxy_url"` // optional forwarding proxy for all outbound fetches
	MaxBodyBytes          int64  `toml:"max_body_bytes"`
	ConnectTimeoutSeconds int    `toml:"connect_timeout_seconds"`
	TimeoutSeconds        int    `toml:"timeout_seconds"`
	MaxRedirects          int    `toml:"max_redirects"`
	UserAgent             string `toml:"user_agent"`
}

// AuthConfig holds the shared secret required on every /proxy request.
type AuthConfig struct {
	Key string `toml:"key"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/hls-proxy/config.toml then configs/config.toml. When no shared secret
// is configured, one is generated; the generated value changes on every
// process start, so WarnGeneratedKey must be called to make it operable.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()

	if cfg.Auth.Key == "" {
		key, err := generateKey(generatedKeyLength)
		if err != nil {
			return nil, fmt.Errorf("config: generate key: %w", err)
		}
		cfg.Auth.Key = key
		cfg.keyGenerated = true
	}

	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.Key != "" {
		c.Auth.Key = cli.Key
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Public authority: scheme restricted, domain must not carry a path.
	switch c.Public.Scheme {
	case "http", "https", "":
		// valid
	default:
		return fmt.Errorf("public.scheme must be http or https; got %q", c.Public.Scheme)
	}
	if strings.ContainsAny(c.Public.Domain, "/?#") {
		return fmt.Errorf("public.domain must be a bare authority (host[:port]); got %q", c.Public.Domain)
	}

	// Outbound forwarding proxy, when set, must be a parseable URL.
	if c.Upstream.ProxyURL != "" {
		u, err := url.Parse(c.Upstream.ProxyURL)
		if err != nil {
			return fmt.Errorf("upstream.proxy_url is not a valid URL: %w", err)
		}
		if u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("upstream.proxy_url must be an absolute URL; got %q", c.Upstream.ProxyURL)
		}
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.MaxBodyBytes < 0 {
		return fmt.Errorf("upstream.max_body_bytes must be non-negative; got %d", c.Upstream.MaxBodyBytes)
	}
	if c.Upstream.ConnectTimeoutSeconds < 0 {
		return fmt.Errorf("upstream.connect_timeout_seconds must be non-negative; got %d", c.Upstream.ConnectTimeoutSeconds)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.MaxRedirects < 0 {
		return fmt.Errorf("upstream.max_redirects must be non-negative; got %d", c.Upstream.MaxRedirects)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{"/proxy", "/healthz"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields, zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key. Setting port=0 in the config
// file therefore results in the default port (3000). max_redirects defaults
// to 1; every followed hop is re-validated by the address guard regardless.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 1024 * 1024 // 1 MB; /proxy requests carry no body
	}
	if c.Public.Scheme == "" {
		c.Public.Scheme = "http"
	}
	if c.Public.Domain == "" {
		c.Public.Domain = fmt.Sprintf("localhost:%d", c.Server.Port)
	}
	if c.Upstream.MaxBodyBytes == 0 {
		c.Upstream.MaxBodyBytes = 50 * 1_000_000 // 50 MB
	}
	if c.Upstream.ConnectTimeoutSeconds == 0 {
		c.Upstream.ConnectTimeoutSeconds = 5
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 10
	}
	if c.Upstream.MaxRedirects == 0 {
		c.Upstream.MaxRedirects = 1
	}
	if c.Upstream.UserAgent == "" {
		c.Upstream.UserAgent = "hls-proxy/1.0"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// KeyGenerated reports whether the shared secret was generated at load time.
func (c *Config) KeyGenerated() bool {
	return c.keyGenerated
}

// WarnGeneratedKey logs the generated shared secret. A generated secret is
// different on every process start; without this log line nobody can build
// a valid /proxy request.
func (c *Config) WarnGeneratedKey(logger *slog.Logger) {
	if !c.keyGenerated {
		return
	}
	logger.Warn("auth.key not set, using generated key", "key", c.Auth.Key)
}

// WarnPermissions logs a warning if the config file is readable by group or
// others; it holds the shared secret.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}

// keyAlphabet is the character set for generated shared secrets.
const keyAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// generateKey returns a random alphanumeric string of length n.
func generateKey(n int) (string, error) {
	b := make([]byte, n)
	alphabetLen := big.NewInt(int64(len(keyAlphabet)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", err
		}
		b[i] = keyAlphabet[idx.Int64()]
	}
	return string(b), nil
}
