package fetch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"hls-proxy-go/internal/config"
)

// allowAllHops accepts every redirect target.
type allowAllHops struct{}

func (allowAllHops) CheckHop(context.Context, *url.URL) error { return nil }

// denyAllHops rejects every redirect target.
type denyAllHops struct{ err error }

func (d denyAllHops) CheckHop(context.Context, *url.URL) error { return d.err }

func testConfig() *config.Config {
	return &config.Config{
		Upstream: config.UpstreamConfig{
			MaxBodyBytes:          1024 * 1024,
			ConnectTimeoutSeconds: 5,
			TimeoutSeconds:        10,
			MaxRedirects:          1,
			UserAgent:             "hls-proxy/1.0",
		},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFetch_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != "hls-proxy/1.0" {
			t.Errorf("User-Agent = %q, want %q", got, "hls-proxy/1.0")
		}
		// Query strings must reach the origin verbatim.
		if got := r.URL.RawQuery; got != "token=abc%2Fdef" {
			t.Errorf("RawQuery = %q, want %q", got, "token=abc%2Fdef")
		}
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		_, _ = w.Write([]byte("#EXTM3U\n"))
	}))
	defer srv.Close()

	f, err := NewFetcher(testConfig(), allowAllHops{}, testLogger(), nil)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	fetched, err := f.Fetch(context.Background(), srv.URL+"/index.m3u8?token=abc%2Fdef")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if string(fetched.Body) != "#EXTM3U\n" {
		t.Errorf("body = %q, want %q", fetched.Body, "#EXTM3U\n")
	}
	if fetched.ContentType != "application/vnd.apple.mpegurl" {
		t.Errorf("ContentType = %q, want %q", fetched.ContentType, "application/vnd.apple.mpegurl")
	}
}

func TestFetch_NonOKStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"not found", http.StatusNotFound},
		{"server error", http.StatusInternalServerError},
		{"partial content", http.StatusPartialContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			f, err := NewFetcher(testConfig(), allowAllHops{}, testLogger(), nil)
			if err != nil {
				t.Fatalf("NewFetcher: %v", err)
			}

			_, err = f.Fetch(context.Background(), srv.URL)
			if !errors.Is(err, ErrUpstreamStatus) {
				t.Errorf("Fetch() error = %v, want ErrUpstreamStatus", err)
			}
		})
	}
}

func TestFetch_BodyTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Upstream.MaxBodyBytes = 99

	f, err := NewFetcher(cfg, allowAllHops{}, testLogger(), nil)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	_, err = f.Fetch(context.Background(), srv.URL)
	if !errors.Is(err, ErrBodyTooLarge) {
		t.Errorf("Fetch() error = %v, want ErrBodyTooLarge", err)
	}
}

func TestFetch_BodyAtCeiling(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Upstream.MaxBodyBytes = 100

	f, err := NewFetcher(cfg, allowAllHops{}, testLogger(), nil)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	fetched, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch() error = %v; a body exactly at the ceiling is allowed", err)
	}
	if len(fetched.Body) != 100 {
		t.Errorf("len(body) = %d, want 100", len(fetched.Body))
	}
}

func TestFetch_RedirectHopValidated(t *testing.T) {
	final := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("should not be reached"))
	}))
	defer final.Close()

	redirecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, final.URL, http.StatusFound)
	}))
	defer redirecting.Close()

	hopErr := errors.New("hop rejected")
	f, err := NewFetcher(testConfig(), denyAllHops{err: hopErr}, testLogger(), nil)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	_, err = f.Fetch(context.Background(), redirecting.URL)
	if !errors.Is(err, hopErr) {
		t.Errorf("Fetch() error = %v, want wrapped hop rejection", err)
	}
}

func TestFetch_RedirectFollowedWhenAllowed(t *testing.T) {
	final := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The redirect request must not announce where it came from.
		if ref := r.Header.Get("Referer"); ref != "" {
			t.Errorf("Referer = %q, want empty", ref)
		}
		w.Header().Set("Content-Type", "video/mp2t")
		_, _ = w.Write([]byte("segment"))
	}))
	defer final.Close()

	redirecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, final.URL, http.StatusFound)
	}))
	defer redirecting.Close()

	f, err := NewFetcher(testConfig(), allowAllHops{}, testLogger(), nil)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	fetched, err := f.Fetch(context.Background(), redirecting.URL)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if string(fetched.Body) != "segment" {
		t.Errorf("body = %q, want %q", fetched.Body, "segment")
	}
}

func TestFetch_RedirectCeiling(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Redirect forever.
		http.Redirect(w, r, srv.URL+r.URL.Path+"x", http.StatusFound)
	}))
	defer srv.Close()

	f, err := NewFetcher(testConfig(), allowAllHops{}, testLogger(), nil)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	_, err = f.Fetch(context.Background(), srv.URL)
	if !errors.Is(err, ErrTooManyRedirects) {
		t.Errorf("Fetch() error = %v, want ErrTooManyRedirects", err)
	}
}

func TestFetch_ConnectionError(t *testing.T) {
	f, err := NewFetcher(testConfig(), allowAllHops{}, testLogger(), nil)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	_, err = f.Fetch(context.Background(), "http://127.0.0.1:1/nonexistent")
	if err == nil {
		t.Fatal("Fetch() expected error for unreachable host, got nil")
	}
}

func TestFetch_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	f, err := NewFetcher(testConfig(), allowAllHops{}, testLogger(), nil)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = f.Fetch(ctx, srv.URL)
	if err == nil {
		t.Fatal("Fetch() expected error for canceled context, got nil")
	}
}

func TestNewFetcher_BadProxyURL(t *testing.T) {
	cfg := testConfig()
	cfg.Upstream.ProxyURL = "://not-a-url"

	if _, err := NewFetcher(cfg, allowAllHops{}, testLogger(), nil); err == nil {
		t.Fatal("NewFetcher() expected error for invalid proxy url, got nil")
	}
}

func TestFetch_ForwardingProxy(t *testing.T) {
	// A forwarding proxy sees the absolute target URL on the request line.
	var sawProxyRequest bool
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Host != "upstream.example" {
			t.Errorf("proxied host = %q, want %q", r.URL.Host, "upstream.example")
		}
		sawProxyRequest = true
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("via proxy"))
	}))
	defer proxy.Close()

	cfg := testConfig()
	cfg.Upstream.ProxyURL = proxy.URL

	f, err := NewFetcher(cfg, allowAllHops{}, testLogger(), nil)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	fetched, err := f.Fetch(context.Background(), "http://upstream.example/index.m3u8")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if !sawProxyRequest {
		t.Fatal("request did not pass through the forwarding proxy")
	}
	if string(fetched.Body) != "via proxy" {
		t.Errorf("body = %q, want %q", fetched.Body, "via proxy")
	}
}
