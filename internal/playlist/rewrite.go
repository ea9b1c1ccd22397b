// Package playlist rewrites M3U8 playlists so every child URI routes back
// through the proxy.
package playlist

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/grafov/m3u8"

	"hls-proxy-go/internal/config"
)

// Rewriter rewrites master-playlist variant URIs and media-playlist segment
// URIs into self-referencing proxy URLs under the configured public
// authority. Bodies that do not parse as a playlist are passed through
// untouched; that is the media-segment path, not an error.
type Rewriter struct {
	public config.PublicConfig
	logger *slog.Logger
}

// NewRewriter creates a Rewriter for the configured public authority.
func NewRewriter(cfg *config.Config, logger *slog.Logger) *Rewriter {
	return &Rewriter{
		public: cfg.Public,
		logger: logger.With("component", "rewriter"),
	}
}

// Rewrite attempts to parse body as a playlist. On parse failure it returns
// the body unchanged with isPlaylist=false. On success every child URI is
// rewritten in place, order preserved, and the playlist is re-serialized.
// targetURL is the original target the body was fetched from; relative child
// URIs resolve against it with its final path segment dropped.
func (r *Rewriter) Rewrite(body []byte, targetURL, key string) (out []byte, isPlaylist bool, err error) {
	p, listType, err := m3u8.DecodeFrom(bytes.NewReader(body), true)
	if err != nil {
		return body, false, nil
	}

	base, err := url.Parse(targetURL)
	if err != nil {
		return nil, true, fmt.Errorf("parse target url: %w", err)
	}

	switch listType {
	case m3u8.MASTER:
		master := p.(*m3u8.MasterPlaylist)
		for _, variant := range master.Variants {
			if variant == nil {
				continue
			}
			variant.URI = r.proxyURI(variant.URI, base, key)
		}
		master.ResetCache()
		return master.Encode().Bytes(), true, nil

	case m3u8.MEDIA:
		media := p.(*m3u8.MediaPlaylist)
		// Segments is a fixed-capacity ring; unused slots are nil.
		for _, seg := range media.Segments {
			if seg == nil {
				continue
			}
			seg.URI = r.proxyURI(seg.URI, base, key)
		}
		// An open (live) playlist decodes with the default sliding window;
		// widen it so every segment survives re-serialization.
		if !media.Closed {
			if err := media.SetWinSize(media.Count()); err != nil {
				return nil, true, fmt.Errorf("set playlist window: %w", err)
			}
		}
		media.ResetCache()
		return media.Encode().Bytes(), true, nil
	}

	return body, false, nil
}

// proxyURI resolves child against base and wraps the absolute result in a
// proxy URL of the form <scheme>://<domain>/proxy?key=...&url=<escaped>.
// An unparseable child URI is left untouched rather than failing the whole
// playlist.
func (r *Rewriter) proxyURI(child string, base *url.URL, key string) string {
	ref, err := url.Parse(child)
	if err != nil {
		r.logger.Warn("leaving unparseable child uri unchanged",
			"uri", child,
			"err", err,
		)
		return child
	}

	abs := base.ResolveReference(ref).String()

	return fmt.Sprintf("%s://%s/proxy?key=%s&url=%s",
		r.public.Scheme,
		r.public.Domain,
		url.QueryEscape(key),
		url.QueryEscape(abs),
	)
}
