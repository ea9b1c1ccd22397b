// Package service implements the proxy pipeline: validate, fetch, rewrite.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"hls-proxy-go/internal/fetch"
	"hls-proxy-go/internal/guard"
	"hls-proxy-go/internal/model"
	"hls-proxy-go/internal/playlist"
)

// ErrNoContentType is returned when the upstream served a playlist without a
// content-type header. Playlist responses pass the upstream content type
// through, so its absence is a contract violation on the upstream side.
var ErrNoContentType = errors.New("upstream response is missing the content-type header")

// contentTypeBinary is used for bodies relayed as opaque bytes.
const contentTypeBinary = "application/octet-stream"

// ProxyService runs one proxy request through the pipeline. Every stage
// short-circuits with a sentinel error the handler maps to a terminal
// response; no stage retries.
type ProxyService struct {
	validator *guard.Validator
	fetcher   *fetch.Fetcher
	rewriter  *playlist.Rewriter
	logger    *slog.Logger
}

// NewProxyService creates a ProxyService.
func NewProxyService(v *guard.Validator, f *fetch.Fetcher, r *playlist.Rewriter, logger *slog.Logger) *ProxyService {
	return &ProxyService{
		validator: v,
		fetcher:   f,
		rewriter:  r,
		logger:    logger.With("component", "proxy_service"),
	}
}

// Proxy validates the request, fetches the target and rewrites the body when
// it is a playlist. The fetch uses the original target URL string, not a
// reconstruction, so query strings and fragments reach the origin verbatim.
func (s *ProxyService) Proxy(ctx context.Context, pr model.ProxyRequest) (*model.ProxyResult, error) {
	target, err := s.validator.Validate(ctx, pr)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("target validated",
		"host", target.Host,
		"port", target.Port,
		"addrs", len(target.Addrs),
	)

	fetched, err := s.fetcher.Fetch(ctx, pr.TargetURL)
	if err != nil {
		return nil, err
	}

	body, isPlaylist, err := s.rewriter.Rewrite(fetched.Body, pr.TargetURL, pr.Key)
	if err != nil {
		return nil, fmt.Errorf("rewrite playlist: %w", err)
	}

	if !isPlaylist {
		return &model.ProxyResult{
			ContentType:       contentTypeBinary,
			Body:              body,
			BinaryPassthrough: true,
		}, nil
	}

	if fetched.ContentType == "" {
		return nil, ErrNoContentType
	}

	return &model.ProxyResult{
		ContentType: fetched.ContentType,
		Body:        body,
	}, nil
}
