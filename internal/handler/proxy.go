package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"hls-proxy-go/internal/fetch"
	"hls-proxy-go/internal/guard"
	"hls-proxy-go/internal/model"
	"hls-proxy-go/internal/service"
)

// ProxyHandler serves GET /proxy?url=...&key=... through the proxy pipeline.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle runs one request through the pipeline and writes the terminal
// response. Every outcome, success or failure, produces a response here.
func (h *ProxyHandler) Handle(c echo.Context) error {
	pr := model.ProxyRequest{
		TargetURL: c.QueryParam("url"),
		Key:       c.QueryParam("key"),
	}

	res, err := h.service.Proxy(c.Request().Context(), pr)
	if err != nil {
		return h.mapError(c, err)
	}

	header := c.Response().Header()
	header.Set(echo.HeaderContentLength, strconv.Itoa(len(res.Body)))
	if res.BinaryPassthrough {
		header.Set("Accept-Ranges", "bytes")
	}

	return c.Blob(http.StatusOK, res.ContentType, res.Body)
}

// mapError resolves a pipeline error into a terminal HTTP response.
// Client input problems are 400, a key mismatch is 401, and every upstream
// failure collapses to a generic 500 so upstream error detail is not leaked.
func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("proxy error",
		"err", err,
		"url", c.QueryParam("url"),
	)

	switch {
	case errors.Is(err, guard.ErrKeyMismatch):
		return c.String(http.StatusUnauthorized, "key is invalid")

	case errors.Is(err, guard.ErrEmptyTarget):
		return c.String(http.StatusBadRequest, "url cannot be empty")

	case errors.Is(err, guard.ErrEmptyKey):
		return c.String(http.StatusBadRequest, "key cannot be empty")

	case errors.Is(err, guard.ErrNoHost), errors.Is(err, guard.ErrScheme), errors.Is(err, guard.ErrResolve):
		return c.String(http.StatusBadRequest, "url is not a valid http or https target")

	case errors.Is(err, guard.ErrForbiddenAddr):
		// Deliberately indistinguishable in status from a malformed URL so a
		// probing client cannot tell why the target was rejected.
		c.Response().Header().Set("Accept-Ranges", "bytes")
		return c.Blob(http.StatusBadRequest, "application/octet-stream", []byte{})

	case errors.Is(err, fetch.ErrUpstreamStatus):
		return c.String(http.StatusInternalServerError, "request to the upstream url returned a non-200 status")

	case errors.Is(err, fetch.ErrBodyTooLarge):
		return c.String(http.StatusInternalServerError, "upstream body exceeds the maximum allowed length")

	case errors.Is(err, service.ErrNoContentType):
		return c.String(http.StatusInternalServerError, "upstream response is missing the required content-type header")

	default:
		return c.String(http.StatusInternalServerError, "failed to perform request on the upstream url")
	}
}
