// Package server exposes the offline cache shim over HTTP.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"offlinecache/internal/cache"
	"offlinecache/internal/core"
	"offlinecache/internal/shim"
)

// CacheStatusHeader reports whether a response came from the cache ("hit") or the network ("miss").
const CacheStatusHeader = "X-Offline-Cache"

// FetchHandler answers resource fetches. Implemented by *shim.Shim.
type FetchHandler interface {
	HandleFetch(ctx context.Context, req *core.Request) (*core.Response, bool, error)
}

// Readiness reports activation progress. Implemented by *shim.Activation.
type Readiness interface {
	State() shim.State
	Err() error
}

// Handler holds the HTTP handlers
type Handler struct {
	shim      FetchHandler
	storage   cache.Storage
	readiness Readiness
}

// NewHandler creates a new handler with the given shim
func NewHandler(s FetchHandler, storage cache.Storage, readiness Readiness) *Handler {
	return &Handler{
		shim:      s,
		storage:   storage,
		readiness: readiness,
	}
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /ready. It returns 503 until activation has succeeded.
func (h *Handler) Ready(c echo.Context) error {
	if h.readiness == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": string(shim.StatePending)})
	}

	state := h.readiness.State()
	switch state {
	case shim.StateReady:
		return c.JSON(http.StatusOK, map[string]string{"status": string(state)})
	case shim.StateFailed:
		body := map[string]string{"status": string(state)}
		if err := h.readiness.Err(); err != nil {
			body["error"] = err.Error()
		}
		return c.JSON(http.StatusServiceUnavailable, body)
	default:
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": string(state)})
	}
}

// ListNamespaces handles GET /_cache/namespaces
func (h *Handler) ListNamespaces(c echo.Context) error {
	names, err := h.storage.Namespaces(c.Request().Context())
	if err != nil {
		return handleError(c, core.NewStorageError("failed to list namespaces", err))
	}
	if names == nil {
		names = []string{}
	}
	return c.JSON(http.StatusOK, map[string]any{"namespaces": names})
}

// ListKeys handles GET /_cache/namespaces/:namespace/keys
func (h *Handler) ListKeys(c echo.Context) error {
	ctx := c.Request().Context()
	namespace := c.Param("namespace")

	ok, err := h.storage.Has(ctx, namespace)
	if err != nil {
		return handleError(c, core.NewStorageError("failed to look up namespace", err))
	}
	if !ok {
		return handleError(c, core.NewNotFoundError("cache namespace not found: "+namespace))
	}

	ns, err := h.storage.Open(ctx, namespace)
	if err != nil {
		return handleError(c, core.NewStorageError("failed to open namespace", err))
	}
	keys, err := ns.Keys(ctx)
	if err != nil {
		return handleError(c, core.NewStorageError("failed to list keys", err))
	}
	if keys == nil {
		keys = []string{}
	}
	return c.JSON(http.StatusOK, map[string]any{"namespace": namespace, "keys": keys})
}

// Fetch handles every other request as a resource fetch.
func (h *Handler) Fetch(c echo.Context) error {
	r := c.Request()

	req, err := core.NewRequest(r.Method, originIdentifier(r.URL))
	if err != nil {
		return handleError(c, err)
	}
	req.Header = r.Header.Clone()
	if r.Body != nil {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return handleError(c, core.NewInvalidRequestError("failed to read request body", err))
		}
		req.Body = body
	}

	ctx := core.WithRequestID(r.Context(), c.Response().Header().Get(echo.HeaderXRequestID))
	resp, hit, err := h.shim.HandleFetch(ctx, req)
	if err != nil {
		return handleError(c, err)
	}
	return writeResponse(c, resp, hit)
}

// originIdentifier keeps only the path and query of an incoming request.
// Leading slashes collapse to one so "//host/x" cannot name another host.
func originIdentifier(u *url.URL) string {
	id := "/" + strings.TrimLeft(u.EscapedPath(), "/")
	if u.RawQuery != "" {
		id += "?" + u.RawQuery
	}
	return id
}

func writeResponse(c echo.Context, resp *core.Response, hit bool) error {
	header := c.Response().Header()
	for k, vv := range resp.Header {
		for _, v := range vv {
			header.Add(k, v)
		}
	}
	// a HEAD response from the network has no body but keeps the origin's length
	if c.Request().Method != http.MethodHead || len(resp.Body) > 0 || header.Get("Content-Length") == "" {
		header.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	}
	if hit {
		header.Set(CacheStatusHeader, "hit")
	} else {
		header.Set(CacheStatusHeader, "miss")
	}

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	c.Response().WriteHeader(status)
	if c.Request().Method == http.MethodHead {
		return nil
	}
	if _, err := c.Response().Write(resp.Body); err != nil {
		// headers are already sent
		slog.Debug("failed to write response body", "error", err)
	}
	return nil
}

// handleError converts shim errors to appropriate HTTP responses
func handleError(c echo.Context, err error) error {
	var shimErr *core.ShimError
	if errors.As(err, &shimErr) {
		return c.JSON(shimErr.HTTPStatusCode(), shimErr.ToJSON())
	}

	// Fallback for unexpected errors
	return c.JSON(http.StatusInternalServerError, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    "internal_error",
			"message": "an unexpected error occurred",
		},
	})
}
