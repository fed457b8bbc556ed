package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"offlinecache/internal/cache"
	"offlinecache/internal/core"
	"offlinecache/internal/network"
	"offlinecache/internal/shim"
)

type countingFetcher struct {
	mu       sync.Mutex
	calls    int
	lastReq  *core.Request
	response *core.Response
	err      error
}

func (f *countingFetcher) Fetch(_ context.Context, req *core.Request) (*core.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	if f.response != nil {
		return f.response.Clone(), nil
	}
	return &core.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"text/html"}},
		Body:       []byte("<html>" + req.URL + "</html>"),
	}, nil
}

type fixedReadiness struct {
	state shim.State
	err   error
}

func (r fixedReadiness) State() shim.State { return r.state }
func (r fixedReadiness) Err() error        { return r.err }

func newTestServer(t *testing.T, fetcher *countingFetcher, cfg *Config) (*Server, cache.Storage) {
	t.Helper()
	storage := cache.NewMemoryStorage()
	s, err := shim.New(storage, fetcher, shim.Config{Namespace: "photo-planner-v1"})
	require.NoError(t, err)
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.Storage = storage
	return New(s, cfg), storage
}

func seed(t *testing.T, storage cache.Storage, namespace, id, body string) {
	t.Helper()
	ctx := context.Background()
	c, err := storage.Open(ctx, namespace)
	require.NoError(t, err)
	req, err := core.NewRequest(http.MethodGet, id)
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, req, &core.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       []byte(body),
	}))
}

func serve(srv http.Handler, method, target string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, &countingFetcher{}, nil)

	rec := serve(srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", gjson.Get(rec.Body.String(), "status").String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReady(t *testing.T) {
	tests := []struct {
		name       string
		readiness  Readiness
		wantStatus int
		wantState  string
		wantError  string
	}{
		{"no activation", nil, http.StatusServiceUnavailable, "pending", ""},
		{"pending", fixedReadiness{state: shim.StatePending}, http.StatusServiceUnavailable, "pending", ""},
		{"ready", fixedReadiness{state: shim.StateReady}, http.StatusOK, "ready", ""},
		{"failed", fixedReadiness{state: shim.StateFailed, err: errors.New("offline")}, http.StatusServiceUnavailable, "failed", "offline"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, &countingFetcher{}, &Config{Readiness: tt.readiness})
			rec := serve(srv, http.MethodGet, "/ready", nil)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantState, gjson.Get(rec.Body.String(), "status").String())
			assert.Equal(t, tt.wantError, gjson.Get(rec.Body.String(), "error").String())
		})
	}
}

func TestFetchServesCacheHit(t *testing.T) {
	fetcher := &countingFetcher{}
	srv, storage := newTestServer(t, fetcher, nil)
	seed(t, storage, "photo-planner-v1", "/manifest.json", `{"name":"Photo Planner"}`)

	rec := serve(srv, http.MethodGet, "/manifest.json", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hit", rec.Header().Get(CacheStatusHeader))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "Photo Planner", gjson.Get(rec.Body.String(), "name").String())
	assert.Zero(t, fetcher.calls)
}

func TestFetchHeadUsesGetEntry(t *testing.T) {
	fetcher := &countingFetcher{}
	srv, storage := newTestServer(t, fetcher, nil)
	seed(t, storage, "photo-planner-v1", "/manifest.json", `{}`)

	rec := serve(srv, http.MethodHead, "/manifest.json", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hit", rec.Header().Get(CacheStatusHeader))
	assert.Empty(t, rec.Body.String())
	assert.Zero(t, fetcher.calls)
}

func TestFetchMissGoesToNetworkOnce(t *testing.T) {
	fetcher := &countingFetcher{
		response: &core.Response{StatusCode: http.StatusNotFound, Body: []byte("not here")},
	}
	srv, _ := newTestServer(t, fetcher, nil)

	rec := serve(srv, http.MethodGet, "/api/plan?day=monday", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "miss", rec.Header().Get(CacheStatusHeader))
	assert.Equal(t, "not here", rec.Body.String())
	assert.Equal(t, 1, fetcher.calls)
	assert.Equal(t, "/api/plan?day=monday", fetcher.lastReq.URL)
}

func TestFetchDoubleSlashPathStaysOnOrigin(t *testing.T) {
	var otherCalls atomic.Int32
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		otherCalls.Add(1)
		_, _ = w.Write([]byte("OTHER-HOST-SECRET"))
	}))
	defer other.Close()
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("origin " + r.URL.RequestURI()))
	}))
	defer origin.Close()

	fetcher, err := network.NewHTTPFetcher(origin.URL, origin.Client())
	require.NoError(t, err)
	s, err := shim.New(cache.NewMemoryStorage(), fetcher, shim.Config{Namespace: "photo-planner-v1"})
	require.NoError(t, err)
	srv := New(s, &Config{})

	otherHost := strings.TrimPrefix(other.URL, "http://")
	for _, target := range []string{"//" + otherHost + "/secret", "///" + otherHost + "/secret?x=1"} {
		rec := serve(srv, http.MethodGet, target, nil)
		assert.Equal(t, http.StatusOK, rec.Code, target)
		assert.True(t, strings.HasPrefix(rec.Body.String(), "origin /"+otherHost+"/secret"), rec.Body.String())
	}
	assert.Zero(t, otherCalls.Load())
}

func TestCacheHitCarriesNoSetCookie(t *testing.T) {
	ctx := context.Background()
	fetcher := &countingFetcher{
		response: &core.Response{
			StatusCode: http.StatusOK,
			Header: http.Header{
				"Content-Type": []string{"text/html"},
				"Set-Cookie":   []string{"session=precache-session-123; Path=/"},
			},
			Body: []byte("<html></html>"),
		},
	}
	storage := cache.NewMemoryStorage()
	s, err := shim.New(storage, fetcher, shim.Config{Namespace: "photo-planner-v1", Assets: []string{"/"}})
	require.NoError(t, err)
	require.NoError(t, s.Initialize(ctx, []string{"/"}, "photo-planner-v1"))
	srv := New(s, &Config{Storage: storage})

	for range 2 {
		rec := serve(srv, http.MethodGet, "/", nil)
		assert.Equal(t, "hit", rec.Header().Get(CacheStatusHeader))
		assert.Empty(t, rec.Header().Values("Set-Cookie"))
		assert.Equal(t, "text/html", rec.Header().Get("Content-Type"))
	}
	assert.Equal(t, 1, fetcher.calls)
}

func TestFetchHeadMissKeepsOriginContentLength(t *testing.T) {
	fetcher := &countingFetcher{
		response: &core.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Length": []string{"2048"}, "Content-Type": []string{"image/png"}},
		},
	}
	srv, _ := newTestServer(t, fetcher, nil)

	rec := serve(srv, http.MethodHead, "/icons/large.png", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "miss", rec.Header().Get(CacheStatusHeader))
	assert.Equal(t, "2048", rec.Header().Get("Content-Length"))
	assert.Empty(t, rec.Body.String())
}

func TestFetchForwardsBody(t *testing.T) {
	fetcher := &countingFetcher{}
	srv, _ := newTestServer(t, fetcher, nil)

	rec := serve(srv, http.MethodPost, "/history", strings.NewReader(`{"task":"street"}`))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.MethodPost, fetcher.lastReq.Method)
	assert.Equal(t, `{"task":"street"}`, string(fetcher.lastReq.Body))
}

func TestFetchNetworkFailure(t *testing.T) {
	fetcher := &countingFetcher{err: errors.New("connection refused")}
	srv, _ := newTestServer(t, fetcher, nil)

	rec := serve(srv, http.MethodGet, "/offline", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	body := rec.Body.String()
	assert.Equal(t, "fetch_error", gjson.Get(body, "error.type").String())
	assert.Equal(t, "/offline", gjson.Get(body, "error.identifier").String())
	assert.Equal(t, 1, fetcher.calls)
}

func TestFetchBodyLimit(t *testing.T) {
	fetcher := &countingFetcher{}
	srv, _ := newTestServer(t, fetcher, &Config{BodySizeLimit: 1024})

	rec := serve(srv, http.MethodPost, "/upload", strings.NewReader(strings.Repeat("x", 4096)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Zero(t, fetcher.calls)
}

func TestInspectionRoutes(t *testing.T) {
	srv, storage := newTestServer(t, &countingFetcher{}, nil)
	seed(t, storage, "photo-planner-v0", "/legacy.js", "1")
	seed(t, storage, "photo-planner-v1", "/", "2")
	seed(t, storage, "photo-planner-v1", "/manifest.json", "3")

	rec := serve(srv, http.MethodGet, "/_cache/namespaces", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var names []string
	for _, n := range gjson.Get(rec.Body.String(), "namespaces").Array() {
		names = append(names, n.String())
	}
	assert.Equal(t, []string{"photo-planner-v0", "photo-planner-v1"}, names)

	rec = serve(srv, http.MethodGet, "/_cache/namespaces/photo-planner-v1/keys", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `["GET /","GET /manifest.json"]`, gjson.Get(rec.Body.String(), "keys").Raw)

	rec = serve(srv, http.MethodGet, "/_cache/namespaces/unknown/keys", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found_error", gjson.Get(rec.Body.String(), "error.type").String())

	has, err := storage.Has(context.Background(), "unknown")
	require.NoError(t, err)
	assert.False(t, has, "inspection must not create namespaces")
}

func TestInspectionRoutesRequireAdminKey(t *testing.T) {
	tests := []struct {
		name       string
		authHeader string
		wantStatus int
		wantMsg    string
	}{
		{"missing header", "", http.StatusUnauthorized, "missing authorization header"},
		{"wrong format", "secret", http.StatusUnauthorized, "invalid authorization header format, expected 'Bearer <token>'"},
		{"wrong key", "Bearer nope", http.StatusUnauthorized, "invalid admin key"},
		{"valid key", "Bearer secret", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, &countingFetcher{}, &Config{AdminKey: "secret"})

			req := httptest.NewRequest(http.MethodGet, "/_cache/namespaces", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantMsg != "" {
				assert.Equal(t, "authentication_error", gjson.Get(rec.Body.String(), "error.type").String())
				assert.Equal(t, tt.wantMsg, gjson.Get(rec.Body.String(), "error.message").String())
			}
		})
	}
}

func TestFetchRoutesIgnoreAdminKey(t *testing.T) {
	fetcher := &countingFetcher{}
	srv, _ := newTestServer(t, fetcher, &Config{AdminKey: "secret"})

	rec := serve(srv, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, fetcher.calls)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &countingFetcher{}, &Config{MetricsEnabled: true, MetricsEndpoint: "/internal/../metrics"})

	rec := serve(srv, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestHandleErrorFallback(t *testing.T) {
	srv, _ := newTestServer(t, &countingFetcher{}, nil)
	srv.echo.GET("/boom", func(c echo.Context) error {
		return handleError(c, errors.New("unexpected"))
	})

	rec := serve(srv, http.MethodGet, "/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_error", gjson.Get(rec.Body.String(), "error.type").String())
}
