package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"offlinecache/config"
	"offlinecache/internal/core"
	"offlinecache/internal/shim"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: "0"},
		Origin: config.OriginConfig{URL: "http://origin.test"},
		Cache: config.CacheConfig{
			Namespace:           "photo-planner-v1",
			Assets:              []string{"/", "/manifest.json", "/icons/icon-192.png", "/icons/icon-512.png"},
			Backend:             "memory",
			PrecacheConcurrency: 2,
		},
	}
}

func okFetcher(calls *atomic.Int32) core.Fetcher {
	return core.FetcherFunc(func(_ context.Context, req *core.Request) (*core.Response, error) {
		calls.Add(1)
		return &core.Response{StatusCode: http.StatusOK, Body: []byte("asset " + req.URL)}, nil
	})
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(context.Background(), Config{})
	require.Error(t, err)
}

func TestNewRejectsBadOrigin(t *testing.T) {
	cfg := testConfig()
	cfg.Origin.URL = "ftp://origin.test"
	_, err := New(context.Background(), Config{AppConfig: cfg})
	require.Error(t, err)
}

func TestActivationThenServe(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	a, err := New(ctx, Config{AppConfig: testConfig(), Fetcher: okFetcher(&calls)})
	require.NoError(t, err)
	defer func() { _ = a.Shutdown(ctx) }()

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, shim.StatePending, a.State())

	activation := a.Activate(ctx)
	require.NoError(t, activation.Wait(ctx))
	assert.Same(t, activation, a.Activate(ctx), "activation fires once")
	assert.Equal(t, int32(4), calls.Load())

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", gjson.Get(rec.Body.String(), "status").String())

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/icons/icon-192.png", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hit", rec.Header().Get("X-Offline-Cache"))
	assert.Equal(t, "asset /icons/icon-192.png", rec.Body.String())
	assert.Equal(t, int32(4), calls.Load())
}

func TestActivationFailureIsReported(t *testing.T) {
	ctx := context.Background()
	fetcher := core.FetcherFunc(func(_ context.Context, req *core.Request) (*core.Response, error) {
		if req.URL == "/icons/icon-192.png" {
			return nil, errors.New("connection reset")
		}
		return &core.Response{StatusCode: http.StatusOK}, nil
	})
	a, err := New(ctx, Config{AppConfig: testConfig(), Fetcher: fetcher})
	require.NoError(t, err)
	defer func() { _ = a.Shutdown(ctx) }()

	activation := a.Activate(ctx)
	require.Error(t, activation.Wait(ctx))
	assert.Equal(t, shim.StateFailed, a.State())
	require.Error(t, a.Err())

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "failed", gjson.Get(rec.Body.String(), "status").String())
}

func TestPrecacheWithSQLiteBackend(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Cache.Backend = "sqlite"
	cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "cache.db")

	var calls atomic.Int32
	a, err := New(ctx, Config{AppConfig: cfg, Fetcher: okFetcher(&calls)})
	require.NoError(t, err)
	require.NoError(t, a.Precache(ctx))
	require.NoError(t, a.Shutdown(ctx))

	// a second process sees the committed entries without fetching
	b, err := New(ctx, Config{AppConfig: cfg, Fetcher: okFetcher(&calls)})
	require.NoError(t, err)
	defer func() { _ = b.Shutdown(ctx) }()

	req, err := core.NewRequest(http.MethodGet, "/manifest.json")
	require.NoError(t, err)
	resp, hit, err := b.Shim().HandleFetch(ctx, req)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "asset /manifest.json", string(resp.Body))
	assert.Equal(t, int32(4), calls.Load())
}

func TestShutdownIsIdempotent(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	a, err := New(ctx, Config{AppConfig: testConfig(), Fetcher: okFetcher(&calls)})
	require.NoError(t, err)

	require.NoError(t, a.Shutdown(ctx))
	require.NoError(t, a.Shutdown(ctx))
}
