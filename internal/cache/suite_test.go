package cache

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offlinecache/internal/core"
)

func mustRequest(t *testing.T, method, id string) *core.Request {
	t.Helper()
	req, err := core.NewRequest(method, id)
	require.NoError(t, err)
	return req
}

func textResponse(body string) *core.Response {
	return &core.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"text/plain"}},
		Body:       []byte(body),
	}
}

// runStorageSuite exercises the behavior every backend must share.
func runStorageSuite(t *testing.T, newStorage func(t *testing.T) Storage) {
	t.Run("MissReturnsNil", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()

		resp, err := s.Match(ctx, mustRequest(t, http.MethodGet, "/missing"))
		require.NoError(t, err)
		assert.Nil(t, resp)

		c, err := s.Open(ctx, "v1")
		require.NoError(t, err)
		resp, err = c.Match(ctx, mustRequest(t, http.MethodGet, "/missing"))
		require.NoError(t, err)
		assert.Nil(t, resp)
	})

	t.Run("OpenCreatesNamespaceOnce", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()

		has, err := s.Has(ctx, "v1")
		require.NoError(t, err)
		assert.False(t, has)

		c, err := s.Open(ctx, "v1")
		require.NoError(t, err)
		assert.Equal(t, "v1", c.Namespace())

		_, err = s.Open(ctx, "v1")
		require.NoError(t, err)

		has, err = s.Has(ctx, "v1")
		require.NoError(t, err)
		assert.True(t, has)

		names, err := s.Namespaces(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"v1"}, names)
	})

	t.Run("OpenRejectsEmptyNamespace", func(t *testing.T) {
		s := newStorage(t)
		_, err := s.Open(context.Background(), "")
		require.Error(t, err)
	})

	t.Run("PutAllThenMatch", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()

		c, err := s.Open(ctx, "v1")
		require.NoError(t, err)

		err = c.PutAll(ctx, []Entry{
			{Request: mustRequest(t, http.MethodGet, "/"), Response: textResponse("home")},
			{Request: mustRequest(t, http.MethodGet, "/app.js"), Response: textResponse("js")},
		})
		require.NoError(t, err)

		resp, err := c.Match(ctx, mustRequest(t, http.MethodGet, "/app.js"))
		require.NoError(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "js", string(resp.Body))
		assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
		assert.False(t, resp.StoredAt.IsZero())

		keys, err := c.Keys(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"GET /", "GET /app.js"}, keys)
	})

	t.Run("HeadMatchesGetEntry", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()

		c, err := s.Open(ctx, "v1")
		require.NoError(t, err)
		require.NoError(t, c.Put(ctx, mustRequest(t, http.MethodGet, "/style.css"), textResponse("css")))

		resp, err := s.Match(ctx, mustRequest(t, http.MethodHead, "/style.css"))
		require.NoError(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, "css", string(resp.Body))
	})

	t.Run("NonGetNeverMatches", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()

		c, err := s.Open(ctx, "v1")
		require.NoError(t, err)
		require.NoError(t, c.Put(ctx, mustRequest(t, http.MethodGet, "/form"), textResponse("form")))

		resp, err := s.Match(ctx, mustRequest(t, http.MethodPost, "/form"))
		require.NoError(t, err)
		assert.Nil(t, resp)

		err = c.Put(ctx, mustRequest(t, http.MethodPost, "/form"), textResponse("posted"))
		require.Error(t, err)
	})

	t.Run("PutReplacesEntry", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()

		c, err := s.Open(ctx, "v1")
		require.NoError(t, err)
		req := mustRequest(t, http.MethodGet, "/index.html")
		require.NoError(t, c.Put(ctx, req, textResponse("old")))
		require.NoError(t, c.Put(ctx, req, textResponse("new")))

		resp, err := c.Match(ctx, req)
		require.NoError(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, "new", string(resp.Body))

		keys, err := c.Keys(ctx)
		require.NoError(t, err)
		assert.Len(t, keys, 1)
	})

	t.Run("UnscopedMatchUsesCreationOrder", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()

		older, err := s.Open(ctx, "photo-planner-v1")
		require.NoError(t, err)
		newer, err := s.Open(ctx, "photo-planner-v2")
		require.NoError(t, err)

		req := mustRequest(t, http.MethodGet, "/manifest.json")
		require.NoError(t, newer.Put(ctx, req, textResponse("v2")))

		resp, err := s.Match(ctx, req)
		require.NoError(t, err)
		require.NotNil(t, resp, "entries from any namespace must match")
		assert.Equal(t, "v2", string(resp.Body))

		require.NoError(t, older.Put(ctx, req, textResponse("v1")))
		resp, err = s.Match(ctx, req)
		require.NoError(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, "v1", string(resp.Body), "first-created namespace wins")

		names, err := s.Namespaces(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"photo-planner-v1", "photo-planner-v2"}, names)
	})

	t.Run("PutAllRejectsInvalidBatchWithoutWriting", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()

		c, err := s.Open(ctx, "v1")
		require.NoError(t, err)

		err = c.PutAll(ctx, []Entry{
			{Request: mustRequest(t, http.MethodGet, "/a"), Response: textResponse("a")},
			{Request: mustRequest(t, http.MethodGet, "/b"), Response: nil},
		})
		require.Error(t, err)

		keys, err := c.Keys(ctx)
		require.NoError(t, err)
		assert.Empty(t, keys)
	})
}
