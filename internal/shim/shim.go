// Package shim implements the offline cache shim: it precaches a fixed asset
// list into a named cache on activation and answers every fetch from any cache
// namespace before falling through to the network.
package shim

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"offlinecache/internal/cache"
	"offlinecache/internal/core"
)

// DefaultConcurrency bounds parallel asset fetches during Initialize.
const DefaultConcurrency = 4

// Config holds the activation constants.
type Config struct {
	// Namespace is the cache the asset list is stored in.
	Namespace string
	// Assets are the resource identifiers guaranteed present after activation.
	Assets []string
	// Concurrency bounds parallel asset fetches (default: 4)
	Concurrency int
}

// Shim is the long-lived offline cache service. It is safe for concurrent use;
// each HandleFetch call is independent and the cache storage serializes its own access.
type Shim struct {
	storage cache.Storage
	fetcher core.Fetcher
	cfg     Config
	hooks   Hooks
}

// Option configures a Shim.
type Option func(*Shim)

// WithHooks installs observability hooks.
func WithHooks(h Hooks) Option {
	return func(s *Shim) {
		if h != nil {
			s.hooks = h
		}
	}
}

// New creates a Shim over the given cache storage and network fetcher.
func New(storage cache.Storage, fetcher core.Fetcher, cfg Config, opts ...Option) (*Shim, error) {
	if storage == nil {
		return nil, fmt.Errorf("cache storage is required")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	cfg.Assets = append([]string(nil), cfg.Assets...)

	s := &Shim{
		storage: storage,
		fetcher: fetcher,
		cfg:     cfg,
		hooks:   NoopHooks{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the activation constants the shim was built with.
func (s *Shim) Config() Config {
	c := s.cfg
	c.Assets = append([]string(nil), s.cfg.Assets...)
	return c
}

// Initialize opens (or creates) namespace and stores a network response for every
// asset. Entries are committed only after every fetch returned a 2xx response;
// any failure fails the whole operation.
func (s *Shim) Initialize(ctx context.Context, assets []string, namespace string) (err error) {
	start := time.Now()
	defer func() {
		s.hooks.InitializeCompleted(namespace, len(assets), time.Since(start), err)
	}()

	if namespace == "" {
		return core.NewInitializationError("", "cache namespace is empty", nil)
	}

	requests := make([]*core.Request, len(assets))
	seen := make(map[string]struct{}, len(assets))
	for i, id := range assets {
		req, reqErr := core.NewRequest("GET", id)
		if reqErr != nil {
			return core.NewInitializationError(id, "invalid asset identifier", reqErr)
		}
		if _, dup := seen[req.Key()]; dup {
			return core.NewInitializationError(id, "duplicate asset identifier", nil)
		}
		seen[req.Key()] = struct{}{}
		requests[i] = req
	}

	c, openErr := s.storage.Open(ctx, namespace)
	if openErr != nil {
		return core.NewInitializationError("", "failed to open cache namespace "+namespace, openErr)
	}

	responses := make([]*core.Response, len(requests))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, req := range requests {
		g.Go(func() error {
			resp, fetchErr := s.fetcher.Fetch(gctx, req)
			if fetchErr != nil {
				return core.NewInitializationError(req.URL, "asset fetch failed", fetchErr)
			}
			if !resp.OK() {
				return core.NewInitializationError(req.URL,
					fmt.Sprintf("asset fetch returned status %d", resp.StatusCode), nil)
			}
			responses[i] = resp.ForStorage()
			return nil
		})
	}
	if waitErr := g.Wait(); waitErr != nil {
		slog.Warn("precache failed", "namespace", namespace, "error", waitErr)
		return waitErr
	}

	entries := make([]cache.Entry, len(requests))
	for i := range requests {
		entries[i] = cache.Entry{Request: requests[i], Response: responses[i]}
	}
	if putErr := c.PutAll(ctx, entries); putErr != nil {
		return core.NewInitializationError("", "failed to store assets", putErr)
	}

	slog.Info("precache complete",
		"namespace", namespace,
		"assets", len(entries),
		"duration", time.Since(start),
	)
	return nil
}

// Install fires the activation signal: it runs Initialize with the configured
// namespace and asset list in the background and returns the pending result.
func (s *Shim) Install(ctx context.Context) *Activation {
	a := newActivation(s.cfg.Namespace)
	go func() {
		a.complete(s.Initialize(ctx, s.cfg.Assets, s.cfg.Namespace))
	}()
	return a
}

// HandleFetch answers a request from any cache namespace, or from the network on a miss.
// On a miss the network's response, whatever its status, is returned unchanged;
// a network failure is returned as a fetch error wrapping the original error.
func (s *Shim) HandleFetch(ctx context.Context, req *core.Request) (*core.Response, bool, error) {
	if req == nil {
		return nil, false, core.NewInvalidRequestError("request is required", nil)
	}

	cached, err := s.storage.Match(ctx, req)
	if err != nil {
		// a broken store must not take the origin down with it
		slog.Warn("cache lookup failed, falling through to network",
			"key", req.Key(),
			"request_id", core.GetRequestID(ctx),
			"error", err,
		)
		s.hooks.CacheLookupFailed()
	} else if cached != nil {
		s.hooks.FetchHandled(OutcomeHit)
		return cached, true, nil
	}

	resp, err := s.fetcher.Fetch(ctx, req)
	if err != nil {
		s.hooks.FetchHandled(OutcomeNetworkError)
		return nil, false, core.NewFetchError(req.URL, err)
	}
	s.hooks.FetchHandled(OutcomeMiss)
	return resp, false, nil
}
