package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"offlinecache/internal/core"
)

// MemoryStorage keeps every namespace in process memory.
// Suitable for tests and single-instance deployments that re-populate on start.
type MemoryStorage struct {
	mu     sync.RWMutex
	order  []string
	caches map[string]map[string]*core.Response
	now    func() time.Time
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		caches: make(map[string]map[string]*core.Response),
		now:    time.Now,
	}
}

// Open returns the namespace, creating it on first use.
func (s *MemoryStorage) Open(_ context.Context, namespace string) (Cache, error) {
	if namespace == "" {
		return nil, core.NewInvalidRequestError("cache namespace is empty", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.caches[namespace]; !ok {
		s.caches[namespace] = make(map[string]*core.Response)
		s.order = append(s.order, namespace)
	}
	return &memoryCache{storage: s, namespace: namespace}, nil
}

// Has reports whether the namespace exists.
func (s *MemoryStorage) Has(_ context.Context, namespace string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.caches[namespace]
	return ok, nil
}

// Match searches every namespace in creation order.
func (s *MemoryStorage) Match(_ context.Context, req *core.Request) (*core.Response, error) {
	if !req.Cacheable() {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	key := req.Key()
	for _, ns := range s.order {
		if resp, ok := s.caches[ns][key]; ok {
			return resp.Clone(), nil
		}
	}
	return nil, nil
}

// Namespaces lists namespace names in creation order.
func (s *MemoryStorage) Namespaces(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...), nil
}

// Close is a no-op for memory storage.
func (s *MemoryStorage) Close() error {
	return nil
}

type memoryCache struct {
	storage   *MemoryStorage
	namespace string
}

func (c *memoryCache) Namespace() string {
	return c.namespace
}

func (c *memoryCache) Match(_ context.Context, req *core.Request) (*core.Response, error) {
	if !req.Cacheable() {
		return nil, nil
	}

	c.storage.mu.RLock()
	defer c.storage.mu.RUnlock()

	if resp, ok := c.storage.caches[c.namespace][req.Key()]; ok {
		return resp.Clone(), nil
	}
	return nil, nil
}

func (c *memoryCache) Put(ctx context.Context, req *core.Request, resp *core.Response) error {
	return c.PutAll(ctx, []Entry{{Request: req, Response: resp}})
}

func (c *memoryCache) PutAll(_ context.Context, entries []Entry) error {
	if err := validateEntries(entries); err != nil {
		return core.NewInvalidRequestError("invalid cache entries", err)
	}

	c.storage.mu.Lock()
	defer c.storage.mu.Unlock()

	entriesByKey := c.storage.caches[c.namespace]
	now := c.storage.now()
	for _, e := range entries {
		entriesByKey[e.Request.Key()] = stamped(e.Response, now)
	}
	return nil
}

func (c *memoryCache) Keys(_ context.Context) ([]string, error) {
	c.storage.mu.RLock()
	defer c.storage.mu.RUnlock()

	keys := make([]string, 0, len(c.storage.caches[c.namespace]))
	for k := range c.storage.caches[c.namespace] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
