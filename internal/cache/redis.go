package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"offlinecache/internal/core"
)

// DefaultRedisKeyPrefix is the default prefix for every key the cache writes.
const DefaultRedisKeyPrefix = "offlinecache"

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., "redis://localhost:6379" or "redis://:password@host:6379/0")
	URL string

	// KeyPrefix namespaces all keys (defaults to "offlinecache")
	KeyPrefix string
}

// RedisStorage keeps the namespace registry in a sorted set scored by creation
// time and each namespace's entries in one hash.
// Suitable for multi-instance deployments behind a load balancer.
type RedisStorage struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStorage connects to Redis and verifies the connection.
func NewRedisStorage(cfg RedisConfig) (*RedisStorage, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}

	slog.Info("redis cache connected", "prefix", prefix)

	return &RedisStorage{client: client, prefix: prefix, now: time.Now}, nil
}

func (s *RedisStorage) registryKey() string {
	return s.prefix + ":namespaces"
}

func (s *RedisStorage) namespaceKey(namespace string) string {
	return s.prefix + ":ns:" + namespace
}

// Open returns the namespace, creating it on first use.
func (s *RedisStorage) Open(ctx context.Context, namespace string) (Cache, error) {
	if namespace == "" {
		return nil, core.NewInvalidRequestError("cache namespace is empty", nil)
	}
	if err := s.register(ctx, s.client, namespace); err != nil {
		return nil, core.NewStorageError("failed to open cache namespace", err)
	}
	return &redisCache{storage: s, namespace: namespace}, nil
}

func (s *RedisStorage) register(ctx context.Context, c redis.Cmdable, namespace string) error {
	return c.ZAddNX(ctx, s.registryKey(), redis.Z{
		Score:  float64(s.now().UnixNano()),
		Member: namespace,
	}).Err()
}

// Has reports whether the namespace exists.
func (s *RedisStorage) Has(ctx context.Context, namespace string) (bool, error) {
	err := s.client.ZScore(ctx, s.registryKey(), namespace).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, core.NewStorageError("failed to look up cache namespace", err)
	}
	return true, nil
}

// Match searches every namespace in creation order.
func (s *RedisStorage) Match(ctx context.Context, req *core.Request) (*core.Response, error) {
	if !req.Cacheable() {
		return nil, nil
	}

	names, err := s.Namespaces(ctx)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, nil
	}

	key := req.Key()
	cmds := make([]*redis.StringCmd, len(names))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, ns := range names {
			cmds[i] = pipe.HGet(ctx, s.namespaceKey(ns), key)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, core.NewStorageError("failed to query cache entries", err)
	}

	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, core.NewStorageError("failed to read cache entry", err)
		}
		return decodeRedisEntry(data)
	}
	return nil, nil
}

// Namespaces lists namespace names in creation order.
func (s *RedisStorage) Namespaces(ctx context.Context) ([]string, error) {
	names, err := s.client.ZRange(ctx, s.registryKey(), 0, -1).Result()
	if err != nil {
		return nil, core.NewStorageError("failed to list cache namespaces", err)
	}
	return names, nil
}

// Close closes the Redis connection.
func (s *RedisStorage) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

type redisCache struct {
	storage   *RedisStorage
	namespace string
}

func (c *redisCache) Namespace() string {
	return c.namespace
}

func (c *redisCache) Match(ctx context.Context, req *core.Request) (*core.Response, error) {
	if !req.Cacheable() {
		return nil, nil
	}
	data, err := c.storage.client.HGet(ctx, c.storage.namespaceKey(c.namespace), req.Key()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, core.NewStorageError("failed to read cache entry", err)
	}
	return decodeRedisEntry(data)
}

func (c *redisCache) Put(ctx context.Context, req *core.Request, resp *core.Response) error {
	return c.PutAll(ctx, []Entry{{Request: req, Response: resp}})
}

// PutAll writes every entry inside one MULTI/EXEC transaction.
func (c *redisCache) PutAll(ctx context.Context, entries []Entry) error {
	if err := validateEntries(entries); err != nil {
		return core.NewInvalidRequestError("invalid cache entries", err)
	}
	if len(entries) == 0 {
		return nil
	}

	now := c.storage.now()
	fields := make(map[string]interface{}, len(entries))
	for _, e := range entries {
		data, err := encodeResponse(stamped(e.Response, now))
		if err != nil {
			return core.NewStorageError("failed to encode cache entry", err)
		}
		fields[e.Request.Key()] = data
	}

	_, err := c.storage.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if err := c.storage.register(ctx, pipe, c.namespace); err != nil {
			return err
		}
		pipe.HSet(ctx, c.storage.namespaceKey(c.namespace), fields)
		return nil
	})
	if err != nil {
		return core.NewStorageError("failed to store cache entries", err)
	}
	return nil
}

func (c *redisCache) Keys(ctx context.Context) ([]string, error) {
	keys, err := c.storage.client.HKeys(ctx, c.storage.namespaceKey(c.namespace)).Result()
	if err != nil {
		return nil, core.NewStorageError("failed to list cache keys", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func decodeRedisEntry(data []byte) (*core.Response, error) {
	resp, err := decodeResponse(data)
	if err != nil {
		return nil, core.NewStorageError("failed to decode cache entry", err)
	}
	return resp, nil
}
