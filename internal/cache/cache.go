// Package cache provides the namespaced response store the offline cache shim
// reads from and populates. Backends: in-memory, JSON file, SQLite, PostgreSQL, MongoDB and Redis.
package cache

import (
	"context"

	"offlinecache/internal/core"
)

// Backend names accepted by New.
const (
	BackendMemory     = "memory"
	BackendFile       = "file"
	BackendSQLite     = "sqlite"
	BackendPostgreSQL = "postgresql"
	BackendMongoDB    = "mongodb"
	BackendRedis      = "redis"
)

// Entry pairs a request identity with the response stored for it.
type Entry struct {
	Request  *core.Request
	Response *core.Response
}

// Cache is a single namespace of stored responses.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Namespace returns the name this cache was opened with.
	Namespace() string

	// Match returns the response stored for req in this namespace.
	// Returns nil, nil on a miss.
	Match(ctx context.Context, req *core.Request) (*core.Response, error)

	// Put stores resp under req's identity, replacing any previous entry.
	Put(ctx context.Context, req *core.Request, resp *core.Response) error

	// PutAll stores every entry or none of them.
	PutAll(ctx context.Context, entries []Entry) error

	// Keys returns the request identities stored in this namespace.
	Keys(ctx context.Context) ([]string, error)
}

// Storage is the set of all namespaces.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Open returns the namespace, creating it on first use.
	Open(ctx context.Context, namespace string) (Cache, error)

	// Has reports whether the namespace exists.
	Has(ctx context.Context, namespace string) (bool, error)

	// Match searches every namespace in creation order and returns the first hit.
	// Returns nil, nil on a miss.
	Match(ctx context.Context, req *core.Request) (*core.Response, error)

	// Namespaces lists namespace names in creation order.
	Namespaces(ctx context.Context) ([]string, error)

	// Close releases any resources held by the storage.
	Close() error
}
