package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"offlinecache/internal/core"
)

// PostgreSQLStorage stores namespaces and entries in PostgreSQL tables.
type PostgreSQLStorage struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgreSQLStorage creates the cache tables if they don't exist.
func NewPostgreSQLStorage(ctx context.Context, pool *pgxpool.Pool) (*PostgreSQLStorage, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS cache_namespaces (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cache_entries (
			namespace TEXT NOT NULL,
			request_key TEXT NOT NULL,
			response BYTEA NOT NULL,
			stored_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (namespace, request_key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_entries_request_key ON cache_entries(request_key)`,
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to create cache schema: %w", err)
		}
	}

	return &PostgreSQLStorage{pool: pool, now: time.Now}, nil
}

// Open returns the namespace, creating it on first use.
func (s *PostgreSQLStorage) Open(ctx context.Context, namespace string) (Cache, error) {
	if namespace == "" {
		return nil, core.NewInvalidRequestError("cache namespace is empty", nil)
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO cache_namespaces (name, created_at) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`,
		namespace, s.now().UTC())
	if err != nil {
		return nil, core.NewStorageError("failed to open cache namespace", err)
	}
	return &postgresCache{storage: s, namespace: namespace}, nil
}

// Has reports whether the namespace exists.
func (s *PostgreSQLStorage) Has(ctx context.Context, namespace string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM cache_namespaces WHERE name = $1)`, namespace).Scan(&exists)
	if err != nil {
		return false, core.NewStorageError("failed to look up cache namespace", err)
	}
	return exists, nil
}

// Match searches every namespace in creation order.
func (s *PostgreSQLStorage) Match(ctx context.Context, req *core.Request) (*core.Response, error) {
	if !req.Cacheable() {
		return nil, nil
	}
	row := s.pool.QueryRow(ctx, `
		SELECT e.response FROM cache_entries e
		JOIN cache_namespaces n ON n.name = e.namespace
		WHERE e.request_key = $1
		ORDER BY n.id
		LIMIT 1`, req.Key())
	return scanPgxResponse(row)
}

// Namespaces lists namespace names in creation order.
func (s *PostgreSQLStorage) Namespaces(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT name FROM cache_namespaces ORDER BY id`)
	if err != nil {
		return nil, core.NewStorageError("failed to list cache namespaces", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, core.NewStorageError("failed to scan cache namespaces", err)
	}
	return names, nil
}

// Close is a no-op; the pool is owned by the storage layer.
func (s *PostgreSQLStorage) Close() error {
	return nil
}

type postgresCache struct {
	storage   *PostgreSQLStorage
	namespace string
}

func (c *postgresCache) Namespace() string {
	return c.namespace
}

func (c *postgresCache) Match(ctx context.Context, req *core.Request) (*core.Response, error) {
	if !req.Cacheable() {
		return nil, nil
	}
	row := c.storage.pool.QueryRow(ctx,
		`SELECT response FROM cache_entries WHERE namespace = $1 AND request_key = $2`,
		c.namespace, req.Key())
	return scanPgxResponse(row)
}

func (c *postgresCache) Put(ctx context.Context, req *core.Request, resp *core.Response) error {
	return c.PutAll(ctx, []Entry{{Request: req, Response: resp}})
}

func (c *postgresCache) PutAll(ctx context.Context, entries []Entry) error {
	if err := validateEntries(entries); err != nil {
		return core.NewInvalidRequestError("invalid cache entries", err)
	}

	tx, err := c.storage.pool.Begin(ctx)
	if err != nil {
		return core.NewStorageError("failed to begin transaction", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := c.storage.now()
	batch := &pgx.Batch{}
	for _, e := range entries {
		resp := stamped(e.Response, now)
		data, err := encodeResponse(resp)
		if err != nil {
			return core.NewStorageError("failed to encode cache entry", err)
		}
		batch.Queue(`
			INSERT INTO cache_entries (namespace, request_key, response, stored_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (namespace, request_key) DO UPDATE SET
				response = EXCLUDED.response,
				stored_at = EXCLUDED.stored_at`,
			c.namespace, e.Request.Key(), data, resp.StoredAt)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return core.NewStorageError("failed to store cache entries", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return core.NewStorageError("failed to commit cache entries", err)
	}
	return nil
}

func (c *postgresCache) Keys(ctx context.Context) ([]string, error) {
	rows, err := c.storage.pool.Query(ctx,
		`SELECT request_key FROM cache_entries WHERE namespace = $1 ORDER BY request_key`, c.namespace)
	if err != nil {
		return nil, core.NewStorageError("failed to list cache keys", err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, core.NewStorageError("failed to scan cache keys", err)
	}
	return keys, nil
}

func scanPgxResponse(row pgx.Row) (*core.Response, error) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, core.NewStorageError("failed to read cache entry", err)
	}
	resp, err := decodeResponse(data)
	if err != nil {
		return nil, core.NewStorageError("failed to decode cache entry", err)
	}
	return resp, nil
}
