package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"offlinecache/internal/core"
)

// SQLiteStorage stores namespaces and entries in SQLite tables.
type SQLiteStorage struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStorage creates the cache tables if they don't exist.
func NewSQLiteStorage(db *sql.DB) (*SQLiteStorage, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS cache_namespaces (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cache_entries (
			namespace TEXT NOT NULL,
			request_key TEXT NOT NULL,
			response BLOB NOT NULL,
			stored_at DATETIME NOT NULL,
			PRIMARY KEY (namespace, request_key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_entries_request_key ON cache_entries(request_key)`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("failed to create cache schema: %w", err)
		}
	}

	return &SQLiteStorage{db: db, now: time.Now}, nil
}

// Open returns the namespace, creating it on first use.
func (s *SQLiteStorage) Open(ctx context.Context, namespace string) (Cache, error) {
	if namespace == "" {
		return nil, core.NewInvalidRequestError("cache namespace is empty", nil)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_namespaces (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		namespace, s.now().UTC())
	if err != nil {
		return nil, core.NewStorageError("failed to open cache namespace", err)
	}
	return &sqliteCache{storage: s, namespace: namespace}, nil
}

// Has reports whether the namespace exists.
func (s *SQLiteStorage) Has(ctx context.Context, namespace string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM cache_namespaces WHERE name = ?`, namespace).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, core.NewStorageError("failed to look up cache namespace", err)
	}
	return true, nil
}

// Match searches every namespace in creation order.
func (s *SQLiteStorage) Match(ctx context.Context, req *core.Request) (*core.Response, error) {
	if !req.Cacheable() {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT e.response FROM cache_entries e
		JOIN cache_namespaces n ON n.name = e.namespace
		WHERE e.request_key = ?
		ORDER BY n.id
		LIMIT 1`, req.Key())
	return scanResponse(row)
}

// Namespaces lists namespace names in creation order.
func (s *SQLiteStorage) Namespaces(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM cache_namespaces ORDER BY id`)
	if err != nil {
		return nil, core.NewStorageError("failed to list cache namespaces", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// Close is a no-op; the connection is owned by the storage layer.
func (s *SQLiteStorage) Close() error {
	return nil
}

type sqliteCache struct {
	storage   *SQLiteStorage
	namespace string
}

func (c *sqliteCache) Namespace() string {
	return c.namespace
}

func (c *sqliteCache) Match(ctx context.Context, req *core.Request) (*core.Response, error) {
	if !req.Cacheable() {
		return nil, nil
	}
	row := c.storage.db.QueryRowContext(ctx,
		`SELECT response FROM cache_entries WHERE namespace = ? AND request_key = ?`,
		c.namespace, req.Key())
	return scanResponse(row)
}

func (c *sqliteCache) Put(ctx context.Context, req *core.Request, resp *core.Response) error {
	return c.PutAll(ctx, []Entry{{Request: req, Response: resp}})
}

func (c *sqliteCache) PutAll(ctx context.Context, entries []Entry) error {
	if err := validateEntries(entries); err != nil {
		return core.NewInvalidRequestError("invalid cache entries", err)
	}

	tx, err := c.storage.db.BeginTx(ctx, nil)
	if err != nil {
		return core.NewStorageError("failed to begin transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := c.storage.now()
	for _, e := range entries {
		resp := stamped(e.Response, now)
		data, err := encodeResponse(resp)
		if err != nil {
			return core.NewStorageError("failed to encode cache entry", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO cache_entries (namespace, request_key, response, stored_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(namespace, request_key) DO UPDATE SET
				response = excluded.response,
				stored_at = excluded.stored_at`,
			c.namespace, e.Request.Key(), data, resp.StoredAt)
		if err != nil {
			return core.NewStorageError("failed to store cache entry", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return core.NewStorageError("failed to commit cache entries", err)
	}
	return nil
}

func (c *sqliteCache) Keys(ctx context.Context) ([]string, error) {
	rows, err := c.storage.db.QueryContext(ctx,
		`SELECT request_key FROM cache_entries WHERE namespace = ? ORDER BY request_key`, c.namespace)
	if err != nil {
		return nil, core.NewStorageError("failed to list cache keys", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

func scanResponse(row *sql.Row) (*core.Response, error) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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

func scanStrings(rows *sql.Rows) ([]string, error) {
	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, core.NewStorageError("failed to scan row", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewStorageError("failed to iterate rows", err)
	}
	return out, nil
}
