package cache

import (
	"context"
	"errors"
	"fmt"

	"offlinecache/internal/storage"
)

// DefaultFilePath is where the file backend keeps its snapshot.
const DefaultFilePath = ".cache/offlinecache.json"

// Config selects and configures a cache backend.
type Config struct {
	// Backend is one of memory, file, sqlite, postgresql, mongodb or redis (default: memory)
	Backend string

	// FilePath is the snapshot path for the file backend
	FilePath string

	// Storage configures the database connection for sqlite, postgresql and mongodb.
	// Its Type is derived from Backend.
	Storage storage.Config

	Redis RedisConfig
}

// Result holds the initialized cache storage and the connection it runs on.
// The caller is responsible for calling Close() to release resources.
type Result struct {
	Storage Storage
	DB      storage.Storage
}

// Close releases all resources held by the cache.
// Safe to call multiple times.
func (r *Result) Close() error {
	var errs []error
	if r.Storage != nil {
		if err := r.Storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("cache close: %w", err))
		}
		r.Storage = nil
	}
	if r.DB != nil {
		if err := r.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
		r.DB = nil
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %w", errors.Join(errs...))
	}
	return nil
}

// New creates the configured cache backend.
// The caller must call Result.Close() during shutdown.
func New(ctx context.Context, cfg Config) (*Result, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return &Result{Storage: NewMemoryStorage()}, nil

	case BackendFile:
		path := cfg.FilePath
		if path == "" {
			path = DefaultFilePath
		}
		s, err := NewFileStorage(path)
		if err != nil {
			return nil, err
		}
		return &Result{Storage: s}, nil

	case BackendRedis:
		s, err := NewRedisStorage(cfg.Redis)
		if err != nil {
			return nil, err
		}
		return &Result{Storage: s}, nil

	case BackendSQLite, BackendPostgreSQL, BackendMongoDB:
		storageCfg := cfg.Storage
		storageCfg.Type = cfg.Backend
		db, err := storage.New(ctx, storageCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage: %w", err)
		}
		s, err := NewWithSharedStorage(ctx, db)
		if err != nil {
			db.Close()
			return nil, err
		}
		return &Result{Storage: s, DB: db}, nil

	default:
		return nil, fmt.Errorf("unknown cache backend: %s (valid: memory, file, sqlite, postgresql, mongodb, redis)", cfg.Backend)
	}
}

// NewWithSharedStorage creates a cache storage on an existing database connection.
// The caller is responsible for closing the connection separately.
func NewWithSharedStorage(ctx context.Context, db storage.Storage) (Storage, error) {
	if db == nil {
		return nil, fmt.Errorf("storage is required")
	}

	switch db.Type() {
	case storage.TypeSQLite:
		return NewSQLiteStorage(db.SQLiteDB())
	case storage.TypePostgreSQL:
		return NewPostgreSQLStorage(ctx, db.PostgreSQLPool())
	case storage.TypeMongoDB:
		return NewMongoDBStorage(db.MongoDatabase())
	default:
		return nil, fmt.Errorf("unknown storage type: %s", db.Type())
	}
}
