package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestSQLiteConcurrentWriteSafety(t *testing.T) {
	store, err := NewSQLite(SQLiteConfig{Path: filepath.Join(t.TempDir(), "nested", "test.db")})
	if err != nil {
		t.Fatalf("failed to create SQLite storage: %v", err)
	}
	defer store.Close()

	if store.Type() != TypeSQLite {
		t.Fatalf("Type() = %q, want %q", store.Type(), TypeSQLite)
	}
	if store.PostgreSQLPool() != nil || store.MongoDatabase() != nil {
		t.Fatal("SQLite storage must not expose other backends")
	}

	db := store.SQLiteDB()
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS test_entries (id TEXT PRIMARY KEY, data TEXT)`); err != nil {
		t.Fatalf("failed to create table: %v", err)
	}

	const goroutines = 8
	const insertsPerGoroutine = 25

	var wg sync.WaitGroup
	errs := make(chan error, goroutines*insertsPerGoroutine)

	// Mirrors several in-flight requests storing entries at once.
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < insertsPerGoroutine; j++ {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				_, err := db.ExecContext(ctx, `INSERT INTO test_entries (id, data) VALUES (?, ?)`,
					fmt.Sprintf("%d-%d", id, j), "payload")
				cancel()
				if err != nil {
					errs <- fmt.Errorf("goroutine %d insert %d: %w", id, j, err)
				}
			}
		}(i)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent write error: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM test_entries").Scan(&count); err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	if count != goroutines*insertsPerGoroutine {
		t.Errorf("got %d rows, want %d", count, goroutines*insertsPerGoroutine)
	}
}

func TestNewUnknownType(t *testing.T) {
	_, err := New(context.Background(), Config{Type: "cassandra"})
	if err == nil {
		t.Fatal("expected error for unknown storage type")
	}
}

func TestNewRequiresURLs(t *testing.T) {
	ctx := context.Background()
	if _, err := New(ctx, Config{Type: TypePostgreSQL}); err == nil {
		t.Error("expected error for missing PostgreSQL URL")
	}
	if _, err := New(ctx, Config{Type: TypeMongoDB}); err == nil {
		t.Error("expected error for missing MongoDB URL")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Type != TypeSQLite {
		t.Errorf("Type = %q, want %q", cfg.Type, TypeSQLite)
	}
	if cfg.SQLite.Path == "" || cfg.MongoDB.Database == "" || cfg.PostgreSQL.MaxConns == 0 {
		t.Errorf("defaults not populated: %+v", cfg)
	}
}
