package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"offlinecache/internal/core"
)

// fileSnapshot is the on-disk layout of a FileStorage.
type fileSnapshot struct {
	Version    int              `json:"version"`
	UpdatedAt  time.Time        `json:"updated_at"`
	Namespaces []fileSnapshotNS `json:"namespaces"`
}

type fileSnapshotNS struct {
	Name    string                    `json:"name"`
	Entries map[string]*core.Response `json:"entries"`
}

// FileStorage is a MemoryStorage persisted to a single JSON file after every write.
// This is suitable for single-instance deployments.
type FileStorage struct {
	*MemoryStorage

	writeMu  sync.Mutex
	filePath string
}

// NewFileStorage loads filePath if it exists, otherwise starts empty.
func NewFileStorage(filePath string) (*FileStorage, error) {
	s := &FileStorage{
		MemoryStorage: NewMemoryStorage(),
		filePath:      filePath,
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil // No cache file yet, not an error
		}
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}

	var snap fileSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse cache file: %w", err)
	}
	for _, ns := range snap.Namespaces {
		entries := ns.Entries
		if entries == nil {
			entries = make(map[string]*core.Response)
		}
		s.caches[ns.Name] = entries
		s.order = append(s.order, ns.Name)
	}
	return s, nil
}

// Open returns the namespace, creating and persisting it on first use.
func (s *FileStorage) Open(ctx context.Context, namespace string) (Cache, error) {
	existed, _ := s.MemoryStorage.Has(ctx, namespace)
	c, err := s.MemoryStorage.Open(ctx, namespace)
	if err != nil {
		return nil, err
	}
	if !existed {
		if err := s.persist(); err != nil {
			return nil, core.NewStorageError("failed to persist cache namespace", err)
		}
	}
	return &fileCache{Cache: c, storage: s}, nil
}

// persist writes a snapshot atomically using temp file + rename.
func (s *FileStorage) persist() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	snap := fileSnapshot{Version: 1, UpdatedAt: s.now().UTC()}
	for _, name := range s.order {
		snap.Namespaces = append(snap.Namespaces, fileSnapshotNS{Name: name, Entries: s.caches[name]})
	}
	data, err := json.Marshal(snap)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal cache: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmpFile := s.filePath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := os.Rename(tmpFile, s.filePath); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename cache file: %w", err)
	}
	return nil
}

type fileCache struct {
	Cache
	storage *FileStorage
}

func (c *fileCache) Put(ctx context.Context, req *core.Request, resp *core.Response) error {
	return c.PutAll(ctx, []Entry{{Request: req, Response: resp}})
}

func (c *fileCache) PutAll(ctx context.Context, entries []Entry) error {
	if err := c.Cache.PutAll(ctx, entries); err != nil {
		return err
	}
	if err := c.storage.persist(); err != nil {
		return core.NewStorageError("failed to persist cache entries", err)
	}
	return nil
}
