package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/felixgeelhaar/pylearn/internal/storage"
)

// DefaultQuota mirrors the per-origin limit of browser local storage.
const DefaultQuota = 5 << 20

// Store provides thread-safe file storage, one file per key
type Store struct {
	basePath string
	quota    int64
	mu       sync.RWMutex
}

// NewStore creates a new local file store. A quota of zero disables the
// size check.
func NewStore(basePath string, quota int64) (*Store, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &Store{basePath: basePath, quota: quota}, nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.basePath, sanitizeKey(key)+".json")
}

// sanitizeKey keeps keys inside basePath.
func sanitizeKey(key string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", "..", "_")
	return r.Replace(key)
}

// Get reads the value stored under key
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

// Set writes value under key. The write goes to a temp file first and is
// renamed into place.
func (s *Store) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.path(key)
	if s.quota > 0 {
		used, err := s.usage(target)
		if err != nil {
			return err
		}
		if used+int64(len(value)) > s.quota {
			return storage.ErrQuotaExceeded
		}
	}

	tmp, err := os.CreateTemp(s.basePath, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename file: %w", err)
	}

	return nil
}

// Delete removes the file for key
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(key)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("remove file: %w", err)
	}

	return nil
}

// usage sums the size of stored values, excluding the file about to be
// replaced.
func (s *Store) usage(exclude string) (int64, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return 0, fmt.Errorf("read directory: %w", err)
	}
	var total int64
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		if filepath.Join(s.basePath, entry.Name()) == exclude {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}

var _ storage.KV = (*Store)(nil)
