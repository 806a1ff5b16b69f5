package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// fileCache is a flat, content-keyed response cache on disk. Entries are
// manifests, referrer listings and blobs, all immutable once written (they
// are keyed by digest), so there is no TTL or eviction: one CLI invocation
// is short-lived and stale entries cannot occur for digest-addressed
// content.
type fileCache struct {
	dir string
}

func newFileCache(dir string) (*fileCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory %s: %w", dir, err)
	}
	return &fileCache{dir: dir}, nil
}

func (c *fileCache) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:]))
}

// Get returns the cached entry for key. A missing or unreadable entry is a
// miss, never an error; the cache is best-effort.
func (c *fileCache) Get(key string) ([]byte, bool) {
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return nil, false
	}
	return data, true
}

// Put stores an entry atomically: write to a temp file, then rename, so a
// concurrent reader never observes a partial entry.
func (c *fileCache) Put(key string, data []byte) error {
	tmp, err := os.CreateTemp(c.dir, "entry-*")
	if err != nil {
		return fmt.Errorf("failed to create cache entry: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close cache entry: %w", err)
	}

	if err := os.Rename(tmpName, c.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to commit cache entry: %w", err)
	}
	return nil
}
