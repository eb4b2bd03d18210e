// Package local implements a filesystem cache for downloaded course files.
package local

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Cache stores downloaded file content under a base directory so
// unchanged files do not have to be fetched twice.
type Cache struct {
	baseDir string
}

// New creates the cache directory if needed and verifies it is writable.
func New(baseDir string) (*Cache, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("cache directory is required")
	}
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	probe := filepath.Join(baseDir, ".writable")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return nil, fmt.Errorf("cache directory is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("clean up probe file: %w", err)
	}
	return &Cache{baseDir: baseDir}, nil
}

// path resolves a cache key and rejects traversal outside the base dir.
func (c *Cache) path(key string) (string, error) {
	full := filepath.Join(c.baseDir, filepath.FromSlash(key))
	clean := filepath.Clean(full)
	base := filepath.Clean(c.baseDir)
	if clean != base && !strings.HasPrefix(clean, base+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid cache key %q", key)
	}
	return clean, nil
}

// Put writes data under the key, creating parent directories as needed.
func (c *Cache) Put(key string, data []byte) (string, error) {
	full, err := c.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return "", fmt.Errorf("create parent directories: %w", err)
	}
	if err := os.WriteFile(full, data, 0o640); err != nil {
		return "", fmt.Errorf("write cache file: %w", err)
	}
	return full, nil
}

// Get returns the cached content for the key, or ok=false if absent.
func (c *Cache) Get(key string) ([]byte, bool, error) {
	full, err := c.path(key)
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(full)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cache file: %w", err)
	}
	return data, true, nil
}

// Prune removes entries under the key prefix that were written before
// the cutoff. Stale blobs accumulate as fingerprints change, since each
// new file version lands under a fresh key.
func (c *Cache) Prune(prefix string, cutoff time.Time) (int, error) {
	root, err := c.path(prefix)
	if err != nil {
		return 0, err
	}

	removed := 0
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(p); err != nil {
				return fmt.Errorf("prune cache file: %w", err)
			}
			removed++
		}
		return nil
	})
	if os.IsNotExist(err) {
		return removed, nil
	}
	return removed, err
}

// Remove deletes the cached entry if it exists.
func (c *Cache) Remove(key string) error {
	full, err := c.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove cache file: %w", err)
	}
	return nil
}
