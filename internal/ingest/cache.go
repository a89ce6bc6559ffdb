package ingest

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Cache keeps downloaded stack files on disk, keyed by their remote path.
type Cache struct {
	dir    string
	maxAge time.Duration
}

// NewCache creates the cache directory. A zero maxAge keeps files forever.
func NewCache(dir string, maxAge time.Duration) (*Cache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	return &Cache{dir: dir, maxAge: maxAge}, nil
}

func (c *Cache) Dir() string { return c.dir }

// Path maps a remote path into the cache directory. Leading slashes and ".." segments are
// dropped so every remote path stays inside the cache.
func (c *Cache) Path(remote string) string {
	clean := strings.TrimPrefix(path.Clean("/"+remote), "/")
	return filepath.Join(c.dir, filepath.FromSlash(clean))
}

// Fresh reports whether remote is cached and younger than maxAge.
func (c *Cache) Fresh(remote string) bool {
	info, err := os.Stat(c.Path(remote))
	if err != nil || info.IsDir() {
		return false
	}
	if c.maxAge > 0 && time.Since(info.ModTime()) > c.maxAge {
		return false
	}
	return true
}

// Put writes r to the cache entry for remote. The entry is replaced atomically so a failed
// download never leaves a truncated file behind.
func (c *Cache) Put(remote string, r io.Reader) (int64, error) {
	dst := c.Path(remote)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".partial-*")
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return n, err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return n, err
	}
	return n, nil
}

// List returns the remote paths of every cached file, sorted.
func (c *Cache) List() []string {
	var files []string
	filepath.WalkDir(c.dir, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || strings.HasPrefix(d.Name(), ".partial-") {
			return nil
		}
		rel, err := filepath.Rel(c.dir, p)
		if err == nil {
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	sort.Strings(files)
	return files
}
