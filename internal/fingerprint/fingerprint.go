// Package fingerprint computes cheap sampled content hashes used as an
// identity signal for indexed files. The hash is not a uniqueness key;
// path is the index identity.
package fingerprint

import (
	"crypto/md5" //nolint:gosec // identity sampling, not security
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"photoatlas/internal/fsutil"
)

// SampleSize is the window read from each end of large files.
const SampleSize = 64 * 1024

// File hashes the file at path. Files at or below 2*SampleSize are
// hashed in full; larger files hash only the first and last SampleSize
// bytes, bounding I/O cost while keeping good collision resistance for
// duplicate signalling.
func File(path string) (string, error) {
	info, err := fsutil.Stat(path)
	if err != nil {
		return "", fmt.Errorf("fingerprint: stat %s: %w", path, err)
	}

	f, err := fsutil.Open(path)
	if err != nil {
		return "", fmt.Errorf("fingerprint: open %s: %w", path, err)
	}
	defer f.Close()

	h := md5.New() //nolint:gosec // identity sampling, not security

	if info.Size() <= 2*SampleSize {
		if _, err := io.Copy(h, f); err != nil {
			return "", fmt.Errorf("fingerprint: read %s: %w", path, err)
		}
		return hex.EncodeToString(h.Sum(nil)), nil
	}

	if _, err := io.CopyN(h, f, SampleSize); err != nil {
		return "", fmt.Errorf("fingerprint: read head of %s: %w", path, err)
	}
	if _, err := f.Seek(-SampleSize, io.SeekEnd); err != nil {
		return "", fmt.Errorf("fingerprint: seek %s: %w", path, err)
	}
	if _, err := io.CopyN(h, f, SampleSize); err != nil && err != io.EOF {
		return "", fmt.Errorf("fingerprint: read tail of %s: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// cacheKey identifies a file snapshot. A changed mtime or size misses
// the cache, so memoized entries never go stale within a run.
type cacheKey struct {
	path    string
	modTime int64
	size    int64
}

// Cache memoizes fingerprints for the duration of a run. Safe for
// concurrent use by extraction workers.
type Cache struct {
	mu      sync.Mutex
	entries map[cacheKey]string
	maxSize int
}

// NewCache creates a fingerprint cache holding up to maxSize entries
// (0 means the default of 10000).
func NewCache(maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &Cache{
		entries: make(map[cacheKey]string),
		maxSize: maxSize,
	}
}

// File returns the fingerprint for path, computing and memoizing it on
// first use for the file's current mtime and size.
func (c *Cache) File(path string) (string, error) {
	info, err := fsutil.Stat(path)
	if err != nil {
		return "", fmt.Errorf("fingerprint: stat %s: %w", path, err)
	}

	key := cacheKey{path: path, modTime: info.ModTime().UnixNano(), size: info.Size()}

	c.mu.Lock()
	if hash, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return hash, nil
	}
	c.mu.Unlock()

	hash, err := File(path)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	if len(c.entries) >= c.maxSize {
		// Full cache: drop everything rather than track recency. Runs
		// rarely revisit more than maxSize distinct files anyway.
		c.entries = make(map[cacheKey]string)
	}
	c.entries[key] = hash
	c.mu.Unlock()

	return hash, nil
}

// Len returns the number of memoized entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
