// Package dircache persists a per-directory content digest so unchanged
// directories can be excluded from subsequent scans. Each directory is
// digested over its own immediate image files only; subdirectories get
// independent entries, so a change deep in the tree invalidates exactly
// one entry.
package dircache

import (
	"crypto/md5" //nolint:gosec // change detection, not security
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"photoatlas/internal/fsutil"
	"photoatlas/internal/imageformats"
	"photoatlas/internal/logging"
)

// Cache maps directory paths to content digests. Load and Save handle
// the side file; everything else is in-memory. The zero value is not
// usable; call New.
type Cache struct {
	mu      sync.RWMutex
	path    string
	entries map[string]string
}

// New creates a cache persisted at path. The file does not need to
// exist yet.
func New(path string) *Cache {
	return &Cache{
		path:    path,
		entries: make(map[string]string),
	}
}

// Hash digests a directory's identity: its own path plus the name and
// modification time of each immediate image file, folded in sorted
// order. A moved or renamed directory therefore digests as new.
// Listing errors yield an empty digest, which never matches a stored
// entry, so an unreadable directory is treated as changed.
func Hash(dirPath string) string {
	h := md5.New() //nolint:gosec // change detection, not security
	h.Write([]byte(dirPath))

	entries, err := fsutil.ReadDir(dirPath)
	if err != nil {
		logging.Debug("dircache: cannot list %s: %v", dirPath, err)
		return ""
	}

	names := make([]string, 0, len(entries))
	byName := make(map[string]os.DirEntry, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !imageformats.IsImage(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
		byName[entry.Name()] = entry
	}
	sort.Strings(names)

	for _, name := range names {
		info, err := byName[name].Info()
		if err != nil {
			continue // vanished mid-listing, leave it out of the digest
		}
		h.Write([]byte(name))
		h.Write([]byte(strconv.FormatInt(info.ModTime().UnixNano(), 10)))
	}

	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the stored digest for a directory.
func (c *Cache) Get(dirPath string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	digest, ok := c.entries[dirPath]
	return digest, ok
}

// Put stores a directory's digest.
func (c *Cache) Put(dirPath, digest string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[dirPath] = digest
}

// Unchanged reports whether the directory's current digest matches the
// stored one, and stores the current digest either way so the next run
// sees this run's state.
func (c *Cache) Unchanged(dirPath string) bool {
	current := Hash(dirPath)
	if current == "" {
		return false
	}

	stored, ok := c.Get(dirPath)
	c.Put(dirPath, current)
	return ok && stored == current
}

// Len returns the number of cached directories.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Load reads the persisted cache. A missing, unreadable, or corrupt
// side file degrades to an empty cache (every directory treated as
// changed), never to an error.
func (c *Cache) Load() {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Warn("dircache: failed to read %s: %v", c.path, err)
		}
		return
	}

	entries := make(map[string]string)
	if err := json.Unmarshal(data, &entries); err != nil {
		logging.Warn("dircache: corrupt cache file %s, ignoring: %v", c.path, err)
		return
	}

	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()

	logging.Info("Loaded directory cache with %d entries", len(entries))
}

// Save writes the cache to its side file atomically (temp file then
// rename), so an interrupted save never leaves a truncated cache.
func (c *Cache) Save() error {
	c.mu.RLock()
	data, err := json.Marshal(c.entries)
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("dircache: marshal: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("dircache: create workspace dir: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("dircache: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("dircache: rename into place: %w", err)
	}

	logging.Debug("Directory cache saved to %s (%d entries)", c.path, c.Len())
	return nil
}
