// Package filecache keeps recently read output file metadata in memory.
//
// Entries are keyed by path and validated against the file's size and
// modification time, so a regenerated file is never served from a stale
// entry. Entries also expire after a TTL and the cache holds a bounded
// number of paths.
package filecache

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"git.home.luguber.info/inful/llmstxt/internal/foundation/errors"
)

const (
	defaultTTL        = time.Minute
	defaultMaxEntries = 16
)

// Info describes one file.
type Info struct {
	Name          string    `json:"name"`
	Path          string    `json:"path"`
	Exists        bool      `json:"exists"`
	Size          int64     `json:"size"`
	SizeFormatted string    `json:"size_formatted,omitempty"`
	ModTime       time.Time `json:"modified_at,omitzero"`
	SHA256        string    `json:"sha256,omitempty"`
	Lines         int       `json:"lines"`
}

type entry struct {
	info     Info
	cachedAt time.Time
}

// Cache is safe for concurrent use.
type Cache struct {
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]entry
	hits    int
	misses  int
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets how long an entry is trusted.
func WithTTL(d time.Duration) Option { return func(c *Cache) { c.ttl = d } }

// WithMaxEntries bounds the number of cached paths.
func WithMaxEntries(n int) Option { return func(c *Cache) { c.maxEntries = n } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(c *Cache) { c.now = now } }

// New returns an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		ttl:        defaultTTL,
		maxEntries: defaultMaxEntries,
		now:        time.Now,
		entries:    make(map[string]entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxEntries < 1 {
		c.maxEntries = 1
	}
	return c
}

// Stat returns the metadata of path, hashing the file only when the cached
// entry is missing, expired or no longer matches the file on disk.
// A missing file is reported with Exists false and no error.
func (c *Cache) Stat(path string) (Info, error) {
	path = filepath.Clean(path)
	fi, err := os.Stat(path)
	if os.IsNotExist(err) {
		c.Invalidate(path)
		return Info{Name: filepath.Base(path), Path: path}, nil
	}
	if err != nil {
		return Info{}, errors.WrapError(err, errors.CategoryFileSystem, "failed to stat file").
			WithContext("path", path).Build()
	}

	now := c.now()
	c.mu.Lock()
	if e, ok := c.entries[path]; ok && now.Sub(e.cachedAt) < c.ttl &&
		e.info.Size == fi.Size() && e.info.ModTime.Equal(fi.ModTime()) {
		c.hits++
		c.mu.Unlock()
		return e.info, nil
	}
	c.misses++
	c.mu.Unlock()

	info, err := read(path, fi)
	if err != nil {
		return Info{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[path]; !ok && len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	c.entries[path] = entry{info: info, cachedAt: now}
	return info, nil
}

func read(path string, fi os.FileInfo) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, errors.WrapError(err, errors.CategoryFileSystem, "failed to open file").
			WithContext("path", path).Build()
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	lines := &lineCounter{}
	if _, err := io.Copy(io.MultiWriter(h, lines), f); err != nil {
		return Info{}, errors.WrapError(err, errors.CategoryFileSystem, "failed to read file").
			WithContext("path", path).Build()
	}
	return Info{
		Name:          filepath.Base(path),
		Path:          path,
		Exists:        true,
		Size:          fi.Size(),
		SizeFormatted: humanize.IBytes(uint64(fi.Size())),
		ModTime:       fi.ModTime(),
		SHA256:        hex.EncodeToString(h.Sum(nil)),
		Lines:         lines.count(),
	}, nil
}

// evictOldest drops the entry cached longest ago. Callers hold c.mu.
func (c *Cache) evictOldest() {
	var oldest string
	var at time.Time
	for p, e := range c.entries {
		if oldest == "" || e.cachedAt.Before(at) {
			oldest, at = p, e.cachedAt
		}
	}
	delete(c.entries, oldest)
}

// Invalidate drops path.
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, filepath.Clean(path))
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}

// Stats returns the hit and miss counters.
func (c *Cache) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Len returns the number of cached paths.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

type lineCounter struct {
	n       int
	partial bool
}

func (l *lineCounter) Write(p []byte) (int, error) {
	for _, b := range p {
		if b == '\n' {
			l.n++
			l.partial = false
		} else {
			l.partial = true
		}
	}
	return len(p), nil
}

func (l *lineCounter) count() int {
	if l.partial {
		return l.n + 1
	}
	return l.n
}
