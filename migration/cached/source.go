// Package cached wraps a remote migration.Source with a local file cache, so
// rerunning a migration does not download every batch again.
package cached

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rbaliyan/inbox/migration"
)

// Source caches the objects of a backend source on disk.
type Source struct {
	backend  migration.Source
	cacheDir string
	maxSize  int64
	ttl      time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	cacheSize int64
}

// Compile-time check
var _ migration.Source = (*Source)(nil)

// New creates a cached source wrapping backend.
func New(backend migration.Source, opts ...Option) (*Source, error) {
	o := &options{
		cacheDir: os.TempDir(),
		maxSize:  DefaultMaxSize,
		ttl:      DefaultTTL,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	cacheDir := filepath.Join(o.cacheDir, "inbox-migration")
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	s := &Source{
		backend:  backend,
		cacheDir: cacheDir,
		maxSize:  o.maxSize,
		ttl:      o.ttl,
		logger:   o.logger,
	}
	s.cacheSize = s.diskUsage()
	return s, nil
}

// List always asks the backend so new batches are seen.
func (s *Source) List(ctx context.Context) ([]string, error) {
	return s.backend.List(ctx)
}

// Open serves key from the cache when a fresh copy exists and otherwise
// reads it from the backend, caching it as it is read.
func (s *Source) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	path := s.path(key)

	if info, err := os.Stat(path); err == nil {
		if time.Since(info.ModTime()) < s.ttl {
			if f, err := os.Open(path); err == nil {
				s.logger.Debug("cache hit", "key", key)
				return f, nil
			}
		} else if os.Remove(path) == nil {
			s.grow(-info.Size())
		}
	}

	s.logger.Debug("cache miss", "key", key)
	rc, err := s.backend.Open(ctx, key)
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(s.cacheDir, "tmp-*")
	if err != nil {
		s.logger.Warn("failed to create temp file for caching", "error", err)
		return rc, nil
	}
	return &cachingReader{source: rc, tmp: tmp, path: path, owner: s}, nil
}

// Prune removes expired objects and returns how many were removed.
func (s *Source) Prune() (int, error) {
	entries, err := os.ReadDir(s.cacheDir)
	if err != nil {
		return 0, fmt.Errorf("read cache dir: %w", err)
	}

	var removed int
	var freed int64
	now := time.Now()
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || e.IsDir() || now.Sub(info.ModTime()) < s.ttl {
			continue
		}
		if os.Remove(filepath.Join(s.cacheDir, e.Name())) == nil {
			removed++
			freed += info.Size()
		}
	}
	s.grow(-freed)
	if removed > 0 {
		s.logger.Info("cache pruned", "removed", removed, "freed_bytes", freed)
	}
	return removed, nil
}

func (s *Source) path(key string) string {
	h := sha256.Sum256([]byte(key))
	return filepath.Join(s.cacheDir, hex.EncodeToString(h[:]))
}

// reserve claims size bytes of the budget, reporting whether they fit.
func (s *Source) reserve(size int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cacheSize+size > s.maxSize {
		return false
	}
	s.cacheSize += size
	return true
}

func (s *Source) grow(delta int64) {
	s.mu.Lock()
	s.cacheSize = max(s.cacheSize+delta, 0)
	s.mu.Unlock()
}

func (s *Source) diskUsage() int64 {
	var size int64
	entries, err := os.ReadDir(s.cacheDir)
	if err != nil {
		s.logger.Warn("failed to calculate cache size", "error", err)
		return 0
	}
	for _, e := range entries {
		if info, err := e.Info(); err == nil && !e.IsDir() {
			size += info.Size()
		}
	}
	return size
}

// cachingReader copies what it reads into a temp file and moves the file
// into the cache on Close if the object was read to EOF.
type cachingReader struct {
	source io.ReadCloser
	tmp    *os.File
	path   string
	owner  *Source
	size   int64
	eof    bool
	failed bool
	closed bool
}

func (r *cachingReader) Read(p []byte) (int, error) {
	n, err := r.source.Read(p)
	if n > 0 && !r.failed {
		if _, werr := r.tmp.Write(p[:n]); werr != nil {
			r.owner.logger.Warn("failed to write to cache", "error", werr)
			r.failed = true
		}
		r.size += int64(n)
	}
	if err == io.EOF {
		r.eof = true
	}
	return n, err
}

func (r *cachingReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	sourceErr := r.source.Close()
	tmpName := r.tmp.Name()
	if err := r.tmp.Close(); err != nil || r.failed || !r.eof || !r.owner.reserve(r.size) {
		os.Remove(tmpName)
		return sourceErr
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName)
		r.owner.grow(-r.size)
		r.owner.logger.Warn("failed to move temp file to cache", "error", err)
	}
	return sourceErr
}
