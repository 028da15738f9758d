package cached

import (
	"log/slog"
	"time"
)

// Default configuration values.
const (
	DefaultMaxSize = 1 << 30
	DefaultTTL     = 24 * time.Hour
)

type options struct {
	cacheDir string
	maxSize  int64
	ttl      time.Duration
	logger   *slog.Logger
}

// Option configures the cached source.
type Option func(*options)

// WithCacheDir sets the parent directory for cached objects.
// Default is the system temp directory.
func WithCacheDir(dir string) Option {
	return func(o *options) {
		if dir != "" {
			o.cacheDir = dir
		}
	}
}

// WithMaxSize sets the cache budget in bytes. Objects that do not fit are
// streamed without being cached.
func WithMaxSize(size int64) Option {
	return func(o *options) {
		if size > 0 {
			o.maxSize = size
		}
	}
}

// WithTTL sets how long a cached object is served before it is fetched again.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}
