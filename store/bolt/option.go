package bolt

import (
	"log/slog"
	"time"
)

// Default configuration values.
const (
	DefaultOpenTimeout = 1 * time.Second
)

// options holds bbolt store configuration.
type options struct {
	openTimeout time.Duration
	noSync      bool
	logger      *slog.Logger
}

func newOptions(opts ...Option) *options {
	o := &options{
		openTimeout: DefaultOpenTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures a bbolt store.
type Option func(*options)

// WithOpenTimeout sets how long Connect waits for the file lock.
func WithOpenTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.openTimeout = d
		}
	}
}

// WithNoSync disables fsync per transaction.
// WARNING: This improves write performance but risks data loss on crash.
// Use only for testing or benchmarking, never in production.
func WithNoSync(noSync bool) Option {
	return func(o *options) {
		o.noSync = noSync
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
