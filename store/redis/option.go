package redis

import (
	"log/slog"
	"time"
)

// Default configuration values.
const (
	DefaultPrefix     = "inbox"
	DefaultTimeout    = 10 * time.Second
	DefaultMaxRetries = 100
)

// options holds Redis store configuration.
type options struct {
	prefix     string
	timeout    time.Duration
	maxRetries int
	logger     *slog.Logger
}

func newOptions(opts ...Option) *options {
	o := &options{
		prefix:     DefaultPrefix,
		timeout:    DefaultTimeout,
		maxRetries: DefaultMaxRetries,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures a Redis store.
type Option func(*options)

// WithPrefix sets the key prefix. Keys are laid out as
// "<prefix>:values:<key>" and "<prefix>:next_index:<key>".
func WithPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.prefix = prefix
		}
	}
}

// WithTimeout sets the operation timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithMaxRetries sets how many times an update is retried after losing an
// optimistic-lock race against a concurrent writer of the same account.
func WithMaxRetries(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxRetries = n
		}
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
