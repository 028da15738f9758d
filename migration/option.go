package migration

import (
	"log/slog"
	"time"

	"github.com/rbaliyan/inbox"
	"github.com/rbaliyan/inbox/retry"
)

// Default configuration values.
const (
	DefaultConcurrency = 4
	DefaultMaxRetries  = 5
)

type options struct {
	concurrency int
	retry       retry.Config
	logger      *slog.Logger
}

func newOptions(opts ...Option) *options {
	o := &options{
		concurrency: DefaultConcurrency,
		retry: retry.Config{
			MaxRetries:     DefaultMaxRetries,
			InitialBackoff: 200 * time.Millisecond,
			MaxBackoff:     10 * time.Second,
			Multiplier:     2,
			Jitter:         0.2,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	// Domain errors never succeed on a second attempt.
	o.retry.IsRetryable = inbox.IsRetryableError
	return o
}

// Option configures a Runner.
type Option func(*options)

// WithConcurrency sets how many batches are applied in parallel.
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithRetry sets the backoff used for transient failures.
// IsRetryable is always inbox.IsRetryableError.
func WithRetry(cfg retry.Config) Option {
	return func(o *options) {
		o.retry = cfg
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
