package mongo

import (
	"log/slog"
	"time"
)

// Default configuration values.
const (
	DefaultDatabase            = "inbox"
	DefaultValuesCollection    = "inbox_values"
	DefaultNextIndexCollection = "inbox_next_indexes"
	DefaultTimeout             = 10 * time.Second
	DefaultMaxRetries          = 20
)

// options holds MongoDB store configuration.
type options struct {
	database            string
	valuesCollection    string
	nextIndexCollection string
	timeout             time.Duration
	maxRetries          int
	logger              *slog.Logger
}

func newOptions(opts ...Option) *options {
	o := &options{
		database:            DefaultDatabase,
		valuesCollection:    DefaultValuesCollection,
		nextIndexCollection: DefaultNextIndexCollection,
		timeout:             DefaultTimeout,
		maxRetries:          DefaultMaxRetries,
		logger:              slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures a MongoDB store.
type Option func(*options)

// WithDatabase sets the database name.
func WithDatabase(name string) Option {
	return func(o *options) {
		if name != "" {
			o.database = name
		}
	}
}

// WithCollections sets the values and next index collection names.
func WithCollections(values, nextIndexes string) Option {
	return func(o *options) {
		if values != "" {
			o.valuesCollection = values
		}
		if nextIndexes != "" {
			o.nextIndexCollection = nextIndexes
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

// WithMaxRetries sets how often a non-transactional update is retried after
// a version conflict. Only used on deployments without transactions.
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
