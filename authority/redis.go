package authority

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/rbaliyan/inbox"
	"github.com/rbaliyan/inbox/store"
	"github.com/redis/go-redis/v9"
)

// Default configuration values.
const (
	DefaultRedisKey     = "inbox:migrators"
	DefaultRedisTimeout = 5 * time.Second
)

// Compile-time check
var _ inbox.Authority = (*Redis)(nil)

// Redis keeps the migrator registry in a Redis set so every host of a fleet
// sees the same designation. Members are 0x-prefixed hex accounts.
type Redis struct {
	client  redis.UniversalClient
	key     string
	timeout time.Duration
	logger  *slog.Logger
}

// RedisOption configures a Redis authority.
type RedisOption func(*Redis)

// WithKey sets the Redis key of the migrator set.
func WithKey(key string) RedisOption {
	return func(r *Redis) {
		if key != "" {
			r.key = key
		}
	}
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) RedisOption {
	return func(r *Redis) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) RedisOption {
	return func(r *Redis) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRedis creates a Redis-backed registry.
// The caller is responsible for closing the client.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{
		client:  client,
		key:     DefaultRedisKey,
		timeout: DefaultRedisTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetMigrator replaces the migrator set with account in one transaction.
func (r *Redis) SetMigrator(ctx context.Context, account inbox.Account) error {
	if err := inbox.ValidateAccount(account); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key)
		pipe.SAdd(ctx, r.key, account.String())
		return nil
	})
	if err != nil {
		return fmt.Errorf("set migrator: %w", err)
	}
	r.logger.Info("migrator account set", "account", account.String())
	return nil
}

// Migrators returns the designated migrators in byte order.
// Members that do not parse as accounts are skipped and logged.
func (r *Redis) Migrators(ctx context.Context) ([]inbox.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	members, err := r.client.SMembers(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("list migrators: %w", err)
	}
	out := make([]inbox.Account, 0, len(members))
	for _, m := range members {
		a, err := store.ParseAccount(m)
		if err != nil {
			r.logger.Warn("skipping malformed migrator entry", "member", m, "error", err)
			continue
		}
		out = append(out, a)
	}
	slices.SortFunc(out, compareAccounts)
	return out, nil
}

// EnsureMigrator returns an error wrapping inbox.ErrUnauthorized unless
// caller is a member of the migrator set. Redis failures are returned as is
// so hosts can tell an outage from a denial.
func (r *Redis) EnsureMigrator(ctx context.Context, caller inbox.Account) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ok, err := r.client.SIsMember(ctx, r.key, caller.String()).Result()
	if err != nil {
		return fmt.Errorf("check migrator: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s is not a migrator", inbox.ErrUnauthorized, caller)
	}
	return nil
}
