// Package redis provides a Redis implementation of store.Store.
//
// Each account maps to two string keys holding the msgpack encoded values row
// and next index row. Updates run as optimistic WATCH/MULTI transactions and
// are retried when a concurrent writer touches the same account first.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/inbox/retry"
	"github.com/rbaliyan/inbox/store"
	goredis "github.com/redis/go-redis/v9"
)

// Compile-time check
var _ store.Store = (*Store)(nil)

// Store implements store.Store using Redis.
type Store struct {
	client    goredis.UniversalClient
	opts      *options
	retry     retry.Config
	connected int32
	logger    *slog.Logger
}

// New creates a new Redis store with the provided client.
// Compatible with *redis.Client, *redis.ClusterClient, and redis.UniversalClient.
// Both keys of an account share a hash tag, so the store works on clusters.
func New(client goredis.UniversalClient, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		client: client,
		opts:   o,
		retry: retry.Config{
			MaxRetries:     o.maxRetries,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     100 * time.Millisecond,
			Multiplier:     2,
			Jitter:         0.5,
			IsRetryable: func(err error) bool {
				return errors.Is(err, goredis.TxFailedErr)
			},
		},
		logger: o.logger,
	}
}

// Connect verifies the connection to Redis.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}

	if s.client == nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("redis: client is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("redis ping: %w", err)
	}

	s.logger.Info("connected to Redis", "prefix", s.opts.prefix)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the Redis client.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

// keys returns the values and next index keys for an account.
func (s *Store) keys(account store.Account) (values, nextIndex string) {
	// The {hash tag} pins both keys to the same cluster slot.
	tag := fmt.Sprintf("{%x}", store.Key(account))
	return s.opts.prefix + ":values:" + tag, s.opts.prefix + ":next_index:" + tag
}

// Load returns a copy of the account's rows.
func (s *Store) Load(ctx context.Context, account store.Account) (*store.Row, error) {
	if atomic.LoadInt32(&s.connected) == 0 {
		return nil, store.ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	vk, nk := s.keys(account)
	return readRow(ctx, s.client, vk, nk)
}

// Update applies fn inside a WATCH transaction on both keys of the account.
func (s *Store) Update(ctx context.Context, account store.Account, fn func(row *store.Row) error) error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	vk, nk := s.keys(account)

	txf := func(tx *goredis.Tx) error {
		row, err := readRow(ctx, tx, vk, nk)
		if err != nil {
			return err
		}
		if err := fn(row); err != nil {
			return err
		}

		values, err := store.EncodeEntries(row.Entries)
		if err != nil {
			return err
		}
		next, err := store.EncodeNextIndex(row.NextIndex)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, vk, values, 0)
			pipe.Set(ctx, nk, next, 0)
			return nil
		})
		return err
	}

	attempts := 0
	err := retry.Do(ctx, s.retry, func(ctx context.Context) error {
		attempts++
		return s.client.Watch(ctx, txf, vk, nk)
	})
	if err == nil {
		if attempts > 1 {
			s.logger.Debug("redis update succeeded after conflicts", "account", account.String(), "attempts", attempts)
		}
		return nil
	}

	switch {
	case errors.Is(err, retry.ErrMaxRetries):
		s.logger.Warn("redis update abandoned after conflicts", "account", account.String(), "attempts", attempts)
		return fmt.Errorf("%w: %w", store.ErrTransactionFailed, err)
	case errors.Is(err, retry.ErrContextCanceled):
		return fmt.Errorf("%w: %w", store.ErrTransactionFailed, err)
	}
	// Callback and connection errors come back unchanged.
	return retry.Cause(err)
}

// cmdable is the subset of redis commands shared by clients and transactions.
type cmdable interface {
	MGet(ctx context.Context, keys ...string) *goredis.SliceCmd
}

// readRow loads both keys with a single MGET so the two rows are read from
// the same point in time.
func readRow(ctx context.Context, c cmdable, valuesKey, nextIndexKey string) (*store.Row, error) {
	vals, err := c.MGet(ctx, valuesKey, nextIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}

	raw := func(v any) ([]byte, error) {
		switch t := v.(type) {
		case nil:
			return nil, nil
		case string:
			return []byte(t), nil
		default:
			return nil, fmt.Errorf("%w: unexpected redis value %T", store.ErrCorruptRow, v)
		}
	}

	vb, err := raw(vals[0])
	if err != nil {
		return nil, err
	}
	nb, err := raw(vals[1])
	if err != nil {
		return nil, err
	}

	entries, err := store.DecodeEntries(vb)
	if err != nil {
		return nil, err
	}
	next, err := store.DecodeNextIndex(nb)
	if err != nil {
		return nil, err
	}
	return &store.Row{Entries: entries, NextIndex: next}, nil
}
