// Package bolt provides an embedded bbolt implementation of store.Store.
//
// The two logical tables map to two buckets keyed by the blake2_128_concat
// account key. bbolt allows a single writer at a time, which serializes all
// updates.
package bolt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rbaliyan/inbox/store"
	"go.etcd.io/bbolt"
)

// Compile-time check
var _ store.Store = (*Store)(nil)

var (
	bucketValues      = []byte("inbox_values")
	bucketNextIndexes = []byte("inbox_next_indexes")
)

// Store implements store.Store on a bbolt database file.
type Store struct {
	path   string
	opts   *options
	logger *slog.Logger

	mu sync.RWMutex
	db *bbolt.DB
}

// New creates a store backed by the database file at path.
// Call Connect() to open the file and create the buckets.
func New(path string, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		path:   path,
		opts:   o,
		logger: o.logger,
	}
}

// Connect opens the database and creates the buckets.
func (s *Store) Connect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return store.ErrAlreadyConnected
	}

	db, err := bbolt.Open(s.path, 0o600, &bbolt.Options{
		Timeout: s.opts.openTimeout,
		NoSync:  s.opts.noSync,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketValues, bucketNextIndexes} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	s.logger.Info("opened bolt store", "path", s.path, "noSync", s.opts.noSync)
	return nil
}

// Close closes the database file.
func (s *Store) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	s.logger.Debug("closed bolt store", "path", s.path)
	return err
}

// Load returns a copy of the account's rows.
func (s *Store) Load(_ context.Context, account store.Account) (*store.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, store.ErrNotConnected
	}

	var row *store.Row
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		row, err = readRow(tx, store.Key(account))
		return err
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// Update applies fn inside a bbolt read-write transaction.
func (s *Store) Update(_ context.Context, account store.Account, fn func(row *store.Row) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return store.ErrNotConnected
	}

	key := store.Key(account)
	return s.db.Update(func(tx *bbolt.Tx) error {
		row, err := readRow(tx, key)
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

		if err := tx.Bucket(bucketValues).Put(key, values); err != nil {
			return fmt.Errorf("putting values: %w", err)
		}
		if err := tx.Bucket(bucketNextIndexes).Put(key, next); err != nil {
			return fmt.Errorf("putting next index: %w", err)
		}
		return nil
	})
}

// Accounts calls fn for every account that has a values row, in key order.
func (s *Store) Accounts(_ context.Context, fn func(account store.Account) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return store.ErrNotConnected
	}

	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketValues).ForEach(func(k, _ []byte) error {
			account, err := store.AccountFromKey(k)
			if err != nil {
				return fmt.Errorf("%w: key %x", store.ErrCorruptRow, k)
			}
			return fn(account)
		})
	})
}

// readRow decodes both rows. Values returned by bbolt are only valid for the
// life of the transaction, so decoding copies them out.
func readRow(tx *bbolt.Tx, key []byte) (*store.Row, error) {
	entries, err := store.DecodeEntries(tx.Bucket(bucketValues).Get(key))
	if err != nil {
		return nil, err
	}
	next, err := store.DecodeNextIndex(tx.Bucket(bucketNextIndexes).Get(key))
	if err != nil {
		return nil, err
	}
	return &store.Row{Entries: entries, NextIndex: next}, nil
}
