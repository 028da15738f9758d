// Package memory provides an in-memory Store implementation for testing.
// This store is not suitable for production use - data is not persisted.
package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rbaliyan/inbox/store"
)

// Compile-time check
var _ store.Store = (*Store)(nil)

// Store implements store.Store with in-memory storage.
// Thread-safe for concurrent use. Not suitable for production.
type Store struct {
	rows      sync.Map // map[store.Account]*store.Row
	locks     sync.Map // map[store.Account]*sync.Mutex (per-account locks for updates)
	connected int32
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{}
}

// getLock returns the mutex for an account, creating one if needed.
// Uses LoadOrStore for atomic get-or-create.
func (s *Store) getLock(account store.Account) *sync.Mutex {
	lock, _ := s.locks.LoadOrStore(account, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// Connect marks the store as connected.
func (s *Store) Connect(_ context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}
	return nil
}

// Close marks the store as disconnected. Stored rows are kept so a store can
// be reconnected in tests.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

// Load returns a copy of the account's rows.
func (s *Store) Load(_ context.Context, account store.Account) (*store.Row, error) {
	if atomic.LoadInt32(&s.connected) == 0 {
		return nil, store.ErrNotConnected
	}
	v, ok := s.rows.Load(account)
	if !ok {
		return &store.Row{Entries: []store.Entry{}}, nil
	}
	return v.(*store.Row).Clone(), nil
}

// Update applies fn to a copy of the account's rows and swaps the copy in
// when fn succeeds.
func (s *Store) Update(_ context.Context, account store.Account, fn func(row *store.Row) error) error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}

	lock := s.getLock(account)
	lock.Lock()
	defer lock.Unlock()

	var working *store.Row
	if v, ok := s.rows.Load(account); ok {
		working = v.(*store.Row).Clone()
	} else {
		working = &store.Row{Entries: []store.Entry{}}
	}

	if err := fn(working); err != nil {
		return err
	}

	// Store a private copy so the caller cannot mutate persisted state
	// through slices it still holds.
	s.rows.Store(account, working.Clone())
	return nil
}

// Accounts returns the number of accounts with stored rows.
func (s *Store) Accounts() int {
	n := 0
	s.rows.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
