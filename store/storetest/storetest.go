// Package storetest provides a conformance suite for store.Store implementations.
//
// Backend packages call Run from their own tests:
//
//	func TestConformance(t *testing.T) {
//	    storetest.Run(t, func(t *testing.T) store.Store { return memory.New() })
//	}
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rbaliyan/inbox/store"
)

// Factory returns a fresh, unconnected store for a single subtest.
type Factory func(t *testing.T) store.Store

// Account returns a deterministic test account whose last 8 bytes hold n.
func Account(n uint64) store.Account {
	var a store.Account
	for i := 0; i < 8; i++ {
		a[store.AccountSize-1-i] = byte(n >> (8 * i))
	}
	return a
}

var errAbort = errors.New("storetest: abort")

// Run executes the conformance suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	connect := func(t *testing.T) store.Store {
		t.Helper()
		s := newStore(t)
		ctx := context.Background()
		if err := s.Connect(ctx); err != nil {
			t.Fatalf("connect: %v", err)
		}
		t.Cleanup(func() { s.Close(ctx) })
		return s
	}

	t.Run("operations fail when not connected", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if _, err := s.Load(ctx, Account(1)); !errors.Is(err, store.ErrNotConnected) {
			t.Errorf("expected ErrNotConnected from Load, got %v", err)
		}
		err := s.Update(ctx, Account(1), func(*store.Row) error { return nil })
		if !errors.Is(err, store.ErrNotConnected) {
			t.Errorf("expected ErrNotConnected from Update, got %v", err)
		}
	})

	t.Run("double connect fails", func(t *testing.T) {
		s := connect(t)
		if err := s.Connect(context.Background()); !errors.Is(err, store.ErrAlreadyConnected) {
			t.Errorf("expected ErrAlreadyConnected, got %v", err)
		}
	})

	t.Run("absent account loads empty", func(t *testing.T) {
		s := connect(t)
		row, err := s.Load(context.Background(), Account(42))
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if len(row.Entries) != 0 || row.NextIndex != 0 {
			t.Errorf("expected empty row, got %+v", row)
		}
	})

	t.Run("update persists both rows", func(t *testing.T) {
		s := connect(t)
		ctx := context.Background()
		acct := Account(1)

		err := s.Update(ctx, acct, func(row *store.Row) error {
			row.Entries = append(row.Entries,
				store.Entry{ID: 3, Message: []byte("three")},
				store.Entry{ID: 1, Message: []byte("one")},
			)
			row.NextIndex = 7357
			return nil
		})
		if err != nil {
			t.Fatalf("update: %v", err)
		}

		row, err := s.Load(ctx, acct)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if row.NextIndex != 7357 {
			t.Errorf("expected next index 7357, got %d", row.NextIndex)
		}
		if len(row.Entries) != 2 {
			t.Fatalf("expected 2 entries, got %d", len(row.Entries))
		}
		// stored order is insertion order, not id order
		if row.Entries[0].ID != 3 || string(row.Entries[0].Message) != "three" ||
			row.Entries[1].ID != 1 || string(row.Entries[1].Message) != "one" {
			t.Errorf("unexpected entries: %+v", row.Entries)
		}
	})

	t.Run("failed update writes nothing", func(t *testing.T) {
		s := connect(t)
		ctx := context.Background()
		acct := Account(2)

		if err := s.Update(ctx, acct, func(row *store.Row) error {
			row.Entries = []store.Entry{{ID: 0, Message: []byte("keep")}}
			row.NextIndex = 1
			return nil
		}); err != nil {
			t.Fatalf("seed: %v", err)
		}

		err := s.Update(ctx, acct, func(row *store.Row) error {
			row.Entries = nil
			row.NextIndex = 99
			return errAbort
		})
		if !errors.Is(err, errAbort) {
			t.Fatalf("expected callback error returned verbatim, got %v", err)
		}

		row, err := s.Load(ctx, acct)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if row.NextIndex != 1 || len(row.Entries) != 1 || string(row.Entries[0].Message) != "keep" {
			t.Errorf("expected row unchanged, got %+v", row)
		}
	})

	t.Run("accounts are independent", func(t *testing.T) {
		s := connect(t)
		ctx := context.Background()

		if err := s.Update(ctx, Account(10), func(row *store.Row) error {
			row.Entries = []store.Entry{{ID: 0, Message: []byte("ten")}}
			row.NextIndex = 1
			return nil
		}); err != nil {
			t.Fatalf("update: %v", err)
		}

		row, err := s.Load(ctx, Account(11))
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if len(row.Entries) != 0 || row.NextIndex != 0 {
			t.Errorf("expected other account empty, got %+v", row)
		}
	})

	t.Run("loaded rows are copies", func(t *testing.T) {
		s := connect(t)
		ctx := context.Background()
		acct := Account(3)

		if err := s.Update(ctx, acct, func(row *store.Row) error {
			row.Entries = []store.Entry{{ID: 0, Message: []byte("abc")}}
			return nil
		}); err != nil {
			t.Fatalf("update: %v", err)
		}

		row, err := s.Load(ctx, acct)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		row.Entries[0].Message[0] = 'x'
		row.Entries = nil

		again, err := s.Load(ctx, acct)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if len(again.Entries) != 1 || string(again.Entries[0].Message) != "abc" {
			t.Errorf("expected stored row untouched, got %+v", again.Entries)
		}
	})

	t.Run("empty entry list round trips", func(t *testing.T) {
		s := connect(t)
		ctx := context.Background()
		acct := Account(4)

		if err := s.Update(ctx, acct, func(row *store.Row) error {
			row.Entries = []store.Entry{}
			row.NextIndex = store.MaxMessageID
			return nil
		}); err != nil {
			t.Fatalf("update: %v", err)
		}
		row, err := s.Load(ctx, acct)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if len(row.Entries) != 0 || row.NextIndex != store.MaxMessageID {
			t.Errorf("unexpected row %+v", row)
		}
	})

	t.Run("concurrent updates are serialized", func(t *testing.T) {
		s := connect(t)
		ctx := context.Background()
		acct := Account(5)

		const workers = 8
		const perWorker = 5

		var wg sync.WaitGroup
		errs := make(chan error, workers*perWorker)
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < perWorker; i++ {
					err := s.Update(ctx, acct, func(row *store.Row) error {
						row.Entries = append(row.Entries, store.Entry{
							ID:      row.NextIndex,
							Message: []byte(fmt.Sprintf("w%d-%d", w, i)),
						})
						row.NextIndex++
						return nil
					})
					if err != nil {
						errs <- err
					}
				}
			}(w)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Errorf("update error: %v", err)
		}

		row, err := s.Load(ctx, acct)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if row.NextIndex != workers*perWorker {
			t.Errorf("expected next index %d, got %d", workers*perWorker, row.NextIndex)
		}
		if len(row.Entries) != workers*perWorker {
			t.Fatalf("expected %d entries, got %d", workers*perWorker, len(row.Entries))
		}
		for i, e := range row.Entries {
			if e.ID != store.MessageID(i) {
				t.Errorf("expected entry %d to have id %d, got %d", i, i, e.ID)
			}
		}
	})
}
