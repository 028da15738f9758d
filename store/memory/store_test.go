package memory

import (
	"context"
	"testing"

	"github.com/rbaliyan/inbox/store"
	"github.com/rbaliyan/inbox/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return New()
	})
}

func TestReconnectKeepsRows(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	acct := storetest.Account(1)
	if err := s.Update(ctx, acct, func(row *store.Row) error {
		row.NextIndex = 5
		return nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	row, err := s.Load(ctx, acct)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if row.NextIndex != 5 {
		t.Errorf("expected next index 5 after reconnect, got %d", row.NextIndex)
	}
	if s.Accounts() != 1 {
		t.Errorf("expected 1 account, got %d", s.Accounts())
	}
}
