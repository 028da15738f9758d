package inbox

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/rbaliyan/event/v3/transport/channel"
	"github.com/rbaliyan/inbox/store/memory"
	"github.com/rbaliyan/inbox/store/storetest"
)

var (
	alice    = storetest.Account(1)
	bob      = storetest.Account(2)
	migrator = storetest.Account(99)
)

func setupTestService(t *testing.T, opts ...Option) Service {
	t.Helper()
	base := []Option{
		WithStore(memory.New()),
		WithAuthority(onlyMigrator(migrator)),
		WithLogger(slog.New(slog.DiscardHandler)),
	}
	svc, err := NewService(append(base, opts...)...)
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	if err := svc.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { svc.Close(context.Background()) })
	return svc
}

func TestNewService(t *testing.T) {
	t.Run("requires store", func(t *testing.T) {
		_, err := NewService()
		if !errors.Is(err, ErrStoreRequired) {
			t.Errorf("expected ErrStoreRequired, got %v", err)
		}
	})

	t.Run("creates service with store", func(t *testing.T) {
		svc, err := NewService(WithStore(memory.New()))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if svc == nil || svc.Engine() == nil {
			t.Fatal("expected non-nil service and engine")
		}
	})
}

func TestServiceLifecycle(t *testing.T) {
	svc, err := NewService(WithStore(memory.New()), WithLogger(slog.New(slog.DiscardHandler)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()

	if svc.IsConnected() {
		t.Error("expected service to start disconnected")
	}
	if err := svc.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if !svc.IsConnected() {
		t.Error("expected service to be connected")
	}
	if svc.Events() == nil {
		t.Error("expected events after connect")
	}

	if err := svc.Connect(ctx); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("expected ErrAlreadyConnected, got %v", err)
	}

	if err := svc.Close(ctx); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := svc.Close(ctx); err != nil {
		t.Errorf("second close should not error, got %v", err)
	}
}

func TestMailboxAccess(t *testing.T) {
	ctx := context.Background()

	t.Run("operations fail when not connected", func(t *testing.T) {
		svc, _ := NewService(WithStore(memory.New()))
		mb := svc.Client(alice)

		if _, err := mb.AddValue(ctx, bob, []byte("x")); !errors.Is(err, ErrNotConnected) {
			t.Errorf("AddValue: expected ErrNotConnected, got %v", err)
		}
		if err := mb.DeleteValues(ctx, []MessageID{0}); !errors.Is(err, ErrNotConnected) {
			t.Errorf("DeleteValues: expected ErrNotConnected, got %v", err)
		}
		if err := mb.MigrateInbox(ctx, bob, 1, nil); !errors.Is(err, ErrNotConnected) {
			t.Errorf("MigrateInbox: expected ErrNotConnected, got %v", err)
		}
		if _, err := mb.Inbox(ctx); !errors.Is(err, ErrNotConnected) {
			t.Errorf("Inbox: expected ErrNotConnected, got %v", err)
		}
		if _, err := svc.Inbox(ctx, bob); !errors.Is(err, ErrNotConnected) {
			t.Errorf("Service.Inbox: expected ErrNotConnected, got %v", err)
		}
	})

	t.Run("zero accounts are rejected", func(t *testing.T) {
		svc := setupTestService(t)

		if _, err := svc.Client(Account{}).AddValue(ctx, bob, []byte("x")); !errors.Is(err, ErrInvalidAccount) {
			t.Errorf("zero caller: expected ErrInvalidAccount, got %v", err)
		}
		if _, err := svc.Client(alice).AddValue(ctx, Account{}, []byte("x")); !errors.Is(err, ErrInvalidAccount) {
			t.Errorf("zero peer: expected ErrInvalidAccount, got %v", err)
		}
	})

	t.Run("Account returns the caller", func(t *testing.T) {
		svc := setupTestService(t)
		if svc.Client(alice).Account() != alice {
			t.Error("expected caller account")
		}
	})
}

func TestAddValue(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	sender := svc.Client(alice)

	id, err := sender.AddValue(ctx, bob, []byte("hello, world"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if id != 0 {
		t.Errorf("expected id 0, got %d", id)
	}
	msgs, err := svc.Inbox(ctx, bob)
	if err != nil {
		t.Fatalf("inbox: %v", err)
	}
	assertMessages(t, msgs, "hello, world")

	if id, _ = sender.AddValue(ctx, bob, []byte("sylo")); id != 1 {
		t.Errorf("expected id 1, got %d", id)
	}
	msgs, _ = svc.Client(bob).Inbox(ctx)
	assertMessages(t, msgs, "hello, world", "sylo")

	// the sender's own inbox is untouched
	msgs, _ = sender.Inbox(ctx)
	if len(msgs) != 0 {
		t.Errorf("expected sender inbox empty, got %q", msgs)
	}

	if _, err := sender.AddValue(ctx, bob, make([]byte, MaxMessageLength+1)); !errors.Is(err, ErrMaxMessageLength) {
		t.Errorf("expected ErrMaxMessageLength, got %v", err)
	}
}

func TestDeleteValues(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)

	for _, m := range []string{"hello, world", "sylo", "foo", "bar"} {
		if _, err := svc.Client(alice).AddValue(ctx, bob, []byte(m)); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	t.Run("only the caller's inbox is affected", func(t *testing.T) {
		if err := svc.Client(alice).DeleteValues(ctx, []MessageID{0, 1}); err != nil {
			t.Fatalf("delete: %v", err)
		}
		msgs, _ := svc.Inbox(ctx, bob)
		assertMessages(t, msgs, "hello, world", "sylo", "foo", "bar")
	})

	t.Run("deletes from own inbox", func(t *testing.T) {
		owner := svc.Client(bob)
		if err := owner.DeleteValues(ctx, []MessageID{0}); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if err := owner.DeleteValues(ctx, []MessageID{2, 3}); err != nil {
			t.Fatalf("delete: %v", err)
		}
		msgs, _ := owner.Inbox(ctx)
		assertMessages(t, msgs, "sylo")

		entries, _ := owner.Entries(ctx)
		if len(entries) != 1 || entries[0].ID != 1 {
			t.Errorf("expected only id 1 left, got %+v", entries)
		}
	})

	t.Run("rejects oversized batch", func(t *testing.T) {
		err := svc.Client(bob).DeleteValues(ctx, make([]MessageID, MaxDeleteMessages+1))
		if !errors.Is(err, ErrMaxDeleteMessage) {
			t.Errorf("expected ErrMaxDeleteMessage, got %v", err)
		}
	})
}

func TestMigrateInbox(t *testing.T) {
	ctx := context.Background()

	t.Run("migrator imports any inbox", func(t *testing.T) {
		svc := setupTestService(t)
		entries := []Entry{{ID: 0, Message: []byte("test0")}, {ID: 1, Message: []byte("test1")}}

		if err := svc.Client(migrator).MigrateInbox(ctx, alice, 7357, entries); err != nil {
			t.Fatalf("migrate: %v", err)
		}
		st, err := svc.Client(alice).Stats(ctx)
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if st.MessageCount != 2 || st.NextIndex != 7357 {
			t.Errorf("unexpected stats after migrate: %+v", st)
		}
	})

	t.Run("other callers are unauthorized", func(t *testing.T) {
		svc := setupTestService(t)
		err := svc.Client(alice).MigrateInbox(ctx, bob, 1, []Entry{{ID: 0, Message: []byte("x")}})
		if !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
		msgs, _ := svc.Inbox(ctx, bob)
		if len(msgs) != 0 {
			t.Errorf("expected no state change, got %q", msgs)
		}
	})

	t.Run("service without authority rejects migration", func(t *testing.T) {
		svc, _ := NewService(WithStore(memory.New()), WithLogger(slog.New(slog.DiscardHandler)))
		if err := svc.Connect(ctx); err != nil {
			t.Fatalf("connect: %v", err)
		}
		defer svc.Close(ctx)
		err := svc.Client(migrator).MigrateInbox(ctx, bob, 1, nil)
		if !errors.Is(err, ErrAuthorityRequired) || !errors.Is(err, ErrUnauthorized) {
			t.Errorf("expected ErrAuthorityRequired wrapping ErrUnauthorized, got %v", err)
		}
	})
}

func TestEventsPublished(t *testing.T) {
	ctx := context.Background()
	var failures int32
	svc := setupTestService(t,
		WithEventTransport(channel.New()),
		WithEventErrorsFatal(true),
		WithEventPublishFailureHandler(func(string, error) { atomic.AddInt32(&failures, 1) }),
	)

	if _, err := svc.Client(alice).AddValue(ctx, bob, []byte("hi")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := svc.Client(bob).DeleteValues(ctx, []MessageID{0}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := svc.Client(migrator).MigrateInbox(ctx, bob, 5, nil); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if n := atomic.LoadInt32(&failures); n != 0 {
		t.Errorf("expected no publish failures, got %d", n)
	}
}

func TestOTelEnabled(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t, WithOTel(true), WithServiceName("inbox-test"))

	if _, err := svc.Client(alice).AddValue(ctx, bob, []byte("traced")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := svc.Client(alice).AddValue(ctx, bob, make([]byte, MaxMessageLength+1)); !errors.Is(err, ErrMaxMessageLength) {
		t.Fatalf("expected ErrMaxMessageLength, got %v", err)
	}
	if err := svc.Client(bob).DeleteValues(ctx, []MessageID{0}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Inbox(ctx, bob); err != nil {
		t.Fatalf("inbox: %v", err)
	}
}
