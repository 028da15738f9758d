package migration

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rbaliyan/inbox"
	"github.com/rbaliyan/inbox/retry"
	"github.com/rbaliyan/inbox/store/memory"
	"github.com/rbaliyan/inbox/store/storetest"
)

var migratorAccount = storetest.Account(99)

func setupService(t *testing.T) inbox.Service {
	t.Helper()
	svc, err := inbox.NewService(
		inbox.WithStore(memory.New()),
		inbox.WithLogger(slog.New(slog.DiscardHandler)),
		inbox.WithAuthority(inbox.AuthorityFunc(func(_ context.Context, caller inbox.Account) error {
			if caller != migratorAccount {
				return inbox.ErrUnauthorized
			}
			return nil
		})),
	)
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	if err := svc.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { svc.Close(context.Background()) })
	return svc
}

func writeBatch(t *testing.T, dir, name string, b *Batch) {
	t.Helper()
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if err := Encode(f, b); err != nil {
		t.Fatalf("encode: %v", err)
	}
}

func TestRunnerAppliesDirectory(t *testing.T) {
	ctx := context.Background()
	svc := setupService(t)
	dir := t.TempDir()

	alice, bob := storetest.Account(1), storetest.Account(2)
	writeBatch(t, dir, "alice.json", &Batch{Account: alice, NextIndex: 2, Entries: []inbox.Entry{
		{ID: 0, Message: []byte("a0")}, {ID: 1, Message: []byte("a1")},
	}})
	writeBatch(t, dir, "bob.json", &Batch{Account: bob, NextIndex: 7357, Entries: []inbox.Entry{
		{ID: 5, Message: []byte("b5")},
	}})
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600); err != nil {
		t.Fatal(err)
	}

	runner := NewRunner(svc.Client(migratorAccount), Dir(dir), WithLogger(slog.New(slog.DiscardHandler)))
	report, err := runner.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.Applied) != 2 || report.Applied[0] != "alice.json" || report.Applied[1] != "bob.json" {
		t.Errorf("unexpected applied list %v", report.Applied)
	}
	if _, ok := report.Failed["broken.json"]; !ok || len(report.Failed) != 1 {
		t.Errorf("expected only broken.json to fail, got %v", report.Failed)
	}
	if !errors.Is(report.Err(), ErrInvalidBatch) {
		t.Errorf("expected report error to wrap ErrInvalidBatch, got %v", report.Err())
	}

	st, _ := svc.Client(bob).Stats(ctx)
	if st.MessageCount != 1 || st.NextIndex != 7357 {
		t.Errorf("unexpected bob stats %+v", st)
	}

	// rerunning is harmless
	if _, err := runner.Run(ctx); err != nil {
		t.Fatalf("rerun: %v", err)
	}
	msgs, _ := svc.Inbox(ctx, alice)
	if len(msgs) != 2 {
		t.Errorf("expected rerun to keep 2 messages, got %d", len(msgs))
	}
}

func TestRunnerUnauthorizedIsNotRetried(t *testing.T) {
	ctx := context.Background()
	svc := setupService(t)
	dir := t.TempDir()
	writeBatch(t, dir, "a.json", &Batch{Account: storetest.Account(1), NextIndex: 1})

	var calls int32
	m := migratorFunc(func(ctx context.Context, a inbox.Account, n inbox.MessageID, e []inbox.Entry) error {
		atomic.AddInt32(&calls, 1)
		return svc.Client(storetest.Account(5)).MigrateInbox(ctx, a, n, e)
	})
	report, err := NewRunner(m, Dir(dir), WithLogger(slog.New(slog.DiscardHandler))).Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !errors.Is(report.Failed["a.json"], inbox.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", report.Failed["a.json"])
	}
	if calls != 1 {
		t.Errorf("expected a single attempt, got %d", calls)
	}
}

func TestRunnerRetriesTransientErrors(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeBatch(t, dir, "a.json", &Batch{Account: storetest.Account(1), NextIndex: 1})

	var calls int32
	m := migratorFunc(func(context.Context, inbox.Account, inbox.MessageID, []inbox.Entry) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	runner := NewRunner(m, Dir(dir),
		WithLogger(slog.New(slog.DiscardHandler)),
		WithRetry(retry.Config{MaxRetries: 5, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}),
	)
	report, err := runner.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.Applied) != 1 || len(report.Failed) != 0 {
		t.Errorf("unexpected report %+v", report)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestRunnerListFailure(t *testing.T) {
	_, err := NewRunner(migratorFunc(nil), Dir(filepath.Join(t.TempDir(), "missing"))).Run(context.Background())
	if err == nil {
		t.Fatal("expected list error")
	}
}

type migratorFunc func(ctx context.Context, account inbox.Account, nextIndex inbox.MessageID, entries []inbox.Entry) error

func (f migratorFunc) MigrateInbox(ctx context.Context, account inbox.Account, nextIndex inbox.MessageID, entries []inbox.Entry) error {
	return f(ctx, account, nextIndex, entries)
}
