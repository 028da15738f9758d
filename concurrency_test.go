package inbox

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/rbaliyan/inbox/store/storetest"
)

func TestConcurrency_MultipleSenders(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)

	const numSenders = 10
	const messagesPerSender = 20

	var wg sync.WaitGroup
	var mu sync.Mutex
	ids := make([]MessageID, 0, numSenders*messagesPerSender)
	errCh := make(chan error, numSenders*messagesPerSender)

	for i := 0; i < numSenders; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sender := svc.Client(storetest.Account(uint64(100 + n)))
			for j := 0; j < messagesPerSender; j++ {
				id, err := sender.AddValue(ctx, bob, []byte(fmt.Sprintf("sender %d message %d", n, j)))
				if err != nil {
					errCh <- err
					continue
				}
				mu.Lock()
				ids = append(ids, id)
				mu.Unlock()
			}
		}(i)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Errorf("concurrent add failed: %v", err)
	}

	// every add gets its own id and no slot is skipped
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for i, id := range ids {
		if id != MessageID(i) {
			t.Fatalf("expected id %d at position %d, got %d", i, i, id)
		}
	}

	st, err := svc.Client(bob).Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.MessageCount != numSenders*messagesPerSender {
		t.Errorf("expected %d messages, got %d", numSenders*messagesPerSender, st.MessageCount)
	}
	if st.NextIndex != MessageID(numSenders*messagesPerSender) {
		t.Errorf("expected next index %d, got %d", numSenders*messagesPerSender, st.NextIndex)
	}
}

func TestConcurrentAddAndDelete(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	owner := svc.Client(bob)

	const n = 50
	for i := 0; i < n; i++ {
		if _, err := svc.Client(alice).AddValue(ctx, bob, []byte("seed")); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 2*n)
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func(id MessageID) {
			defer wg.Done()
			if err := owner.DeleteValues(ctx, []MessageID{id}); err != nil {
				errCh <- err
			}
		}(MessageID(i))
		go func() {
			defer wg.Done()
			if _, err := svc.Client(alice).AddValue(ctx, bob, []byte("new")); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Errorf("concurrent operation failed: %v", err)
	}

	entries, err := owner.Entries(ctx)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != n {
		t.Fatalf("expected %d entries left, got %d", n, len(entries))
	}
	for _, e := range entries {
		if e.ID < n || string(e.Message) != "new" {
			t.Errorf("unexpected surviving entry %d %q", e.ID, e.Message)
		}
	}
}

func TestConcurrentReads(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)

	for i := 0; i < 10; i++ {
		if _, err := svc.Client(alice).AddValue(ctx, bob, []byte(fmt.Sprintf("message %d", i))); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	const numReaders = 20
	var wg sync.WaitGroup
	errCh := make(chan error, numReaders)

	for i := 0; i < numReaders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msgs, err := svc.Client(bob).Inbox(ctx)
			if err != nil {
				errCh <- err
				return
			}
			if len(msgs) != 10 {
				errCh <- fmt.Errorf("expected 10 messages, got %d", len(msgs))
			}
		}()
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Error(err)
	}
}
