package cached

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rbaliyan/inbox/migration"
)

type countingSource struct {
	migration.Dir
	opens int
}

func (c *countingSource) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	c.opens++
	return c.Dir.Open(ctx, key)
}

func newBackend(t *testing.T) *countingSource {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.json"), []byte(`{"k":"v"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	return &countingSource{Dir: migration.Dir(dir)}
}

func readAll(t *testing.T, s migration.Source, key string) string {
	t.Helper()
	rc, err := s.Open(context.Background(), key)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(b)
}

func TestCachedSource(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	t.Run("second open is served from cache", func(t *testing.T) {
		backend := newBackend(t)
		s, err := New(backend, WithCacheDir(t.TempDir()), WithLogger(logger))
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		for i := 0; i < 3; i++ {
			if got := readAll(t, s, "a.json"); got != `{"k":"v"}` {
				t.Fatalf("unexpected content %q", got)
			}
		}
		if backend.opens != 1 {
			t.Errorf("expected 1 backend open, got %d", backend.opens)
		}
	})

	t.Run("objects over budget are not cached", func(t *testing.T) {
		backend := newBackend(t)
		s, _ := New(backend, WithCacheDir(t.TempDir()), WithMaxSize(2), WithLogger(logger))
		readAll(t, s, "a.json")
		readAll(t, s, "a.json")
		if backend.opens != 2 {
			t.Errorf("expected 2 backend opens, got %d", backend.opens)
		}
	})

	t.Run("expired objects are pruned", func(t *testing.T) {
		backend := newBackend(t)
		s, _ := New(backend, WithCacheDir(t.TempDir()), WithTTL(time.Hour), WithLogger(logger))
		readAll(t, s, "a.json")

		old := time.Now().Add(-2 * time.Hour)
		if err := os.Chtimes(s.path("a.json"), old, old); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
		n, err := s.Prune()
		if err != nil || n != 1 {
			t.Fatalf("expected 1 pruned, got %d (%v)", n, err)
		}
		readAll(t, s, "a.json")
		if backend.opens != 2 {
			t.Errorf("expected refetch after prune, got %d opens", backend.opens)
		}
	})

	t.Run("List passes through", func(t *testing.T) {
		s, _ := New(newBackend(t), WithCacheDir(t.TempDir()), WithLogger(logger))
		keys, err := s.List(context.Background())
		if err != nil || len(keys) != 1 || keys[0] != "a.json" {
			t.Errorf("unexpected keys %v (%v)", keys, err)
		}
	})
}
