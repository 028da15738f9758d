package authority

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/rbaliyan/inbox"
	"github.com/rbaliyan/inbox/store/storetest"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T, opts ...RedisOption) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewRedis(client, opts...)
}

func TestRedis(t *testing.T) {
	ctx := context.Background()
	first, second := storetest.Account(1), storetest.Account(2)

	t.Run("empty set rejects everyone", func(t *testing.T) {
		_, r := newTestRedis(t)
		if err := r.EnsureMigrator(ctx, first); !errors.Is(err, inbox.ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("SetMigrator replaces the set", func(t *testing.T) {
		mr, r := newTestRedis(t, WithKey("test:migrators"))
		if err := r.SetMigrator(ctx, first); err != nil {
			t.Fatalf("set: %v", err)
		}
		if err := r.SetMigrator(ctx, second); err != nil {
			t.Fatalf("set: %v", err)
		}
		if err := r.EnsureMigrator(ctx, second); err != nil {
			t.Errorf("expected migrator accepted, got %v", err)
		}
		if err := r.EnsureMigrator(ctx, first); !errors.Is(err, inbox.ErrUnauthorized) {
			t.Errorf("expected previous migrator rejected, got %v", err)
		}
		members, err := mr.Members("test:migrators")
		if err != nil {
			t.Fatalf("members: %v", err)
		}
		if len(members) != 1 || members[0] != second.String() {
			t.Errorf("unexpected set contents %v", members)
		}
	})

	t.Run("Migrators skips malformed members", func(t *testing.T) {
		mr, r := newTestRedis(t)
		if _, err := mr.SAdd(DefaultRedisKey, first.String(), "not-an-account"); err != nil {
			t.Fatalf("seed: %v", err)
		}
		got, err := r.Migrators(ctx)
		if err != nil {
			t.Fatalf("migrators: %v", err)
		}
		if len(got) != 1 || got[0] != first {
			t.Errorf("expected [%s], got %v", first, got)
		}
	})

	t.Run("outage is not a denial", func(t *testing.T) {
		mr, r := newTestRedis(t)
		mr.Close()
		err := r.EnsureMigrator(ctx, first)
		if err == nil || errors.Is(err, inbox.ErrUnauthorized) {
			t.Errorf("expected transport error, got %v", err)
		}
	})

	t.Run("plugs into the service", func(t *testing.T) {
		_, r := newTestRedis(t)
		if err := r.SetMigrator(ctx, first); err != nil {
			t.Fatalf("set: %v", err)
		}
		var a inbox.Authority = r
		if err := a.EnsureMigrator(ctx, first); err != nil {
			t.Errorf("expected accepted, got %v", err)
		}
	})
}
