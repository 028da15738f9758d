package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient")

func fastConfig(maxRetries int) Config {
	return Config{
		MaxRetries:     maxRetries,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}
}

func TestDo(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := Do(ctx, fastConfig(5), func(context.Context) error {
			calls++
			if calls < 3 {
				return errTransient
			}
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if calls != 3 {
			t.Errorf("expected 3 calls, got %d", calls)
		}
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		calls := 0
		err := Do(ctx, fastConfig(2), func(context.Context) error {
			calls++
			return errTransient
		})
		if !errors.Is(err, ErrMaxRetries) {
			t.Errorf("expected ErrMaxRetries, got %v", err)
		}
		if !errors.Is(err, errTransient) {
			t.Errorf("expected cause to be reachable, got %v", err)
		}
		if calls != 3 {
			t.Errorf("expected 3 calls, got %d", calls)
		}
	})

	t.Run("stops on permanent errors", func(t *testing.T) {
		errFatal := errors.New("fatal")
		calls := 0
		err := Do(ctx, fastConfig(5), func(context.Context) error {
			calls++
			return Permanent(errFatal)
		})
		if !errors.Is(err, ErrNotRetryable) {
			t.Errorf("expected ErrNotRetryable, got %v", err)
		}
		if Cause(err) != errFatal {
			t.Errorf("expected unmarked cause, got %v", Cause(err))
		}
		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
	})

	t.Run("respects IsRetryable", func(t *testing.T) {
		cfg := fastConfig(5)
		cfg.IsRetryable = func(err error) bool { return !errors.Is(err, errTransient) }
		calls := 0
		err := Do(ctx, cfg, func(context.Context) error {
			calls++
			return errTransient
		})
		if !errors.Is(err, ErrNotRetryable) || calls != 1 {
			t.Errorf("expected single non-retryable attempt, got %v after %d calls", err, calls)
		}
	})

	t.Run("stops when context is canceled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		calls := 0
		err := Do(cctx, Config{MaxRetries: 10, InitialBackoff: time.Hour}, func(context.Context) error {
			calls++
			cancel()
			return errTransient
		})
		if !errors.Is(err, ErrContextCanceled) {
			t.Errorf("expected ErrContextCanceled, got %v", err)
		}
		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
	})
}

func TestBackoff(t *testing.T) {
	cfg := applyDefaults(Config{InitialBackoff: 10 * time.Millisecond, MaxBackoff: 50 * time.Millisecond, Multiplier: 2})
	cfg.Jitter = 0

	if d := backoff(cfg, 0); d != 10*time.Millisecond {
		t.Errorf("expected 10ms, got %v", d)
	}
	if d := backoff(cfg, 2); d != 40*time.Millisecond {
		t.Errorf("expected 40ms, got %v", d)
	}
	if d := backoff(cfg, 10); d != 50*time.Millisecond {
		t.Errorf("expected cap of 50ms, got %v", d)
	}
}
