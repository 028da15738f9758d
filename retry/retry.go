// Package retry provides exponential backoff retry logic for transient failures.
//
// The inbox engine never retries. Retrying belongs to the layers around it:
// storage backends retry optimistic-lock conflicts and the migration runner
// retries batches that failed for transient reasons.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Config configures retry behavior.
type Config struct {
	// MaxRetries is the maximum number of retry attempts (default: 3).
	// Set to 0 for no retries (execute once).
	MaxRetries int

	// InitialBackoff is the delay before the first retry (default: 100ms).
	InitialBackoff time.Duration

	// MaxBackoff caps the backoff duration (default: 30s).
	MaxBackoff time.Duration

	// Multiplier increases backoff after each retry (default: 2.0).
	Multiplier float64

	// Jitter adds randomness to the backoff, as a fraction of it (default: 0.1).
	Jitter float64

	// IsRetryable decides whether an error should be retried.
	// If nil, every error not marked with Permanent is retried.
	IsRetryable func(error) bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.1,
	}
}

// Sentinel errors.
var (
	// ErrNotRetryable is reported when an attempt fails with a permanent error.
	ErrNotRetryable = errors.New("retry: error is not retryable")

	// ErrMaxRetries is reported when all retry attempts are exhausted.
	ErrMaxRetries = errors.New("retry: max retries exceeded")

	// ErrContextCanceled is reported when the context ends between attempts.
	ErrContextCanceled = errors.New("retry: context canceled")
)

// Func is the function type that can be retried.
type Func func(ctx context.Context) error

// Do executes fn until it succeeds, fails permanently, runs out of attempts
// or ctx is done. Failures are reported as *RetryError wrapping the last error.
func Do(ctx context.Context, cfg Config, fn Func) error {
	cfg = applyDefaults(cfg)

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			if lastErr == nil {
				return ctx.Err()
			}
			return &RetryError{Cause: lastErr, Attempts: attempt, Err: ErrContextCanceled}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if isPermanent(err) || !cfg.IsRetryable(err) {
			return &RetryError{Cause: unwrapPermanent(err), Attempts: attempt + 1, Err: ErrNotRetryable}
		}

		if attempt == cfg.MaxRetries {
			break
		}

		timer := time.NewTimer(backoff(cfg, attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return &RetryError{Cause: lastErr, Attempts: attempt + 1, Err: ErrContextCanceled}
		case <-timer.C:
		}
	}

	return &RetryError{Cause: lastErr, Attempts: cfg.MaxRetries + 1, Err: ErrMaxRetries}
}

// RetryError provides details about a failed retry operation.
type RetryError struct {
	// Cause is the last error returned by the function.
	Cause error

	// Attempts is the number of attempts made.
	Attempts int

	// Err is the sentinel error (ErrMaxRetries, ErrNotRetryable, or ErrContextCanceled).
	Err error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("retry failed after %d attempts (%s): %s", e.Attempts, e.Err, e.Cause)
}

func (e *RetryError) Unwrap() error {
	return e.Cause
}

func (e *RetryError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// Cause returns the underlying error of a *RetryError, or err itself.
func Cause(err error) error {
	var re *RetryError
	if errors.As(err, &re) {
		return re.Cause
	}
	return err
}

// Permanent marks err so that Do stops retrying immediately.
// Do reports the unmarked error as the RetryError cause.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{cause: err}
}

type permanentError struct {
	cause error
}

func (e *permanentError) Error() string { return e.cause.Error() }
func (e *permanentError) Unwrap() error { return e.cause }

func isPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

func unwrapPermanent(err error) error {
	var pe *permanentError
	if errors.As(err, &pe) {
		return pe.cause
	}
	return err
}

// backoff computes the delay before retry number attempt+1.
func backoff(cfg Config, attempt int) time.Duration {
	d := float64(cfg.InitialBackoff) * math.Pow(cfg.Multiplier, float64(attempt))
	if d > float64(cfg.MaxBackoff) {
		d = float64(cfg.MaxBackoff)
	}
	if cfg.Jitter > 0 {
		spread := d * cfg.Jitter
		d = d - spread + rand.Float64()*2*spread
	}
	return time.Duration(d)
}

// applyDefaults fills in zero values with defaults.
func applyDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = def.Multiplier
	}
	cfg.Jitter = min(max(cfg.Jitter, 0), 1)
	if cfg.IsRetryable == nil {
		cfg.IsRetryable = func(error) bool { return true }
	}
	return cfg
}
