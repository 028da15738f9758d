package migration

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rbaliyan/inbox"
	"github.com/rbaliyan/inbox/retry"
	"golang.org/x/sync/errgroup"
)

// Runner applies every batch of a Source through a migrator.
type Runner struct {
	migrator inbox.InboxMigrator
	source   Source
	opts     *options
}

// NewRunner creates a runner. migrator is normally the Mailbox of the
// designated migrator account.
func NewRunner(migrator inbox.InboxMigrator, source Source, opts ...Option) *Runner {
	return &Runner{
		migrator: migrator,
		source:   source,
		opts:     newOptions(opts...),
	}
}

// Report summarizes a run.
type Report struct {
	// Applied lists the keys of batches that were migrated, in source order.
	Applied []string
	// Failed maps the keys of batches that could not be migrated to the cause.
	Failed map[string]error
}

// Err joins all batch failures, or returns nil when every batch applied.
func (r *Report) Err() error {
	keys := make([]string, 0, len(r.Failed))
	for k := range r.Failed {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	errs := make([]error, 0, len(keys))
	for _, k := range keys {
		errs = append(errs, fmt.Errorf("%s: %w", k, r.Failed[k]))
	}
	return errors.Join(errs...)
}

// Run lists the source and applies every batch. A failing batch does not stop
// the others. The returned error is non-nil only when the source cannot be
// listed or ctx ends; per-batch failures are in the report.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	keys, err := r.source.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list source: %w", err)
	}

	start := time.Now()
	r.opts.logger.Info("migration started", "batches", len(keys), "concurrency", r.opts.concurrency)

	var mu sync.Mutex
	applied := make(map[string]bool, len(keys))
	report := &Report{Failed: make(map[string]error)}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.concurrency)
	for _, key := range keys {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			err := r.apply(gctx, key)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed[key] = err
				r.opts.logger.Warn("batch failed", "key", key, "error", err)
				return nil
			}
			applied[key] = true
			return nil
		})
	}
	_ = g.Wait()

	for _, key := range keys {
		if applied[key] {
			report.Applied = append(report.Applied, key)
		}
	}

	r.opts.logger.Info("migration finished",
		"applied", len(report.Applied), "failed", len(report.Failed), "duration", time.Since(start))

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// apply decodes one batch and migrates it, retrying transient failures.
func (r *Runner) apply(ctx context.Context, key string) error {
	b, err := r.load(ctx, key)
	if err != nil {
		return err
	}

	err = retry.Do(ctx, r.opts.retry, func(ctx context.Context) error {
		return r.migrator.MigrateInbox(ctx, b.Account, b.NextIndex, b.Entries)
	})
	if err != nil {
		return retry.Cause(err)
	}
	r.opts.logger.Debug("batch applied",
		"key", key, "account", b.Account.String(), "nextIndex", b.NextIndex, "entries", len(b.Entries))
	return nil
}

func (r *Runner) load(ctx context.Context, key string) (*Batch, error) {
	rc, err := r.source.Open(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer rc.Close()
	return Decode(key, rc)
}
