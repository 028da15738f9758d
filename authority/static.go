// Package authority provides inbox.Authority implementations that decide
// which accounts may migrate inboxes.
package authority

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/rbaliyan/inbox"
)

// Compile-time check
var _ inbox.Authority = (*Static)(nil)

// Static is an in-memory migrator registry for tests and single-host
// deployments. Safe for concurrent use.
type Static struct {
	mu        sync.RWMutex
	migrators map[inbox.Account]struct{}
}

// NewStatic creates a registry holding the given migrators.
// Zero accounts are skipped.
func NewStatic(migrators ...inbox.Account) *Static {
	m := make(map[inbox.Account]struct{}, len(migrators))
	for _, a := range migrators {
		if !a.IsZero() {
			m[a] = struct{}{}
		}
	}
	return &Static{migrators: m}
}

// SetMigrator makes account the only designated migrator.
func (s *Static) SetMigrator(_ context.Context, account inbox.Account) error {
	if err := inbox.ValidateAccount(account); err != nil {
		return err
	}
	s.mu.Lock()
	s.migrators = map[inbox.Account]struct{}{account: {}}
	s.mu.Unlock()
	return nil
}

// Migrators returns the designated migrators in byte order.
func (s *Static) Migrators(_ context.Context) ([]inbox.Account, error) {
	s.mu.RLock()
	out := make([]inbox.Account, 0, len(s.migrators))
	for a := range s.migrators {
		out = append(out, a)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, compareAccounts)
	return out, nil
}

// EnsureMigrator returns an error wrapping inbox.ErrUnauthorized unless
// caller is a designated migrator.
func (s *Static) EnsureMigrator(_ context.Context, caller inbox.Account) error {
	s.mu.RLock()
	_, ok := s.migrators[caller]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s is not a migrator", inbox.ErrUnauthorized, caller)
	}
	return nil
}

func compareAccounts(a, b inbox.Account) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
