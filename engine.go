package inbox

import (
	"context"
	"slices"

	"github.com/rbaliyan/inbox/store"
)

// Engine applies inbox state transitions to a store.
//
// Every mutating call validates its input, then runs exactly one
// store.Update. A rejected call returns before the store is touched, and a
// failure inside the transition leaves both rows unchanged.
//
// Engine performs no authentication: it trusts the account it is given. Use
// Service for connection management, telemetry, events and plugins.
type Engine struct {
	store     store.Store
	authority Authority
	limits    Limits
}

// NewEngine creates an engine over s. The authority gates Migrate and may be
// nil when migrations are not used. Only the limit options are read.
func NewEngine(s store.Store, a Authority, opts ...Option) *Engine {
	o := newOptions(opts...)
	return &Engine{
		store:     s,
		authority: a,
		limits:    o.getLimits(),
	}
}

// Add appends message to the account's inbox and returns its id.
func (e *Engine) Add(ctx context.Context, account Account, message []byte) (MessageID, error) {
	if err := ValidateMessageWithLimits(message, e.limits); err != nil {
		return 0, err
	}

	var id MessageID
	err := e.store.Update(ctx, account, func(row *store.Row) error {
		var err error
		id, err = appendEntry(row, message)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Delete removes the entries with the given ids from the account's inbox.
// Ids that are not present are ignored.
func (e *Engine) Delete(ctx context.Context, account Account, ids []MessageID) error {
	if err := ValidateDeleteIDsWithLimits(ids, e.limits); err != nil {
		return err
	}
	return e.store.Update(ctx, account, func(row *store.Row) error {
		removeEntries(row, ids)
		return nil
	})
}

// Migrate merges entries into the account's inbox on behalf of caller and
// sets the account's next index to nextIndex.
//
// Entries whose id already exists are skipped, so repeating a migration is
// harmless. The next index is overwritten even when it is lower than ids
// already in use.
func (e *Engine) Migrate(ctx context.Context, caller, account Account, nextIndex MessageID, entries []Entry) error {
	if e.authority == nil {
		return ErrAuthorityRequired
	}
	if err := e.authority.EnsureMigrator(ctx, caller); err != nil {
		return err
	}
	return e.store.Update(ctx, account, func(row *store.Row) error {
		mergeEntries(row, nextIndex, entries)
		return nil
	})
}

// List returns the account's messages in stored order.
func (e *Engine) List(ctx context.Context, account Account) ([][]byte, error) {
	row, err := e.store.Load(ctx, account)
	if err != nil {
		return nil, err
	}
	return row.Messages(), nil
}

// Entries returns the account's (id, message) pairs in stored order.
func (e *Engine) Entries(ctx context.Context, account Account) ([]Entry, error) {
	row, err := e.store.Load(ctx, account)
	if err != nil {
		return nil, err
	}
	if row.Entries == nil {
		return []Entry{}, nil
	}
	return row.Entries, nil
}

// NextIndex returns the id the next added message will receive.
func (e *Engine) NextIndex(ctx context.Context, account Account) (MessageID, error) {
	row, err := e.store.Load(ctx, account)
	if err != nil {
		return 0, err
	}
	return row.NextIndex, nil
}

// appendEntry assigns the next id to message and appends it.
func appendEntry(row *store.Row, message []byte) (MessageID, error) {
	if row.NextIndex == store.MaxMessageID {
		return 0, ErrIDOverflow
	}
	id := row.NextIndex
	row.Entries = append(row.Entries, Entry{ID: id, Message: message})
	row.NextIndex = id + 1
	return id, nil
}

// removeEntries removes, for each id in order, the first entry carrying it.
func removeEntries(row *store.Row, ids []MessageID) {
	for _, id := range ids {
		i := slices.IndexFunc(row.Entries, func(e Entry) bool { return e.ID == id })
		if i >= 0 {
			row.Entries = slices.Delete(row.Entries, i, i+1)
		}
	}
}

// mergeEntries appends every entry whose id was not present before the merge
// began, then overwrites the next index.
//
// Membership is checked against the ids present before the merge, so two
// entries sharing a new id within one batch are both appended.
func mergeEntries(row *store.Row, nextIndex MessageID, entries []Entry) {
	existing := make(map[MessageID]struct{}, len(row.Entries))
	for _, e := range row.Entries {
		existing[e.ID] = struct{}{}
	}
	for _, e := range entries {
		if _, ok := existing[e.ID]; !ok {
			row.Entries = append(row.Entries, e)
		}
	}
	row.NextIndex = nextIndex
}
