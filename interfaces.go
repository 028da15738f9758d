package inbox

import (
	"context"

	"github.com/rbaliyan/inbox/store"
)

// Type aliases for commonly used store types.
// These allow users to work with the inbox package without importing store directly.
type (
	Account   = store.Account
	MessageID = store.MessageID
	Entry     = store.Entry
)

// ServiceHealth provides health and state information about the service.
type ServiceHealth interface {
	// IsConnected returns true if the service is connected and ready.
	IsConnected() bool
}

// Service manages the inbox system (server-side).
// It handles connections to storage and creates mailbox clients for
// authenticated callers.
type Service interface {
	ServiceHealth

	// Connect establishes connections to storage backends.
	Connect(ctx context.Context) error
	// Close waits for in-flight operations and closes all connections.
	Close(ctx context.Context) error
	// Client returns a mailbox for an authenticated caller.
	// Connection state is checked lazily on each operation; if the service
	// is not connected, operations will return ErrNotConnected.
	Client(caller Account) Mailbox
	// Inbox returns the messages stored for any account, in stored order.
	// Absent accounts have an empty inbox.
	Inbox(ctx context.Context, account Account) ([][]byte, error)
	// Events returns per-service event instances.
	Events() *ServiceEvents
	// Engine returns the state-transition engine the service dispatches to.
	Engine() *Engine
}

// InboxReader provides read access to the caller's own inbox.
type InboxReader interface {
	// Inbox returns the caller's messages in stored order.
	Inbox(ctx context.Context) ([][]byte, error)
	// Entries returns the caller's (id, message) pairs in stored order.
	Entries(ctx context.Context) ([]Entry, error)
	// Stats returns aggregate statistics for the caller's inbox.
	Stats(ctx context.Context) (*Stats, error)
}

// InboxWriter provides message delivery and deletion.
type InboxWriter interface {
	// AddValue appends message to peer's inbox and returns its id.
	AddValue(ctx context.Context, peer Account, message []byte) (MessageID, error)
	// DeleteValues removes the given ids from the caller's own inbox.
	// Ids that are not present are ignored.
	DeleteValues(ctx context.Context, ids []MessageID) error
}

// InboxMigrator provides bulk import into any inbox. The caller must be
// a designated migrator.
type InboxMigrator interface {
	// MigrateInbox merges entries into account's inbox and sets its next
	// index. Entries whose id is already present are skipped.
	MigrateInbox(ctx context.Context, account Account, nextIndex MessageID, entries []Entry) error
}

// Mailbox is an authenticated caller's handle on the inbox system.
//
// Composed of:
//   - InboxReader: Inbox, Entries, Stats
//   - InboxWriter: AddValue, DeleteValues
//   - InboxMigrator: MigrateInbox
type Mailbox interface {
	// Account returns the caller this mailbox acts for.
	Account() Account
	InboxReader
	InboxWriter
	InboxMigrator
}

// Authority decides whether a caller may migrate inboxes.
type Authority interface {
	// EnsureMigrator returns nil if caller holds migration authority and an
	// error wrapping ErrUnauthorized otherwise.
	EnsureMigrator(ctx context.Context, caller Account) error
}

// AuthorityFunc adapts a function to the Authority interface.
type AuthorityFunc func(ctx context.Context, caller Account) error

// EnsureMigrator calls f(ctx, caller).
func (f AuthorityFunc) EnsureMigrator(ctx context.Context, caller Account) error {
	return f(ctx, caller)
}
