package inbox

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/event/v3"
)

// Event names for inbox events.
const (
	EventNameMessageAdded    = "inbox.message.added"
	EventNameMessagesDeleted = "inbox.messages.deleted"
	EventNameInboxMigrated   = "inbox.migrated"
)

// MessageAddedEvent is published after a message is appended to an inbox.
// The message body is not included.
type MessageAddedEvent struct {
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	MessageID MessageID `json:"message_id"`
	Size      int       `json:"size"`
	AddedAt   time.Time `json:"added_at"`
}

// MessagesDeletedEvent is published after a delete batch is applied.
// IDs lists the requested ids, including those that were not present.
type MessagesDeletedEvent struct {
	Account   string      `json:"account"`
	IDs       []MessageID `json:"ids"`
	DeletedAt time.Time   `json:"deleted_at"`
}

// InboxMigratedEvent is published after a migration batch is merged.
type InboxMigratedEvent struct {
	// MigrationID uniquely identifies this migrate call, for deduplicating
	// downstream consumers when a coordinator replays a batch.
	MigrationID string    `json:"migration_id"`
	Migrator    string    `json:"migrator"`
	Account     string    `json:"account"`
	NextIndex   MessageID `json:"next_index"`
	Entries     int       `json:"entries"`
	MigratedAt  time.Time `json:"migrated_at"`
}

// ServiceEvents provides access to per-service event instances.
// Each service creates its own events bound to its own event bus,
// enabling independent event routing and parallel testing.
type ServiceEvents struct {
	// MessageAdded is published when a message is added to an inbox.
	MessageAdded event.Event[MessageAddedEvent]

	// MessagesDeleted is published when a caller deletes messages.
	MessagesDeleted event.Event[MessagesDeletedEvent]

	// InboxMigrated is published when a migrator imports a batch.
	InboxMigrated event.Event[InboxMigratedEvent]
}

// newServiceEvents creates per-service event instances with a unique name prefix.
func newServiceEvents(namePrefix string) *ServiceEvents {
	return &ServiceEvents{
		MessageAdded:    event.New[MessageAddedEvent](namePrefix + "." + EventNameMessageAdded),
		MessagesDeleted: event.New[MessagesDeletedEvent](namePrefix + "." + EventNameMessagesDeleted),
		InboxMigrated:   event.New[InboxMigratedEvent](namePrefix + "." + EventNameInboxMigrated),
	}
}

// registerServiceEvents registers per-service events with the given bus.
func registerServiceEvents(ctx context.Context, bus *event.Bus, events *ServiceEvents) error {
	if err := event.Register(ctx, bus, events.MessageAdded); err != nil {
		return fmt.Errorf("register MessageAdded: %w", err)
	}
	if err := event.Register(ctx, bus, events.MessagesDeleted); err != nil {
		return fmt.Errorf("register MessagesDeleted: %w", err)
	}
	if err := event.Register(ctx, bus, events.InboxMigrated); err != nil {
		return fmt.Errorf("register InboxMigrated: %w", err)
	}
	return nil
}

// publishResult handles the outcome of an event publish. The state change
// has already been persisted, so the error is only surfaced when event
// errors are fatal.
func (s *service) publishResult(name string, account Account, err error) error {
	if err == nil {
		return nil
	}
	if s.opts.eventErrorsFatal {
		return &EventPublishError{Event: name, Account: account, Err: err}
	}
	s.opts.safeEventPublishFailure(name, err)
	return nil
}
