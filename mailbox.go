package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rbaliyan/event/v3"
	"github.com/rbaliyan/event/v3/transport/noop"
	eventredis "github.com/rbaliyan/event/v3/transport/redis"
	"github.com/rbaliyan/inbox/store"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"
)

// Connection states for the service.
const (
	stateDisconnected int32 = 0
	stateConnecting   int32 = 1
	stateConnected    int32 = 2
)

// service is the default implementation of Service.
type service struct {
	store    store.Store
	engine   *Engine
	logger   *slog.Logger
	opts     *options
	state    int32 // stateDisconnected, stateConnecting, or stateConnected
	plugins  *pluginRegistry
	otel     *otelInstrumentation
	opSem    *semaphore.Weighted // Bounds in-flight mutations; drained on Close
	eventBus *event.Bus
	events   *ServiceEvents
}

// NewService creates a new inbox service.
// Call Connect() to establish connections to backends.
func NewService(opts ...Option) (Service, error) {
	o := newOptions(opts...)

	if o.store == nil {
		return nil, ErrStoreRequired
	}

	plugins := newPluginRegistry(o.logger)
	for _, p := range o.plugins {
		plugins.register(p)
	}

	otelInstr, err := newOtelInstrumentation(o)
	if err != nil {
		return nil, fmt.Errorf("init otel: %w", err)
	}

	return &service{
		store:   o.store,
		engine:  &Engine{store: o.store, authority: o.authority, limits: o.getLimits()},
		logger:  o.logger,
		opts:    o,
		plugins: plugins,
		otel:    otelInstr,
		opSem:   semaphore.NewWeighted(int64(o.maxConcurrentOps)),
	}, nil
}

// Events returns per-service event instances.
// Nil until the service has connected.
func (s *service) Events() *ServiceEvents {
	return s.events
}

// Engine returns the state-transition engine.
func (s *service) Engine() *Engine {
	return s.engine
}

// IsConnected returns true if the service is connected and ready.
func (s *service) IsConnected() bool {
	return atomic.LoadInt32(&s.state) == stateConnected
}

// Connect establishes connections to storage backends.
func (s *service) Connect(ctx context.Context) error {
	// stateDisconnected -> stateConnecting -> stateConnected keeps Client()
	// operations from seeing partial initialization.
	if !atomic.CompareAndSwapInt32(&s.state, stateDisconnected, stateConnecting) {
		return ErrAlreadyConnected
	}

	success := false
	defer func() {
		if success {
			atomic.StoreInt32(&s.state, stateConnected)
		} else {
			atomic.StoreInt32(&s.state, stateDisconnected)
		}
	}()

	if err := s.store.Connect(ctx); err != nil {
		return fmt.Errorf("connect store: %w", err)
	}

	if err := s.initEventBus(ctx); err != nil {
		s.store.Close(ctx)
		return fmt.Errorf("init event bus: %w", err)
	}

	if err := s.plugins.initAll(ctx); err != nil {
		s.eventBus.Close(ctx)
		s.store.Close(ctx)
		return fmt.Errorf("init plugins: %w", err)
	}

	success = true
	s.logger.Info("inbox service connected", "service", s.opts.serviceName)
	return nil
}

// busCounter generates unique suffixes for event bus names.
var busCounter int64

// initEventBus creates this service's event bus and registers its events.
func (s *service) initEventBus(ctx context.Context) error {
	// Each bus needs a unique name, so append a counter suffix
	busName := fmt.Sprintf("%s-%d", s.opts.serviceName, atomic.AddInt64(&busCounter, 1))

	var bus *event.Bus
	var err error

	switch {
	case s.opts.eventTransport != nil:
		s.logger.Info("initializing event bus with custom transport")
		bus, err = event.NewBus(busName, event.WithTransport(s.opts.eventTransport))
	case s.opts.redisClient != nil:
		s.logger.Info("initializing event bus with Redis transport")
		t, transportErr := eventredis.New(s.opts.redisClient)
		if transportErr != nil {
			return fmt.Errorf("create redis transport: %w", transportErr)
		}
		bus, err = event.NewBus(busName, event.WithTransport(t))
	default:
		s.logger.Debug("initializing event bus with noop transport")
		bus, err = event.NewBus(busName, event.WithTransport(noop.New()))
	}

	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}

	events := newServiceEvents(busName)
	if err := registerServiceEvents(ctx, bus, events); err != nil {
		bus.Close(ctx)
		return fmt.Errorf("register service events: %w", err)
	}

	s.eventBus = bus
	s.events = events
	return nil
}

// Close waits for in-flight mutations, then closes plugins, the event bus
// and the store.
func (s *service) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.state, stateConnected, stateDisconnected) {
		return nil
	}

	var errs []error

	// No new mutation can start once the state is disconnected. Acquiring
	// every slot waits for the running ones to finish.
	s.logger.Info("waiting for in-flight operations to complete...", "timeout", s.opts.shutdownTimeout)
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, s.opts.shutdownTimeout)
	defer shutdownCancel()
	if err := s.opSem.Acquire(shutdownCtx, int64(s.opts.maxConcurrentOps)); err != nil {
		s.logger.Warn("timeout waiting for in-flight operations, proceeding with shutdown",
			"error", err)
		errs = append(errs, fmt.Errorf("graceful shutdown timeout: %w", err))
	} else {
		s.opSem.Release(int64(s.opts.maxConcurrentOps))
		s.logger.Info("all in-flight operations completed")
	}

	// Close plugins first (reverse order of init)
	if err := s.plugins.closeAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close plugins: %w", err))
	}

	if s.eventBus != nil {
		if err := s.eventBus.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
	}

	if err := s.store.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	return errors.Join(errs...)
}

// Client returns a mailbox for an authenticated caller.
func (s *service) Client(caller Account) Mailbox {
	return &userMailbox{
		account: caller,
		service: s,
	}
}

// Inbox returns the messages stored for account.
func (s *service) Inbox(ctx context.Context, account Account) ([][]byte, error) {
	if !s.IsConnected() {
		return nil, ErrNotConnected
	}

	ctx, end := s.otel.startSpan(ctx, "inbox.Inbox", attribute.String("account", account.String()))
	start := time.Now()
	msgs, err := s.engine.List(ctx, account)
	s.otel.recordList(ctx, time.Since(start), len(msgs), err)
	end(err)
	return msgs, err
}

// acquire reserves an in-flight slot for a mutation.
func (s *service) acquire(ctx context.Context) (func(), error) {
	if err := s.opSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { s.opSem.Release(1) }, nil
}

// userMailbox is the default implementation of Mailbox.
type userMailbox struct {
	account Account
	service *service
}

// Account returns the caller this mailbox acts for.
func (m *userMailbox) Account() Account {
	return m.account
}

// checkAccess verifies the mailbox is ready for operations.
// Returns ErrNotConnected if the service isn't connected,
// or ErrInvalidAccount if the caller is the zero account.
func (m *userMailbox) checkAccess() error {
	if !m.service.IsConnected() {
		return ErrNotConnected
	}
	return ValidateAccount(m.account)
}

// AddValue appends message to peer's inbox.
func (m *userMailbox) AddValue(ctx context.Context, peer Account, message []byte) (id MessageID, err error) {
	if err := m.checkAccess(); err != nil {
		return 0, err
	}
	if err := ValidateAccount(peer); err != nil {
		return 0, err
	}

	release, err := m.service.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	ctx, end := m.service.otel.startSpan(ctx, "inbox.AddValue",
		attribute.String("sender", m.account.String()),
		attribute.String("recipient", peer.String()),
		attribute.Int("message_size", len(message)),
	)
	start := time.Now()
	defer func() {
		m.service.otel.recordAdd(ctx, time.Since(start), len(message), err)
		end(err)
	}()

	// Reject oversized messages before plugins see them.
	if err := ValidateMessageWithLimits(message, m.service.engine.limits); err != nil {
		return 0, err
	}

	if err := m.service.plugins.beforeAdd(ctx, m.account, peer, message); err != nil {
		return 0, err
	}

	id, err = m.service.engine.Add(ctx, peer, message)
	if err != nil {
		return 0, err
	}
	m.service.logger.Debug("message added",
		"sender", m.account.String(), "recipient", peer.String(), "id", id, "size", len(message))

	if err := m.service.plugins.afterAdd(ctx, m.account, peer, id); err != nil {
		return id, err
	}

	err = m.service.publishResult("MessageAdded", peer, m.service.events.MessageAdded.Publish(ctx, MessageAddedEvent{
		Sender:    m.account.String(),
		Recipient: peer.String(),
		MessageID: id,
		Size:      len(message),
		AddedAt:   time.Now().UTC(),
	}))
	return id, err
}

// DeleteValues removes ids from the caller's own inbox.
func (m *userMailbox) DeleteValues(ctx context.Context, ids []MessageID) (err error) {
	if err := m.checkAccess(); err != nil {
		return err
	}

	release, err := m.service.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	ctx, end := m.service.otel.startSpan(ctx, "inbox.DeleteValues",
		attribute.String("account", m.account.String()),
		attribute.Int("id_count", len(ids)),
	)
	start := time.Now()
	defer func() {
		m.service.otel.recordDelete(ctx, time.Since(start), len(ids), err)
		end(err)
	}()

	if err := m.service.engine.Delete(ctx, m.account, ids); err != nil {
		return err
	}
	m.service.logger.Debug("messages deleted", "account", m.account.String(), "requested", len(ids))

	return m.service.publishResult("MessagesDeleted", m.account, m.service.events.MessagesDeleted.Publish(ctx, MessagesDeletedEvent{
		Account:   m.account.String(),
		IDs:       ids,
		DeletedAt: time.Now().UTC(),
	}))
}

// MigrateInbox merges entries into account's inbox on behalf of the caller.
func (m *userMailbox) MigrateInbox(ctx context.Context, account Account, nextIndex MessageID, entries []Entry) (err error) {
	if err := m.checkAccess(); err != nil {
		return err
	}

	release, err := m.service.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	ctx, end := m.service.otel.startSpan(ctx, "inbox.MigrateInbox",
		attribute.String("migrator", m.account.String()),
		attribute.String("account", account.String()),
		attribute.Int64("next_index", int64(nextIndex)),
		attribute.Int("entry_count", len(entries)),
	)
	start := time.Now()
	defer func() {
		m.service.otel.recordMigrate(ctx, time.Since(start), len(entries), err)
		end(err)
	}()

	if err := m.service.engine.Migrate(ctx, m.account, account, nextIndex, entries); err != nil {
		if errors.Is(err, ErrUnauthorized) {
			m.service.logger.Warn("migration rejected", "caller", m.account.String(), "account", account.String())
		}
		return err
	}
	m.service.logger.Info("inbox migrated",
		"migrator", m.account.String(), "account", account.String(),
		"nextIndex", nextIndex, "entries", len(entries))

	return m.service.publishResult("InboxMigrated", account, m.service.events.InboxMigrated.Publish(ctx, InboxMigratedEvent{
		MigrationID: uuid.NewString(),
		Migrator:    m.account.String(),
		Account:     account.String(),
		NextIndex:   nextIndex,
		Entries:     len(entries),
		MigratedAt:  time.Now().UTC(),
	}))
}

// Inbox returns the caller's messages.
func (m *userMailbox) Inbox(ctx context.Context) ([][]byte, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}
	return m.service.Inbox(ctx, m.account)
}

// Entries returns the caller's (id, message) pairs.
func (m *userMailbox) Entries(ctx context.Context) ([]Entry, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}
	return m.service.engine.Entries(ctx, m.account)
}

// Stats returns aggregate statistics for the caller's inbox.
func (m *userMailbox) Stats(ctx context.Context) (*Stats, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}
	return m.service.engine.Stats(ctx, m.account)
}
