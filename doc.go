// Package inbox provides a per-account message inbox store for Go.
//
// Every account owns an append-only, deletable log of opaque byte messages,
// each tagged with a per-account id that increases monotonically as ids are
// assigned. A designated migrator can bulk-import inboxes with merge
// semantics, so repeating an import is harmless. Storage is pluggable
// (in-memory, Redis, bbolt, PostgreSQL, MongoDB).
//
// # Basic Usage
//
//	svc, err := inbox.NewService(
//	    inbox.WithStore(memory.New()),
//	    inbox.WithAuthority(authority.NewStatic(migrator)),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := svc.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close(ctx)
//
//	// The host authenticates the caller before handing out a client.
//	alice := svc.Client(aliceAccount)
//	id, err := alice.AddValue(ctx, bobAccount, []byte("hello, world"))
//
//	bob := svc.Client(bobAccount)
//	msgs, _ := bob.Inbox(ctx)
//	_ = bob.DeleteValues(ctx, []inbox.MessageID{id})
//
// # Limits
//
// Messages are at most MaxMessageLength bytes and a delete batch holds at
// most MaxDeleteMessages ids. Oversized requests fail with
// ErrMaxMessageLength or ErrMaxDeleteMessage before anything is written.
// An account whose next id has reached the maximum uint32 rejects further
// messages with ErrIDOverflow.
//
// # Engine
//
// Engine holds the state transitions on their own, for hosts that bring
// their own dispatch layer:
//
//	eng := inbox.NewEngine(store, authority)
//	id, err := eng.Add(ctx, account, msg)
//
// # Events
//
// The service publishes MessageAdded, MessagesDeleted and InboxMigrated
// through github.com/rbaliyan/event/v3. Pass WithRedisClient or
// WithEventTransport to deliver them; the default transport drops them.
package inbox
