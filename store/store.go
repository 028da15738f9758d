// Package store provides the storage abstraction for per-account inboxes.
// Implementations are in store/memory, store/redis, store/bolt, store/postgres
// and store/mongo subpackages.
//
// # Layout
//
// Every account owns two logical rows:
//
//   - the values row: the ordered list of (MessageID, message) entries
//   - the next index row: the next unassigned MessageID
//
// Absent rows are equivalent to an empty list and a zero next index. There is
// no explicit creation step and rows are never destroyed.
//
// # Atomicity
//
// Update is the only mutation. It loads both rows, hands them to a callback
// and writes them back as one atomic step. If the callback returns an error
// nothing is written and the error is returned unchanged, so domain errors
// raised by the engine reach the caller verbatim.
//
// Backends serialize concurrent updates of the same account using the
// database's own mechanism (row locks, optimistic WATCH transactions, bbolt's
// single writer). Updates of different accounts are independent.
package store

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
)

// MessageID identifies a message within one account's inbox.
type MessageID = uint32

// MaxMessageID is the largest representable MessageID. A next index equal to
// this value blocks further appends.
const MaxMessageID MessageID = ^MessageID(0)

// AccountSize is the length of an Account key in bytes.
const AccountSize = 32

// Account is an opaque, externally authenticated identity key.
type Account [AccountSize]byte

// String returns the 0x-prefixed hex encoding of the account.
func (a Account) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// IsZero reports whether the account is all zero bytes.
func (a Account) IsZero() bool {
	return a == Account{}
}

// ParseAccount parses a hex encoded account, with or without a 0x prefix.
func ParseAccount(s string) (Account, error) {
	var a Account
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("%w: %v", ErrInvalidAccount, err)
	}
	if len(b) != AccountSize {
		return a, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidAccount, AccountSize, len(b))
	}
	copy(a[:], b)
	return a, nil
}

// Entry is a single stored message with its assigned id.
type Entry struct {
	ID      MessageID `msgpack:"id" json:"id" yaml:"id"`
	Message []byte    `msgpack:"message" json:"message" yaml:"message"`
}

// Row is the combined state of an account's two rows.
type Row struct {
	Entries   []Entry
	NextIndex MessageID
}

// Clone returns a deep copy of the row.
func (r *Row) Clone() *Row {
	if r == nil {
		return &Row{}
	}
	c := &Row{NextIndex: r.NextIndex}
	if r.Entries != nil {
		c.Entries = make([]Entry, len(r.Entries))
		for i, e := range r.Entries {
			c.Entries[i] = Entry{ID: e.ID, Message: cloneBytes(e.Message)}
		}
	}
	return c
}

// Messages returns the message component of every entry, in stored order.
func (r *Row) Messages() [][]byte {
	if r == nil {
		return [][]byte{}
	}
	out := make([][]byte, len(r.Entries))
	for i, e := range r.Entries {
		out[i] = e.Message
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}

// Store is the storage interface for inbox state.
//
// All operations must be safe for concurrent use.
type Store interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Close(ctx context.Context) error

	// Load returns a copy of the account's rows. Absent rows load as an
	// empty Row; Load never returns a not-found error.
	Load(ctx context.Context, account Account) (*Row, error)

	// Update atomically applies fn to the account's rows.
	//
	// fn receives a private copy it may modify freely. When fn returns nil
	// the modified row is persisted; when it returns an error nothing is
	// written and that error is returned as is.
	Update(ctx context.Context, account Account, fn func(row *Row) error) error
}
