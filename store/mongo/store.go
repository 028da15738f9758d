// Package mongo provides a MongoDB implementation of store.Store.
//
// The values row and the next index row are stored in two collections whose
// documents are keyed by the blake2_128_concat account key. Updates run in a
// multi-document transaction. Standalone servers without transaction support
// fall back to optimistic writes guarded by a version field on the values
// document.
//
// The values document also carries the next index, so a single conditional
// write covers both rows and reads never pair new entries with a stale
// counter. The next index collection is kept as a mirror and is consulted
// only for values documents written without the embedded field.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/inbox/retry"
	"github.com/rbaliyan/inbox/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Compile-time check
var _ store.Store = (*Store)(nil)

// errVersionConflict marks a lost optimistic write in the fallback path.
var errVersionConflict = errors.New("mongo: version conflict")

type entryDoc struct {
	ID      int64  `bson:"id"`
	Message []byte `bson:"message"`
}

type valuesDoc struct {
	Key       []byte     `bson:"_id"`
	Entries   []entryDoc `bson:"entries"`
	NextIndex *int64     `bson:"next_index,omitempty"`
	Version   int64      `bson:"version"`
}

type nextIndexDoc struct {
	Key       []byte `bson:"_id"`
	NextIndex int64  `bson:"next_index"`
	Version   int64  `bson:"version"`
}

// Connection states.
const (
	stateDisconnected int32 = iota
	stateConnecting
	stateConnected
)

// Store implements store.Store using MongoDB.
type Store struct {
	client      *mongo.Client
	values      *mongo.Collection
	nextIndexes *mongo.Collection
	opts        *options
	retry       retry.Config
	state       int32
	logger      *slog.Logger
}

// New creates a new MongoDB store with the provided client.
// Call Connect() to resolve the collections.
func New(client *mongo.Client, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		client: client,
		opts:   o,
		retry: retry.Config{
			MaxRetries:     o.maxRetries,
			InitialBackoff: 5 * time.Millisecond,
			MaxBackoff:     200 * time.Millisecond,
			Multiplier:     2,
			Jitter:         0.5,
			IsRetryable: func(err error) bool {
				return errors.Is(err, errVersionConflict)
			},
		},
		logger: o.logger,
	}
}

// Connect verifies the connection and resolves the collections.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.state, stateDisconnected, stateConnecting) {
		return store.ErrAlreadyConnected
	}

	if s.client == nil {
		atomic.StoreInt32(&s.state, stateDisconnected)
		return fmt.Errorf("mongo: client is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.client.Ping(ctx, nil); err != nil {
		atomic.StoreInt32(&s.state, stateDisconnected)
		return fmt.Errorf("mongo ping: %w", err)
	}

	db := s.client.Database(s.opts.database)
	s.values = db.Collection(s.opts.valuesCollection)
	s.nextIndexes = db.Collection(s.opts.nextIndexCollection)

	atomic.StoreInt32(&s.state, stateConnected)
	s.logger.Info("connected to MongoDB", "database", s.opts.database,
		"values", s.opts.valuesCollection, "nextIndexes", s.opts.nextIndexCollection)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the MongoDB client.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.state, stateDisconnected)
	return nil
}

// Load returns a copy of the account's rows.
func (s *Store) Load(ctx context.Context, account store.Account) (*store.Row, error) {
	if atomic.LoadInt32(&s.state) != stateConnected {
		return nil, store.ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	row, _, err := s.readRow(ctx, store.Key(account))
	return row, err
}

// Update applies fn atomically to the account's rows.
func (s *Store) Update(ctx context.Context, account store.Account, fn func(row *store.Row) error) error {
	if atomic.LoadInt32(&s.state) != stateConnected {
		return store.ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	key := store.Key(account)

	session, err := s.client.StartSession()
	if err != nil {
		// Standalone MongoDB doesn't support sessions
		return s.updateFallback(ctx, key, fn)
	}
	defer session.EndSession(ctx)

	var fnErr error
	_, txErr := session.WithTransaction(ctx, func(sessCtx context.Context) (any, error) {
		fnErr = nil
		row, version, err := s.readRow(sessCtx, key)
		if err != nil {
			return nil, err
		}
		if fnErr = fn(row); fnErr != nil {
			return nil, fnErr
		}
		return nil, s.writeRow(sessCtx, key, row, version)
	})

	if fnErr != nil {
		return fnErr
	}
	if txErr != nil {
		if isTransactionNotSupported(txErr) {
			return s.updateFallback(ctx, key, fn)
		}
		if store.IsCorruptRow(txErr) {
			return txErr
		}
		return fmt.Errorf("%w: %w", store.ErrTransactionFailed, txErr)
	}
	return nil
}

// updateFallback performs an optimistic read-modify-write for deployments
// without transactions. The values document carries the version check; the
// next index document is written after it.
func (s *Store) updateFallback(ctx context.Context, key []byte, fn func(row *store.Row) error) error {
	err := retry.Do(ctx, s.retry, func(ctx context.Context) error {
		row, version, err := s.readRow(ctx, key)
		if err != nil {
			return retry.Permanent(err)
		}
		if err := fn(row); err != nil {
			return retry.Permanent(err)
		}
		return s.writeRow(ctx, key, row, version)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, retry.ErrMaxRetries) || errors.Is(err, retry.ErrContextCanceled) {
		return fmt.Errorf("%w: %w", store.ErrTransactionFailed, err)
	}
	return retry.Cause(err)
}

// readRow loads the account's rows. The returned version is zero when the
// values document does not exist yet.
func (s *Store) readRow(ctx context.Context, key []byte) (*store.Row, int64, error) {
	var vd valuesDoc
	err := s.values.FindOne(ctx, bson.M{"_id": key}).Decode(&vd)
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, 0, fmt.Errorf("find values: %w", err)
	}

	var mirrored int64
	if vd.NextIndex == nil {
		var nd nextIndexDoc
		err = s.nextIndexes.FindOne(ctx, bson.M{"_id": key}).Decode(&nd)
		if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, 0, fmt.Errorf("find next index: %w", err)
		}
		mirrored = nd.NextIndex
	}

	row, err := decodeRow(&vd, mirrored)
	if err != nil {
		return nil, 0, err
	}
	return row, vd.Version, nil
}

// decodeRow converts a values document into a row. The embedded next index
// wins; mirrored is used only when the document has none.
func decodeRow(vd *valuesDoc, mirrored int64) (*store.Row, error) {
	row := &store.Row{Entries: make([]store.Entry, len(vd.Entries))}
	for i, e := range vd.Entries {
		if e.ID < 0 || e.ID > int64(store.MaxMessageID) {
			return nil, fmt.Errorf("%w: id %d out of range", store.ErrCorruptRow, e.ID)
		}
		row.Entries[i] = store.Entry{ID: store.MessageID(e.ID), Message: e.Message}
	}

	next := mirrored
	if vd.NextIndex != nil {
		next = *vd.NextIndex
	}
	if next < 0 || next > int64(store.MaxMessageID) {
		return nil, fmt.Errorf("%w: next index %d out of range", store.ErrCorruptRow, next)
	}
	row.NextIndex = store.MessageID(next)
	return row, nil
}

// encodeRow builds the values document for row at the given version.
func encodeRow(key []byte, row *store.Row, version int64) valuesDoc {
	entries := make([]entryDoc, len(row.Entries))
	for i, e := range row.Entries {
		msg := e.Message
		if msg == nil {
			msg = []byte{}
		}
		entries[i] = entryDoc{ID: int64(e.ID), Message: msg}
	}
	next := int64(row.NextIndex)
	return valuesDoc{Key: key, Entries: entries, NextIndex: &next, Version: version}
}

// writeRow stores the values document, entries and next index together,
// failing with errVersionConflict when it changed since it was read at
// version. The next index mirror is then moved forward to the new version.
func (s *Store) writeRow(ctx context.Context, key []byte, row *store.Row, version int64) error {
	doc := encodeRow(key, row, version+1)

	if version == 0 {
		_, err := s.values.InsertOne(ctx, doc)
		if mongo.IsDuplicateKeyError(err) {
			return errVersionConflict
		}
		if err != nil {
			return fmt.Errorf("insert values: %w", err)
		}
	} else {
		res, err := s.values.UpdateOne(ctx,
			bson.M{"_id": key, "version": version},
			bson.M{"$set": bson.M{"entries": doc.Entries, "next_index": doc.NextIndex, "version": doc.Version}},
		)
		if err != nil {
			return fmt.Errorf("update values: %w", err)
		}
		if res.MatchedCount == 0 {
			return errVersionConflict
		}
	}

	// A mirror already at a newer version belongs to a later writer; the
	// upsert then hits the duplicate key and is skipped.
	_, err := s.nextIndexes.UpdateOne(ctx,
		mirrorFilter(key, doc.Version),
		bson.M{"$set": bson.M{"next_index": *doc.NextIndex, "version": doc.Version}},
		mongoopts.UpdateOne().SetUpsert(true),
	)
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("update next index: %w", err)
	}
	return nil
}

// mirrorFilter matches the next index mirror when it is older than version.
func mirrorFilter(key []byte, version int64) bson.M {
	return bson.M{
		"_id": key,
		"$or": bson.A{
			bson.M{"version": bson.M{"$lt": version}},
			bson.M{"version": bson.M{"$exists": false}},
		},
	}
}

// isTransactionNotSupported checks if the error indicates transactions aren't supported.
func isTransactionNotSupported(err error) bool {
	if err == nil {
		return false
	}
	// MongoDB returns code 263 (OperationNotSupportedInTransaction) or
	// code 20 (IllegalOperation) for standalone servers
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code == 263 || cmdErr.Code == 20
	}
	return false
}
