// Package postgres provides a PostgreSQL implementation of store.Store.
//
// The values row and the next index row live in two tables keyed by the
// blake2_128_concat account key. Update locks the account's values row with
// SELECT ... FOR UPDATE for the duration of its transaction.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rbaliyan/inbox/store"
)

// Compile-time check
var _ store.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL.
type Store struct {
	db        *sqlx.DB
	opts      *options
	connected int32
	logger    *slog.Logger

	valuesTable    string
	nextIndexTable string
}

// New creates a new PostgreSQL store with the provided database connection.
// Call Connect() to initialize the schema.
func New(db *sqlx.DB, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		db:             db,
		opts:           o,
		logger:         o.logger,
		valuesTable:    o.tablePrefix + "_values",
		nextIndexTable: o.tablePrefix + "_next_indexes",
	}
}

// NewFromDB creates a new PostgreSQL store from a standard sql.DB connection.
// This wraps the sql.DB with sqlx for enhanced functionality.
func NewFromDB(db *sql.DB, opts ...Option) *Store {
	return New(sqlx.NewDb(db, "postgres"), opts...)
}

// Connect verifies the connection and creates the tables.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}

	if s.db == nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("postgres: db is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("postgres ping: %w", err)
	}

	if err := s.ensureSchema(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("ensure schema: %w", err)
	}

	s.logger.Info("connected to PostgreSQL", "values", s.valuesTable, "nextIndexes", s.nextIndexTable)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the database connection.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

// ensureSchema creates the two tables.
func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				account BYTEA PRIMARY KEY,
				ids BIGINT[] NOT NULL DEFAULT '{}',
				messages BYTEA[] NOT NULL DEFAULT '{}'
			)
		`, s.valuesTable),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				account BYTEA PRIMARY KEY,
				next_index BIGINT NOT NULL DEFAULT 0
			)
		`, s.nextIndexTable),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

// checkConnected returns error if not connected.
func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

// Load returns a copy of the account's rows.
func (s *Store) Load(ctx context.Context, account store.Account) (*store.Row, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	return s.readRow(ctx, s.db, store.Key(account), false)
}

// Update applies fn inside a transaction holding the account's row lock.
func (s *Store) Update(ctx context.Context, account store.Account, fn func(row *store.Row) error) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	key := store.Key(account)

	// FOR UPDATE locks nothing when the row is absent, so make sure it exists
	// first. Concurrent inserts of the same key block on each other.
	ensure := fmt.Sprintf(`INSERT INTO %s (account) VALUES ($1) ON CONFLICT (account) DO NOTHING`, s.valuesTable)
	if _, err := tx.ExecContext(ctx, ensure, key); err != nil {
		return fmt.Errorf("ensure values row: %w", err)
	}

	row, err := s.readRow(ctx, tx, key, true)
	if err != nil {
		return err
	}
	if err := fn(row); err != nil {
		return err
	}

	ids := make([]int64, len(row.Entries))
	messages := make([][]byte, len(row.Entries))
	for i, e := range row.Entries {
		ids[i] = int64(e.ID)
		messages[i] = e.Message
		if messages[i] == nil {
			messages[i] = []byte{}
		}
	}

	writeValues := fmt.Sprintf(`UPDATE %s SET ids = $2, messages = $3 WHERE account = $1`, s.valuesTable)
	if _, err := tx.ExecContext(ctx, writeValues, key, pq.Array(ids), pq.Array(messages)); err != nil {
		return fmt.Errorf("write values: %w", err)
	}

	writeNext := fmt.Sprintf(`
		INSERT INTO %s (account, next_index) VALUES ($1, $2)
		ON CONFLICT (account) DO UPDATE SET next_index = EXCLUDED.next_index
	`, s.nextIndexTable)
	if _, err := tx.ExecContext(ctx, writeNext, key, int64(row.NextIndex)); err != nil {
		return fmt.Errorf("write next index: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", store.ErrTransactionFailed, err)
	}
	return nil
}

// readRow loads both rows. With lock set the values row is read FOR UPDATE.
func (s *Store) readRow(ctx context.Context, q sqlx.QueryerContext, key []byte, lock bool) (*store.Row, error) {
	valuesQuery := fmt.Sprintf(`SELECT ids, messages FROM %s WHERE account = $1`, s.valuesTable)
	if lock {
		valuesQuery += " FOR UPDATE"
	}

	var (
		ids      []int64
		messages [][]byte
	)
	err := q.QueryRowxContext(ctx, valuesQuery, key).Scan(pq.Array(&ids), pq.Array(&messages))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("read values: %w", err)
	}
	if len(ids) != len(messages) {
		return nil, fmt.Errorf("%w: %d ids for %d messages", store.ErrCorruptRow, len(ids), len(messages))
	}

	row := &store.Row{Entries: make([]store.Entry, len(ids))}
	for i := range ids {
		if ids[i] < 0 || ids[i] > int64(store.MaxMessageID) {
			return nil, fmt.Errorf("%w: id %d out of range", store.ErrCorruptRow, ids[i])
		}
		row.Entries[i] = store.Entry{ID: store.MessageID(ids[i]), Message: messages[i]}
	}

	var next int64
	nextQuery := fmt.Sprintf(`SELECT next_index FROM %s WHERE account = $1`, s.nextIndexTable)
	err = sqlx.GetContext(ctx, q, &next, nextQuery, key)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("read next index: %w", err)
	}
	if next < 0 || next > int64(store.MaxMessageID) {
		return nil, fmt.Errorf("%w: next index %d out of range", store.ErrCorruptRow, next)
	}
	row.NextIndex = store.MessageID(next)
	return row, nil
}
