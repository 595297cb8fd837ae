package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/burugo/syncstore"
	"github.com/burugo/syncstore/common"
	"github.com/burugo/syncstore/internal/observe"
)

// Compile-time check to ensure Store implements syncstore.LocalStore.
var _ syncstore.LocalStore = (*Store)(nil)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS entities (
	tbl        TEXT    NOT NULL,
	id         TEXT    NOT NULL,
	payload    BLOB    NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (tbl, id)
);
CREATE TABLE IF NOT EXISTS ttl (
	key          TEXT    PRIMARY KEY,
	last_refresh INTEGER NOT NULL
);`

// Store is a syncstore.LocalStore backed by SQLite. Entities are stored as
// JSON payloads keyed by (table, id); TTL records live in their own table.
type Store struct {
	db        *sqlx.DB
	writeMu   sync.Mutex // one write transaction at a time
	closeMx   sync.Mutex
	closed    bool
	observers *observe.Registry[syncstore.ChangeSet]
}

// Open connects to the SQLite database at dsn and prepares the schema.
func Open(dsn string) (*Store, error) {
	log.Printf("Initializing SQLite store with DSN: %s", dsn)
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to sqlite database (%s): %w", dsn, err)
	}
	// A single connection keeps ":memory:" databases alive and serializes
	// readers behind the writer.
	db.SetMaxOpenConns(1)

	s, err := NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an existing connection and creates the tables if needed.
func NewStore(db *sqlx.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("sqlite store: db must be non-nil")
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("sqlite store: create schema: %w", err)
	}
	log.Println("SQLite store initialized successfully.")
	return &Store{db: db, observers: observe.NewRegistry[syncstore.ChangeSet]()}, nil
}

// DB exposes the underlying connection.
func (s *Store) DB() *sqlx.DB { return s.db }

type entityRow struct {
	ID      string `db:"id"`
	Payload []byte `db:"payload"`
}

// queryer is what both *sqlx.DB and *sqlx.Tx offer.
type queryer interface {
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

func fetch(ctx context.Context, q queryer, table string, scope syncstore.Scope, dest interface{}) error {
	var rows []entityRow
	if err := q.SelectContext(ctx, &rows, `SELECT id, payload FROM entities WHERE tbl = ?`, table); err != nil {
		return fmt.Errorf("sqlite Select failed for table '%s': %w", table, err)
	}
	payloads := make([][]byte, len(rows))
	for i, r := range rows {
		payloads[i] = r.Payload
	}
	return syncstore.Materialize(payloads, scope, dest)
}

func lastRefresh(ctx context.Context, q queryer, key string) (time.Time, bool, error) {
	var nanos int64
	err := q.GetContext(ctx, &nanos, `SELECT last_refresh FROM ttl WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("sqlite Get failed for ttl '%s': %w", key, err)
	}
	return time.Unix(0, nanos), true, nil
}

// Fetch loads the entities of table matching scope into dest.
func (s *Store) Fetch(ctx context.Context, table string, scope syncstore.Scope, dest interface{}) error {
	if s.isClosed() {
		return syncstore.ErrStoreClosed
	}
	return fetch(ctx, s.db, table, scope, dest)
}

// LastRefresh reads the TTL record for key.
func (s *Store) LastRefresh(ctx context.Context, key string) (time.Time, bool, error) {
	if s.isClosed() {
		return time.Time{}, false, syncstore.ErrStoreClosed
	}
	return lastRefresh(ctx, s.db, key)
}

// PerformWrite runs fn inside BEGIN/COMMIT, rolling back when fn fails.
// Observers hear about the changes after the commit.
func (s *Store) PerformWrite(ctx context.Context, fn func(tx syncstore.WriteTx) error) error {
	if s.isClosed() {
		return syncstore.ErrStoreClosed
	}
	s.writeMu.Lock()

	txx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.writeMu.Unlock()
		return fmt.Errorf("sqlite BeginTx failed: %w", err)
	}
	t := &tx{
		tx:       txx,
		upserted: make(map[string]map[string]bool),
		deleted:  make(map[string]map[string]bool),
	}

	if err := fn(t); err != nil {
		t.done = true
		if rbErr := txx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Printf("WARN: sqlite rollback failed: %v", rbErr)
		}
		s.writeMu.Unlock()
		return err
	}
	t.done = true
	if err := txx.Commit(); err != nil {
		s.writeMu.Unlock()
		return fmt.Errorf("sqlite Tx Commit failed: %w", err)
	}
	s.writeMu.Unlock()

	for _, cs := range t.changeSets() {
		s.observers.Notify(cs.Table, cs)
	}
	return nil
}

// Observe registers fn for committed changes to table.
func (s *Store) Observe(table string, fn func(syncstore.ChangeSet)) (cancel func()) {
	return s.observers.Register(table, fn)
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.closeMx.Lock()
	defer s.closeMx.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.observers.Clear()
	return s.db.Close()
}

func (s *Store) isClosed() bool {
	s.closeMx.Lock()
	defer s.closeMx.Unlock()
	return s.closed
}

// tx implements syncstore.WriteTx on a *sqlx.Tx.
type tx struct {
	tx       *sqlx.Tx
	upserted map[string]map[string]bool
	deleted  map[string]map[string]bool
	done     bool
}

func (t *tx) Fetch(ctx context.Context, table string, scope syncstore.Scope, dest interface{}) error {
	if t.done {
		return common.ErrTxDone
	}
	return fetch(ctx, t.tx, table, scope, dest)
}

func (t *tx) Upsert(ctx context.Context, entity syncstore.Entity) error {
	if t.done {
		return common.ErrTxDone
	}
	if entity == nil || entity.GetID() == "" || entity.TableName() == "" {
		return fmt.Errorf("%w: entity needs an ID and a table", common.ErrInvalidEntity)
	}
	payload, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", entity.TableName(), entity.GetID(), err)
	}
	table, id := entity.TableName(), entity.GetID()
	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO entities (tbl, id, payload, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (tbl, id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		table, id, payload, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("sqlite Tx Exec failed upserting %s %s: %w", table, id, err)
	}
	mark(t.upserted, table, id)
	delete(t.deleted[table], id)
	return nil
}

func (t *tx) Delete(ctx context.Context, table, id string) error {
	if t.done {
		return common.ErrTxDone
	}
	result, err := t.tx.ExecContext(ctx, `DELETE FROM entities WHERE tbl = ? AND id = ?`, table, id)
	if err != nil {
		return fmt.Errorf("sqlite Tx Exec failed deleting %s %s: %w", table, id, err)
	}
	delete(t.upserted[table], id)
	if n, err := result.RowsAffected(); err == nil && n > 0 {
		mark(t.deleted, table, id)
	}
	return nil
}

func (t *tx) LastRefresh(ctx context.Context, key string) (time.Time, bool, error) {
	if t.done {
		return time.Time{}, false, common.ErrTxDone
	}
	return lastRefresh(ctx, t.tx, key)
}

func (t *tx) TouchTTL(ctx context.Context, key string, at time.Time) error {
	if t.done {
		return common.ErrTxDone
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO ttl (key, last_refresh) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET last_refresh = excluded.last_refresh`,
		key, at.UnixNano())
	if err != nil {
		return fmt.Errorf("sqlite Tx Exec failed touching ttl '%s': %w", key, err)
	}
	return nil
}

func (t *tx) changeSets() []syncstore.ChangeSet {
	tables := make(map[string]bool)
	for table := range t.upserted {
		tables[table] = true
	}
	for table := range t.deleted {
		tables[table] = true
	}
	names := make([]string, 0, len(tables))
	for table := range tables {
		names = append(names, table)
	}
	sort.Strings(names)

	var out []syncstore.ChangeSet
	for _, table := range names {
		cs := syncstore.ChangeSet{Table: table, Upserted: keys(t.upserted[table]), Deleted: keys(t.deleted[table])}
		if !cs.Empty() {
			out = append(out, cs)
		}
	}
	return out
}

func mark(m map[string]map[string]bool, table, id string) {
	if m[table] == nil {
		m[table] = make(map[string]bool)
	}
	m[table][id] = true
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
