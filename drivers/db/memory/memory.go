// Package memory is an in-process syncstore.LocalStore: an arena of JSON
// payloads keyed by table and entity ID, plus a TTL table.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/burugo/syncstore"
	"github.com/burugo/syncstore/internal/observe"
)

var _ syncstore.LocalStore = (*Store)(nil)

// Store keeps committed entities in memory. Writes are serialized and
// staged until commit; readers always see the last committed state.
type Store struct {
	writeMu sync.Mutex // serializes PerformWrite

	mu     sync.RWMutex // protects tables, ttl and closed
	tables map[string]map[string][]byte
	ttl    map[string]time.Time
	closed bool

	observers *observe.Registry[syncstore.ChangeSet]
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		tables:    make(map[string]map[string][]byte),
		ttl:       make(map[string]time.Time),
		observers: observe.NewRegistry[syncstore.ChangeSet](),
	}
}

// PerformWrite runs fn in a staged transaction and applies it if fn returns nil.
func (s *Store) PerformWrite(ctx context.Context, fn func(tx syncstore.WriteTx) error) error {
	s.writeMu.Lock()
	if s.isClosed() {
		s.writeMu.Unlock()
		return syncstore.ErrStoreClosed
	}

	tx := &tx{
		store:   s,
		entries: make(map[string]map[string][]byte),
		deleted: make(map[string]map[string]bool),
		ttl:     make(map[string]time.Time),
	}
	err := fn(tx)
	tx.done = true
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		s.writeMu.Unlock()
		return err
	}

	changes, err := s.apply(tx)
	s.writeMu.Unlock()
	if err != nil {
		return err
	}

	for _, cs := range changes {
		s.observers.Notify(cs.Table, cs)
	}
	return nil
}

// apply commits the staged writes and reports the changes per table. A Store
// closed while the transaction ran discards it.
func (s *Store) apply(t *tx) ([]syncstore.ChangeSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, syncstore.ErrStoreClosed
	}

	byTable := make(map[string]*syncstore.ChangeSet)
	changeSet := func(table string) *syncstore.ChangeSet {
		cs, ok := byTable[table]
		if !ok {
			cs = &syncstore.ChangeSet{Table: table}
			byTable[table] = cs
		}
		return cs
	}

	for table, ids := range t.deleted {
		rows := s.tables[table]
		for id := range ids {
			if _, exists := rows[id]; !exists {
				continue
			}
			delete(rows, id)
			cs := changeSet(table)
			cs.Deleted = append(cs.Deleted, id)
		}
	}
	for table, entries := range t.entries {
		rows, ok := s.tables[table]
		if !ok {
			rows = make(map[string][]byte)
			s.tables[table] = rows
		}
		for id, payload := range entries {
			rows[id] = payload
			cs := changeSet(table)
			cs.Upserted = append(cs.Upserted, id)
		}
	}
	for key, at := range t.ttl {
		s.ttl[key] = at
	}

	out := make([]syncstore.ChangeSet, 0, len(byTable))
	for _, cs := range byTable {
		sort.Strings(cs.Upserted)
		sort.Strings(cs.Deleted)
		out = append(out, *cs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Table < out[j].Table })
	return out, nil
}

// Fetch materializes the committed entities of table matching scope into dest.
func (s *Store) Fetch(_ context.Context, table string, scope syncstore.Scope, dest interface{}) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return syncstore.ErrStoreClosed
	}
	payloads := make([][]byte, 0, len(s.tables[table]))
	for _, payload := range s.tables[table] {
		payloads = append(payloads, payload)
	}
	s.mu.RUnlock()
	return syncstore.Materialize(payloads, scope, dest)
}

// LastRefresh returns the committed TTL record for key.
func (s *Store) LastRefresh(_ context.Context, key string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return time.Time{}, false, syncstore.ErrStoreClosed
	}
	at, ok := s.ttl[key]
	return at, ok, nil
}

// Observe registers fn for committed changes to table.
func (s *Store) Observe(table string, fn func(syncstore.ChangeSet)) (cancel func()) {
	return s.observers.Register(table, fn)
}

// Close drops all data and observers.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.tables = nil
	s.ttl = nil
	s.observers.Clear()
	return nil
}

func (s *Store) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// tx stages writes on top of the committed state.
type tx struct {
	store   *Store
	entries map[string]map[string][]byte // staged upserts
	deleted map[string]map[string]bool   // staged deletes
	ttl     map[string]time.Time
	done    bool
}

func (t *tx) Fetch(_ context.Context, table string, scope syncstore.Scope, dest interface{}) error {
	if t.done {
		return syncstore.ErrTxDone
	}
	t.store.mu.RLock()
	merged := make(map[string][]byte, len(t.store.tables[table]))
	for id, payload := range t.store.tables[table] {
		merged[id] = payload
	}
	t.store.mu.RUnlock()

	for id := range t.deleted[table] {
		delete(merged, id)
	}
	for id, payload := range t.entries[table] {
		merged[id] = payload
	}

	payloads := make([][]byte, 0, len(merged))
	for _, payload := range merged {
		payloads = append(payloads, payload)
	}
	return syncstore.Materialize(payloads, scope, dest)
}

func (t *tx) Upsert(_ context.Context, entity syncstore.Entity) error {
	if t.done {
		return syncstore.ErrTxDone
	}
	if entity == nil || entity.GetID() == "" || entity.TableName() == "" {
		return fmt.Errorf("%w: entity needs an ID and a table", syncstore.ErrInvalidEntity)
	}
	payload, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", entity.TableName(), entity.GetID(), err)
	}
	table, id := entity.TableName(), entity.GetID()
	if t.entries[table] == nil {
		t.entries[table] = make(map[string][]byte)
	}
	t.entries[table][id] = payload
	delete(t.deleted[table], id)
	return nil
}

func (t *tx) Delete(_ context.Context, table, id string) error {
	if t.done {
		return syncstore.ErrTxDone
	}
	delete(t.entries[table], id)
	if t.deleted[table] == nil {
		t.deleted[table] = make(map[string]bool)
	}
	t.deleted[table][id] = true
	return nil
}

func (t *tx) LastRefresh(ctx context.Context, key string) (time.Time, bool, error) {
	if t.done {
		return time.Time{}, false, syncstore.ErrTxDone
	}
	if at, ok := t.ttl[key]; ok {
		return at, true, nil
	}
	return t.store.LastRefresh(ctx, key)
}

func (t *tx) TouchTTL(_ context.Context, key string, at time.Time) error {
	if t.done {
		return syncstore.ErrTxDone
	}
	t.ttl[key] = at
	return nil
}
