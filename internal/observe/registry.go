// Package observe keeps track of which observers are interested in changes
// to which table.
package observe

import (
	"sort"
	"sync"
)

// Registry maps a table name to the observers registered for it.
// It is safe for concurrent use.
type Registry[E any] struct {
	// tableToObservers maps a table name to its observers, keyed by registration id.
	tableToObservers map[string]map[uint64]func(E)
	nextID           uint64

	mu sync.RWMutex
}

// NewRegistry creates an empty Registry.
func NewRegistry[E any]() *Registry[E] {
	return &Registry[E]{tableToObservers: make(map[string]map[uint64]func(E))}
}

// Register adds fn as an observer of table. The returned cancel func removes
// it and may be called more than once.
func (r *Registry[E]) Register(table string, fn func(E)) (cancel func()) {
	if table == "" || fn == nil {
		return func() {}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tableToObservers[table]; !exists {
		r.tableToObservers[table] = make(map[uint64]func(E))
	}
	id := r.nextID
	r.nextID++
	r.tableToObservers[table][id] = fn

	return func() { r.deregister(table, id) }
}

func (r *Registry[E]) deregister(table string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	observers, exists := r.tableToObservers[table]
	if !exists {
		return
	}
	delete(observers, id)
	if len(observers) == 0 {
		delete(r.tableToObservers, table)
	}
}

// Observers returns the observers of table in registration order.
func (r *Registry[E]) Observers(table string) []func(E) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	observers := r.tableToObservers[table]
	ids := make([]uint64, 0, len(observers))
	for id := range observers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]func(E), 0, len(ids))
	for _, id := range ids {
		out = append(out, observers[id])
	}
	return out
}

// Notify calls every observer of table with event, outside the registry lock.
func (r *Registry[E]) Notify(table string, event E) {
	for _, fn := range r.Observers(table) {
		fn(event)
	}
}

// Len returns how many observers table has.
func (r *Registry[E]) Len(table string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tableToObservers[table])
}

// Clear drops every observer.
func (r *Registry[E]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tableToObservers = make(map[string]map[uint64]func(E))
}
