package syncstore

import (
	"sort"
	"sync"
)

// --- Event System ---

// EventType defines the type of a Store notification.
type EventType string

const (
	// EventWillChange fires before a fetch flips the Store's flags.
	EventWillChange EventType = "WillChange"
	// EventDidChange fires after the flags or the snapshot changed.
	EventDidChange EventType = "DidChange"
)

// Event is what a Store hands its listeners.
type Event struct {
	Type        EventType
	State       State
	Changes     []Change
	HasNextPage bool
}

// Listener receives Store events, one at a time and in the order they were
// raised. Events from a fetch chain arrive after the chain returns, on the
// goroutine that ran it; a listener may call Refresh or GetNextPage, and the
// new chain's events follow once the listener returns.
type Listener func(Event)

// listenerRegistry holds the listeners of one Store.
type listenerRegistry struct {
	mu        sync.RWMutex
	listeners map[int]Listener
	nextID    int
}

func (r *listenerRegistry) register(l Listener) (cancel func()) {
	if l == nil {
		return func() {}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listeners == nil {
		r.listeners = make(map[int]Listener)
	}
	id := r.nextID
	r.nextID++
	r.listeners[id] = l
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.listeners, id)
			r.mu.Unlock()
		})
	}
}

func (r *listenerRegistry) clear() {
	r.mu.Lock()
	r.listeners = nil
	r.mu.Unlock()
}

// trigger calls every listener in registration order, outside the lock.
func (r *listenerRegistry) trigger(e Event) {
	r.mu.RLock()
	ids := make([]int, 0, len(r.listeners))
	for id := range r.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, r.listeners[id])
	}
	r.mu.RUnlock()

	for _, l := range listeners {
		l(e)
	}
}
