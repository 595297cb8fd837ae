package syncstore

import (
	"context"
	"encoding/json"
	"sync"
)

// Section is a run of entities sharing one value of the Scope's section key.
// An unsectioned Store always has exactly one section named "".
type Section[T Entity] struct {
	Name    string
	Objects []T
}

// Store is a live, observable view of the local entities matching a Scope,
// paired with the UseCase that fills them from the remote.
//
// The snapshot always reflects the local store's committed state: any write
// to T's table, by this Store or anything else, re-runs the query and
// notifies listeners with the incremental changes. At most one fetch chain
// (refresh, exhaust or next page) runs at a time; events it raises are queued
// and delivered once the chain releases the Store, so a listener may start the
// next chain itself.
type Store[T Entity, R any] struct {
	env     *Environment
	useCase UseCase[R]
	table   string

	fetchMu  sync.Mutex // one fetch chain at a time
	reloadMu sync.Mutex // orders snapshot swaps

	mu        sync.RWMutex
	scope     Scope
	requested bool
	pending   bool
	err       error
	next      *Request
	objects   []T
	sections  []Section[T]
	snap      snapshot
	changes   []Change // of the event being delivered
	closed    bool

	inChain  bool    // a fetch chain holds fetchMu
	draining bool    // some goroutine is delivering the queue
	queue    []Event // events not yet delivered

	listeners listenerRegistry
	unobserve func()
}

// NewStore materializes uc's scope from the local store and starts observing
// T's table. listener may be nil.
func NewStore[T Entity, R any](env *Environment, uc UseCase[R], listener Listener) (*Store[T, R], error) {
	if env == nil || env.Local == nil {
		return nil, ErrLocalNotSet
	}
	s := &Store[T, R]{
		env:     env,
		useCase: uc,
		table:   TableOf[T](),
		scope:   uc.Scope(),
	}
	if _, err := s.reload(context.Background()); err != nil {
		return nil, err
	}
	s.listeners.register(listener)
	s.unobserve = env.Local.Observe(s.table, s.onLocalChange)
	return s, nil
}

// Subscribe adds a listener; call cancel to remove it.
func (s *Store[T, R]) Subscribe(listener Listener) (cancel func()) {
	return s.listeners.register(listener)
}

// Close stops observing the local store and drops every listener. A fetch
// already in flight still completes, but nobody hears about it.
func (s *Store[T, R]) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	unobserve := s.unobserve
	s.mu.Unlock()

	if unobserve != nil {
		unobserve()
	}
	s.listeners.clear()
	return nil
}

// Refresh fetches the use case unless its cache is fresh and force is false.
// On a fresh cache the Result is Cached and the snapshot already holds the data.
func (s *Store[T, R]) Refresh(ctx context.Context, force bool) (Result[R], error) {
	if s.isClosed() {
		return Result[R]{}, ErrStoreClosed
	}
	s.lockChain()
	defer s.unlockChain()
	return s.refreshLocked(ctx, force)
}

// Exhaust refreshes, then keeps fetching next pages while while(latest)
// holds and a cursor remains. A nil while walks every page.
func (s *Store[T, R]) Exhaust(ctx context.Context, force bool, while func(Result[R]) bool) error {
	if s.isClosed() {
		return ErrStoreClosed
	}
	if while == nil {
		while = func(Result[R]) bool { return true }
	}
	s.lockChain()
	defer s.unlockChain()

	res, err := s.refreshLocked(ctx, force)
	for err == nil && !res.Offline && while(res) && s.HasNextPage() {
		res, err = s.nextPageLocked(ctx)
	}
	return err
}

// GetNextPage fetches the page after the last one. With no cursor held it
// returns a zero Result and nil error: the end of pagination.
func (s *Store[T, R]) GetNextPage(ctx context.Context) (Result[R], error) {
	if s.isClosed() {
		return Result[R]{}, ErrStoreClosed
	}
	s.lockChain()
	defer s.unlockChain()
	return s.nextPageLocked(ctx)
}

// SetScope swaps the predicate and order of the live query, keeping the
// section key, and republishes the snapshot. An invalid scope is rejected
// and the previous one stays in place.
func (s *Store[T, R]) SetScope(scope Scope) error {
	if s.isClosed() {
		return ErrStoreClosed
	}
	s.mu.Lock()
	previous := s.scope
	s.scope = s.scope.WithPredicate(scope)
	s.mu.Unlock()

	changes, err := s.reload(context.Background())
	if err != nil {
		s.mu.Lock()
		s.scope = previous
		s.mu.Unlock()
		return err
	}
	s.publish(changes)
	return nil
}

// lockChain takes the fetch chain. Events raised until unlockChain are queued.
func (s *Store[T, R]) lockChain() {
	s.fetchMu.Lock()
	s.mu.Lock()
	s.inChain = true
	s.mu.Unlock()
}

func (s *Store[T, R]) unlockChain() {
	s.mu.Lock()
	s.inChain = false
	s.mu.Unlock()
	s.fetchMu.Unlock()
	s.flush()
}

func (s *Store[T, R]) refreshLocked(ctx context.Context, force bool) (Result[R], error) {
	if s.env.IsOffline() {
		return s.offlineLocked(ctx)
	}
	return s.run(ctx, s.useCase, force)
}

func (s *Store[T, R]) nextPageLocked(ctx context.Context) (Result[R], error) {
	if s.env.IsOffline() {
		return s.offlineLocked(ctx)
	}
	s.mu.Lock()
	cursor := s.next
	s.next = nil
	s.mu.Unlock()
	if cursor == nil {
		return Result[R]{}, nil
	}
	return s.run(ctx, NewNextUseCase(s.useCase, *cursor), true)
}

// run drives one fetch through the Store's flags.
func (s *Store[T, R]) run(ctx context.Context, uc UseCase[R], force bool) (Result[R], error) {
	s.notify(EventWillChange)
	s.mu.Lock()
	s.requested = true
	s.pending = true
	s.mu.Unlock()
	s.notify(EventDidChange)

	res, err := Fetch(ctx, s.env, uc, force)

	if !res.Cached {
		if changes, rerr := s.reload(ctx); rerr == nil && len(changes) > 0 {
			s.publish(changes)
		}
	}

	s.mu.Lock()
	s.pending = false
	s.err = err
	s.next = res.Next
	s.mu.Unlock()
	s.notify(EventDidChange)
	return res, err
}

// offlineLocked republishes local rows without touching the network.
func (s *Store[T, R]) offlineLocked(ctx context.Context) (Result[R], error) {
	s.env.logger.Printf("STORE: offline, serving %s from the local store", s.table)
	s.notify(EventWillChange)
	s.mu.Lock()
	s.requested = true
	s.pending = false
	s.err = nil
	s.mu.Unlock()

	changes, err := s.reload(ctx)
	if err != nil {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
	}
	s.publish(changes)
	return Result[R]{Offline: true}, err
}

func (s *Store[T, R]) onLocalChange(ChangeSet) {
	if s.isClosed() {
		return
	}
	changes, err := s.reload(context.Background())
	if err != nil {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		s.notify(EventDidChange)
		return
	}
	if len(changes) == 0 {
		return
	}
	s.publish(changes)
}

// reload re-runs the query and swaps in the new snapshot, returning the diff.
func (s *Store[T, R]) reload(ctx context.Context) ([]Change, error) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	s.mu.RLock()
	scope := s.scope
	s.mu.RUnlock()

	var objects []T
	if err := s.env.Local.Fetch(ctx, s.table, scope, &objects); err != nil {
		return nil, err
	}
	sections, snap := buildSections(scope, objects)

	s.mu.Lock()
	changes := diffSnapshots(s.snap, snap)
	s.objects, s.sections, s.snap = objects, sections, snap
	s.mu.Unlock()
	return changes, nil
}

func buildSections[T Entity](scope Scope, objects []T) ([]Section[T], snapshot) {
	snap := snapshot{fingerprints: make(map[string]string, len(objects))}
	var sections []Section[T]
	if scope.SectionKey == "" {
		sections = []Section[T]{{Objects: objects}}
		ids := make([]string, len(objects))
		for i, o := range objects {
			ids[i] = o.GetID()
		}
		snap.sections = []snapshotSection{{ids: ids}}
	} else {
		index := make(map[string]int)
		for _, o := range objects {
			name := scope.SectionName(o)
			i, ok := index[name]
			if !ok {
				i = len(sections)
				index[name] = i
				sections = append(sections, Section[T]{Name: name})
				snap.sections = append(snap.sections, snapshotSection{name: name})
			}
			sections[i].Objects = append(sections[i].Objects, o)
			snap.sections[i].ids = append(snap.sections[i].ids, o.GetID())
		}
	}
	for _, o := range objects {
		payload, _ := json.Marshal(o)
		snap.fingerprints[o.GetID()] = string(payload)
	}
	return sections, snap
}

// publish hands changes to listeners; Changes() returns them for the
// duration of the callbacks.
func (s *Store[T, R]) publish(changes []Change) {
	s.mu.RLock()
	ev := s.eventLocked(EventDidChange, changes)
	s.mu.RUnlock()
	s.emit(ev)
}

func (s *Store[T, R]) notify(t EventType) {
	s.mu.RLock()
	ev := s.eventLocked(t, nil)
	s.mu.RUnlock()
	s.emit(ev)
}

func (s *Store[T, R]) eventLocked(t EventType, changes []Change) Event {
	return Event{
		Type:        t,
		State:       s.stateLocked(),
		Changes:     changes,
		HasNextPage: s.next != nil,
	}
}

func (s *Store[T, R]) emit(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.flush()
}

// flush delivers queued events in order unless a fetch chain is running or
// another goroutine is already delivering. A chain started by a listener
// queues its events behind the current one.
func (s *Store[T, R]) flush() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	for len(s.queue) > 0 && !s.inChain {
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.changes = ev.Changes
		s.mu.Unlock()

		s.listeners.trigger(ev)

		s.mu.Lock()
		s.changes = nil
	}
	s.draining = false
	s.mu.Unlock()
}

func (s *Store[T, R]) stateLocked() State {
	return DeriveState(s.requested, s.pending, s.err != nil, len(s.objects) == 0)
}

func (s *Store[T, R]) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// --- Getters ---

func (s *Store[T, R]) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stateLocked()
}

func (s *Store[T, R]) Pending() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending
}

func (s *Store[T, R]) Requested() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.requested
}

// Err is the error of the last fetch, kept until a fetch succeeds.
func (s *Store[T, R]) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

func (s *Store[T, R]) HasNextPage() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.next != nil
}

func (s *Store[T, R]) Scope() Scope {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scope
}

// Changes returns the changes being delivered by the current notification.
func (s *Store[T, R]) Changes() []Change {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Change(nil), s.changes...)
}

func (s *Store[T, R]) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

func (s *Store[T, R]) IsEmpty() bool { return s.Count() == 0 }

// All returns the snapshot in scope order.
func (s *Store[T, R]) All() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]T(nil), s.objects...)
}

func (s *Store[T, R]) At(i int) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var zero T
	if i < 0 || i >= len(s.objects) {
		return zero, false
	}
	return s.objects[i], true
}

func (s *Store[T, R]) First() (T, bool) { return s.At(0) }

func (s *Store[T, R]) Last() (T, bool) {
	s.mu.RLock()
	n := len(s.objects)
	s.mu.RUnlock()
	return s.At(n - 1)
}

// Object returns the entity at path in the sectioned snapshot.
func (s *Store[T, R]) Object(path IndexPath) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var zero T
	if path.Section < 0 || path.Section >= len(s.sections) {
		return zero, false
	}
	objs := s.sections[path.Section].Objects
	if path.Row < 0 || path.Row >= len(objs) {
		return zero, false
	}
	return objs[path.Row], true
}

func (s *Store[T, R]) Sections() []Section[T] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Section[T], len(s.sections))
	for i, sec := range s.sections {
		out[i] = Section[T]{Name: sec.Name, Objects: append([]T(nil), sec.Objects...)}
	}
	return out
}

func (s *Store[T, R]) NumberOfSections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sections)
}

func (s *Store[T, R]) NumberOfObjects(section int) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if section < 0 || section >= len(s.sections) {
		return 0
	}
	return len(s.sections[section].Objects)
}
