package syncstore

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// StoreState is one emission of a ReactiveStore observation: Loading, an
// Error, or the Data currently in the local store.
type StoreState[T Entity] struct {
	State    State // StateLoading, StateError or StateData
	Err      error
	Entities []T
}

// ObserveOptions tune an observation.
type ObserveOptions struct {
	ForceFetch   bool // skip the freshness check on the first fetch
	LoadAllPages bool // walk every page before the first Data emission
}

// ReactiveStore is the stream flavour of Store: each observation is a
// channel of StoreState values instead of a mutable object.
//
// A new ObserveEntities call cancels the previous observation, whose channel
// is then closed. Every fetch a ReactiveStore makes is serialized.
type ReactiveStore[T Entity, R any] struct {
	env     *Environment
	useCase UseCase[R]
	table   string

	fetchMu sync.Mutex

	mu     sync.Mutex
	active *observation
}

type observation struct {
	id     string
	opts   ObserveOptions
	cancel context.CancelFunc
	done   <-chan struct{}
	force  chan chan error
}

// NewReactiveStore builds a ReactiveStore over uc.
func NewReactiveStore[T Entity, R any](env *Environment, uc UseCase[R]) (*ReactiveStore[T, R], error) {
	if env == nil || env.Local == nil {
		return nil, ErrLocalNotSet
	}
	return &ReactiveStore[T, R]{env: env, useCase: uc, table: TableOf[T]()}, nil
}

// ObserveEntities starts a new observation and returns its stream. It emits
// Loading, then Data (or Error), then Data again whenever T's table changes.
// The channel closes when ctx is done, when ObserveEntities is called again,
// or when the store is closed.
func (s *ReactiveStore[T, R]) ObserveEntities(ctx context.Context, opts ObserveOptions) <-chan StoreState[T] {
	obsCtx, cancel := context.WithCancel(ctx)
	obs := &observation{
		id:     uuid.NewString(),
		opts:   opts,
		cancel: cancel,
		done:   obsCtx.Done(),
		force:  make(chan chan error),
	}

	s.mu.Lock()
	if s.active != nil {
		s.env.logger.Printf("REACTIVE STORE: session %s cancelled by %s", s.active.id, obs.id)
		s.active.cancel()
	}
	s.active = obs
	s.mu.Unlock()

	out := make(chan StoreState[T])
	go s.runObservation(obsCtx, obs, out)
	return out
}

func (s *ReactiveStore[T, R]) runObservation(ctx context.Context, obs *observation, out chan<- StoreState[T]) {
	defer close(out)
	defer func() {
		s.mu.Lock()
		if s.active == obs {
			s.active = nil
		}
		s.mu.Unlock()
	}()

	changed := make(chan struct{}, 1)
	unobserve := s.env.Local.Observe(s.table, func(ChangeSet) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unobserve()

	emit := func(st StoreState[T]) bool {
		select {
		case out <- st:
			return true
		case <-ctx.Done():
			return false
		}
	}
	drain := func() {
		select {
		case <-changed:
		default:
		}
	}
	emitLocal := func() bool {
		entities, err := s.GetEntitiesFromDatabase(ctx)
		if err != nil {
			return emit(StoreState[T]{State: StateError, Err: err})
		}
		return emit(StoreState[T]{State: StateData, Entities: entities})
	}
	fetchAndEmit := func(force bool) error {
		err := s.fetch(ctx, force, obs.opts.LoadAllPages)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		drain()
		if err != nil {
			emit(StoreState[T]{State: StateError, Err: err})
			return err
		}
		emitLocal()
		return nil
	}

	s.env.logger.Printf("REACTIVE STORE: session %s observing %s (force=%t, allPages=%t)",
		obs.id, s.table, obs.opts.ForceFetch, obs.opts.LoadAllPages)

	if !emit(StoreState[T]{State: StateLoading}) {
		return
	}
	_ = fetchAndEmit(obs.opts.ForceFetch)

	for {
		select {
		case <-ctx.Done():
			return
		case <-changed:
			if !emitLocal() {
				return
			}
		case reply := <-obs.force:
			reply <- fetchAndEmit(true)
		}
	}
}

// ForceFetchEntities refetches ignoring the cache. With an observation
// running, the fetch runs on its chain (walking all pages when it asked to)
// and its stream emits the fresh data or the error. It returns the fetch error.
func (s *ReactiveStore[T, R]) ForceFetchEntities(ctx context.Context) error {
	s.mu.Lock()
	obs := s.active
	s.mu.Unlock()
	if obs == nil {
		return s.fetch(ctx, true, false)
	}

	reply := make(chan error, 1)
	select {
	case obs.force <- reply:
	case <-obs.done:
		return errObservationCancelled
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetEntities fetches (ignoring the cache when asked, walking all pages when
// asked) and returns the local entities matching the scope.
func (s *ReactiveStore[T, R]) GetEntities(ctx context.Context, ignoreCache, loadAllPages bool) ([]T, error) {
	if err := s.fetch(ctx, ignoreCache, loadAllPages); err != nil {
		return nil, err
	}
	return s.GetEntitiesFromDatabase(ctx)
}

// GetEntitiesFromDatabase returns the local entities matching the scope
// without fetching.
func (s *ReactiveStore[T, R]) GetEntitiesFromDatabase(ctx context.Context) ([]T, error) {
	var entities []T
	if err := s.env.Local.Fetch(ctx, s.table, s.useCase.Scope(), &entities); err != nil {
		return nil, err
	}
	return entities, nil
}

// Close cancels the running observation, if any.
func (s *ReactiveStore[T, R]) Close() error {
	s.mu.Lock()
	obs := s.active
	s.active = nil
	s.mu.Unlock()
	if obs != nil {
		obs.cancel()
	}
	return nil
}

// fetch runs the use case, then its continuations when loadAllPages is set.
// In offline mode it does nothing.
func (s *ReactiveStore[T, R]) fetch(ctx context.Context, force, loadAllPages bool) error {
	if s.env.IsOffline() {
		return nil
	}
	s.fetchMu.Lock()
	defer s.fetchMu.Unlock()

	res, err := Fetch(ctx, s.env, s.useCase, force)
	if err != nil {
		return err
	}
	for loadAllPages && res.Next != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err = Fetch[R](ctx, s.env, NewNextUseCase(s.useCase, *res.Next), true)
		if err != nil {
			return err
		}
	}
	return nil
}

// errObservationCancelled is returned when a forced fetch finds its
// observation already gone.
var errObservationCancelled = errors.New("syncstore: observation cancelled")
