package fleet

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Mutator computes the next state from the current one. It receives a
// private copy and may modify it freely. Returning an error aborts the
// mutation and leaves the stored state untouched.
type Mutator func(cur VehicleState) (VehicleState, error)

// CommitHook observes every committed state change. Hooks run while the
// vehicle's write lock is still held, so for a single vehicle they are
// invoked in commit order. They must not block.
type CommitHook func(prev, next VehicleState)

// slot owns one vehicle. sem serializes writers; readers load state
// without locking and always see a complete VehicleState.
type slot struct {
	sem   *semaphore.Weighted
	state atomic.Pointer[VehicleState]
}

// StateStore is the in-memory authoritative map of vehicle id to state.
type StateStore struct {
	mu       sync.RWMutex
	vehicles map[string]*slot
	hooks    []CommitHook

	acquireTimeout time.Duration
	now            func() time.Time
}

// StoreOption configures a StateStore.
type StoreOption func(*StateStore)

// WithAcquireTimeout bounds how long a writer waits for a vehicle's lock
// before failing with ErrBusy.
func WithAcquireTimeout(d time.Duration) StoreOption {
	return func(s *StateStore) { s.acquireTimeout = d }
}

// WithClock overrides the time source used for LastUpdated.
func WithClock(now func() time.Time) StoreOption {
	return func(s *StateStore) { s.now = now }
}

// NewStateStore creates an empty store.
func NewStateStore(opts ...StoreOption) *StateStore {
	s := &StateStore{
		vehicles:       make(map[string]*slot),
		acquireTimeout: 250 * time.Millisecond,
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnCommit registers a hook. Hooks are expected to be registered during
// startup, before the first mutation.
func (s *StateStore) OnCommit(h CommitHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, h)
}

// Provision adds a vehicle. The vehicle always starts offline with no
// passengers. If the id is already known the existing state is returned
// and created is false.
func (s *StateStore) Provision(seed VehicleState) (state VehicleState, created bool, err error) {
	if seed.ID == "" {
		return VehicleState{}, false, fmt.Errorf("%w: empty vehicle id", ErrInvalidTransition)
	}
	if seed.Capacity <= 0 {
		return VehicleState{}, false, fmt.Errorf("%w: capacity must be positive", ErrInvalidTransition)
	}

	initial := seed.clone()
	initial.Status = StatusOffline
	initial.CurrentPassengers = 0
	initial.ActiveTripID = ""
	if initial.BatteryLevel < 0 || initial.BatteryLevel > 100 {
		initial.BatteryLevel = 100
	}
	if initial.LastUpdated.IsZero() {
		initial.LastUpdated = s.now()
	}

	sl := &slot{sem: semaphore.NewWeighted(1)}
	sl.sem.TryAcquire(1) // fresh semaphore, always succeeds
	sl.state.Store(&initial)

	s.mu.Lock()
	if existing, ok := s.vehicles[seed.ID]; ok {
		s.mu.Unlock()
		return existing.state.Load().clone(), false, nil
	}
	s.vehicles[seed.ID] = sl
	hooks := s.hooks
	s.mu.Unlock()

	// Hooks see provisioning as a change from an empty record at the same
	// version, so PriorVersion == Version marks it as not being a transition.
	prev := VehicleState{ID: initial.ID, Version: initial.Version}
	for _, h := range hooks {
		h(prev, initial.clone())
	}
	sl.sem.Release(1)

	return initial.clone(), true, nil
}

// Get returns the current state of a vehicle.
func (s *StateStore) Get(id string) (VehicleState, error) {
	sl, _, ok := s.lookup(id)
	if !ok {
		return VehicleState{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sl.state.Load().clone(), nil
}

// List returns every vehicle, ordered by id. Each element is internally
// consistent (all fields from one version); different vehicles may be
// read at slightly different instants.
func (s *StateStore) List() []VehicleState {
	s.mu.RLock()
	slots := make([]*slot, 0, len(s.vehicles))
	for _, sl := range s.vehicles {
		slots = append(slots, sl)
	}
	s.mu.RUnlock()

	out := make([]VehicleState, 0, len(slots))
	for _, sl := range slots {
		out = append(out, sl.state.Load().clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of provisioned vehicles.
func (s *StateStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vehicles)
}

// CompareAndSet is the only mutation path. It serializes writers per
// vehicle id, checks that the stored version equals expected, applies
// mutate and commits the result with Version+1.
//
// On a version mismatch it returns the current state together with a
// *ConflictError. When mutate fails, the current state is returned with
// that error. Nothing is committed in either case.
func (s *StateStore) CompareAndSet(ctx context.Context, id string, expected uint64, mutate Mutator) (VehicleState, error) {
	sl, hooks, ok := s.lookup(id)
	if !ok {
		return VehicleState{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if err := s.acquire(ctx, sl); err != nil {
		return VehicleState{}, err
	}
	defer sl.sem.Release(1)

	cur := *sl.state.Load()
	if cur.Version != expected {
		return cur.clone(), &ConflictError{Expected: expected, Current: cur.clone()}
	}

	next, err := mutate(cur.clone())
	if err != nil {
		return cur.clone(), err
	}
	next.ID = cur.ID
	next.Capacity = cur.Capacity
	next.Version = cur.Version + 1
	next.LastUpdated = s.now()
	if err := next.checkInvariants(); err != nil {
		return cur.clone(), fmt.Errorf("vehicle %s: %w", id, err)
	}

	sl.state.Store(&next)
	for _, h := range hooks {
		h(cur.clone(), next.clone())
	}
	return next.clone(), nil
}

func (s *StateStore) lookup(id string) (*slot, []CommitHook, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sl, ok := s.vehicles[id]
	return sl, s.hooks, ok
}

func (s *StateStore) acquire(ctx context.Context, sl *slot) error {
	if sl.sem.TryAcquire(1) {
		return nil
	}
	actx, cancel := context.WithTimeout(ctx, s.acquireTimeout)
	defer cancel()
	if err := sl.sem.Acquire(actx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrBusy
	}
	return nil
}
