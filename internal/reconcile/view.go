package reconcile

import (
	"sort"
	"sync"

	"shuttle-fleet-backend/internal/fleet"
)

// View is a viewer-side replica of the fleet built from a snapshot plus
// the live event stream. Apply order is monotonic per vehicle: a state
// with a version at or below the one already held is discarded, so
// duplicates and late deliveries are harmless.
type View struct {
	mu       sync.RWMutex
	vehicles map[string]fleet.VehicleState
}

// NewView creates an empty view.
func NewView() *View {
	return &View{vehicles: make(map[string]fleet.VehicleState)}
}

// Load merges a snapshot into the view and returns how many vehicles
// were updated.
func (v *View) Load(snap Snapshot) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for _, state := range snap.Vehicles {
		if v.offerLocked(state) {
			n++
		}
	}
	return n
}

// Apply merges one event. It returns false when the event is stale or a
// duplicate.
func (v *View) Apply(event fleet.TransitionEvent) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.offerLocked(event.State)
}

func (v *View) offerLocked(state fleet.VehicleState) bool {
	if held, ok := v.vehicles[state.ID]; ok && state.Version <= held.Version {
		return false
	}
	v.vehicles[state.ID] = state
	return true
}

// Get returns the held state for a vehicle.
func (v *View) Get(id string) (fleet.VehicleState, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	state, ok := v.vehicles[id]
	return state, ok
}

// Vehicles returns every held state ordered by id.
func (v *View) Vehicles() []fleet.VehicleState {
	v.mu.RLock()
	out := make([]fleet.VehicleState, 0, len(v.vehicles))
	for _, state := range v.vehicles {
		out = append(out, state)
	}
	v.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Versions returns the held version per vehicle.
func (v *View) Versions() map[string]uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]uint64, len(v.vehicles))
	for id, state := range v.vehicles {
		out[id] = state.Version
	}
	return out
}
