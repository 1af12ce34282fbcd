package reconcile

import (
	"time"

	"shuttle-fleet-backend/internal/fleet"
)

// Snapshot is a point-in-time read of the fleet. Every vehicle in it is
// self-consistent: all of its fields come from the same version.
type Snapshot struct {
	Vehicles          []fleet.VehicleState `json:"vehicles"`
	AsOfVersionVector map[string]uint64    `json:"asOfVersionVector"`
	TakenAt           time.Time            `json:"takenAt"`
}

// Source is anything that can list current vehicle states.
type Source interface {
	List() []fleet.VehicleState
}

// Take reads src into a Snapshot.
func Take(src Source) Snapshot {
	return TakeFiltered(src, nil)
}

// TakeFiltered is Take restricted to vehicles for which keep returns
// true. A nil keep selects every vehicle.
func TakeFiltered(src Source, keep func(fleet.VehicleState) bool) Snapshot {
	all := src.List()
	snap := Snapshot{
		Vehicles:          make([]fleet.VehicleState, 0, len(all)),
		AsOfVersionVector: make(map[string]uint64, len(all)),
		TakenAt:           time.Now().UTC(),
	}
	for _, v := range all {
		if keep != nil && !keep(v) {
			continue
		}
		snap.Vehicles = append(snap.Vehicles, v)
		snap.AsOfVersionVector[v.ID] = v.Version
	}
	return snap
}
