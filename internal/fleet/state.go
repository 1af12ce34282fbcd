package fleet

import "time"

// Status is the operational availability of a vehicle.
type Status string

const (
	StatusOffline Status = "offline"
	StatusWaiting Status = "waiting"
	StatusConfirm Status = "confirm"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusOffline, StatusWaiting, StatusConfirm:
		return true
	}
	return false
}

// Location is the last reported position of a vehicle. All fields are
// nil/empty until the first report.
type Location struct {
	Lat     *float64 `json:"lat,omitempty"`
	Lng     *float64 `json:"lng,omitempty"`
	Address string   `json:"address,omitempty"`
}

// VehicleState is the authoritative live record for one vehicle. Number
// is the label painted on the shuttle; it is fixed at provisioning.
//
// Values are immutable once published by the StateStore: every accepted
// transition produces a new VehicleState with Version incremented by one.
type VehicleState struct {
	ID                string    `json:"id"`
	Number            string    `json:"number,omitempty"`
	Status            Status    `json:"status"`
	CurrentPassengers int       `json:"currentPassengers"`
	Capacity          int       `json:"capacity"`
	Location          Location  `json:"location"`
	BatteryLevel      float64   `json:"batteryLevel"`
	DriverID          *string   `json:"driverId"`
	ActiveTripID      string    `json:"activeTripId,omitempty"`
	Version           uint64    `json:"version"`
	LastUpdated       time.Time `json:"lastUpdated"`
}

// HasDriver reports whether a driver is currently assigned.
func (v VehicleState) HasDriver() bool {
	return v.DriverID != nil && *v.DriverID != ""
}

// SeatsAvailable is the number of free seats.
func (v VehicleState) SeatsAvailable() int {
	return v.Capacity - v.CurrentPassengers
}

// clone returns a copy that shares no pointers with v.
func (v VehicleState) clone() VehicleState {
	out := v
	if v.DriverID != nil {
		d := *v.DriverID
		out.DriverID = &d
	}
	if v.Location.Lat != nil {
		lat := *v.Location.Lat
		out.Location.Lat = &lat
	}
	if v.Location.Lng != nil {
		lng := *v.Location.Lng
		out.Location.Lng = &lng
	}
	return out
}

// checkInvariants validates the state-level invariants that must hold
// for every committed VehicleState.
func (v VehicleState) checkInvariants() error {
	if v.CurrentPassengers < 0 || v.CurrentPassengers > v.Capacity {
		return ErrCapacityExceeded
	}
	if !v.HasDriver() && v.Status != StatusOffline {
		return ErrInvalidTransition
	}
	if v.BatteryLevel < 0 || v.BatteryLevel > 100 {
		return ErrInvalidTransition
	}
	return nil
}
