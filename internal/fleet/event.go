package fleet

import "time"

// EventKind groups transitions the way viewers consume them.
type EventKind string

const (
	// KindStatus covers status, passenger, driver and trip changes.
	KindStatus EventKind = "status_updated"
	// KindLocation covers location and battery telemetry.
	KindLocation EventKind = "location_updated"
)

// Field names reported in TransitionEvent.Changed.
const (
	FieldStatus     = "status"
	FieldPassengers = "currentPassengers"
	FieldLocation   = "location"
	FieldBattery    = "batteryLevel"
	FieldDriver     = "driverId"
	FieldTrip       = "activeTripId"
)

// TransitionEvent is broadcast for every accepted transition. It carries
// the full resulting state, so a subscriber that missed earlier events for
// the vehicle is consistent again after applying this one.
type TransitionEvent struct {
	VehicleID    string       `json:"vehicleId"`
	Kind         EventKind    `json:"kind"`
	Version      uint64       `json:"version"`
	PriorVersion uint64       `json:"priorVersion"`
	Changed      []string     `json:"changed"`
	Timestamp    time.Time    `json:"timestamp"`
	State        VehicleState `json:"state"`
}

// Publisher receives accepted transitions. Implementations are called
// while the vehicle's write lock is held and must not block.
type Publisher interface {
	Publish(event TransitionEvent)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(event TransitionEvent)

// Publish calls f(event).
func (f PublisherFunc) Publish(event TransitionEvent) { f(event) }

func newTransitionEvent(prev, next VehicleState) TransitionEvent {
	changed := diffFields(prev, next)
	kind := KindStatus
	if len(changed) > 0 {
		kind = KindLocation
		for _, f := range changed {
			if f != FieldLocation && f != FieldBattery {
				kind = KindStatus
				break
			}
		}
	}
	return TransitionEvent{
		VehicleID:    next.ID,
		Kind:         kind,
		Version:      next.Version,
		PriorVersion: prev.Version,
		Changed:      changed,
		Timestamp:    next.LastUpdated,
		State:        next,
	}
}

func diffFields(prev, next VehicleState) []string {
	var changed []string
	if prev.Status != next.Status {
		changed = append(changed, FieldStatus)
	}
	if prev.CurrentPassengers != next.CurrentPassengers {
		changed = append(changed, FieldPassengers)
	}
	if !sameLocation(prev.Location, next.Location) {
		changed = append(changed, FieldLocation)
	}
	if prev.BatteryLevel != next.BatteryLevel {
		changed = append(changed, FieldBattery)
	}
	if !sameDriver(prev.DriverID, next.DriverID) {
		changed = append(changed, FieldDriver)
	}
	if prev.ActiveTripID != next.ActiveTripID {
		changed = append(changed, FieldTrip)
	}
	return changed
}

func sameLocation(a, b Location) bool {
	return sameFloat(a.Lat, b.Lat) && sameFloat(a.Lng, b.Lng) && a.Address == b.Address
}

func sameFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameDriver(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
