package fleet

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"shuttle-fleet-backend/internal/metrics"
)

// LatestVersion may be passed as the expected version by callers that do
// not track versions. The engine then uses the version it reads right
// before the compare-and-set, so a concurrent writer still produces a
// VersionConflict rather than being overwritten.
const LatestVersion uint64 = math.MaxUint64

// Intent is a driver- or admin-initiated change to one vehicle.
type Intent interface {
	// Name identifies the operation in logs and metrics.
	Name() string
	apply(ctx context.Context, draft *VehicleState) error
}

// Engine validates intents against the vehicle state machine and commits
// them through the StateStore. Every accepted transition is handed to the
// publishers as a TransitionEvent.
type Engine struct {
	store      *StateStore
	publishers []Publisher
}

// NewEngine wires the engine to store. Publishers receive events in
// per-vehicle commit order.
func NewEngine(store *StateStore, publishers ...Publisher) *Engine {
	e := &Engine{store: store, publishers: publishers}
	store.OnCommit(e.commit)
	return e
}

// Store returns the underlying state store.
func (e *Engine) Store() *StateStore { return e.store }

func (e *Engine) commit(prev, next VehicleState) {
	event := newTransitionEvent(prev, next)
	for _, p := range e.publishers {
		p.Publish(event)
	}
}

// Provision registers a vehicle with the engine's store.
func (e *Engine) Provision(seed VehicleState) (VehicleState, bool, error) {
	state, created, err := e.store.Provision(seed)
	if err != nil {
		return state, false, err
	}
	if created {
		log.Info().Str("vehicle", state.ID).Int("capacity", state.Capacity).Uint64("version", state.Version).Msg("vehicle provisioned")
	}
	return state, created, nil
}

// Apply validates intent against the vehicle's current state and commits
// it if the stored version still equals expected.
func (e *Engine) Apply(ctx context.Context, vehicleID string, expected uint64, intent Intent) (VehicleState, error) {
	if expected == LatestVersion {
		cur, err := e.store.Get(vehicleID)
		if err != nil {
			metrics.Transitions.WithLabelValues(intent.Name(), resultLabel(err)).Inc()
			return VehicleState{}, err
		}
		expected = cur.Version
	}

	state, err := e.store.CompareAndSet(ctx, vehicleID, expected, func(cur VehicleState) (VehicleState, error) {
		if err := intent.apply(ctx, &cur); err != nil {
			return cur, err
		}
		return cur, nil
	})

	metrics.Transitions.WithLabelValues(intent.Name(), resultLabel(err)).Inc()
	if err != nil {
		log.Debug().Err(err).Str("vehicle", vehicleID).Str("op", intent.Name()).Uint64("expected", expected).Msg("transition rejected")
		return state, err
	}
	return state, nil
}

// SetStatus moves the vehicle to status.
func (e *Engine) SetStatus(ctx context.Context, vehicleID string, expected uint64, status Status) (VehicleState, error) {
	return e.Apply(ctx, vehicleID, expected, SetStatus{Status: status})
}

// AdjustPassengers changes the passenger count by delta.
func (e *Engine) AdjustPassengers(ctx context.Context, vehicleID string, expected uint64, delta int) (VehicleState, error) {
	return e.Apply(ctx, vehicleID, expected, AdjustPassengers{Delta: delta})
}

// ReportLocation records the vehicle's position.
func (e *Engine) ReportLocation(ctx context.Context, vehicleID string, expected uint64, loc Location) (VehicleState, error) {
	return e.Apply(ctx, vehicleID, expected, ReportLocation{Location: loc})
}

// ReportBattery records the vehicle's battery level.
func (e *Engine) ReportBattery(ctx context.Context, vehicleID string, expected uint64, level float64) (VehicleState, error) {
	return e.Apply(ctx, vehicleID, expected, ReportBattery{Level: level})
}

// AssignDriver sets or clears the vehicle's driver.
func (e *Engine) AssignDriver(ctx context.Context, vehicleID string, expected uint64, driverID *string) (VehicleState, error) {
	return e.Apply(ctx, vehicleID, expected, AssignDriver{DriverID: driverID})
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, ErrVersionConflict):
		return "conflict"
	case errors.Is(err, ErrCapacityExceeded):
		return "capacity"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrBusy):
		return "busy"
	default:
		return "error"
	}
}

// SetStatus changes the availability status.
type SetStatus struct {
	Status Status
}

func (SetStatus) Name() string { return "set_status" }

func (i SetStatus) apply(ctx context.Context, draft *VehicleState) error {
	switch i.Status {
	case StatusOffline:
		return fire(ctx, draft, EventGoOffline)
	case StatusWaiting:
		if draft.Status == StatusConfirm {
			return fire(ctx, draft, EventRelease)
		}
		return fire(ctx, draft, EventGoOnline)
	case StatusConfirm:
		return fire(ctx, draft, EventFill)
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, i.Status)
	}
}

// AdjustPassengers boards (+1) or drops off (-1) one passenger. Reaching
// capacity confirms the vehicle; dropping below it while confirmed
// returns the vehicle to waiting.
type AdjustPassengers struct {
	Delta int
}

func (AdjustPassengers) Name() string { return "adjust_passengers" }

func (i AdjustPassengers) apply(ctx context.Context, draft *VehicleState) error {
	if draft.Status == StatusOffline {
		return fmt.Errorf("%w: passenger change while offline", ErrInvalidTransition)
	}
	if i.Delta != 1 && i.Delta != -1 {
		return fmt.Errorf("%w: passenger delta must be +1 or -1, got %d", ErrInvalidTransition, i.Delta)
	}

	n := draft.CurrentPassengers + i.Delta
	if n < 0 || n > draft.Capacity {
		return fmt.Errorf("%w: %d passengers outside [0, %d]", ErrCapacityExceeded, n, draft.Capacity)
	}
	draft.CurrentPassengers = n

	switch {
	case i.Delta > 0 && n == draft.Capacity && draft.Status == StatusWaiting:
		return fire(ctx, draft, EventFill)
	case i.Delta < 0 && n < draft.Capacity && draft.Status == StatusConfirm:
		return fire(ctx, draft, EventRelease)
	}
	return nil
}

// ReportLocation replaces the last known location. Accepted in every
// status, including offline, so the last position stays visible.
type ReportLocation struct {
	Location Location
}

func (ReportLocation) Name() string { return "report_location" }

func (i ReportLocation) apply(_ context.Context, draft *VehicleState) error {
	loc := i.Location
	if (loc.Lat == nil) != (loc.Lng == nil) {
		return fmt.Errorf("%w: lat and lng must be reported together", ErrInvalidTransition)
	}
	if (loc.Lat != nil && math.IsNaN(*loc.Lat)) || (loc.Lng != nil && math.IsNaN(*loc.Lng)) {
		return fmt.Errorf("%w: coordinates must be numbers", ErrInvalidTransition)
	}
	if loc.Lat != nil && (*loc.Lat < -90 || *loc.Lat > 90) {
		return fmt.Errorf("%w: latitude %f out of range", ErrInvalidTransition, *loc.Lat)
	}
	if loc.Lng != nil && (*loc.Lng < -180 || *loc.Lng > 180) {
		return fmt.Errorf("%w: longitude %f out of range", ErrInvalidTransition, *loc.Lng)
	}
	if loc.Lat == nil && loc.Address == "" {
		return fmt.Errorf("%w: empty location", ErrInvalidTransition)
	}
	draft.Location = loc
	return nil
}

// ReportBattery replaces the battery level.
type ReportBattery struct {
	Level float64
}

func (ReportBattery) Name() string { return "report_battery" }

func (i ReportBattery) apply(_ context.Context, draft *VehicleState) error {
	if math.IsNaN(i.Level) || i.Level < 0 || i.Level > 100 {
		return fmt.Errorf("%w: battery level %v outside [0, 100]", ErrInvalidTransition, i.Level)
	}
	draft.BatteryLevel = i.Level
	return nil
}

// AssignDriver sets the vehicle's driver. A nil or empty DriverID
// unassigns it, which forces the vehicle offline. Replacing one driver
// with another is only allowed while offline. Assigning the driver the
// vehicle already has is rejected and leaves the version unchanged.
type AssignDriver struct {
	DriverID *string
}

func (AssignDriver) Name() string { return "assign_driver" }

func (i AssignDriver) apply(ctx context.Context, draft *VehicleState) error {
	if i.DriverID == nil || *i.DriverID == "" {
		if err := fire(ctx, draft, EventGoOffline); err != nil {
			return err
		}
		draft.DriverID = nil
		return nil
	}
	if draft.HasDriver() && *draft.DriverID == *i.DriverID {
		return fmt.Errorf("%w: driver %s already assigned", ErrInvalidTransition, *i.DriverID)
	}
	if draft.Status != StatusOffline {
		return fmt.Errorf("%w: driver change while %s", ErrInvalidTransition, draft.Status)
	}
	id := *i.DriverID
	draft.DriverID = &id
	return nil
}

// AttachTrip associates an in-progress trip with the vehicle. A vehicle
// carries at most one active trip; it must be detached before another
// one starts.
type AttachTrip struct {
	TripID string
}

func (AttachTrip) Name() string { return "attach_trip" }

func (i AttachTrip) apply(_ context.Context, draft *VehicleState) error {
	if i.TripID == "" {
		return fmt.Errorf("%w: empty trip id", ErrInvalidTransition)
	}
	if draft.Status == StatusOffline {
		return fmt.Errorf("%w: cannot start a trip while offline", ErrInvalidTransition)
	}
	if draft.ActiveTripID != "" {
		return fmt.Errorf("%w: trip %s is already active on vehicle %s", ErrInvalidTransition, draft.ActiveTripID, draft.ID)
	}
	draft.ActiveTripID = i.TripID
	return nil
}

// DetachTrip clears the trip association if TripID is the active trip.
// Completing a trip does not change the vehicle status.
type DetachTrip struct {
	TripID string
}

func (DetachTrip) Name() string { return "detach_trip" }

func (i DetachTrip) apply(_ context.Context, draft *VehicleState) error {
	if draft.ActiveTripID == "" || draft.ActiveTripID != i.TripID {
		return fmt.Errorf("%w: trip %s is not active on vehicle %s", ErrInvalidTransition, i.TripID, draft.ID)
	}
	draft.ActiveTripID = ""
	return nil
}
