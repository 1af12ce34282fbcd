package fleet

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for an unknown vehicle id.
	ErrNotFound = errors.New("vehicle not found")
	// ErrInvalidTransition is returned when the state machine forbids the intent.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrCapacityExceeded is returned when a passenger change would leave [0, capacity].
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrVersionConflict is returned when the caller's expected version is stale.
	ErrVersionConflict = errors.New("version conflict")
	// ErrBusy is returned when the per-vehicle lock could not be acquired in time.
	ErrBusy = errors.New("vehicle busy")
)

// ConflictError is returned by CompareAndSet when the expected version no
// longer matches. Current holds the state the caller should re-read.
type ConflictError struct {
	Expected uint64
	Current  VehicleState
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on vehicle %s: expected %d, current %d", e.Current.ID, e.Expected, e.Current.Version)
}

func (e *ConflictError) Unwrap() error { return ErrVersionConflict }
