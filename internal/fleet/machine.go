package fleet

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"
)

// Status machine events.
const (
	EventGoOnline  = "go_online"  // offline -> waiting
	EventFill      = "fill"       // waiting -> confirm
	EventRelease   = "release"    // confirm -> waiting
	EventGoOffline = "go_offline" // any -> offline
)

var errNoDriver = fmt.Errorf("%w: no driver assigned", ErrInvalidTransition)

var statusEvents = fsm.Events{
	{Name: EventGoOnline, Src: []string{string(StatusOffline)}, Dst: string(StatusWaiting)},
	{Name: EventFill, Src: []string{string(StatusWaiting)}, Dst: string(StatusConfirm)},
	{Name: EventRelease, Src: []string{string(StatusConfirm)}, Dst: string(StatusWaiting)},
	{Name: EventGoOffline, Src: []string{string(StatusOffline), string(StatusWaiting), string(StatusConfirm)}, Dst: string(StatusOffline)},
}

var statusCallbacks = fsm.Callbacks{
	// Guards
	"before_" + EventGoOnline: func(_ context.Context, e *fsm.Event) {
		if !draftOf(e).HasDriver() {
			e.Cancel(errNoDriver)
		}
	},

	// Side effects on the draft state
	"after_" + EventGoOnline: func(_ context.Context, e *fsm.Event) {
		draftOf(e).CurrentPassengers = 0
	},
	"after_" + EventGoOffline: func(_ context.Context, e *fsm.Event) {
		d := draftOf(e)
		d.CurrentPassengers = 0
		d.ActiveTripID = ""
	},
}

func draftOf(e *fsm.Event) *VehicleState {
	return e.Args[0].(*VehicleState)
}

// fire runs one status machine event against draft, updating draft.Status
// when the machine moves.
func fire(ctx context.Context, draft *VehicleState, event string) error {
	machine := fsm.NewFSM(string(draft.Status), statusEvents, statusCallbacks)
	err := machine.Event(ctx, event, draft)
	draft.Status = Status(machine.Current())

	if err == nil {
		return nil
	}

	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) && event == EventGoOffline {
		// offline -> offline is accepted; the reset still ran.
		return nil
	}

	var canceled fsm.CanceledError
	if errors.As(err, &canceled) && canceled.Err != nil {
		return canceled.Err
	}

	var invalid fsm.InvalidEventError
	if errors.As(err, &invalid) {
		return fmt.Errorf("%w: %s not allowed while %s", ErrInvalidTransition, invalid.Event, invalid.State)
	}

	return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
}
