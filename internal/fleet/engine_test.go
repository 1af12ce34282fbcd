package fleet

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []TransitionEvent
}

func (r *recordingPublisher) Publish(event TransitionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingPublisher) Events() []TransitionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TransitionEvent(nil), r.events...)
}

func strPtr(s string) *string { return &s }

func newTestEngine(t *testing.T, capacity int) (*Engine, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	engine := NewEngine(NewStateStore(WithAcquireTimeout(50*time.Millisecond)), pub)
	_, created, err := engine.Provision(VehicleState{ID: "V1", Capacity: capacity, DriverID: strPtr("D1"), BatteryLevel: 90})
	require.NoError(t, err)
	require.True(t, created)
	return engine, pub
}

func TestEngine_Scenario(t *testing.T) {
	ctx := context.Background()
	engine, pub := newTestEngine(t, 4)

	state, err := engine.SetStatus(ctx, "V1", 0, StatusWaiting)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, state.Status)
	assert.Equal(t, 0, state.CurrentPassengers)
	assert.Equal(t, uint64(1), state.Version)

	for i := 0; i < 4; i++ {
		state, err = engine.AdjustPassengers(ctx, "V1", state.Version, +1)
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(5), state.Version)
	assert.Equal(t, StatusConfirm, state.Status)
	assert.Equal(t, 4, state.CurrentPassengers)

	state, err = engine.AdjustPassengers(ctx, "V1", state.Version, -1)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), state.Version)
	assert.Equal(t, StatusWaiting, state.Status)
	assert.Equal(t, 3, state.CurrentPassengers)

	// provisioning + 6 transitions
	events := pub.Events()
	require.Len(t, events, 7)
	assert.Equal(t, events[0].Version, events[0].PriorVersion, "provisioning is not a transition")
	for i, ev := range events[1:] {
		assert.Equal(t, uint64(i+1), ev.Version)
		assert.Equal(t, uint64(i), ev.PriorVersion)
		assert.Equal(t, KindStatus, ev.Kind)
	}
	assert.ElementsMatch(t, []string{FieldStatus, FieldPassengers}, events[5].Changed)
}

func TestEngine_CapacityExceeded(t *testing.T) {
	ctx := context.Background()
	engine, pub := newTestEngine(t, 4)

	_, err := engine.SetStatus(ctx, "V1", LatestVersion, StatusWaiting)
	require.NoError(t, err)

	var state VehicleState
	for i := 1; i <= 6; i++ {
		next, err := engine.AdjustPassengers(ctx, "V1", LatestVersion, +1)
		if i <= 4 {
			require.NoError(t, err)
			state = next
			continue
		}
		assert.ErrorIs(t, err, ErrCapacityExceeded)
		assert.Equal(t, state, next, "rejected call returns the unchanged state")
	}

	current, err := engine.Store().Get("V1")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirm, current.Status)
	assert.Equal(t, 4, current.CurrentPassengers)
	assert.Equal(t, uint64(5), current.Version)
	assert.Len(t, pub.Events(), 6, "rejections are never broadcast")
}

func TestEngine_GoOfflineResets(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name  string
		setup func(t *testing.T, e *Engine)
	}{
		{
			name:  "from offline",
			setup: func(t *testing.T, e *Engine) {},
		},
		{
			name: "from waiting with passengers",
			setup: func(t *testing.T, e *Engine) {
				_, err := e.SetStatus(ctx, "V1", LatestVersion, StatusWaiting)
				require.NoError(t, err)
				for i := 0; i < 2; i++ {
					_, err = e.AdjustPassengers(ctx, "V1", LatestVersion, +1)
					require.NoError(t, err)
				}
			},
		},
		{
			name: "from confirm with a trip",
			setup: func(t *testing.T, e *Engine) {
				_, err := e.SetStatus(ctx, "V1", LatestVersion, StatusWaiting)
				require.NoError(t, err)
				for i := 0; i < 4; i++ {
					_, err = e.AdjustPassengers(ctx, "V1", LatestVersion, +1)
					require.NoError(t, err)
				}
				_, err = e.Apply(ctx, "V1", LatestVersion, AttachTrip{TripID: "T1"})
				require.NoError(t, err)
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			engine, _ := newTestEngine(t, 4)
			tc.setup(t, engine)
			before, err := engine.Store().Get("V1")
			require.NoError(t, err)

			state, err := engine.SetStatus(ctx, "V1", before.Version, StatusOffline)
			require.NoError(t, err)
			assert.Equal(t, StatusOffline, state.Status)
			assert.Equal(t, 0, state.CurrentPassengers)
			assert.Empty(t, state.ActiveTripID)
			assert.Equal(t, before.Version+1, state.Version)
		})
	}
}

func TestEngine_InvalidTransitions(t *testing.T) {
	ctx := context.Background()

	t.Run("passengers while offline", func(t *testing.T) {
		engine, _ := newTestEngine(t, 4)
		_, err := engine.AdjustPassengers(ctx, "V1", 0, +1)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("online without driver", func(t *testing.T) {
		engine := NewEngine(NewStateStore())
		_, _, err := engine.Provision(VehicleState{ID: "V2", Capacity: 4})
		require.NoError(t, err)
		_, err = engine.SetStatus(ctx, "V2", 0, StatusWaiting)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("waiting to waiting", func(t *testing.T) {
		engine, _ := newTestEngine(t, 4)
		_, err := engine.SetStatus(ctx, "V1", 0, StatusWaiting)
		require.NoError(t, err)
		_, err = engine.SetStatus(ctx, "V1", 1, StatusWaiting)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("confirm from offline", func(t *testing.T) {
		engine, _ := newTestEngine(t, 4)
		_, err := engine.SetStatus(ctx, "V1", 0, StatusConfirm)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("unknown status", func(t *testing.T) {
		engine, _ := newTestEngine(t, 4)
		_, err := engine.SetStatus(ctx, "V1", 0, Status("parked"))
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("below zero passengers", func(t *testing.T) {
		engine, _ := newTestEngine(t, 4)
		_, err := engine.SetStatus(ctx, "V1", 0, StatusWaiting)
		require.NoError(t, err)
		_, err = engine.AdjustPassengers(ctx, "V1", 1, -1)
		assert.ErrorIs(t, err, ErrCapacityExceeded)
	})

	t.Run("battery out of range", func(t *testing.T) {
		engine, _ := newTestEngine(t, 4)
		_, err := engine.ReportBattery(ctx, "V1", 0, 101)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("unknown vehicle", func(t *testing.T) {
		engine, _ := newTestEngine(t, 4)
		_, err := engine.SetStatus(ctx, "nope", LatestVersion, StatusWaiting)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("passenger delta other than one", func(t *testing.T) {
		engine, _ := newTestEngine(t, 4)
		_, err := engine.SetStatus(ctx, "V1", 0, StatusWaiting)
		require.NoError(t, err)
		for _, delta := range []int{0, 2, -2, 4} {
			_, err = engine.AdjustPassengers(ctx, "V1", 1, delta)
			assert.ErrorIs(t, err, ErrInvalidTransition, "delta %d", delta)
		}
		state, err := engine.Store().Get("V1")
		require.NoError(t, err)
		assert.Equal(t, uint64(1), state.Version)
		assert.Equal(t, 0, state.CurrentPassengers)
	})

	t.Run("NaN coordinates", func(t *testing.T) {
		engine, _ := newTestEngine(t, 4)
		nan, ok := math.NaN(), 10.0
		_, err := engine.ReportLocation(ctx, "V1", 0, Location{Lat: &nan, Lng: &ok})
		assert.ErrorIs(t, err, ErrInvalidTransition)
		_, err = engine.ReportLocation(ctx, "V1", 0, Location{Lat: &ok, Lng: &nan})
		assert.ErrorIs(t, err, ErrInvalidTransition)

		state, err := engine.Store().Get("V1")
		require.NoError(t, err)
		assert.Nil(t, state.Location.Lat)
		_, err = json.Marshal(state)
		assert.NoError(t, err)
	})

	t.Run("same driver again", func(t *testing.T) {
		engine, pub := newTestEngine(t, 4)
		_, err := engine.AssignDriver(ctx, "V1", 0, strPtr("D1"))
		assert.ErrorIs(t, err, ErrInvalidTransition)
		state, err := engine.Store().Get("V1")
		require.NoError(t, err)
		assert.Equal(t, uint64(0), state.Version)
		assert.Len(t, pub.Events(), 1, "only provisioning was published")
	})

	t.Run("driver swap while online", func(t *testing.T) {
		engine, _ := newTestEngine(t, 4)
		_, err := engine.SetStatus(ctx, "V1", 0, StatusWaiting)
		require.NoError(t, err)
		_, err = engine.AssignDriver(ctx, "V1", 1, strPtr("D2"))
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestEngine_ManualConfirmAndRevert(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t, 4)

	_, err := engine.SetStatus(ctx, "V1", LatestVersion, StatusWaiting)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = engine.AdjustPassengers(ctx, "V1", LatestVersion, +1)
		require.NoError(t, err)
	}

	state, err := engine.SetStatus(ctx, "V1", LatestVersion, StatusConfirm)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirm, state.Status)
	assert.Equal(t, 2, state.CurrentPassengers)

	// boarding one more while manually confirmed keeps the vehicle confirmed
	state, err = engine.AdjustPassengers(ctx, "V1", LatestVersion, +1)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirm, state.Status)

	state, err = engine.SetStatus(ctx, "V1", LatestVersion, StatusWaiting)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, state.Status)
	assert.Equal(t, 3, state.CurrentPassengers, "manual revert keeps passengers")
}

func TestEngine_UnassignDriverForcesOffline(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t, 4)

	_, err := engine.SetStatus(ctx, "V1", LatestVersion, StatusWaiting)
	require.NoError(t, err)
	_, err = engine.AdjustPassengers(ctx, "V1", LatestVersion, +1)
	require.NoError(t, err)

	state, err := engine.AssignDriver(ctx, "V1", LatestVersion, nil)
	require.NoError(t, err)
	assert.Nil(t, state.DriverID)
	assert.Equal(t, StatusOffline, state.Status)
	assert.Equal(t, 0, state.CurrentPassengers)

	state, err = engine.AssignDriver(ctx, "V1", state.Version, strPtr("D9"))
	require.NoError(t, err)
	require.NotNil(t, state.DriverID)
	assert.Equal(t, "D9", *state.DriverID)
}

func TestEngine_TelemetryWhileOffline(t *testing.T) {
	ctx := context.Background()
	engine, pub := newTestEngine(t, 4)

	lat, lng := 41.01, 28.97
	state, err := engine.ReportLocation(ctx, "V1", 0, Location{Lat: &lat, Lng: &lng, Address: "Main Gate"})
	require.NoError(t, err)
	assert.Equal(t, StatusOffline, state.Status)
	assert.Equal(t, "Main Gate", state.Location.Address)

	state, err = engine.ReportBattery(ctx, "V1", state.Version, 42.5)
	require.NoError(t, err)
	assert.Equal(t, 42.5, state.BatteryLevel)

	events := pub.Events()
	require.Len(t, events, 3)
	assert.Equal(t, KindLocation, events[1].Kind)
	assert.Equal(t, []string{FieldLocation}, events[1].Changed)
	assert.Equal(t, KindLocation, events[2].Kind)
	assert.Equal(t, []string{FieldBattery}, events[2].Changed)
}

func TestEngine_Trips(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t, 4)

	_, err := engine.Apply(ctx, "V1", LatestVersion, AttachTrip{TripID: "T1"})
	assert.ErrorIs(t, err, ErrInvalidTransition, "offline vehicles cannot start trips")

	_, err = engine.SetStatus(ctx, "V1", LatestVersion, StatusWaiting)
	require.NoError(t, err)
	state, err := engine.Apply(ctx, "V1", LatestVersion, AttachTrip{TripID: "T1"})
	require.NoError(t, err)
	assert.Equal(t, "T1", state.ActiveTripID)

	_, err = engine.Apply(ctx, "V1", LatestVersion, AttachTrip{TripID: "T2"})
	assert.ErrorIs(t, err, ErrInvalidTransition, "one active trip per vehicle")
	current, err := engine.Store().Get("V1")
	require.NoError(t, err)
	assert.Equal(t, "T1", current.ActiveTripID)
	assert.Equal(t, state.Version, current.Version)

	_, err = engine.Apply(ctx, "V1", LatestVersion, DetachTrip{TripID: "T2"})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	state, err = engine.Apply(ctx, "V1", LatestVersion, DetachTrip{TripID: "T1"})
	require.NoError(t, err)
	assert.Empty(t, state.ActiveTripID)
	assert.Equal(t, StatusWaiting, state.Status, "completing a trip does not change status")

	state, err = engine.Apply(ctx, "V1", LatestVersion, AttachTrip{TripID: "T2"})
	require.NoError(t, err)
	assert.Equal(t, "T2", state.ActiveTripID)
}

func TestEngine_RandomSequencesKeepInvariants(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))
	engine, pub := newTestEngine(t, 4)

	statuses := []Status{StatusOffline, StatusWaiting, StatusConfirm}
	lastVersion := uint64(0)
	for i := 0; i < 500; i++ {
		var err error
		var state VehicleState
		switch rng.Intn(4) {
		case 0:
			state, err = engine.SetStatus(ctx, "V1", LatestVersion, statuses[rng.Intn(len(statuses))])
		case 1, 2:
			delta := 1
			if rng.Intn(2) == 0 {
				delta = -1
			}
			state, err = engine.AdjustPassengers(ctx, "V1", LatestVersion, delta)
		case 3:
			state, err = engine.ReportBattery(ctx, "V1", LatestVersion, float64(rng.Intn(101)))
		}
		if err == nil {
			assert.Equal(t, lastVersion+1, state.Version)
			lastVersion = state.Version
		}
		assert.GreaterOrEqual(t, state.CurrentPassengers, 0)
		assert.LessOrEqual(t, state.CurrentPassengers, state.Capacity)
	}

	events := pub.Events()
	for i := 1; i < len(events); i++ {
		assert.Equal(t, events[i-1].Version+1, events[i].Version)
	}
}
