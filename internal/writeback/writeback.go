package writeback

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"shuttle-fleet-backend/internal/fleet"
	"shuttle-fleet-backend/internal/metrics"
)

// Saver persists a batch of vehicle states.
type Saver interface {
	SaveVehicleStates(ctx context.Context, states []fleet.VehicleState) error
}

// Writer mirrors accepted transitions to persistence in the background.
// Publish never blocks the commit path: it only records the newest state
// per vehicle, and Run flushes the coalesced set on an interval. A failed
// flush keeps the states pending for the next round.
type Writer struct {
	saver    Saver
	interval time.Duration

	mu      sync.Mutex
	pending map[string]fleet.VehicleState
}

var _ fleet.Publisher = (*Writer)(nil)

// New creates a writer that flushes to saver every interval.
func New(saver Saver, interval time.Duration) *Writer {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Writer{
		saver:    saver,
		interval: interval,
		pending:  make(map[string]fleet.VehicleState),
	}
}

// Publish implements fleet.Publisher.
func (w *Writer) Publish(event fleet.TransitionEvent) {
	w.mu.Lock()
	w.offerLocked(event.State)
	w.mu.Unlock()
}

func (w *Writer) offerLocked(state fleet.VehicleState) {
	if cur, ok := w.pending[state.ID]; ok && cur.Version > state.Version {
		return
	}
	w.pending[state.ID] = state
}

// Pending returns how many vehicles are waiting to be written.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Flush writes every pending state now.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return nil
	}
	batch := make([]fleet.VehicleState, 0, len(w.pending))
	for _, st := range w.pending {
		batch = append(batch, st)
	}
	w.pending = make(map[string]fleet.VehicleState)
	w.mu.Unlock()

	if err := w.saver.SaveVehicleStates(ctx, batch); err != nil {
		metrics.WritebackFlushes.WithLabelValues("error").Inc()
		w.mu.Lock()
		for _, st := range batch {
			w.offerLocked(st)
		}
		w.mu.Unlock()
		return err
	}
	metrics.WritebackFlushes.WithLabelValues("ok").Inc()
	return nil
}

// Run flushes on every tick until ctx is done, then makes one last
// attempt with a short deadline.
func (w *Writer) Run(ctx context.Context) error {
	log.Info().Dur("interval", w.interval).Msg("write-back started")

	timer := time.NewTimer(w.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := w.Flush(final); err != nil {
				log.Error().Err(err).Int("pending", w.Pending()).Msg("final write-back flush failed")
			}
			cancel()
			log.Info().Msg("write-back shutting down")
			return nil
		case <-timer.C:
			if err := w.Flush(ctx); err != nil {
				log.Error().Err(err).Int("pending", w.Pending()).Msg("write-back flush failed, will retry")
			}
			timer.Reset(w.interval)
		}
	}
}
