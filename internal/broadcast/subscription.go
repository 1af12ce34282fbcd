package broadcast

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"shuttle-fleet-backend/internal/fleet"
	"shuttle-fleet-backend/internal/metrics"
)

// Subscription is the handle returned by Subscribe. Events arrive on
// Events() in per-vehicle commit order until the subscription is removed,
// at which point the channel is closed.
type Subscription struct {
	id     string
	connID string
	topics []Topic

	mu     sync.Mutex // serializes deliver and close
	ch     chan fleet.TransitionEvent
	done   chan struct{}
	closed bool

	dropped  atomic.Uint64
	degraded atomic.Bool
}

func newSubscription(id, connID string, topics []Topic, buffer int) *Subscription {
	return &Subscription{
		id:     id,
		connID: connID,
		topics: topics,
		ch:     make(chan fleet.TransitionEvent, buffer),
		done:   make(chan struct{}),
	}
}

// ID is the unique handle id.
func (s *Subscription) ID() string { return s.id }

// ConnectionID is the subscriber connection this handle belongs to.
func (s *Subscription) ConnectionID() string { return s.connID }

// Topics returns the topics the subscription was registered with.
func (s *Subscription) Topics() []Topic { return append([]Topic(nil), s.topics...) }

// Events delivers matching transition events.
func (s *Subscription) Events() <-chan fleet.TransitionEvent { return s.ch }

// Done is closed once the subscription has been removed.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Dropped is the number of events evicted because the queue was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Degraded reports whether events were dropped since the last ClearDegraded.
func (s *Subscription) Degraded() bool { return s.degraded.Load() }

// ClearDegraded resets the degraded flag, returning its previous value.
// Callers clear it right before re-sending a full snapshot.
func (s *Subscription) ClearDegraded() bool { return s.degraded.Swap(false) }

// deliver enqueues event without blocking. When the queue is full the
// oldest queued event is evicted and the subscription is marked degraded.
func (s *Subscription) deliver(event fleet.TransitionEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	select {
	case s.ch <- event:
		return true
	default:
	}

	select {
	case <-s.ch:
	default:
	}
	s.dropped.Add(1)
	metrics.DroppedDeliveries.Inc()
	if !s.degraded.Swap(true) {
		log.Warn().Str("conn", s.connID).Str("subscription", s.id).Msg("subscriber queue full, dropping oldest events")
	}

	select {
	case s.ch <- event:
		return true
	default:
		return false
	}
}

func (s *Subscription) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	close(s.ch)
	close(s.done)
	return true
}
