package broadcast

import (
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"shuttle-fleet-backend/internal/fleet"
)

// Bus fans accepted transitions out to subscribers of the vehicle's topic
// and of TopicAll. A Bus is created at process start and closed at
// shutdown; there is no package-level instance.
type Bus struct {
	registry *Registry
	closed   atomic.Bool
}

var _ fleet.Publisher = (*Bus)(nil)

// NewBus creates a bus backed by registry.
func NewBus(registry *Registry) *Bus {
	return &Bus{registry: registry}
}

// Registry returns the bus's subscription registry.
func (b *Bus) Registry() *Registry { return b.registry }

// Publish implements fleet.Publisher.
func (b *Bus) Publish(event fleet.TransitionEvent) {
	if b.closed.Load() {
		return
	}
	b.registry.Publish(event, TopicAll, VehicleTopic(event.VehicleID))
}

// Subscribe registers a subscriber connection.
func (b *Bus) Subscribe(connID string, topics ...Topic) (*Subscription, error) {
	return b.registry.Subscribe(connID, topics...)
}

// Unsubscribe removes a subscription.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.registry.Unsubscribe(sub)
}

// Close stops publishing and disconnects every subscriber.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	n := b.registry.Len()
	b.registry.Close()
	log.Info().Int("subscribers", n).Msg("event bus closed")
}
