package broadcast

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"shuttle-fleet-backend/internal/fleet"
	"shuttle-fleet-backend/internal/metrics"
)

// Topic is a broadcast scope.
type Topic string

// TopicAll receives events for every vehicle.
const TopicAll Topic = "vehicles"

const vehicleTopicPrefix = "vehicle:"

// VehicleTopic is the topic scoped to one vehicle.
func VehicleTopic(vehicleID string) Topic {
	return Topic(vehicleTopicPrefix + vehicleID)
}

// VehicleID returns the vehicle a vehicle-scoped topic refers to.
func (t Topic) VehicleID() (string, bool) {
	if !strings.HasPrefix(string(t), vehicleTopicPrefix) {
		return "", false
	}
	return strings.TrimPrefix(string(t), vehicleTopicPrefix), true
}

// ErrClosed is returned by Subscribe after the registry has been closed.
var ErrClosed = errors.New("subscription registry closed")

// Registry tracks live subscriptions by topic.
//
// Publish holds the read lock for the whole fan-out and Unsubscribe takes
// the write lock, so once Unsubscribe returns no further event reaches
// that handle, while deliveries to other subscribers are unaffected.
type Registry struct {
	mu     sync.RWMutex
	topics map[Topic]map[*Subscription]struct{}
	byID   map[string]*Subscription
	buffer int
	closed bool
}

// NewRegistry creates a registry whose subscriptions buffer up to buffer
// events each.
func NewRegistry(buffer int) *Registry {
	if buffer < 1 {
		buffer = 1
	}
	return &Registry{
		topics: make(map[Topic]map[*Subscription]struct{}),
		byID:   make(map[string]*Subscription),
		buffer: buffer,
	}
}

// Subscribe registers connID for topics. With no topics the subscription
// listens to TopicAll.
func (r *Registry) Subscribe(connID string, topics ...Topic) (*Subscription, error) {
	if len(topics) == 0 {
		topics = []Topic{TopicAll}
	}
	sub := newSubscription(uuid.NewString(), connID, dedupeTopics(topics), r.buffer)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	for _, t := range sub.topics {
		set, ok := r.topics[t]
		if !ok {
			set = make(map[*Subscription]struct{})
			r.topics[t] = set
		}
		set[sub] = struct{}{}
	}
	r.byID[sub.id] = sub
	metrics.Subscribers.Inc()
	return sub, nil
}

// Unsubscribe removes sub and closes its channel. Safe to call more than
// once and concurrently with Publish.
func (r *Registry) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(sub)
}

func (r *Registry) removeLocked(sub *Subscription) {
	if _, ok := r.byID[sub.id]; !ok {
		return
	}
	delete(r.byID, sub.id)
	for _, t := range sub.topics {
		if set, ok := r.topics[t]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(r.topics, t)
			}
		}
	}
	if sub.close() {
		metrics.Subscribers.Dec()
	}
}

// Publish delivers event once to every subscription registered on any of
// topics. It never blocks on a slow subscriber and returns the number of
// subscriptions the event was queued for.
func (r *Registry) Publish(event fleet.TransitionEvent, topics ...Topic) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	targets := make(map[*Subscription]struct{})
	for _, t := range topics {
		for sub := range r.topics[t] {
			targets[sub] = struct{}{}
		}
	}

	delivered := 0
	for sub := range targets {
		if sub.deliver(event) {
			delivered++
		}
	}
	return delivered
}

// Dropped returns the number of events evicted from the queues of live
// subscriptions.
func (r *Registry) Dropped() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n uint64
	for _, sub := range r.byID {
		n += sub.Dropped()
	}
	return n
}

// Len returns the number of live subscriptions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Close removes every subscription and rejects new ones.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for _, sub := range r.byID {
		r.removeLocked(sub)
	}
}

func dedupeTopics(topics []Topic) []Topic {
	seen := make(map[Topic]struct{}, len(topics))
	out := make([]Topic, 0, len(topics))
	for _, t := range topics {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
