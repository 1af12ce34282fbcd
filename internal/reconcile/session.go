package reconcile

import (
	"context"
	"errors"

	"shuttle-fleet-backend/internal/broadcast"
	"shuttle-fleet-backend/internal/fleet"
)

// ErrSessionClosed is returned by Next once the subscription is gone.
var ErrSessionClosed = errors.New("session closed")

// Subscriber is the part of the event bus a Session needs.
type Subscriber interface {
	Subscribe(connID string, topics ...broadcast.Topic) (*broadcast.Subscription, error)
	Unsubscribe(sub *broadcast.Subscription)
}

// Session serves one viewer connection: an initial snapshot followed by
// the deltas that are newer than what the viewer already holds.
//
// The subscription is registered before the snapshot is read. A
// transition accepted in between is then both in the snapshot and queued
// on the subscription, and the queued copy is dropped by the version
// check, so nothing is missed and nothing is applied twice.
type Session struct {
	bus  Subscriber
	src  Source
	sub  *broadcast.Subscription
	keep func(fleet.VehicleState) bool
	view *View
}

// Open subscribes connID to topics and takes the starting snapshot.
func Open(bus Subscriber, src Source, connID string, topics ...broadcast.Topic) (*Session, Snapshot, error) {
	sub, err := bus.Subscribe(connID, topics...)
	if err != nil {
		return nil, Snapshot{}, err
	}
	s := &Session{
		bus:  bus,
		src:  src,
		sub:  sub,
		keep: topicFilter(sub.Topics()),
		view: NewView(),
	}
	snap := TakeFiltered(src, s.keep)
	s.view.Load(snap)
	return s, snap, nil
}

// Subscription returns the underlying bus subscription.
func (s *Session) Subscription() *broadcast.Subscription { return s.sub }

// Events is the raw event channel. Pass each event to Accept before
// forwarding it.
func (s *Session) Events() <-chan fleet.TransitionEvent { return s.sub.Events() }

// Accept applies event to the session's view and reports whether it is
// new to the viewer.
func (s *Session) Accept(event fleet.TransitionEvent) bool {
	return s.view.Apply(event)
}

// Next blocks until an event newer than the viewer's state arrives.
func (s *Session) Next(ctx context.Context) (fleet.TransitionEvent, error) {
	for {
		select {
		case <-ctx.Done():
			return fleet.TransitionEvent{}, ctx.Err()
		case ev, ok := <-s.sub.Events():
			if !ok {
				return fleet.TransitionEvent{}, ErrSessionClosed
			}
			if s.Accept(ev) {
				return ev, nil
			}
		}
	}
}

// NeedsResync reports whether events were dropped for this viewer since
// the last snapshot.
func (s *Session) NeedsResync() bool { return s.sub.Degraded() }

// Resync takes a fresh snapshot after dropped deliveries. Vehicles the
// viewer already holds at the same or newer version are left out of
// the view update but still included in the returned snapshot.
func (s *Session) Resync() Snapshot {
	s.sub.ClearDegraded()
	snap := TakeFiltered(s.src, s.keep)
	s.view.Load(snap)
	return snap
}

// View exposes the session's replica.
func (s *Session) View() *View { return s.view }

// Close unsubscribes.
func (s *Session) Close() {
	s.bus.Unsubscribe(s.sub)
}

func topicFilter(topics []broadcast.Topic) func(fleet.VehicleState) bool {
	ids := make(map[string]struct{})
	for _, t := range topics {
		if t == broadcast.TopicAll {
			return nil
		}
		if id, ok := t.VehicleID(); ok {
			ids[id] = struct{}{}
		}
	}
	return func(v fleet.VehicleState) bool {
		_, ok := ids[v.ID]
		return ok
	}
}
