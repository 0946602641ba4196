package hooks

import (
	"context"
	"errors"
	"sync"
)

type (
	// Bus fans dialogue events out to registered subscribers. Delivery is
	// synchronous: Publish runs every subscriber in the caller's goroutine,
	// in registration order, and stops at the first error so a failing
	// audit or persistence subscriber can abort the turn.
	Bus interface {
		// Publish hands the event to each subscriber in registration order,
		// forwarding ctx. The first subscriber error ends delivery.
		Publish(ctx context.Context, event Event) error

		// Register adds sub to the bus. Close the returned Subscription to
		// stop delivery. A nil sub is an error.
		Register(sub Subscriber) (Subscription, error)
	}

	// Subscriber consumes published dialogue events. Returning an error
	// halts the publishing turn, so subscribers that only observe should
	// log failures and return nil.
	Subscriber interface {
		HandleEvent(ctx context.Context, event Event) error
	}

	// Subscription is a handle on one registration. Close detaches the
	// subscriber; extra Close calls are no-ops and the error is always nil.
	Subscription interface {
		Close() error
	}

	bus struct {
		mu   sync.RWMutex
		subs []*subscription
	}

	subscription struct {
		bus  *bus
		sub  Subscriber
		once sync.Once
	}
)

// NewBus returns an empty in-memory bus. Safe for concurrent Publish,
// Register, and Subscription.Close.
func NewBus() Bus {
	return &bus{}
}

func (b *bus) Publish(ctx context.Context, event Event) error {
	// Deliver against a snapshot so subscribers may register or close
	// mid-publish without affecting this delivery.
	b.mu.RLock()
	subs := make([]*subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()
	for _, s := range subs {
		if err := s.sub.HandleEvent(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (b *bus) Register(sub Subscriber) (Subscription, error) {
	if sub == nil {
		return nil, errors.New("subscriber is required")
	}
	s := &subscription{bus: b, sub: sub}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()
	return s, nil
}

// Close detaches the subscriber. An in-flight Publish that already took its
// snapshot may still deliver one final event.
func (s *subscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		for i, cur := range s.bus.subs {
			if cur == s {
				s.bus.subs = append(s.bus.subs[:i], s.bus.subs[i+1:]...)
				break
			}
		}
		s.bus.mu.Unlock()
	})
	return nil
}
