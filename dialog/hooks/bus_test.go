package hooks

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusPublishFanOut(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	count := 0
	sub := SubscriberFunc(func(ctx context.Context, event Event) error {
		count++
		return nil
	})
	_, err := bus.Register(sub)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, NewTurnStartedEvent("user-1", "turn-1", "hi", 1)))
	require.NoError(t, bus.Publish(ctx, NewBotMessageEvent("user-1", "turn-1", "hello!")))
	require.Equal(t, 2, count)
}

func TestBusRegisterNil(t *testing.T) {
	bus := NewBus()
	_, err := bus.Register(nil)
	require.Error(t, err)
}

func TestBusDeliversInRegistrationOrder(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		_, err := bus.Register(SubscriberFunc(func(ctx context.Context, event Event) error {
			order = append(order, name)
			return nil
		}))
		require.NoError(t, err)
	}
	require.NoError(t, bus.Publish(ctx, NewBotMessageEvent("user-1", "turn-1", "hello")))
	require.Equal(t, []string{"first", "second", "third"}, order)
}

func TestBusStopsAtFirstSubscriberError(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	boom := errors.New("boom")
	reached := false
	_, err := bus.Register(SubscriberFunc(func(ctx context.Context, event Event) error {
		return boom
	}))
	require.NoError(t, err)
	_, err = bus.Register(SubscriberFunc(func(ctx context.Context, event Event) error {
		reached = true
		return nil
	}))
	require.NoError(t, err)

	err = bus.Publish(ctx, NewTurnStartedEvent("user-1", "turn-1", "hi", 1))
	require.ErrorIs(t, err, boom)
	assert.False(t, reached, "later subscribers must not run after a failure")
}

func TestSubscriptionClose(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	count := 0
	sub := SubscriberFunc(func(ctx context.Context, event Event) error {
		count++
		return nil
	})
	subscription, err := bus.Register(sub)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, NewTurnStartedEvent("user-1", "turn-1", "hi", 1)))
	require.NoError(t, subscription.Close())
	require.NoError(t, bus.Publish(ctx, NewBotMessageEvent("user-1", "turn-1", "bye")))
	require.Equal(t, 1, count)
}

func TestSubscriptionCloseIdempotent(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	kept := 0
	_, err := bus.Register(SubscriberFunc(func(ctx context.Context, event Event) error {
		kept++
		return nil
	}))
	require.NoError(t, err)
	closed, err := bus.Register(SubscriberFunc(func(ctx context.Context, event Event) error {
		t.Error("closed subscriber received an event")
		return nil
	}))
	require.NoError(t, err)

	require.NoError(t, closed.Close())
	require.NoError(t, closed.Close())
	require.NoError(t, bus.Publish(ctx, NewBotMessageEvent("user-1", "turn-1", "still here")))
	require.Equal(t, 1, kept)
}

func TestBusConcurrentPublishAndRegister(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	var (
		mu    sync.Mutex
		total int
	)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub, err := bus.Register(SubscriberFunc(func(ctx context.Context, event Event) error {
				mu.Lock()
				total++
				mu.Unlock()
				return nil
			}))
			assert.NoError(t, err)
			assert.NoError(t, bus.Publish(ctx, NewBotMessageEvent("user-1", "turn-1", "ping")))
			assert.NoError(t, sub.Close())
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, total, 8, "each goroutine's own subscriber sees at least its own publish")
}
