// Package hooks implements fan-out hooks for dialogue lifecycle observability.
//
// The hooks package provides an event bus that enables the runtime to publish
// lifecycle events (turn start/completion, command execution, flow transitions,
// slot fills) to multiple subscribers. This decouples event producers (the
// orchestrator, the step executor, the command layer) from consumers (streaming
// sinks, audit logs, telemetry).
//
// The primary types are:
//   - Bus: the event bus interface for publishing and subscribing
//   - Event: the interface all published events implement
//   - Subscriber: the interface implementations must satisfy to receive events
//   - Subscription: a handle for unregistering from the bus
//
// Typical usage pattern:
//
//	bus := hooks.NewBus()
//
//	// Register a subscriber
//	sub := hooks.SubscriberFunc(func(ctx context.Context, evt hooks.Event) error {
//	    if evt.Type() == hooks.BotMessage {
//	        fmt.Printf("bot said: %s\n", evt.(*hooks.BotMessageEvent).Text)
//	    }
//	    return nil
//	})
//	subscription, _ := bus.Register(sub)
//	defer subscription.Close()
//
//	// Publish events
//	bus.Publish(ctx, hooks.NewTurnStartedEvent("user-1", "turn-1", "hi", 1))
package hooks

import "context"

type (
	// SubscriberFunc is an adapter that allows ordinary functions to act as
	// Subscribers. This is useful for quick prototypes, tests, or simple handlers
	// that don't require stateful subscriber implementations.
	//
	// Example:
	//
	//	sub := hooks.SubscriberFunc(func(ctx context.Context, evt hooks.Event) error {
	//	    log.Printf("received %s for user %s", evt.Type(), evt.UserKey())
	//	    return nil
	//	})
	//	subscription, _ := bus.Register(sub)
	SubscriberFunc func(ctx context.Context, event Event) error
)

// EventType enumerates well-known dialogue events broadcast on the hook bus.
// Each type corresponds to a specific phase in the conversation lifecycle.
type EventType string

const (
	// TurnStarted fires when the runtime begins processing a user message,
	// after state has been loaded and the per-user lock acquired.
	TurnStarted EventType = "turn_started"

	// CommandExecuted fires once per command handled during a turn, whether
	// the command succeeded, was skipped, or failed. The event carries the
	// recorded result so subscribers can maintain a complete audit trail.
	CommandExecuted EventType = "command_executed"

	// FlowStarted fires when a flow instance is pushed onto the stack, either
	// as a fresh conversation goal or as an interruption of the current one.
	FlowStarted EventType = "flow_started"

	// FlowPaused fires when the active flow is suspended because another flow
	// was pushed on top of it.
	FlowPaused EventType = "flow_paused"

	// FlowResumed fires when a previously paused flow becomes active again
	// after the flow above it left the stack.
	FlowResumed EventType = "flow_resumed"

	// FlowCompleted fires when a flow instance is popped from the stack with
	// a terminal status: completed, cancelled, or error.
	FlowCompleted EventType = "flow_completed"

	// SlotFilled fires when a slot value is validated and written into the
	// active flow's scope, including corrections of previously filled slots.
	SlotFilled EventType = "slot_filled"

	// BotMessage fires for each utterance the dialogue engine emits toward
	// the user during a turn.
	BotMessage EventType = "bot_message"

	// InputAwaited fires when a turn suspends waiting for user input: a slot
	// value, a confirmation, or an acknowledgement. UIs use this to render
	// the matching input affordance.
	InputAwaited EventType = "input_awaited"

	// TurnCompleted fires after a turn finishes and its state has been
	// persisted. The event carries the combined response and turn statistics.
	TurnCompleted EventType = "turn_completed"

	// TurnFailed fires when a turn aborts with an error, such as a step
	// budget overrun or a checkpoint write failure.
	TurnFailed EventType = "turn_failed"
)

// HandleEvent implements Subscriber by invoking the function.
func (fn SubscriberFunc) HandleEvent(ctx context.Context, event Event) error {
	return fn(ctx, event)
}
