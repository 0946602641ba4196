package hooks

import (
	"context"
	"errors"

	"github.com/flowdial/flowdial/dialog/stream"
)

type (
	// StreamSubscriber is a Subscriber implementation that RECEIVES hook
	// events and forwards selected ones to a stream.Sink. Think of it as a
	// bridge between the internal observability bus and an external streaming
	// transport (SSE, WebSockets, Pulse, etc.).
	//
	// Naming note: only the sink exposes a Send method. The subscriber itself
	// does not "send"; it handles incoming hook events and calls sink.Send
	// under the hood. This separation avoids confusion between receiving from
	// the bus and transmitting to the client transport.
	//
	// Forwarded (client-facing) events:
	//   - BotMessage → EventBotUtterance
	//   - FlowStarted/FlowPaused/FlowResumed/FlowCompleted → EventFlowUpdate
	//   - SlotFilled → EventSlotUpdate
	//   - InputAwaited → EventAwaitInput
	//   - TurnStarted/TurnCompleted/TurnFailed → EventTurn
	//
	// Internal-only events (command audit records) are ignored as they are
	// primarily used for observability, not client streaming.
	StreamSubscriber struct {
		sink    stream.Sink
		profile stream.Profile
	}
)

// NewStreamSubscriber constructs a subscriber that forwards selected hook
// events to the provided stream sink using the default profile, which emits
// all client-facing event kinds. The sink is typically backed by a message
// bus like Pulse or a direct WebSocket/SSE connection.
//
// NewStreamSubscriber returns an error if sink is nil.
//
// Example:
//
//	sub, err := hooks.NewStreamSubscriber(sink)
//	if err != nil {
//	    return err
//	}
//	subscription, _ := bus.Register(sub)
//	defer subscription.Close()
func NewStreamSubscriber(sink stream.Sink) (Subscriber, error) {
	return NewStreamSubscriberWithProfile(sink, stream.DefaultProfile())
}

// NewStreamSubscriberWithProfile constructs a subscriber that forwards hook
// events to the sink, restricted to the event kinds the profile enables. Use
// stream.UserChatProfile for end-user chat views that don't render flow and
// slot bookkeeping.
func NewStreamSubscriberWithProfile(sink stream.Sink, profile stream.Profile) (Subscriber, error) {
	if sink == nil {
		return nil, errors.New("stream sink is required")
	}
	return &StreamSubscriber{sink: sink, profile: profile}, nil
}

// HandleEvent implements the Subscriber interface by translating hook events
// into stream events and forwarding them to the configured sink. Event kinds
// the profile disables are dropped without touching the sink.
//
// If the sink returns an error, HandleEvent propagates it to the bus, which
// stops event delivery to remaining subscribers. This fail-fast behavior
// ensures that streaming failures are visible to the runtime.
func (s *StreamSubscriber) HandleEvent(ctx context.Context, event Event) error {
	switch evt := event.(type) {
	case *BotMessageEvent:
		if !s.profile.Utterances {
			return nil
		}
		payload := stream.BotUtterancePayload{Text: evt.Text}
		return s.sink.Send(ctx, stream.BotUtterance{
			Base: stream.NewBase(stream.EventBotUtterance, evt.UserKey(), evt.TurnID(), payload),
			Data: payload,
		})
	case *FlowStartedEvent:
		return s.sendFlowUpdate(ctx, evt, evt.Flow, evt.InstanceID, "started")
	case *FlowPausedEvent:
		return s.sendFlowUpdate(ctx, evt, evt.Flow, evt.InstanceID, "paused")
	case *FlowResumedEvent:
		return s.sendFlowUpdate(ctx, evt, evt.Flow, evt.InstanceID, "resumed")
	case *FlowCompletedEvent:
		return s.sendFlowUpdate(ctx, evt, evt.Flow, evt.InstanceID, string(evt.Status))
	case *SlotFilledEvent:
		if !s.profile.SlotUpdates {
			return nil
		}
		payload := stream.SlotUpdatePayload{
			Flow:       evt.Flow,
			InstanceID: evt.InstanceID,
			Slot:       evt.Slot,
			Value:      evt.Value,
			Corrected:  evt.Corrected,
		}
		return s.sink.Send(ctx, stream.SlotUpdate{
			Base: stream.NewBase(stream.EventSlotUpdate, evt.UserKey(), evt.TurnID(), payload),
			Data: payload,
		})
	case *InputAwaitedEvent:
		if !s.profile.Awaits {
			return nil
		}
		payload := stream.AwaitInputPayload{
			Kind:   string(evt.Kind),
			Flow:   evt.Flow,
			Slot:   evt.Slot,
			Prompt: evt.Prompt,
		}
		return s.sink.Send(ctx, stream.AwaitInput{
			Base: stream.NewBase(stream.EventAwaitInput, evt.UserKey(), evt.TurnID(), payload),
			Data: payload,
		})
	case *TurnStartedEvent:
		return s.sendTurn(ctx, evt, stream.TurnPayload{Phase: "started", Turn: evt.Turn})
	case *TurnCompletedEvent:
		return s.sendTurn(ctx, evt, stream.TurnPayload{Phase: "completed", Response: evt.Response})
	case *TurnFailedEvent:
		payload := stream.TurnPayload{Phase: "failed", ErrorKind: evt.Kind}
		if evt.Err != nil {
			payload.Error = evt.Err.Error()
		}
		return s.sendTurn(ctx, evt, payload)
	default:
		return nil
	}
}

func (s *StreamSubscriber) sendFlowUpdate(ctx context.Context, evt Event, flow, instanceID, phase string) error {
	if !s.profile.FlowUpdates {
		return nil
	}
	payload := stream.FlowUpdatePayload{Flow: flow, InstanceID: instanceID, Phase: phase}
	return s.sink.Send(ctx, stream.FlowUpdate{
		Base: stream.NewBase(stream.EventFlowUpdate, evt.UserKey(), evt.TurnID(), payload),
		Data: payload,
	})
}

func (s *StreamSubscriber) sendTurn(ctx context.Context, evt Event, payload stream.TurnPayload) error {
	if !s.profile.Turns {
		return nil
	}
	return s.sink.Send(ctx, stream.Turn{
		Base: stream.NewBase(stream.EventTurn, evt.UserKey(), evt.TurnID(), payload),
		Data: payload,
	})
}
