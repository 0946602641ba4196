// Package stream provides abstractions for delivering real-time conversation
// updates to clients. Stream events differ from hook events: stream events are
// client-facing updates (bot utterances, flow progress, pending input) while
// hook events provide comprehensive internal observability across the entire
// turn lifecycle.
//
// The StreamSubscriber in the hooks package bridges selected hook events into
// stream events, filtering out internal-only events (command audit records)
// and transforming runtime state into wire-friendly payloads suitable for
// Server-Sent Events, WebSockets, or message buses like Pulse.
//
// All event types implement the Event interface and can be safely sent
// concurrently through a Sink implementation. Implementations are responsible
// for marshaling events into their wire format.
package stream

import "context"

type (
	// Sink delivers streaming updates to clients over a transport (SSE,
	// WebSocket, Pulse). Implementations must be thread-safe: the runtime may
	// call Send concurrently when multiple conversations share a sink.
	//
	// Naming note: Send belongs to the sink (the transmitter), not the
	// subscriber. The hooks.StreamSubscriber RECEIVES events from the internal
	// bus and forwards them by invoking Sink.Send. Transports and tests
	// implement Sink; typical application code does not call Send directly.
	Sink interface {
		// Send publishes an event to the sink's underlying transport. The
		// implementation is responsible for marshaling the event into the
		// wire format and handling transport-specific delivery semantics
		// (retry, buffering, backpressure).
		//
		// Send should return an error if delivery fails. The runtime
		// propagates Send errors to the hook bus, which stops event delivery
		// to remaining subscribers, so streaming failures surface immediately
		// rather than silently dropping events.
		Send(ctx context.Context, event Event) error

		// Close releases resources owned by the sink (connections, buffers,
		// background goroutines). After Close returns, subsequent Send calls
		// must return errors.
		//
		// Close is idempotent. Implementations should block until pending
		// events are flushed or ctx is canceled.
		Close(ctx context.Context) error
	}

	// Event describes a streaming event delivered to clients through a Sink.
	// All concrete event types embed Base to provide standard metadata (type,
	// user key, turn ID, payload). Sinks use the Event interface to marshal
	// events generically; consumers can type-assert to concrete types when
	// they need structured field access.
	//
	// Implementations are immutable after construction and safe to send
	// concurrently.
	Event interface {
		// Type returns the event type constant (e.g., EventBotUtterance).
		// Subscribers use this to filter events by category or route to
		// type-specific handlers without performing type assertions.
		Type() EventType

		// UserKey returns the conversation owner that produced this event.
		// All events for a given conversation share the same user key. This
		// is the multiplexing key when a single Sink carries events from
		// multiple concurrent conversations.
		UserKey() string

		// TurnID returns the identifier of the turn that produced this
		// event, enabling clients to group updates per user message.
		TurnID() string

		// Payload returns the event-specific data in a JSON-serializable
		// form. Sinks use this for generic marshaling when they don't need
		// typed access; consumers that need structured access should
		// type-assert on the Event itself.
		Payload() any
	}

	// BotUtterance streams a message the dialogue engine produced for the
	// user. A turn may emit several utterances; clients display them in
	// order as they arrive rather than waiting for the combined response.
	BotUtterance struct {
		Base
		// Data contains the utterance payload.
		Data BotUtterancePayload
	}

	// FlowUpdate streams a flow lifecycle transition: a flow started, was
	// paused by an interrupting flow, resumed, or reached a terminal status.
	// Clients use these to render progress breadcrumbs and interruption
	// stacks.
	FlowUpdate struct {
		Base
		Data FlowUpdatePayload
	}

	// SlotUpdate streams a validated slot write, including corrections.
	// Clients use these to keep form-style views of the conversation state
	// in sync without re-fetching the whole conversation.
	SlotUpdate struct {
		Base
		Data SlotUpdatePayload
	}

	// AwaitInput streams when a turn suspends waiting for user input. It
	// materializes the pending task so UIs can render the matching input
	// affordance (free text for collect, yes/no buttons for confirm).
	AwaitInput struct {
		Base
		Data AwaitInputPayload
	}

	// Turn signals turn lifecycle phases. Emitted once when processing of a
	// user message begins and once when it completes or fails.
	Turn struct {
		Base
		Data TurnPayload
	}

	// BotUtterancePayload is the typed wire payload for bot utterance events.
	BotUtterancePayload struct {
		// Text is the rendered message text.
		Text string `json:"text"`
	}

	// FlowUpdatePayload describes a flow lifecycle transition.
	FlowUpdatePayload struct {
		// Flow is the flow definition name.
		Flow string `json:"flow"`
		// InstanceID identifies the flow activation. Clients correlate
		// started/paused/resumed/terminal updates through this ID.
		InstanceID string `json:"instance_id"`
		// Phase is the transition: "started", "paused", "resumed",
		// "completed", "cancelled", or "error".
		Phase string `json:"phase"`
	}

	// SlotUpdatePayload describes a validated slot write.
	SlotUpdatePayload struct {
		// Flow is the flow definition name that owns the slot.
		Flow string `json:"flow"`
		// InstanceID identifies the flow activation whose scope was written.
		InstanceID string `json:"instance_id"`
		// Slot is the slot name.
		Slot string `json:"slot"`
		// Value is the canonical value after validation.
		Value any `json:"value,omitempty"`
		// Corrected reports whether the write replaced a previously filled
		// value.
		Corrected bool `json:"corrected,omitempty"`
	}

	// AwaitInputPayload describes the pending task a suspended turn expects
	// input for.
	AwaitInputPayload struct {
		// Kind is the awaited input kind: "collect", "confirm", or
		// "inform_ack".
		Kind string `json:"kind"`
		// Flow is the flow definition name that suspended.
		Flow string `json:"flow"`
		// Slot is the awaited slot for collect tasks; empty otherwise.
		Slot string `json:"slot,omitempty"`
		// Prompt is the question or confirmation text shown to the user.
		Prompt string `json:"prompt"`
	}

	// TurnPayload describes a turn lifecycle update.
	TurnPayload struct {
		// Phase is the lifecycle phase: "started", "completed", or "failed".
		Phase string `json:"phase"`
		// Turn is the 1-based turn counter for the conversation.
		Turn int `json:"turn,omitempty"`
		// Response is the combined reply, populated on "completed".
		Response string `json:"response,omitempty"`
		// ErrorKind classifies the failure, populated on "failed" (e.g.,
		// "step_budget_exhausted").
		ErrorKind string `json:"error_kind,omitempty"`
		// Error is a user-safe failure summary, populated on "failed".
		Error string `json:"error,omitempty"`
	}

	// Profile describes which event kinds are emitted for a particular
	// audience. Profiles are applied by the StreamSubscriber when mapping
	// hook events to stream events.
	Profile struct {
		// Utterances controls emission of bot_utterance events.
		Utterances bool
		// FlowUpdates controls emission of flow_update events.
		FlowUpdates bool
		// SlotUpdates controls emission of slot_update events.
		SlotUpdates bool
		// Awaits controls emission of await_input events.
		Awaits bool
		// Turns controls emission of turn lifecycle events.
		Turns bool
	}

	// Base provides a default implementation of Event. Embed this struct in
	// concrete event types to inherit the Type(), UserKey(), TurnID(), and
	// Payload() methods.
	//
	// Field names are abbreviated to minimize visual clutter when
	// constructing events, since Base fields are rarely accessed directly
	// (consumers use the interface methods or type-assert to concrete types).
	Base struct {
		// t is the event type constant identifying the payload category.
		t EventType
		// k is the conversation owner key that produced this event.
		k string
		// n is the turn identifier that produced this event.
		n string
		// p is the JSON-serializable payload returned by Payload(). Set it
		// to the matching payload type for the event.
		p any
	}
)

// DefaultProfile returns a Profile that emits all event kinds. Suitable for
// operational and debugging views that want the full picture of a turn.
func DefaultProfile() Profile {
	return Profile{
		Utterances:  true,
		FlowUpdates: true,
		SlotUpdates: true,
		Awaits:      true,
		Turns:       true,
	}
}

// UserChatProfile returns a profile suitable for end-user chat views. It
// emits utterances, pending-input markers, and turn boundaries, and omits
// flow and slot bookkeeping that chat UIs don't render.
func UserChatProfile() Profile {
	return Profile{
		Utterances: true,
		Awaits:     true,
		Turns:      true,
	}
}

// EventType enumerates stream payload flavors.
type EventType string

const (
	// EventBotUtterance streams each message the dialogue engine produced
	// for the user. Emitted by StreamSubscriber when BotMessage hooks fire.
	EventBotUtterance EventType = "bot_utterance"

	// EventFlowUpdate streams flow lifecycle transitions (started, paused,
	// resumed, terminal). Emitted by StreamSubscriber when FlowStarted,
	// FlowPaused, FlowResumed, and FlowCompleted hooks fire.
	EventFlowUpdate EventType = "flow_update"

	// EventSlotUpdate streams validated slot writes, including corrections.
	// Emitted by StreamSubscriber when SlotFilled hooks fire.
	EventSlotUpdate EventType = "slot_update"

	// EventAwaitInput streams when a turn suspends waiting for user input.
	// Emitted by StreamSubscriber when InputAwaited hooks fire.
	EventAwaitInput EventType = "await_input"

	// EventTurn streams turn lifecycle boundaries. Emitted by
	// StreamSubscriber when TurnStarted, TurnCompleted, and TurnFailed
	// hooks fire.
	EventTurn EventType = "turn"
)

// NewBase constructs a Base event with the given type, user key, turn ID,
// and payload.
func NewBase(t EventType, userKey, turnID string, payload any) Base {
	return Base{t: t, k: userKey, n: turnID, p: payload}
}

// Type implements Event.Type.
func (e Base) Type() EventType { return e.t }

// UserKey implements Event.UserKey.
func (e Base) UserKey() string { return e.k }

// TurnID implements Event.TurnID.
func (e Base) TurnID() string { return e.n }

// Payload implements Event.Payload.
func (e Base) Payload() any { return e.p }
