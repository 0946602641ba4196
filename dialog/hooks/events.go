package hooks

import (
	"time"

	"github.com/flowdial/flowdial/dialog/conversation"
)

type (
	// Event is the interface all hook events must implement. The runtime
	// publishes events through the Bus, and subscribers receive them via
	// HandleEvent. Concrete event types carry typed payloads for each
	// lifecycle phase.
	//
	// Subscribers use type switches to access event-specific fields:
	//
	//	func (s *MySubscriber) HandleEvent(ctx context.Context, evt hooks.Event) error {
	//	    switch e := evt.(type) {
	//	    case *hooks.SlotFilledEvent:
	//	        log.Printf("slot %s = %v", e.Slot, e.Value)
	//	    case *hooks.TurnCompletedEvent:
	//	        log.Printf("turn took %v", e.Duration)
	//	    }
	//	    return nil
	//	}
	Event interface {
		// Type returns the specific event type constant (e.g., TurnStarted,
		// SlotFilled). Subscribers use this to filter events or route to
		// specific handlers without type assertions.
		Type() EventType
		// UserKey returns the conversation owner that produced this event.
		// All events within a single turn share the same user key, which is
		// the stable join key for correlating events across subscribers.
		UserKey() string
		// TurnID returns the identifier of the turn this event belongs to.
		// A turn groups every event caused by a single user message, from
		// TurnStarted through TurnCompleted or TurnFailed.
		TurnID() string
		// Timestamp returns the Unix timestamp in milliseconds when the event
		// occurred. Events are timestamped at creation, not at delivery, so
		// subscribers can calculate latencies between related events.
		Timestamp() int64
	}

	// TurnStartedEvent fires when the runtime begins processing a user message.
	TurnStartedEvent struct {
		baseEvent
		// Message is the raw user utterance that triggered the turn.
		Message string
		// Turn is the 1-based turn counter for this conversation.
		Turn int
	}

	// CommandExecutedEvent fires once per command handled during a turn.
	CommandExecutedEvent struct {
		baseEvent
		// Command is the command type that was executed (e.g., "start_flow").
		Command string
		// Flow names the flow the command targeted, when applicable.
		Flow string
		// Slot names the slot the command targeted, when applicable.
		Slot string
		// Result is the recorded outcome: "success", "skipped", or "error".
		Result string
		// Reason explains skips and errors; empty for plain successes.
		Reason string
	}

	// FlowStartedEvent fires when a flow instance is pushed onto the stack.
	FlowStartedEvent struct {
		baseEvent
		// Flow is the flow definition name.
		Flow string
		// InstanceID is the unique identifier of the new flow instance. Slot
		// and completion events for this activation carry the same ID.
		InstanceID string
	}

	// FlowPausedEvent fires when the active flow is suspended because another
	// flow was pushed on top of it.
	FlowPausedEvent struct {
		baseEvent
		// Flow is the flow definition name of the paused instance.
		Flow string
		// InstanceID identifies the paused flow instance.
		InstanceID string
	}

	// FlowResumedEvent fires when a previously paused flow becomes active
	// again after the flow above it left the stack.
	FlowResumedEvent struct {
		baseEvent
		// Flow is the flow definition name of the resumed instance.
		Flow string
		// InstanceID identifies the resumed flow instance.
		InstanceID string
	}

	// FlowCompletedEvent fires when a flow instance leaves the stack with a
	// terminal status.
	FlowCompletedEvent struct {
		baseEvent
		// Flow is the flow definition name.
		Flow string
		// InstanceID identifies the completed flow instance.
		InstanceID string
		// Status is the terminal status: completed, cancelled, or error.
		Status conversation.Status
		// Outputs carries the values the flow returned to its parent. Nil
		// when the flow declared no outputs or ended without producing them.
		Outputs map[string]any
	}

	// SlotFilledEvent fires when a validated slot value is written into the
	// active flow's scope.
	SlotFilledEvent struct {
		baseEvent
		// Flow is the flow definition name that owns the slot.
		Flow string
		// InstanceID identifies the flow instance whose scope was written.
		InstanceID string
		// Slot is the slot name.
		Slot string
		// Value is the canonical value after validation and coercion.
		Value any
		// Corrected reports whether the write replaced a previously filled
		// value rather than filling an empty slot.
		Corrected bool
	}

	// BotMessageEvent fires for each utterance emitted toward the user.
	BotMessageEvent struct {
		baseEvent
		// Text is the rendered message text.
		Text string
	}

	// InputAwaitedEvent fires when a turn suspends waiting for user input.
	InputAwaitedEvent struct {
		baseEvent
		// Kind is the awaited input kind: collect, confirm, or inform_ack.
		Kind conversation.AwaitKind
		// Flow is the flow definition name that suspended.
		Flow string
		// Slot is the awaited slot for collect tasks; empty otherwise.
		Slot string
		// Prompt is the question or confirmation text shown to the user.
		Prompt string
	}

	// TurnCompletedEvent fires after a turn finishes and its state has been
	// persisted.
	TurnCompletedEvent struct {
		baseEvent
		// Response is the combined reply returned to the caller.
		Response string
		// Commands is the number of commands executed during the turn.
		Commands int
		// Steps is the number of flow steps executed during the turn.
		Steps int
		// Duration is the wall-clock time the turn took.
		Duration time.Duration
	}

	// TurnFailedEvent fires when a turn aborts with an error.
	TurnFailedEvent struct {
		baseEvent
		// Kind classifies the failure using the dialogue error kinds (e.g.,
		// "step_budget_exhausted", "nlu_error").
		Kind string
		// Err is the terminal error that aborted the turn.
		Err error
	}

	// baseEvent holds common fields shared by all event types. It is embedded
	// anonymously in each concrete event struct, providing implementations of
	// the UserKey, TurnID, and Timestamp methods.
	baseEvent struct {
		userKey   string
		turnID    string
		timestamp int64
	}
)

// NewTurnStartedEvent constructs a TurnStartedEvent with the current timestamp.
func NewTurnStartedEvent(userKey, turnID, message string, turn int) *TurnStartedEvent {
	return &TurnStartedEvent{
		baseEvent: newBaseEvent(userKey, turnID),
		Message:   message,
		Turn:      turn,
	}
}

// NewCommandExecutedEvent constructs a CommandExecutedEvent from a recorded
// command log entry.
func NewCommandExecutedEvent(userKey, turnID string, rec conversation.CommandRecord) *CommandExecutedEvent {
	return &CommandExecutedEvent{
		baseEvent: newBaseEvent(userKey, turnID),
		Command:   rec.Type,
		Flow:      rec.Flow,
		Slot:      rec.Slot,
		Result:    rec.Result,
		Reason:    rec.Reason,
	}
}

// NewFlowStartedEvent constructs a FlowStartedEvent with the current timestamp.
func NewFlowStartedEvent(userKey, turnID, flow, instanceID string) *FlowStartedEvent {
	return &FlowStartedEvent{
		baseEvent:  newBaseEvent(userKey, turnID),
		Flow:       flow,
		InstanceID: instanceID,
	}
}

// NewFlowPausedEvent constructs a FlowPausedEvent with the current timestamp.
func NewFlowPausedEvent(userKey, turnID, flow, instanceID string) *FlowPausedEvent {
	return &FlowPausedEvent{
		baseEvent:  newBaseEvent(userKey, turnID),
		Flow:       flow,
		InstanceID: instanceID,
	}
}

// NewFlowResumedEvent constructs a FlowResumedEvent with the current timestamp.
func NewFlowResumedEvent(userKey, turnID, flow, instanceID string) *FlowResumedEvent {
	return &FlowResumedEvent{
		baseEvent:  newBaseEvent(userKey, turnID),
		Flow:       flow,
		InstanceID: instanceID,
	}
}

// NewFlowCompletedEvent constructs a FlowCompletedEvent. Status must be a
// terminal flow status; outputs may be nil.
func NewFlowCompletedEvent(userKey, turnID, flow, instanceID string, status conversation.Status, outputs map[string]any) *FlowCompletedEvent {
	return &FlowCompletedEvent{
		baseEvent:  newBaseEvent(userKey, turnID),
		Flow:       flow,
		InstanceID: instanceID,
		Status:     status,
		Outputs:    outputs,
	}
}

// NewSlotFilledEvent constructs a SlotFilledEvent with the current timestamp.
func NewSlotFilledEvent(userKey, turnID, flow, instanceID, slot string, value any, corrected bool) *SlotFilledEvent {
	return &SlotFilledEvent{
		baseEvent:  newBaseEvent(userKey, turnID),
		Flow:       flow,
		InstanceID: instanceID,
		Slot:       slot,
		Value:      value,
		Corrected:  corrected,
	}
}

// NewBotMessageEvent constructs a BotMessageEvent with the current timestamp.
func NewBotMessageEvent(userKey, turnID, text string) *BotMessageEvent {
	return &BotMessageEvent{
		baseEvent: newBaseEvent(userKey, turnID),
		Text:      text,
	}
}

// NewInputAwaitedEvent constructs an InputAwaitedEvent describing the pending
// task a suspended turn expects input for.
func NewInputAwaitedEvent(userKey, turnID, flow string, awaiting conversation.Awaiting) *InputAwaitedEvent {
	return &InputAwaitedEvent{
		baseEvent: newBaseEvent(userKey, turnID),
		Kind:      awaiting.Kind,
		Flow:      flow,
		Slot:      awaiting.Slot,
		Prompt:    awaiting.Prompt,
	}
}

// NewTurnCompletedEvent constructs a TurnCompletedEvent summarizing a
// finished turn.
func NewTurnCompletedEvent(userKey, turnID, response string, commands, steps int, duration time.Duration) *TurnCompletedEvent {
	return &TurnCompletedEvent{
		baseEvent: newBaseEvent(userKey, turnID),
		Response:  response,
		Commands:  commands,
		Steps:     steps,
		Duration:  duration,
	}
}

// NewTurnFailedEvent constructs a TurnFailedEvent. Kind classifies the
// failure; err is the terminal error.
func NewTurnFailedEvent(userKey, turnID, kind string, err error) *TurnFailedEvent {
	return &TurnFailedEvent{
		baseEvent: newBaseEvent(userKey, turnID),
		Kind:      kind,
		Err:       err,
	}
}

// UserKey returns the conversation owner that produced the event.
func (e baseEvent) UserKey() string { return e.userKey }

// TurnID returns the identifier of the turn the event belongs to.
func (e baseEvent) TurnID() string { return e.turnID }

// Timestamp returns the Unix timestamp in milliseconds when the event occurred.
func (e baseEvent) Timestamp() int64 { return e.timestamp }

// newBaseEvent constructs a baseEvent with the current timestamp.
func newBaseEvent(userKey, turnID string) baseEvent {
	return baseEvent{
		userKey:   userKey,
		turnID:    turnID,
		timestamp: time.Now().UnixMilli(),
	}
}

// Type method implementations

func (e *TurnStartedEvent) Type() EventType     { return TurnStarted }
func (e *CommandExecutedEvent) Type() EventType { return CommandExecuted }
func (e *FlowStartedEvent) Type() EventType     { return FlowStarted }
func (e *FlowPausedEvent) Type() EventType      { return FlowPaused }
func (e *FlowResumedEvent) Type() EventType     { return FlowResumed }
func (e *FlowCompletedEvent) Type() EventType   { return FlowCompleted }
func (e *SlotFilledEvent) Type() EventType      { return SlotFilled }
func (e *BotMessageEvent) Type() EventType      { return BotMessage }
func (e *InputAwaitedEvent) Type() EventType    { return InputAwaited }
func (e *TurnCompletedEvent) Type() EventType   { return TurnCompleted }
func (e *TurnFailedEvent) Type() EventType      { return TurnFailed }
