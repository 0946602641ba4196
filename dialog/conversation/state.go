// Package conversation holds the per-conversation dialogue state and
// the pure operations that evolve it. State is a plain record: every
// mutation is expressed as a Delta produced by a Manager operation or
// a command handler and merged in by the caller. Nothing in this
// package performs I/O.
package conversation

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a flow instance.
type Status string

const (
	// StatusActive marks the instance currently being executed. At
	// most one instance is active and it sits on top of the stack.
	StatusActive Status = "active"
	// StatusPaused marks an instance interrupted by a flow pushed
	// above it. It resumes when the covering instance pops.
	StatusPaused Status = "paused"
	// StatusCompleted marks an instance that reached its end step.
	StatusCompleted Status = "completed"
	// StatusCancelled marks an instance cancelled by the user or by a
	// denied confirmation.
	StatusCancelled Status = "cancelled"
	// StatusError marks an instance terminated by a failure.
	StatusError Status = "error"
	// StatusAbandoned marks an instance dropped without resolution,
	// for example when its conversation is pruned.
	StatusAbandoned Status = "abandoned"
)

// Terminal reports whether the status ends an instance's life on the
// stack.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusError, StatusAbandoned:
		return true
	}
	return false
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Command results recorded in the command log.
const (
	ResultSuccess = "success"
	ResultSkipped = "skipped"
	ResultError   = "error"
)

// AwaitKind names what kind of user input a suspended conversation is
// waiting for.
type AwaitKind string

const (
	AwaitCollect   AwaitKind = "collect"
	AwaitConfirm   AwaitKind = "confirm"
	AwaitInformAck AwaitKind = "inform_ack"
)

type (
	// State is the persisted record of one conversation. Field names
	// are stable; the engine versions the serialized form.
	State struct {
		// Messages is the ordered user/assistant history.
		Messages []Message `json:"messages"`
		// Stack is the flow stack, bottom first. The top entry is the
		// only one that may be active.
		Stack []FlowContext `json:"flow_stack"`
		// Slots is the slot heap: instance id to slot name to value.
		// Keys always reference an instance on the stack or in the
		// archive.
		Slots map[string]map[string]any `json:"slot_heap"`
		// Archive holds terminated instances with their outputs, most
		// recent last.
		Archive []FlowContext `json:"archive"`
		// CommandLog records every executed command in order.
		CommandLog []CommandRecord `json:"command_log"`
		// LastNLU summarizes the most recent understanding call.
		LastNLU *NLUTrace `json:"last_nlu,omitempty"`
		// Awaiting is set while the conversation is suspended on a
		// pending task.
		Awaiting *Awaiting `json:"awaiting,omitempty"`
		// Turns counts processed turns.
		Turns int `json:"turns"`
		// LastError holds the kind of the most recent turn failure.
		LastError string `json:"last_error,omitempty"`
		// Pruned counts entries dropped by save-time pruning.
		Pruned PruneMarks `json:"pruned"`

		CreatedAt time.Time `json:"created_at"`
		UpdatedAt time.Time `json:"updated_at"`
	}

	// Message is one history entry.
	Message struct {
		ID      string    `json:"id"`
		Role    string    `json:"role"`
		Content string    `json:"content"`
		At      time.Time `json:"at"`
	}

	// FlowContext is one flow instance on the stack or in the archive.
	FlowContext struct {
		// ID is unique per instance, assigned at push time. Two runs
		// of the same flow never share an id.
		ID string `json:"id"`
		// Flow is the definition key.
		Flow string `json:"flow"`
		// Status is the lifecycle state.
		Status Status `json:"status"`
		// Step is the id of the node the subgraph is at, empty before
		// the first step executes.
		Step string `json:"step,omitempty"`
		// Outputs holds the declared outputs, written on completion.
		Outputs map[string]any `json:"outputs,omitempty"`
		// Note is a free-form debugging annotation, for example why
		// the instance was paused.
		Note string `json:"note,omitempty"`

		StartedAt time.Time  `json:"started_at"`
		PausedAt  *time.Time `json:"paused_at,omitempty"`
		EndedAt   *time.Time `json:"ended_at,omitempty"`
	}

	// Awaiting describes the pending task a suspended conversation
	// expects input for.
	Awaiting struct {
		Kind AwaitKind `json:"kind"`
		// Slot is the awaited slot for collect tasks.
		Slot string `json:"slot,omitempty"`
		// Prompt is the rendered prompt, re-emitted after
		// clarification requests.
		Prompt string `json:"prompt,omitempty"`
	}

	// CommandRecord is one command log entry: what ran, in which turn,
	// and how it ended.
	CommandRecord struct {
		Turn   int       `json:"turn"`
		Type   string    `json:"type"`
		Flow   string    `json:"flow,omitempty"`
		Slot   string    `json:"slot,omitempty"`
		Result string    `json:"result"`
		Reason string    `json:"reason,omitempty"`
		At     time.Time `json:"at"`
	}

	// NLUTrace summarizes an understanding call for audit.
	NLUTrace struct {
		Commands   int       `json:"commands"`
		Confidence float64   `json:"confidence"`
		Reasoning  string    `json:"reasoning,omitempty"`
		At         time.Time `json:"at"`
	}

	// PruneMarks counts entries dropped by save-time pruning since the
	// conversation began.
	PruneMarks struct {
		Messages int `json:"messages,omitempty"`
		Commands int `json:"commands,omitempty"`
		Archived int `json:"archived,omitempty"`
	}
)

// NewState returns a fresh conversation state: empty stack, empty
// heap, counters at zero.
func NewState(now time.Time) *State {
	return &State{
		Slots:     make(map[string]map[string]any),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy of the state's structure. Slot values and
// outputs are shared: they are treated as immutable once stored.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := *s
	out.Messages = append([]Message(nil), s.Messages...)
	out.Stack = cloneContexts(s.Stack)
	out.Archive = cloneContexts(s.Archive)
	out.CommandLog = append([]CommandRecord(nil), s.CommandLog...)
	out.Slots = make(map[string]map[string]any, len(s.Slots))
	for id, slots := range s.Slots {
		scope := make(map[string]any, len(slots))
		for name, value := range slots {
			scope[name] = value
		}
		out.Slots[id] = scope
	}
	if s.Awaiting != nil {
		aw := *s.Awaiting
		out.Awaiting = &aw
	}
	if s.LastNLU != nil {
		trace := *s.LastNLU
		out.LastNLU = &trace
	}
	return &out
}

func cloneContexts(list []FlowContext) []FlowContext {
	if list == nil {
		return nil
	}
	out := make([]FlowContext, len(list))
	for i, fc := range list {
		out[i] = cloneContext(fc)
	}
	return out
}

func cloneContext(fc FlowContext) FlowContext {
	if fc.Outputs != nil {
		outputs := make(map[string]any, len(fc.Outputs))
		for k, v := range fc.Outputs {
			outputs[k] = v
		}
		fc.Outputs = outputs
	}
	if fc.PausedAt != nil {
		t := *fc.PausedAt
		fc.PausedAt = &t
	}
	if fc.EndedAt != nil {
		t := *fc.EndedAt
		fc.EndedAt = &t
	}
	return fc
}

// Validate checks the structural invariants: at most one active
// instance sitting on top of the stack, non-top entries paused, and
// every slot heap key referencing a known instance. The engine runs it
// on every loaded checkpoint and discards payloads that fail.
func Validate(s *State) error {
	if s == nil {
		return fmt.Errorf("nil state")
	}
	for i, fc := range s.Stack {
		top := i == len(s.Stack)-1
		switch {
		case fc.ID == "":
			return fmt.Errorf("stack entry %d has no instance id", i)
		case top && fc.Status != StatusActive:
			return fmt.Errorf("top of stack is %s, want active", fc.Status)
		case !top && fc.Status != StatusPaused:
			return fmt.Errorf("stack entry %d is %s, want paused", i, fc.Status)
		}
	}
	for i, fc := range s.Archive {
		if !fc.Status.Terminal() {
			return fmt.Errorf("archive entry %d is %s, want a terminal status", i, fc.Status)
		}
	}
	known := make(map[string]bool, len(s.Stack)+len(s.Archive))
	for _, fc := range s.Stack {
		known[fc.ID] = true
	}
	for _, fc := range s.Archive {
		known[fc.ID] = true
	}
	for id := range s.Slots {
		if !known[id] {
			return fmt.Errorf("slot heap references unknown instance %q", id)
		}
	}
	return nil
}
