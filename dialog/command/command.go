// Package command defines the closed vocabulary of dialogue intents
// and the handlers that translate each intent into a state delta.
// Commands are pure data produced by the understanding layer; handlers
// own all behavior. The Executor runs a turn's commands in order
// against a locally accumulated view, so later commands observe the
// effect of earlier ones without the input state ever being mutated.
package command

import (
	"sort"
	"strings"
	"time"

	"github.com/flowdial/flowdial/dialog/conversation"
	"github.com/flowdial/flowdial/dialog/flow"
)

// Type names a command variant. The vocabulary is closed and
// versioned: producers emitting newer types see their commands skipped
// with an unknown_command record rather than failing the turn.
type Type string

const (
	// TypeStartFlow pushes a new flow instance, optionally seeded with
	// slot values extracted from the user message.
	TypeStartFlow Type = "start_flow"
	// TypeCancelFlow cancels the active flow instance.
	TypeCancelFlow Type = "cancel_flow"
	// TypeSetSlot stores a validated value into the active instance.
	TypeSetSlot Type = "set_slot"
	// TypeCorrectSlot replaces an already collected value and rewinds
	// execution to the slot's collect step when it lies behind.
	TypeCorrectSlot Type = "correct_slot"
	// TypeAffirm resolves a pending confirmation positively.
	TypeAffirm Type = "affirm_confirmation"
	// TypeDeny resolves a pending confirmation negatively, optionally
	// rewinding to a slot's collect step.
	TypeDeny Type = "deny_confirmation"
	// TypeClarify asks the help generator to explain the current
	// situation; flow state is untouched.
	TypeClarify Type = "clarify"
	// TypeHumanHandoff ends the turn with a handoff sentinel.
	TypeHumanHandoff Type = "human_handoff"
)

type (
	// Command is one intent produced by the understanding layer.
	Command struct {
		Type Type `json:"type"`
		// Flow names the flow to start for start_flow.
		Flow string `json:"flow,omitempty"`
		// Slot names the targeted slot for set_slot and correct_slot,
		// and the optional rewind slot for deny_confirmation.
		Slot string `json:"slot,omitempty"`
		// Value is the raw value for set_slot and correct_slot.
		Value any `json:"value,omitempty"`
		// Inputs seeds slot values for start_flow.
		Inputs map[string]any `json:"inputs,omitempty"`
		// Topic narrows a clarify request.
		Topic string `json:"topic,omitempty"`
		// Confidence is the producer's confidence in this command.
		Confidence float64 `json:"confidence,omitempty"`
	}

	// Env carries the runtime collaborators handlers work with. All
	// fields are read-only during a turn.
	Env struct {
		// Flows is the compiled flow set.
		Flows *flow.Set
		// Manager produces flow structure deltas.
		Manager *conversation.Manager
		// Turn is the number recorded on command log entries.
		Turn int
		// Help generates clarification text. Optional; without one,
		// clarify falls back to a listing of available flows.
		Help HelpGenerator
	}

	// Result is a handler's outcome: the delta to merge, messages for
	// the response sink, and how the command log entry reads.
	Result struct {
		Delta    conversation.Delta
		Messages []string
		// Handoff marks the turn as ending with a human handoff.
		Handoff bool
		// Outcome overrides the log entry result; empty means success.
		Outcome string
		// Reason annotates the log entry.
		Reason string
	}

	// Handler translates one command into a Result. Handlers never
	// mutate the state they are given; soft rejections queue messages
	// and report through Outcome, hard failures return an error.
	Handler func(env Env, s *conversation.State, cmd Command) (Result, error)

	// HelpGenerator produces clarification text for clarify commands.
	HelpGenerator interface {
		Help(s *conversation.State, topic string) string
	}

	// HelpFunc adapts a function to the HelpGenerator interface.
	HelpFunc func(s *conversation.State, topic string) string

	// Registry maps each command type to exactly one handler.
	Registry struct {
		handlers map[Type]Handler
	}
)

// Help calls f.
func (f HelpFunc) Help(s *conversation.State, topic string) string { return f(s, topic) }

// NewRegistry returns a registry seeded with the built-in handlers for
// the full command vocabulary.
func NewRegistry() *Registry {
	r := &Registry{handlers: make(map[Type]Handler, 8)}
	r.handlers[TypeStartFlow] = handleStartFlow
	r.handlers[TypeCancelFlow] = handleCancelFlow
	r.handlers[TypeSetSlot] = handleSetSlot
	r.handlers[TypeCorrectSlot] = handleCorrectSlot
	r.handlers[TypeAffirm] = handleAffirm
	r.handlers[TypeDeny] = handleDeny
	r.handlers[TypeClarify] = handleClarify
	r.handlers[TypeHumanHandoff] = handleHumanHandoff
	return r
}

// Register installs a handler for a command type, replacing any
// built-in. Registering a nil handler removes the type.
func (r *Registry) Register(t Type, h Handler) {
	if h == nil {
		delete(r.handlers, t)
		return
	}
	r.handlers[t] = h
}

// Handler returns the handler for a command type.
func (r *Registry) Handler(t Type) (Handler, bool) {
	h, ok := r.handlers[t]
	return h, ok
}

// Types returns the registered command types: the built-in vocabulary
// in declaration order, then any custom types sorted by name.
func (r *Registry) Types() []Type {
	all := []Type{
		TypeStartFlow, TypeCancelFlow, TypeSetSlot, TypeCorrectSlot,
		TypeAffirm, TypeDeny, TypeClarify, TypeHumanHandoff,
	}
	out := make([]Type, 0, len(r.handlers))
	for _, t := range all {
		if _, ok := r.handlers[t]; ok {
			out = append(out, t)
		}
	}
	var extra []string
	for t := range r.handlers {
		if !containsType(out, t) {
			extra = append(extra, string(t))
		}
	}
	sort.Strings(extra)
	for _, t := range extra {
		out = append(out, Type(t))
	}
	return out
}

func containsType(list []Type, t Type) bool {
	for _, item := range list {
		if item == t {
			return true
		}
	}
	return false
}

// humanize turns a flow name into user-presentable text.
func humanize(name string) string {
	return strings.ReplaceAll(name, "_", " ")
}

// utcNow is the default clock.
func utcNow() time.Time { return time.Now().UTC() }
