// Package dialogerr provides the structured error taxonomy shared across the
// dialogue runtime. Every failure surfaced to callers or recorded in the
// command log carries a stable Kind so operators and tests can branch on the
// failure class without parsing messages.
package dialogerr

import (
	"errors"
	"fmt"
)

// Kind classifies a runtime failure. Kinds are stable strings: they appear in
// command log entries, hook events, and operator-facing diagnostics.
type Kind string

const (
	// KindFlowDefinition reports an invalid flow definition detected at
	// compile time. Fatal at startup, never produced at runtime.
	KindFlowDefinition Kind = "flow_definition_error"

	// KindInvalidSlotValue reports a slot value rejected by its validator.
	// Handled locally by reprompting; state is unchanged.
	KindInvalidSlotValue Kind = "invalid_slot_value"

	// KindNoActiveFlow reports a slot write attempted with an empty flow
	// stack. The offending command is skipped.
	KindNoActiveFlow Kind = "no_active_flow"

	// KindUnknownCommand reports a command type with no registered handler.
	// The command is skipped so newer NLU vocabularies degrade gracefully.
	KindUnknownCommand Kind = "unknown_command"

	// KindUnknownFlow reports a StartFlow naming a flow that was never
	// compiled. The command is skipped and logged; the turn continues.
	KindUnknownFlow Kind = "unknown_flow"

	// KindNLU reports a language-understanding provider failure. The turn
	// answers with a fallback message and flow state is untouched.
	KindNLU Kind = "nlu_error"

	// KindAction reports a registered action handler failure.
	KindAction Kind = "action_error"

	// KindCheckpoint reports a checkpoint store failure on load or save.
	KindCheckpoint Kind = "checkpoint_error"

	// KindStepBudget reports that a single turn executed more subgraph
	// steps than allowed, typically a cyclic jump without progress.
	KindStepBudget Kind = "step_budget_exhausted"

	// KindTurnBudget reports pathological push/pop oscillation: the
	// orchestrator dispatched more subgraph executions than the per-turn
	// cap allows.
	KindTurnBudget Kind = "turn_budget_exhausted"
)

// Error is a structured runtime failure. Flow and Step are populated when the
// failure is attributable to a specific flow definition or step; Cause links
// the underlying error for errors.Is/As.
type Error struct {
	// Kind is the stable failure class.
	Kind Kind
	// Flow names the flow involved, when known.
	Flow string
	// Step names the step involved, when known.
	Step string
	// Reason is the human-readable summary of the failure.
	Reason string
	// Cause links the underlying error, if any.
	Cause error
}

// New constructs an Error of the given kind.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Newf constructs an Error of the given kind with a formatted reason.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error of the given kind around an underlying cause.
// When reason is empty the cause's message is used.
func Wrap(kind Kind, reason string, cause error) *Error {
	if reason == "" && cause != nil {
		reason = cause.Error()
	}
	return &Error{Kind: kind, Reason: reason, Cause: cause}
}

// Definition constructs a flow_definition_error pinned to a flow and step.
// Step may be empty for flow-level failures.
func Definition(flow, step, reason string) *Error {
	return &Error{Kind: KindFlowDefinition, Flow: flow, Step: step, Reason: reason}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Flow != "" && e.Step != "":
		return fmt.Sprintf("%s: flow %q step %q: %s", e.Kind, e.Flow, e.Step, e.Reason)
	case e.Flow != "":
		return fmt.Sprintf("%s: flow %q: %s", e.Kind, e.Flow, e.Reason)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
}

// Unwrap returns the underlying cause to support errors.Is/As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// KindOf extracts the Kind from err, unwrapping as needed. It returns the
// empty Kind when err carries no classification.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// HasKind reports whether err carries the given kind anywhere in its chain.
func HasKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
