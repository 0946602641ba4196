package conversation

import (
	"github.com/flowdial/flowdial/dialog/flow"
)

// SlotScope describes one declared slot of the active flow for the
// understanding context: its name, type, and whether a value is
// already stored for the active instance.
type SlotScope struct {
	Name   string        `json:"name"`
	Type   flow.SlotType `json:"type"`
	Filled bool          `json:"is_filled"`
}

// PatternActions are always in scope regardless of the active flow:
// the conversation patterns the understanding layer may invoke at any
// point.
var PatternActions = []string{"start_flow", "cancel_flow", "clarify", "human_handoff"}

// InScopeSlots returns the active flow's declared slots in declaration
// order, each marked filled when the active instance holds a value.
// Idle conversations have no slots in scope.
func InScopeSlots(s *State, flows *flow.Set) []SlotScope {
	fc, ok := Active(s)
	if !ok {
		return nil
	}
	g, ok := flows.Flow(fc.Flow)
	if !ok {
		return nil
	}
	scope := s.Slots[fc.ID]
	specs := g.Slots()
	out := make([]SlotScope, 0, len(specs))
	for _, spec := range specs {
		t := spec.Type
		if t == "" {
			t = flow.SlotString
		}
		value, ok := scope[spec.Name]
		out = append(out, SlotScope{Name: spec.Name, Type: t, Filled: ok && value != nil})
	}
	return out
}

// InScopeActions returns the action names the active flow's steps
// reference plus the always-available pattern actions. Idle
// conversations see only the patterns.
func InScopeActions(s *State, flows *flow.Set) []string {
	out := make([]string, 0, len(PatternActions)+4)
	if fc, ok := Active(s); ok {
		if g, ok := flows.Flow(fc.Flow); ok {
			out = append(out, g.Actions()...)
		}
	}
	return append(out, PatternActions...)
}
