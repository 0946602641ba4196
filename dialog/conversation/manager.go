package conversation

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flowdial/flowdial/dialog/dialogerr"
)

type (
	// ManagerOptions configures a Manager. All fields are optional.
	ManagerOptions struct {
		// NewID mints flow instance ids. Defaults to random UUIDs.
		// Inject a counter in tests for reproducible ids.
		NewID func() string
		// Now supplies timestamps. Defaults to time.Now in UTC.
		Now func() time.Time
	}

	// Manager exposes the blessed mutations of flow structure. Every
	// operation reads the given state and returns a Delta; none of
	// them mutate their input. Read-only queries live as package
	// functions (Active, SlotValue, ActiveSlots).
	Manager struct {
		newID func() string
		now   func() time.Time
	}
)

// NewManager builds a Manager, applying defaults for unset options.
func NewManager(opts ManagerOptions) *Manager {
	m := &Manager{newID: opts.NewID, now: opts.Now}
	if m.newID == nil {
		m.newID = uuid.NewString
	}
	if m.now == nil {
		m.now = func() time.Time { return time.Now().UTC() }
	}
	return m
}

// Active returns a copy of the active instance: the top of the stack,
// when its status is active.
func Active(s *State) (FlowContext, bool) {
	if len(s.Stack) == 0 {
		return FlowContext{}, false
	}
	top := s.Stack[len(s.Stack)-1]
	if top.Status != StatusActive {
		return FlowContext{}, false
	}
	return cloneContext(top), true
}

// SlotValue reads a slot from the active instance's scope.
func SlotValue(s *State, name string) (any, bool) {
	fc, ok := Active(s)
	if !ok {
		return nil, false
	}
	value, ok := s.Slots[fc.ID][name]
	return value, ok
}

// SlotFilled reports whether the active instance holds a value for the
// slot. A nil value counts as unfilled: clearing a slot to nil is how
// denials and corrections force a collect step to re-ask.
func SlotFilled(s *State, name string) bool {
	value, ok := SlotValue(s, name)
	return ok && value != nil
}

// ActiveSlots returns a copy of the active instance's slot scope, nil
// when no instance is active.
func ActiveSlots(s *State) map[string]any {
	fc, ok := Active(s)
	if !ok {
		return nil
	}
	return SlotsOf(s, fc.ID)
}

// SlotsOf returns a copy of an instance's slot scope, nil when the
// instance holds no slots.
func SlotsOf(s *State, instanceID string) map[string]any {
	slots := s.Slots[instanceID]
	if len(slots) == 0 {
		return nil
	}
	out := make(map[string]any, len(slots))
	for name, value := range slots {
		out[name] = value
	}
	return out
}

// PushFlow starts a new instance of the named flow: the currently
// active instance, if any, pauses underneath it, and the new
// instance's slot scope is seeded with the provided inputs.
func (m *Manager) PushFlow(s *State, flowName string, inputs map[string]any) Delta {
	now := m.now()
	stack := cloneContexts(s.Stack)
	if n := len(stack); n > 0 && stack[n-1].Status == StatusActive {
		paused := now
		stack[n-1].Status = StatusPaused
		stack[n-1].PausedAt = &paused
		stack[n-1].Note = fmt.Sprintf("paused while %s runs", flowName)
	}
	id := m.newID()
	stack = append(stack, FlowContext{
		ID:        id,
		Flow:      flowName,
		Status:    StatusActive,
		StartedAt: now,
	})
	d := Delta{Stack: stack, StackSet: true}
	if len(inputs) > 0 {
		seeded := make(map[string]any, len(inputs))
		for name, value := range inputs {
			seeded[name] = value
		}
		d.Slots = map[string]map[string]any{id: seeded}
	}
	return d
}

// PopFlow terminates the top instance with the given result, merges
// outputs into it, moves it to the archive, and reactivates the
// instance below, if any. The instance's slots stay in the heap until
// the archive entry is pruned.
func (m *Manager) PopFlow(s *State, outputs map[string]any, result Status) (Delta, error) {
	if len(s.Stack) == 0 {
		return Delta{}, dialogerr.New(dialogerr.KindNoActiveFlow, "pop with empty flow stack")
	}
	if !result.Terminal() {
		return Delta{}, fmt.Errorf("pop with non-terminal status %q", result)
	}
	now := m.now()
	stack := cloneContexts(s.Stack)
	top := stack[len(stack)-1]
	stack = stack[:len(stack)-1]

	ended := now
	top.Status = result
	top.EndedAt = &ended
	if len(outputs) > 0 {
		if top.Outputs == nil {
			top.Outputs = make(map[string]any, len(outputs))
		}
		for name, value := range outputs {
			top.Outputs[name] = value
		}
	}
	if n := len(stack); n > 0 {
		stack[n-1].Status = StatusActive
		stack[n-1].PausedAt = nil
		stack[n-1].Note = ""
	}
	return Delta{Stack: stack, StackSet: true, Archive: []FlowContext{top}}, nil
}

// SetSlot writes a value into the active instance's slot scope.
func (m *Manager) SetSlot(s *State, name string, value any) (Delta, error) {
	fc, ok := Active(s)
	if !ok {
		return Delta{}, dialogerr.New(dialogerr.KindNoActiveFlow, fmt.Sprintf("set slot %q with no active flow", name))
	}
	return Delta{Slots: map[string]map[string]any{fc.ID: {name: value}}}, nil
}

// UpdateStep moves the active instance to the given step id.
func (m *Manager) UpdateStep(s *State, stepID string) (Delta, error) {
	if _, ok := Active(s); !ok {
		return Delta{}, dialogerr.New(dialogerr.KindNoActiveFlow, "update step with no active flow")
	}
	stack := cloneContexts(s.Stack)
	stack[len(stack)-1].Step = stepID
	return Delta{Stack: stack, StackSet: true}, nil
}

// SetOutput writes a value into the active instance's outputs, where it
// stays until the instance pops and carries it into the archive. Action
// steps use this for results that are flow outputs rather than slots.
func (m *Manager) SetOutput(s *State, name string, value any) (Delta, error) {
	if _, ok := Active(s); !ok {
		return Delta{}, dialogerr.New(dialogerr.KindNoActiveFlow, fmt.Sprintf("set output %q with no active flow", name))
	}
	stack := cloneContexts(s.Stack)
	top := &stack[len(stack)-1]
	if top.Outputs == nil {
		top.Outputs = make(map[string]any, 1)
	}
	top.Outputs[name] = value
	return Delta{Stack: stack, StackSet: true}, nil
}
