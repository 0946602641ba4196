package flow

type (
	// Set holds the compiled subgraphs of one Compile call, keyed by
	// flow name. Read-only after compilation.
	Set struct {
		flows map[string]*Subgraph
		names []string
	}

	// Subgraph is one compiled flow: its declared slots and outputs,
	// its step nodes, and the id of the initial step.
	Subgraph struct {
		name        string
		description string
		start       string
		steps       map[string]*Step
		order       map[string]int // step id to declaration index
		slots       map[string]SlotSpec
		slotOrder   []string
		validators  map[string]Validator // effective validator per slot, nil entries allowed
		outputs     []string
		actions     []string
		collectFor  map[string]string // slot name to the id of its collect step
	}

	// Step is one compiled node. Kind selects which node payload is
	// set; Next resolves outgoing edges by routing tag.
	Step struct {
		id    string
		kind  Kind
		edges map[Tag]string

		collect *CollectNode
		say     *SayNode
		inform  *InformNode
		confirm *ConfirmNode
		action  *ActionNode
		branch  *BranchNode
		while   *WhileNode
		jump    *JumpNode
		end     *EndNode
	}

	// CollectNode requests a value for Slot, prompting with Prompt and
	// checking supplied values with Validate (nil when the slot has no
	// validator beyond its type).
	CollectNode struct {
		Slot     SlotSpec
		Prompt   string
		Validate Validator
	}

	// SayNode renders Template and continues.
	SayNode struct {
		Template string
	}

	// InformNode delivers Template; with WaitForAck the flow suspends
	// until the user responds.
	InformNode struct {
		Template   string
		WaitForAck bool
	}

	// ConfirmNode asks Template as a yes/no question and suspends.
	ConfirmNode struct {
		Template string
	}

	// ActionNode invokes the named handler. Inputs maps handler input
	// keys to slot names. Outputs maps handler output keys to the slot
	// or instance output they are written to.
	ActionNode struct {
		Name    string
		Inputs  map[string]string
		Outputs map[string]string
	}

	// BranchNode routes on the value of Slot: the matching case key
	// wins, otherwise Default (empty when the cases are exhaustive).
	BranchNode struct {
		Slot    string
		Cases   map[string]string
		Default string
	}

	// WhileNode re-evaluates Condition before each iteration. Source
	// preserves the authored condition text for diagnostics.
	WhileNode struct {
		Condition Condition
		Source    string
	}

	// JumpNode transfers control to Target.
	JumpNode struct {
		Target string
	}

	// EndNode terminates the flow. Outputs maps declared output names
	// to the slots they read from; an empty value reads the same-named
	// slot, falling back to whatever an action wrote to the instance
	// outputs.
	EndNode struct {
		Outputs map[string]string
	}
)

// Flow returns the compiled subgraph for name.
func (s *Set) Flow(name string) (*Subgraph, bool) {
	g, ok := s.flows[name]
	return g, ok
}

// Names returns the flow names in definition order.
func (s *Set) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Len returns the number of compiled flows.
func (s *Set) Len() int { return len(s.flows) }

// Name returns the flow name.
func (g *Subgraph) Name() string { return g.name }

// Description returns the authored flow description.
func (g *Subgraph) Description() string { return g.description }

// Start returns the id of the initial step.
func (g *Subgraph) Start() string { return g.start }

// Step returns the node with the given id.
func (g *Subgraph) Step(id string) (*Step, bool) {
	st, ok := g.steps[id]
	return st, ok
}

// StepIndex returns the declaration index of a step id, or -1 when the
// id is unknown. Indices order steps for rewind decisions.
func (g *Subgraph) StepIndex(id string) int {
	i, ok := g.order[id]
	if !ok {
		return -1
	}
	return i
}

// Slots returns the declared slots in declaration order.
func (g *Subgraph) Slots() []SlotSpec {
	out := make([]SlotSpec, 0, len(g.slotOrder))
	for _, name := range g.slotOrder {
		out = append(out, g.slots[name])
	}
	return out
}

// Slot returns the declaration of a single slot.
func (g *Subgraph) Slot(name string) (SlotSpec, bool) {
	spec, ok := g.slots[name]
	return spec, ok
}

// Outputs returns the declared output names.
func (g *Subgraph) Outputs() []string {
	out := make([]string, len(g.outputs))
	copy(out, g.outputs)
	return out
}

// Actions returns the distinct action names the flow's steps invoke,
// in first-reference order.
func (g *Subgraph) Actions() []string {
	out := make([]string, len(g.actions))
	copy(out, g.actions)
	return out
}

// CollectStep returns the id of the collect step for a slot, used to
// rewind after corrections and denials.
func (g *Subgraph) CollectStep(slot string) (string, bool) {
	id, ok := g.collectFor[slot]
	return id, ok
}

// ValidateSlot coerces raw to the slot's declared type and runs the
// slot's effective validator. It returns the stored form of the value.
// The returned error describes the rejection in user-presentable terms.
func (g *Subgraph) ValidateSlot(name string, raw any) (any, error) {
	spec, ok := g.slots[name]
	if !ok {
		return nil, errUnknownSlot(g.name, name)
	}
	value, err := CoerceValue(spec, raw)
	if err != nil {
		return nil, err
	}
	if v := g.validators[name]; v != nil {
		if err := v.Validate(value); err != nil {
			return nil, err
		}
	}
	return value, nil
}

// ID returns the step id.
func (s *Step) ID() string { return s.id }

// Kind returns the step variant.
func (s *Step) Kind() Kind { return s.kind }

// Next resolves the outgoing edge for a routing tag.
func (s *Step) Next(tag Tag) (string, bool) {
	id, ok := s.edges[tag]
	return id, ok
}

// Collect returns the collect payload, nil for other kinds.
func (s *Step) Collect() *CollectNode { return s.collect }

// Say returns the say payload, nil for other kinds.
func (s *Step) Say() *SayNode { return s.say }

// Inform returns the inform payload, nil for other kinds.
func (s *Step) Inform() *InformNode { return s.inform }

// Confirm returns the confirm payload, nil for other kinds.
func (s *Step) Confirm() *ConfirmNode { return s.confirm }

// Action returns the action payload, nil for other kinds.
func (s *Step) Action() *ActionNode { return s.action }

// Branch returns the branch payload, nil for other kinds.
func (s *Step) Branch() *BranchNode { return s.branch }

// While returns the while payload, nil for other kinds.
func (s *Step) While() *WhileNode { return s.while }

// Jump returns the jump payload, nil for other kinds.
func (s *Step) Jump() *JumpNode { return s.jump }

// End returns the end payload, nil for other kinds.
func (s *Step) End() *EndNode { return s.end }
