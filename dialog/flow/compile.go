package flow

import (
	"fmt"

	"github.com/flowdial/flowdial/dialog/dialogerr"
)

// ActionSpec is the compiler's view of a registered action: its name
// and the input and output keys its handler declares.
type ActionSpec struct {
	Name    string
	Inputs  []string
	Outputs []string
}

// Compile validates a set of flow definitions against the registered
// validators and action signatures and materializes each flow as a
// compiled subgraph. It checks that:
//
//   - every edge target names a step that exists within its flow,
//   - branch cases cover the slot's enum values or declare a default,
//   - every collect references a declared slot and a known validator,
//   - every action is registered and its input mapping matches the
//     handler's declared input keys,
//   - every step that continues has a continuation, explicit or by
//     declaration order.
//
// Any violation returns a flow definition error naming the flow, the
// step and the reason. Compilation is pure and runs once at startup;
// the returned Set is read-only.
func Compile(defs []Definition, validators *Validators, actions map[string]ActionSpec) (*Set, error) {
	if validators == nil {
		validators = NewValidators()
	}
	set := &Set{flows: make(map[string]*Subgraph, len(defs))}
	for _, def := range defs {
		if def.Name == "" {
			return nil, dialogerr.Definition("", "", "flow name is required")
		}
		if _, dup := set.flows[def.Name]; dup {
			return nil, dialogerr.Definition(def.Name, "", "duplicate flow name")
		}
		g, err := compileFlow(def, validators, actions)
		if err != nil {
			return nil, err
		}
		set.flows[def.Name] = g
		set.names = append(set.names, def.Name)
	}
	return set, nil
}

func compileFlow(def Definition, validators *Validators, actions map[string]ActionSpec) (*Subgraph, error) {
	fail := func(step, reason string) error {
		return dialogerr.Definition(def.Name, step, reason)
	}

	g := &Subgraph{
		name:        def.Name,
		description: def.Description,
		steps:       make(map[string]*Step, len(def.Steps)),
		order:       make(map[string]int, len(def.Steps)),
		slots:       make(map[string]SlotSpec, len(def.Slots)),
		validators:  make(map[string]Validator, len(def.Slots)),
		collectFor:  make(map[string]string),
	}

	// Slot declarations and their base validators.
	for _, spec := range def.Slots {
		if spec.Name == "" {
			return nil, fail("", "slot name is required")
		}
		if _, dup := g.slots[spec.Name]; dup {
			return nil, fail("", fmt.Sprintf("duplicate slot %q", spec.Name))
		}
		switch effectiveType(spec) {
		case SlotString, SlotNumber, SlotBoolean, SlotDate:
		case SlotEnum:
			if len(spec.Values) == 0 {
				return nil, fail("", fmt.Sprintf("enum slot %q declares no values", spec.Name))
			}
		case SlotStructured:
		default:
			return nil, fail("", fmt.Sprintf("slot %q has unknown type %q", spec.Name, spec.Type))
		}
		base, err := slotValidator(spec, validators)
		if err != nil {
			return nil, fail("", err.Error())
		}
		g.slots[spec.Name] = spec
		g.slotOrder = append(g.slotOrder, spec.Name)
		g.validators[spec.Name] = base
	}

	for _, name := range def.Outputs {
		if name == "" {
			return nil, fail("", "output name is required")
		}
		for _, seen := range g.outputs {
			if seen == name {
				return nil, fail("", fmt.Sprintf("duplicate output %q", name))
			}
		}
		g.outputs = append(g.outputs, name)
	}

	if len(def.Steps) == 0 {
		return nil, fail("", "flow has no steps")
	}

	// First pass: ids, variants and declaration order.
	for i, sd := range def.Steps {
		if sd.ID == "" {
			return nil, fail("", fmt.Sprintf("step %d has no id", i))
		}
		if _, dup := g.order[sd.ID]; dup {
			return nil, fail(sd.ID, "duplicate step id")
		}
		if _, n := sd.kind(); n != 1 {
			return nil, fail(sd.ID, fmt.Sprintf("step must have exactly one variant, has %d", n))
		}
		g.order[sd.ID] = i
	}

	// Second pass: per-step compilation with edge resolution.
	for i := range def.Steps {
		st, err := compileStep(def, i, g, validators, actions)
		if err != nil {
			return nil, err
		}
		g.steps[st.id] = st
	}

	g.start = def.Start
	if g.start == "" {
		g.start = def.Steps[0].ID
	}
	if _, ok := g.order[g.start]; !ok {
		return nil, fail("", fmt.Sprintf("start step %q does not exist", g.start))
	}
	return g, nil
}

func compileStep(def Definition, i int, g *Subgraph, validators *Validators, actions map[string]ActionSpec) (*Step, error) {
	sd := def.Steps[i]
	fail := func(reason string) error {
		return dialogerr.Definition(def.Name, sd.ID, reason)
	}
	target := func(id string) (string, error) {
		if _, ok := g.order[id]; !ok {
			return "", fail(fmt.Sprintf("edge target %q does not exist", id))
		}
		return id, nil
	}
	// seqNext resolves the done edge: the explicit next if declared,
	// otherwise the step that follows in declaration order.
	seqNext := func() (string, error) {
		if sd.Next != "" {
			return target(sd.Next)
		}
		if i+1 < len(def.Steps) {
			return def.Steps[i+1].ID, nil
		}
		return "", fail("step has no continuation; declare next or end the flow")
	}

	kind, _ := sd.kind()
	st := &Step{id: sd.ID, kind: kind, edges: make(map[Tag]string)}

	if sd.OnError != "" && kind != KindAction {
		return nil, fail("on_error applies to action steps only")
	}
	if sd.OnDeny != "" && kind != KindConfirm {
		return nil, fail("on_deny applies to confirm steps only")
	}
	if sd.Next != "" && (kind == KindBranch || kind == KindJump || kind == KindEnd) {
		return nil, fail(fmt.Sprintf("%s steps do not take a next edge", kind))
	}

	switch kind {
	case KindCollect:
		spec, ok := g.slots[sd.Collect.Slot]
		if !ok {
			return nil, fail(fmt.Sprintf("collect references undeclared slot %q", sd.Collect.Slot))
		}
		prompt := sd.Collect.Prompt
		if prompt == "" {
			prompt = spec.Prompt
		}
		if prompt == "" {
			return nil, fail(fmt.Sprintf("no prompt for slot %q", spec.Name))
		}
		validate := g.validators[spec.Name]
		if sd.Collect.Validator != "" {
			override, ok := validators.Lookup(sd.Collect.Validator)
			if !ok {
				return nil, fail(fmt.Sprintf("unknown validator %q", sd.Collect.Validator))
			}
			if prior, seen := g.collectFor[spec.Name]; seen {
				return nil, fail(fmt.Sprintf("slot %q is already collected at step %q; validator overrides go on the first collect", spec.Name, prior))
			}
			validate = override
			g.validators[spec.Name] = override
		}
		if _, seen := g.collectFor[spec.Name]; !seen {
			g.collectFor[spec.Name] = sd.ID
		}
		st.collect = &CollectNode{Slot: spec, Prompt: prompt, Validate: validate}
		next, err := seqNext()
		if err != nil {
			return nil, err
		}
		st.edges[TagDone] = next

	case KindSay:
		if sd.Say.Template == "" {
			return nil, fail("say step has no template")
		}
		st.say = &SayNode{Template: sd.Say.Template}
		next, err := seqNext()
		if err != nil {
			return nil, err
		}
		st.edges[TagDone] = next

	case KindInform:
		if sd.Inform.Template == "" {
			return nil, fail("inform step has no template")
		}
		st.inform = &InformNode{Template: sd.Inform.Template, WaitForAck: sd.Inform.WaitForAck}
		next, err := seqNext()
		if err != nil {
			return nil, err
		}
		st.edges[TagDone] = next

	case KindConfirm:
		if sd.Confirm.Template == "" {
			return nil, fail("confirm step has no template")
		}
		st.confirm = &ConfirmNode{Template: sd.Confirm.Template}
		next, err := seqNext()
		if err != nil {
			return nil, err
		}
		st.edges[TagDone] = next
		if sd.OnDeny != "" {
			deny, err := target(sd.OnDeny)
			if err != nil {
				return nil, err
			}
			st.edges[TagDenied] = deny
		}

	case KindAction:
		node, err := compileAction(def.Name, sd, g, actions)
		if err != nil {
			return nil, err
		}
		st.action = node
		if !containsString(g.actions, node.Name) {
			g.actions = append(g.actions, node.Name)
		}
		next, err := seqNext()
		if err != nil {
			return nil, err
		}
		st.edges[TagDone] = next
		if sd.OnError != "" {
			onErr, err := target(sd.OnError)
			if err != nil {
				return nil, err
			}
			st.edges[TagActionError] = onErr
		}

	case KindBranch:
		node, err := compileBranch(def.Name, sd, g)
		if err != nil {
			return nil, err
		}
		st.branch = node

	case KindWhile:
		if sd.While.Body == "" {
			return nil, fail("while step has no body")
		}
		body, err := target(sd.While.Body)
		if err != nil {
			return nil, err
		}
		cond, slot, err := compileCondition(sd.While.Condition)
		if err != nil {
			return nil, fail(fmt.Sprintf("condition: %s", err))
		}
		if _, ok := g.slots[slot]; !ok {
			return nil, fail(fmt.Sprintf("condition references undeclared slot %q", slot))
		}
		st.while = &WhileNode{Condition: cond, Source: sd.While.Condition}
		st.edges[TagBody] = body
		next, err := seqNext()
		if err != nil {
			return nil, err
		}
		st.edges[TagDone] = next

	case KindJump:
		if sd.Jump.Target == "" {
			return nil, fail("jump step has no target")
		}
		to, err := target(sd.Jump.Target)
		if err != nil {
			return nil, err
		}
		st.jump = &JumpNode{Target: to}

	case KindEnd:
		node, err := compileEnd(def.Name, sd, g)
		if err != nil {
			return nil, err
		}
		st.end = node
	}

	return st, nil
}

func compileAction(flowName string, sd StepDef, g *Subgraph, actions map[string]ActionSpec) (*ActionNode, error) {
	fail := func(reason string) error {
		return dialogerr.Definition(flowName, sd.ID, reason)
	}
	if sd.Action.Name == "" {
		return nil, fail("action step has no handler name")
	}
	spec, ok := actions[sd.Action.Name]
	if !ok {
		return nil, fail(fmt.Sprintf("unknown action %q", sd.Action.Name))
	}

	inputs := make(map[string]string, len(sd.Action.Inputs))
	for key, slot := range sd.Action.Inputs {
		if slot == "" {
			slot = key
		}
		if !containsString(spec.Inputs, key) {
			return nil, fail(fmt.Sprintf("action %q declares no input %q", spec.Name, key))
		}
		if _, ok := g.slots[slot]; !ok {
			return nil, fail(fmt.Sprintf("input %q reads undeclared slot %q", key, slot))
		}
		inputs[key] = slot
	}
	for _, key := range spec.Inputs {
		if _, ok := inputs[key]; !ok {
			return nil, fail(fmt.Sprintf("action %q input %q is not mapped", spec.Name, key))
		}
	}

	outputs := make(map[string]string, len(sd.Action.Outputs))
	for key, dest := range sd.Action.Outputs {
		if dest == "" {
			dest = key
		}
		if !containsString(spec.Outputs, key) {
			return nil, fail(fmt.Sprintf("action %q declares no output %q", spec.Name, key))
		}
		_, isSlot := g.slots[dest]
		if !isSlot && !containsString(g.outputs, dest) {
			return nil, fail(fmt.Sprintf("output %q writes to %q, which is neither a slot nor a flow output", key, dest))
		}
		outputs[key] = dest
	}

	return &ActionNode{Name: spec.Name, Inputs: inputs, Outputs: outputs}, nil
}

func compileBranch(flowName string, sd StepDef, g *Subgraph) (*BranchNode, error) {
	fail := func(reason string) error {
		return dialogerr.Definition(flowName, sd.ID, reason)
	}
	spec, ok := g.slots[sd.Branch.Slot]
	if !ok {
		return nil, fail(fmt.Sprintf("branch references undeclared slot %q", sd.Branch.Slot))
	}
	if len(sd.Branch.Cases) == 0 {
		return nil, fail("branch has no cases")
	}
	cases := make(map[string]string, len(sd.Branch.Cases))
	for value, to := range sd.Branch.Cases {
		if _, ok := g.order[to]; !ok {
			return nil, fail(fmt.Sprintf("case %q targets unknown step %q", value, to))
		}
		if effectiveType(spec) == SlotEnum && !containsString(spec.Values, value) {
			return nil, fail(fmt.Sprintf("case %q is not a value of enum slot %q", value, spec.Name))
		}
		cases[value] = to
	}
	if sd.Branch.Default != "" {
		if _, ok := g.order[sd.Branch.Default]; !ok {
			return nil, fail(fmt.Sprintf("default targets unknown step %q", sd.Branch.Default))
		}
	} else if effectiveType(spec) == SlotEnum {
		for _, value := range spec.Values {
			if _, ok := cases[value]; !ok {
				return nil, fail(fmt.Sprintf("enum value %q has no case and no default is declared", value))
			}
		}
	} else {
		return nil, fail(fmt.Sprintf("branch on non-enum slot %q requires a default", spec.Name))
	}
	return &BranchNode{Slot: spec.Name, Cases: cases, Default: sd.Branch.Default}, nil
}

func compileEnd(flowName string, sd StepDef, g *Subgraph) (*EndNode, error) {
	fail := func(reason string) error {
		return dialogerr.Definition(flowName, sd.ID, reason)
	}
	outputs := make(map[string]string, len(sd.End.Outputs))
	for name, slot := range sd.End.Outputs {
		if !containsString(g.outputs, name) {
			return nil, fail(fmt.Sprintf("end publishes undeclared output %q", name))
		}
		if slot == "" {
			// Shorthand: read the same-named slot when one exists,
			// otherwise pass through the value an action wrote.
			if _, ok := g.slots[name]; ok {
				slot = name
			}
		} else if _, ok := g.slots[slot]; !ok {
			return nil, fail(fmt.Sprintf("output %q reads undeclared slot %q", name, slot))
		}
		outputs[name] = slot
	}
	return &EndNode{Outputs: outputs}, nil
}

func slotValidator(spec SlotSpec, validators *Validators) (Validator, error) {
	var chain []Validator
	if spec.Validator != "" {
		v, ok := validators.Lookup(spec.Validator)
		if !ok {
			return nil, fmt.Errorf("slot %q references unknown validator %q", spec.Name, spec.Validator)
		}
		chain = append(chain, v)
	}
	if effectiveType(spec) == SlotStructured && len(spec.Schema) > 0 {
		v, err := compileSchema(spec.Name, spec.Schema)
		if err != nil {
			return nil, err
		}
		chain = append(chain, v)
	}
	switch len(chain) {
	case 0:
		return nil, nil
	case 1:
		return chain[0], nil
	default:
		return ValidatorFunc(func(value any) error {
			for _, v := range chain {
				if err := v.Validate(value); err != nil {
					return err
				}
			}
			return nil
		}), nil
	}
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
