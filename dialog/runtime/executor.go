package runtime

import (
	"context"
	"fmt"
	"sort"

	"github.com/flowdial/flowdial/dialog/conversation"
	"github.com/flowdial/flowdial/dialog/dialogerr"
	"github.com/flowdial/flowdial/dialog/flow"
)

// stepResult reports how one step left the flow: continue to next,
// suspend the turn, or complete the instance.
type stepResult struct {
	next      string
	suspended bool
	completed bool
}

// runSubgraph executes the active instance from its checkpointed step
// until it suspends, completes, or exhausts the step budget. A flow
// failure with no recovery edge pops the instance with an error status
// instead of failing the turn; the parent, if any, resumes.
func (t *turn) runSubgraph(ctx context.Context, fc conversation.FlowContext) error {
	g, ok := t.r.flows.Flow(fc.Flow)
	if !ok {
		// The stored conversation references a flow this deployment
		// no longer knows. Drop the instance and keep the
		// conversation alive.
		t.r.log.Error(ctx, "active flow not in flow set", "user_key", t.userKey, "flow", fc.Flow)
		return t.failFlow(ctx, dialogerr.KindUnknownFlow)
	}
	stepID := fc.Step
	if stepID == "" {
		stepID = g.Start()
	}
	for {
		t.steps++
		if t.steps > t.r.stepBudget {
			return dialogerr.Newf(dialogerr.KindStepBudget, "%d steps in one turn", t.steps)
		}
		step, ok := g.Step(stepID)
		if !ok {
			t.r.log.Error(ctx, "checkpointed step not in flow", "user_key", t.userKey, "flow", fc.Flow, "step", stepID)
			return t.failFlow(ctx, dialogerr.KindFlowDefinition)
		}
		if err := t.moveTo(stepID); err != nil {
			return err
		}
		res, err := t.executeStep(ctx, g, step)
		if err != nil {
			return err
		}
		if res.suspended || res.completed {
			return nil
		}
		stepID = res.next
	}
}

// moveTo advances the active instance's step marker. Marker moves emit
// no events.
func (t *turn) moveTo(stepID string) error {
	fc, ok := conversation.Active(t.view)
	if !ok || fc.Step == stepID {
		return nil
	}
	d, err := t.r.mgr.UpdateStep(t.view, stepID)
	if err != nil {
		return err
	}
	t.merge(d)
	return nil
}

func (t *turn) executeStep(ctx context.Context, g *flow.Subgraph, step *flow.Step) (stepResult, error) {
	switch step.Kind() {
	case flow.KindCollect:
		return t.stepCollect(ctx, g, step)
	case flow.KindSay:
		return t.stepSay(ctx, g, step)
	case flow.KindInform:
		return t.stepInform(ctx, g, step)
	case flow.KindConfirm:
		return t.stepConfirm(ctx, g, step)
	case flow.KindAction:
		return t.stepAction(ctx, g, step)
	case flow.KindBranch:
		return t.stepBranch(ctx, g, step)
	case flow.KindWhile:
		return t.stepWhile(ctx, g, step)
	case flow.KindJump:
		return stepResult{next: step.Jump().Target}, nil
	case flow.KindEnd:
		return t.stepEnd(ctx, g, step)
	default:
		return stepResult{}, dialogerr.Definition(g.Name(), step.ID(), fmt.Sprintf("unknown step kind %q", step.Kind()))
	}
}

// stepCollect suspends on the slot's prompt unless a command already
// filled it this turn, in which case the step is a no-op.
func (t *turn) stepCollect(ctx context.Context, g *flow.Subgraph, step *flow.Step) (stepResult, error) {
	node := step.Collect()
	if conversation.SlotFilled(t.view, node.Slot.Name) {
		return t.follow(ctx, g, step, flow.TagDone)
	}
	prompt := flow.Render(node.Prompt, conversation.ActiveSlots(t.view))
	t.await(conversation.Awaiting{Kind: conversation.AwaitCollect, Slot: node.Slot.Name, Prompt: prompt})
	if err := t.say(ctx, prompt); err != nil {
		return stepResult{}, err
	}
	return stepResult{suspended: true}, nil
}

func (t *turn) stepSay(ctx context.Context, g *flow.Subgraph, step *flow.Step) (stepResult, error) {
	if err := t.say(ctx, flow.Render(step.Say().Template, conversation.ActiveSlots(t.view))); err != nil {
		return stepResult{}, err
	}
	return t.follow(ctx, g, step, flow.TagDone)
}

func (t *turn) stepInform(ctx context.Context, g *flow.Subgraph, step *flow.Step) (stepResult, error) {
	node := step.Inform()
	text := flow.Render(node.Template, conversation.ActiveSlots(t.view))
	if err := t.say(ctx, text); err != nil {
		return stepResult{}, err
	}
	if node.WaitForAck {
		t.await(conversation.Awaiting{Kind: conversation.AwaitInformAck, Prompt: text})
		return stepResult{suspended: true}, nil
	}
	return t.follow(ctx, g, step, flow.TagDone)
}

func (t *turn) stepConfirm(ctx context.Context, g *flow.Subgraph, step *flow.Step) (stepResult, error) {
	prompt := flow.Render(step.Confirm().Template, conversation.ActiveSlots(t.view))
	if err := t.say(ctx, prompt); err != nil {
		return stepResult{}, err
	}
	t.await(conversation.Awaiting{Kind: conversation.AwaitConfirm, Prompt: prompt})
	return stepResult{suspended: true}, nil
}

// stepAction invokes the registered handler with inputs read from
// slots and writes its outputs to slots or flow outputs. A handler
// failure follows the action_error edge when the flow declares one.
func (t *turn) stepAction(ctx context.Context, g *flow.Subgraph, step *flow.Step) (stepResult, error) {
	node := step.Action()
	inputs := make(map[string]any, len(node.Inputs))
	for key, slot := range node.Inputs {
		value, _ := conversation.SlotValue(t.view, slot)
		inputs[key] = value
	}
	outputs, err := t.r.actions.Invoke(ctx, node.Name, inputs)
	if err != nil {
		t.r.log.Warn(ctx, "action failed",
			"user_key", t.userKey, "flow", g.Name(), "step", step.ID(), "action", node.Name, "err", err)
		t.r.met.IncCounter("dialog.actions.failed", 1, "action", node.Name)
		if next, ok := step.Next(flow.TagActionError); ok {
			return stepResult{next: next}, nil
		}
		return t.failStep(ctx, dialogerr.KindAction)
	}
	for _, key := range sortedKeys(node.Outputs) {
		value, ok := outputs[key]
		if !ok {
			continue
		}
		dest := node.Outputs[key]
		var d conversation.Delta
		if _, isSlot := g.Slot(dest); isSlot {
			d, err = t.r.mgr.SetSlot(t.view, dest, value)
		} else {
			d, err = t.r.mgr.SetOutput(t.view, dest, value)
		}
		if err != nil {
			return stepResult{}, err
		}
		if err := t.apply(ctx, d); err != nil {
			return stepResult{}, err
		}
	}
	return t.follow(ctx, g, step, flow.TagDone)
}

func (t *turn) stepBranch(ctx context.Context, g *flow.Subgraph, step *flow.Step) (stepResult, error) {
	node := step.Branch()
	value, _ := conversation.SlotValue(t.view, node.Slot)
	if value != nil {
		if next, ok := node.Cases[branchKey(value)]; ok {
			return stepResult{next: next}, nil
		}
	}
	if node.Default != "" {
		return stepResult{next: node.Default}, nil
	}
	t.r.log.Error(ctx, "branch unroutable",
		"user_key", t.userKey, "flow", g.Name(), "step", step.ID(), "slot", node.Slot, "value", value)
	return t.failStep(ctx, dialogerr.KindFlowDefinition)
}

func (t *turn) stepWhile(ctx context.Context, g *flow.Subgraph, step *flow.Step) (stepResult, error) {
	node := step.While()
	holds, err := node.Condition(conversation.ActiveSlots(t.view))
	if err != nil {
		t.r.log.Error(ctx, "while condition failed",
			"user_key", t.userKey, "flow", g.Name(), "step", step.ID(), "err", err)
		return t.failStep(ctx, dialogerr.KindFlowDefinition)
	}
	if holds {
		return t.follow(ctx, g, step, flow.TagBody)
	}
	return t.follow(ctx, g, step, flow.TagDone)
}

// stepEnd pops the instance as completed. Declared outputs are read
// from slots; outputs already written on the instance by action steps
// ride along into the archive.
func (t *turn) stepEnd(ctx context.Context, g *flow.Subgraph, step *flow.Step) (stepResult, error) {
	node := step.End()
	outputs := make(map[string]any, len(node.Outputs))
	for name, source := range node.Outputs {
		if source == "" {
			continue
		}
		if value, ok := conversation.SlotValue(t.view, source); ok && value != nil {
			outputs[name] = value
		}
	}
	if len(outputs) == 0 {
		outputs = nil
	}
	d, err := t.r.mgr.PopFlow(t.view, outputs, conversation.StatusCompleted)
	if err != nil {
		return stepResult{}, err
	}
	if err := t.apply(ctx, d); err != nil {
		return stepResult{}, err
	}
	return stepResult{completed: true}, nil
}

// follow resolves the tagged edge of step. The compiler guarantees one
// exists for every reachable tag, so a miss means the stored state and
// the flow set have drifted apart; the instance is dropped.
func (t *turn) follow(ctx context.Context, g *flow.Subgraph, step *flow.Step, tag flow.Tag) (stepResult, error) {
	next, ok := step.Next(tag)
	if !ok {
		t.r.log.Error(ctx, "missing edge",
			"user_key", t.userKey, "flow", g.Name(), "step", step.ID(), "tag", string(tag))
		return t.failStep(ctx, dialogerr.KindFlowDefinition)
	}
	return stepResult{next: next}, nil
}

// failStep ends the subgraph run by failing the flow.
func (t *turn) failStep(ctx context.Context, kind dialogerr.Kind) (stepResult, error) {
	if err := t.failFlow(ctx, kind); err != nil {
		return stepResult{}, err
	}
	return stepResult{completed: true}, nil
}

// failFlow pops the active instance with an error status and sends the
// configured apology. The turn itself carries on.
func (t *turn) failFlow(ctx context.Context, kind dialogerr.Kind) error {
	d, err := t.r.mgr.PopFlow(t.view, nil, conversation.StatusError)
	if err != nil {
		return err
	}
	if err := t.apply(ctx, d); err != nil {
		return err
	}
	t.merge(conversation.SetLastError(string(kind)))
	return t.say(ctx, flow.Render(t.r.fallbacks.ActionError, conversation.ActiveSlots(t.view)))
}

// branchKey normalizes a slot value for case lookup.
func branchKey(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		if v {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", v)
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
