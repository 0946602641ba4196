package command

import (
	"fmt"
	"strings"

	"github.com/flowdial/flowdial/dialog/conversation"
	"github.com/flowdial/flowdial/dialog/dialogerr"
	"github.com/flowdial/flowdial/dialog/flow"
)

// handleStartFlow pushes a new instance of the named flow. Seed values
// that fail validation are dropped; their collect steps re-ask.
func handleStartFlow(env Env, s *conversation.State, cmd Command) (Result, error) {
	g, ok := env.Flows.Flow(cmd.Flow)
	if !ok {
		return Result{}, dialogerr.Newf(dialogerr.KindUnknownFlow, "no flow named %q", cmd.Flow)
	}
	var seeds map[string]any
	for name, raw := range cmd.Inputs {
		value, err := g.ValidateSlot(name, raw)
		if err != nil {
			continue
		}
		if seeds == nil {
			seeds = make(map[string]any, len(cmd.Inputs))
		}
		seeds[name] = value
	}
	d := env.Manager.PushFlow(s, cmd.Flow, seeds)
	// Starting a flow supersedes whatever the previous flow was
	// waiting for.
	return Result{Delta: conversation.Merge(d, conversation.SetAwaiting(nil))}, nil
}

// handleCancelFlow pops the active instance as cancelled. The flow's
// pending task, if any, dies with it.
func handleCancelFlow(env Env, s *conversation.State, cmd Command) (Result, error) {
	active, ok := conversation.Active(s)
	if !ok {
		return Result{}, dialogerr.New(dialogerr.KindNoActiveFlow, "cancel with no active flow")
	}
	d, err := env.Manager.PopFlow(s, nil, conversation.StatusCancelled)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Delta:    conversation.Merge(d, conversation.SetAwaiting(nil)),
		Messages: []string{fmt.Sprintf("Okay, I've cancelled %s.", humanize(active.Flow))},
	}, nil
}

// handleSetSlot validates the value against the slot's declared type
// and validator. Valid values are stored; invalid ones leave the state
// untouched and queue a reprompt.
func handleSetSlot(env Env, s *conversation.State, cmd Command) (Result, error) {
	return setSlotValue(env, s, cmd, false)
}

// handleCorrectSlot is set_slot that additionally rewinds execution to
// the slot's collect step when the flow has already moved past it, so
// downstream steps replay with the corrected value.
func handleCorrectSlot(env Env, s *conversation.State, cmd Command) (Result, error) {
	return setSlotValue(env, s, cmd, true)
}

func setSlotValue(env Env, s *conversation.State, cmd Command, correct bool) (Result, error) {
	active, ok := conversation.Active(s)
	if !ok {
		return Result{}, dialogerr.New(dialogerr.KindNoActiveFlow, fmt.Sprintf("set slot %q with no active flow", cmd.Slot))
	}
	g, ok := env.Flows.Flow(active.Flow)
	if !ok {
		return Result{}, dialogerr.Newf(dialogerr.KindUnknownFlow, "active flow %q has no definition", active.Flow)
	}
	value, err := g.ValidateSlot(cmd.Slot, cmd.Value)
	if err != nil {
		messages := []string{fmt.Sprintf("Sorry, %s.", err.Error())}
		if prompt := collectPrompt(s, g, cmd.Slot); prompt != "" {
			messages = append(messages, prompt)
		}
		return Result{Messages: messages}, dialogerr.Wrap(dialogerr.KindInvalidSlotValue, "", err)
	}

	prior, had := conversation.SlotValue(s, cmd.Slot)
	d, err := env.Manager.SetSlot(s, cmd.Slot, value)
	if err != nil {
		return Result{}, err
	}

	res := Result{Delta: d}
	if correct && had && prior != nil {
		res.Reason = fmt.Sprintf("replaced %v", prior)
	}

	// A matching pending collect is satisfied by the value.
	if aw := s.Awaiting; aw != nil && aw.Kind == conversation.AwaitCollect && aw.Slot == cmd.Slot {
		res.Delta = conversation.Merge(res.Delta, conversation.SetAwaiting(nil))
		return res, nil
	}

	if correct {
		if rewind := rewindDelta(env, s, g, active, cmd.Slot); !rewind.Empty() {
			res.Delta = conversation.Merge(res.Delta, rewind, conversation.SetAwaiting(nil))
		}
	}
	return res, nil
}

// rewindDelta moves the active instance back to the collect step of a
// slot when the current step lies past it.
func rewindDelta(env Env, s *conversation.State, g *flow.Subgraph, active conversation.FlowContext, slot string) conversation.Delta {
	collectID, ok := g.CollectStep(slot)
	if !ok || active.Step == "" {
		return conversation.Delta{}
	}
	if g.StepIndex(active.Step) <= g.StepIndex(collectID) {
		return conversation.Delta{}
	}
	d, err := env.Manager.UpdateStep(s, collectID)
	if err != nil {
		return conversation.Delta{}
	}
	return d
}

// collectPrompt finds the question to re-ask after a rejected value:
// the pending prompt when it concerns the slot, otherwise the slot's
// collect step prompt rendered against current values.
func collectPrompt(s *conversation.State, g *flow.Subgraph, slot string) string {
	if aw := s.Awaiting; aw != nil && aw.Kind == conversation.AwaitCollect && aw.Slot == slot {
		return aw.Prompt
	}
	id, ok := g.CollectStep(slot)
	if !ok {
		return ""
	}
	step, ok := g.Step(id)
	if !ok || step.Collect() == nil {
		return ""
	}
	return flow.Render(step.Collect().Prompt, conversation.ActiveSlots(s))
}

// handleAffirm resolves a pending confirmation by moving the instance
// onto the confirm step's continuation.
func handleAffirm(env Env, s *conversation.State, cmd Command) (Result, error) {
	step, _, res, ok := pendingConfirm(env, s)
	if !ok {
		return res, nil
	}
	target, ok := step.Next(flow.TagDone)
	if !ok {
		return Result{}, dialogerr.Newf(dialogerr.KindFlowDefinition, "confirm step %q has no continuation", step.ID())
	}
	d, err := env.Manager.UpdateStep(s, target)
	if err != nil {
		return Result{}, err
	}
	return Result{Delta: conversation.Merge(d, conversation.SetAwaiting(nil))}, nil
}

// handleDeny resolves a pending confirmation negatively. With a rewind
// slot the instance returns to that slot's collect step and the value
// is cleared; with a declared denial edge the instance follows it;
// otherwise the flow is cancelled.
func handleDeny(env Env, s *conversation.State, cmd Command) (Result, error) {
	step, active, res, ok := pendingConfirm(env, s)
	if !ok {
		return res, nil
	}
	g, _ := env.Flows.Flow(active.Flow)
	clear := conversation.SetAwaiting(nil)

	if cmd.Slot != "" {
		if collectID, ok := g.CollectStep(cmd.Slot); ok {
			dStep, err := env.Manager.UpdateStep(s, collectID)
			if err != nil {
				return Result{}, err
			}
			dSlot, err := env.Manager.SetSlot(s, cmd.Slot, nil)
			if err != nil {
				return Result{}, err
			}
			return Result{Delta: conversation.Merge(dStep, dSlot, clear)}, nil
		}
	}
	if target, ok := step.Next(flow.TagDenied); ok {
		d, err := env.Manager.UpdateStep(s, target)
		if err != nil {
			return Result{}, err
		}
		return Result{Delta: conversation.Merge(d, clear)}, nil
	}
	d, err := env.Manager.PopFlow(s, nil, conversation.StatusCancelled)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Delta:    conversation.Merge(d, clear),
		Messages: []string{fmt.Sprintf("Okay, I won't proceed with %s.", humanize(active.Flow))},
	}, nil
}

// pendingConfirm resolves the confirm step the conversation is
// suspended at. When there is none the command is skipped, not failed:
// stray affirmations are harmless.
func pendingConfirm(env Env, s *conversation.State) (*flow.Step, conversation.FlowContext, Result, bool) {
	skipped := Result{Outcome: conversation.ResultSkipped, Reason: "no confirmation pending"}
	if s.Awaiting == nil || s.Awaiting.Kind != conversation.AwaitConfirm {
		return nil, conversation.FlowContext{}, skipped, false
	}
	active, ok := conversation.Active(s)
	if !ok {
		return nil, conversation.FlowContext{}, skipped, false
	}
	g, ok := env.Flows.Flow(active.Flow)
	if !ok {
		return nil, conversation.FlowContext{}, skipped, false
	}
	step, ok := g.Step(active.Step)
	if !ok || step.Kind() != flow.KindConfirm {
		return nil, conversation.FlowContext{}, skipped, false
	}
	return step, active, Result{}, true
}

// handleClarify queues help text and re-emits the pending prompt. Flow
// state is untouched, so the conversation stays exactly where it was.
func handleClarify(env Env, s *conversation.State, cmd Command) (Result, error) {
	var help string
	if env.Help != nil {
		help = env.Help.Help(s, cmd.Topic)
	}
	if help == "" {
		help = defaultHelp(env, s)
	}
	messages := []string{help}
	if aw := s.Awaiting; aw != nil && aw.Prompt != "" {
		messages = append(messages, aw.Prompt)
	}
	return Result{Messages: messages}, nil
}

// handleHumanHandoff ends the turn with the handoff sentinel. The
// command log entry is the handoff event.
func handleHumanHandoff(env Env, s *conversation.State, cmd Command) (Result, error) {
	return Result{
		Handoff:  true,
		Messages: []string{"Let me connect you with a human agent."},
	}, nil
}

// defaultHelp describes what the assistant can do right now.
func defaultHelp(env Env, s *conversation.State) string {
	if active, ok := conversation.Active(s); ok {
		return fmt.Sprintf("We're working on %s right now. You can answer the question, correct an earlier answer, or say cancel to stop.", humanize(active.Flow))
	}
	names := env.Flows.Names()
	if len(names) == 0 {
		return "I can't help with anything yet."
	}
	pretty := make([]string, len(names))
	for i, name := range names {
		pretty[i] = humanize(name)
	}
	return fmt.Sprintf("I can help with: %s.", strings.Join(pretty, ", "))
}
