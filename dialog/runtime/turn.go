package runtime

import (
	"context"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/flowdial/flowdial/dialog/command"
	"github.com/flowdial/flowdial/dialog/conversation"
	"github.com/flowdial/flowdial/dialog/dialogerr"
	"github.com/flowdial/flowdial/dialog/flow"
	"github.com/flowdial/flowdial/dialog/hooks"
	"github.com/flowdial/flowdial/dialog/nlu"
	"github.com/flowdial/flowdial/dialog/telemetry"
)

type (
	// turn carries the working state of one ProcessTurn call. view is
	// always Apply(loaded, delta): step and command execution read
	// it, while delta records everything to persist at the boundary.
	turn struct {
		r       *Runtime
		userKey string
		id      string
		number  int
		started time.Time
		sink    *sink
		view    *conversation.State
		delta   conversation.Delta
		steps   int
		model   string
		failure *failure
	}

	// failure records the degraded outcome of a turn.
	failure struct {
		kind dialogerr.Kind
		err  error
	}

	// mark is a rollback point inside a turn.
	mark struct {
		delta conversation.Delta
		view  *conversation.State
		sink  int
	}
)

// run executes the turn phases in order: understand, execute commands,
// advance the active flow, persist.
func (t *turn) run(ctx context.Context, message string) (string, error) {
	t.number = t.view.Turns + 1
	if err := t.publish(ctx, hooks.NewTurnStartedEvent(t.userKey, t.id, message, t.number)); err != nil {
		return "", err
	}

	// Synthesis and the provider context both reflect the state
	// before this message lands in the history.
	synthesized := t.synthesize(message)
	pc := nlu.BuildContext(t.view, t.r.flows, t.started, t.r.historyLimit)

	start := conversation.Merge(
		conversation.Delta{AddTurns: 1},
		conversation.AppendMessage(conversation.Message{
			ID:      uuid.NewString(),
			Role:    conversation.RoleUser,
			Content: message,
			At:      t.started,
		}),
		conversation.SetLastError(""),
	)
	if aw := t.view.Awaiting; aw != nil && aw.Kind == conversation.AwaitInformAck {
		// Any reply acknowledges an inform; the flow resumes.
		start = conversation.Merge(start, t.ackInform())
	}
	t.merge(start)

	out, err := t.r.provider.Understand(ctx, message, pc)
	if err != nil {
		return t.understandingFailed(ctx, err)
	}
	t.model = out.Model
	t.merge(conversation.Delta{NLU: &conversation.NLUTrace{
		Commands:   len(out.Commands),
		Confidence: out.Confidence,
		Reasoning:  out.Reasoning,
		At:         t.r.now(),
	}})

	cmds := out.Commands
	if len(cmds) == 0 {
		cmds = synthesized
	}
	if len(cmds) == 0 && t.view.Awaiting == nil {
		if _, active := conversation.Active(t.view); !active {
			// Nothing understood and nothing in progress: explain
			// what the assistant can do instead of staying silent.
			cmds = []command.Command{{Type: command.TypeClarify}}
		}
	}

	handoff, err := t.executeCommands(ctx, cmds)
	if err != nil {
		return "", err
	}
	if !handoff {
		if err := t.advance(ctx); err != nil {
			return "", err
		}
	}
	return t.finish(ctx)
}

// ackInform resumes a flow parked on an inform acknowledgement: the
// pending task clears and the marker moves onto the inform step's
// continuation so the resumed run does not repeat it.
func (t *turn) ackInform() conversation.Delta {
	clear := conversation.SetAwaiting(nil)
	fc, ok := conversation.Active(t.view)
	if !ok {
		return clear
	}
	g, ok := t.r.flows.Flow(fc.Flow)
	if !ok {
		return clear
	}
	step, ok := g.Step(fc.Step)
	if !ok || step.Kind() != flow.KindInform {
		return clear
	}
	next, ok := step.Next(flow.TagDone)
	if !ok {
		return clear
	}
	d, err := t.r.mgr.UpdateStep(t.view, next)
	if err != nil {
		return clear
	}
	return conversation.Merge(d, clear)
}

// await parks the conversation on a pending task. The step marker
// already points at the suspending step, so the next turn resumes
// there.
func (t *turn) await(aw conversation.Awaiting) {
	t.merge(conversation.SetAwaiting(&aw))
}

// synthesize derives the commands implied by a pending task when the
// provider has nothing better. A collect answer becomes a set_slot for
// the awaited slot; a yes or no answers a pending confirmation.
func (t *turn) synthesize(message string) []command.Command {
	aw := t.view.Awaiting
	if aw == nil {
		return nil
	}
	switch aw.Kind {
	case conversation.AwaitCollect:
		return []command.Command{{
			Type:  command.TypeSetSlot,
			Slot:  aw.Slot,
			Value: strings.TrimSpace(message),
		}}
	case conversation.AwaitConfirm:
		if affirmed, ok := parseAffirmation(message); ok {
			typ := command.TypeAffirm
			if !affirmed {
				typ = command.TypeDeny
			}
			return []command.Command{{Type: typ}}
		}
	}
	return nil
}

// executeCommands runs the turn's command list and reports whether a
// handoff ended the turn early.
func (t *turn) executeCommands(ctx context.Context, cmds []command.Command) (bool, error) {
	if len(cmds) == 0 {
		return false, nil
	}
	env := command.Env{Flows: t.r.flows, Manager: t.r.mgr, Turn: t.number, Help: t.r.help}
	out := t.r.exec.Execute(ctx, env, t.view, cmds)
	for _, rec := range out.Delta.Commands {
		if err := t.publish(ctx, hooks.NewCommandExecutedEvent(t.userKey, t.id, rec)); err != nil {
			return false, err
		}
	}
	if err := t.apply(ctx, out.Delta); err != nil {
		return false, err
	}
	for _, msg := range out.Messages {
		if err := t.say(ctx, msg); err != nil {
			return false, err
		}
	}
	return out.Handoff, nil
}

// advance drives the active flow until it suspends for input, the
// stack drains, or a budget trips. Budget exhaustion rolls the turn
// back to the post-command state so a later turn starts clean.
func (t *turn) advance(ctx context.Context) error {
	checkpoint := t.mark()
	execs := 0
	for {
		if t.view.Awaiting != nil {
			return nil
		}
		fc, ok := conversation.Active(t.view)
		if !ok {
			return nil
		}
		if execs++; execs > t.r.turnBudget {
			err := dialogerr.Newf(dialogerr.KindTurnBudget, "%d subgraph executions in one turn", execs)
			return t.abortForBudget(ctx, checkpoint, dialogerr.KindTurnBudget, err)
		}
		if err := t.runSubgraph(ctx, fc); err != nil {
			if kind := dialogerr.KindOf(err); kind == dialogerr.KindStepBudget {
				return t.abortForBudget(ctx, checkpoint, kind, err)
			}
			return err
		}
	}
}

// abortForBudget discards all flow progress made after checkpoint,
// records the failure, and answers with the configured text. Command
// effects and the exchange itself stay.
func (t *turn) abortForBudget(ctx context.Context, checkpoint mark, kind dialogerr.Kind, err error) error {
	t.r.log.Error(ctx, "budget exhausted", "user_key", t.userKey, "turn", t.number, "kind", string(kind), "err", err)
	t.restore(checkpoint)
	t.failure = &failure{kind: kind, err: err}
	t.merge(conversation.SetLastError(string(kind)))
	text := t.r.fallbacks.StepBudget
	if kind == dialogerr.KindTurnBudget {
		text = t.r.fallbacks.TurnBudget
	}
	return t.say(ctx, flow.Render(text, conversation.ActiveSlots(t.view)))
}

// understandingFailed answers the turn with the configured fallback.
// Flow state is untouched: only the exchange and the failure are
// recorded.
func (t *turn) understandingFailed(ctx context.Context, err error) (string, error) {
	t.r.log.Warn(ctx, "understanding failed", "user_key", t.userKey, "turn", t.number, "err", err)
	t.failure = &failure{kind: dialogerr.KindNLU, err: err}
	t.merge(conversation.SetLastError(string(dialogerr.KindNLU)))
	if sayErr := t.say(ctx, flow.Render(t.r.fallbacks.NLUError, conversation.ActiveSlots(t.view))); sayErr != nil {
		return "", sayErr
	}
	return t.finish(ctx)
}

// finish re-emits a pending prompt when the turn produced nothing,
// saves the state, and reports the outcome through hooks, metrics, and
// the log.
func (t *turn) finish(ctx context.Context) (string, error) {
	if aw := t.view.Awaiting; aw != nil {
		if t.sink.empty() && aw.Prompt != "" {
			if err := t.say(ctx, aw.Prompt); err != nil {
				return "", err
			}
		}
		flowName := ""
		if fc, ok := conversation.Active(t.view); ok {
			flowName = fc.Flow
		}
		if err := t.publish(ctx, hooks.NewInputAwaitedEvent(t.userKey, t.id, flowName, *aw)); err != nil {
			return "", err
		}
	}

	if err := t.r.eng.Save(ctx, t.userKey, t.view); err != nil {
		return "", err
	}

	response := t.sink.render()
	duration := t.r.now().Sub(t.started)
	tt := telemetry.TurnTelemetry{
		DurationMs: duration.Milliseconds(),
		Steps:      t.steps,
		Commands:   len(t.delta.Commands),
		Model:      t.model,
	}

	// The state is committed; delivery failures past this point are
	// logged, not returned.
	if t.failure != nil {
		evt := hooks.NewTurnFailedEvent(t.userKey, t.id, string(t.failure.kind), t.failure.err)
		if err := t.publish(ctx, evt); err != nil {
			t.r.log.Warn(ctx, "post-save hook delivery failed", "user_key", t.userKey, "err", err)
		}
		t.r.met.IncCounter("dialog.turns.failed", 1, "kind", string(t.failure.kind))
	} else {
		evt := hooks.NewTurnCompletedEvent(t.userKey, t.id, response, tt.Commands, tt.Steps, duration)
		if err := t.publish(ctx, evt); err != nil {
			t.r.log.Warn(ctx, "post-save hook delivery failed", "user_key", t.userKey, "err", err)
		}
	}
	t.r.met.IncCounter("dialog.turns", 1)
	t.r.met.RecordTimer("dialog.turn.duration", duration)
	t.r.met.RecordGauge("dialog.turn.steps", float64(tt.Steps))
	t.r.log.Info(ctx, "turn finished",
		"user_key", t.userKey,
		"turn", t.number,
		"commands", tt.Commands,
		"steps", tt.Steps,
		"duration_ms", tt.DurationMs,
		"awaiting", t.view.Awaiting != nil,
	)
	return response, nil
}

// say queues msg for the response and records it as an assistant
// message so later understanding calls see both sides of the exchange.
func (t *turn) say(ctx context.Context, msg string) error {
	if msg == "" {
		return nil
	}
	if !t.sink.push(msg) {
		t.r.log.Warn(ctx, "message cap reached, dropping", "user_key", t.userKey, "turn", t.number)
		return nil
	}
	t.merge(conversation.AppendMessage(conversation.Message{
		ID:      uuid.NewString(),
		Role:    conversation.RoleAssistant,
		Content: msg,
		At:      t.r.now(),
	}))
	return t.publish(ctx, hooks.NewBotMessageEvent(t.userKey, t.id, msg))
}

// merge folds d into the turn without event emission.
func (t *turn) merge(d conversation.Delta) {
	t.delta = conversation.Merge(t.delta, d)
	t.view = conversation.Apply(t.view, d)
}

// apply folds d into the turn and publishes the lifecycle events the
// change implies.
func (t *turn) apply(ctx context.Context, d conversation.Delta) error {
	before := t.view
	t.merge(d)
	return t.announce(ctx, before, t.view)
}

func (t *turn) mark() mark {
	return mark{delta: t.delta, view: t.view, sink: t.sink.count()}
}

// restore rewinds the turn to a previous mark. Messages queued after
// the mark are discarded along with the state changes.
func (t *turn) restore(m mark) {
	t.delta = m.delta
	t.view = m.view
	t.sink.truncate(m.sink)
}

// publish delivers evt to the hook bus, if one is configured. A
// delivery failure before the save aborts the turn.
func (t *turn) publish(ctx context.Context, evt hooks.Event) error {
	if t.r.bus == nil {
		return nil
	}
	return t.r.bus.Publish(ctx, evt)
}

// announce publishes the lifecycle events implied by the transition
// from before to after: pauses, starts, slot fills, completions, and
// resumptions, in that order.
func (t *turn) announce(ctx context.Context, before, after *conversation.State) error {
	if t.r.bus == nil {
		return nil
	}
	prev := make(map[string]conversation.FlowContext, len(before.Stack))
	for _, fc := range before.Stack {
		prev[fc.ID] = fc
	}
	for _, fc := range after.Stack {
		if p, known := prev[fc.ID]; known && p.Status == conversation.StatusActive && fc.Status == conversation.StatusPaused {
			if err := t.publish(ctx, hooks.NewFlowPausedEvent(t.userKey, t.id, fc.Flow, fc.ID)); err != nil {
				return err
			}
		}
	}
	for _, fc := range after.Stack {
		if _, known := prev[fc.ID]; !known {
			if err := t.publish(ctx, hooks.NewFlowStartedEvent(t.userKey, t.id, fc.Flow, fc.ID)); err != nil {
				return err
			}
		}
	}
	if err := t.announceSlots(ctx, before, after); err != nil {
		return err
	}
	for _, fc := range after.Archive[len(before.Archive):] {
		if err := t.publish(ctx, hooks.NewFlowCompletedEvent(t.userKey, t.id, fc.Flow, fc.ID, fc.Status, fc.Outputs)); err != nil {
			return err
		}
	}
	for _, fc := range after.Stack {
		if p, known := prev[fc.ID]; known && p.Status == conversation.StatusPaused && fc.Status == conversation.StatusActive {
			if err := t.publish(ctx, hooks.NewFlowResumedEvent(t.userKey, t.id, fc.Flow, fc.ID)); err != nil {
				return err
			}
		}
	}
	return nil
}

// announceSlots publishes a slot_filled event for every slot whose
// value changed between before and after, in stack order and sorted by
// slot name within an instance. Cleared slots are not announced.
func (t *turn) announceSlots(ctx context.Context, before, after *conversation.State) error {
	for _, fc := range after.Stack {
		prevSlots := before.Slots[fc.ID]
		curSlots := after.Slots[fc.ID]
		if len(curSlots) == 0 {
			continue
		}
		names := make([]string, 0, len(curSlots))
		for name := range curSlots {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			value := curSlots[name]
			if value == nil {
				continue
			}
			prior, had := prevSlots[name]
			if had && reflect.DeepEqual(prior, value) {
				continue
			}
			corrected := had && prior != nil
			if err := t.publish(ctx, hooks.NewSlotFilledEvent(t.userKey, t.id, fc.Flow, fc.ID, name, value, corrected)); err != nil {
				return err
			}
		}
	}
	return nil
}

// Affirmation lexicon for answers to pending confirmations. Anything
// outside both sets is left to the provider.
var (
	affirmWords = map[string]struct{}{
		"yes": {}, "y": {}, "yeah": {}, "yep": {}, "yup": {}, "sure": {},
		"ok": {}, "okay": {}, "confirm": {}, "confirmed": {}, "correct": {},
		"right": {}, "affirmative": {}, "go ahead": {}, "do it": {},
		"sounds good": {}, "please do": {},
	}
	denyWords = map[string]struct{}{
		"no": {}, "n": {}, "nope": {}, "nah": {}, "negative": {},
		"don't": {}, "do not": {}, "stop": {}, "wrong": {},
	}
)

// parseAffirmation classifies message as a yes or a no. ok is false
// when the message matches neither lexicon.
func parseAffirmation(message string) (affirmed, ok bool) {
	normalized := strings.ToLower(strings.TrimSpace(message))
	normalized = strings.Trim(normalized, ".!?, ")
	if _, yes := affirmWords[normalized]; yes {
		return true, true
	}
	if _, no := denyWords[normalized]; no {
		return false, true
	}
	return false, false
}
