package command

import (
	"context"
	"time"

	"github.com/flowdial/flowdial/dialog/conversation"
	"github.com/flowdial/flowdial/dialog/dialogerr"
	"github.com/flowdial/flowdial/dialog/telemetry"
)

type (
	// ExecutorOptions configures an Executor. All fields are optional.
	ExecutorOptions struct {
		// Registry supplies the command handlers. Defaults to
		// NewRegistry.
		Registry *Registry
		// Logger receives per-command diagnostics. Defaults to a
		// no-op logger.
		Logger telemetry.Logger
		// Now supplies command log timestamps. Defaults to time.Now
		// in UTC.
		Now func() time.Time
	}

	// Executor runs a turn's command list in order. Every input
	// command produces exactly one command log entry, whether it
	// succeeded, was skipped, or failed.
	Executor struct {
		reg *Registry
		log telemetry.Logger
		now func() time.Time
	}

	// Outcome is the combined effect of one command list.
	Outcome struct {
		// Delta is the accumulated state change. Applying it to the
		// starting state yields the same result as applying each
		// command's delta in turn.
		Delta conversation.Delta
		// Messages are user-facing texts queued by handlers, in
		// execution order.
		Messages []string
		// Handoff reports that a human_handoff command ran.
		Handoff bool
	}
)

// NewExecutor builds an Executor, applying defaults for unset options.
func NewExecutor(opts ExecutorOptions) *Executor {
	e := &Executor{reg: opts.Registry, log: opts.Logger, now: opts.Now}
	if e.reg == nil {
		e.reg = NewRegistry()
	}
	if e.log == nil {
		e.log = telemetry.NewNoopLogger()
	}
	if e.now == nil {
		e.now = utcNow
	}
	return e
}

// Execute runs cmds against s in order. Each handler sees the state as
// left by its predecessors; s itself is never mutated. A failing
// command contributes its log entry and queued messages but none of
// its state changes. After a handoff the remaining commands are logged
// as skipped without running.
func (e *Executor) Execute(ctx context.Context, env Env, s *conversation.State, cmds []Command) Outcome {
	var out Outcome
	view := s
	for i, cmd := range cmds {
		rec := conversation.CommandRecord{
			Turn: env.Turn,
			Type: string(cmd.Type),
			Flow: cmd.Flow,
			Slot: cmd.Slot,
			At:   e.now(),
		}

		if out.Handoff {
			rec.Result = conversation.ResultSkipped
			rec.Reason = "after_handoff"
			out.Delta = conversation.Merge(out.Delta, conversation.AppendCommand(rec))
			continue
		}

		handler, ok := e.reg.Handler(cmd.Type)
		if !ok {
			rec.Result = conversation.ResultSkipped
			rec.Reason = string(dialogerr.KindUnknownCommand)
			e.log.Warn(ctx, "command skipped", "type", cmd.Type, "reason", rec.Reason)
			d := conversation.AppendCommand(rec)
			view = conversation.Apply(view, d)
			out.Delta = conversation.Merge(out.Delta, d)
			continue
		}

		res, err := handler(env, view, cmd)
		if err != nil {
			rec.Result = resultForError(err)
			rec.Reason = reasonForError(err)
			e.log.Warn(ctx, "command failed",
				"type", cmd.Type, "flow", cmd.Flow, "slot", cmd.Slot,
				"result", rec.Result, "err", err)
			d := conversation.AppendCommand(rec)
			view = conversation.Apply(view, d)
			out.Delta = conversation.Merge(out.Delta, d)
			out.Messages = append(out.Messages, res.Messages...)
			continue
		}

		rec.Result = res.Outcome
		if rec.Result == "" {
			rec.Result = conversation.ResultSuccess
		}
		rec.Reason = res.Reason
		d := conversation.Merge(res.Delta, conversation.AppendCommand(rec))
		view = conversation.Apply(view, d)
		out.Delta = conversation.Merge(out.Delta, d)
		out.Messages = append(out.Messages, res.Messages...)
		if res.Handoff {
			out.Handoff = true
			e.log.Info(ctx, "human handoff requested", "position", i, "of", len(cmds))
		}
	}
	return out
}

// resultForError maps an error kind to a command log result. Commands
// that simply do not apply in the current state are skipped; genuine
// failures are errors.
func resultForError(err error) string {
	switch dialogerr.KindOf(err) {
	case dialogerr.KindNoActiveFlow, dialogerr.KindUnknownFlow, dialogerr.KindUnknownCommand:
		return conversation.ResultSkipped
	default:
		return conversation.ResultError
	}
}

// reasonForError prefers the stable kind string over the free-form
// message so log entries stay greppable.
func reasonForError(err error) string {
	if kind := dialogerr.KindOf(err); kind != "" {
		return string(kind)
	}
	return err.Error()
}
