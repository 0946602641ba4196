// Package runtime drives complete dialogue turns. A turn takes one
// user message through understanding, command execution, and flow
// advancement, then persists the resulting state exactly once:
//
//	rt, err := runtime.New(runtime.Options{
//		Flows:    flows,
//		Engine:   eng,
//		Provider: provider,
//	})
//	if err != nil {
//		return err
//	}
//	reply, err := rt.ProcessTurn(ctx, "user-42", "book me a flight to SFO")
//
// Turns for the same user key are serialized; turns for distinct keys
// proceed concurrently. State is saved only at the end of the turn, so
// a crash mid-turn leaves the previous checkpoint intact and the turn
// simply never happened.
package runtime

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/flowdial/flowdial/dialog/actions"
	"github.com/flowdial/flowdial/dialog/command"
	"github.com/flowdial/flowdial/dialog/conversation"
	"github.com/flowdial/flowdial/dialog/engine"
	"github.com/flowdial/flowdial/dialog/flow"
	"github.com/flowdial/flowdial/dialog/hooks"
	"github.com/flowdial/flowdial/dialog/nlu"
	"github.com/flowdial/flowdial/dialog/telemetry"
)

const (
	// DefaultTurnBudget caps subgraph executions in one turn.
	DefaultTurnBudget = 8
	// DefaultStepBudget caps steps executed in one turn across all
	// subgraph runs.
	DefaultStepBudget = 1000
	// DefaultHistoryLimit caps the recent messages shared with the
	// understanding provider.
	DefaultHistoryLimit = 12
	// DefaultMaxMessages caps the messages one turn may emit.
	DefaultMaxMessages = 64
	// DefaultSeparator joins a turn's messages into the response.
	DefaultSeparator = "\n"
)

// Default texts for degraded turns.
const (
	DefaultNLUErrorMessage    = "Sorry, I'm having trouble understanding right now. Please try again."
	DefaultActionErrorMessage = "Sorry, something went wrong on my side. Let's try that again in a moment."
	DefaultStepBudgetMessage  = "Sorry, I got stuck working on that request. Let's start over."
	DefaultTurnBudgetMessage  = "Sorry, I couldn't settle that request. Let's start over."
)

type (
	// Messages are the user-facing texts sent when a turn degrades.
	// Each text is rendered as a template against the active flow's
	// slots before sending. Zero fields take defaults.
	Messages struct {
		// NLUError answers a turn whose understanding call failed.
		NLUError string
		// ActionError answers a turn whose flow failed mid-run with
		// no recovery edge.
		ActionError string
		// StepBudget answers a turn aborted for stepping too long.
		StepBudget string
		// TurnBudget answers a turn aborted for bouncing between
		// flows.
		TurnBudget string
	}

	// Options configures a Runtime.
	Options struct {
		// Flows is the compiled flow set. Required.
		Flows *flow.Set
		// Engine loads and saves conversation snapshots. Required.
		Engine *engine.Engine
		// Provider turns user messages into commands. Required.
		Provider nlu.Provider
		// Actions resolves the handlers invoked by action steps.
		// Defaults to an empty registry.
		Actions *actions.Registry
		// Commands supplies the command handlers. Defaults to the
		// built-in vocabulary.
		Commands *command.Registry
		// Help produces clarification text for clarify commands.
		Help command.HelpGenerator
		// Hooks receives lifecycle events. Nil disables publication.
		Hooks hooks.Bus
		// Logger receives turn diagnostics. Defaults to a no-op
		// logger.
		Logger telemetry.Logger
		// Metrics records turn counters and timers. Defaults to a
		// no-op recorder.
		Metrics telemetry.Metrics
		// Tracer wraps each turn in a span. Defaults to a no-op
		// tracer.
		Tracer telemetry.Tracer
		// TurnBudget caps subgraph executions in one turn. Defaults
		// to DefaultTurnBudget.
		TurnBudget int
		// StepBudget caps steps executed in one turn. Defaults to
		// DefaultStepBudget.
		StepBudget int
		// TurnTimeout bounds one turn end to end, understanding and
		// action calls included. Zero means no deadline.
		TurnTimeout time.Duration
		// HistoryLimit caps the recent messages shared with the
		// provider. Defaults to DefaultHistoryLimit.
		HistoryLimit int
		// MaxMessages caps the messages one turn may emit. Defaults
		// to DefaultMaxMessages.
		MaxMessages int
		// Separator joins the turn's messages into the returned
		// response. Defaults to DefaultSeparator.
		Separator string
		// Fallbacks overrides the degraded-turn texts.
		Fallbacks Messages
		// Now supplies timestamps. Defaults to time.Now in UTC.
		Now func() time.Time
		// NewTurnID mints turn ids for event correlation. Defaults
		// to random UUIDs.
		NewTurnID func() string
		// NewInstanceID mints flow instance ids. Defaults to random
		// UUIDs. Inject a counter in tests for reproducible ids.
		NewInstanceID func() string
	}

	// Runtime orchestrates dialogue turns over a compiled flow set.
	// All exported methods are safe for concurrent use.
	Runtime struct {
		flows    *flow.Set
		eng      *engine.Engine
		provider nlu.Provider
		actions  *actions.Registry
		exec     *command.Executor
		mgr      *conversation.Manager
		help     command.HelpGenerator
		bus      hooks.Bus
		log      telemetry.Logger
		met      telemetry.Metrics
		tracer   telemetry.Tracer
		locks    *turnLocks

		turnBudget   int
		stepBudget   int
		turnTimeout  time.Duration
		historyLimit int
		maxMessages  int
		separator    string
		fallbacks    Messages

		now       func() time.Time
		newTurnID func() string
	}
)

// New builds a Runtime, validating required collaborators and applying
// defaults for the rest.
func New(opts Options) (*Runtime, error) {
	if opts.Flows == nil {
		return nil, errors.New("flow set is required")
	}
	if opts.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if opts.Provider == nil {
		return nil, errors.New("understanding provider is required")
	}
	r := &Runtime{
		flows:        opts.Flows,
		eng:          opts.Engine,
		provider:     opts.Provider,
		actions:      opts.Actions,
		help:         opts.Help,
		bus:          opts.Hooks,
		log:          opts.Logger,
		met:          opts.Metrics,
		tracer:       opts.Tracer,
		locks:        newTurnLocks(),
		turnBudget:   opts.TurnBudget,
		stepBudget:   opts.StepBudget,
		turnTimeout:  opts.TurnTimeout,
		historyLimit: opts.HistoryLimit,
		maxMessages:  opts.MaxMessages,
		separator:    opts.Separator,
		fallbacks:    opts.Fallbacks,
		now:          opts.Now,
		newTurnID:    opts.NewTurnID,
	}
	if r.actions == nil {
		r.actions = actions.NewRegistry()
	}
	if r.log == nil {
		r.log = telemetry.NewNoopLogger()
	}
	if r.met == nil {
		r.met = telemetry.NewNoopMetrics()
	}
	if r.tracer == nil {
		r.tracer = telemetry.NewNoopTracer()
	}
	if r.turnBudget <= 0 {
		r.turnBudget = DefaultTurnBudget
	}
	if r.stepBudget <= 0 {
		r.stepBudget = DefaultStepBudget
	}
	if r.historyLimit <= 0 {
		r.historyLimit = DefaultHistoryLimit
	}
	if r.maxMessages <= 0 {
		r.maxMessages = DefaultMaxMessages
	}
	if r.separator == "" {
		r.separator = DefaultSeparator
	}
	if r.fallbacks.NLUError == "" {
		r.fallbacks.NLUError = DefaultNLUErrorMessage
	}
	if r.fallbacks.ActionError == "" {
		r.fallbacks.ActionError = DefaultActionErrorMessage
	}
	if r.fallbacks.StepBudget == "" {
		r.fallbacks.StepBudget = DefaultStepBudgetMessage
	}
	if r.fallbacks.TurnBudget == "" {
		r.fallbacks.TurnBudget = DefaultTurnBudgetMessage
	}
	if r.now == nil {
		r.now = func() time.Time { return time.Now().UTC() }
	}
	if r.newTurnID == nil {
		r.newTurnID = uuid.NewString
	}
	r.mgr = conversation.NewManager(conversation.ManagerOptions{NewID: opts.NewInstanceID, Now: r.now})
	r.exec = command.NewExecutor(command.ExecutorOptions{Registry: opts.Commands, Logger: r.log, Now: r.now})
	return r, nil
}

// ProcessTurn runs one complete turn for userKey and returns the
// response text. Degraded turns, such as understanding failures and
// budget exhaustion, still return a response: the configured fallback
// text, with the failure recorded in the saved state and reported
// through hooks. A non-nil error means the turn left no trace. Lock
// acquisition, the state load, a hook subscriber, or the final save
// failed, and the previous checkpoint stands.
func (r *Runtime) ProcessTurn(ctx context.Context, userKey, message string) (string, error) {
	if userKey == "" {
		return "", errors.New("user key is required")
	}
	if strings.TrimSpace(message) == "" {
		return "", errors.New("message is required")
	}
	release, err := r.locks.acquire(ctx, userKey)
	if err != nil {
		return "", err
	}
	defer release()
	if r.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.turnTimeout)
		defer cancel()
	}
	ctx, span := r.tracer.Start(ctx, "dialog.turn")
	defer span.End()

	loaded, err := r.eng.Load(ctx, userKey)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		return "", err
	}
	t := &turn{
		r:       r,
		userKey: userKey,
		id:      r.newTurnID(),
		started: r.now(),
		sink:    newSink(r.maxMessages, r.separator),
		view:    loaded,
	}
	response, err := t.run(ctx, message)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "turn aborted")
		return "", err
	}
	span.SetStatus(codes.Ok, "")
	return response, nil
}
