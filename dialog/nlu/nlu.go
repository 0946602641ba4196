// Package nlu defines the contract between the dialogue runtime and
// language-understanding providers: the context handed to a provider
// on every turn, the command list it returns, and the shared prompt
// and reply codec the bundled providers build on.
package nlu

import (
	"context"
	"errors"
	"time"

	"github.com/flowdial/flowdial/dialog/command"
	"github.com/flowdial/flowdial/dialog/conversation"
	"github.com/flowdial/flowdial/dialog/flow"
)

// ErrRateLimited marks provider errors caused by throttling. Providers
// wrap their SDK's rate limiting signals with it so middleware can back
// off without knowing provider specifics.
var ErrRateLimited = errors.New("nlu: rate limited")

type (
	// Context is the conversational situation a provider interprets a
	// user message against. It is assembled fresh each turn and
	// marshals to the JSON embedded in provider prompts.
	Context struct {
		// ActiveFlow names the flow being worked on, empty when idle.
		ActiveFlow string `json:"active_flow,omitempty"`
		// Flows lists every defined flow so providers can ground
		// start_flow commands in real names.
		Flows []FlowInfo `json:"available_flows,omitempty"`
		// Slots are the active flow's declared slots with fill state.
		Slots []conversation.SlotScope `json:"in_scope_slots,omitempty"`
		// Actions are the action names plausible right now.
		Actions []string `json:"in_scope_actions,omitempty"`
		// Messages is the bounded recent history, oldest first.
		Messages []conversation.Message `json:"recent_messages,omitempty"`
		// Awaiting describes the pending prompt, if any.
		Awaiting *conversation.Awaiting `json:"awaiting,omitempty"`
		// CurrentTime anchors relative expressions like "tomorrow".
		CurrentTime time.Time `json:"current_time"`
	}

	// FlowInfo is the directory entry for one defined flow.
	FlowInfo struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
	}

	// Output is a provider's interpretation of one user message.
	Output struct {
		// Commands is the ordered list to execute. Order matters: the
		// executor preserves it.
		Commands []command.Command `json:"commands"`
		// Confidence is the provider's overall confidence in [0, 1].
		Confidence float64 `json:"confidence"`
		// Reasoning is an opaque audit string, never parsed.
		Reasoning string `json:"reasoning,omitempty"`
		// Model identifies the model that produced the output, for
		// telemetry. Providers fill it; it is not part of the reply
		// schema.
		Model string `json:"-"`
	}

	// Provider turns one user message into commands. Implementations
	// may be slow and may fail; the runtime treats both gracefully.
	Provider interface {
		Understand(ctx context.Context, message string, pc Context) (Output, error)
	}

	// ProviderFunc adapts a function to the Provider interface.
	ProviderFunc func(ctx context.Context, message string, pc Context) (Output, error)
)

// Understand calls f.
func (f ProviderFunc) Understand(ctx context.Context, message string, pc Context) (Output, error) {
	return f(ctx, message, pc)
}

// BuildContext assembles the provider context for one turn.
// historyLimit bounds recent_messages; zero or negative means no
// history is included.
func BuildContext(s *conversation.State, flows *flow.Set, now time.Time, historyLimit int) Context {
	pc := Context{
		Slots:       conversation.InScopeSlots(s, flows),
		Actions:     conversation.InScopeActions(s, flows),
		Awaiting:    cloneAwaiting(s.Awaiting),
		CurrentTime: now,
	}
	if fc, ok := conversation.Active(s); ok {
		pc.ActiveFlow = fc.Flow
	}
	for _, name := range flows.Names() {
		g, ok := flows.Flow(name)
		if !ok {
			continue
		}
		pc.Flows = append(pc.Flows, FlowInfo{Name: name, Description: g.Description()})
	}
	if historyLimit > 0 && len(s.Messages) > 0 {
		start := len(s.Messages) - historyLimit
		if start < 0 {
			start = 0
		}
		pc.Messages = append(pc.Messages, s.Messages[start:]...)
	}
	return pc
}

func cloneAwaiting(aw *conversation.Awaiting) *conversation.Awaiting {
	if aw == nil {
		return nil
	}
	c := *aw
	return &c
}
