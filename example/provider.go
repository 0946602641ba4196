package travelbot

import (
	"context"
	"strings"

	"github.com/flowdial/flowdial/dialog/command"
	"github.com/flowdial/flowdial/dialog/nlu"
)

// Rules is a deterministic nlu.Provider for demos and tests. It maps
// keywords to commands and otherwise returns no commands at all,
// letting the runtime resolve pending collects and confirmations from
// the raw message. It understands just enough to drive the demo
// script; wire a model provider for anything beyond that.
type Rules struct{}

// NewRules returns the keyword provider.
func NewRules() *Rules { return &Rules{} }

// Understand implements nlu.Provider.
func (*Rules) Understand(_ context.Context, message string, pc nlu.Context) (nlu.Output, error) {
	lower := strings.ToLower(strings.TrimSpace(message))

	switch {
	case containsAny(lower, "human", "agent", "real person"):
		return output(0.9, "handoff keyword", command.Command{Type: command.TypeHumanHandoff}), nil
	case containsAny(lower, "cancel", "never mind", "forget it"):
		return output(0.9, "cancel keyword", command.Command{Type: command.TypeCancelFlow}), nil
	case containsAny(lower, "help", "what can you do"):
		return output(0.8, "help keyword", command.Command{Type: command.TypeClarify}), nil
	}

	if slot, value, ok := parseCorrection(lower); ok {
		return output(0.7, "correction pattern", command.Command{
			Type:  command.TypeCorrectSlot,
			Slot:  slot,
			Value: value,
		}), nil
	}

	if containsAny(lower, "balance", "how much money") {
		cmd := command.Command{Type: command.TypeStartFlow, Flow: "check_balance"}
		if strings.Contains(lower, "checking") {
			cmd.Inputs = map[string]any{"account": "checking"}
		} else if strings.Contains(lower, "savings") {
			cmd.Inputs = map[string]any{"account": "savings"}
		}
		return output(0.85, "balance keyword", cmd), nil
	}

	if containsAny(lower, "flight", "fly ") || strings.HasSuffix(lower, "fly") {
		cmd := command.Command{Type: command.TypeStartFlow, Flow: "book_flight"}
		if inputs := parseRoute(lower); len(inputs) > 0 {
			cmd.Inputs = inputs
		}
		return output(0.85, "flight keyword", cmd), nil
	}

	if pc.Awaiting != nil {
		// No commands: the runtime derives the answer to the pending
		// prompt from the raw message.
		return nlu.Output{Confidence: 0.5, Reasoning: "pending task answer", Model: "rules"}, nil
	}
	return output(0.3, "no rule matched", command.Command{Type: command.TypeClarify}), nil
}

func output(conf float64, why string, cmds ...command.Command) nlu.Output {
	return nlu.Output{Commands: cmds, Confidence: conf, Reasoning: why, Model: "rules"}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// parseRoute extracts start_flow seeds from phrases like "book a
// flight from boston to lisbon". Only the text after the travel
// keyword is scanned, so the "to" in "I want to fly" never reads as a
// destination.
func parseRoute(lower string) map[string]any {
	tail := routeTail(lower)
	if tail == "" {
		return nil
	}
	inputs := make(map[string]any)
	if origin := spanAfter(tail, " from "); origin != "" {
		inputs["origin"] = origin
	}
	if destination := spanAfter(tail, " to "); destination != "" {
		inputs["destination"] = destination
	}
	if len(inputs) == 0 {
		return nil
	}
	return inputs
}

// routeTail returns the message text after the first travel keyword.
func routeTail(lower string) string {
	for _, kw := range []string{"flight", "fly"} {
		if i := strings.Index(lower, kw); i >= 0 {
			return lower[i+len(kw):]
		}
	}
	return ""
}

// spanAfter returns the words following the last occurrence of marker,
// cut at the next marker or punctuation.
func spanAfter(lower, marker string) string {
	i := strings.LastIndex(lower, marker)
	if i < 0 {
		return ""
	}
	rest := lower[i+len(marker):]
	for _, stop := range []string{" from ", " to ", " on ", ",", ".", "?", "!"} {
		if j := strings.Index(rest, stop); j >= 0 {
			rest = rest[:j]
		}
	}
	return strings.TrimSpace(rest)
}

// parseCorrection matches "change <slot> to <value>". Multi-word slot
// names use spaces in the message and underscores in flow definitions.
func parseCorrection(lower string) (slot, value string, ok bool) {
	const prefix = "change "
	if !strings.HasPrefix(lower, prefix) {
		return "", "", false
	}
	rest := lower[len(prefix):]
	sep := strings.Index(rest, " to ")
	if sep <= 0 {
		return "", "", false
	}
	slot = strings.ReplaceAll(strings.TrimSpace(rest[:sep]), " ", "_")
	value = strings.TrimSpace(rest[sep+len(" to "):])
	if slot == "" || value == "" {
		return "", "", false
	}
	return slot, value, true
}
