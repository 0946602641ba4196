package nlu

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/flowdial/flowdial/dialog/command"
)

// commandDocs holds the one-line semantics advertised for each built-in
// command type. Custom types registered by embedders are listed bare.
var commandDocs = map[command.Type]string{
	command.TypeStartFlow:    `begin a flow; "flow" names it, "inputs" may seed slot values`,
	command.TypeCancelFlow:   "abandon the flow being worked on",
	command.TypeSetSlot:      `answer the pending question or volunteer a value; "slot" and "value" are required`,
	command.TypeCorrectSlot:  `change a value given earlier; "slot" and "value" are required`,
	command.TypeAffirm:       "answer yes to the pending confirmation",
	command.TypeDeny:         `answer no to the pending confirmation; "slot" optionally names the value to redo`,
	command.TypeClarify:      `the user is confused or asks what is possible; "topic" is optional`,
	command.TypeHumanHandoff: "the user wants a human",
}

// SystemPrompt renders the instruction block the bundled providers
// send as the system message. types is the command vocabulary to
// advertise, typically Registry.Types.
func SystemPrompt(types []command.Type) string {
	var b strings.Builder
	b.WriteString("You are the command generator of a task-oriented dialogue system.\n")
	b.WriteString("Given the conversation context and the latest user message, emit the commands that capture the user's intent.\n\n")
	b.WriteString("Available commands:\n")
	for _, t := range types {
		if doc, ok := commandDocs[t]; ok {
			fmt.Fprintf(&b, "- %s: %s\n", t, doc)
		} else {
			fmt.Fprintf(&b, "- %s\n", t)
		}
	}
	b.WriteString(`
Rules:
- Start flows only from available_flows; never invent flow names.
- When awaiting is a collect, the message usually answers it: emit set_slot for that slot.
- When awaiting is a confirm, emit affirm_confirmation or deny_confirmation.
- A message can carry several commands; order them as the user meant them.
- When nothing applies, emit an empty command list.

Reply with a single JSON object, no prose:
{"commands": [{"type": "...", "flow": "...", "slot": "...", "value": ..., "inputs": {...}, "topic": "..."}], "confidence": 0.0, "reasoning": "..."}
Omit command fields that do not apply.
`)
	return b.String()
}

// EncodeContext renders the context as indented JSON for embedding in
// a provider prompt.
func EncodeContext(pc Context) (string, error) {
	data, err := json.MarshalIndent(pc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode understanding context: %w", err)
	}
	return string(data), nil
}

// UserPrompt renders the per-turn message the bundled providers send:
// the context JSON followed by the user's words. Keeping the per-turn
// material out of the system prompt lets providers cache the static
// instructions.
func UserPrompt(message string, pc Context) (string, error) {
	ctxJSON, err := EncodeContext(pc)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("Context:\n")
	b.WriteString(ctxJSON)
	b.WriteString("\n\nUser message: ")
	b.WriteString(message)
	return b.String(), nil
}

// DecodeReply parses a model reply into an Output. Replies wrapped in
// markdown fences or surrounded by prose are tolerated: the first
// top-level JSON object found is decoded. Confidence is clamped to
// [0, 1].
func DecodeReply(raw string) (Output, error) {
	body := extractObject(raw)
	if body == "" {
		return Output{}, fmt.Errorf("reply contains no JSON object")
	}
	var out Output
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return Output{}, fmt.Errorf("decode reply: %w", err)
	}
	for i, cmd := range out.Commands {
		if cmd.Type == "" {
			return Output{}, fmt.Errorf("decode reply: command %d has no type", i)
		}
	}
	if out.Confidence < 0 {
		out.Confidence = 0
	}
	if out.Confidence > 1 {
		out.Confidence = 1
	}
	return out, nil
}

// extractObject returns the first balanced top-level JSON object in
// raw, honoring strings and escapes so braces inside values do not
// confuse the scan.
func extractObject(raw string) string {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return raw[start : i+1]
			}
		}
	}
	return ""
}
