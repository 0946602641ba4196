package flow

import (
	"fmt"
	"strconv"
	"strings"
)

// Condition evaluates a while step's guard against the active
// instance's slot values. Implementations are pure.
type Condition func(slots map[string]any) (bool, error)

// compileCondition parses a condition of the form "slot" (truthy test)
// or "slot OP literal" where OP is one of ==, !=, <, <=, >, >= and the
// literal is a number, a quoted string, true or false. It returns the
// compiled condition and the referenced slot name.
//
// An unfilled slot makes every condition false, so loops guarded on a
// slot terminate once the slot is cleared or never filled.
func compileCondition(src string) (Condition, string, error) {
	text := strings.TrimSpace(src)
	if text == "" {
		return nil, "", fmt.Errorf("empty condition")
	}

	slot, op, lit, err := splitCondition(text)
	if err != nil {
		return nil, "", err
	}
	if op == "" {
		return func(slots map[string]any) (bool, error) {
			return truthy(slots[slot]), nil
		}, slot, nil
	}

	litNum, litIsNum := parseNumberLiteral(lit)
	litStr, err := parseStringLiteral(lit)
	if err != nil {
		return nil, "", err
	}

	switch op {
	case "==", "!=":
		want := op == "=="
		return func(slots map[string]any) (bool, error) {
			v, ok := slots[slot]
			if !ok || v == nil {
				return false, nil
			}
			if litIsNum {
				if f, err := asFloat(v); err == nil {
					return (f == litNum) == want, nil
				}
			}
			return (fmt.Sprint(v) == litStr) == want, nil
		}, slot, nil
	case "<", "<=", ">", ">=":
		if !litIsNum {
			return nil, "", fmt.Errorf("operator %s requires a number, got %q", op, lit)
		}
		return func(slots map[string]any) (bool, error) {
			v, ok := slots[slot]
			if !ok || v == nil {
				return false, nil
			}
			f, err := asFloat(v)
			if err != nil {
				return false, fmt.Errorf("slot %q holds %T, cannot compare with a number", slot, v)
			}
			switch op {
			case "<":
				return f < litNum, nil
			case "<=":
				return f <= litNum, nil
			case ">":
				return f > litNum, nil
			default:
				return f >= litNum, nil
			}
		}, slot, nil
	default:
		return nil, "", fmt.Errorf("unsupported operator %q", op)
	}
}

// splitCondition breaks the condition into slot, operator and literal.
// The operator is optional.
func splitCondition(text string) (slot, op, lit string, err error) {
	for _, candidate := range []string{"==", "!=", "<=", ">=", "<", ">"} {
		i := strings.Index(text, candidate)
		if i < 0 {
			continue
		}
		slot = strings.TrimSpace(text[:i])
		lit = strings.TrimSpace(text[i+len(candidate):])
		if slot == "" || lit == "" {
			return "", "", "", fmt.Errorf("condition %q: missing operand", text)
		}
		if !isIdent(slot) {
			return "", "", "", fmt.Errorf("condition %q: %q is not a slot name", text, slot)
		}
		return slot, candidate, lit, nil
	}
	if !isIdent(text) {
		return "", "", "", fmt.Errorf("condition %q: expected a slot name", text)
	}
	return text, "", "", nil
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func parseNumberLiteral(lit string) (float64, bool) {
	f, err := strconv.ParseFloat(lit, 64)
	return f, err == nil
}

// parseStringLiteral strips matching quotes; bare words pass through.
func parseStringLiteral(lit string) (string, error) {
	if len(lit) >= 2 {
		first, last := lit[0], lit[len(lit)-1]
		if (first == '\'' && last == '\'') || (first == '"' && last == '"') {
			return lit[1 : len(lit)-1], nil
		}
		if first == '\'' || first == '"' {
			return "", fmt.Errorf("unterminated string %s", lit)
		}
	}
	return lit, nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return strings.TrimSpace(t) != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case map[string]any:
		return len(t) > 0
	case []any:
		return len(t) > 0
	default:
		return true
	}
}
