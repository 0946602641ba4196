package flow

import (
	"fmt"
	"strconv"
	"strings"
)

// Render interpolates {slot} placeholders in a template with values
// from the active instance's slot scope. Placeholders whose slot is
// missing or whose contents are not a slot name are left untouched, so
// malformed templates degrade visibly instead of silently.
func Render(template string, slots map[string]any) string {
	if !strings.Contains(template, "{") {
		return template
	}
	var b strings.Builder
	b.Grow(len(template))
	for i := 0; i < len(template); {
		open := strings.IndexByte(template[i:], '{')
		if open < 0 {
			b.WriteString(template[i:])
			break
		}
		open += i
		b.WriteString(template[i:open])
		close := strings.IndexByte(template[open:], '}')
		if close < 0 {
			b.WriteString(template[open:])
			break
		}
		close += open
		name := template[open+1 : close]
		if value, ok := slots[name]; ok && isIdent(name) {
			b.WriteString(formatValue(value))
		} else {
			b.WriteString(template[open : close+1])
		}
		i = close + 1
	}
	return b.String()
}

// formatValue renders a slot value for user-facing text. Floats that
// hold whole numbers print without a decimal point.
func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
