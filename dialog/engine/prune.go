package engine

import "github.com/flowdial/flowdial/dialog/conversation"

// Caps bound the growable state lists. Pruning drops the oldest
// entries past each cap and counts the drops on the state's prune
// marks. A zero field takes the default; a negative field disables
// the cap.
type Caps struct {
	// Messages caps the message history. Default 200.
	Messages int
	// Commands caps the command log. Default 500.
	Commands int
	// Archive caps archived flow instances. The slot scopes of
	// pruned instances are deleted with them. Default 100.
	Archive int
}

const (
	defaultMessageCap = 200
	defaultCommandCap = 500
	defaultArchiveCap = 100
)

func (c Caps) withDefaults() Caps {
	if c.Messages == 0 {
		c.Messages = defaultMessageCap
	}
	if c.Commands == 0 {
		c.Commands = defaultCommandCap
	}
	if c.Archive == 0 {
		c.Archive = defaultArchiveCap
	}
	return c
}

// prune returns a copy of s cut down to the caps. s is not modified.
func (c Caps) prune(s *conversation.State) *conversation.State {
	out := s.Clone()
	if n := overflow(len(out.Messages), c.Messages); n > 0 {
		out.Messages = out.Messages[n:]
		out.Pruned.Messages += n
	}
	if n := overflow(len(out.CommandLog), c.Commands); n > 0 {
		out.CommandLog = out.CommandLog[n:]
		out.Pruned.Commands += n
	}
	if n := overflow(len(out.Archive), c.Archive); n > 0 {
		for _, fc := range out.Archive[:n] {
			delete(out.Slots, fc.ID)
		}
		out.Archive = out.Archive[n:]
		out.Pruned.Archived += n
	}
	return out
}

func overflow(length, limit int) int {
	if limit < 0 || length <= limit {
		return 0
	}
	return length - limit
}
