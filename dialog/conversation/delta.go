package conversation

type (
	// Delta names the state fields an operation wants changed. Zero
	// fields mean no change; appends concatenate, the stack replaces
	// wholesale, slot writes overlay per instance. Producers never
	// touch the state they were given.
	Delta struct {
		// Stack replaces the flow stack when StackSet holds. A
		// replacement always carries the full stack, not a patch.
		Stack    []FlowContext
		StackSet bool
		// Slots overlays values onto the heap, keyed by instance id.
		Slots map[string]map[string]any
		// Archive entries to append.
		Archive []FlowContext
		// Commands appends to the command log.
		Commands []CommandRecord
		// Messages appends to the history.
		Messages []Message
		// Awaiting replaces the pending task marker when AwaitingSet
		// holds; nil clears it.
		Awaiting    *Awaiting
		AwaitingSet bool
		// NLU replaces the last understanding trace when non-nil.
		NLU *NLUTrace
		// LastError replaces the recorded failure kind when
		// LastErrorSet holds; empty clears it.
		LastError    string
		LastErrorSet bool
		// AddTurns increments the turn counter.
		AddTurns int
	}
)

// Empty reports whether applying the delta would change nothing.
func (d Delta) Empty() bool {
	return !d.StackSet && len(d.Slots) == 0 && len(d.Archive) == 0 &&
		len(d.Commands) == 0 && len(d.Messages) == 0 && !d.AwaitingSet &&
		d.NLU == nil && !d.LastErrorSet && d.AddTurns == 0
}

// Merge combines deltas left to right into one delta whose application
// equals applying each in order: appends concatenate, slot overlays
// stack up, and whole-field replacements keep the rightmost value.
func Merge(deltas ...Delta) Delta {
	var out Delta
	for _, d := range deltas {
		if d.StackSet {
			out.Stack = d.Stack
			out.StackSet = true
		}
		if len(d.Slots) > 0 {
			if out.Slots == nil {
				out.Slots = make(map[string]map[string]any)
			}
			for id, slots := range d.Slots {
				scope := out.Slots[id]
				if scope == nil {
					scope = make(map[string]any, len(slots))
					out.Slots[id] = scope
				}
				for name, value := range slots {
					scope[name] = value
				}
			}
		}
		out.Archive = append(out.Archive, d.Archive...)
		out.Commands = append(out.Commands, d.Commands...)
		out.Messages = append(out.Messages, d.Messages...)
		if d.AwaitingSet {
			out.Awaiting = d.Awaiting
			out.AwaitingSet = true
		}
		if d.NLU != nil {
			out.NLU = d.NLU
		}
		if d.LastErrorSet {
			out.LastError = d.LastError
			out.LastErrorSet = true
		}
		out.AddTurns += d.AddTurns
	}
	return out
}

// Apply merges a delta into a copy of the state. The input state is
// never modified.
func Apply(s *State, d Delta) *State {
	out := s.Clone()
	if d.StackSet {
		out.Stack = cloneContexts(d.Stack)
	}
	for id, slots := range d.Slots {
		scope := out.Slots[id]
		if scope == nil {
			scope = make(map[string]any, len(slots))
			out.Slots[id] = scope
		}
		for name, value := range slots {
			scope[name] = value
		}
	}
	for _, fc := range d.Archive {
		out.Archive = append(out.Archive, cloneContext(fc))
	}
	out.CommandLog = append(out.CommandLog, d.Commands...)
	out.Messages = append(out.Messages, d.Messages...)
	if d.AwaitingSet {
		if d.Awaiting != nil {
			aw := *d.Awaiting
			out.Awaiting = &aw
		} else {
			out.Awaiting = nil
		}
	}
	if d.NLU != nil {
		trace := *d.NLU
		out.LastNLU = &trace
	}
	if d.LastErrorSet {
		out.LastError = d.LastError
	}
	out.Turns += d.AddTurns
	return out
}

// AppendMessage returns a delta appending one history entry.
func AppendMessage(msg Message) Delta {
	return Delta{Messages: []Message{msg}}
}

// AppendCommand returns a delta appending one command log entry.
func AppendCommand(rec CommandRecord) Delta {
	return Delta{Commands: []CommandRecord{rec}}
}

// SetAwaiting returns a delta replacing the pending task marker; nil
// clears it.
func SetAwaiting(aw *Awaiting) Delta {
	return Delta{Awaiting: aw, AwaitingSet: true}
}

// SetLastError returns a delta recording a turn failure kind; empty
// clears it.
func SetLastError(kind string) Delta {
	return Delta{LastError: kind, LastErrorSet: true}
}
