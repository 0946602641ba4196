package runtime

import (
	"context"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/flowdial/flowdial/dialog/command"
	"github.com/flowdial/flowdial/dialog/conversation"
	"github.com/flowdial/flowdial/dialog/nlu"
)

var errProviderDown = errors.New("provider down")

// genUserMessages produces random conversations over a small alphabet:
// some messages carry commands, one makes the provider fail, and the
// rest fall through to synthesis or clarification.
func genUserMessages() gopter.Gen {
	return gen.SliceOf(gen.OneConstOf(
		"I need to book a flight",
		"check my balance",
		"cancel that",
		"LAX",
		"JFK",
		"yes",
		"no",
		"garbled",
		"hello",
	))
}

func propProvider() nlu.Provider {
	return scripted(map[string]nlu.Output{
		"I need to book a flight": {
			Commands: []command.Command{{Type: command.TypeStartFlow, Flow: "book_flight"}},
		},
		"check my balance": {
			Commands: []command.Command{{Type: command.TypeStartFlow, Flow: "check_balance"}},
		},
		"cancel that": {
			Commands: []command.Command{{Type: command.TypeCancelFlow}},
		},
	}, map[string]error{
		"garbled": errProviderDown,
	})
}

// TestProcessTurnDeterministicProperty checks that a conversation is a
// pure function of its message sequence: two runtimes built from the
// same options produce identical replies for identical input.
func TestProcessTurnDeterministicProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("same messages, same replies", prop.ForAll(
		func(messages []string) bool {
			ctx := context.Background()
			a := newFixture(t, propProvider())
			b := newFixture(t, propProvider())
			for _, msg := range messages {
				ra, errA := a.rt.ProcessTurn(ctx, "u1", msg)
				rb, errB := b.rt.ProcessTurn(ctx, "u1", msg)
				if errA != nil || errB != nil || ra != rb {
					return false
				}
			}
			return true
		},
		genUserMessages(),
	))

	properties.TestingRun(t)
}

// TestProcessTurnStateValidProperty checks that no message sequence can
// drive the persisted state into an inconsistent shape: the stack,
// heap, and pending task invariants hold after every turn, and every
// turn lands exactly one increment on the counter.
func TestProcessTurnStateValidProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("state stays consistent", prop.ForAll(
		func(messages []string) bool {
			ctx := context.Background()
			f := newFixture(t, propProvider())
			for i, msg := range messages {
				if _, err := f.rt.ProcessTurn(ctx, "u1", msg); err != nil {
					return false
				}
				s, err := f.eng.Load(ctx, "u1")
				if err != nil {
					return false
				}
				if err := conversation.Validate(s); err != nil {
					return false
				}
				if s.Turns != i+1 {
					return false
				}
			}
			return true
		},
		genUserMessages(),
	))

	properties.TestingRun(t)
}
