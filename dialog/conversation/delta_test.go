package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeltaEmpty(t *testing.T) {
	t.Parallel()

	assert.True(t, Delta{}.Empty())
	assert.False(t, Delta{AddTurns: 1}.Empty())
	assert.False(t, Delta{AwaitingSet: true}.Empty())
	assert.False(t, SetLastError("nlu_error").Empty())
}

// Merging deltas then applying once must equal applying each delta in
// order. This is the accumulation pattern the command executor uses.
func TestMergeMatchesSequentialApply(t *testing.T) {
	t.Parallel()

	m := testManager()
	initial := NewState(testClock)

	view := initial
	var acc Delta

	step := func(d Delta) {
		view = Apply(view, d)
		acc = Merge(acc, d)
	}

	step(m.PushFlow(view, "check_balance", nil))
	d, err := m.SetSlot(view, "account", "checking")
	require.NoError(t, err)
	step(d)
	step(m.PushFlow(view, "book_flight", map[string]any{"origin": "NYC"}))
	d, err = m.SetSlot(view, "destination", "LAX")
	require.NoError(t, err)
	step(d)
	d, err = m.PopFlow(view, map[string]any{"results": "UA 12"}, StatusCompleted)
	require.NoError(t, err)
	step(d)
	step(AppendMessage(Message{ID: "m1", Role: RoleAssistant, Content: "done", At: testClock}))
	step(AppendCommand(CommandRecord{Turn: 1, Type: "SetSlot", Result: ResultSuccess, At: testClock}))
	step(SetAwaiting(&Awaiting{Kind: AwaitCollect, Slot: "amount", Prompt: "How much?"}))
	step(Delta{AddTurns: 1})

	merged := Apply(initial, acc)
	assert.Equal(t, view, merged)

	// The starting state never changed along the way.
	assert.Empty(t, initial.Stack)
	assert.Empty(t, initial.Slots)
	assert.Zero(t, initial.Turns)
}

func TestApplySetsAndClearsAwaiting(t *testing.T) {
	t.Parallel()

	s := NewState(testClock)
	s = Apply(s, SetAwaiting(&Awaiting{Kind: AwaitConfirm, Prompt: "Proceed?"}))
	require.NotNil(t, s.Awaiting)
	assert.Equal(t, AwaitConfirm, s.Awaiting.Kind)

	s = Apply(s, SetAwaiting(nil))
	assert.Nil(t, s.Awaiting)
}

func TestApplyRecordsTrace(t *testing.T) {
	t.Parallel()

	s := NewState(testClock)
	s = Apply(s, Delta{NLU: &NLUTrace{Commands: 2, Confidence: 0.9, At: testClock}})
	require.NotNil(t, s.LastNLU)
	assert.Equal(t, 2, s.LastNLU.Commands)

	s = Apply(s, SetLastError("nlu_error"))
	assert.Equal(t, "nlu_error", s.LastError)
	s = Apply(s, SetLastError(""))
	assert.Empty(t, s.LastError)
}

func TestCloneIsIndependent(t *testing.T) {
	t.Parallel()

	m := testManager()
	s := NewState(testClock)
	s = Apply(s, m.PushFlow(s, "transfer", map[string]any{"amount": float64(5)}))

	c := s.Clone()
	c.Stack[0].Status = StatusError
	c.Slots["fc-1"]["amount"] = float64(99)
	c.Messages = append(c.Messages, Message{ID: "x"})

	assert.Equal(t, StatusActive, s.Stack[0].Status)
	assert.Equal(t, float64(5), s.Slots["fc-1"]["amount"])
	assert.Empty(t, s.Messages)
}
