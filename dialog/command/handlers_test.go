package command

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowdial/flowdial/dialog/conversation"
	"github.com/flowdial/flowdial/dialog/dialogerr"
	"github.com/flowdial/flowdial/dialog/flow"
)

func TestStartFlowSeedsValidatedInputs(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := conversation.NewState(f.clock())

	// amount coerces to a number, recipient fails nonempty, mystery
	// is undeclared; only amount survives.
	res, err := handleStartFlow(f.env, s, Command{
		Type: TypeStartFlow,
		Flow: "transfer_money",
		Inputs: map[string]any{
			"amount":    "50",
			"recipient": "",
			"mystery":   "x",
		},
	})
	require.NoError(t, err)

	next := conversation.Apply(s, res.Delta)
	active, ok := conversation.Active(next)
	require.True(t, ok)
	assert.Equal(t, "transfer_money", active.Flow)

	value, ok := conversation.SlotValue(next, "amount")
	require.True(t, ok)
	assert.Equal(t, float64(50), value)
	assert.False(t, conversation.SlotFilled(next, "recipient"))
	_, ok = conversation.SlotValue(next, "mystery")
	assert.False(t, ok)
	assert.Nil(t, next.Awaiting)
}

func TestStartFlowUnknownFlow(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := conversation.NewState(f.clock())

	_, err := handleStartFlow(f.env, s, Command{Type: TypeStartFlow, Flow: "ride_share"})
	require.Error(t, err)
	assert.Equal(t, dialogerr.KindUnknownFlow, dialogerr.KindOf(err))
}

func TestCancelFlowPopsAndClearsAwaiting(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := f.stateAt(t, "transfer_money", "ask_amount",
		map[string]any{"recipient": "Alice"},
		&conversation.Awaiting{Kind: conversation.AwaitCollect, Slot: "amount", Prompt: "How much should I send?"})

	res, err := handleCancelFlow(f.env, s, Command{Type: TypeCancelFlow})
	require.NoError(t, err)

	next := conversation.Apply(s, res.Delta)
	_, ok := conversation.Active(next)
	assert.False(t, ok)
	require.Len(t, next.Archive, 1)
	assert.Equal(t, conversation.StatusCancelled, next.Archive[0].Status)
	assert.Nil(t, next.Awaiting)
	require.Len(t, res.Messages, 1)
	assert.Contains(t, res.Messages[0], "cancelled transfer money")
}

func TestCancelFlowIdle(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := conversation.NewState(f.clock())

	_, err := handleCancelFlow(f.env, s, Command{Type: TypeCancelFlow})
	require.Error(t, err)
	assert.Equal(t, dialogerr.KindNoActiveFlow, dialogerr.KindOf(err))
}

func TestSetSlotFillsPendingCollect(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := f.stateAt(t, "transfer_money", "ask_amount",
		map[string]any{"recipient": "Alice"},
		&conversation.Awaiting{Kind: conversation.AwaitCollect, Slot: "amount", Prompt: "How much should I send?"})

	res, err := handleSetSlot(f.env, s, Command{Type: TypeSetSlot, Slot: "amount", Value: "250"})
	require.NoError(t, err)

	next := conversation.Apply(s, res.Delta)
	value, ok := conversation.SlotValue(next, "amount")
	require.True(t, ok)
	assert.Equal(t, float64(250), value)
	assert.Nil(t, next.Awaiting, "satisfied collect clears the pending prompt")
}

func TestSetSlotUnrelatedKeepsAwaiting(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := f.stateAt(t, "transfer_money", "ask_amount", nil,
		&conversation.Awaiting{Kind: conversation.AwaitCollect, Slot: "amount", Prompt: "How much should I send?"})

	res, err := handleSetSlot(f.env, s, Command{Type: TypeSetSlot, Slot: "recipient", Value: "Bob"})
	require.NoError(t, err)

	next := conversation.Apply(s, res.Delta)
	value, _ := conversation.SlotValue(next, "recipient")
	assert.Equal(t, "Bob", value)
	require.NotNil(t, next.Awaiting)
	assert.Equal(t, "amount", next.Awaiting.Slot)
}

func TestSetSlotInvalidValue(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := f.stateAt(t, "transfer_money", "ask_amount",
		map[string]any{"recipient": "Alice"},
		&conversation.Awaiting{Kind: conversation.AwaitCollect, Slot: "amount", Prompt: "How much should I send?"})

	res, err := handleSetSlot(f.env, s, Command{Type: TypeSetSlot, Slot: "amount", Value: "-5"})
	require.Error(t, err)
	assert.Equal(t, dialogerr.KindInvalidSlotValue, dialogerr.KindOf(err))
	assert.True(t, res.Delta.Empty())
	require.Len(t, res.Messages, 2)
	assert.Contains(t, res.Messages[0], "positive whole number")
	assert.Equal(t, "How much should I send?", res.Messages[1])
}

func TestSetSlotIdle(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := conversation.NewState(f.clock())

	_, err := handleSetSlot(f.env, s, Command{Type: TypeSetSlot, Slot: "amount", Value: "5"})
	require.Error(t, err)
	assert.Equal(t, dialogerr.KindNoActiveFlow, dialogerr.KindOf(err))
}

func TestCorrectSlotRewindsPastCollect(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := f.stateAt(t, "transfer_money", "confirm_transfer",
		map[string]any{"recipient": "Alice", "amount": float64(50)},
		&conversation.Awaiting{Kind: conversation.AwaitConfirm, Prompt: "Send 50 to Alice?"})

	res, err := handleCorrectSlot(f.env, s, Command{Type: TypeCorrectSlot, Slot: "amount", Value: "75"})
	require.NoError(t, err)
	assert.Equal(t, "replaced 50", res.Reason)

	next := conversation.Apply(s, res.Delta)
	active, ok := conversation.Active(next)
	require.True(t, ok)
	assert.Equal(t, "ask_amount", active.Step, "execution rewinds to the corrected slot's collect")
	value, _ := conversation.SlotValue(next, "amount")
	assert.Equal(t, float64(75), value)
	assert.Nil(t, next.Awaiting)
}

func TestCorrectSlotAheadOfCollect(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := f.stateAt(t, "transfer_money", "ask_recipient", nil,
		&conversation.Awaiting{Kind: conversation.AwaitCollect, Slot: "recipient", Prompt: "Who should receive the money?"})

	res, err := handleCorrectSlot(f.env, s, Command{Type: TypeCorrectSlot, Slot: "amount", Value: "10"})
	require.NoError(t, err)
	assert.Empty(t, res.Reason, "no prior value, nothing replaced")

	next := conversation.Apply(s, res.Delta)
	active, _ := conversation.Active(next)
	assert.Equal(t, "ask_recipient", active.Step, "collect not yet reached, no rewind")
	value, _ := conversation.SlotValue(next, "amount")
	assert.Equal(t, float64(10), value)
	require.NotNil(t, next.Awaiting)
	assert.Equal(t, "recipient", next.Awaiting.Slot)
}

func TestAffirmAdvancesThroughConfirm(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := f.stateAt(t, "transfer_money", "confirm_transfer",
		map[string]any{"recipient": "Alice", "amount": float64(50)},
		&conversation.Awaiting{Kind: conversation.AwaitConfirm, Prompt: "Send 50 to Alice?"})

	res, err := handleAffirm(f.env, s, Command{Type: TypeAffirm})
	require.NoError(t, err)

	next := conversation.Apply(s, res.Delta)
	active, ok := conversation.Active(next)
	require.True(t, ok)
	assert.Equal(t, "do_transfer", active.Step)
	assert.Nil(t, next.Awaiting)
}

func TestAffirmWithoutPendingConfirm(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	type testCase struct {
		name  string
		state *conversation.State
	}
	cases := []testCase{
		{name: "idle", state: conversation.NewState(f.clock())},
		{name: "awaiting collect", state: f.stateAt(t, "transfer_money", "ask_amount", nil,
			&conversation.Awaiting{Kind: conversation.AwaitCollect, Slot: "amount", Prompt: "How much should I send?"})},
		{name: "mid flow not suspended", state: f.stateAt(t, "transfer_money", "ask_recipient", nil, nil)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res, err := handleAffirm(f.env, tc.state, Command{Type: TypeAffirm})
			require.NoError(t, err)
			assert.Equal(t, conversation.ResultSkipped, res.Outcome)
			assert.Equal(t, "no confirmation pending", res.Reason)
			assert.True(t, res.Delta.Empty())
		})
	}
}

func TestDenyWithRewindSlot(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := f.stateAt(t, "transfer_money", "confirm_transfer",
		map[string]any{"recipient": "Alice", "amount": float64(50)},
		&conversation.Awaiting{Kind: conversation.AwaitConfirm, Prompt: "Send 50 to Alice?"})

	res, err := handleDeny(f.env, s, Command{Type: TypeDeny, Slot: "amount"})
	require.NoError(t, err)

	next := conversation.Apply(s, res.Delta)
	active, ok := conversation.Active(next)
	require.True(t, ok)
	assert.Equal(t, "ask_amount", active.Step)
	assert.False(t, conversation.SlotFilled(next, "amount"), "denied slot is cleared so collect re-asks")
	assert.Nil(t, next.Awaiting)
}

func TestDenyFollowsDeclaredEdge(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := f.stateAt(t, "delete_account", "confirm_delete", nil,
		&conversation.Awaiting{Kind: conversation.AwaitConfirm, Prompt: "Really delete your account?"})

	res, err := handleDeny(f.env, s, Command{Type: TypeDeny})
	require.NoError(t, err)
	assert.Empty(t, res.Messages)

	next := conversation.Apply(s, res.Delta)
	active, ok := conversation.Active(next)
	require.True(t, ok)
	assert.Equal(t, "keep", active.Step)
	assert.Nil(t, next.Awaiting)
}

func TestDenyCancelsWithoutEdgeOrSlot(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := f.stateAt(t, "transfer_money", "confirm_transfer",
		map[string]any{"recipient": "Alice", "amount": float64(50)},
		&conversation.Awaiting{Kind: conversation.AwaitConfirm, Prompt: "Send 50 to Alice?"})

	res, err := handleDeny(f.env, s, Command{Type: TypeDeny})
	require.NoError(t, err)

	next := conversation.Apply(s, res.Delta)
	_, ok := conversation.Active(next)
	assert.False(t, ok)
	require.Len(t, next.Archive, 1)
	assert.Equal(t, conversation.StatusCancelled, next.Archive[0].Status)
	assert.Nil(t, next.Awaiting)
	require.Len(t, res.Messages, 1)
	assert.Contains(t, res.Messages[0], "won't proceed with transfer money")
}

func TestClarifyIdleListsFlows(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := conversation.NewState(f.clock())

	res, err := handleClarify(f.env, s, Command{Type: TypeClarify})
	require.NoError(t, err)
	assert.True(t, res.Delta.Empty())
	require.Len(t, res.Messages, 1)
	assert.Equal(t, "I can help with: book flight, transfer money, delete account.", res.Messages[0])
}

func TestClarifyDuringFlowReprompts(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := f.stateAt(t, "transfer_money", "ask_amount", nil,
		&conversation.Awaiting{Kind: conversation.AwaitCollect, Slot: "amount", Prompt: "How much should I send?"})

	res, err := handleClarify(f.env, s, Command{Type: TypeClarify})
	require.NoError(t, err)
	require.Len(t, res.Messages, 2)
	assert.Contains(t, res.Messages[0], "transfer money")
	assert.Equal(t, "How much should I send?", res.Messages[1])
}

func TestClarifyUsesHelpGenerator(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	env := f.env
	env.Help = HelpFunc(func(_ *conversation.State, topic string) string {
		return "help about " + topic
	})
	s := conversation.NewState(f.clock())

	res, err := handleClarify(env, s, Command{Type: TypeClarify, Topic: "fees"})
	require.NoError(t, err)
	require.NotEmpty(t, res.Messages)
	assert.Equal(t, "help about fees", res.Messages[0])
}

// fixture wires a compiled flow set, a deterministic manager, and an
// executor for command tests.
type fixture struct {
	env  Env
	exec *Executor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	seq := 0
	mgr := conversation.NewManager(conversation.ManagerOptions{
		NewID: func() string { seq++; return fmt.Sprintf("fc-%d", seq) },
		Now:   fixtureClock,
	})
	f := &fixture{
		env:  Env{Flows: fixtureFlows(t), Manager: mgr, Turn: 1},
		exec: NewExecutor(ExecutorOptions{Now: fixtureClock}),
	}
	return f
}

func (f *fixture) clock() time.Time { return fixtureClock() }

func fixtureClock() time.Time {
	return time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
}

// stateAt builds a state with one running instance of the named flow,
// positioned at stepID with the given slots and pending input.
func (f *fixture) stateAt(t *testing.T, flowName, stepID string, slots map[string]any, awaiting *conversation.Awaiting) *conversation.State {
	t.Helper()
	s := conversation.NewState(fixtureClock())
	s = conversation.Apply(s, f.env.Manager.PushFlow(s, flowName, slots))
	if stepID != "" {
		d, err := f.env.Manager.UpdateStep(s, stepID)
		require.NoError(t, err)
		s = conversation.Apply(s, d)
	}
	if awaiting != nil {
		s = conversation.Apply(s, conversation.SetAwaiting(awaiting))
	}
	return s
}

func fixtureFlows(t *testing.T) *flow.Set {
	t.Helper()
	defs := []flow.Definition{
		{
			Name: "book_flight",
			Slots: []flow.SlotSpec{
				{Name: "origin", Type: flow.SlotString, Validator: "nonempty"},
				{Name: "destination", Type: flow.SlotString, Validator: "nonempty"},
			},
			Outputs: []string{"results"},
			Steps: []flow.StepDef{
				{ID: "ask_origin", Collect: &flow.CollectDef{Slot: "origin", Prompt: "Where are you flying from?"}},
				{ID: "ask_destination", Collect: &flow.CollectDef{Slot: "destination", Prompt: "Where would you like to go?"}},
				{ID: "search", Action: &flow.ActionDef{
					Name:    "search_flights",
					Inputs:  flow.Mapping{"origin": "", "destination": ""},
					Outputs: flow.Mapping{"results": ""},
				}},
				{ID: "finish", End: &flow.EndDef{Outputs: flow.Mapping{"results": ""}}},
			},
		},
		{
			Name: "transfer_money",
			Slots: []flow.SlotSpec{
				{Name: "recipient", Type: flow.SlotString, Validator: "nonempty"},
				{Name: "amount", Type: flow.SlotNumber, Validator: "positive_integer"},
			},
			Outputs: []string{"reference"},
			Steps: []flow.StepDef{
				{ID: "ask_recipient", Collect: &flow.CollectDef{Slot: "recipient", Prompt: "Who should receive the money?"}},
				{ID: "ask_amount", Collect: &flow.CollectDef{Slot: "amount", Prompt: "How much should I send?"}},
				{ID: "confirm_transfer", Confirm: &flow.ConfirmDef{Template: "Send {amount} to {recipient}?"}},
				{ID: "do_transfer", Action: &flow.ActionDef{
					Name:    "transfer",
					Inputs:  flow.Mapping{"recipient": "", "amount": ""},
					Outputs: flow.Mapping{"reference": ""},
				}},
				{ID: "finish", End: &flow.EndDef{Outputs: flow.Mapping{"reference": ""}}},
			},
		},
		{
			Name: "delete_account",
			Steps: []flow.StepDef{
				{ID: "confirm_delete", Confirm: &flow.ConfirmDef{Template: "Really delete your account?"}, OnDeny: "keep"},
				{ID: "wipe", Say: &flow.SayDef{Template: "Your account is gone."}, Next: "finish"},
				{ID: "keep", Say: &flow.SayDef{Template: "No changes made."}, Next: "finish"},
				{ID: "finish", End: &flow.EndDef{}},
			},
		},
	}
	actions := map[string]flow.ActionSpec{
		"search_flights": {Name: "search_flights", Inputs: []string{"origin", "destination"}, Outputs: []string{"results"}},
		"transfer":       {Name: "transfer", Inputs: []string{"recipient", "amount"}, Outputs: []string{"reference"}},
	}
	set, err := flow.Compile(defs, nil, actions)
	require.NoError(t, err)
	return set
}
