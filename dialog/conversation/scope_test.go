package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowdial/flowdial/dialog/flow"
)

func scopeFlows(t *testing.T) *flow.Set {
	t.Helper()
	defs := []flow.Definition{{
		Name:        "book_flight",
		Description: "Book a flight",
		Slots: []flow.SlotSpec{
			{Name: "origin", Prompt: "From?"},
			{Name: "destination", Prompt: "To?"},
		},
		Outputs: []string{"results"},
		Steps: []flow.StepDef{
			{ID: "ask_origin", Collect: &flow.CollectDef{Slot: "origin"}},
			{ID: "ask_destination", Collect: &flow.CollectDef{Slot: "destination"}},
			{ID: "search", Action: &flow.ActionDef{
				Name:    "search_flights",
				Inputs:  flow.Mapping{"origin": "", "destination": ""},
				Outputs: flow.Mapping{"results": ""},
			}},
			{ID: "finish", End: &flow.EndDef{Outputs: flow.Mapping{"results": ""}}},
		},
	}}
	actions := map[string]flow.ActionSpec{
		"search_flights": {Name: "search_flights", Inputs: []string{"origin", "destination"}, Outputs: []string{"results"}},
	}
	set, err := flow.Compile(defs, flow.NewValidators(), actions)
	require.NoError(t, err)
	return set
}

func TestInScopeSlots(t *testing.T) {
	t.Parallel()

	flows := scopeFlows(t)
	m := testManager()
	s := NewState(testClock)

	assert.Nil(t, InScopeSlots(s, flows), "idle conversation has no slots in scope")

	s = Apply(s, m.PushFlow(s, "book_flight", nil))
	scope := InScopeSlots(s, flows)
	require.Len(t, scope, 2)
	assert.Equal(t, SlotScope{Name: "origin", Type: flow.SlotString}, scope[0])
	assert.Equal(t, SlotScope{Name: "destination", Type: flow.SlotString}, scope[1])

	d, err := m.SetSlot(s, "origin", "NYC")
	require.NoError(t, err)
	s = Apply(s, d)
	scope = InScopeSlots(s, flows)
	assert.True(t, scope[0].Filled)
	assert.False(t, scope[1].Filled)
}

func TestInScopeSlotsUnknownFlow(t *testing.T) {
	t.Parallel()

	flows := scopeFlows(t)
	m := testManager()
	s := NewState(testClock)
	s = Apply(s, m.PushFlow(s, "no_such_flow", nil))

	assert.Nil(t, InScopeSlots(s, flows))
}

func TestInScopeActions(t *testing.T) {
	t.Parallel()

	flows := scopeFlows(t)
	m := testManager()
	s := NewState(testClock)

	assert.Equal(t, PatternActions, InScopeActions(s, flows), "idle conversations see the patterns only")

	s = Apply(s, m.PushFlow(s, "book_flight", nil))
	got := InScopeActions(s, flows)
	assert.Equal(t, append([]string{"search_flights"}, PatternActions...), got)
}
