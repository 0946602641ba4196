package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowdial/flowdial/dialog/dialogerr"
)

func bookFlightDef() Definition {
	return Definition{
		Name:        "book_flight",
		Description: "Book a flight between two cities",
		Slots: []SlotSpec{
			{Name: "origin", Type: SlotString, Validator: "nonempty", Prompt: "Where are you flying from?"},
			{Name: "destination", Type: SlotString, Validator: "nonempty", Prompt: "Where are you flying to?"},
		},
		Outputs: []string{"results"},
		Steps: []StepDef{
			{ID: "ask_origin", Collect: &CollectDef{Slot: "origin"}},
			{ID: "ask_destination", Collect: &CollectDef{Slot: "destination"}},
			{ID: "search", Action: &ActionDef{
				Name:    "search_flights",
				Inputs:  Mapping{"origin": "", "destination": ""},
				Outputs: Mapping{"results": ""},
			}},
			{ID: "finish", End: &EndDef{Outputs: Mapping{"results": ""}}},
		},
	}
}

func searchActions() map[string]ActionSpec {
	return map[string]ActionSpec{
		"search_flights": {
			Name:    "search_flights",
			Inputs:  []string{"origin", "destination"},
			Outputs: []string{"results"},
		},
	}
}

func TestCompileBookFlight(t *testing.T) {
	t.Parallel()

	set, err := Compile([]Definition{bookFlightDef()}, NewValidators(), searchActions())
	require.NoError(t, err)
	require.Equal(t, 1, set.Len())
	require.Equal(t, []string{"book_flight"}, set.Names())

	g, ok := set.Flow("book_flight")
	require.True(t, ok)
	assert.Equal(t, "book_flight", g.Name())
	assert.Equal(t, "Book a flight between two cities", g.Description())
	assert.Equal(t, "ask_origin", g.Start())
	assert.Equal(t, []string{"results"}, g.Outputs())
	assert.Equal(t, []string{"search_flights"}, g.Actions())

	// Sequential fallback wires each step to the one declared after it.
	first, ok := g.Step("ask_origin")
	require.True(t, ok)
	assert.Equal(t, KindCollect, first.Kind())
	next, ok := first.Next(TagDone)
	require.True(t, ok)
	assert.Equal(t, "ask_destination", next)
	require.NotNil(t, first.Collect())
	assert.Equal(t, "Where are you flying from?", first.Collect().Prompt)

	search, ok := g.Step("search")
	require.True(t, ok)
	require.NotNil(t, search.Action())
	assert.Equal(t, map[string]string{"origin": "origin", "destination": "destination"}, search.Action().Inputs)
	assert.Equal(t, map[string]string{"results": "results"}, search.Action().Outputs)
	next, ok = search.Next(TagDone)
	require.True(t, ok)
	assert.Equal(t, "finish", next)
	_, ok = search.Next(TagActionError)
	assert.False(t, ok, "no error edge declared")

	finish, ok := g.Step("finish")
	require.True(t, ok)
	assert.Equal(t, KindEnd, finish.Kind())
	require.NotNil(t, finish.End())
	// No slot named results, so the output passes through whatever the
	// action wrote.
	assert.Equal(t, map[string]string{"results": ""}, finish.End().Outputs)

	id, ok := g.CollectStep("origin")
	require.True(t, ok)
	assert.Equal(t, "ask_origin", id)
	assert.Less(t, g.StepIndex("ask_origin"), g.StepIndex("search"))
	assert.Equal(t, -1, g.StepIndex("nope"))
}

func TestCompileBranchAndWhile(t *testing.T) {
	t.Parallel()

	def := Definition{
		Name: "transfer",
		Slots: []SlotSpec{
			{Name: "account", Type: SlotEnum, Values: []string{"checking", "savings"}, Prompt: "Which account?"},
			{Name: "remaining", Type: SlotNumber, Prompt: "How many?"},
		},
		Steps: []StepDef{
			{ID: "pick", Collect: &CollectDef{Slot: "account"}},
			{ID: "route", Branch: &BranchDef{
				Slot:  "account",
				Cases: map[string]string{"checking": "drain", "savings": "wrap"},
			}},
			{ID: "drain", While: &WhileDef{Condition: "remaining > 0", Body: "tick"}, Next: "wrap"},
			{ID: "tick", Say: &SayDef{Template: "{remaining} left"}, Next: "drain"},
			{ID: "wrap", End: &EndDef{}},
		},
	}
	set, err := Compile([]Definition{def}, NewValidators(), nil)
	require.NoError(t, err)

	g, ok := set.Flow("transfer")
	require.True(t, ok)

	route, ok := g.Step("route")
	require.True(t, ok)
	require.NotNil(t, route.Branch())
	assert.Equal(t, "drain", route.Branch().Cases["checking"])
	assert.Empty(t, route.Branch().Default, "exhaustive cases need no default")

	drain, ok := g.Step("drain")
	require.True(t, ok)
	body, ok := drain.Next(TagBody)
	require.True(t, ok)
	assert.Equal(t, "tick", body)
	done, ok := drain.Next(TagDone)
	require.True(t, ok)
	assert.Equal(t, "wrap", done)
	require.NotNil(t, drain.While())
	assert.Equal(t, "remaining > 0", drain.While().Source)
}

func TestCompileDefinitionErrors(t *testing.T) {
	t.Parallel()

	base := func(mutate func(*Definition)) []Definition {
		def := bookFlightDef()
		mutate(&def)
		return []Definition{def}
	}

	type testCase struct {
		name string
		defs []Definition
		want string
	}

	cases := []testCase{
		{
			name: "missing_flow_name",
			defs: base(func(d *Definition) { d.Name = "" }),
			want: "flow name is required",
		},
		{
			name: "duplicate_flow_name",
			defs: []Definition{bookFlightDef(), bookFlightDef()},
			want: "duplicate flow name",
		},
		{
			name: "no_steps",
			defs: base(func(d *Definition) { d.Steps = nil }),
			want: "no steps",
		},
		{
			name: "duplicate_step_id",
			defs: base(func(d *Definition) { d.Steps[1].ID = "ask_origin" }),
			want: "duplicate step id",
		},
		{
			name: "two_variants",
			defs: base(func(d *Definition) { d.Steps[0].Say = &SayDef{Template: "hi"} }),
			want: "exactly one variant",
		},
		{
			name: "collect_undeclared_slot",
			defs: base(func(d *Definition) { d.Steps[0].Collect.Slot = "origyn" }),
			want: `undeclared slot "origyn"`,
		},
		{
			name: "unknown_slot_validator",
			defs: base(func(d *Definition) { d.Slots[0].Validator = "no_such" }),
			want: `unknown validator "no_such"`,
		},
		{
			name: "unknown_action",
			defs: base(func(d *Definition) { d.Steps[2].Action.Name = "search_hotels" }),
			want: `unknown action "search_hotels"`,
		},
		{
			name: "unmapped_action_input",
			defs: base(func(d *Definition) { delete(d.Steps[2].Action.Inputs, "destination") }),
			want: `input "destination" is not mapped`,
		},
		{
			name: "extra_action_input",
			defs: base(func(d *Definition) { d.Steps[2].Action.Inputs["cabin"] = "origin" }),
			want: `declares no input "cabin"`,
		},
		{
			name: "end_undeclared_output",
			defs: base(func(d *Definition) { d.Steps[3].End.Outputs["price"] = "" }),
			want: `undeclared output "price"`,
		},
		{
			name: "missing_continuation",
			defs: base(func(d *Definition) { d.Steps = d.Steps[:3] }),
			want: "no continuation",
		},
		{
			name: "unknown_next_target",
			defs: base(func(d *Definition) { d.Steps[0].Next = "warp" }),
			want: `edge target "warp"`,
		},
		{
			name: "on_error_outside_action",
			defs: base(func(d *Definition) { d.Steps[0].OnError = "finish" }),
			want: "on_error applies to action steps",
		},
		{
			name: "next_on_end",
			defs: base(func(d *Definition) { d.Steps[3].Next = "ask_origin" }),
			want: "do not take a next edge",
		},
		{
			name: "missing_start",
			defs: base(func(d *Definition) { d.Start = "warp" }),
			want: `start step "warp"`,
		},
		{
			name: "enum_without_values",
			defs: base(func(d *Definition) {
				d.Slots = append(d.Slots, SlotSpec{Name: "cabin", Type: SlotEnum, Prompt: "Cabin?"})
			}),
			want: "declares no values",
		},
		{
			name: "branch_gap_without_default",
			defs: []Definition{{
				Name:  "route",
				Slots: []SlotSpec{{Name: "kind", Type: SlotEnum, Values: []string{"a", "b"}, Prompt: "?"}},
				Steps: []StepDef{
					{ID: "pick", Collect: &CollectDef{Slot: "kind"}},
					{ID: "route", Branch: &BranchDef{Slot: "kind", Cases: map[string]string{"a": "stop"}}},
					{ID: "stop", End: &EndDef{}},
				},
			}},
			want: `enum value "b" has no case`,
		},
		{
			name: "branch_case_outside_enum",
			defs: []Definition{{
				Name:  "route",
				Slots: []SlotSpec{{Name: "kind", Type: SlotEnum, Values: []string{"a"}, Prompt: "?"}},
				Steps: []StepDef{
					{ID: "route", Branch: &BranchDef{Slot: "kind", Cases: map[string]string{"z": "stop"}}},
					{ID: "stop", End: &EndDef{}},
				},
			}},
			want: `not a value of enum slot`,
		},
		{
			name: "jump_unknown_target",
			defs: base(func(d *Definition) {
				d.Steps = append(d.Steps[:3:3], StepDef{ID: "hop", Jump: &JumpDef{Target: "warp"}}, d.Steps[3])
			}),
			want: `edge target "warp"`,
		},
		{
			name: "while_undeclared_slot",
			defs: []Definition{{
				Name:  "loop",
				Slots: []SlotSpec{{Name: "n", Type: SlotNumber, Prompt: "?"}},
				Steps: []StepDef{
					{ID: "spin", While: &WhileDef{Condition: "m > 0", Body: "spin"}, Next: "stop"},
					{ID: "stop", End: &EndDef{}},
				},
			}},
			want: `undeclared slot "m"`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := Compile(tc.defs, NewValidators(), searchActions())
			require.Error(t, err)
			assert.Equal(t, dialogerr.KindFlowDefinition, dialogerr.KindOf(err))
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestValidateSlotThroughSubgraph(t *testing.T) {
	t.Parallel()

	def := Definition{
		Name: "send_money",
		Slots: []SlotSpec{
			{Name: "amount", Type: SlotNumber, Validator: "positive_integer", Prompt: "How much?"},
		},
		Steps: []StepDef{
			{ID: "ask", Collect: &CollectDef{Slot: "amount"}},
			{ID: "stop", End: &EndDef{}},
		},
	}
	set, err := Compile([]Definition{def}, NewValidators(), nil)
	require.NoError(t, err)
	g, ok := set.Flow("send_money")
	require.True(t, ok)

	value, err := g.ValidateSlot("amount", "3")
	require.NoError(t, err)
	assert.Equal(t, float64(3), value)

	_, err = g.ValidateSlot("amount", "-5")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "positive whole number")

	_, err = g.ValidateSlot("amount", "three")
	require.Error(t, err)

	_, err = g.ValidateSlot("quantity", "3")
	require.Error(t, err, "undeclared slot")
}
