package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileCondition(t *testing.T) {
	t.Parallel()

	type testCase struct {
		name  string
		src   string
		slots map[string]any
		want  bool
	}

	cases := []testCase{
		{name: "truthy_number", src: "remaining", slots: map[string]any{"remaining": float64(2)}, want: true},
		{name: "truthy_zero", src: "remaining", slots: map[string]any{"remaining": float64(0)}, want: false},
		{name: "truthy_missing", src: "remaining", slots: map[string]any{}, want: false},
		{name: "truthy_blank_string", src: "note", slots: map[string]any{"note": "  "}, want: false},
		{name: "truthy_bool", src: "confirmed", slots: map[string]any{"confirmed": true}, want: true},
		{name: "gt_holds", src: "amount > 0", slots: map[string]any{"amount": float64(5)}, want: true},
		{name: "gt_fails", src: "amount > 0", slots: map[string]any{"amount": float64(-5)}, want: false},
		{name: "gt_missing_slot", src: "amount > 0", slots: map[string]any{}, want: false},
		{name: "lte_boundary", src: "amount <= 5", slots: map[string]any{"amount": float64(5)}, want: true},
		{name: "numeric_string_value", src: "amount >= 2", slots: map[string]any{"amount": "3"}, want: true},
		{name: "eq_quoted_string", src: "status == 'open'", slots: map[string]any{"status": "open"}, want: true},
		{name: "eq_bare_string", src: "status == closed", slots: map[string]any{"status": "closed"}, want: true},
		{name: "eq_missing_is_false", src: "status == 'open'", slots: map[string]any{}, want: false},
		{name: "neq", src: "count != 3", slots: map[string]any{"count": float64(4)}, want: true},
		{name: "neq_missing_is_false", src: "count != 3", slots: map[string]any{}, want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cond, _, err := compileCondition(tc.src)
			require.NoError(t, err)
			got, err := cond(tc.slots)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCompileConditionReturnsSlotName(t *testing.T) {
	t.Parallel()

	_, slot, err := compileCondition("amount > 0")
	require.NoError(t, err)
	assert.Equal(t, "amount", slot)

	_, slot, err = compileCondition("confirmed")
	require.NoError(t, err)
	assert.Equal(t, "confirmed", slot)
}

func TestCompileConditionErrors(t *testing.T) {
	t.Parallel()

	type testCase struct {
		name string
		src  string
	}

	cases := []testCase{
		{name: "empty", src: "   "},
		{name: "missing_operand", src: "amount >"},
		{name: "bad_ident", src: "3x == 1"},
		{name: "ordering_needs_number", src: "amount < 'five'"},
		{name: "unterminated_string", src: "status == 'open"},
		{name: "not_an_ident", src: "a b c"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, _, err := compileCondition(tc.src)
			require.Error(t, err)
		})
	}
}

func TestConditionComparisonTypeError(t *testing.T) {
	t.Parallel()

	cond, _, err := compileCondition("amount > 0")
	require.NoError(t, err)
	_, err = cond(map[string]any{"amount": map[string]any{"a": 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot compare")
}
