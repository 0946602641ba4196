package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRender(t *testing.T) {
	t.Parallel()

	type testCase struct {
		name     string
		template string
		slots    map[string]any
		want     string
	}

	cases := []testCase{
		{
			name:     "plain_text",
			template: "no placeholders here",
			slots:    map[string]any{"x": 1},
			want:     "no placeholders here",
		},
		{
			name:     "single_slot",
			template: "Flying from {origin}.",
			slots:    map[string]any{"origin": "NYC"},
			want:     "Flying from NYC.",
		},
		{
			name:     "two_slots",
			template: "{origin} to {destination}",
			slots:    map[string]any{"origin": "NYC", "destination": "LAX"},
			want:     "NYC to LAX",
		},
		{
			name:     "missing_slot_left_visible",
			template: "Flying from {origin}.",
			slots:    map[string]any{},
			want:     "Flying from {origin}.",
		},
		{
			name:     "whole_number_without_decimals",
			template: "{amount} dollars",
			slots:    map[string]any{"amount": float64(250)},
			want:     "250 dollars",
		},
		{
			name:     "fraction_keeps_decimals",
			template: "{rate}%",
			slots:    map[string]any{"rate": 2.5},
			want:     "2.5%",
		},
		{
			name:     "bool_value",
			template: "insured: {insured}",
			slots:    map[string]any{"insured": true},
			want:     "insured: true",
		},
		{
			name:     "unterminated_brace",
			template: "oops {origin",
			slots:    map[string]any{"origin": "NYC"},
			want:     "oops {origin",
		},
		{
			name:     "non_ident_braces_left",
			template: "set {a b} manually",
			slots:    map[string]any{"a b": "x"},
			want:     "set {a b} manually",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.want, Render(tc.template, tc.slots))
		})
	}
}
