package travelbot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowdial/flowdial/dialog/command"
	"github.com/flowdial/flowdial/dialog/conversation"
	"github.com/flowdial/flowdial/dialog/nlu"
)

func TestRulesKeywords(t *testing.T) {
	cases := []struct {
		name    string
		message string
		want    command.Type
	}{
		{"handoff", "let me talk to a human", command.TypeHumanHandoff},
		{"cancel", "never mind, forget the whole thing", command.TypeCancelFlow},
		{"help", "what can you do?", command.TypeClarify},
		{"flight", "I want to book a flight", command.TypeStartFlow},
		{"balance", "what's my balance?", command.TypeStartFlow},
		{"fallback", "tell me a joke", command.TypeClarify},
	}
	p := NewRules()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := p.Understand(context.Background(), tc.message, nlu.Context{})
			require.NoError(t, err)
			require.Len(t, out.Commands, 1)
			assert.Equal(t, tc.want, out.Commands[0].Type)
		})
	}
}

func TestRulesRouteSeeds(t *testing.T) {
	p := NewRules()

	out, err := p.Understand(context.Background(), "I want to fly from New York to Lisbon", nlu.Context{})
	require.NoError(t, err)
	require.Len(t, out.Commands, 1)
	cmd := out.Commands[0]
	assert.Equal(t, command.TypeStartFlow, cmd.Type)
	assert.Equal(t, "book_flight", cmd.Flow)
	assert.Equal(t, map[string]any{"origin": "new york", "destination": "lisbon"}, cmd.Inputs)

	out, err = p.Understand(context.Background(), "book a flight to Paris", nlu.Context{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"destination": "paris"}, out.Commands[0].Inputs)
}

func TestRulesCorrection(t *testing.T) {
	p := NewRules()
	out, err := p.Understand(context.Background(), "change depart date to 2026-10-02", nlu.Context{})
	require.NoError(t, err)
	require.Len(t, out.Commands, 1)
	cmd := out.Commands[0]
	assert.Equal(t, command.TypeCorrectSlot, cmd.Type)
	assert.Equal(t, "depart_date", cmd.Slot)
	assert.Equal(t, "2026-10-02", cmd.Value)
}

func TestRulesDefersPendingAnswers(t *testing.T) {
	p := NewRules()
	pc := nlu.Context{Awaiting: &conversation.Awaiting{
		Kind: conversation.AwaitCollect,
		Slot: "destination",
	}}
	out, err := p.Understand(context.Background(), "Lisbon", pc)
	require.NoError(t, err)
	assert.Empty(t, out.Commands, "pending answers are left to the runtime")
}

func TestRulesBalanceAccountSeed(t *testing.T) {
	p := NewRules()
	out, err := p.Understand(context.Background(), "how much money is in my savings account?", nlu.Context{})
	require.NoError(t, err)
	require.Len(t, out.Commands, 1)
	assert.Equal(t, "check_balance", out.Commands[0].Flow)
	assert.Equal(t, map[string]any{"account": "savings"}, out.Commands[0].Inputs)
}
