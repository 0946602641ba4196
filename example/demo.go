package travelbot

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/flowdial/flowdial/dialog/runtime"
)

// Script returns the canned conversation the demo plays when run
// non-interactively: booking a flight end to end, with a balance check
// in the middle to show flow interruption and resumption. The departure
// date is minted a month past now so the future_date validator keeps
// passing.
func Script(now time.Time) []string {
	depart := now.AddDate(0, 1, 0).Format("2006-01-02")
	return []string{
		"I need to book a flight from Boston to Lisbon",
		depart,
		"2",
		"wait, can you check my checking balance first?",
		"business",
		"ok",
		"yes",
		"thanks! what can you do?",
	}
}

// Run plays messages through rt for userKey, writing the transcript to
// w. It stops at the first turn that aborts.
func Run(ctx context.Context, rt *runtime.Runtime, userKey string, messages []string, w io.Writer) error {
	for _, msg := range messages {
		if _, err := fmt.Fprintf(w, "you> %s\n", msg); err != nil {
			return err
		}
		reply, err := rt.ProcessTurn(ctx, userKey, msg)
		if err != nil {
			return err
		}
		indented := strings.ReplaceAll(reply, "\n", "\nbot> ")
		if _, err := fmt.Fprintf(w, "bot> %s\n\n", indented); err != nil {
			return err
		}
	}
	return nil
}
