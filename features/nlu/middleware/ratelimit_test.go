package middleware

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/flowdial/flowdial/dialog/conversation"
	"github.com/flowdial/flowdial/dialog/nlu"
)

type fakeProvider struct {
	understandErr error

	calls int
}

func (f *fakeProvider) Understand(_ context.Context, _ string, _ nlu.Context) (nlu.Output, error) {
	f.calls++
	return nlu.Output{}, f.understandErr
}

// budget reads the limiter's current TPM under lock.
func budget(l *AdaptiveRateLimiter) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentTPM
}

func TestBackoffHalvesBudget(t *testing.T) {
	lim := newAdaptiveRateLimiter(60000, 60000)
	wrapped := lim.Middleware()(&fakeProvider{understandErr: nlu.ErrRateLimited})

	_, err := wrapped.Understand(context.Background(), "hello", nlu.Context{})
	if !errors.Is(err, nlu.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if got := budget(lim); got != 30000 {
		t.Fatalf("backoff left budget at %f, want 30000", got)
	}
}

func TestBackoffStopsAtFloor(t *testing.T) {
	lim := newAdaptiveRateLimiter(60000, 60000)
	for i := 0; i < 20; i++ {
		lim.backoff()
	}
	// The floor is a tenth of the initial budget.
	if got := budget(lim); got < 5999 || got > 6001 {
		t.Fatalf("budget bottomed out at %f, want the 6000 floor", got)
	}
}

func TestProbeRestoresBudget(t *testing.T) {
	lim := newAdaptiveRateLimiter(60000, 120000)
	lim.mu.Lock()
	lim.recoveryRate = 1000
	lim.mu.Unlock()

	wrapped := lim.Middleware()(&fakeProvider{})
	if _, err := wrapped.Understand(context.Background(), "hello", nlu.Context{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := budget(lim); got != 61000 {
		t.Fatalf("probe left budget at %f, want 61000", got)
	}
}

func TestProbeStopsAtCeiling(t *testing.T) {
	lim := newAdaptiveRateLimiter(60000, 61000)
	for i := 0; i < 10; i++ {
		lim.probe()
	}
	if got := budget(lim); got != 61000 {
		t.Fatalf("budget topped out at %f, want the 61000 ceiling", got)
	}
}

func TestWaitFailureSkipsProvider(t *testing.T) {
	lim := newAdaptiveRateLimiter(60, 60)
	lim.mu.Lock()
	// A zero-burst bucket rejects any request instantly, which exercises
	// the queue-failure path without depending on timing.
	lim.limiter = rate.NewLimiter(0, 0)
	lim.mu.Unlock()

	provider := &fakeProvider{}
	wrapped := lim.Middleware()(provider)

	_, err := wrapped.Understand(context.Background(), strings.Repeat("a", 600), nlu.Context{})
	if err == nil {
		t.Fatal("expected limiter error")
	}
	if provider.calls != 0 {
		t.Fatalf("provider saw %d calls before capacity was granted", provider.calls)
	}
}

func TestEstimateTokensGrowsWithInput(t *testing.T) {
	small := estimateTokens("short", nlu.Context{})
	big := estimateTokens("this is a much longer message", nlu.Context{})
	if small <= 0 {
		t.Fatalf("estimate for small message not positive: %d", small)
	}
	if big <= small {
		t.Fatalf("longer message estimated at %d, not above %d", big, small)
	}

	rich := estimateTokens("short", nlu.Context{
		ActiveFlow: "book_flight",
		Messages: []conversation.Message{
			{Role: conversation.RoleUser, Content: "I want to fly to Lisbon", At: time.Now()},
			{Role: conversation.RoleAssistant, Content: "When would you like to depart?", At: time.Now()},
		},
	})
	if rich <= small {
		t.Fatalf("conversation context estimated at %d, not above %d", rich, small)
	}
}
