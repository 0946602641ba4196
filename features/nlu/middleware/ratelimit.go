// Package middleware supplies composable nlu.Provider wrappers, chief among
// them an adaptive tokens-per-minute rate limiter.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"goa.design/pulse/rmap"

	"github.com/flowdial/flowdial/dialog/nlu"
)

// resharePublishTimeout bounds one attempt at publishing a recomputed budget
// to the cluster map.
const resharePublishTimeout = 2 * time.Second

type (
	// AdaptiveRateLimiter sits between the runtime and an nlu.Provider and
	// paces Understand calls against a tokens-per-minute budget. The budget
	// adapts AIMD-style: a rate-limited response halves it, a successful
	// one nudges it back up toward the configured ceiling.
	//
	// Construct one limiter per process and wrap the provider with
	// Middleware before handing it to the runtime.
	AdaptiveRateLimiter struct {
		mu sync.Mutex

		limiter *rate.Limiter

		currentTPM float64
		minTPM     float64
		maxTPM     float64

		recoveryRate float64

		publishBackoff func(newTPM float64)
		publishProbe   func(newTPM float64)
	}

	limitedProvider struct {
		next nlu.Provider
		lim  *AdaptiveRateLimiter
	}

	// clusterMap is the subset of rmap.Map the cluster-aware limiter needs.
	clusterMap interface {
		Get(key string) (string, bool)
		SetIfNotExists(ctx context.Context, key, value string) (bool, error)
		TestAndSet(ctx context.Context, key, test, value string) (string, error)
		Subscribe() <-chan rmap.EventKind
	}

	rmapClusterMap struct {
		rm *rmap.Map
	}
)

// NewAdaptiveRateLimiter builds a limiter over a tokens-per-minute budget.
// When m and key are set, the budget is shared across processes through a
// Pulse replicated map; otherwise the limiter is process-local.
func NewAdaptiveRateLimiter(ctx context.Context, m *rmap.Map, key string, initialTPM, maxTPM float64) *AdaptiveRateLimiter {
	var cm clusterMap
	if m != nil {
		cm = &rmapClusterMap{rm: m}
	}
	return newClusterAdaptiveRateLimiter(ctx, cm, key, initialTPM, maxTPM)
}

// newAdaptiveRateLimiter builds the process-local limiter. initialTPM and
// maxTPM are tokens per minute; a zero or too-small maxTPM clamps to
// initialTPM. The floor is a tenth of the initial budget and the recovery
// step a twentieth, both at least 1.
func newAdaptiveRateLimiter(initialTPM, maxTPM float64) *AdaptiveRateLimiter {
	if initialTPM <= 0 {
		initialTPM = 60000
	}
	if maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	floor := initialTPM * 0.1
	if floor < 1 {
		floor = 1
	}
	step := initialTPM * 0.05
	if step < 1 {
		step = 1
	}
	return &AdaptiveRateLimiter{
		limiter:      rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM)),
		currentTPM:   initialTPM,
		minTPM:       floor,
		maxTPM:       maxTPM,
		recoveryRate: step,
	}
}

// Middleware wraps an nlu.Provider so every Understand call pays its
// estimated token cost against the limiter before reaching the provider.
func (l *AdaptiveRateLimiter) Middleware() func(nlu.Provider) nlu.Provider {
	return func(next nlu.Provider) nlu.Provider {
		if next == nil {
			return nil
		}
		return &limitedProvider{
			next: next,
			lim:  l,
		}
	}
}

// Understand blocks until the limiter grants capacity, then delegates and
// reports the outcome back so the budget can adapt.
func (p *limitedProvider) Understand(ctx context.Context, message string, pc nlu.Context) (nlu.Output, error) {
	if err := p.lim.wait(ctx, message, pc); err != nil {
		return nlu.Output{}, err
	}
	out, err := p.next.Understand(ctx, message, pc)
	p.lim.adapt(err)
	return out, err
}

func (l *AdaptiveRateLimiter) wait(ctx context.Context, message string, pc nlu.Context) error {
	return l.limiter.WaitN(ctx, estimateTokens(message, pc))
}

func (l *AdaptiveRateLimiter) adapt(err error) {
	switch {
	case err == nil:
		l.probe()
	case errors.Is(err, nlu.ErrRateLimited):
		l.backoff()
	}
}

// backoff halves the budget down to the floor.
func (l *AdaptiveRateLimiter) backoff() {
	l.mu.Lock()
	next := clamp(l.currentTPM*0.5, l.minTPM, l.maxTPM)
	moved := l.retune(next)
	publish := l.publishBackoff
	l.mu.Unlock()
	if moved && publish != nil {
		publish(next)
	}
}

// probe raises the budget by one recovery step up to the ceiling.
func (l *AdaptiveRateLimiter) probe() {
	l.mu.Lock()
	next := clamp(l.currentTPM+l.recoveryRate, l.minTPM, l.maxTPM)
	moved := l.retune(next)
	publish := l.publishProbe
	l.mu.Unlock()
	if moved && publish != nil {
		publish(next)
	}
}

// replaceTPM adopts an externally decided budget, clamped to the limiter's
// range. Used when the shared cluster budget changes under us.
func (l *AdaptiveRateLimiter) replaceTPM(tpm float64) {
	l.mu.Lock()
	l.retune(clamp(tpm, l.minTPM, l.maxTPM))
	l.mu.Unlock()
}

// retune reprograms the token bucket for a new budget. Callers hold mu.
// Returns false when the budget did not actually move.
func (l *AdaptiveRateLimiter) retune(tpm float64) bool {
	if tpm == l.currentTPM {
		return false
	}
	l.currentTPM = tpm
	l.limiter.SetLimit(rate.Limit(tpm / 60.0))
	l.limiter.SetBurst(int(tpm))
	return true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// estimateTokens prices an understanding request before it runs. It counts
// the characters of the user message plus the serialized context (the
// bundled providers embed the context verbatim in their prompts), converts
// at roughly one token per three characters, and adds a flat allowance for
// the system prompt and provider framing.
func estimateTokens(message string, pc nlu.Context) int {
	chars := len(message)
	if encoded, err := json.Marshal(pc); err == nil {
		chars += len(encoded)
	}
	if chars <= 0 {
		return 500
	}
	tokens := chars / 3
	if tokens < 1 {
		tokens = 1
	}
	return tokens + 500
}

func (w *rmapClusterMap) Get(key string) (string, bool) {
	return w.rm.Get(key)
}

func (w *rmapClusterMap) SetIfNotExists(ctx context.Context, key, value string) (bool, error) {
	return w.rm.SetIfNotExists(ctx, key, value)
}

func (w *rmapClusterMap) TestAndSet(ctx context.Context, key, test, value string) (string, error) {
	return w.rm.TestAndSet(ctx, key, test, value)
}

func (w *rmapClusterMap) Subscribe() <-chan rmap.EventKind {
	return w.rm.Subscribe()
}

// newClusterAdaptiveRateLimiter couples a local limiter to a shared budget
// in a replicated map. Local backoffs and probes publish the new budget;
// map updates from other processes reprogram the local bucket.
func newClusterAdaptiveRateLimiter(ctx context.Context, m clusterMap, key string, initialTPM, maxTPM float64) *AdaptiveRateLimiter {
	if m == nil || key == "" {
		return newAdaptiveRateLimiter(initialTPM, maxTPM)
	}

	// Seed the shared budget when this is the first process up; losing the
	// race to a concurrent writer is fine, the winner's value is read back
	// below either way.
	if _, err := m.SetIfNotExists(ctx, key, strconv.Itoa(int(initialTPM))); err != nil {
		// A broken map must not stall understanding; run process-local.
		return newAdaptiveRateLimiter(initialTPM, maxTPM)
	}

	sharedTPM := initialTPM
	if raw, ok := m.Get(key); ok {
		if tpm, err := strconv.ParseFloat(raw, 64); err == nil && tpm > 0 {
			sharedTPM = tpm
		}
	}

	lim := newAdaptiveRateLimiter(sharedTPM, maxTPM)

	floor := lim.minTPM
	ceiling := lim.maxTPM
	step := lim.recoveryRate

	lim.mu.Lock()
	lim.publishBackoff = func(float64) {
		go reshare(context.Background(), m, key, func(cur float64) (float64, bool) {
			return clamp(cur*0.5, floor, ceiling), true
		})
	}
	lim.publishProbe = func(float64) {
		go reshare(context.Background(), m, key, func(cur float64) (float64, bool) {
			if cur >= ceiling {
				return 0, false
			}
			return clamp(cur+step, floor, ceiling), true
		})
	}
	lim.mu.Unlock()

	// Reconcile the local bucket whenever another process moves the shared
	// budget.
	changes := m.Subscribe()
	go func() {
		for range changes {
			latest, ok := m.Get(key)
			if !ok {
				continue
			}
			tpm, err := strconv.ParseFloat(latest, 64)
			if err != nil || tpm <= 0 {
				continue
			}
			lim.replaceTPM(tpm)
		}
	}()

	return lim
}

// reshare publishes a recomputed shared budget with a bounded
// compare-and-set loop. compute returns the replacement for the current
// value, or false to leave the map untouched.
func reshare(ctx context.Context, m clusterMap, key string, compute func(cur float64) (float64, bool)) {
	ctx, cancel := context.WithTimeout(ctx, resharePublishTimeout)
	defer cancel()

	for attempt := 0; attempt < 3; attempt++ {
		raw, ok := m.Get(key)
		if !ok {
			return
		}
		cur, err := strconv.ParseFloat(raw, 64)
		if err != nil || cur <= 0 {
			return
		}
		next, ok := compute(cur)
		if !ok {
			return
		}
		prev, err := m.TestAndSet(ctx, key, raw, strconv.Itoa(int(next)))
		if err != nil || prev == raw {
			return
		}
	}
}
