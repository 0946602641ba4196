// Package travelbot assembles the flowdial runtime into a small travel
// assistant: two YAML flows, deterministic action handlers, and a
// keyword rule provider used when no model API key is configured.
package travelbot

import (
	"fmt"
	"time"

	"github.com/flowdial/flowdial/dialog/actions"
	"github.com/flowdial/flowdial/dialog/engine"
	"github.com/flowdial/flowdial/dialog/engine/inmem"
	"github.com/flowdial/flowdial/dialog/flow"
	"github.com/flowdial/flowdial/dialog/hooks"
	"github.com/flowdial/flowdial/dialog/nlu"
	"github.com/flowdial/flowdial/dialog/runtime"
	"github.com/flowdial/flowdial/dialog/telemetry"
)

// Options configures the demo assistant. Zero fields take demo-friendly
// defaults: YAML flows from ./flows, the keyword rule provider, and an
// in-memory checkpoint store.
type Options struct {
	// FlowsDir is the directory of YAML flow definitions.
	FlowsDir string
	// Provider turns user messages into commands. Nil selects the
	// keyword rule provider.
	Provider nlu.Provider
	// Store persists conversation checkpoints. Nil selects the
	// in-memory store.
	Store engine.Store
	// Logger receives runtime diagnostics.
	Logger telemetry.Logger
	// Hooks receives dialogue lifecycle events.
	Hooks hooks.Bus
	// Now supplies timestamps, for reproducible runs.
	Now func() time.Time
}

// New loads and compiles the demo flows, registers the demo actions and
// validators, and assembles a runtime around them.
func New(opts Options) (*runtime.Runtime, error) {
	dir := opts.FlowsDir
	if dir == "" {
		dir = "flows"
	}
	defs, err := flow.LoadDir(dir)
	if err != nil {
		return nil, err
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("no flow definitions in %s", dir)
	}

	validators := flow.NewValidators()
	if err := RegisterValidators(validators, opts.Now); err != nil {
		return nil, err
	}

	reg := actions.NewRegistry()
	if err := RegisterActions(reg); err != nil {
		return nil, err
	}

	flows, err := flow.Compile(defs, validators, reg.Specs())
	if err != nil {
		return nil, err
	}

	store := opts.Store
	if store == nil {
		store = inmem.New()
	}
	eng, err := engine.New(engine.Options{Store: store, Logger: opts.Logger, Now: opts.Now})
	if err != nil {
		return nil, err
	}

	provider := opts.Provider
	if provider == nil {
		provider = NewRules()
	}

	return runtime.New(runtime.Options{
		Flows:    flows,
		Engine:   eng,
		Provider: provider,
		Actions:  reg,
		Hooks:    opts.Hooks,
		Logger:   opts.Logger,
		Now:      opts.Now,
	})
}
