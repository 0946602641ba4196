// Package actions provides the registry of named action handlers a
// flow's action steps invoke. The registry is populated at startup and
// read-only afterwards; its specs feed the flow compiler so every
// action reference is checked before anything runs.
package actions

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/flowdial/flowdial/dialog/dialogerr"
	"github.com/flowdial/flowdial/dialog/flow"
)

type (
	// Handler executes one action. Inputs hold exactly the declared
	// input keys; the returned map is filtered to the declared output
	// keys before it reaches flow state.
	Handler func(ctx context.Context, inputs map[string]any) (map[string]any, error)

	// Spec declares an action's interface: the input keys it requires
	// and the output keys it may produce.
	Spec struct {
		// Name identifies the action in flow definitions.
		Name string
		// Inputs are the required input keys.
		Inputs []string
		// Outputs are the producible output keys.
		Outputs []string
	}

	// Registry maps action names to handlers.
	Registry struct {
		mu       sync.RWMutex
		handlers map[string]Handler
		specs    map[string]Spec
	}
)

// NewRegistry returns an empty action registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		specs:    make(map[string]Spec),
	}
}

// Register adds an action. Names are unique; registering a duplicate
// name, an empty name, a nil handler, or a spec with repeated keys is
// an error.
func (r *Registry) Register(spec Spec, h Handler) error {
	if spec.Name == "" {
		return fmt.Errorf("action name is required")
	}
	if h == nil {
		return fmt.Errorf("action %q: handler is required", spec.Name)
	}
	if key, ok := duplicateKey(spec.Inputs); ok {
		return fmt.Errorf("action %q: duplicate input %q", spec.Name, key)
	}
	if key, ok := duplicateKey(spec.Outputs); ok {
		return fmt.Errorf("action %q: duplicate output %q", spec.Name, key)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[spec.Name]; exists {
		return fmt.Errorf("action %q already registered", spec.Name)
	}
	r.handlers[spec.Name] = h
	r.specs[spec.Name] = spec
	return nil
}

// Specs returns the registered action interfaces in the form the flow
// compiler consumes.
func (r *Registry) Specs() map[string]flow.ActionSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]flow.ActionSpec, len(r.specs))
	for name, spec := range r.specs {
		out[name] = flow.ActionSpec{
			Name:    spec.Name,
			Inputs:  append([]string(nil), spec.Inputs...),
			Outputs: append([]string(nil), spec.Outputs...),
		}
	}
	return out
}

// Names returns the registered action names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.specs))
	for name := range r.specs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Invoke runs the named action. The input keys must match the declared
// inputs exactly; the result is the handler's output filtered to the
// declared output keys. All failures carry kind action_error.
func (r *Registry) Invoke(ctx context.Context, name string, inputs map[string]any) (map[string]any, error) {
	r.mu.RLock()
	h, ok := r.handlers[name]
	spec := r.specs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, dialogerr.Newf(dialogerr.KindAction, "no action named %q", name)
	}
	if err := checkInputs(spec, inputs); err != nil {
		return nil, err
	}

	outputs, err := h(ctx, inputs)
	if err != nil {
		return nil, dialogerr.Wrap(dialogerr.KindAction, fmt.Sprintf("action %q: %s", name, err), err)
	}
	if len(outputs) == 0 {
		return nil, nil
	}
	declared := make(map[string]struct{}, len(spec.Outputs))
	for _, key := range spec.Outputs {
		declared[key] = struct{}{}
	}
	filtered := make(map[string]any, len(outputs))
	for key, value := range outputs {
		if _, ok := declared[key]; ok {
			filtered[key] = value
		}
	}
	return filtered, nil
}

// checkInputs requires set equality between the provided keys and the
// declared inputs. The compiler guarantees this for mapped inputs, so
// a mismatch means the caller assembled the map by hand.
func checkInputs(spec Spec, inputs map[string]any) error {
	for _, key := range spec.Inputs {
		if _, ok := inputs[key]; !ok {
			return dialogerr.Newf(dialogerr.KindAction, "action %q: missing input %q", spec.Name, key)
		}
	}
	if len(inputs) > len(spec.Inputs) {
		declared := make(map[string]struct{}, len(spec.Inputs))
		for _, key := range spec.Inputs {
			declared[key] = struct{}{}
		}
		for key := range inputs {
			if _, ok := declared[key]; !ok {
				return dialogerr.Newf(dialogerr.KindAction, "action %q: undeclared input %q", spec.Name, key)
			}
		}
	}
	return nil
}

func duplicateKey(keys []string) (string, bool) {
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			return key, true
		}
		seen[key] = struct{}{}
	}
	return "", false
}
