// Package engine checkpoints conversation state. It is the only code
// that talks to a Store: it owns the JSON codec, the schema version
// stamp, migration of older payloads, and the pruning caps applied at
// save time. Everything else in the runtime works on in-memory state
// between one Load and one Save.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/flowdial/flowdial/dialog/conversation"
	"github.com/flowdial/flowdial/dialog/dialogerr"
	"github.com/flowdial/flowdial/dialog/telemetry"
)

// SchemaVersion is the payload layout version this engine writes.
// Payloads from newer versions are rejected on load; older ones pass
// through the registered migrators.
const SchemaVersion = 1

type (
	// Migrator rewrites a payload from one schema version to the
	// next. Registered per source version: the migrator at key v
	// produces a version v+1 payload.
	Migrator func(payload []byte) ([]byte, error)

	// Options configures an Engine.
	Options struct {
		// Store persists snapshots. Required.
		Store Store
		// Logger receives load and save diagnostics. Defaults to a
		// no-op logger.
		Logger telemetry.Logger
		// Now supplies the save timestamp. Defaults to time.Now in
		// UTC.
		Now func() time.Time
		// Caps bound the state lists pruned at save time. Zero
		// fields take defaults.
		Caps Caps
		// Migrators upgrade older payloads, keyed by source version.
		Migrators map[int]Migrator
	}

	// Engine loads and saves conversation state through a Store.
	Engine struct {
		store     Store
		log       telemetry.Logger
		now       func() time.Time
		caps      Caps
		migrators map[int]Migrator
	}
)

// New builds an Engine. The store is required.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("engine: store is required")
	}
	e := &Engine{
		store:     opts.Store,
		log:       opts.Logger,
		now:       opts.Now,
		caps:      opts.Caps.withDefaults(),
		migrators: opts.Migrators,
	}
	if e.log == nil {
		e.log = telemetry.NewNoopLogger()
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	return e, nil
}

// Load returns the state checkpointed for userKey. Absence, store
// failures, and undecodable payloads all yield a fresh state (the two
// failure cases are logged); a payload from a newer schema version is
// an error, since writing over it would destroy a conversation owned
// by a newer deployment.
func (e *Engine) Load(ctx context.Context, userKey string) (*conversation.State, error) {
	snap, err := e.store.Load(ctx, userKey)
	if err != nil {
		if err == ErrNotFound {
			return conversation.NewState(e.now()), nil
		}
		e.log.Error(ctx, "checkpoint load failed, starting fresh", "user_key", userKey, "err", err)
		return conversation.NewState(e.now()), nil
	}
	if snap.SchemaVersion > SchemaVersion {
		return nil, dialogerr.Newf(dialogerr.KindCheckpoint,
			"checkpoint for %q has schema version %d, this runtime reads up to %d",
			userKey, snap.SchemaVersion, SchemaVersion)
	}

	payload := snap.Payload
	for v := snap.SchemaVersion; v < SchemaVersion; v++ {
		migrate, ok := e.migrators[v]
		if !ok {
			return nil, dialogerr.Newf(dialogerr.KindCheckpoint,
				"checkpoint for %q has schema version %d and no migrator is registered for it",
				userKey, snap.SchemaVersion)
		}
		payload, err = migrate(payload)
		if err != nil {
			return nil, dialogerr.Wrap(dialogerr.KindCheckpoint,
				fmt.Sprintf("migrate checkpoint for %q from version %d", userKey, v), err)
		}
	}

	var s conversation.State
	if err := json.Unmarshal(payload, &s); err != nil {
		e.log.Error(ctx, "checkpoint payload undecodable, starting fresh", "user_key", userKey, "err", err)
		return conversation.NewState(e.now()), nil
	}
	if err := conversation.Validate(&s); err != nil {
		e.log.Error(ctx, "checkpoint state invalid, starting fresh", "user_key", userKey, "err", err)
		return conversation.NewState(e.now()), nil
	}
	return &s, nil
}

// Save prunes the state to the configured caps and persists it. The
// given state is not modified. Failures carry kind checkpoint_error
// and must abort the turn: a turn whose save failed never happened.
func (e *Engine) Save(ctx context.Context, userKey string, s *conversation.State) error {
	if userKey == "" {
		return dialogerr.New(dialogerr.KindCheckpoint, "user key is required")
	}
	now := e.now()
	pruned := e.caps.prune(s)
	pruned.UpdatedAt = now

	payload, err := json.Marshal(pruned)
	if err != nil {
		return dialogerr.Wrap(dialogerr.KindCheckpoint,
			fmt.Sprintf("encode checkpoint for %q", userKey), err)
	}
	snap := &Snapshot{
		UserKey:       userKey,
		SchemaVersion: SchemaVersion,
		UpdatedAt:     now,
		Payload:       payload,
	}
	if err := e.store.Save(ctx, snap); err != nil {
		return dialogerr.Wrap(dialogerr.KindCheckpoint,
			fmt.Sprintf("save checkpoint for %q", userKey), err)
	}
	return nil
}
