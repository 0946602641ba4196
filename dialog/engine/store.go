package engine

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound reports that no checkpoint exists for a user key. Store
// implementations return it from Load; the engine turns it into a
// fresh state.
var ErrNotFound = errors.New("checkpoint not found")

type (
	// Store persists one checkpoint per user key. Load and Save must
	// each be atomic for a given key; the engine serializes turns per
	// key, so stores never see concurrent writes to the same key.
	Store interface {
		// Load returns the checkpoint for userKey, ErrNotFound when
		// none exists.
		Load(ctx context.Context, userKey string) (*Snapshot, error)
		// Save writes the checkpoint, replacing any previous one for
		// the same user key.
		Save(ctx context.Context, snap *Snapshot) error
	}

	// Snapshot is the stored form of one conversation: an opaque
	// payload plus the envelope fields stores index on.
	Snapshot struct {
		// UserKey identifies the conversation.
		UserKey string `json:"user_key" bson:"user_key"`
		// SchemaVersion is the payload layout version.
		SchemaVersion int `json:"schema_version" bson:"schema_version"`
		// UpdatedAt is when the snapshot was written.
		UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
		// Payload is the serialized conversation state.
		Payload []byte `json:"payload" bson:"payload"`
	}
)

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	c := *s
	if s.Payload != nil {
		c.Payload = make([]byte, len(s.Payload))
		copy(c.Payload, s.Payload)
	}
	return &c
}
