package mongo

import (
	"context"
	"errors"

	"github.com/flowdial/flowdial/dialog/engine"
	clientsmongo "github.com/flowdial/flowdial/features/checkpoint/mongo/clients/mongo"
)

// Store implements engine.Store by delegating to the Mongo client.
type Store struct {
	client clientsmongo.Client
}

// NewStore builds a Store using the provided client.
func NewStore(client clientsmongo.Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: client}, nil
}

// Load retrieves the checkpoint for userKey, engine.ErrNotFound when
// none exists.
func (s *Store) Load(ctx context.Context, userKey string) (*engine.Snapshot, error) {
	return s.client.LoadSnapshot(ctx, userKey)
}

// Save writes the checkpoint, replacing any previous one for the same
// user key.
func (s *Store) Save(ctx context.Context, snap *engine.Snapshot) error {
	return s.client.SaveSnapshot(ctx, snap)
}

// Delete removes the checkpoint for userKey. Deleting an absent
// checkpoint is not an error.
func (s *Store) Delete(ctx context.Context, userKey string) error {
	return s.client.DeleteSnapshot(ctx, userKey)
}
