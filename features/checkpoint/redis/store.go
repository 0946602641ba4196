package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"goa.design/clue/health"

	"github.com/flowdial/flowdial/dialog/engine"
)

type (
	// Options configures the checkpoint store.
	Options struct {
		// Client is the Redis client. Required.
		Client *goredis.Client
		// KeyPrefix namespaces checkpoint keys so the store can share a
		// database with other components. Defaults to DefaultKeyPrefix.
		KeyPrefix string
		// TTL is applied to every checkpoint on save. Zero keeps
		// checkpoints until deleted.
		TTL time.Duration
	}

	// Store implements engine.Store on top of Redis. Each user key maps
	// to a single JSON value holding the latest snapshot, so a save is
	// one SET and a load is one GET.
	Store struct {
		rdb    *goredis.Client
		prefix string
		ttl    time.Duration
	}
)

// DefaultKeyPrefix is the key prefix used when Options.KeyPrefix is empty.
const DefaultKeyPrefix = "dialog:checkpoint:"

const storeName = "checkpoint-redis"

var (
	_ engine.Store  = (*Store)(nil)
	_ health.Pinger = (*Store)(nil)
)

// New builds a Store from the given options.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Store{
		rdb:    opts.Client,
		prefix: prefix,
		ttl:    opts.TTL,
	}, nil
}

// Name returns the name used to identify the store in health reports.
func (s *Store) Name() string { return storeName }

// Ping reports whether the Redis backend is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Load retrieves the checkpoint for userKey, engine.ErrNotFound when
// none exists.
func (s *Store) Load(ctx context.Context, userKey string) (*engine.Snapshot, error) {
	if userKey == "" {
		return nil, errors.New("user key is required")
	}
	raw, err := s.rdb.Get(ctx, s.key(userKey)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, engine.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	var snap engine.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &snap, nil
}

// Save writes the checkpoint, replacing any previous one for the same
// user key. The configured TTL is reset on every save so active
// conversations never expire mid-dialogue.
func (s *Store) Save(ctx context.Context, snap *engine.Snapshot) error {
	if snap == nil {
		return errors.New("snapshot is required")
	}
	if snap.UserKey == "" {
		return errors.New("user key is required")
	}
	if snap.SchemaVersion <= 0 {
		return errors.New("schema version is required")
	}
	if len(snap.Payload) == 0 {
		return errors.New("payload is required")
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key(snap.UserKey), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Delete removes the checkpoint for userKey. Deleting an absent
// checkpoint is not an error.
func (s *Store) Delete(ctx context.Context, userKey string) error {
	if userKey == "" {
		return errors.New("user key is required")
	}
	if err := s.rdb.Del(ctx, s.key(userKey)).Err(); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

func (s *Store) key(userKey string) string {
	return s.prefix + userKey
}
