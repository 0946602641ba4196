// Package mongo hosts the MongoDB client used by the checkpoint store.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"goa.design/clue/health"

	"github.com/flowdial/flowdial/dialog/engine"
)

const (
	defaultCollection    = "dialog_checkpoints"
	defaultOpTimeout     = 5 * time.Second
	checkpointClientName = "checkpoint-mongo"
)

// Client exposes Mongo-backed operations for conversation checkpoints.
type Client interface {
	health.Pinger

	// LoadSnapshot returns the checkpoint for userKey,
	// engine.ErrNotFound when none exists.
	LoadSnapshot(ctx context.Context, userKey string) (*engine.Snapshot, error)
	// SaveSnapshot upserts the checkpoint keyed by its user key.
	SaveSnapshot(ctx context.Context, snap *engine.Snapshot) error
	// DeleteSnapshot removes the checkpoint for userKey. Absent
	// checkpoints delete cleanly.
	DeleteSnapshot(ctx context.Context, userKey string) error
}

// Options configures the Mongo checkpoint client.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

type client struct {
	mongo       *mongodriver.Client
	checkpoints snapshotCollection
	timeout     time.Duration
}

// New returns a Client backed by MongoDB. Collection indexes are created up
// front so the first save does not pay that cost.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("missing mongo client")
	}
	if opts.Database == "" {
		return nil, errors.New("missing database name")
	}
	name := opts.Collection
	if name == "" {
		name = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	coll := driverCollection{coll: opts.Client.Database(opts.Database).Collection(name)}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := createIndexes(ctx, coll); err != nil {
		return nil, err
	}
	return newFromCollection(opts.Client, coll, timeout)
}

// newFromCollection wires the client against any snapshotCollection, letting
// tests substitute an in-memory fake for the driver.
func newFromCollection(mc *mongodriver.Client, coll snapshotCollection, timeout time.Duration) (*client, error) {
	if coll == nil {
		return nil, errors.New("missing snapshot collection")
	}
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &client{mongo: mc, checkpoints: coll, timeout: timeout}, nil
}

func (c *client) Name() string { return checkpointClientName }

// Ping reports whether the primary is reachable, satisfying health.Pinger.
func (c *client) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) LoadSnapshot(ctx context.Context, userKey string) (*engine.Snapshot, error) {
	if userKey == "" {
		return nil, errors.New("user key is required")
	}
	ctx, cancel := c.opContext(ctx)
	defer cancel()
	var doc snapshotDocument
	if err := c.checkpoints.FindOne(ctx, bson.M{"user_key": userKey}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, engine.ErrNotFound
		}
		return nil, err
	}
	return doc.toSnapshot(), nil
}

func (c *client) SaveSnapshot(ctx context.Context, snap *engine.Snapshot) error {
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
	ctx, cancel := c.opContext(ctx)
	defer cancel()
	_, err := c.checkpoints.UpdateOne(ctx,
		bson.M{"user_key": snap.UserKey},
		bson.M{"$set": fromSnapshot(snap)},
		options.Update().SetUpsert(true))
	return err
}

func (c *client) DeleteSnapshot(ctx context.Context, userKey string) error {
	if userKey == "" {
		return errors.New("user key is required")
	}
	ctx, cancel := c.opContext(ctx)
	defer cancel()
	_, err := c.checkpoints.DeleteOne(ctx, bson.M{"user_key": userKey})
	return err
}

// opContext bounds one storage operation with the configured timeout.
func (c *client) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

type snapshotDocument struct {
	UserKey       string    `bson:"user_key"`
	SchemaVersion int       `bson:"schema_version"`
	UpdatedAt     time.Time `bson:"updated_at"`
	Payload       []byte    `bson:"payload"`
}

func fromSnapshot(snap *engine.Snapshot) snapshotDocument {
	return snapshotDocument{
		UserKey:       snap.UserKey,
		SchemaVersion: snap.SchemaVersion,
		UpdatedAt:     snap.UpdatedAt.UTC(),
		Payload:       snap.Payload,
	}
}

func (doc snapshotDocument) toSnapshot() *engine.Snapshot {
	return &engine.Snapshot{
		UserKey:       doc.UserKey,
		SchemaVersion: doc.SchemaVersion,
		UpdatedAt:     doc.UpdatedAt.UTC(),
		Payload:       doc.Payload,
	}
}

func createIndexes(ctx context.Context, coll snapshotCollection) error {
	models := []mongodriver.IndexModel{
		{
			Keys:    bson.D{{Key: "user_key", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		// Retention jobs scan by write time.
		{Keys: bson.D{{Key: "updated_at", Value: 1}}},
	}
	for _, m := range models {
		if _, err := coll.Indexes().CreateOne(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// The seam below lets unit tests run the client against an in-memory
// collection while production code hits mongo-driver.
type (
	snapshotCollection interface {
		FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) decodeResult
		UpdateOne(ctx context.Context, filter, update any, opts ...*options.UpdateOptions) (*mongodriver.UpdateResult, error)
		DeleteOne(ctx context.Context, filter any, opts ...*options.DeleteOptions) (*mongodriver.DeleteResult, error)
		Indexes() snapshotIndexes
	}

	snapshotIndexes interface {
		CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...*options.CreateIndexesOptions) (string, error)
	}

	decodeResult interface {
		Decode(val any) error
	}

	driverCollection struct {
		coll *mongodriver.Collection
	}

	driverIndexes struct {
		view mongodriver.IndexView
	}

	driverResult struct {
		res *mongodriver.SingleResult
	}
)

func (c driverCollection) FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) decodeResult {
	return driverResult{res: c.coll.FindOne(ctx, filter, opts...)}
}

func (c driverCollection) UpdateOne(ctx context.Context, filter, update any, opts ...*options.UpdateOptions) (*mongodriver.UpdateResult, error) {
	return c.coll.UpdateOne(ctx, filter, update, opts...)
}

func (c driverCollection) DeleteOne(ctx context.Context, filter any, opts ...*options.DeleteOptions) (*mongodriver.DeleteResult, error) {
	return c.coll.DeleteOne(ctx, filter, opts...)
}

func (c driverCollection) Indexes() snapshotIndexes {
	return driverIndexes{view: c.coll.Indexes()}
}

func (v driverIndexes) CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...*options.CreateIndexesOptions) (string, error) {
	return v.view.CreateOne(ctx, model, opts...)
}

func (r driverResult) Decode(val any) error { return r.res.Decode(val) }
