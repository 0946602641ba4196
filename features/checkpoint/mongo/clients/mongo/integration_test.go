package mongo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/flowdial/flowdial/dialog/engine"
)

var (
	mongoOnce          sync.Once
	mongoSetupErr      error
	testMongoClient    *mongodriver.Client
	testMongoContainer testcontainers.Container
)

func TestMain(m *testing.M) {
	code := m.Run()
	ctx := context.Background()
	if testMongoClient != nil {
		_ = testMongoClient.Disconnect(ctx)
	}
	if testMongoContainer != nil {
		_ = testMongoContainer.Terminate(ctx)
	}
	os.Exit(code)
}

// startMongo boots a throwaway MongoDB container and connects a driver
// client to it. Callers get one error covering every setup step.
func startMongo() (*mongodriver.Client, error) {
	ctx := context.Background()
	container, err := launchMongoContainer(ctx)
	if err != nil {
		return nil, err
	}
	testMongoContainer = container

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "27017")
	if err != nil {
		return nil, fmt.Errorf("container port: %w", err)
	}
	uri := fmt.Sprintf("mongodb://%s:%s", host, port.Port())
	cli, err := mongodriver.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", uri, err)
	}
	if err := cli.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	return cli, nil
}

// launchMongoContainer converts the panic testcontainers raises without a
// Docker daemon into a regular error.
func launchMongoContainer(ctx context.Context) (c testcontainers.Container, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("docker not available: %v", r)
		}
	}()
	return testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForLog("Waiting for connections"),
			Tmpfs:        map[string]string{"/data/db": "rw"},
		},
		Started: true,
	})
}

// mongoTestClient builds a checkpoint client over a per-test collection,
// skipping when no Docker daemon is reachable.
func mongoTestClient(t *testing.T) Client {
	t.Helper()
	mongoOnce.Do(func() {
		testMongoClient, mongoSetupErr = startMongo()
	})
	if mongoSetupErr != nil {
		t.Skipf("mongo unavailable: %v", mongoSetupErr)
	}
	coll := testMongoClient.Database("checkpoint_test").Collection(t.Name())
	if err := coll.Drop(context.Background()); err != nil {
		t.Fatalf("failed to drop collection: %v", err)
	}
	client, err := New(Options{
		Client:     testMongoClient,
		Database:   "checkpoint_test",
		Collection: t.Name(),
	})
	if err != nil {
		t.Fatalf("failed to build client: %v", err)
	}
	return client
}

func TestMongoSnapshotRoundTrip(t *testing.T) {
	client := mongoTestClient(t)
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("save then load returns the same snapshot", prop.ForAll(
		func(userKey, payload string) bool {
			snap := &engine.Snapshot{
				UserKey:       userKey,
				SchemaVersion: engine.SchemaVersion,
				UpdatedAt:     time.Now().UTC().Truncate(time.Millisecond),
				Payload:       []byte(payload),
			}
			if err := client.SaveSnapshot(ctx, snap); err != nil {
				return false
			}
			stored, err := client.LoadSnapshot(ctx, userKey)
			if err != nil {
				return false
			}
			return stored.UserKey == snap.UserKey &&
				stored.SchemaVersion == snap.SchemaVersion &&
				stored.UpdatedAt.Equal(snap.UpdatedAt) &&
				bytes.Equal(stored.Payload, snap.Payload)
		},
		genUserKey(),
		genPayload(),
	))

	properties.TestingRun(t)
}

func TestMongoSnapshotSurvivesClientRecreation(t *testing.T) {
	client := mongoTestClient(t)
	ctx := context.Background()

	snap := &engine.Snapshot{
		UserKey:       "user-1",
		SchemaVersion: engine.SchemaVersion,
		UpdatedAt:     time.Now().UTC().Truncate(time.Millisecond),
		Payload:       []byte(`{"turns":7,"flow_stack":[]}`),
	}
	if err := client.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	// A second client over the same collection models a process restart.
	fresh, err := New(Options{
		Client:     testMongoClient,
		Database:   "checkpoint_test",
		Collection: t.Name(),
	})
	if err != nil {
		t.Fatalf("failed to rebuild client: %v", err)
	}
	stored, err := fresh.LoadSnapshot(ctx, "user-1")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !bytes.Equal(stored.Payload, snap.Payload) {
		t.Fatalf("payload mismatch: got %s, want %s", stored.Payload, snap.Payload)
	}
}

func TestMongoDeleteThenLoadNotFound(t *testing.T) {
	client := mongoTestClient(t)
	ctx := context.Background()

	if err := client.SaveSnapshot(ctx, &engine.Snapshot{
		UserKey:       "user-1",
		SchemaVersion: engine.SchemaVersion,
		UpdatedAt:     time.Now().UTC(),
		Payload:       []byte(`{}`),
	}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := client.DeleteSnapshot(ctx, "user-1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := client.LoadSnapshot(ctx, "user-1"); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func genUserKey() gopter.Gen {
	return gen.OneConstOf("user-1", "user-2", "tenant-a:42", "tenant-b:17", "anon-9f3c")
}

func genPayload() gopter.Gen {
	return gen.OneConstOf(
		`{"turns":1}`,
		`{"turns":2,"flow_stack":[{"id":"fc-1","flow":"book_flight","status":"active"}]}`,
		`{"turns":3,"last_error":"nlu_error"}`,
		`{"turns":4,"messages":[{"id":"m1","role":"user","content":"hi"}]}`,
	)
}
