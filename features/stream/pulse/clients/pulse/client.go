// Package pulse wraps goa.design/pulse streams behind the small surface the
// dialogue stream sink and subscriber need. Hosts build a Redis client, hand
// it to New, and pass the resulting Client to the sink or subscriber
// constructors; nothing else in the repo touches Pulse directly.
package pulse

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"
)

type (
	// Options configures the Pulse client.
	Options struct {
		// Redis is the connection backing the Pulse streams. Required.
		Redis *redis.Client
		// StreamMaxLen bounds the number of entries kept per stream. Zero
		// uses Pulse defaults.
		StreamMaxLen int
		// StreamOptions returns extra stream options for a given stream
		// name. Invoked once when the named stream is first opened; nil
		// means no extras.
		StreamOptions func(name string) []streamopts.Stream
		// OperationTimeout bounds individual Add operations. Zero means no
		// timeout.
		OperationTimeout time.Duration
	}

	// Client exposes the subset of Pulse APIs required by the dialogue
	// stream sink. Implementations wrap goa.design/pulse streaming and
	// provide type-safe access to stream operations.
	Client interface {
		// Stream returns a handle to the named Pulse stream, creating it if
		// needed.
		Stream(name string, opts ...streamopts.Stream) (Stream, error)
		// Close releases resources owned by the client. Callers typically own
		// the Redis connection and may provide a no-op implementation.
		Close(ctx context.Context) error
	}

	// Stream exposes the operations needed to publish conversation events and
	// create sinks (consumer groups).
	Stream interface {
		// Add publishes an event with the given name and payload to the
		// stream, returning the event ID assigned by Redis (e.g.,
		// "1234567890-0").
		Add(ctx context.Context, event string, payload []byte) (string, error)
		// NewSink creates a Pulse sink (consumer group) on this stream for
		// reading events.
		NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (Sink, error)
		// Destroy deletes the entire stream and all its messages from Redis.
		Destroy(ctx context.Context) error
	}

	// Sink mirrors the subset of goa.design/pulse streaming sinks required by
	// the subscriber. It represents a consumer group that reads from a Pulse
	// stream.
	Sink interface {
		// Subscribe returns a channel that emits events as they arrive from
		// the stream.
		Subscribe() <-chan *streaming.Event
		// Ack acknowledges successful processing of an event, removing it from
		// the pending list.
		Ack(context.Context, *streaming.Event) error
		// Close stops the sink and releases resources.
		Close(context.Context)
	}
)

// redisClient implements Client on a Redis connection. Stream handles are
// opened once per name and cached, so every Send for a conversation reuses
// the same handle.
type redisClient struct {
	rdb     *redis.Client
	maxLen  int
	extras  func(name string) []streamopts.Stream
	timeout time.Duration

	mu   sync.Mutex
	open map[string]Stream
}

// New builds a Pulse client on the given Redis connection. Only opts.Redis
// is required.
func New(opts Options) (Client, error) {
	if opts.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	return &redisClient{
		rdb:     opts.Redis,
		maxLen:  opts.StreamMaxLen,
		extras:  opts.StreamOptions,
		timeout: opts.OperationTimeout,
		open:    make(map[string]Stream),
	}, nil
}

// Stream returns the handle for name, opening the underlying Pulse stream on
// first use. Options beyond the configured defaults apply only on that first
// open; later calls for the same name reuse the cached handle.
func (c *redisClient) Stream(name string, opts ...streamopts.Stream) (Stream, error) {
	if name == "" {
		return nil, errors.New("stream name is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.open[name]; ok {
		return h, nil
	}
	all := make([]streamopts.Stream, 0, len(opts)+2)
	if c.maxLen > 0 {
		all = append(all, streamopts.WithStreamMaxLen(c.maxLen))
	}
	if c.extras != nil {
		all = append(all, c.extras(name)...)
	}
	all = append(all, opts...)
	str, err := streaming.NewStream(name, c.rdb, all...)
	if err != nil {
		return nil, fmt.Errorf("open pulse stream %q: %w", name, err)
	}
	h := &streamHandle{stream: str, timeout: c.timeout}
	c.open[name] = h
	return h, nil
}

// Close drops the cached handles. The Redis connection belongs to the caller
// and stays open.
func (c *redisClient) Close(ctx context.Context) error {
	c.mu.Lock()
	c.open = make(map[string]Stream)
	c.mu.Unlock()
	return nil
}

// streamHandle applies the client's operation timeout to stream calls.
type streamHandle struct {
	stream  *streaming.Stream
	timeout time.Duration
}

// Add publishes one event and returns the Redis-assigned ID.
func (h *streamHandle) Add(ctx context.Context, event string, payload []byte) (string, error) {
	if event == "" {
		return "", errors.New("event name is required")
	}
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	id, err := h.stream.Add(ctx, event, payload)
	if err != nil {
		return "", fmt.Errorf("pulse add: %w", err)
	}
	return id, nil
}

// NewSink opens a consumer group on the stream.
func (h *streamHandle) NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (Sink, error) {
	sink, err := h.stream.NewSink(ctx, name, opts...)
	if err != nil {
		return nil, err
	}
	return groupSink{sink}, nil
}

// Destroy deletes the stream and everything in it.
func (h *streamHandle) Destroy(ctx context.Context) error {
	return h.stream.Destroy(ctx)
}

// groupSink narrows *streaming.Sink to the Sink interface; the embedded type
// already provides Subscribe and Ack with matching signatures.
type groupSink struct {
	*streaming.Sink
}

func (s groupSink) Close(ctx context.Context) {
	s.Sink.Close(ctx)
}
