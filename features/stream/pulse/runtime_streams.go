package pulse

import (
	"context"
	"errors"

	clientspulse "github.com/flowdial/flowdial/features/stream/pulse/clients/pulse"

	"github.com/flowdial/flowdial/dialog/stream"
)

// ConversationStreams wires a caller-provided Pulse client into the dialogue
// runtime. It owns a publishing sink (handed to a hooks.StreamSubscriber) and
// can spawn subscribers that reuse the same client so services do not need to
// manage multiple Pulse connections.
type ConversationStreams struct {
	sink   *Sink
	client clientspulse.Client
}

// ConversationStreamsOptions configures the helper returned by
// NewConversationStreams.
type ConversationStreamsOptions struct {
	// Client is the Pulse client used for both publishing and subscribing. It
	// is required and typically built via
	// features/stream/pulse/clients/pulse.
	Client clientspulse.Client
	// Sink holds optional overrides for the publishing sink (stream ID
	// derivation, marshaling). Leave zero-valued for defaults.
	Sink Options
}

// NewConversationStreams constructs helpers for publishing dialogue stream
// events to Pulse and subscribing to the resulting streams. Callers wrap the
// returned sink in a hooks.StreamSubscriber registered on the runtime's bus
// and keep the helper around to create subscribers (e.g., SSE fan-out) later
// on.
func NewConversationStreams(opts ConversationStreamsOptions) (*ConversationStreams, error) {
	if opts.Client == nil {
		return nil, errors.New("missing pulse client")
	}
	sinkOpts := opts.Sink
	sinkOpts.Client = opts.Client
	sink, err := NewSink(sinkOpts)
	if err != nil {
		return nil, err
	}
	return &ConversationStreams{sink: sink, client: opts.Client}, nil
}

// Sink exposes the publishing sink so callers can bridge hook events into it.
func (c *ConversationStreams) Sink() stream.Sink {
	return c.sink
}

// NewSubscriber constructs a Pulse-backed subscriber that reuses the helper's
// client. This keeps stream publishing and consumption on the same Redis
// connection pool for efficiency.
func (c *ConversationStreams) NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	opts.Client = c.client
	return NewSubscriber(opts)
}

// Close shuts down the publishing sink (and therefore the underlying Pulse
// client). Call this during service shutdown after all subscribers have been
// canceled.
func (c *ConversationStreams) Close(ctx context.Context) error {
	return c.sink.Close(ctx)
}
