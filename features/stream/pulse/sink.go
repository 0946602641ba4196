// Package pulse exposes a stream.Sink implementation that publishes
// conversation events to goa.design/pulse streams, plus a subscriber that
// reads them back. Services build a Redis client, wrap it with
// clients/pulse, and hand the resulting sink to a hooks.StreamSubscriber.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	clientspulse "github.com/flowdial/flowdial/features/stream/pulse/clients/pulse"

	"github.com/flowdial/flowdial/dialog/stream"
)

type (
	// Options configures the Pulse sink.
	Options struct {
		// Client is the Pulse client used to publish events. Required.
		Client clientspulse.Client
		// StreamID derives the target Pulse stream from an event. The
		// default routes by conversation: `conversation/<UserKey>`.
		StreamID func(stream.Event) (string, error)
		// MarshalEnvelope overrides envelope serialization, mainly for
		// tests.
		MarshalEnvelope func(Envelope) ([]byte, error)
	}

	// Sink publishes dialogue stream events into Pulse streams. Safe for
	// concurrent Send calls.
	Sink struct {
		client   clientspulse.Client
		streamID func(stream.Event) (string, error)
		marshal  func(Envelope) ([]byte, error)
	}

	// Envelope is the wire form of one event. The subscriber decodes the
	// same layout on the consuming side.
	Envelope struct {
		// Type identifies the event kind (e.g., "bot_utterance", "turn").
		Type string `json:"type"`
		// UserKey links the event to the conversation that produced it.
		UserKey string `json:"user_key"`
		// TurnID links the event to one turn within the conversation.
		TurnID string `json:"turn_id,omitempty"`
		// Timestamp records when the event was published (UTC).
		Timestamp time.Time `json:"timestamp"`
		// Payload carries the event-specific data, if any.
		Payload any `json:"payload,omitempty"`
	}
)

// NewSink builds a Pulse-backed stream sink. Only the Client field of opts
// is required.
func NewSink(opts Options) (*Sink, error) {
	if opts.Client == nil {
		return nil, errors.New("missing pulse client")
	}
	s := &Sink{
		client:   opts.Client,
		streamID: opts.StreamID,
		marshal:  opts.MarshalEnvelope,
	}
	if s.streamID == nil {
		s.streamID = conversationStreamID
	}
	if s.marshal == nil {
		s.marshal = func(env Envelope) ([]byte, error) { return json.Marshal(env) }
	}
	return s, nil
}

// Send wraps the event in an envelope and appends it to the stream derived
// by the StreamID function.
func (s *Sink) Send(ctx context.Context, event stream.Event) error {
	id, err := s.streamID(event)
	if err != nil {
		return err
	}
	handle, err := s.client.Stream(id)
	if err != nil {
		return err
	}
	env := Envelope{
		Type:      string(event.Type()),
		UserKey:   event.UserKey(),
		TurnID:    event.TurnID(),
		Timestamp: time.Now().UTC(),
		Payload:   event.Payload(),
	}
	encoded, err := s.marshal(env)
	if err != nil {
		return err
	}
	_, err = handle.Add(ctx, env.Type, encoded)
	return err
}

// Close delegates to the Pulse client. Whether the Redis connection closes
// with it depends on the client implementation.
func (s *Sink) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

// conversationStreamID routes events into one stream per conversation.
func conversationStreamID(event stream.Event) (string, error) {
	if event.UserKey() == "" {
		return "", errors.New("stream event missing user key")
	}
	return fmt.Sprintf("conversation/%s", event.UserKey()), nil
}
