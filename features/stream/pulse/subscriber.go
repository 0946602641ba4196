package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	clientspulse "github.com/flowdial/flowdial/features/stream/pulse/clients/pulse"

	"github.com/flowdial/flowdial/dialog/stream"
)

type (
	// EnvelopeDecoder turns a raw payload read from Pulse back into a
	// dialogue stream event. Provide one when the publishing side uses a
	// non-default envelope layout.
	EnvelopeDecoder func([]byte) (stream.Event, error)

	// SubscriberOptions configures how conversation streams are consumed.
	SubscriberOptions struct {
		// Client is the Pulse client events are read through. Required.
		Client clientspulse.Client
		// SinkName names the Pulse consumer group, "dialog_subscriber"
		// when empty.
		SinkName string
		// Buffer is the event channel capacity, 64 when zero.
		Buffer int
		// Decoder deserializes event payloads. Defaults to the JSON
		// envelope decoder matching the Sink's encoding.
		Decoder EnvelopeDecoder
	}

	// Subscriber reads conversation streams from Pulse and hands decoded
	// dialogue events to the caller. One Subscriber can serve many
	// Subscribe calls; each call gets its own consumer group reader.
	Subscriber struct {
		client clientspulse.Client
		buffer int
		name   string
		decode EnvelopeDecoder
	}

	// wireEvent implements stream.Event for envelopes read off the wire.
	// The payload stays raw JSON: consumers on this side unmarshal into
	// the payload type matching the event type.
	wireEvent struct {
		typ  stream.EventType
		user string
		turn string
		raw  json.RawMessage
	}
)

func (e wireEvent) Type() stream.EventType { return e.typ }
func (e wireEvent) UserKey() string        { return e.user }
func (e wireEvent) TurnID() string         { return e.turn }
func (e wireEvent) Payload() any           { return e.raw }

// NewSubscriber builds a subscriber on the given Pulse client. Only the
// Client field is required; the rest of the options default per their field
// docs.
func NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	if opts.Client == nil {
		return nil, errors.New("missing pulse client")
	}
	s := &Subscriber{
		client: opts.Client,
		name:   opts.SinkName,
		buffer: opts.Buffer,
		decode: opts.Decoder,
	}
	if s.name == "" {
		s.name = "dialog_subscriber"
	}
	if s.buffer <= 0 {
		s.buffer = 64
	}
	if s.decode == nil {
		s.decode = decodeEnvelope
	}
	return s, nil
}

// Subscribe opens a consumer group on streamID and starts a goroutine that
// decodes arriving envelopes onto the returned event channel. Events are
// acked only after the caller has received them, so an interrupted consumer
// sees unconsumed events again. The cancel function stops consumption and
// closes both channels.
//
//	out, errc, cancel, err := sub.Subscribe(ctx, "conversation/user-42")
//	defer cancel()
//	for evt := range out {
//	    handle(evt)
//	}
func (s *Subscriber) Subscribe(ctx context.Context, streamID string, opts ...streamopts.Sink) (<-chan stream.Event, <-chan error, context.CancelFunc, error) {
	handle, err := s.client.Stream(streamID)
	if err != nil {
		return nil, nil, nil, err
	}
	sink, err := handle.NewSink(ctx, s.name, opts...)
	if err != nil {
		return nil, nil, nil, err
	}
	out := make(chan stream.Event, s.buffer)
	errc := make(chan error, 1)
	subCtx, cancel := context.WithCancel(ctx)
	go s.consume(subCtx, sink, out, errc)
	stop := func() {
		cancel()
		sink.Close(context.Background())
	}
	return out, errc, stop, nil
}

// consume drains the consumer group until ctx ends or the group channel
// closes. A decode or ack failure lands on errc and stops consumption; the
// offending event stays pending in Redis.
func (s *Subscriber) consume(ctx context.Context, sink clientspulse.Sink, out chan<- stream.Event, errc chan<- error) {
	defer close(out)
	defer close(errc)
	ch := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-ch:
			if !ok {
				return
			}
			if err := s.deliver(ctx, sink, raw, out); err != nil {
				errc <- err
				return
			}
		}
	}
}

// deliver decodes one raw event, emits it, and acks it. Context expiry while
// emitting returns nil so the outer loop exits through its own ctx check.
func (s *Subscriber) deliver(ctx context.Context, sink clientspulse.Sink, raw *streaming.Event, out chan<- stream.Event) error {
	decoded, err := s.decode(raw.Payload)
	if err != nil {
		return fmt.Errorf("pulse decode payload: %w", err)
	}
	select {
	case out <- decoded:
	case <-ctx.Done():
		return nil
	}
	if err := sink.Ack(ctx, raw); err != nil {
		return fmt.Errorf("pulse ack: %w", err)
	}
	return nil
}

// decodeEnvelope unpacks the default JSON envelope written by Sink.Send.
func decodeEnvelope(data []byte) (stream.Event, error) {
	var env struct {
		Type      string          `json:"type"`
		UserKey   string          `json:"user_key"`
		TurnID    string          `json:"turn_id"`
		Timestamp time.Time       `json:"timestamp"`
		Payload   json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return wireEvent{
		typ:  stream.EventType(env.Type),
		user: env.UserKey,
		turn: env.TurnID,
		raw:  env.Payload,
	}, nil
}
