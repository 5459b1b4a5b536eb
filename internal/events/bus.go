// Package events fans session state changes out to presentation consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"
)

// Topic carries every session event.
const Topic = "astra.session"

// Type names an event kind.
type Type string

const (
	TypeMessage  Type = "message"
	TypeReset    Type = "reset"
	TypeStatus   Type = "status"
	TypeEmotion  Type = "emotion"
	TypeMouth    Type = "mouth"
	TypeMemory   Type = "memory"
	TypeLearning Type = "learning"
	TypeSpeech   Type = "speech"
	TypeVoice    Type = "voice"
	TypeRoleplay Type = "roleplay"
)

// Event is one state-change notification. Seq increases monotonically per
// process; consumers use it to order events and drop stale ones.
type Event struct {
	Type Type            `json:"type"`
	Seq  uint64          `json:"seq"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Publisher is the write side used by the session and its components.
type Publisher interface {
	Publish(typ Type, data any)
}

// Bus is an in-process pub/sub built on a watermill go channel. Every
// subscriber sees events in Seq order.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger zerolog.Logger

	// mu serializes Seq assignment with delivery.
	mu  sync.Mutex
	seq uint64
}

// NewBus creates a bus. Events published while nobody is subscribed are
// dropped.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer:            256,
				BlockPublishUntilSubscriberAck: true,
			},
			watermillLogger{logger: logger},
		),
		logger: logger,
	}
}

// Publish encodes data and emits it. Failures are logged, never returned:
// a presentation hiccup must not break a turn.
func (b *Bus) Publish(typ Type, data any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	evt := Event{Type: typ, Seq: b.seq, At: time.Now()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			b.logger.Warn().Err(err).Str("type", string(typ)).Msg("encode event failed")
			return
		}
		evt.Data = raw
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		b.logger.Warn().Err(err).Str("type", string(typ)).Msg("encode envelope failed")
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("type", string(typ))
	if err := b.pubsub.Publish(Topic, msg); err != nil {
		b.logger.Warn().Err(err).Str("type", string(typ)).Msg("publish event failed")
	}
}

// Subscribe returns a channel of decoded events that closes when ctx ends or
// the bus is closed.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, error) {
	messages, err := b.pubsub.Subscribe(ctx, Topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", Topic, err)
	}

	out := make(chan Event, 64)
	go b.forward(ctx, messages, out)
	return out, nil
}

// forward acks each message once it is queued. Publishers wait only for the
// hand-off; the queue absorbs a slow consumer and keeps order.
func (b *Bus) forward(ctx context.Context, messages <-chan *message.Message, out chan<- Event) {
	defer close(out)

	var queue []Event
	in := messages
	for in != nil || len(queue) > 0 {
		var (
			send chan<- Event
			head Event
		)
		if len(queue) > 0 {
			send = out
			head = queue[0]
		}

		select {
		case msg, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			var evt Event
			if err := json.Unmarshal(msg.Payload, &evt); err != nil {
				b.logger.Warn().Err(err).Msg("discarding malformed event")
			} else {
				queue = append(queue, evt)
			}
			msg.Ack()
		case send <- head:
			queue = queue[1:]
		case <-ctx.Done():
			return
		}
	}
}

// Close shuts the underlying pub/sub down and closes all subscriptions.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}

// Discard is a Publisher that drops everything.
type Discard struct{}

func (Discard) Publish(Type, any) {}

// watermillLogger routes watermill's internal logging into zerolog one level
// down, so per-message chatter stays out of info output.
type watermillLogger struct {
	logger zerolog.Logger
}

func (l watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.logger.Error().Err(err).Fields(map[string]interface{}(fields)).Msg(msg)
}

func (l watermillLogger) Info(msg string, fields watermill.LogFields) {
	l.logger.Debug().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (l watermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.logger.Trace().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (l watermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.logger.Trace().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (l watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return watermillLogger{logger: l.logger.With().Fields(map[string]interface{}(fields)).Logger()}
}
