package notify

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"github.com/xenking/spin-rewards/internal/domain/user"
)

// EventsConfig configures publishing of lifecycle events to Kafka.
type EventsConfig struct {
	Brokers []string
	Topic   string
}

// Enabled reports whether brokers are configured.
func (c EventsConfig) Enabled() bool {
	return len(c.Brokers) > 0 && c.Topic != ""
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EventChannel publishes code lifecycle events keyed by user id, so events
// of one user stay ordered within a partition.
type EventChannel struct {
	w messageWriter
}

// NewEventChannel creates a Kafka writer for cfg.
func NewEventChannel(cfg EventsConfig) *EventChannel {
	return &EventChannel{w: &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}}
}

func (c *EventChannel) Name() string { return "events" }

// Send publishes the event behind m. Trace context travels in the headers.
func (c *EventChannel) Send(ctx context.Context, to user.Contact, m Message) error {
	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(to.ID, 10)),
		Value: encodeEvent(uuid.New(), m),
		Time:  m.Event.OccurredAt,
	}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier{msg: &msg})

	if err := c.w.WriteMessages(ctx, msg); err != nil {
		return errors.Wrap(err, "write event")
	}
	return nil
}

// Close flushes pending messages.
func (c *EventChannel) Close() error {
	return c.w.Close()
}

func encodeEvent(id uuid.UUID, m Message) []byte {
	e := m.Event
	var enc jx.Encoder
	enc.Obj(func(enc *jx.Encoder) {
		enc.Field("id", func(enc *jx.Encoder) { enc.Str(id.String()) })
		enc.Field("type", func(enc *jx.Encoder) { enc.Str(string(e.Kind)) })
		enc.Field("occurredAt", func(enc *jx.Encoder) { enc.Str(e.OccurredAt.UTC().Format(time.RFC3339Nano)) })
		enc.Field("userId", func(enc *jx.Encoder) { enc.Int64(e.Code.UserID) })
		enc.Field("businessId", func(enc *jx.Encoder) {
			if e.Code.BusinessID == nil {
				enc.Null()
				return
			}
			enc.Int64(*e.Code.BusinessID)
		})
		enc.Field("code", func(enc *jx.Encoder) { enc.Str(e.Code.Code) })
		enc.Field("amount", func(enc *jx.Encoder) { enc.Num(jx.Num(e.Code.Amount.String())) })
		enc.Field("label", func(enc *jx.Encoder) { enc.Str(e.Label) })
		enc.Field("expiresAt", func(enc *jx.Encoder) { enc.Str(e.Code.ExpiresAt.UTC().Format(time.RFC3339Nano)) })
	})
	return enc.Bytes()
}

// headerCarrier adapts Kafka headers to the OpenTelemetry propagator.
type headerCarrier struct {
	msg *kafka.Message
}

func (c headerCarrier) Get(key string) string {
	for _, h := range c.msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c headerCarrier) Set(key, value string) {
	for i, h := range c.msg.Headers {
		if h.Key == key {
			c.msg.Headers[i].Value = []byte(value)
			return
		}
	}
	c.msg.Headers = append(c.msg.Headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, len(c.msg.Headers))
	for i, h := range c.msg.Headers {
		keys[i] = h.Key
	}
	return keys
}
