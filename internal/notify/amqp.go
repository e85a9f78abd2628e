package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"github.com/capitalize-ai/oncall-dispatch/internal/model"
	"github.com/capitalize-ai/oncall-dispatch/pkg/metrics"
)

// EventType names escalation events on the broker.
const EventType = "oncall.escalation.v1"

// Meta describes an event on the broker.
type Meta struct {
	ID            string    `json:"id"`
	CorrelationID *string   `json:"correlation_id,omitempty"`
	Producer      *string   `json:"producer,omitempty"`
	Time          time.Time `json:"time"`
	Type          string    `json:"type"`
}

// Envelope wraps an event payload.
type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// Escalation is the payload of an escalation event.
type Escalation struct {
	Channels     []string           `json:"channels"`
	Notification model.Notification `json:"notification"`
}

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// AMQPNotifier publishes escalations to a topic exchange for downstream
// paging integrations. Routing keys are "escalation.<level>".
type AMQPNotifier struct {
	conn     *amqp091.Connection
	open     func() (amqpChannel, error)
	exchange string
	producer string
}

// NewAMQPNotifier connects to url and declares a durable topic exchange.
func NewAMQPNotifier(url, exchange, producer string) (*AMQPNotifier, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	n := newAMQPNotifier(func() (amqpChannel, error) { return conn.Channel() }, exchange, producer)
	n.conn = conn
	return n, nil
}

func newAMQPNotifier(open func() (amqpChannel, error), exchange, producer string) *AMQPNotifier {
	return &AMQPNotifier{open: open, exchange: exchange, producer: producer}
}

// Notify publishes one persistent event carrying n and the target channels.
func (a *AMQPNotifier) Notify(ctx context.Context, channels []string, n model.Notification) (bool, error) {
	err := a.publish(ctx, channels, n)
	metrics.RecordNotification("amqp", err == nil)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (a *AMQPNotifier) publish(ctx context.Context, channels []string, n model.Notification) error {
	ch, err := a.open()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	id := uuid.NewString()
	correlation := n.SessionID
	env := Envelope{
		Meta: Meta{
			ID:            id,
			CorrelationID: &correlation,
			Producer:      &a.producer,
			Time:          n.CreatedAt.UTC(),
			Type:          EventType,
		},
		Data: Escalation{Channels: channels, Notification: n},
	}
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(ctx, a.exchange, "escalation."+n.Level, false, false, amqp091.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp091.Persistent,
		MessageId:     id,
		CorrelationId: correlation,
		Timestamp:     n.CreatedAt,
		Type:          EventType,
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish escalation: %w", err)
	}
	return nil
}

// Close closes the broker connection.
func (a *AMQPNotifier) Close() error {
	if a.conn == nil {
		return nil
	}
	return a.conn.Close()
}
