package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/myle1996kh/base-chatbot/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultExchange is the topic exchange escalation events are published to.
const DefaultExchange = "escalations"

const producerName = "escalation-engine"

// Meta is the envelope header shared by every bus message.
type Meta struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlation_id"`
	Producer      string    `json:"producer"`
	Time          time.Time `json:"time"`
	Type          string    `json:"type"`
}

// Envelope wraps an event for the message bus.
type Envelope struct {
	Meta Meta         `json:"meta"`
	Data domain.Event `json:"data"`
}

// NewEnvelope builds the bus envelope for ev. The session id is used as the
// correlation id so consumers can group a session's lifecycle.
func NewEnvelope(ev domain.Event) Envelope {
	return Envelope{
		Meta: Meta{
			ID:            ev.ID,
			CorrelationID: ev.SessionID,
			Producer:      producerName,
			Time:          ev.OccurredAt.UTC(),
			Type:          string(ev.Type),
		},
		Data: ev,
	}
}

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes events to a RabbitMQ topic exchange, routed by event type.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       amqpChannel
	exchange string
}

// NewAMQPPublisher dials url and declares the exchange.
func NewAMQPPublisher(rawURL, exchange string) (*AMQPPublisher, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("rabbitmq URL is required")
	}
	if exchange == "" {
		exchange = DefaultExchange
	}

	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Host
	}
	slog.Info("Connecting to RabbitMQ", "host", host, "exchange", exchange)

	conn, err := amqp.Dial(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", exchange, err)
	}

	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

// Name implements Sink.
func (p *AMQPPublisher) Name() string { return "amqp" }

// Send implements Sink.
func (p *AMQPPublisher) Send(ctx context.Context, ev domain.Event) error {
	env := NewEnvelope(ev)
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx, p.exchange, string(ev.Type), false, false, amqp.Publishing{
		ContentType:   "application/json",
		Body:          body,
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.Meta.ID,
		CorrelationId: env.Meta.CorrelationID,
		Type:          env.Meta.Type,
		Timestamp:     env.Meta.Time,
		AppId:         producerName,
		Headers:       amqp.Table{"tenant_id": ev.TenantID},
	})
}

// Close closes the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.Close(); err != nil {
		slog.Debug("Failed to close amqp channel", "error", err)
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
