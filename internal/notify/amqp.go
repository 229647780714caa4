package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/LeadPipe/internal/models"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel is the publishing side of an AMQP channel. *amqp.Channel satisfies it.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes a LeadEvent for every new lead to a topic exchange.
type AMQPPublisher struct {
	conn       *amqp.Connection
	ch         Channel
	exchange   string
	routingKey string
}

// NewAMQPPublisher dials url, opens a channel and declares a durable topic exchange.
func NewAMQPPublisher(url, exchange, routingKey string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to AMQP broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open AMQP channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	slog.Info("AMQPPublisher connected", "exchange", exchange, "routing_key", routingKey)
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange, routingKey: routingKey}, nil
}

// NewAMQPPublisherWithChannel creates a publisher over an already opened channel.
func NewAMQPPublisherWithChannel(ch Channel, exchange, routingKey string) *AMQPPublisher {
	return &AMQPPublisher{ch: ch, exchange: exchange, routingKey: routingKey}
}

// Name returns "amqp".
func (p *AMQPPublisher) Name() string { return "amqp" }

// Notify publishes the lead as a persistent JSON message.
func (p *AMQPPublisher) Notify(ctx context.Context, n Notification) error {
	body, err := json.Marshal(Event(n))
	if err != nil {
		return fmt.Errorf("failed to encode lead event: %w", err)
	}
	err = p.ch.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    n.ApplicationID,
		Timestamp:    n.Lead.CreatedAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish lead event: %w", err)
	}
	return nil
}

// Close closes the channel and the connection.
func (p *AMQPPublisher) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Event builds the broker payload of a notification.
func Event(n Notification) models.LeadEvent {
	return models.LeadEvent{
		ID:               n.ApplicationID,
		UserID:           n.Lead.UserID,
		Username:         n.Lead.Username,
		Phone:            n.Lead.Phone,
		ConsultationTime: n.Lead.ConsultationTime,
		CRMLeadID:        n.CRMLeadID,
		CreatedAt:        n.Lead.CreatedAt,
	}
}
