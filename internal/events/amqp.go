package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// RawPublisher sends a pre-encoded body under a routing key.
type RawPublisher interface {
	PublishRaw(ctx context.Context, routingKey string, body []byte) error
}

// AMQPPublisher publishes to a durable topic exchange.
type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

func (p *AMQPPublisher) PublishRaw(ctx context.Context, routingKey string, body []byte) error {
	return p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}

func (p *AMQPPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// RoutingKey maps an event type such as engagement_accepted to engagement.accepted.
func RoutingKey(eventType string) string {
	return strings.Replace(eventType, "_", ".", 1)
}

// Forward subscribes to every engagement event on bus and relays it to pub.
// Broker failures are logged and never reach the publisher of the event.
func Forward(bus *EventBus, pub RawPublisher, timeout time.Duration, logger *zerolog.Logger) {
	if bus == nil || pub == nil {
		return
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	for _, eventType := range AllEngagementEvents {
		bus.Subscribe(eventType, func(event *Event) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			key := RoutingKey(event.Type)
			if err := pub.PublishRaw(ctx, key, event.Payload); err != nil {
				logger.Warn().Err(err).Str("routing_key", key).Msg("failed to forward event to broker")
				return err
			}
			return nil
		})
	}
}
