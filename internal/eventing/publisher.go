package eventing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"qhome-metering/internal/observability/metrics"
)

// AMQPPublisher publishes domain events to a topic exchange.
type AMQPPublisher struct {
	channel  *amqp.Channel
	exchange string
	logger   *zap.Logger
}

// NewAMQPPublisher declares the exchange and returns a publisher.
func NewAMQPPublisher(conn *Connection, exchange string, logger *zap.Logger) (*AMQPPublisher, error) {
	if conn == nil {
		return nil, fmt.Errorf("eventing: nil connection")
	}
	if exchange == "" {
		return nil, fmt.Errorf("eventing: empty exchange")
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("eventing: open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("eventing: declare exchange: %w", err)
	}

	return &AMQPPublisher{channel: ch, exchange: exchange, logger: logger}, nil
}

// Publish marshals the event and publishes it with the routing key.
func (p *AMQPPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		metrics.ObserveEventPublished(routingKey, metrics.ResultError)
		return fmt.Errorf("eventing: marshal event: %w", err)
	}

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
		},
	)
	if err != nil {
		metrics.ObserveEventPublished(routingKey, metrics.ResultError)
		return fmt.Errorf("eventing: publish: %w", err)
	}

	metrics.ObserveEventPublished(routingKey, metrics.ResultSuccess)
	if p.logger != nil {
		p.logger.Debug("published event", zap.String("routing_key", routingKey))
	}
	return nil
}
