package eventing

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Connection wraps a RabbitMQ connection.
type Connection struct {
	conn *amqp.Connection
}

// NewConnection dials RabbitMQ.
func NewConnection(url string, logger *zap.Logger) (*Connection, error) {
	if url == "" {
		return nil, fmt.Errorf("eventing: empty rabbitmq url")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("eventing: rabbitmq dial: %w", err)
	}
	if logger != nil {
		logger.Info("rabbitmq connection established")
	}
	return &Connection{conn: conn}, nil
}

// Channel opens a new channel.
func (c *Connection) Channel() (*amqp.Channel, error) {
	return c.conn.Channel()
}

// Close closes the underlying connection.
func (c *Connection) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
