package economy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/kieracarman/shopsim/internal/models"
)

// Publisher is the part of *amqp.Channel the sink needs.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// SettlementBatch is the message body published to RabbitMQ.
type SettlementBatch struct {
	Count       int                 `json:"count"`
	Revenue     float64             `json:"revenue"`
	Settlements []models.Settlement `json:"settlements"`
}

// AMQPSink publishes settlement batches to a RabbitMQ queue on the default exchange.
type AMQPSink struct {
	ch    Publisher
	queue string
}

// NewAMQPSink creates a sink that publishes on ch to queue.
func NewAMQPSink(ch Publisher, queue string) *AMQPSink {
	return &AMQPSink{ch: ch, queue: queue}
}

// Publish sends one batch as a single persistent JSON message.
func (s *AMQPSink) Publish(ctx context.Context, batch []models.Settlement) error {
	msg := SettlementBatch{
		Count:       len(batch),
		Settlements: batch,
	}
	for _, st := range batch {
		msg.Revenue += st.Amount
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding settlement batch: %w", err)
	}

	err = s.ch.PublishWithContext(ctx,
		"",
		s.queue,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publishing to queue %s: %w", s.queue, err)
	}
	return nil
}

// AMQPConnection owns the RabbitMQ connection and channel behind a sink.
type AMQPConnection struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	Sink *AMQPSink
}

// DialAMQP connects to RabbitMQ, declares a durable queue and returns a ready sink.
func DialAMQP(url, queue string) (*AMQPConnection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declaring queue %s: %w", queue, err)
	}

	return &AMQPConnection{conn: conn, ch: ch, Sink: NewAMQPSink(ch, queue)}, nil
}

// Close closes the channel and the connection.
func (c *AMQPConnection) Close() error {
	chErr := c.ch.Close()
	if err := c.conn.Close(); err != nil {
		return err
	}
	return chErr
}
