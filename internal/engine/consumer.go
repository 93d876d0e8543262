package engine

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/aipoopers/zonemarket/internal/metrics"
)

// Consumer reads engine events from a RabbitMQ queue.
type Consumer struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	queue      string
	dispatcher *Dispatcher
	logger     *zap.Logger
	done       chan struct{}
	closeOnce  sync.Once
}

// NewConsumer connects to RabbitMQ.
func NewConsumer(url, queue string, dispatcher *Dispatcher, logger *zap.Logger) (*Consumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	return &Consumer{
		conn:       conn,
		channel:    channel,
		queue:      queue,
		dispatcher: dispatcher,
		logger:     logger,
		done:       make(chan struct{}),
	}, nil
}

// Start declares the queue and consumes it in the background. Deliveries are
// handled one at a time so events apply in queue order.
func (c *Consumer) Start(ctx context.Context) error {
	if _, err := c.channel.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", c.queue, err)
	}
	if err := c.channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	msgs, err := c.channel.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume from %s: %w", c.queue, err)
	}

	c.logger.Info("engine.consumer_started", zap.String("queue", c.queue))
	go c.consume(ctx, msgs)
	return nil
}

func (c *Consumer) consume(ctx context.Context, msgs <-chan amqp.Delivery) {
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				c.logger.Warn("engine.channel_closed")
				return
			}
			c.handle(ctx, msg)
		}
	}
}

// acker is the part of amqp.Delivery used to settle a message.
type acker interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func (c *Consumer) handle(ctx context.Context, msg amqp.Delivery) {
	settle(ctx, c.logger, c.dispatcher, msg.Body, &msg)
}

// settle applies body and acks it. Every handling error is a property of the
// message itself, so rejected messages are dropped rather than requeued.
func settle(ctx context.Context, logger *zap.Logger, d *Dispatcher, body []byte, a acker) {
	logger.Debug("engine.message_received", zap.ByteString("body", body))

	if err := d.Handle(ctx, body); err != nil {
		metrics.IncError("engine", "rejected")
		logger.Warn("engine.message_rejected", zap.ByteString("body", body), zap.Error(err))
		_ = a.Nack(false, false)
		return
	}
	_ = a.Ack(false)
}

// Close stops consuming and closes the connection.
func (c *Consumer) Close() error {
	c.closeOnce.Do(func() { close(c.done) })

	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
