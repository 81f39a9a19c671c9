package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rabbitmq/amqp091-go"
)

// ErrReject marks a message that must be dropped instead of requeued
var ErrReject = errors.New("message rejected")

// MessageHandler processes one delivery body
type MessageHandler func(ctx context.Context, routingKey string, body []byte) error

// Config describes the topology the consumer declares
type Config struct {
	URL        string
	Exchange   string
	Queue      string
	RoutingKey string
	Prefetch   int
}

type Consumer struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	queue   amqp091.Queue
	cfg     Config
	handler MessageHandler
}

// NewConsumer connects, declares the topic exchange and a durable queue, and binds them
func NewConsumer(cfg Config, handler MessageHandler) (*Consumer, error) {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 10
	}

	conn, err := amqp091.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set qos: %w", err)
	}

	slog.Info("AMQP consumer initialized",
		"exchange", cfg.Exchange,
		"queue", q.Name,
		"routing_key", cfg.RoutingKey,
	)

	return &Consumer{
		conn:    conn,
		channel: ch,
		queue:   q,
		cfg:     cfg,
		handler: handler,
	}, nil
}

// Run consumes until ctx is cancelled or the channel closes
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.channel.ConsumeWithContext(ctx, c.queue.Name, "notificaciones", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	slog.Info("AMQP consumer started", "queue", c.queue.Name)

	return c.consume(ctx, deliveries)
}

// ErrDeliveriesClosed is returned when the broker closes the delivery channel
// while the consumer is still expected to run
var ErrDeliveriesClosed = errors.New("delivery channel closed")

func (c *Consumer) consume(ctx context.Context, deliveries <-chan amqp091.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				// cancelling ctx also closes deliveries
				if ctx.Err() != nil {
					return nil
				}
				return ErrDeliveriesClosed
			}
			c.handle(ctx, msg)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg amqp091.Delivery) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("AMQP handler panic recovered", "routing_key", msg.RoutingKey, "panic", r)
			if err := msg.Nack(false, false); err != nil {
				slog.Error("Failed to nack message after panic", "error", err)
			}
		}
	}()

	err := c.handler(ctx, msg.RoutingKey, msg.Body)
	if err == nil {
		if err := msg.Ack(false); err != nil {
			slog.Error("Failed to ack message", "routing_key", msg.RoutingKey, "error", err)
		}
		return
	}

	requeue := !errors.Is(err, ErrReject)
	slog.Error("AMQP handler error",
		"routing_key", msg.RoutingKey,
		"requeue", requeue,
		"error", err,
	)
	if err := msg.Nack(false, requeue); err != nil {
		slog.Error("Failed to nack message", "routing_key", msg.RoutingKey, "error", err)
	}
}

func (c *Consumer) Close() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}
