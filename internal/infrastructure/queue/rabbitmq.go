package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ClientConfig holds configuration for the RabbitMQ-backed queue.
type ClientConfig struct {
	URL        string
	QueueName  string
	Exchange   string
	RoutingKey string
	Prefetch   int

	// LongPollTimeout bounds how long Dequeue waits for a message before
	// looping to re-check ctx (§5: server-side long-poll, bounded ~20s).
	LongPollTimeout time.Duration
}

// DefaultClientConfig returns sensible defaults for the conversion job
// queue.
func DefaultClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:             url,
		QueueName:       "conversion_jobs",
		Exchange:        "",
		RoutingKey:      "conversion_jobs",
		Prefetch:        1,
		LongPollTimeout: 20 * time.Second,
	}
}

type amqpConnection interface {
	Channel() (*amqp.Channel, error)
	Close() error
}

type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	Close() error
}

// RabbitMQQueue implements Queue using RabbitMQ.
type RabbitMQQueue struct {
	conn    amqpConnection
	channel amqpChannel
	config  ClientConfig
	msgs    <-chan amqp.Delivery
}

// NewRabbitMQQueue dials RabbitMQ and declares the queue, failing fast
// on misconfiguration.
func NewRabbitMQQueue(cfg ClientConfig) (*RabbitMQQueue, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	return newRabbitMQQueueWithConnection(conn, cfg)
}

func newRabbitMQQueueWithConnection(conn amqpConnection, cfg ClientConfig) (*RabbitMQQueue, error) {
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("set QoS: %w", err)
	}

	if _, err := ch.QueueDeclare(cfg.QueueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	msgs, err := ch.Consume(cfg.QueueName, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("register consumer: %w", err)
	}

	return &RabbitMQQueue{conn: conn, channel: ch, config: cfg, msgs: msgs}, nil
}

// Publish sends a conversion job to the queue.
func (q *RabbitMQQueue) Publish(ctx context.Context, job Job) error {
	body, err := job.Marshal()
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	err = q.channel.PublishWithContext(ctx, q.config.Exchange, q.config.RoutingKey, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Dequeue blocks until a message is available or ctx is cancelled.
// The message is deleted from the queue (acked) before the job is
// returned to the caller -- see §4.2 and the Open Question in
// DESIGN.md about the at-least-once tradeoff this implies.
func (q *RabbitMQQueue) Dequeue(ctx context.Context) (Job, error) {
	timeout := q.config.LongPollTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	for {
		timer := time.NewTimer(timeout)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Job{}, ctx.Err()

		case msg, ok := <-q.msgs:
			timer.Stop()
			if !ok {
				return Job{}, fmt.Errorf("queue consumer channel closed")
			}

			if err := msg.Ack(false); err != nil {
				slog.Warn("failed to ack message", slog.String("error", err.Error()))
			}

			job, err := UnmarshalJob(msg.Body)
			if err != nil {
				return Job{}, err
			}
			return job, nil

		case <-timer.C:
			// Long-poll window elapsed with nothing delivered; loop and
			// re-check ctx.
		}
	}
}

// Close closes the channel and connection.
func (q *RabbitMQQueue) Close() error {
	if q.channel != nil {
		_ = q.channel.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

var _ Queue = (*RabbitMQQueue)(nil)
