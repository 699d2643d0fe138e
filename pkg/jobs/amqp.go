package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	amqpQueuePrefix     = "lms."
	amqpConnectRetries  = 5
	amqpConnectInterval = 5 * time.Second
)

// AMQPConfig configures the RabbitMQ backed broker.
type AMQPConfig struct {
	URL        string
	Types      []string
	MaxRetries int
	Prefetch   int
	Logger     *zap.Logger
}

// AMQPBroker publishes jobs to durable RabbitMQ queues, one per job type, and
// consumes them in worker processes.
type AMQPBroker struct {
	mu         sync.RWMutex
	conn       *amqp.Connection
	channel    *amqp.Channel
	types      []string
	maxRetries int
	prefetch   int
	logger     *zap.Logger
	closeOnce  sync.Once
}

var _ Dispatcher = (*AMQPBroker)(nil)

// QueueName returns the RabbitMQ queue carrying jobs of the given type.
func QueueName(jobType string) string {
	return amqpQueuePrefix + jobType
}

// NewAMQPBroker dials RabbitMQ (retrying a few times) and declares the queues.
func NewAMQPBroker(cfg AMQPConfig) (*AMQPBroker, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 4
	}
	conn, err := dial(cfg.URL, cfg.Logger)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	for _, t := range cfg.Types {
		if _, err := ch.QueueDeclare(QueueName(t), true, false, false, false, nil); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("declare rabbitmq queue %s: %w", QueueName(t), err)
		}
	}
	return &AMQPBroker{
		conn:       conn,
		channel:    ch,
		types:      cfg.Types,
		maxRetries: cfg.MaxRetries,
		prefetch:   cfg.Prefetch,
		logger:     cfg.Logger,
	}, nil
}

func dial(url string, logger *zap.Logger) (*amqp.Connection, error) {
	var lastErr error
	for attempt := 1; attempt <= amqpConnectRetries; attempt++ {
		conn, err := amqp.Dial(url)
		if err == nil {
			logger.Info("connected to rabbitmq")
			return conn, nil
		}
		lastErr = err
		logger.Warn("failed to connect to rabbitmq", zap.Int("attempt", attempt), zap.Error(err))
		time.Sleep(amqpConnectInterval)
	}
	return nil, fmt.Errorf("connect to rabbitmq after %d attempts: %w", amqpConnectRetries, lastErr)
}

// Enqueue publishes job as a persistent message.
func (b *AMQPBroker) Enqueue(ctx context.Context, job Job) (Handle, error) {
	if job.ID == "" {
		return Handle{}, fmt.Errorf("job id required")
	}
	if job.Enqueued.IsZero() {
		job.Enqueued = time.Now().UTC()
	}
	body, err := json.Marshal(job)
	if err != nil {
		return Handle{}, fmt.Errorf("marshal job %s: %w", job.ID, err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.channel == nil || b.channel.IsClosed() {
		return Handle{}, fmt.Errorf("rabbitmq channel is closed")
	}
	err = b.channel.PublishWithContext(ctx, "", QueueName(job.Type), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Type:         job.Type,
		Timestamp:    job.Enqueued,
		Body:         body,
	})
	if err != nil {
		return Handle{}, fmt.Errorf("publish %s: %w", job.Type, err)
	}
	return Handle{TaskID: job.ID, Type: job.Type}, nil
}

// Consume delivers jobs from every declared queue to handler until ctx is done.
// Failed jobs are republished with an incremented attempt until MaxRetries.
func (b *AMQPBroker) Consume(ctx context.Context, handler Handler) error {
	b.mu.RLock()
	ch := b.channel
	b.mu.RUnlock()
	if err := ch.Qos(b.prefetch, 0, false); err != nil {
		return fmt.Errorf("set rabbitmq qos: %w", err)
	}

	var wg sync.WaitGroup
	for _, t := range b.types {
		deliveries, err := ch.Consume(QueueName(t), "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("consume %s: %w", QueueName(t), err)
		}
		wg.Add(1)
		go func(queue string, deliveries <-chan amqp.Delivery) {
			defer wg.Done()
			b.consumeQueue(ctx, queue, deliveries, handler)
		}(QueueName(t), deliveries)
	}
	wg.Wait()
	return ctx.Err()
}

func (b *AMQPBroker) consumeQueue(ctx context.Context, queue string, deliveries <-chan amqp.Delivery, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				b.logger.Warn("rabbitmq delivery channel closed", zap.String("queue", queue))
				return
			}
			b.process(ctx, d, handler)
		}
	}
}

func (b *AMQPBroker) process(ctx context.Context, d amqp.Delivery, handler Handler) {
	var job Job
	if err := json.Unmarshal(d.Body, &job); err != nil {
		b.logger.Error("discarding malformed job", zap.String("message_id", d.MessageId), zap.Error(err))
		_ = d.Reject(false)
		return
	}
	err := handler(ctx, job)
	if err == nil {
		_ = d.Ack(false)
		return
	}
	job.Attempt++
	if job.Attempt > b.maxRetries {
		b.logger.Error("job exceeded retries", zap.String("job_id", job.ID), zap.String("type", job.Type), zap.Error(err))
		_ = d.Ack(false)
		return
	}
	b.logger.Warn("job failed, retrying", zap.String("job_id", job.ID), zap.String("type", job.Type), zap.Int("attempt", job.Attempt), zap.Error(err))
	if _, pubErr := b.Enqueue(ctx, job); pubErr != nil {
		b.logger.Error("failed to requeue job", zap.String("job_id", job.ID), zap.Error(pubErr))
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

// Close shuts the channel and connection.
func (b *AMQPBroker) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.channel != nil {
			_ = b.channel.Close()
		}
		if b.conn != nil {
			_ = b.conn.Close()
		}
	})
}
