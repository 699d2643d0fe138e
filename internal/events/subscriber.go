package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Dispatcher runs the handlers for a decoded envelope.
type Dispatcher interface {
	DispatchEnvelope(ctx context.Context, env Envelope) error
}

// Subscriber feeds events published on a Redis channel into a dispatcher.
type Subscriber struct {
	client     *redis.Client
	channel    string
	dispatcher Dispatcher
	logger     *zap.Logger
}

// NewSubscriber builds a subscriber for channel.
func NewSubscriber(client *redis.Client, channel string, dispatcher Dispatcher, logger *zap.Logger) *Subscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{client: client, channel: channel, dispatcher: dispatcher, logger: logger}
}

// Run blocks until ctx is cancelled or the subscription fails.
func (s *Subscriber) Run(ctx context.Context) error {
	pubsub := s.client.Subscribe(ctx, s.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.channel, err)
	}
	s.logger.Info("listening for lifecycle events", zap.String("channel", s.channel))

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return fmt.Errorf("subscription %s closed", s.channel)
			}
			s.handle(ctx, msg.Payload)
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, payload string) {
	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		s.logger.Warn("discarding malformed event", zap.Error(err))
		return
	}
	if err := s.dispatcher.DispatchEnvelope(ctx, env); err != nil {
		s.logger.Error("event dispatch failed", zap.String("event", string(env.Type)), zap.Error(err))
	}
}

// Publisher emits events to a Redis channel.
type Publisher struct {
	client  *redis.Client
	channel string
}

// NewPublisher builds a publisher for channel.
func NewPublisher(client *redis.Client, channel string) *Publisher {
	return &Publisher{client: client, channel: channel}
}

// Publish encodes ev and publishes it.
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	env, err := Encode(ev)
	if err != nil {
		return err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, body).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Kind(), err)
	}
	return nil
}
