// Package source adapts the Redis pub/sub transport that delivers raw ticks.
package source

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tickflow/internal/config"
)

// Message is one raw payload received on a named channel.
type Message struct {
	Channel string
	Payload string
}

// Subscription is a live stream of raw tick messages.
type Subscription interface {
	// Messages returns the receive channel. It is closed after Close or
	// when the underlying transport shuts down.
	Messages() <-chan Message
	Close() error
}

// NewClient connects a Redis client and verifies the connection.
func NewClient(ctx context.Context, cfg config.SourceConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}

	return client, nil
}

// Subscriber subscribes to tick channels on a Redis client.
type Subscriber struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewSubscriber wires a Redis client into a Subscriber.
func NewSubscriber(client *redis.Client, logger zerolog.Logger) *Subscriber {
	return &Subscriber{
		client: client,
		logger: logger.With().Str("component", "source").Logger(),
	}
}

// Subscribe opens a subscription on the given channels. The transport offers
// at-most-once delivery; there is no acknowledgment protocol.
func (s *Subscriber) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("subscribe: no channels given")
	}

	pubsub := s.client.Subscribe(ctx, channels...)
	// Receive forces the SUBSCRIBE round trip so a bad connection fails here
	// rather than silently delivering nothing.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe to %v: %w", channels, err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		out:    make(chan Message),
	}
	go sub.pump(pubsub.Channel())

	s.logger.Info().Strs("channels", channels).Msg("subscribed to tick channels")
	return sub, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	out    chan Message
}

func (s *redisSubscription) pump(in <-chan *redis.Message) {
	defer close(s.out)
	for msg := range in {
		s.out <- Message{Channel: msg.Channel, Payload: msg.Payload}
	}
}

func (s *redisSubscription) Messages() <-chan Message { return s.out }

func (s *redisSubscription) Close() error { return s.pubsub.Close() }

// Publisher publishes raw payloads to tick channels. Used by the generator
// command; the core pipeline only consumes.
type Publisher struct {
	client *redis.Client
}

// NewPublisher wires a Redis client into a Publisher.
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// Publish sends one payload to a channel.
func (p *Publisher) Publish(ctx context.Context, channel, payload string) error {
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}
