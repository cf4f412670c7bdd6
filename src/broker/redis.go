package broker

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/meshcast/socket/src/wire"
)

// RedisBroker replicates envelopes between nodes via Redis pub/sub. One
// PubSub connection carries every topic subscription; a single listen
// goroutine dispatches to the per-topic handlers.
//
// go-redis re-establishes the PubSub channel set after a transport reconnect,
// so subscriptions survive a Redis restart. Publishes issued while the
// transport is down fail loudly with the transport error.
type RedisBroker struct {
	client *redis.Client
	sub    *redis.PubSub
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	handlers map[string]Handler
	closed   bool
}

// NewRedisBroker connects to Redis and starts the subscription listener.
func NewRedisBroker(cfg *RedisConfig, logger zerolog.Logger) (*RedisBroker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithCancel(context.Background())

	if err := client.Ping(ctx).Err(); err != nil {
		cancel()
		_ = client.Close()
		return nil, errors.Wrap(err, "broker: redis ping")
	}

	b := &RedisBroker{
		client:   client,
		sub:      client.Subscribe(ctx),
		logger:   logger.With().Str("component", "redis-broker").Logger(),
		ctx:      ctx,
		cancel:   cancel,
		handlers: make(map[string]Handler),
	}

	b.wg.Add(1)
	go b.listen()

	b.logger.Info().Str("addr", cfg.Addr).Msg("redis broker started")
	return b, nil
}

// Publish sends env to every subscriber of topic across the cluster. The
// publishing node receives its own message through the subscription like any
// other node.
func (b *RedisBroker) Publish(ctx context.Context, topic string, env *wire.Envelope) error {
	data, err := wire.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "broker: encode envelope")
	}
	if err := b.client.Publish(ctx, topic, data).Err(); err != nil {
		return errors.Wrapf(err, "broker: publish %s", topic)
	}
	return nil
}

// Subscribe adds topic to the shared PubSub and records its handler.
func (b *RedisBroker) Subscribe(ctx context.Context, topic string, handler Handler) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBrokerClosed
	}
	b.handlers[topic] = handler
	b.mu.Unlock()

	if err := b.sub.Subscribe(ctx, topic); err != nil {
		b.mu.Lock()
		delete(b.handlers, topic)
		b.mu.Unlock()
		return errors.Wrapf(err, "broker: subscribe %s", topic)
	}
	return nil
}

// Unsubscribe removes topic from the shared PubSub.
func (b *RedisBroker) Unsubscribe(ctx context.Context, topic string) error {
	b.mu.Lock()
	delete(b.handlers, topic)
	b.mu.Unlock()

	if err := b.sub.Unsubscribe(ctx, topic); err != nil {
		return errors.Wrapf(err, "broker: unsubscribe %s", topic)
	}
	return nil
}

// Close stops the listener and closes the Redis connections.
func (b *RedisBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	_ = b.sub.Close()
	b.wg.Wait()
	return b.client.Close()
}

func (b *RedisBroker) listen() {
	defer b.wg.Done()

	ch := b.sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.dispatch(msg)
		case <-b.ctx.Done():
			return
		}
	}
}

func (b *RedisBroker) dispatch(msg *redis.Message) {
	env, err := wire.Unmarshal([]byte(msg.Payload))
	if err != nil {
		b.logger.Error().Err(err).Str("topic", msg.Channel).Msg("failed to decode broker message")
		return
	}

	b.mu.RLock()
	handler, ok := b.handlers[msg.Channel]
	b.mu.RUnlock()
	if !ok {
		// Unsubscribe raced with an in-flight delivery.
		b.logger.Debug().Str("topic", msg.Channel).Msg("no handler for topic")
		return
	}
	handler(env)
}
