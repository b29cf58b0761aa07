package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/fenwick-robotics/ipc-core/internal/logging"
)

// RedisBroker implements Broker over a single Redis connection, the domain
// dependency this module is built around (the Python original talks to
// Redis directly via redis.Redis; this mirrors that shape with
// github.com/redis/go-redis/v9, the same client the example pack's
// dmitrymomot-gokit SSE broker uses for pub/sub fan-out).
type RedisBroker struct {
	client *redis.Client
	cfg    Config
	log    zerologLogger
}

// zerologLogger is the narrow slice of internal/logging this package needs,
// kept as an interface so broker doesn't force a hard dependency direction
// on the concrete logging package beyond what it actually calls.
type zerologLogger interface {
	Warnf(format string, args ...interface{})
}

// NewRedisBroker opens a connection to the broker described by cfg. One
// *redis.Client is created per call; callers that want the "pooled by port"
// behavior spec.md describes should go through Registry instead of calling
// this directly.
func NewRedisBroker(cfg Config) *RedisBroker {
	cfg = cfg.withDefaults()
	client := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		// go-redis doesn't expose a single "health_check_interval" knob
		// the way redis-py does; PoolSize/MinIdleConns plus periodic
		// pings are handled internally, so HealthCheckInterval is kept
		// on Config for parity with the documented environment variable
		// and is otherwise informational for this client.
	})
	return &RedisBroker{
		client: client,
		cfg:    cfg,
		log:    logging.WithComponent("broker.redis"),
	}
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.client.Publish(ctx, channel, payload).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	pubsub := b.client.Subscribe(ctx, channel)
	// Confirm the subscription went through before handing back a
	// Subscription, so callers see connection errors immediately rather
	// than on the first Next call.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("broker: subscribe %q: %w", channel, err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		// go-redis's Channel() already does the meta/data event
		// filtering spec.md calls out as a manual concern in the
		// Python original (redis-py's get_message returns both data
		// and subscribe-ack "messages" and callers must check
		// raw_msg["type"] == "message"); Channel() only ever yields
		// *redis.Message, i.e. data deliveries.
		msgs: pubsub.Channel(),
	}
	return sub, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	msgs   <-chan *redis.Message

	closeOnce sync.Once
}

func (s *redisSubscription) Next(ctx context.Context) ([]byte, bool) {
	select {
	case msg, ok := <-s.msgs:
		if !ok {
			return nil, false
		}
		return []byte(msg.Payload), true
	case <-ctx.Done():
		return nil, false
	}
}

func (s *redisSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.pubsub.Close()
	})
	return err
}

func (b *RedisBroker) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := b.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("broker: get %q: %w", key, err)
	}
	return val, true, nil
}

func (b *RedisBroker) Set(ctx context.Context, key string, value []byte) error {
	if err := b.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("broker: set %q: %w", key, err)
	}
	return nil
}

func (b *RedisBroker) Delete(ctx context.Context, key string) error {
	if err := b.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("broker: delete %q: %w", key, err)
	}
	return nil
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}
