// Package broker abstracts the external pub/sub + key/value service the
// rest of the IPC core is built on. The broker itself is explicitly out of
// scope for this module (spec.md §1): this package only defines the thin
// contract the publisher, subscriber, and RPC layers need, plus one
// concrete implementation backed by Redis and one in-process test double.
package broker

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by operations on a Broker or Subscription after
// Close has been called.
var ErrClosed = errors.New("broker: closed")

// Broker is the contract every IPC component depends on: publish bytes on a
// named channel, subscribe to a channel for a stream of deliveries, and a
// last-writer-wins key/value store for RPC status.
//
// Implementations must fan out published bytes to every active subscription
// on that channel and must not require any persistence — a message
// published with no subscribers listening is simply dropped, matching
// spec.md's "no persistence required" and "no guaranteed delivery"
// non-goal.
type Broker interface {
	// Publish sends payload on channel. It does not block on subscriber
	// delivery; broker errors (e.g. connection loss) propagate to the
	// caller rather than being retried.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe opens a subscription to channel. The returned
	// Subscription yields only data deliveries — any subscription-meta
	// events the underlying transport produces (subscribe
	// acknowledgements, reconnects) are filtered out before they reach
	// the caller.
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	// Get returns the value stored under key, or ok=false if unset.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set stores value under key, last-writer-wins.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases any resources (connections, goroutines) this broker
	// holds. Safe to call more than once.
	Close() error
}

// Subscription is a lazy sequence of channel deliveries.
type Subscription interface {
	// Next blocks until a message arrives, ctx is cancelled, or the
	// subscription is closed. ok is false only in the latter two cases —
	// callers distinguish "no more messages" from "timed out" by
	// checking ctx.Err().
	Next(ctx context.Context) (payload []byte, ok bool)

	// Close ends the subscription. Safe to call more than once.
	Close() error
}

// Config configures one broker connection. Host and HealthCheckInterval
// default to the values the spec pins down (REDIS_HOST=localhost,
// REDIS_HEALTH_INTERVAL=30s) when left zero.
//
// The Python original also reads REDIS_SUB_SLEEP/REDIS_GET_INTERVAL to pace
// polling loops against Redis. This implementation has no polling loop to
// pace: RedisBroker's Subscribe is backed by go-redis's Channel(), and
// membroker is plain Go channels — both deliver push-style, so there is
// nothing for a poll interval to govern. See internal/config.Broker and
// SPEC_FULL.md for the full account of this deviation.
type Config struct {
	Host                string
	Port                int
	HealthCheckInterval time.Duration
}

// DefaultHealthCheckInterval matches REDIS_HEALTH_INTERVAL's default.
const DefaultHealthCheckInterval = 30 * time.Second

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.HealthCheckInterval == 0 {
		c.HealthCheckInterval = DefaultHealthCheckInterval
	}
	return c
}
