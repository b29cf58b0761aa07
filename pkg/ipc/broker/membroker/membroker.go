// Package membroker is an in-process, channel-based Broker implementation
// used by unit tests across pubsub, rpc, and node that want to exercise the
// real protocol logic without a live Redis. It satisfies broker.Broker
// exactly; nothing outside a _test.go file should import it.
package membroker

import (
	"context"
	"sync"

	"github.com/fenwick-robotics/ipc-core/pkg/ipc/broker"
)

// Broker is an in-memory pub/sub + key/value store. The zero value is not
// usable; construct with New.
type Broker struct {
	mu   sync.Mutex
	subs map[string][]*subscription
	kv   map[string][]byte

	closed bool
}

// New returns a ready-to-use in-process broker.
func New() *Broker {
	return &Broker{
		subs: make(map[string][]*subscription),
		kv:   make(map[string][]byte),
	}
}

var _ broker.Broker = (*Broker)(nil)

func (b *Broker) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return broker.ErrClosed
	}

	// Copy so a caller mutating payload after Publish can't race a
	// subscriber reading it.
	cp := make([]byte, len(payload))
	copy(cp, payload)

	for _, sub := range b.subs[channel] {
		select {
		case sub.ch <- cp:
		default:
			// Slow subscriber: drop, matching "no persistence, no
			// guaranteed delivery" — the same thing a real broker's
			// fan-out would do under backpressure.
		}
	}
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, channel string) (broker.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, broker.ErrClosed
	}

	sub := &subscription{
		ch:   make(chan []byte, 256),
		done: make(chan struct{}),
	}
	b.subs[channel] = append(b.subs[channel], sub)

	sub.unregister = func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		peers := b.subs[channel]
		for i, s := range peers {
			if s == sub {
				b.subs[channel] = append(peers[:i], peers[i+1:]...)
				break
			}
		}
		// Wake any pending Next. Once the broker is closed it has already
		// closed done for every registered subscription.
		if !b.closed {
			close(sub.done)
		}
	}

	return sub, nil
}

func (b *Broker) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, false, broker.ErrClosed
	}
	v, ok := b.kv[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

func (b *Broker) Set(ctx context.Context, key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return broker.ErrClosed
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	b.kv[key] = cp
	return nil
}

func (b *Broker) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return broker.ErrClosed
	}
	delete(b.kv, key)
	return nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for _, peers := range b.subs {
		for _, s := range peers {
			close(s.done)
		}
	}
	return nil
}

type subscription struct {
	ch         chan []byte
	done       chan struct{}
	unregister func()

	closeOnce sync.Once
}

func (s *subscription) Next(ctx context.Context) ([]byte, bool) {
	select {
	case payload, ok := <-s.ch:
		if !ok {
			return nil, false
		}
		return payload, true
	case <-s.done:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		if s.unregister != nil {
			s.unregister()
		}
	})
	return nil
}
