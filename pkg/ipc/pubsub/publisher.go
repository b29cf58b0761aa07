// Package pubsub implements the publish/subscribe transport the rest of the
// IPC core (including RPC) is built on: per-publisher sequencing, latency
// health-checking, and out-of-order detection on the receive side.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fenwick-robotics/ipc-core/internal/logging"
	"github.com/fenwick-robotics/ipc-core/pkg/ipc"
	"github.com/fenwick-robotics/ipc-core/pkg/ipc/broker"
)

// Publisher stamps and serializes messages for one topic and hands them to
// the broker. Constructing a Publisher is cheap — spec.md explicitly calls
// out throwaway publishers as fine for one-off sends (e.g. an RPC server's
// response).
type Publisher struct {
	nodeID  ipc.NodeID
	topic   ipc.TopicSpec
	br      broker.Broker
	counter int64 // atomic; see Publish

	log logging.Scoped
}

// New creates a Publisher for topic, using br as the underlying broker
// connection (typically broker.Default().Get(topic.BrokerSpec.Port)).
func New(nodeID ipc.NodeID, topic ipc.TopicSpec, br broker.Broker) *Publisher {
	return &Publisher{
		nodeID: nodeID,
		topic:  topic,
		br:     br,
		log:    logging.WithComponent("pubsub.publisher").WithNode(nodeID.Name).WithTopic(topic.Channel),
	}
}

// Publish stamps msg with this publisher's node ID, the current time, and
// the next per-publisher sequence number, then serializes and sends it on
// the topic's channel.
//
// msg must be an instance of the topic's bound message class; otherwise
// Publish returns ipc.ErrTypeMismatch without touching the broker or the
// sequence counter. Broker errors propagate as-is — there is no retry.
func (p *Publisher) Publish(ctx context.Context, msg ipc.Stampable) error {
	if !p.topic.Codec.Matches(msg) {
		return fmt.Errorf("%w: publish on %q expects %s, got %s",
			ipc.ErrTypeMismatch, p.topic.Channel, p.topic.Codec.Name(), msg.ClassName())
	}

	counter := atomic.AddInt64(&p.counter, 1) - 1
	msg.GetMessage().Stamp(p.nodeID, time.Now(), counter)

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %w", msg.ClassName(), err)
	}

	if err := p.br.Publish(ctx, p.topic.Channel, payload); err != nil {
		return fmt.Errorf("pubsub: publish on %q: %w", p.topic.Channel, err)
	}
	return nil
}

// Topic returns the topic this publisher sends on.
func (p *Publisher) Topic() ipc.TopicSpec { return p.topic }
