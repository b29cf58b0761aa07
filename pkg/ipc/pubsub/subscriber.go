package pubsub

import (
	"context"
	"sync"
	"time"

	"github.com/fenwick-robotics/ipc-core/internal/logging"
	"github.com/fenwick-robotics/ipc-core/pkg/ipc"
	"github.com/fenwick-robotics/ipc-core/pkg/ipc/broker"
)

// LatencyWindow is the minimum span of received-message history the
// subscriber keeps before it will evaluate latency thresholds at all —
// "the most recent >= 1s of received-message timestamps" from the
// glossary.
const LatencyWindow = 1 * time.Second

// Callback is invoked once per delivered, successfully decoded message.
// Unlike the Python original, Go's type system can't distinguish a
// blocking function from a cooperative one at construction time — a
// Callback that does its own blocking I/O will simply stall this
// subscriber's Listen loop until it returns, the same as a synchronous
// callback would in the source. Callers are expected to keep callbacks
// short or hand off to their own goroutine, exactly as any Go channel
// consumer would.
type Callback func(ctx context.Context, msg ipc.MessageClass) error

type latencyRecord struct {
	rcvTS   time.Time
	latency time.Duration
}

// Subscriber receives messages on one topic, decodes them against the
// topic's bound message class, and enforces the two health checks every
// delivery is subject to: latency and per-publisher ordering.
type Subscriber struct {
	nodeID ipc.NodeID
	topic  ipc.TopicSpec
	sub    broker.Subscription
	cb     Callback

	mu             sync.Mutex
	pubCounters    map[ipc.NodeID]int64
	unexpectedMsgs []ipc.MessageClass
	latencyRecords []latencyRecord
	issueCount     int

	log logging.Scoped
}

// New opens a subscription to topic.Channel and returns a ready-to-use
// Subscriber. cb may be nil — a Subscriber with no callback is still
// useful for GetMsg-driven polling (the RPC client's response wait uses
// exactly this).
func New(ctx context.Context, nodeID ipc.NodeID, topic ipc.TopicSpec, br broker.Broker, cb Callback) (*Subscriber, error) {
	sub, err := br.Subscribe(ctx, topic.Channel)
	if err != nil {
		return nil, err
	}
	return &Subscriber{
		nodeID:      nodeID,
		topic:       topic,
		sub:         sub,
		cb:          cb,
		pubCounters: make(map[ipc.NodeID]int64),
		log:         logging.WithComponent("pubsub.subscriber").WithNode(nodeID.Name).WithTopic(topic.Channel),
	}, nil
}

// Listen runs until ctx is cancelled or the underlying subscription is
// closed, invoking the callback once per message, sequentially — at most
// one callback instance runs at a time for this Subscriber.
func (s *Subscriber) Listen(ctx context.Context) error {
	if s.cb == nil {
		return nil
	}
	for {
		msg, ok := s.GetMsg(ctx, 0)
		if !ok {
			return ctx.Err()
		}
		if err := s.cb(ctx, msg); err != nil {
			s.log.Errorf("callback returned error: %v", err)
		}
	}
}

// GetMsg blocks until a data message arrives, timeout elapses, or ctx is
// cancelled. timeout <= 0 means wait forever (bounded only by ctx).
// Malformed deliveries (missing transport fields, undecodable payload) are
// logged and skipped without consuming the caller's timeout budget in a
// way that looks like "no message arrived" — the loop keeps polling until
// a well-formed message shows up or time runs out.
func (s *Subscriber) GetMsg(ctx context.Context, timeout time.Duration) (ipc.MessageClass, bool) {
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	for {
		payload, ok := s.sub.Next(waitCtx)
		if !ok {
			return nil, false
		}

		msg, err := s.topic.Codec.Decode(payload)
		if err != nil {
			s.log.Warnf("dropping malformed message on %s: %v", s.topic.Channel, err)
			continue
		}

		s.checkLatency(msg)
		s.checkOrdering(msg)
		return msg, true
	}
}

func (s *Subscriber) checkLatency(msg ipc.MessageClass) {
	stamp, ok := msg.(ipc.Stampable)
	if !ok {
		return
	}
	base := stamp.GetMessage()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.latencyRecords = append(s.latencyRecords, latencyRecord{
		rcvTS:   now,
		latency: now.Sub(base.PubDT),
	})

	// Trim the window: keep one record older than the window boundary so
	// there's always >= 1s of history backing a check, per spec.md §4.4.
	cutoff := now.Add(-LatencyWindow)
	startIx := 0
	for ix, lr := range s.latencyRecords {
		if lr.rcvTS.After(cutoff) {
			startIx = ix - 1
			if startIx < 0 {
				startIx = 0
			}
			break
		}
	}
	s.latencyRecords = s.latencyRecords[startIx:]

	if now.Sub(s.latencyRecords[0].rcvTS) < LatencyWindow {
		// Not enough data yet to evaluate thresholds.
		return
	}

	last := s.latencyRecords[len(s.latencyRecords)-1]
	if last.latency > s.topic.MaxSingleLatency {
		s.log.Warnf("very late message: latency=%s on %s", last.latency, s.topic.Channel)
		s.issueCount++
	}

	var sum time.Duration
	for _, lr := range s.latencyRecords {
		sum += lr.latency
	}
	avg := sum / time.Duration(len(s.latencyRecords))
	if avg > s.topic.MaxAvgLatency {
		s.log.Warnf("average latency exceeded: avg=%s over %d messages on %s", avg, len(s.latencyRecords), s.topic.Channel)
		s.issueCount++
		// Reset to avoid repeatedly penalizing the same slow window.
		s.latencyRecords = nil
	}
}

func (s *Subscriber) checkOrdering(msg ipc.MessageClass) {
	stamp, ok := msg.(ipc.Stampable)
	if !ok {
		return
	}
	base := stamp.GetMessage()
	if base.SenderID.IsZero() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	expected, seen := s.pubCounters[base.SenderID]
	if !seen {
		s.pubCounters[base.SenderID] = base.PubCounter
		return
	}

	expected++
	if expected != base.PubCounter {
		s.log.Warnf("out-of-order message from %s: expected counter %d, got %d", base.SenderID, expected, base.PubCounter)
		s.unexpectedMsgs = append(s.unexpectedMsgs, msg)
		// Resync so one gap doesn't cascade into every subsequent message
		// being flagged.
		s.pubCounters[base.SenderID] = base.PubCounter
		return
	}
	s.pubCounters[base.SenderID] = expected
}

// GetLatencyIssueCount returns the number of latency warnings (single or
// average) raised so far.
func (s *Subscriber) GetLatencyIssueCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueCount
}

// GetUnexpectedMsgs returns a copy of the out-of-order messages observed so
// far.
func (s *Subscriber) GetUnexpectedMsgs() []ipc.MessageClass {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ipc.MessageClass, len(s.unexpectedMsgs))
	copy(out, s.unexpectedMsgs)
	return out
}

// Close clears per-publisher counters and closes the underlying broker
// subscription.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	s.pubCounters = make(map[ipc.NodeID]int64)
	s.mu.Unlock()
	return s.sub.Close()
}

// Topic returns the topic this subscriber listens on.
func (s *Subscriber) Topic() ipc.TopicSpec { return s.topic }
