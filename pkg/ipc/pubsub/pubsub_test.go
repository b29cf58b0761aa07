package pubsub_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fenwick-robotics/ipc-core/pkg/ipc"
	"github.com/fenwick-robotics/ipc-core/pkg/ipc/broker/membroker"
	"github.com/fenwick-robotics/ipc-core/pkg/ipc/pubsub"
)

// Odometry is a minimal test message: a business payload embedding
// ipc.Message plus one field, registered with its own codec.
type Odometry struct {
	ipc.Message
	X float64 `json:"x"`
}

func (Odometry) ClassName() string { return "test.Odometry" }

var odometryCodec = ipc.RegisterCodec("test.Odometry", func(data []byte) (ipc.MessageClass, error) {
	var o Odometry
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, err
	}
	if !ipc.HasTransportFields(data) {
		return nil, ipc.ErrMalformedMessage
	}
	return &o, nil
})

type otherPayload struct {
	ipc.Message
}

func (otherPayload) ClassName() string { return "test.other" }

func testTopic(br string, channel string) ipc.TopicSpec {
	return ipc.NewTopicSpec(ipc.BrokerSpec{Name: br, Port: 1}, channel, odometryCodec)
}

func TestPublishSubscribe_RoundTripInOrder(t *testing.T) {
	mb := membroker.New()
	defer mb.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	topic := testTopic("b", "odom")
	pub := pubsub.New(ipc.NodeID{Name: "publisher"}, topic, mb)
	sub, err := pubsub.New(ctx, ipc.NodeID{Name: "subscriber"}, topic, mb, nil)
	require.NoError(t, err)
	defer sub.Close()

	time.Sleep(10 * time.Millisecond)

	for i := 0; i < 5; i++ {
		require.NoError(t, pub.Publish(ctx, &Odometry{X: float64(i)}))
	}

	for i := 0; i < 5; i++ {
		msg, ok := sub.GetMsg(ctx, time.Second)
		require.True(t, ok)
		odo, isOdo := msg.(*Odometry)
		require.True(t, isOdo)
		require.Equal(t, float64(i), odo.X)
		require.Equal(t, int64(i), odo.PubCounter)
	}
	require.Empty(t, sub.GetUnexpectedMsgs())
}

func TestPublish_TypeMismatchRejected(t *testing.T) {
	mb := membroker.New()
	defer mb.Close()
	ctx := context.Background()

	topic := testTopic("b", "odom2")
	pub := pubsub.New(ipc.NodeID{Name: "publisher"}, topic, mb)

	err := pub.Publish(ctx, &otherPayload{})
	require.ErrorIs(t, err, ipc.ErrTypeMismatch)
}

func TestSubscribe_OutOfOrderDetected(t *testing.T) {
	mb := membroker.New()
	defer mb.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	topic := testTopic("b", "odom3")
	sub, err := pubsub.New(ctx, ipc.NodeID{Name: "subscriber"}, topic, mb, nil)
	require.NoError(t, err)
	defer sub.Close()

	time.Sleep(10 * time.Millisecond)

	sender := ipc.NodeID{Name: "publisher"}
	send := func(counter int64) {
		m := Odometry{X: 1}
		m.Stamp(sender, time.Now(), counter)
		payload, merr := json.Marshal(m)
		require.NoError(t, merr)
		require.NoError(t, mb.Publish(ctx, topic.Channel, payload))
	}

	send(0)
	send(1)
	send(3) // gap: expected 2, got 3

	for i := 0; i < 3; i++ {
		_, ok := sub.GetMsg(ctx, time.Second)
		require.True(t, ok)
	}

	unexpected := sub.GetUnexpectedMsgs()
	require.Len(t, unexpected, 1)
}

func TestSubscribe_MalformedMessageSkipped(t *testing.T) {
	mb := membroker.New()
	defer mb.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	topic := testTopic("b", "odom4")
	sub, err := pubsub.New(ctx, ipc.NodeID{Name: "subscriber"}, topic, mb, nil)
	require.NoError(t, err)
	defer sub.Close()

	time.Sleep(10 * time.Millisecond)

	// Publish a message with no sender/pub_dt — decodes to ErrMalformedMessage.
	require.NoError(t, mb.Publish(ctx, topic.Channel, []byte(`{"x":1}`)))

	pub := pubsub.New(ipc.NodeID{Name: "publisher"}, topic, mb)
	require.NoError(t, pub.Publish(ctx, &Odometry{X: 9}))

	msg, ok := sub.GetMsg(ctx, time.Second)
	require.True(t, ok)
	odo := msg.(*Odometry)
	require.Equal(t, float64(9), odo.X)
}

func TestSubscribe_GetMsgTimesOut(t *testing.T) {
	mb := membroker.New()
	defer mb.Close()
	ctx := context.Background()

	topic := testTopic("b", "odom5")
	sub, err := pubsub.New(ctx, ipc.NodeID{Name: "subscriber"}, topic, mb, nil)
	require.NoError(t, err)
	defer sub.Close()

	_, ok := sub.GetMsg(ctx, 50*time.Millisecond)
	require.False(t, ok)
}
