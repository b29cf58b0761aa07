package node_test

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fenwick-robotics/ipc-core/pkg/ipc"
	"github.com/fenwick-robotics/ipc-core/pkg/ipc/broker/membroker"
	"github.com/fenwick-robotics/ipc-core/pkg/ipc/node"
	"github.com/fenwick-robotics/ipc-core/pkg/ipc/pubsub"
	"github.com/fenwick-robotics/ipc-core/pkg/ipc/rpc"
)

type Ping struct {
	ipc.Message
	Seq int `json:"seq"`
}

func (*Ping) ClassName() string { return "test.Ping" }

var pingCodec = ipc.RegisterCodec("test.Ping", func(data []byte) (ipc.MessageClass, error) {
	var p Ping
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	if !ipc.HasTransportFields(data) {
		return nil, ipc.ErrMalformedMessage
	}
	return &p, nil
})

type EchoRequest struct {
	ipc.RequestBase
	Text string `json:"text"`
}

func (*EchoRequest) ClassName() string { return "test.EchoRequest" }

var echoCodec = ipc.RegisterCodec("test.EchoRequest", func(data []byte) (ipc.MessageClass, error) {
	var r EchoRequest
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	if !ipc.HasTransportFields(data) {
		return nil, ipc.ErrMalformedMessage
	}
	return &r, nil
})

func TestNode_PublishSubscribe(t *testing.T) {
	mb := membroker.New()
	defer mb.Close()

	topic := ipc.NewTopicSpec(ipc.BrokerSpec{Name: "b", Port: 1}, "ping", pingCodec)

	var received int32
	done := make(chan struct{})
	sub := node.New(ipc.NodeID{Name: "subscriber"}, node.WithBroker(mb))
	err := sub.AddSubscribers(context.Background(), map[ipc.TopicSpec]pubsub.Callback{
		topic: func(ctx context.Context, msg ipc.MessageClass) error {
			p := msg.(*Ping)
			if atomic.AddInt32(&received, 1) == int32(p.Seq)+1 && p.Seq == 2 {
				close(done)
			}
			return nil
		},
	})
	require.NoError(t, err)

	pub := node.New(ipc.NodeID{Name: "publisher"}, node.WithBroker(mb))
	pub.AddPublishers(topic)

	runCtx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = sub.Run(runCtx)
	}()

	time.Sleep(10 * time.Millisecond)
	for seq := 0; seq < 3; seq++ {
		require.NoError(t, pub.Publish(context.Background(), topic, &Ping{Seq: seq}))
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("subscriber never observed all three messages")
	}

	cancel()
	wg.Wait()
	require.EqualValues(t, 3, atomic.LoadInt32(&received))
}

func TestNode_RPCClientServerAndBlockingTask(t *testing.T) {
	mb := membroker.New()
	defer mb.Close()

	spec := ipc.RPCSpec{BrokerSpec: ipc.BrokerSpec{Name: "b", Port: 2}, BaseChannel: "echo", RequestCodec: echoCodec}

	var blockingRan int32
	server := node.New(ipc.NodeID{Name: "server"}, node.WithBroker(mb))
	ctx := context.Background()
	require.NoError(t, server.AddRPCServers(ctx, map[ipc.RPCSpec]rpc.ProcFunc{
		spec: func(ctx context.Context, req ipc.RPCRequest) (any, error) {
			er := req.(*EchoRequest)
			return er.Text, nil
		},
	}))
	server.AddBlockingTasks(func(ctx context.Context) error {
		atomic.AddInt32(&blockingRan, 1)
		<-ctx.Done()
		return ctx.Err()
	})

	runCtx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = server.Run(runCtx)
	}()

	time.Sleep(10 * time.Millisecond)

	client := node.New(ipc.NodeID{Name: "client"}, node.WithBroker(mb))
	require.NoError(t, client.AddRPCClients(ctx, spec))

	resp, err := client.RPCCall(ctx, spec, &EchoRequest{Text: "hello"})
	require.NoError(t, err)
	require.True(t, resp.Completed())

	text, err := rpc.DecodeReturn[string](resp)
	require.NoError(t, err)
	require.Equal(t, "hello", text)

	cancel()
	wg.Wait()
	client.Stop(context.Background())
	require.EqualValues(t, 1, atomic.LoadInt32(&blockingRan))
}
