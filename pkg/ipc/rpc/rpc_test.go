package rpc_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fenwick-robotics/ipc-core/pkg/ipc"
	"github.com/fenwick-robotics/ipc-core/pkg/ipc/broker/membroker"
	"github.com/fenwick-robotics/ipc-core/pkg/ipc/rpc"
)

type AddRequest struct {
	ipc.RequestBase
	A int `json:"a"`
	B int `json:"b"`
}

func (*AddRequest) ClassName() string { return "test.AddRequest" }

var addRequestCodec = ipc.RegisterCodec("test.AddRequest", func(data []byte) (ipc.MessageClass, error) {
	var r AddRequest
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	if !ipc.HasTransportFields(data) {
		return nil, ipc.ErrMalformedMessage
	}
	return &r, nil
})

func addSpec() ipc.RPCSpec {
	return ipc.RPCSpec{
		BrokerSpec:   ipc.BrokerSpec{Name: "b", Port: 1},
		BaseChannel:  "add",
		RequestCodec: addRequestCodec,
	}
}

func addProc(ctx context.Context, req ipc.RPCRequest) (any, error) {
	ar := req.(*AddRequest)
	return ar.A + ar.B, nil
}

func TestRPC_CallReturnsResult(t *testing.T) {
	mb := membroker.New()
	defer mb.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	spec := addSpec()
	server, err := rpc.NewServer(ctx, ipc.NodeID{Name: "server"}, spec, addProc, mb)
	require.NoError(t, err)
	go server.Serve(ctx)
	defer server.Close(context.Background())

	client, err := rpc.NewClient(ctx, ipc.NodeID{Name: "client"}, spec, mb)
	require.NoError(t, err)
	defer client.Close()

	time.Sleep(10 * time.Millisecond)

	resp, err := client.Call(ctx, &AddRequest{A: 2, B: 3})
	require.NoError(t, err)
	require.True(t, resp.Completed())

	sum, err := rpc.DecodeReturn[int](resp)
	require.NoError(t, err)
	require.Equal(t, 5, sum)
}

func TestRPC_DuplicateServerRejected(t *testing.T) {
	mb := membroker.New()
	defer mb.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	spec := addSpec()
	s1, err := rpc.NewServer(ctx, ipc.NodeID{Name: "server-1"}, spec, addProc, mb)
	require.NoError(t, err)
	defer s1.Close(context.Background())

	_, err = rpc.NewServer(ctx, ipc.NodeID{Name: "server-2"}, spec, addProc, mb)
	require.ErrorIs(t, err, ipc.ErrDuplicateServer)

	// The same node reclaiming its own status key is fine.
	s1b, err := rpc.NewServer(ctx, ipc.NodeID{Name: "server-1"}, spec, addProc, mb)
	require.NoError(t, err)
	defer s1b.Close(context.Background())
}

func TestRPC_ErroredProcedure(t *testing.T) {
	mb := membroker.New()
	defer mb.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	spec := addSpec()
	errProc := func(ctx context.Context, req ipc.RPCRequest) (any, error) {
		return nil, errBoom
	}
	server, err := rpc.NewServer(ctx, ipc.NodeID{Name: "server"}, spec, errProc, mb)
	require.NoError(t, err)
	go server.Serve(ctx)
	defer server.Close(context.Background())

	client, err := rpc.NewClient(ctx, ipc.NodeID{Name: "client"}, spec, mb)
	require.NoError(t, err)
	defer client.Close()

	time.Sleep(10 * time.Millisecond)

	resp, err := client.Call(ctx, &AddRequest{A: 1, B: 1})
	require.NoError(t, err)
	require.True(t, resp.Errored())
	require.False(t, resp.Cancelled)
}

var errBoom = &boomError{}

type boomError struct{}

func (*boomError) Error() string { return "boom" }

func TestRPC_CancelledProcedure(t *testing.T) {
	mb := membroker.New()
	defer mb.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	spec := addSpec()
	blockingProc := func(ctx context.Context, req ipc.RPCRequest) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	server, err := rpc.NewServer(ctx, ipc.NodeID{Name: "server"}, spec, blockingProc, mb)
	require.NoError(t, err)
	go server.Serve(ctx)
	defer server.Close(context.Background())

	client, err := rpc.NewClient(ctx, ipc.NodeID{Name: "client"}, spec, mb)
	require.NoError(t, err)
	defer client.Close()

	time.Sleep(10 * time.Millisecond)

	var resp *ipc.RPCResponse
	var callErr error
	done := make(chan struct{})
	go func() {
		resp, callErr = client.Call(ctx, &AddRequest{A: 1, B: 1})
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, client.CancelRunningProcedure(ctx))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("call did not return after cancel")
	}

	require.NoError(t, callErr)
	require.True(t, resp.Cancelled)
	require.False(t, resp.Errored())
}

func TestRPC_CrossClientIsolation(t *testing.T) {
	mb := membroker.New()
	defer mb.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	spec := addSpec()
	server, err := rpc.NewServer(ctx, ipc.NodeID{Name: "server"}, spec, addProc, mb)
	require.NoError(t, err)
	go server.Serve(ctx)
	defer server.Close(context.Background())

	c1, err := rpc.NewClient(ctx, ipc.NodeID{Name: "client-1"}, spec, mb)
	require.NoError(t, err)
	defer c1.Close()
	c2, err := rpc.NewClient(ctx, ipc.NodeID{Name: "client-2"}, spec, mb)
	require.NoError(t, err)
	defer c2.Close()

	time.Sleep(10 * time.Millisecond)

	var wg sync.WaitGroup
	var sum1, sum2 int
	var err1, err2 error
	wg.Add(2)
	go func() {
		defer wg.Done()
		resp, e := c1.Call(ctx, &AddRequest{A: 10, B: 5})
		if e != nil {
			err1 = e
			return
		}
		sum1, err1 = rpc.DecodeReturn[int](resp)
	}()
	go func() {
		defer wg.Done()
		resp, e := c2.Call(ctx, &AddRequest{A: 100, B: 50})
		if e != nil {
			err2 = e
			return
		}
		sum2, err2 = rpc.DecodeReturn[int](resp)
	}()
	wg.Wait()

	require.NoError(t, err1)
	require.NoError(t, err2)
	require.Equal(t, 15, sum1)
	require.Equal(t, 150, sum2)
}
