package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fenwick-robotics/ipc-core/internal/logging"
	"github.com/fenwick-robotics/ipc-core/pkg/ipc"
	"github.com/fenwick-robotics/ipc-core/pkg/ipc/broker"
	"github.com/fenwick-robotics/ipc-core/pkg/ipc/pubsub"
)

// Client calls one RPCSpec. A Client supports at most one in-flight call at
// a time — overlapping Call invocations race on the same response
// subscription and are not supported, matching spec.md §9's documented
// limitation of the response-correlation model.
type Client struct {
	nodeID ipc.NodeID
	spec   ipc.RPCSpec
	br     broker.Broker

	reqPub    *pubsub.Publisher
	cancelPub *pubsub.Publisher
	respSub   *pubsub.Subscriber

	log logging.Scoped
}

// NewClient opens the request/cancel publishers and this client's own
// response subscription.
func NewClient(ctx context.Context, nodeID ipc.NodeID, spec ipc.RPCSpec, br broker.Broker) (*Client, error) {
	respSub, err := pubsub.New(ctx, nodeID, spec.ResponseTopic(nodeID), br, nil)
	if err != nil {
		return nil, fmt.Errorf("rpc: subscribe to response topic: %w", err)
	}
	return &Client{
		nodeID:    nodeID,
		spec:      spec,
		br:        br,
		reqPub:    pubsub.New(nodeID, spec.RequestTopic(), br),
		cancelPub: pubsub.New(nodeID, spec.CancelTopic(), br),
		respSub:   respSub,
		log:       logging.WithComponent("rpc.client").WithNode(nodeID.Name).WithTopic(spec.BaseChannel),
	}, nil
}

// Call publishes req and blocks until the corresponding response arrives or
// ctx is cancelled.
func (c *Client) Call(ctx context.Context, req ipc.RPCRequest) (*ipc.RPCResponse, error) {
	if err := c.reqPub.Publish(ctx, req); err != nil {
		return nil, fmt.Errorf("rpc: publish request: %w", err)
	}

	msg, ok := c.respSub.GetMsg(ctx, 0)
	if !ok {
		return nil, ctx.Err()
	}

	resp, ok := msg.(*ipc.RPCResponse)
	if !ok {
		return nil, fmt.Errorf("%w: expected RPCResponse, got %s", ipc.ErrTypeMismatch, msg.ClassName())
	}
	return resp, nil
}

// CancelRunningProcedure asks the server to cancel whatever call it is
// currently running. This is not addressed to a specific call — it may
// affect a different client's in-flight call, per spec.md §4.6.
func (c *Client) CancelRunningProcedure(ctx context.Context) error {
	return c.cancelPub.Publish(ctx, &ipc.RPCCancel{})
}

// GetStatus reads and decodes the RPC's status key. ok is false if no
// status is stored: no server has started, or the last server closed and
// deleted the key.
func (c *Client) GetStatus(ctx context.Context) (status ipc.RPCStatus, ok bool, err error) {
	raw, found, err := c.br.Get(ctx, c.spec.StatusKey())
	if err != nil || !found {
		return ipc.RPCStatus{}, false, err
	}
	if err := json.Unmarshal(raw, &status); err != nil {
		return ipc.RPCStatus{}, false, fmt.Errorf("rpc: decode status: %w", err)
	}
	return status, true, nil
}

// Close closes the response subscription.
func (c *Client) Close() error {
	return c.respSub.Close()
}
