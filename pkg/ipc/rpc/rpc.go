// Package rpc implements request/response and fire-and-forget-cancel
// semantics on top of pkg/ipc/pubsub: a client publishes a request and
// waits on its own response topic; a server subscribes to the request and
// cancel topics and answers on a per-requester response topic.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fenwick-robotics/ipc-core/pkg/ipc"
)

// ProcFunc is the procedure an RPCServer runs for each decoded request. It
// is expected to be cooperative: when ctx is cancelled (a client published
// an RPCCancel while this call was running), ProcFunc should return
// ctx.Err() promptly rather than run to completion.
type ProcFunc func(ctx context.Context, req ipc.RPCRequest) (any, error)

// DecodeReturn unmarshals an RPCResponse's return value into T. Returns an
// error if the response carries no return value (cancelled or errored) or
// if the payload doesn't match T's shape.
func DecodeReturn[T any](resp *ipc.RPCResponse) (T, error) {
	var v T
	if resp.ReturnVal == nil {
		return v, fmt.Errorf("rpc: response has no return value (cancelled=%v errored=%v)", resp.Cancelled, resp.Errored())
	}
	if err := json.Unmarshal(resp.ReturnVal, &v); err != nil {
		return v, fmt.Errorf("rpc: decode return value: %w", err)
	}
	return v, nil
}
