package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fenwick-robotics/ipc-core/internal/logging"
	"github.com/fenwick-robotics/ipc-core/pkg/ipc"
	"github.com/fenwick-robotics/ipc-core/pkg/ipc/broker"
	"github.com/fenwick-robotics/ipc-core/pkg/ipc/pubsub"
)

// serverCall tracks the one request an RPCServer has in flight. traceID is
// purely an in-process log-correlation handle — it's never marshaled onto
// the wire, so adding it doesn't touch the RPC protocol surface.
type serverCall struct {
	requestMsg json.RawMessage
	cancel     context.CancelFunc
	traceID    uuid.UUID
}

// Server answers requests for one RPCSpec. Only one Server per spec may
// run at a time across the whole system — the duplicate-server check in
// NewServer enforces this on a best-effort basis.
type Server struct {
	nodeID ipc.NodeID
	spec   ipc.RPCSpec
	proc   ProcFunc
	br     broker.Broker

	reqSub    *pubsub.Subscriber
	cancelSub *pubsub.Subscriber

	mu  sync.Mutex
	cur *serverCall

	log logging.Scoped
}

// NewServer checks for a conflicting status-key owner, claims the status
// key for nodeID, and subscribes to the request and cancel topics. The
// duplicate-server check is explicitly non-atomic: it reads the status
// key, decides, and only then writes — a narrow race is possible if two
// servers start at the same instant, which spec.md accepts since server
// startup is rare.
func NewServer(ctx context.Context, nodeID ipc.NodeID, spec ipc.RPCSpec, proc ProcFunc, br broker.Broker) (*Server, error) {
	if raw, ok, err := br.Get(ctx, spec.StatusKey()); err != nil {
		return nil, fmt.Errorf("rpc: read status key: %w", err)
	} else if ok {
		var status ipc.RPCStatus
		if err := json.Unmarshal(raw, &status); err == nil && status.ServerID != nodeID {
			return nil, fmt.Errorf("%w: %q", ipc.ErrDuplicateServer, status.ServerID.Name)
		}
	}

	s := &Server{
		nodeID: nodeID,
		spec:   spec,
		proc:   proc,
		br:     br,
		log:    logging.WithComponent("rpc.server").WithNode(nodeID.Name).WithTopic(spec.BaseChannel),
	}

	if err := s.publishStatus(ctx, nil); err != nil {
		return nil, err
	}

	reqSub, err := pubsub.New(ctx, nodeID, spec.RequestTopic(), br, s.handleRequest)
	if err != nil {
		return nil, fmt.Errorf("rpc: subscribe to request topic: %w", err)
	}
	cancelSub, err := pubsub.New(ctx, nodeID, spec.CancelTopic(), br, s.handleCancel)
	if err != nil {
		reqSub.Close()
		return nil, fmt.Errorf("rpc: subscribe to cancel topic: %w", err)
	}

	s.reqSub = reqSub
	s.cancelSub = cancelSub
	return s, nil
}

func (s *Server) publishStatus(ctx context.Context, curRequest json.RawMessage) error {
	status := ipc.RPCStatus{ServerID: s.nodeID, CurRequest: curRequest}
	raw, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("rpc: marshal status: %w", err)
	}
	if err := s.br.Set(ctx, s.spec.StatusKey(), raw); err != nil {
		return fmt.Errorf("rpc: write status key: %w", err)
	}
	return nil
}

// Serve runs the request and cancel listen-loops concurrently until ctx is
// cancelled.
func (s *Server) Serve(ctx context.Context) error {
	var wg sync.WaitGroup
	errs := make([]error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		errs[0] = s.reqSub.Listen(ctx)
	}()
	go func() {
		defer wg.Done()
		errs[1] = s.cancelSub.Listen(ctx)
	}()
	wg.Wait()

	for _, err := range errs {
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return nil
}

func (s *Server) handleRequest(ctx context.Context, msg ipc.MessageClass) error {
	req, ok := msg.(ipc.RPCRequest)
	if !ok {
		return fmt.Errorf("%w: request on %q decoded as %s, not an RPCRequest",
			ipc.ErrTypeMismatch, s.spec.RequestTopic().Channel, msg.ClassName())
	}

	requestRaw, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("rpc: marshal request for echo: %w", err)
	}

	traceID := uuid.New()
	callCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cur = &serverCall{requestMsg: requestRaw, cancel: cancel, traceID: traceID}
	s.mu.Unlock()

	if err := s.publishStatus(ctx, requestRaw); err != nil {
		s.log.Warnf("publish busy status: %v", err)
	}

	callLog := s.log.Logger.With().Str("call_trace_id", traceID.String()).Logger()
	callLog.Debug().Msg("executing procedure")

	start := time.Now()
	result, cancelled, traceback := s.execute(callCtx, req)
	duration := time.Since(start).Seconds()
	cancel()

	callLog.Debug().Dur("duration", time.Since(start)).Bool("cancelled", cancelled).Msg("procedure finished")

	s.mu.Lock()
	s.cur = nil
	s.mu.Unlock()

	if err := s.publishStatus(ctx, nil); err != nil {
		s.log.Warnf("publish idle status: %v", err)
	}

	var returnVal json.RawMessage
	if !cancelled && traceback == nil {
		rv, merr := json.Marshal(result)
		if merr != nil {
			tb := merr.Error()
			traceback = &tb
		} else {
			returnVal = rv
		}
	}

	resp := &ipc.RPCResponse{
		RequestMsg:   requestRaw,
		Duration:     duration,
		ReturnVal:    returnVal,
		Cancelled:    cancelled,
		TracebackStr: traceback,
	}

	requester := req.GetMessage().SenderID
	respPub := pubsub.New(s.nodeID, s.spec.ResponseTopic(requester), s.br)
	if err := respPub.Publish(ctx, resp); err != nil {
		return fmt.Errorf("rpc: publish response to %q: %w", requester, err)
	}
	return nil
}

func (s *Server) handleCancel(ctx context.Context, msg ipc.MessageClass) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != nil {
		s.cur.cancel()
	}
	return nil
}

// execute runs proc, converting a panic, a context-cancellation error, or a
// plain error return into the response's (cancelled, traceback) shape. A
// procedure that returns after its context was cancelled produces
// cancelled=true whatever it returned. A normal return produces
// (result, false, nil).
func (s *Server) execute(ctx context.Context, req ipc.RPCRequest) (result any, cancelled bool, traceback *string) {
	type outcome struct {
		result   any
		err      error
		panicVal interface{}
		stack    []byte
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{panicVal: r, stack: debug.Stack()}
			}
		}()
		res, err := s.proc(ctx, req)
		done <- outcome{result: res, err: err}
	}()

	o := <-done
	if o.panicVal != nil {
		tb := fmt.Sprintf("%v\n%s", o.panicVal, o.stack)
		return nil, false, &tb
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil, true, nil
	}
	if o.err != nil {
		if errors.Is(o.err, context.Canceled) {
			return nil, true, nil
		}
		tb := o.err.Error()
		return nil, false, &tb
	}
	return o.result, false, nil
}

// Close deletes the status key and closes both subscriptions. Deleting the
// status key lets a restarted server (or a replacement) claim it without
// tripping the duplicate-server check.
func (s *Server) Close(ctx context.Context) error {
	err := s.br.Delete(ctx, s.spec.StatusKey())
	s.reqSub.Close()
	s.cancelSub.Close()
	return err
}
