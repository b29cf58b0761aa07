// Package node composes the broker, pubsub, and rpc packages into the
// single long-lived object a process builds once at startup: a registry of
// publishers, subscribers, RPC clients, RPC servers, and user task
// functions, plus the Run/Stop lifecycle that drives all of them.
//
// Where the source models one node as a single-threaded cooperative
// scheduler, this package uses a goroutine per listen-loop/server-loop/task
// and a context.Context cancellation tree for "cancel every running task" —
// Go's scheduler already multiplexes goroutines the way an event loop
// multiplexes coroutines, so no extra scheduling layer is needed. Blocking
// tasks still go through a bounded worker pool, matching the source's
// "thread-pool executor" rather than handing them an unbounded goroutine
// each.
package node

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/fenwick-robotics/ipc-core/internal/logging"
	"github.com/fenwick-robotics/ipc-core/pkg/ipc"
	"github.com/fenwick-robotics/ipc-core/pkg/ipc/broker"
	"github.com/fenwick-robotics/ipc-core/pkg/ipc/pubsub"
	"github.com/fenwick-robotics/ipc-core/pkg/ipc/rpc"
)

// DefaultMaxBlockingWorkers bounds the worker pool blocking tasks run on
// when a Node is built without an explicit WithMaxBlockingWorkers option.
const DefaultMaxBlockingWorkers = 8

// TaskFunc is a user-supplied task. Cooperative tasks and blocking tasks
// share this signature; which pool a task runs on is determined by which
// Add method registered it, not by its type.
type TaskFunc func(ctx context.Context) error

// BrokerResolver maps a BrokerSpec to the live broker connection to use for
// it. The default resolver pools connections by port through
// broker.Default().
type BrokerResolver func(spec ipc.BrokerSpec) broker.Broker

// Node is a long-lived IPC participant: one process's publishers,
// subscribers, RPC clients, RPC servers, and user tasks, bound to one
// NodeID.
type Node struct {
	id      ipc.NodeID
	resolve BrokerResolver

	maxBlockingWorkers int

	mu            sync.Mutex
	publishers    map[ipc.TopicSpec]*pubsub.Publisher
	subscribers   []*pubsub.Subscriber
	rpcClients    map[ipc.RPCSpec]*rpc.Client
	rpcServers    []*rpc.Server
	tasks         []TaskFunc
	blockingTasks []TaskFunc

	cancel context.CancelFunc
	log    logging.Scoped
}

// Option configures a Node at construction time.
type Option func(*Node)

// WithBroker pins every BrokerSpec this node ever resolves to a single
// already-constructed broker connection, bypassing the port-keyed
// registry. Intended for tests (an in-process membroker.Broker) and for
// single-broker deployments.
func WithBroker(br broker.Broker) Option {
	return func(n *Node) {
		n.resolve = func(ipc.BrokerSpec) broker.Broker { return br }
	}
}

// WithBrokerResolver overrides how BrokerSpecs are resolved to broker
// connections.
func WithBrokerResolver(fn BrokerResolver) Option {
	return func(n *Node) { n.resolve = fn }
}

// WithMaxBlockingWorkers bounds the worker pool blocking tasks run on.
func WithMaxBlockingWorkers(workers int) Option {
	return func(n *Node) {
		if workers > 0 {
			n.maxBlockingWorkers = workers
		}
	}
}

// New constructs a Node identified by id. Call the Add* builder methods to
// configure it, then Run.
func New(id ipc.NodeID, opts ...Option) *Node {
	n := &Node{
		id:                 id,
		maxBlockingWorkers: DefaultMaxBlockingWorkers,
		publishers:         make(map[ipc.TopicSpec]*pubsub.Publisher),
		rpcClients:         make(map[ipc.RPCSpec]*rpc.Client),
		log:                logging.WithComponent("node").WithNode(id.Name),
	}
	n.resolve = func(spec ipc.BrokerSpec) broker.Broker {
		return broker.Default().Get(spec.Port)
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// ID returns this node's identity.
func (n *Node) ID() ipc.NodeID { return n.id }

// AddPublishers registers a Publisher for each topic. Constructing a
// Publisher never touches the broker, so this cannot fail.
func (n *Node) AddPublishers(topics ...ipc.TopicSpec) *Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, t := range topics {
		n.publishers[t] = pubsub.New(n.id, t, n.resolve(t.BrokerSpec))
	}
	return n
}

// Publish sends msg on topic, which must already have been registered via
// AddPublishers.
func (n *Node) Publish(ctx context.Context, topic ipc.TopicSpec, msg ipc.Stampable) error {
	n.mu.Lock()
	pub, ok := n.publishers[topic]
	n.mu.Unlock()
	if !ok {
		return fmt.Errorf("node: no publisher registered for channel %q; call AddPublishers first", topic.Channel)
	}
	return pub.Publish(ctx, msg)
}

// AddSubscribers opens a Subscriber for each topic in callbacks, invoking
// the paired Callback for every message received once Run starts the
// listen loops.
func (n *Node) AddSubscribers(ctx context.Context, callbacks map[ipc.TopicSpec]pubsub.Callback) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for topic, cb := range callbacks {
		sub, err := pubsub.New(ctx, n.id, topic, n.resolve(topic.BrokerSpec), cb)
		if err != nil {
			return fmt.Errorf("node: subscribe to %q: %w", topic.Channel, err)
		}
		n.subscribers = append(n.subscribers, sub)
	}
	return nil
}

// AddRPCClients opens an rpc.Client for each spec.
func (n *Node) AddRPCClients(ctx context.Context, specs ...ipc.RPCSpec) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, spec := range specs {
		client, err := rpc.NewClient(ctx, n.id, spec, n.resolve(spec.BrokerSpec))
		if err != nil {
			return fmt.Errorf("node: rpc client for %q: %w", spec.BaseChannel, err)
		}
		n.rpcClients[spec] = client
	}
	return nil
}

// RPCCall invokes spec's request/response cycle via the client registered
// through AddRPCClients.
func (n *Node) RPCCall(ctx context.Context, spec ipc.RPCSpec, req ipc.RPCRequest) (*ipc.RPCResponse, error) {
	n.mu.Lock()
	client, ok := n.rpcClients[spec]
	n.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("node: no rpc client registered for %q; call AddRPCClients first", spec.BaseChannel)
	}
	return client.Call(ctx, req)
}

// CancelRunningProcedure publishes an RPCCancel for spec via its
// registered client.
func (n *Node) CancelRunningProcedure(ctx context.Context, spec ipc.RPCSpec) error {
	n.mu.Lock()
	client, ok := n.rpcClients[spec]
	n.mu.Unlock()
	if !ok {
		return fmt.Errorf("node: no rpc client registered for %q; call AddRPCClients first", spec.BaseChannel)
	}
	return client.CancelRunningProcedure(ctx)
}

// AddRPCServers constructs an rpc.Server for each (spec, proc) pair. A
// construction failure (most commonly ipc.ErrDuplicateServer) aborts the
// whole call; servers already constructed by this call stay registered so
// the caller can inspect which one failed via the wrapped error, but this
// node will not have claimed a procedure that returned an error.
func (n *Node) AddRPCServers(ctx context.Context, procs map[ipc.RPCSpec]rpc.ProcFunc) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for spec, proc := range procs {
		server, err := rpc.NewServer(ctx, n.id, spec, proc, n.resolve(spec.BrokerSpec))
		if err != nil {
			return fmt.Errorf("node: rpc server for %q: %w", spec.BaseChannel, err)
		}
		n.rpcServers = append(n.rpcServers, server)
	}
	return nil
}

// AddTasks registers cooperative tasks: each runs on its own goroutine
// alongside the subscriber and server loops once Run starts.
func (n *Node) AddTasks(fns ...TaskFunc) *Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tasks = append(n.tasks, fns...)
	return n
}

// AddBlockingTasks registers tasks that run on the bounded blocking-task
// worker pool rather than getting a goroutine each outright — the Go
// analogue of submitting to a thread-pool executor, sized by
// WithMaxBlockingWorkers.
func (n *Node) AddBlockingTasks(fns ...TaskFunc) *Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.blockingTasks = append(n.blockingTasks, fns...)
	return n
}

// Run starts every subscriber's listen loop, every RPC server's serve
// loop, every cooperative task, and every blocking task (bounded by the
// worker pool), then blocks until all of them return or ctx is cancelled
// (including by SIGINT/SIGTERM). It always calls Stop before returning.
//
// Cooperative cancellation (ctx.Err() == context.Canceled on every
// component) is swallowed, matching the source's allow-list; any other
// error is returned after cleanup completes.
func (n *Node) Run(ctx context.Context) error {
	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	n.mu.Lock()
	n.cancel = stop
	subscribers := append([]*pubsub.Subscriber(nil), n.subscribers...)
	servers := append([]*rpc.Server(nil), n.rpcServers...)
	tasks := append([]TaskFunc(nil), n.tasks...)
	blocking := append([]TaskFunc(nil), n.blockingTasks...)
	workers := n.maxBlockingWorkers
	n.mu.Unlock()

	var wg sync.WaitGroup
	var errMu sync.Mutex
	var firstErr error
	record := func(err error) {
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		errMu.Unlock()
	}

	for _, sub := range subscribers {
		wg.Add(1)
		go func(s *pubsub.Subscriber) {
			defer wg.Done()
			record(s.Listen(runCtx))
		}(sub)
	}
	for _, srv := range servers {
		wg.Add(1)
		go func(s *rpc.Server) {
			defer wg.Done()
			record(s.Serve(runCtx))
		}(srv)
	}
	for _, fn := range tasks {
		wg.Add(1)
		go func(f TaskFunc) {
			defer wg.Done()
			record(f(runCtx))
		}(fn)
	}

	if len(blocking) > 0 {
		sem := make(chan struct{}, workers)
		for _, fn := range blocking {
			wg.Add(1)
			go func(f TaskFunc) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				record(f(runCtx))
			}(fn)
		}
	}

	wg.Wait()
	n.Stop(context.Background())
	return firstErr
}

// Stop cancels every running task (via the context Run derived) and
// closes every subscriber and RPC server. Safe to call more than once; the
// second call is a no-op beyond re-closing already-closed resources.
func (n *Node) Stop(ctx context.Context) {
	n.mu.Lock()
	if n.cancel != nil {
		n.cancel()
	}
	subscribers := n.subscribers
	servers := n.rpcServers
	clients := n.rpcClients
	n.mu.Unlock()

	for _, sub := range subscribers {
		if err := sub.Close(); err != nil {
			n.log.Warnf("close subscriber on %s: %v", sub.Topic().Channel, err)
		}
	}
	for _, srv := range servers {
		if err := srv.Close(ctx); err != nil {
			n.log.Warnf("close rpc server: %v", err)
		}
	}
	for _, client := range clients {
		if err := client.Close(); err != nil {
			n.log.Warnf("close rpc client: %v", err)
		}
	}
}
