package demo

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/fenwick-robotics/ipc-core/pkg/ipc"
	"github.com/fenwick-robotics/ipc-core/pkg/ipc/broker"
	"github.com/fenwick-robotics/ipc-core/pkg/ipc/node"
	"github.com/fenwick-robotics/ipc-core/pkg/ipc/pubsub"
	"github.com/fenwick-robotics/ipc-core/pkg/ipc/rpc"
)

// navigateStepInterval is how often the navigate procedure re-checks
// position and, if still off target, publishes another joystick nudge.
// Mirrors original_source/src/node/navigate_server.py's asyncio.sleep(0.05).
const navigateStepInterval = 50 * time.Millisecond

// NavigateServer tracks the simulator's reported position and answers
// Navigate RPC calls by nudging a joystick topic until the target position
// is reached (within tolerance) or the call is cancelled.
type NavigateServer struct {
	node *node.Node

	mu       sync.Mutex
	position *float64
}

// NewNavigateServer wires up NavigateServer's publishers, subscriber, and
// RPC server on br. id overrides the node's identity; a zero NodeID falls
// back to NodeIDs.NavigateServer. Run the returned node to start serving.
func NewNavigateServer(ctx context.Context, br broker.Broker, id ipc.NodeID) (*NavigateServer, error) {
	if id.IsZero() {
		id = NodeIDs.NavigateServer
	}
	ns := &NavigateServer{}
	n := node.New(id, node.WithBroker(br))
	n.AddPublishers(TopicSpecs.RCJSDef)

	if err := n.AddSubscribers(ctx, map[ipc.TopicSpec]pubsub.Callback{
		TopicSpecs.Odometry: ns.receiveOdometry,
	}); err != nil {
		return nil, err
	}
	if err := n.AddRPCServers(ctx, map[ipc.RPCSpec]rpc.ProcFunc{
		RPCSpecs.Navigate: ns.navigate,
	}); err != nil {
		return nil, err
	}

	ns.node = n
	return ns, nil
}

// Run starts the node's listen/serve loops and blocks until ctx is
// cancelled.
func (ns *NavigateServer) Run(ctx context.Context) error { return ns.node.Run(ctx) }

func (ns *NavigateServer) receiveOdometry(ctx context.Context, msg ipc.MessageClass) error {
	odo := msg.(*Odometry)
	ns.mu.Lock()
	pos := odo.Position
	ns.position = &pos
	ns.mu.Unlock()
	return nil
}

func (ns *NavigateServer) navigate(ctx context.Context, req ipc.RPCRequest) (any, error) {
	nr := req.(*NavigateRequest)

	for {
		ns.mu.Lock()
		pos := ns.position
		ns.mu.Unlock()

		if pos != nil && math.Abs(*pos-nr.Position) <= nr.Tolerance {
			return nil, nil
		}

		if pos != nil {
			sign := 1.0
			if nr.Position < *pos {
				sign = -1.0
			}
			deflection := sign * 0.1
			if err := ns.node.Publish(ctx, TopicSpecs.RCJSDef, &JoystickDeflection{
				Joystick:   JoystickTrackLeft,
				Deflection: deflection,
			}); err != nil {
				return nil, err
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(navigateStepInterval):
		}
	}
}

// worldMin and worldMax bound the simulated robot's position, matching
// original_source/src/node/simulator.py's WORLD_EDGES.
const (
	worldMin = -10.0
	worldMax = 10.0
)

// simulatorPublishInterval matches the Python original's 0.05s odometry
// publish cadence.
const simulatorPublishInterval = 50 * time.Millisecond

// Simulator integrates joystick deflections into a position estimate and
// publishes it as Odometry on a fixed schedule.
type Simulator struct {
	node *node.Node

	mu       sync.Mutex
	position float64
}

// NewSimulator wires up Simulator's publisher, subscriber, and odometry
// task on br. id overrides the node's identity; a zero NodeID falls back
// to NodeIDs.Simulator.
func NewSimulator(ctx context.Context, br broker.Broker, id ipc.NodeID) (*Simulator, error) {
	if id.IsZero() {
		id = NodeIDs.Simulator
	}
	sim := &Simulator{}
	n := node.New(id, node.WithBroker(br))
	n.AddPublishers(TopicSpecs.Odometry)

	if err := n.AddSubscribers(ctx, map[ipc.TopicSpec]pubsub.Callback{
		TopicSpecs.RCJSDef: sim.receiveJoystick,
	}); err != nil {
		return nil, err
	}
	n.AddTasks(sim.publishOdometryLoop)

	sim.node = n
	return sim, nil
}

// Run starts the node's listen loop and odometry task and blocks until ctx
// is cancelled.
func (s *Simulator) Run(ctx context.Context) error { return s.node.Run(ctx) }

func (s *Simulator) receiveJoystick(ctx context.Context, msg ipc.MessageClass) error {
	js := msg.(*JoystickDeflection)
	s.mu.Lock()
	s.position = clamp(s.position+js.Deflection, worldMin, worldMax)
	s.mu.Unlock()
	return nil
}

func (s *Simulator) publishOdometryLoop(ctx context.Context) error {
	ticker := time.NewTicker(simulatorPublishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.mu.Lock()
			pos := s.position
			s.mu.Unlock()
			if err := s.node.Publish(ctx, TopicSpecs.Odometry, &Odometry{Position: pos}); err != nil {
				return err
			}
		}
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
