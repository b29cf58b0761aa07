package demo

import "github.com/fenwick-robotics/ipc-core/pkg/ipc"

// BrokerSpecs lists every broker this demo system talks to. Grounded in
// original_source/src/ipc/registry.py's BrokerSpecs.GENERAL.
var BrokerSpecs = struct {
	General ipc.BrokerSpec
}{
	General: ipc.BrokerSpec{Name: "general", Port: 6379},
}

// NodeIDs lists every node identity this demo system recognizes.
var NodeIDs = struct {
	Simulator      ipc.NodeID
	NavigateServer ipc.NodeID
	RCInput        ipc.NodeID
	Viewer         ipc.NodeID
	Debug0         ipc.NodeID
	Debug1         ipc.NodeID
}{
	Simulator:      ipc.NodeID{Name: "simulator"},
	NavigateServer: ipc.NodeID{Name: "navigate_server"},
	RCInput:        ipc.NodeID{Name: "rc_input"},
	Viewer:         ipc.NodeID{Name: "viewer"},
	Debug0:         ipc.NodeID{Name: "debug0"},
	Debug1:         ipc.NodeID{Name: "debug1"},
}

// TopicSpecs lists every application topic this demo system recognizes.
var TopicSpecs = struct {
	RCJSDef  ipc.TopicSpec
	AutoJSDef ipc.TopicSpec
	Odometry ipc.TopicSpec
	Debug    ipc.TopicSpec
}{
	RCJSDef:   ipc.NewTopicSpec(BrokerSpecs.General, "rc_js_def", joystickDeflectionCodec),
	AutoJSDef: ipc.NewTopicSpec(BrokerSpecs.General, "auto_js_def", joystickDeflectionCodec),
	Odometry:  ipc.NewTopicSpec(BrokerSpecs.General, "odometry", odometryCodec),
	Debug:     ipc.NewTopicSpec(BrokerSpecs.General, "debug", debugCodec),
}

// RPCSpecs lists every RPC this demo system recognizes.
var RPCSpecs = struct {
	Debug    ipc.RPCSpec
	Navigate ipc.RPCSpec
}{
	Debug:    ipc.RPCSpec{BrokerSpec: BrokerSpecs.General, BaseChannel: "debug", RequestCodec: debugRequestCodec},
	Navigate: ipc.RPCSpec{BrokerSpec: BrokerSpecs.General, BaseChannel: "navigate", RequestCodec: navigateRequestCodec},
}
