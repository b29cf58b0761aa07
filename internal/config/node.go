package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fenwick-robotics/ipc-core/pkg/ipc"
)

// NodeDescriptor names the one thing the environment can't reasonably
// configure: which node identity and broker a given `ipcnode run`
// invocation is. The Python original hardcoded this per process in
// registry.py; this exists so a deployment can run the same binary as
// different nodes without a recompile.
type NodeDescriptor struct {
	NodeID string `yaml:"node_id"`
	Broker struct {
		Name string `yaml:"name"`
		Port int    `yaml:"port"`
	} `yaml:"broker"`
}

// LoadNodeDescriptor reads and parses a node descriptor from path. An empty
// path is not an error — callers fall back to the built-in demo registry.
func LoadNodeDescriptor(path string) (NodeDescriptor, error) {
	if path == "" {
		return NodeDescriptor{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return NodeDescriptor{}, fmt.Errorf("config: read node descriptor %q: %w", path, err)
	}
	var desc NodeDescriptor
	if err := yaml.Unmarshal(data, &desc); err != nil {
		return NodeDescriptor{}, fmt.Errorf("config: parse node descriptor %q: %w", path, err)
	}
	if desc.NodeID == "" {
		return NodeDescriptor{}, fmt.Errorf("config: node descriptor %q: node_id is required", path)
	}
	return desc, nil
}

// ToNodeID returns the descriptor's node identity, for overriding the demo
// registry's fixed identities when a node is run with --node-config (see
// cmd/ipcnode/run.go).
func (d NodeDescriptor) ToNodeID() ipc.NodeID { return ipc.NodeID{Name: d.NodeID} }

// BrokerSpec returns the descriptor's broker, or ok=false if none was set.
func (d NodeDescriptor) BrokerSpec() (spec ipc.BrokerSpec, ok bool) {
	if d.Broker.Name == "" && d.Broker.Port == 0 {
		return ipc.BrokerSpec{}, false
	}
	return ipc.BrokerSpec{Name: d.Broker.Name, Port: d.Broker.Port}, true
}
