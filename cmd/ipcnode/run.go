package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fenwick-robotics/ipc-core/internal/config"
	"github.com/fenwick-robotics/ipc-core/internal/demo"
	"github.com/fenwick-robotics/ipc-core/internal/logging"
	"github.com/fenwick-robotics/ipc-core/pkg/ipc"
	"github.com/fenwick-robotics/ipc-core/pkg/ipc/broker"
)

var runCmd = &cobra.Command{
	Use:   "run {simulator|navigate-server}",
	Short: "Run one of the demo nodes",
	Long: `run starts one of the two demo nodes built on pkg/ipc: "simulator"
integrates joystick deflections into a position and publishes odometry;
"navigate-server" drives the simulator toward a requested position via the
navigate RPC. Both talk to Redis at the configured host and run until
interrupted (SIGINT/SIGTERM) or the process is killed.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"simulator", "navigate-server"},
	RunE:      runRun,
}

func init() {
	runCmd.Flags().String("node-config", "", "path to an optional YAML node descriptor (node_id, broker)")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	nodeConfigPath, _ := cmd.Flags().GetString("node-config")
	desc, err := config.LoadNodeDescriptor(nodeConfigPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	port := demo.BrokerSpecs.General.Port
	if spec, ok := desc.BrokerSpec(); ok {
		port = spec.Port
	}

	registry := broker.NewRegistry(cfg.Broker.Host, cfg.Broker.HealthCheckInterval)
	defer registry.Close()
	br := registry.Get(port)

	var id ipc.NodeID
	if desc.NodeID != "" {
		id = desc.ToNodeID()
	}

	log := logging.WithComponent("ipcnode.run")

	switch args[0] {
	case "simulator":
		sim, err := demo.NewSimulator(ctx, br, id)
		if err != nil {
			return fmt.Errorf("start simulator: %w", err)
		}
		log.Infof("simulator running against %s", cfg.Broker.Host)
		return sim.Run(ctx)
	case "navigate-server":
		ns, err := demo.NewNavigateServer(ctx, br, id)
		if err != nil {
			return fmt.Errorf("start navigate-server: %w", err)
		}
		log.Infof("navigate-server running against %s", cfg.Broker.Host)
		return ns.Run(ctx)
	default:
		return fmt.Errorf("unknown node %q: want simulator or navigate-server", args[0])
	}
}
