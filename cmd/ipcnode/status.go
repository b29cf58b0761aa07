package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fenwick-robotics/ipc-core/internal/demo"
	"github.com/fenwick-robotics/ipc-core/pkg/ipc"
	"github.com/fenwick-robotics/ipc-core/pkg/ipc/broker"
	"github.com/fenwick-robotics/ipc-core/pkg/ipc/rpc"
)

var statusCmd = &cobra.Command{
	Use:   "status {debug|navigate}",
	Short: "Print an RPC's status key",
	Long: `status reads the given RPC's status key from the broker and prints
whether a server has claimed it and, if so, whether it's currently busy.
Exits non-zero if no status is stored (no server has started, or the last
one shut down and deleted its status key).`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	spec, err := rpcSpecByName(args[0])
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	registry := broker.NewRegistry(cfg.Broker.Host, cfg.Broker.HealthCheckInterval)
	defer registry.Close()
	br := registry.Get(spec.BrokerSpec.Port)

	client, err := rpc.NewClient(ctx, demo.NodeIDs.Debug0, spec, br)
	if err != nil {
		return fmt.Errorf("open rpc client: %w", err)
	}
	defer client.Close()

	status, ok, err := client.GetStatus(ctx)
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	if !ok {
		return fmt.Errorf("no server currently claims %q", args[0])
	}

	if status.Ready() {
		fmt.Printf("%s: ready (server %s)\n", args[0], status.ServerID)
	} else {
		fmt.Printf("%s: busy (server %s, request %s)\n", args[0], status.ServerID, string(status.CurRequest))
	}
	return nil
}

func rpcSpecByName(name string) (ipc.RPCSpec, error) {
	switch name {
	case "debug":
		return demo.RPCSpecs.Debug, nil
	case "navigate":
		return demo.RPCSpecs.Navigate, nil
	default:
		return ipc.RPCSpec{}, fmt.Errorf("unknown rpc %q: want debug or navigate", name)
	}
}
