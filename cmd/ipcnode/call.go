package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fenwick-robotics/ipc-core/internal/demo"
	"github.com/fenwick-robotics/ipc-core/pkg/ipc"
	"github.com/fenwick-robotics/ipc-core/pkg/ipc/broker"
	"github.com/fenwick-robotics/ipc-core/pkg/ipc/rpc"
)

var callCmd = &cobra.Command{
	Use:   "call {debug|navigate}",
	Short: "Make one RPC call and print the response",
	Long: `call makes a single request against a running RPC server and
prints the result (or the error/cancellation it reports), then exits. This
is a debugging aid, not a substitute for a real RPC client — it opens a
fresh connection per invocation and blocks until the server responds or
the call is interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: runCall,
}

func init() {
	callCmd.Flags().String("content", "", "content for a debug call")
	callCmd.Flags().Float64("position", 0, "target position for a navigate call")
	callCmd.Flags().Float64("tolerance", 0.1, "position tolerance for a navigate call")
}

func runCall(cmd *cobra.Command, args []string) error {
	spec, err := rpcSpecByName(args[0])
	if err != nil {
		return err
	}

	var req ipc.RPCRequest
	switch args[0] {
	case "debug":
		content, _ := cmd.Flags().GetString("content")
		req = &demo.DebugRequest{Content: content}
	case "navigate":
		position, _ := cmd.Flags().GetFloat64("position")
		tolerance, _ := cmd.Flags().GetFloat64("tolerance")
		req = &demo.NavigateRequest{Position: position, Tolerance: tolerance}
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	registry := broker.NewRegistry(cfg.Broker.Host, cfg.Broker.HealthCheckInterval)
	defer registry.Close()
	br := registry.Get(spec.BrokerSpec.Port)

	client, err := rpc.NewClient(ctx, demo.NodeIDs.Debug1, spec, br)
	if err != nil {
		return fmt.Errorf("open rpc client: %w", err)
	}
	defer client.Close()

	resp, err := client.Call(ctx, req)
	if err != nil {
		return fmt.Errorf("call: %w", err)
	}

	switch {
	case resp.Cancelled:
		fmt.Println("cancelled")
	case resp.Errored():
		fmt.Printf("error: %s\n", *resp.TracebackStr)
	default:
		fmt.Printf("result: %s\n", string(resp.ReturnVal))
	}
	return nil
}
