package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fenwick-robotics/ipc-core/internal/config"
	"github.com/fenwick-robotics/ipc-core/internal/logging"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ipcnode",
	Short: "Run and inspect IPC-core nodes",
	Long: `ipcnode runs the demo nodes built on pkg/ipc (a navigate server and
its simulator) and offers a couple of one-shot debugging commands against a
live system: checking an RPC's status key and making a single RPC call from
the command line.`,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to an optional YAML config file")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(callCmd)
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

func initLogging() {
	path, _ := rootCmd.PersistentFlags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		// Logging isn't set up yet; this is the one place we fall back to
		// stderr directly.
		fmt.Fprintf(os.Stderr, "ipcnode: config: %v\n", err)
		return
	}
	logging.Init(logging.Config{
		Level: logging.Level(cfg.Logging.Level),
		JSON:  cfg.Logging.JSON,
	})
}
