package main

import "github.com/spf13/cobra"

// buildServeCmd creates the "serve" command that boots the chat engine's
// HTTP control surface and runs until a shutdown signal arrives.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat engine daemon",
		Long: `Start the chat engine daemon.

The daemon will:
1. Load and validate configuration, watching it for changes
2. Build one Chat Loop per configured agent, wired to its provider
   adapters, guard stack and action journal
3. Start a background job that prunes the journal past its TTL and
   refreshes the spend-guard metrics gauges
4. Serve the HTTP control surface (chat, approvals, run-config, undo)

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		Example: `  chatengined serve --config chatengine.yaml
  chatengined serve --config chatengine.yaml --addr :9000 --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, addr, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "chatengine.yaml", "Path to YAML configuration file")
	cmd.Flags().StringVar(&addr, "addr", ":8080", "Address to bind the HTTP control surface")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}
