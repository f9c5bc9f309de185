package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relaycore/chatengine/internal/config"
)

// buildConfigCmd creates the "config" command group.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate chat engine configuration",
	}
	cmd.AddCommand(buildConfigValidateCmd())
	return cmd
}

func buildConfigValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config OK: %d provider(s), %d agent(s), operation mode %q\n",
				len(cfg.Providers), len(cfg.Agents), cfg.OperationMode)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "chatengine.yaml", "Path to YAML configuration file")
	return cmd
}
