// Command chatengined is the CLI entry point for the chat orchestration
// core: a cobra command tree with a serve subcommand that boots the HTTP
// control surface, plus a local config validation command and a journal
// listing command that queries a running daemon over HTTP.
//
// # Basic Usage
//
//	chatengined serve --config chatengine.yaml
//	chatengined config validate --config chatengine.yaml
//	chatengined journal list --addr http://localhost:8080
//
// # Environment Variables
//
//   - DAILY_BUDGET_USD: daily spend budget override
//   - DAILY_BUDGET_AUTO_PAUSE: pause new runs once the budget is exceeded
//   - ALLOW_IRREVERSIBLE_ACTIONS: allow irreversible tool calls in strict mode
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main so it can be exercised directly by tests.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "chatengined",
		Short: "chatengined - iterative LLM/tool-calling chat orchestration core",
		Long: `chatengined runs the chat loop, guard stack and undo engine behind an
HTTP control surface: streaming chat, approvals, run-mode/thinking
configuration, and action-journal undo/redo.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildConfigCmd(),
		buildJournalCmd(),
	)
	return rootCmd
}
