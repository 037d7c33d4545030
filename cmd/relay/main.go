// Package main provides the relay CLI: a local front end for the streaming
// response orchestration engine.
//
// Send a message through the full pipeline (admission, placeholder,
// generation, incremental persistence):
//
//	relay chat "explain goroutines" --search
//
// Run a bounded research session:
//
//	relay research "state of WASM GC support"
//
// List available models:
//
//	relay models
//
// Provider keys come from the environment: ANTHROPIC_API_KEY,
// OPENAI_API_KEY, GEMINI_API_KEY.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "relay",
		Short: "Relay - streaming AI chat orchestration engine",
		Long: `Relay drives streaming LLM generations: provider adapters, tool
execution, admission control, and incremental message persistence.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildChatCmd(),
		buildResearchCmd(),
		buildModelsCmd(),
	)
	return rootCmd
}
