// Command callbotctl mints tokens for the call API and replays captured
// notification payloads against a running instance.
package main

import (
	"log/slog"
	"os"

	"callbot-platform/pkg/logger"

	"github.com/spf13/cobra"
)

func main() {
	slog.SetDefault(logger.NewWithWriter(os.Stderr, "production", os.Getenv("LOG_LEVEL")))

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "err", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "callbotctl",
		Short:        "Operator tooling for the call bot API",
		SilenceUsage: true,
	}
	root.AddCommand(buildTokenCmd(), buildReplayCmd())
	return root
}
