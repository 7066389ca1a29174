// Command mozi is the CLI entry point for the agent runtime: it edits and
// validates the declared config document and reports a health check over
// the agents, sandbox backends, and secrets it names.
package main

import (
	"log/slog"
	"os"

	"github.com/haasonsaas/mozi/internal/config"
	"github.com/haasonsaas/mozi/internal/observability"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var configPath string

func main() {
	logger := observability.NewLogger(observability.LogConfig{Level: os.Getenv("MOZI_LOG_LEVEL")})
	slog.SetDefault(logger)

	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(config.ExitCodeFor(err))
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "mozi",
		Short:        "mozi - agent registry, session, and sandbox runtime",
		Version:      version + " (commit: " + commit + ", built: " + date + ")",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "path to the mozi config document")

	root.AddCommand(
		buildConfigCmd(),
		buildDoctorCmd(),
	)
	return root
}

func defaultConfigPath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.mozi/mozi.json"
	}
	return "./mozi.json"
}
