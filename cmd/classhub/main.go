// Package main is the classhub command: the live classroom control hub and
// its roster maintenance tools.
//
// # Basic Usage
//
//	classhub serve --config classhub.yaml
//	classhub migrate
//	classhub seed -f roster.yaml
//	classhub token --user t1
//	classhub revoke --user s1
//
// Every setting can also come from CLASSHUB_* environment variables, e.g.
// CLASSHUB_AUTH_SECRET or CLASSHUB_DIRECTORY_DSN.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd is separate from main so tests can drive the command tree.
func buildRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "classhub",
		Short: "Live classroom control hub",
		Long: `classhub keeps teachers and students of a class connected over WebSockets
and relays classroom control (modes, timers, screen locks, messages) in real time.`,
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CLASSHUB_CONFIG"),
		"Path to YAML configuration file (or set CLASSHUB_CONFIG)")

	rootCmd.AddCommand(
		buildServeCmd(&configPath),
		buildMigrateCmd(&configPath),
		buildSeedCmd(&configPath),
		buildTokenCmd(&configPath),
		buildRevokeCmd(&configPath),
	)
	return rootCmd
}
