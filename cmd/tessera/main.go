package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tessera-labs/tessera/internal/app"
)

var VERSION = "0.0.0-dev.0"

var rootCmd = &cobra.Command{
	Use:           "tessera",
	Version:       VERSION,
	SilenceUsage:  true,
	SilenceErrors: true,
	Short:         "Administer release versions and product auto-integration",
	Long: `tessera reserves release versions for component branches and composes
product releases from the latest qualifying releases of their dependencies.

Configuration is read from the environment (TESSERA_STORE, DATABASE_URL,
TESSERA_LOCK_BACKEND, REDIS_ADDR, TESSERA_DEPENDENCY_PATTERNS, ...).`,
}

type rootFlags struct {
	timeout time.Duration
	verbose bool
}

var rootArgs = rootFlags{
	timeout: 5 * time.Minute,
}

func init() {
	rootCmd.PersistentFlags().DurationVar(&rootArgs.timeout, "timeout", rootArgs.timeout,
		"The length of time to wait before giving up on the current operation.")
	rootCmd.PersistentFlags().BoolVar(&rootArgs.verbose, "verbose", false,
		"Log at debug level.")
	rootCmd.SetOut(os.Stdout)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		rootCmd.PrintErrf("✗ %v\n", err)
		os.Exit(1)
	}
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelInfo
	if rootArgs.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// runWithApp builds the services from the environment and runs fn under the
// root timeout.
func runWithApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), rootArgs.timeout)
	defer cancel()

	cfg, err := app.ConfigFromEnv()
	if err != nil {
		return err
	}
	a, err := app.Build(ctx, cfg, newLogger(cmd))
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return fn(ctx, a)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
