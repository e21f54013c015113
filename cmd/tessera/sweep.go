package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/tessera-labs/tessera/internal/app"
	"github.com/tessera-labs/tessera/internal/service/integration"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Auto-integrate every feature set that opted in",
	Long: `Walks all auto-integrating feature sets page by page. Progress is
checkpointed under the sweep name, so an interrupted sweep resumes where it
stopped.`,
	Example: `  # Run the default sweep
  tessera sweep

  # Run a separately checkpointed sweep
  tessera sweep --name=nightly`,
	Args: cobra.NoArgs,
	RunE: sweepCmdRun,
}

type sweepFlags struct {
	name string
}

var sweepArgs = sweepFlags{name: integration.DefaultSweepName}

func init() {
	sweepCmd.Flags().StringVar(&sweepArgs.name, "name", sweepArgs.name,
		"checkpoint name of the sweep")
	rootCmd.AddCommand(sweepCmd)
}

func sweepCmdRun(cmd *cobra.Command, args []string) error {
	return runWithApp(cmd, func(ctx context.Context, a *app.App) error {
		report, err := a.Controller.Sweep(ctx, sweepArgs.name)
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]any{
			"name":   sweepArgs.name,
			"report": report,
		})
	})
}
