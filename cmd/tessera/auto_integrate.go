package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/tessera-labs/tessera/internal/app"
	"github.com/tessera-labs/tessera/internal/service/integration"
)

var autoIntegrateCmd = &cobra.Command{
	Use:   "auto-integrate [branch-id]",
	Short: "Compose a product release for one feature set",
	Example: `  # Match or create the product release for a feature set
  tessera auto-integrate br-42`,
	Args: cobra.ExactArgs(1),
	RunE: autoIntegrateCmdRun,
}

func init() {
	rootCmd.AddCommand(autoIntegrateCmd)
}

func autoIntegrateCmdRun(cmd *cobra.Command, args []string) error {
	return runWithApp(cmd, func(ctx context.Context, a *app.App) error {
		res, err := a.Controller.AutoIntegrateFeatureSetOnDemand(ctx, args[0])
		if err != nil {
			return err
		}
		out := map[string]any{
			"branch_id": args[0],
			"outcome":   string(res.Outcome),
		}
		if res.Outcome == integration.OutcomeMatched || res.Outcome == integration.OutcomeCreated {
			out["release_id"] = res.Release.ID
			out["version"] = res.Release.Version
			out["parent_releases"] = res.Release.ParentIDs()
		}
		if len(res.Missing) > 0 {
			out["missing"] = res.Missing
		}
		return printJSON(cmd, out)
	})
}
