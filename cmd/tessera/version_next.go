package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/tessera-labs/tessera/internal/app"
	"github.com/tessera-labs/tessera/internal/domain"
)

var versionNextCmd = &cobra.Command{
	Use:   "next",
	Short: "Preview or override the next version of a branch",
}

type versionNextFlags struct {
	versionType string
	actor       string
}

var versionNextArgs versionNextFlags

var versionNextGetCmd = &cobra.Command{
	Use:   "get [branch-id]",
	Short: "Print the version the next reservation would receive",
	Args:  cobra.ExactArgs(1),
	RunE:  versionNextGetCmdRun,
}

var versionNextSetCmd = &cobra.Command{
	Use:   "set [branch-id] [version]",
	Short: "Override the version of the next reservation",
	Example: `  # Jump the next reservation to 3.0.0
  tessera version next set br-42 3.0.0 --actor=alice`,
	Args: cobra.ExactArgs(2),
	RunE: versionNextSetCmdRun,
}

func init() {
	versionNextCmd.PersistentFlags().StringVar(&versionNextArgs.versionType, "type", string(domain.VersionTypeDev),
		"version type: dev or marketing")
	versionNextSetCmd.Flags().StringVar(&versionNextArgs.actor, "actor", "",
		"actor recorded on audit events")
	versionNextCmd.AddCommand(versionNextGetCmd)
	versionNextCmd.AddCommand(versionNextSetCmd)
	versionCmd.AddCommand(versionNextCmd)
}

func versionNextGetCmdRun(cmd *cobra.Command, args []string) error {
	versionType, err := parseVersionType(versionNextArgs.versionType)
	if err != nil {
		return err
	}
	return runWithApp(cmd, func(ctx context.Context, a *app.App) error {
		next, err := a.Versions.GetCurrentNextVersion(ctx, args[0], versionType)
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]any{
			"branch_id":    args[0],
			"version_type": string(versionType),
			"version":      next,
		})
	})
}

func versionNextSetCmdRun(cmd *cobra.Command, args []string) error {
	versionType, err := parseVersionType(versionNextArgs.versionType)
	if err != nil {
		return err
	}
	return runWithApp(cmd, func(ctx context.Context, a *app.App) error {
		assignment, err := a.Versions.SetNextVersion(ctx, args[0], args[1], versionType, versionNextArgs.actor)
		if err != nil {
			return err
		}
		return printJSON(cmd, versionOutput(assignment))
	})
}
