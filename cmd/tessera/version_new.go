package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tessera-labs/tessera/internal/app"
	"github.com/tessera-labs/tessera/internal/domain"
	"github.com/tessera-labs/tessera/internal/service/versions"
	"github.com/tessera-labs/tessera/internal/versioning"
)

var versionNewCmd = &cobra.Command{
	Use:   "new [branch-id]",
	Short: "Reserve the next version of a branch",
	Example: `  # Reserve the next dev version
  tessera version new br-42

  # Bump the minor slot and tag the version
  tessera version new br-42 --action=bump_minor --modifier=rc1`,
	Args: cobra.ExactArgs(1),
	RunE: versionNewCmdRun,
}

type versionNewFlags struct {
	action      string
	modifier    string
	metadata    string
	versionType string
	actor       string
}

var versionNewArgs versionNewFlags

func init() {
	versionNewCmd.Flags().StringVar(&versionNewArgs.action, "action", "bump",
		"bump action: bump, bump_patch, bump_minor, bump_major or bump_date")
	versionNewCmd.Flags().StringVar(&versionNewArgs.modifier, "modifier", "",
		"modifier appended to the version")
	versionNewCmd.Flags().StringVar(&versionNewArgs.metadata, "metadata", "",
		"build metadata appended to the version")
	versionNewCmd.Flags().StringVar(&versionNewArgs.versionType, "type", string(domain.VersionTypeDev),
		"version type: dev or marketing")
	versionNewCmd.Flags().StringVar(&versionNewArgs.actor, "actor", "",
		"actor recorded on audit events")
	versionCmd.AddCommand(versionNewCmd)
}

func versionNewCmdRun(cmd *cobra.Command, args []string) error {
	action, err := versioning.ParseBumpAction(versionNewArgs.action)
	if err != nil {
		return err
	}
	versionType, err := parseVersionType(versionNewArgs.versionType)
	if err != nil {
		return err
	}
	return runWithApp(cmd, func(ctx context.Context, a *app.App) error {
		assignment, err := a.Versions.GetSetNewVersion(ctx, versions.Request{
			BranchID:    args[0],
			Action:      action,
			Modifier:    versionNewArgs.modifier,
			Metadata:    versionNewArgs.metadata,
			VersionType: versionType,
			Actor:       versionNewArgs.actor,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, versionOutput(assignment))
	})
}

func parseVersionType(raw string) (domain.VersionType, error) {
	t := domain.NormalizeVersionType(raw)
	if !t.Valid() {
		return "", fmt.Errorf("unsupported version type %q", raw)
	}
	return t, nil
}
