package main

import (
	"github.com/spf13/cobra"

	"github.com/tessera-labs/tessera/internal/domain"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Reserve and override branch versions",
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func versionOutput(a domain.VersionAssignment) map[string]any {
	return map[string]any{
		"assignment_id":   a.ID,
		"branch_id":       a.BranchID,
		"version":         a.Version,
		"version_type":    string(a.VersionType),
		"assignment_type": string(a.AssignmentType),
	}
}
