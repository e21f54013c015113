package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/tessera-labs/tessera/internal/platform/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Example: `  # Apply the schema to the database in DATABASE_URL
  tessera migrate`,
	Args: cobra.NoArgs,
	RunE: migrateCmdRun,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func migrateCmdRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), rootArgs.timeout)
	defer cancel()

	cfg, err := postgres.ConfigFromEnv()
	if err != nil {
		return err
	}
	db, err := postgres.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if err := postgres.Migrate(ctx, db); err != nil {
		return err
	}
	cmd.Printf("✔ schema applied (%d statements)\n", len(postgres.Statements()))
	return nil
}
