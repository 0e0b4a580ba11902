package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"fraudengine/internal/platform/config"
	"fraudengine/internal/platform/database"
	"fraudengine/migrations"
)

func migrateCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema migrations to FRAUD_DATABASE_URL",
		Long: `Apply every *.up.sql migration in order.

The migrations are idempotent, so running this against an already migrated
database is safe.

Examples:
  FRAUD_DATABASE_URL=postgres://... fraudctl migrate
  fraudctl migrate --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dryRun {
				files, err := migrations.UpFiles()
				if err != nil {
					return err
				}
				for _, f := range files {
					fmt.Fprintln(cmd.OutOrStdout(), "  would apply", f)
				}
				return nil
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			pool, err := openDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := migrations.Apply(cmd.Context(), pool.DB())
			if err != nil {
				return err
			}
			for _, f := range applied {
				color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "  applied %s\n", f)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list migrations without applying them")
	return cmd
}

func openDatabase(ctx context.Context, cfg config.Config) (*database.Pool, error) {
	pool, err := database.New(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, errors.New("FRAUD_DATABASE_URL is required")
	}
	return pool, nil
}
