package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/clinical-reasoning-engine/internal/app"
)

func (c *cli) migrateCmd() *cobra.Command {
	var databaseURL string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run PostgreSQL report history migrations",
	}
	cmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "PostgreSQL URL (default: CRE_DATABASE_URL)")

	resolve := func() (string, error) {
		if databaseURL != "" {
			return databaseURL, nil
		}
		if v := os.Getenv("CRE_DATABASE_URL"); v != "" {
			return v, nil
		}
		return "", errors.New("no database URL: pass --database-url or set CRE_DATABASE_URL")
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := resolve()
			if err != nil {
				return err
			}
			return app.Migrate(cmd.Context(), url, true, c.logger)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := resolve()
			if err != nil {
				return err
			}
			return app.Migrate(cmd.Context(), url, false, c.logger)
		},
	})

	return cmd
}
