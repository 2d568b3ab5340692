package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jwalitptl/clinic-forms/internal/config"
	"github.com/jwalitptl/clinic-forms/internal/repository/postgres"
)

func newMigrateCommand(a *app) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations using the service configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to read config: %w", err)
			}
			db, err := postgres.NewDB(cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := postgres.Migrate(db); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Migrations executed successfully.")
			return nil
		},
	}
	cmd.Flags().StringVar(&cfgFile, "config", "", "service config file")
	return cmd
}
