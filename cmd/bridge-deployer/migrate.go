package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OneStable-limited/onestable-bridge/internal/config"
	"github.com/OneStable-limited/onestable-bridge/internal/database"
)

var flagMigrateSteps int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the PostgreSQL state store schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(config.Options{ConfigFile: flagConfig, EnvFile: flagEnvFile})
		if err != nil {
			return err
		}
		if err := database.RunMigrations(cfg.Database); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied")
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(config.Options{ConfigFile: flagConfig, EnvFile: flagEnvFile})
		if err != nil {
			return err
		}
		if err := database.MigrateDown(cfg.Database, flagMigrateSteps); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Rolled back %d migration(s)\n", flagMigrateSteps)
		return nil
	},
}

func init() {
	migrateDownCmd.Flags().IntVar(&flagMigrateSteps, "steps", 1, "number of migrations to roll back")
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd)
	rootCmd.AddCommand(migrateCmd)
}
