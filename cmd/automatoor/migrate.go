package main

import (
	"context"
	"fmt"

	"github.com/ethpandaops/automatoor/pkg/store"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		st := store.NewStore(log, &cfg.API.Database)
		if err := st.Start(context.Background()); err != nil {
			return fmt.Errorf("migrating: %w", err)
		}

		log.WithField("driver", cfg.API.Database.Driver).Info("Schema up to date")

		return st.Stop()
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
