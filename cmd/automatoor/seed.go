package main

import (
	"context"
	"fmt"

	"github.com/ethpandaops/automatoor/pkg/store"
	"github.com/spf13/cobra"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load automations and scenarios from a fixtures file",
	Long: `Load automations and their scenarios from a YAML fixtures file.
Records are matched by name, so seeding the same file twice updates the
existing rows instead of duplicating them.`,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "", "fixtures file path")
	_ = seedCmd.MarkFlagRequired("file")
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fixtures, err := store.LoadFixtures(seedFile)
	if err != nil {
		return err
	}

	ctx := context.Background()

	st := store.NewStore(log, &cfg.API.Database)
	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	defer func() { _ = st.Stop() }()

	if err := st.Seed(ctx, fixtures); err != nil {
		return fmt.Errorf("seeding: %w", err)
	}

	log.WithField("automations", len(fixtures.Automations)).Info("Seed completed")

	return nil
}
