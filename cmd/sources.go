package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rangeatlas/occurrence-cli/internal/occurrence"
	"github.com/rangeatlas/occurrence-cli/internal/store"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Manage provider sources",
}

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured provider sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		sources, err := st.ListSources(ctx)
		if err != nil {
			return err
		}
		for _, src := range sources {
			fmt.Printf("%4d  %-20s priority %d\n", src.ID, src.Name, src.Priority)
		}
		return nil
	},
}

var sourcesSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Upsert the providers from configuration into the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		return seedSources(ctx, st)
	},
}

func seedSources(ctx context.Context, st store.Store) error {
	if pg, ok := st.(*store.PostgresStore); ok {
		sources := make([]occurrence.Source, len(cfg.Sources))
		for i, entry := range cfg.Sources {
			sources[i] = occurrence.Source{Name: entry.Name, Priority: entry.Priority}
		}
		n, err := pg.SeedSources(ctx, sources)
		if err != nil {
			return err
		}
		zap.L().Info("sources seeded", zap.Int64("count", n))
		return nil
	}

	for _, entry := range cfg.Sources {
		if _, err := st.UpsertSource(ctx, entry.Name, entry.Priority); err != nil {
			return err
		}
	}
	zap.L().Info("sources seeded", zap.Int("count", len(cfg.Sources)))
	return nil
}

func init() {
	sourcesCmd.AddCommand(sourcesListCmd)
	sourcesCmd.AddCommand(sourcesSeedCmd)
	rootCmd.AddCommand(sourcesCmd)
}
