package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rangeatlas/occurrence-cli/internal/dedupe"
)

var cascadeCmd = &cobra.Command{
	Use:   "cascade",
	Short: "Run the cross-source reconciliation cascade",
	Long: `Walks the configured cascade steps in order. Each step matches
lower-priority records against a higher-priority source, by exact unique-key
equality or by a derived suffix, and excludes the matches. Higher-priority
records are never touched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		n, err := dedupe.NewCascade(st, cfg.Cascade.Steps).Run(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("excluded %d cross-source duplicates\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cascadeCmd)
}
