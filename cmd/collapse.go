package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rangeatlas/occurrence-cli/internal/dedupe"
)

var collapseSource string

var collapseCmd = &cobra.Command{
	Use:   "collapse --source NAME",
	Short: "Exclude within-source duplicates sharing a date and geometry",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		src, err := st.GetSource(ctx, collapseSource)
		if err != nil {
			return err
		}

		n, err := dedupe.NewCollapser(st).CollapseSource(ctx, src.ID)
		if err != nil {
			return err
		}
		fmt.Printf("excluded %d within-source duplicates\n", n)
		return nil
	},
}

func init() {
	collapseCmd.Flags().StringVar(&collapseSource, "source", "", "provider source name (required)")
	_ = collapseCmd.MarkFlagRequired("source")
	rootCmd.AddCommand(collapseCmd)
}
