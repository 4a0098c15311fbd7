package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusIngestLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-source record counts and recent ingests",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		counts, err := st.CountBySource(ctx)
		if err != nil {
			return err
		}
		fmt.Println("active records by source:")
		for _, c := range counts {
			fmt.Printf("  %-20s %d\n", c.Source, c.Count)
		}

		ingests, err := st.ListIngests(ctx, statusIngestLimit)
		if err != nil {
			return err
		}
		if len(ingests) > 0 {
			fmt.Println("recent ingests:")
			for _, e := range ingests {
				state := "aborted"
				if e.CompletedAt != nil {
					state = "completed"
				}
				fmt.Printf("  %s  source %-4d dataset %s  %s\n",
					e.StartedAt.Format("2006-01-02 15:04"), e.SourceID, e.DatasetID, state)
			}
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusIngestLimit, "limit", 10, "number of recent ingests to show")
	rootCmd.AddCommand(statusCmd)
}
