package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/rangeatlas/occurrence-cli/internal/fetcher"
	"github.com/rangeatlas/occurrence-cli/internal/ingest"
)

var (
	ingestSource       string
	ingestRestrictions string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest --source NAME FILE...",
	Short: "Ingest occurrence files for one provider",
	Long: `Ingest one or more occurrence files (CSV, TSV, shapefile, or zip
archives of those) for a single provider. Files may be local paths or
http/https/ftp URLs. Re-running on the same input updates changed records
and counts the rest as duplicates; it never double-inserts.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := os.MkdirAll(cfg.Ingest.TempDir, 0o755); err != nil {
			return eris.Wrapf(err, "create temp dir %s", cfg.Ingest.TempDir)
		}

		httpF := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			UserAgent:  cfg.Fetch.UserAgent,
			MaxRetries: cfg.Fetch.MaxRetries,
		})
		ftpF := fetcher.NewFTPFetcher(fetcher.FTPOptions{})
		feed := ingest.NewFeed(httpF, ftpF, cfg.Ingest.TempDir)

		runner := ingest.NewRunner(st, feed, cfg.Ingest)
		summary, runErr := runner.Run(ctx, ingestSource, ingestRestrictions, args)

		// The summary prints even when the run aborted partway.
		fmt.Print(summary.String())
		return runErr
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestSource, "source", "", "provider source name (required)")
	ingestCmd.Flags().StringVar(&ingestRestrictions, "restrictions", "", "usage restrictions note for this dataset")
	_ = ingestCmd.MarkFlagRequired("source")
	rootCmd.AddCommand(ingestCmd)
}
