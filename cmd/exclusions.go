package main

import (
	"fmt"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/rangeatlas/occurrence-cli/internal/exclusion"
	"github.com/rangeatlas/occurrence-cli/internal/occurrence"
)

var exclusionsCmd = &cobra.Command{
	Use:   "exclusions",
	Short: "Inspect and reverse record exclusions",
}

var exclusionsListCmd = &cobra.Command{
	Use:   "list OCCURRENCE_ID",
	Short: "List the exclusions on one occurrence",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return eris.Wrapf(err, "parse occurrence id %q", args[0])
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		exclusions, err := exclusion.NewLedger(st).List(ctx, id)
		if err != nil {
			return err
		}
		if len(exclusions) == 0 {
			fmt.Printf("occurrence %d has no exclusions\n", id)
			return nil
		}
		for _, e := range exclusions {
			fmt.Printf("%s  %-26s %s\n", e.CreatedAt.Format("2006-01-02"), e.Reason, e.Justification)
		}
		return nil
	},
}

var exclusionsAddCmd = &cobra.Command{
	Use:   "add OCCURRENCE_ID JUSTIFICATION",
	Short: "Flag an occurrence as bad data",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return eris.Wrapf(err, "parse occurrence id %q", args[0])
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		return exclusion.NewLedger(st).Exclude(ctx, id, occurrence.ReasonFlaggedBad, args[1])
	},
}

var exclusionsUndoCmd = &cobra.Command{
	Use:   "undo OCCURRENCE_ID REASON",
	Short: "Remove one exclusion, restoring the record to downstream use",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return eris.Wrapf(err, "parse occurrence id %q", args[0])
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		return exclusion.NewLedger(st).Undo(ctx, id, occurrence.ExclusionReason(args[1]))
	},
}

func init() {
	exclusionsCmd.AddCommand(exclusionsListCmd)
	exclusionsCmd.AddCommand(exclusionsAddCmd)
	exclusionsCmd.AddCommand(exclusionsUndoCmd)
	rootCmd.AddCommand(exclusionsCmd)
}
