package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/data-mapper/internal/checkpoint"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect or discard the saved job",
}

var checkpointShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Describe the saved job, if any",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cps, err := initCheckpoints()
		if err != nil {
			return err
		}
		cp, err := cps.Load(cmd.Context())
		if errors.Is(err, checkpoint.ErrNotFound) {
			fmt.Fprintln(cmd.OutOrStdout(), "No saved job.")
			return nil
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Saved at:     %s\n", cp.SavedAt.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(out, "Progress:     %d/%d rows\n", cp.Cursor, cp.Data.Len())
		fmt.Fprintf(out, "Source field: %s\n", cp.SourceField)
		for field, col := range cp.Mapping {
			fmt.Fprintf(out, "Mapping:      %s -> %s\n", field, col)
		}
		return nil
	},
}

var checkpointClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the saved job",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cps, err := initCheckpoints()
		if err != nil {
			return err
		}
		if !cps.Exists() {
			fmt.Fprintln(cmd.OutOrStdout(), "No saved job.")
			return nil
		}
		if err := cps.Clear(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Saved job discarded.")
		return nil
	},
}

func init() {
	checkpointCmd.AddCommand(checkpointShowCmd)
	checkpointCmd.AddCommand(checkpointClearCmd)
	rootCmd.AddCommand(checkpointCmd)
}
