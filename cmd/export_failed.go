package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/data-mapper/internal/dataset"
)

var (
	exportColumn  string
	exportSheet   string
	exportMarkers []string
)

var exportFailedCmd = &cobra.Command{
	Use:   "export-failed <input> <output>",
	Short: "Write the rows whose result column holds no usable value",
	Long: "Copies every row whose result column is empty or holds a failure marker " +
		"(Error, no_email_found, nan, None) into a new CSV or XLSX file, ready for a second pass.",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tbl, err := dataset.LoadFile(cmd.Context(), args[0], exportSheet)
		if err != nil {
			return eris.Wrapf(err, "load %s", args[0])
		}

		col := exportColumn
		if col == "" {
			col = cfg.Job.ResultField
		}
		var markers []string
		if cmd.Flags().Changed("marker") {
			markers = exportMarkers
		}

		failed, err := tbl.FailedRows(col, markers)
		if err != nil {
			return err
		}
		if err := dataset.SaveFile(args[1], failed); err != nil {
			return eris.Wrap(err, "write failed rows")
		}

		zap.L().Info("failed rows exported",
			zap.String("column", col),
			zap.Int("rows", failed.Len()),
			zap.Int("of", tbl.Len()),
		)
		fmt.Fprintf(cmd.OutOrStdout(), "%d of %d rows written to %s\n", failed.Len(), tbl.Len(), args[1])
		return nil
	},
}

func init() {
	exportFailedCmd.Flags().StringVar(&exportColumn, "column", "", "result column to inspect (default: the result field name)")
	exportFailedCmd.Flags().StringVar(&exportSheet, "sheet", "", "XLSX sheet to read (default: first sheet)")
	exportFailedCmd.Flags().StringSliceVar(&exportMarkers, "marker", nil, "values treated as failures (repeatable; default: \"\", Error, no_email_found, nan, None)")
	rootCmd.AddCommand(exportFailedCmd)
}
