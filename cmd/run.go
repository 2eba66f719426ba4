package main

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/data-mapper/internal/dataset"
	"github.com/sells-group/data-mapper/internal/model"
	"github.com/sells-group/data-mapper/internal/terminal"
)

var (
	runSheet  string
	runSource string
	runTarget string
	runOutput string
	runDriver string
	runFresh  bool
)

var runCmd = &cobra.Command{
	Use:   "run <input.csv|input.xlsx>",
	Short: "Run the lookup for every row of a dataset",
	Long: "Loads the dataset, looks up each value of the source column and writes the " +
		"result into the target column. Progress is checkpointed so the job can be resumed.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if runDriver != "" {
			cfg.Extract.Driver = runDriver
		}

		cps, err := initCheckpoints()
		if err != nil {
			return err
		}
		console := terminal.NewConsole(cmd.InOrStdin(), cmd.OutOrStdout())

		if cps.Exists() && !runFresh {
			resume, err := console.Confirm(ctx, "A saved job was found. Resume it instead?")
			if eris.Is(err, terminal.ErrInputClosed) {
				return eris.New("a saved job exists and there is no input to ask about it; run `data-mapper resume` or pass --fresh to discard it")
			}
			if err != nil {
				return err
			}
			if resume {
				return resumeJob(cmd, console, cps, runOutput)
			}
		}
		if cps.Exists() {
			zap.L().Info("discarding saved job")
			if err := cps.Clear(); err != nil {
				return err
			}
		}

		input := args[0]
		sheet, err := pickSheet(ctx, console, input, runSheet)
		if err != nil {
			return err
		}
		tbl, err := dataset.LoadFile(ctx, input, sheet)
		if err != nil {
			return eris.Wrapf(err, "load %s", input)
		}
		if !tbl.HasColumn(runSource) {
			return eris.Errorf("source column %q not found; columns are %v", runSource, tbl.Header())
		}

		target := runTarget
		if target == "" {
			target = cfg.Job.ResultField
		}
		output := runOutput
		if output == "" {
			output = defaultOutput(input)
		}

		return executeJob(cmd, console, cps, jobSpec{
			Table:       tbl,
			InputPath:   input,
			OutputPath:  output,
			SourceField: runSource,
			Mapping:     model.FieldMapping{cfg.Job.ResultField: target},
		})
	},
}

func init() {
	runCmd.Flags().StringVar(&runSheet, "sheet", "", "XLSX sheet to read (default: first sheet)")
	runCmd.Flags().StringVar(&runSource, "source", "", "column holding the lookup query")
	runCmd.Flags().StringVar(&runTarget, "target", "", "column receiving the result (created if missing; default: the result field name)")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "output file (.csv or .xlsx; default: <input>_mapped.<ext>)")
	runCmd.Flags().StringVar(&runDriver, "driver", "", "extractor driver: browser, http or stub (overrides config)")
	runCmd.Flags().BoolVar(&runFresh, "fresh", false, "discard any saved job without asking")
	_ = runCmd.MarkFlagRequired("source")
	rootCmd.AddCommand(runCmd)
}

// pickSheet asks which sheet to load when an XLSX workbook has more than one
// and --sheet was not given.
func pickSheet(ctx context.Context, console *terminal.Console, path, sheet string) (string, error) {
	if sheet != "" || !strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return sheet, nil
	}
	names, err := dataset.SheetNames(path)
	if err != nil {
		return "", eris.Wrapf(err, "load %s", path)
	}
	if len(names) < 2 {
		return sheet, nil
	}
	picked, err := console.Choose(ctx, "Multiple sheets found. Pick one:", names)
	if eris.Is(err, terminal.ErrInputClosed) {
		return "", eris.Errorf("%s has %d sheets; pass --sheet to pick one", path, len(names))
	}
	if err != nil {
		return "", err
	}
	zap.L().Info("sheet selected", zap.String("sheet", picked))
	return picked, nil
}
