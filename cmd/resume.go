package main

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/data-mapper/internal/checkpoint"
	"github.com/sells-group/data-mapper/internal/model"
	"github.com/sells-group/data-mapper/internal/store"
	"github.com/sells-group/data-mapper/internal/terminal"
)

var (
	resumeOutput string
	resumeDriver string
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a job saved with save-and-quit or interrupted by a crash",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if resumeDriver != "" {
			cfg.Extract.Driver = resumeDriver
		}
		cps, err := initCheckpoints()
		if err != nil {
			return err
		}
		console := terminal.NewConsole(cmd.InOrStdin(), cmd.OutOrStdout())
		return resumeJob(cmd, console, cps, resumeOutput)
	},
}

func init() {
	resumeCmd.Flags().StringVarP(&resumeOutput, "output", "o", "", "output file (default: derived from the original input)")
	resumeCmd.Flags().StringVar(&resumeDriver, "driver", "", "extractor driver: browser, http or stub (overrides config)")
	rootCmd.AddCommand(resumeCmd)
}

func resumeJob(cmd *cobra.Command, console *terminal.Console, cps checkpoint.Store, output string) error {
	ctx := cmd.Context()

	cp, err := cps.Load(ctx)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return eris.New("no saved job to resume")
	}
	if err != nil {
		return err
	}

	prev := lastResumable(ctx)

	spec := jobSpec{
		Table:       cp.Data,
		OutputPath:  output,
		SourceField: cp.SourceField,
		Mapping:     cp.Mapping,
		Cursor:      cp.Cursor,
	}
	if prev != nil {
		spec.ID = prev.ID
		spec.InputPath = prev.InputPath
		if spec.OutputPath == "" && prev.InputPath != "" {
			spec.OutputPath = defaultOutput(prev.InputPath)
		}
	}
	if spec.OutputPath == "" {
		spec.OutputPath = "resumed_mapped.csv"
	}

	zap.L().Info("resuming saved job",
		zap.Int("cursor", cp.Cursor),
		zap.Int("rows", cp.Data.Len()),
		zap.Time("saved_at", cp.SavedAt),
	)
	return executeJob(cmd, console, cps, spec)
}

// lastResumable returns the newest job in the history if it was saved or
// never reached a terminal state (a crash). It returns nil when history is
// disabled or holds no such job.
func lastResumable(ctx context.Context) *model.Job {
	st, err := initStore(ctx)
	if err != nil {
		zap.L().Warn("job history unavailable", zap.Error(err))
		return nil
	}
	if st == nil {
		return nil
	}
	defer st.Close() //nolint:errcheck

	jobs, err := st.ListJobs(ctx, store.JobFilter{Limit: 1})
	if err != nil || len(jobs) == 0 {
		return nil
	}
	j := jobs[0]
	if j.State == model.JobStateSavedAndQuit || !j.State.Terminal() {
		return &j
	}
	return nil
}
