package main

import (
	"context"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/data-mapper/internal/checkpoint"
	"github.com/sells-group/data-mapper/internal/dataset"
	"github.com/sells-group/data-mapper/internal/extract"
	"github.com/sells-group/data-mapper/internal/job"
	"github.com/sells-group/data-mapper/internal/model"
	"github.com/sells-group/data-mapper/internal/store"
	"github.com/sells-group/data-mapper/internal/terminal"
)

// initStore opens the job history database. It returns nil when history is
// disabled.
func initStore(ctx context.Context) (store.Store, error) {
	if cfg.Store.DatabaseURL == "" {
		return nil, nil
	}
	st, err := store.Open(ctx, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func initCheckpoints() (*checkpoint.FileStore, error) {
	if err := cfg.Validate("checkpoint"); err != nil {
		return nil, err
	}
	return checkpoint.NewFileStore(cfg.Checkpoint.Dir, cfg.Checkpoint.DataFile, cfg.Checkpoint.MetaFile)
}

// defaultOutput derives "<name>_mapped<ext>" next to the input file.
func defaultOutput(input string) string {
	ext := filepath.Ext(input)
	if ext == "" {
		ext = ".csv"
	}
	return strings.TrimSuffix(input, filepath.Ext(input)) + "_mapped" + ext
}

// jobSpec is everything needed to start or resume a job.
type jobSpec struct {
	ID          string
	Table       *dataset.Table
	InputPath   string
	OutputPath  string
	SourceField string
	Mapping     model.FieldMapping
	Cursor      int
}

// executeJob runs one job in the foreground. SIGINT and SIGTERM save progress
// and stop the job; the process then exits normally.
func executeJob(cmd *cobra.Command, console *terminal.Console, cps checkpoint.Store, spec jobSpec) error {
	if err := cfg.Validate("run"); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	factory, err := extract.NewFactory(cfg.Extract, cfg.Job.ResultField)
	if err != nil {
		return err
	}

	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	var recorder job.Recorder
	if st != nil {
		defer st.Close() //nolint:errcheck
		recorder = st
	}

	ctrl, err := job.NewController(job.Options{
		ID:              spec.ID,
		Table:           spec.Table,
		InputPath:       spec.InputPath,
		SourceField:     spec.SourceField,
		Mapping:         spec.Mapping,
		Cursor:          spec.Cursor,
		Factory:         factory,
		Store:           cps,
		Presenter:       console,
		Recorder:        recorder,
		CheckpointEvery: cfg.Job.CheckpointEvery,
		DrainInterval:   cfg.Job.DrainInterval,
		ErrorMarker:     cfg.Job.ErrorMarker,
	})
	if err != nil {
		return err
	}

	listenCtx, stopListening := context.WithCancel(ctx)
	defer stopListening()
	go console.Listen(listenCtx, ctrl)
	console.Help()

	zap.L().Info("starting job",
		zap.String("job_id", ctrl.ID()),
		zap.String("input", spec.InputPath),
		zap.String("output", spec.OutputPath),
		zap.Int("rows", spec.Table.Len()),
		zap.Int("cursor", spec.Cursor),
		zap.String("driver", cfg.Extract.Driver),
	)

	state, runErr := ctrl.Run(ctx)
	stopListening()

	if state == model.JobStateFatal {
		return eris.Wrap(runErr, "extraction failed")
	}

	if spec.OutputPath != "" {
		if err := dataset.SaveFile(spec.OutputPath, spec.Table); err != nil {
			return eris.Wrap(err, "write output")
		}
		zap.L().Info("output written", zap.String("path", spec.OutputPath), zap.String("state", string(state)))
	}
	return runErr
}
