package job

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/data-mapper/internal/extract"
	"github.com/sells-group/data-mapper/internal/model"
)

// DefaultCheckpointEvery is the autosave period in rows.
const DefaultCheckpointEvery = 10

// WorkerConfig describes one pass of the extraction loop.
type WorkerConfig struct {
	Handle  *Handle
	Factory extract.Factory
	Out     *Queue

	// Queries is the source column captured at job start. The worker never
	// sees later edits to the dataset.
	Queries []string
	Start   int
	Mapping model.FieldMapping

	CheckpointEvery int
	ErrorMarker     string
}

// Worker runs the extraction loop on its own goroutine and reports every
// outcome through the queue. It never touches the dataset.
type Worker struct {
	cfg WorkerConfig
	log *zap.Logger
}

// NewWorker validates cfg and returns a worker.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Handle == nil || cfg.Factory == nil || cfg.Out == nil {
		return nil, eris.New("job: worker needs a handle, an extractor factory and a queue")
	}
	if cfg.Start < 0 || cfg.Start > len(cfg.Queries) {
		return nil, eris.Errorf("job: start row %d out of range (%d rows)", cfg.Start, len(cfg.Queries))
	}
	if len(cfg.Mapping) == 0 {
		return nil, eris.New("job: field mapping is empty")
	}
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = DefaultCheckpointEvery
	}
	return &Worker{
		cfg: cfg,
		log: zap.L().With(zap.String("job_id", cfg.Handle.ID)),
	}, nil
}

// Run processes rows from Start to the end. The extractor is closed exactly
// once before Run returns. The only error returned is a failure to create the
// extractor, which is also reported as FatalError.
func (w *Worker) Run(ctx context.Context) error {
	ext, err := w.cfg.Factory(ctx)
	if err != nil {
		err = eris.Wrap(err, "job: start extractor")
		w.log.Error("job: extractor failed to start", zap.Error(err))
		w.cfg.Out.Push(FatalError{Err: err})
		return err
	}
	defer func() {
		if cerr := ext.Close(); cerr != nil {
			w.log.Debug("job: extractor close failed", zap.Error(cerr))
		}
	}()

	w.log.Info("job: worker started",
		zap.Int("start", w.cfg.Start),
		zap.Int("rows", len(w.cfg.Queries)),
	)

	for i := w.cfg.Start; i < len(w.cfg.Queries); i++ {
		if w.halted(ctx, i) {
			return nil
		}

		rec, ok := w.process(ctx, ext, i)
		if !ok {
			return nil
		}
		w.cfg.Out.Push(Result{Index: i, Record: rec})

		if i%w.cfg.CheckpointEvery == 0 {
			w.cfg.Out.Push(AutosaveTick{Index: i + 1, Mapping: w.cfg.Mapping.Clone()})
		}
	}

	w.log.Info("job: worker finished")
	w.cfg.Out.Push(Done{})
	return nil
}

// halted applies the signals before row i. It parks while paused and returns
// true after emitting the terminal message for a cancel or save-and-quit.
func (w *Worker) halted(ctx context.Context, i int) bool {
	sig := w.cfg.Handle.Signals
	for {
		switch {
		case sig.Cancelled():
			w.cfg.Out.Push(Cancelled{})
			return true
		case sig.SaveAndQuitRequested():
			w.cfg.Out.Push(SaveAndQuit{Index: i, Mapping: w.cfg.Mapping.Clone()})
			return true
		case !sig.Paused():
			return false
		}
		if err := sig.WaitUnpaused(ctx); err != nil {
			// Treat a dead context like a save-and-quit so progress is kept.
			w.cfg.Out.Push(SaveAndQuit{Index: i, Mapping: w.cfg.Mapping.Clone()})
			return true
		}
	}
}

// process extracts row i, running the error-resolution protocol on
// recoverable failures. It returns false once a terminal message was emitted.
func (w *Worker) process(ctx context.Context, ext extract.Extractor, i int) (extract.Record, bool) {
	query := w.cfg.Queries[i]
	for {
		rec, err := ext.Extract(ctx, query)
		if err == nil {
			return rec, true
		}

		rerr, recoverable := extract.AsRecoverable(err)
		if !recoverable {
			w.log.Warn("job: row failed",
				zap.Int("row", i),
				zap.String("query", query),
				zap.Error(err),
			)
			return w.fill(w.cfg.ErrorMarker), true
		}

		w.log.Warn("job: recoverable failure, waiting for a decision",
			zap.Int("row", i),
			zap.String("location", rerr.Location),
			zap.Error(err),
		)

		d, ok := w.awaitDecision(i, rerr, query, ext.LastLocation())
		if !ok {
			return nil, false
		}
		switch d.Action {
		case ActionRetry:
			if d.Query != "" {
				query = d.Query
			}
			w.log.Info("job: retrying row", zap.Int("row", i), zap.String("query", query))
		case ActionSkip:
			w.log.Info("job: skipping row", zap.Int("row", i))
			return w.fill(""), true
		case ActionStop:
			w.log.Info("job: stopped by user", zap.Int("row", i))
			w.cfg.Handle.Signals.Cancel()
			w.cfg.Out.Push(Cancelled{})
			return nil, false
		}
	}
}

func (w *Worker) awaitDecision(i int, rerr *extract.RecoverableError, query, lastLocation string) (Decision, bool) {
	location := rerr.Location
	if location == "" {
		location = lastLocation
	}

	h := w.cfg.Handle
	h.Signals.SetPaused(true)
	w.cfg.Out.Push(NetworkError{
		Index:    i,
		Location: location,
		Query:    query,
		Err:      errors.Unwrap(rerr),
	})

	d, ok := h.awaitDecision()
	if ok {
		return d, true
	}
	if h.Signals.Cancelled() {
		w.cfg.Out.Push(Cancelled{})
	} else {
		w.cfg.Out.Push(SaveAndQuit{Index: i, Mapping: w.cfg.Mapping.Clone()})
	}
	return Decision{}, false
}

// fill returns a record with value in every mapped field.
func (w *Worker) fill(value string) extract.Record {
	rec := make(extract.Record, len(w.cfg.Mapping))
	for field := range w.cfg.Mapping {
		rec[field] = value
	}
	return rec
}
