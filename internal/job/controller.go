// Package job runs one interruptible extraction job: a worker goroutine walks
// the rows and calls the extractor while the controller owns the dataset,
// applies results, checkpoints progress and drives the job state machine.
package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/data-mapper/internal/checkpoint"
	"github.com/sells-group/data-mapper/internal/dataset"
	"github.com/sells-group/data-mapper/internal/extract"
	"github.com/sells-group/data-mapper/internal/model"
)

var (
	// ErrAlreadyStarted is returned when Run is called twice.
	ErrAlreadyStarted = errors.New("job: already started")
	// ErrNotRunning is returned by commands sent after the job ended.
	ErrNotRunning = errors.New("job: not running")
)

// DefaultDrainInterval is how often the controller drains the worker queue.
const DefaultDrainInterval = 100 * time.Millisecond

// Presenter is the user-facing side of a job.
type Presenter interface {
	// OnProgress is called after each row result is applied.
	OnProgress(index, total int, status string)
	// OnErrorNeedsResolution blocks until the user picks a decision for a
	// recoverable failure. row is 1-based.
	OnErrorNeedsResolution(ctx context.Context, row int, location, query string) (Decision, error)
	// OnTerminal is called once with the final state.
	OnTerminal(state model.JobState, err error)
}

// Recorder keeps a history of jobs. Failures are logged and ignored.
type Recorder interface {
	RecordStart(ctx context.Context, job *model.Job) error
	RecordState(ctx context.Context, id string, state model.JobState, cursor int, errMsg string) error
}

// Options configures a Controller.
type Options struct {
	ID          string
	Table       *dataset.Table
	InputPath   string
	SourceField string
	Mapping     model.FieldMapping
	Cursor      int

	Factory   extract.Factory
	Store     checkpoint.Store
	Presenter Presenter
	Recorder  Recorder

	CheckpointEvery int
	DrainInterval   time.Duration
	ErrorMarker     string
}

type command int

const (
	cmdTogglePause command = iota + 1
)

// Controller owns the dataset for the duration of a job. All mutation of the
// table happens on the goroutine that called Run.
type Controller struct {
	opts     Options
	handle   *Handle
	queue    *Queue
	commands chan command
	finished chan struct{}
	started  atomic.Bool

	mu     sync.Mutex
	state  model.JobState
	cursor int

	log *zap.Logger
}

// NewController validates opts and prepares a job in the idle state. Mapped
// destination columns missing from the table are added.
func NewController(opts Options) (*Controller, error) {
	if opts.Table == nil {
		return nil, eris.New("job: table is required")
	}
	if !opts.Table.HasColumn(opts.SourceField) {
		return nil, eris.Errorf("job: source column %q not found", opts.SourceField)
	}
	if len(opts.Mapping) == 0 {
		return nil, eris.New("job: field mapping is empty")
	}
	if opts.Cursor < 0 || opts.Cursor > opts.Table.Len() {
		return nil, eris.Errorf("job: cursor %d out of range (%d rows)", opts.Cursor, opts.Table.Len())
	}
	if opts.Factory == nil {
		return nil, eris.New("job: extractor factory is required")
	}
	if opts.Store == nil {
		return nil, eris.New("job: checkpoint store is required")
	}
	if opts.Presenter == nil {
		opts.Presenter = nopPresenter{}
	}
	if opts.CheckpointEvery <= 0 {
		opts.CheckpointEvery = DefaultCheckpointEvery
	}
	if opts.DrainInterval <= 0 {
		opts.DrainInterval = DefaultDrainInterval
	}
	if opts.ID == "" {
		opts.ID = uuid.New().String()
	}
	opts.Mapping = opts.Mapping.Clone()

	for _, col := range opts.Mapping {
		opts.Table.EnsureColumn(col)
	}

	return &Controller{
		opts:     opts,
		handle:   NewHandle(opts.ID),
		queue:    NewQueue(),
		commands: make(chan command, 16),
		finished: make(chan struct{}),
		state:    model.JobStateIdle,
		cursor:   opts.Cursor,
		log:      zap.L().With(zap.String("job_id", opts.ID)),
	}, nil
}

// ID returns the job id.
func (c *Controller) ID() string { return c.opts.ID }

// Handle returns the handle shared with the worker.
func (c *Controller) Handle() *Handle { return c.handle }

// State returns the current state.
func (c *Controller) State() model.JobState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Cursor returns the index of the first row without an applied result.
func (c *Controller) Cursor() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor
}

// TogglePause pauses a running job or resumes a paused one.
func (c *Controller) TogglePause() error {
	if c.isFinished() {
		return ErrNotRunning
	}
	select {
	case <-c.finished:
		return ErrNotRunning
	case c.commands <- cmdTogglePause:
		return nil
	}
}

// SaveAndQuit asks the worker to stop and the controller to checkpoint.
func (c *Controller) SaveAndQuit() error {
	if c.isFinished() {
		return ErrNotRunning
	}
	c.handle.Signals.SaveAndQuit()
	return nil
}

// Cancel asks the worker to stop. The checkpoint is discarded.
func (c *Controller) Cancel() error {
	if c.isFinished() {
		return ErrNotRunning
	}
	c.handle.Signals.Cancel()
	return nil
}

func (c *Controller) isFinished() bool {
	select {
	case <-c.finished:
		return true
	default:
		return false
	}
}

// Run executes the job and returns its terminal state. Cancelling ctx is
// treated as a save-and-quit request. Run returns only after the worker has
// exited and closed its extractor.
func (c *Controller) Run(ctx context.Context) (model.JobState, error) {
	if !c.started.CompareAndSwap(false, true) {
		return c.State(), ErrAlreadyStarted
	}
	defer close(c.finished)

	total := c.opts.Table.Len()
	c.recordStart(ctx, total)

	queries, err := c.opts.Table.Column(c.opts.SourceField)
	if err != nil {
		return c.finish(ctx, model.JobStateFatal, err)
	}
	worker, err := NewWorker(WorkerConfig{
		Handle:          c.handle,
		Factory:         c.opts.Factory,
		Out:             c.queue,
		Queries:         queries,
		Start:           c.opts.Cursor,
		Mapping:         c.opts.Mapping,
		CheckpointEvery: c.opts.CheckpointEvery,
		ErrorMarker:     c.opts.ErrorMarker,
	})
	if err != nil {
		return c.finish(ctx, model.JobStateFatal, err)
	}

	c.setState(ctx, model.JobStateRunning)
	c.log.Info("job: started",
		zap.Int("cursor", c.opts.Cursor),
		zap.Int("total", total),
		zap.String("source_field", c.opts.SourceField),
	)

	// The worker is stopped through the signals, never through ctx, so an
	// in-flight extraction is allowed to finish.
	var g errgroup.Group
	g.Go(func() error {
		return worker.Run(context.WithoutCancel(ctx))
	})

	state, loopErr := c.loop(ctx)
	if werr := g.Wait(); werr != nil && loopErr == nil {
		loopErr = werr
	}
	return c.finish(ctx, state, loopErr)
}

func (c *Controller) loop(ctx context.Context) (model.JobState, error) {
	ticker := time.NewTicker(c.opts.DrainInterval)
	defer ticker.Stop()

	interrupted := ctx.Done()
	for {
		select {
		case <-interrupted:
			c.log.Info("job: interrupted, saving progress")
			c.handle.Signals.SaveAndQuit()
			interrupted = nil
		case cmd := <-c.commands:
			c.apply(ctx, cmd)
		case <-ticker.C:
			for _, msg := range c.queue.Drain() {
				if state, terminal, err := c.dispatch(ctx, msg); terminal {
					return state, err
				}
			}
		}
	}
}

func (c *Controller) apply(ctx context.Context, cmd command) {
	switch cmd {
	case cmdTogglePause:
		if c.handle.Signals.Stopping() {
			return
		}
		switch c.State() {
		case model.JobStateRunning, model.JobStatePaused:
		default:
			return
		}
		if c.handle.Signals.TogglePause() {
			c.setState(ctx, model.JobStatePaused)
			c.log.Info("job: paused")
		} else {
			c.setState(ctx, model.JobStateRunning)
			c.log.Info("job: resumed")
		}
	}
}

// dispatch applies one message. terminal is true when the job has ended.
func (c *Controller) dispatch(ctx context.Context, msg Message) (model.JobState, bool, error) {
	switch m := msg.(type) {
	case Result:
		c.applyResult(m)
		return "", false, nil

	case AutosaveTick:
		c.save(m.Index, m.Mapping)
		return "", false, nil

	case NetworkError:
		c.resolve(ctx, m)
		return "", false, nil

	case Cancelled:
		c.log.Info("job: cancelled", zap.Int("cursor", c.Cursor()))
		c.clear()
		return model.JobStateCancelled, true, nil

	case SaveAndQuit:
		c.log.Info("job: saving before quit", zap.Int("cursor", m.Index))
		if err := c.opts.Store.Save(m.Index, c.opts.SourceField, m.Mapping, c.opts.Table); err != nil {
			c.log.Error("job: checkpoint on quit failed", zap.Error(err))
			return model.JobStateSavedAndQuit, true, eris.Wrap(err, "job: save on quit")
		}
		return model.JobStateSavedAndQuit, true, nil

	case FatalError:
		c.log.Error("job: fatal", zap.Error(m.Err))
		return model.JobStateFatal, true, m.Err

	case Done:
		c.mu.Lock()
		c.cursor = c.opts.Table.Len()
		c.mu.Unlock()
		c.log.Info("job: completed", zap.Int("rows", c.opts.Table.Len()))
		c.clear()
		return model.JobStateCompleted, true, nil

	default:
		panic(fmt.Sprintf("job: unhandled message %T", msg))
	}
}

func (c *Controller) applyResult(m Result) {
	for field, col := range c.opts.Mapping {
		if err := c.opts.Table.Set(m.Index, col, m.Record[field]); err != nil {
			c.log.Error("job: apply result", zap.Int("row", m.Index), zap.Error(err))
		}
	}

	c.mu.Lock()
	if m.Index+1 > c.cursor {
		c.cursor = m.Index + 1
	}
	c.mu.Unlock()

	total := c.opts.Table.Len()
	c.opts.Presenter.OnProgress(m.Index, total, fmt.Sprintf("Processed row %d of %d", m.Index+1, total))
}

// save checkpoints best-effort. A failed write never stops the job.
func (c *Controller) save(cursor int, mapping model.FieldMapping) {
	if err := c.opts.Store.Save(cursor, c.opts.SourceField, mapping, c.opts.Table); err != nil {
		c.log.Warn("job: autosave failed", zap.Int("cursor", cursor), zap.Error(err))
		return
	}
	c.log.Debug("job: autosaved", zap.Int("cursor", cursor))
}

func (c *Controller) clear() {
	if err := c.opts.Store.Clear(); err != nil {
		c.log.Warn("job: clear checkpoint failed", zap.Error(err))
	}
}

// resolve runs the decision gate on the controller goroutine while the worker
// is parked.
func (c *Controller) resolve(ctx context.Context, m NetworkError) {
	if c.handle.Signals.Stopping() {
		return
	}

	prev := c.State()
	c.setState(ctx, model.JobStateAwaitingResolution)
	c.log.Warn("job: waiting for error resolution",
		zap.Int("row", m.Index),
		zap.String("location", m.Location),
		zap.String("query", m.Query),
		zap.Error(m.Err),
	)

	d, err := c.opts.Presenter.OnErrorNeedsResolution(ctx, m.Index+1, m.Location, m.Query)
	if err == nil {
		err = c.handle.Resolve(d)
	}
	if err != nil {
		c.log.Warn("job: no decision, saving progress", zap.Error(err))
		c.handle.Signals.SaveAndQuit()
	} else {
		c.log.Info("job: decision", zap.Int("row", m.Index), zap.Stringer("action", d.Action))
	}

	if prev == model.JobStatePaused {
		prev = model.JobStateRunning
	}
	c.setState(ctx, prev)
}

func (c *Controller) setState(ctx context.Context, s model.JobState) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	cursor := c.cursor
	c.mu.Unlock()

	c.record(ctx, s, cursor, "")
}

func (c *Controller) finish(ctx context.Context, s model.JobState, err error) (model.JobState, error) {
	c.mu.Lock()
	c.state = s
	cursor := c.cursor
	c.mu.Unlock()

	msg := ""
	if err != nil {
		msg = err.Error()
	}
	c.record(ctx, s, cursor, msg)
	c.opts.Presenter.OnTerminal(s, err)
	return s, err
}

func (c *Controller) recordStart(ctx context.Context, total int) {
	if c.opts.Recorder == nil {
		return
	}
	now := time.Now().UTC()
	j := &model.Job{
		ID:          c.opts.ID,
		InputPath:   c.opts.InputPath,
		SourceField: c.opts.SourceField,
		Mapping:     c.opts.Mapping.Clone(),
		Cursor:      c.opts.Cursor,
		Total:       total,
		State:       model.JobStateIdle,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := c.opts.Recorder.RecordStart(context.WithoutCancel(ctx), j); err != nil {
		c.log.Warn("job: record start failed", zap.Error(err))
	}
}

func (c *Controller) record(ctx context.Context, s model.JobState, cursor int, errMsg string) {
	if c.opts.Recorder == nil {
		return
	}
	if err := c.opts.Recorder.RecordState(context.WithoutCancel(ctx), c.opts.ID, s, cursor, errMsg); err != nil {
		c.log.Warn("job: record state failed", zap.String("state", string(s)), zap.Error(err))
	}
}

type nopPresenter struct{}

func (nopPresenter) OnProgress(int, int, string) {}

func (nopPresenter) OnErrorNeedsResolution(context.Context, int, string, string) (Decision, error) {
	return Decision{Action: ActionStop}, nil
}

func (nopPresenter) OnTerminal(model.JobState, error) {}
