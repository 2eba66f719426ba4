package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/data-mapper/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func sampleJob(id string) *model.Job {
	return &model.Job{
		ID:          id,
		InputPath:   "schools.xlsx",
		SourceField: "School",
		Mapping:     model.FieldMapping{"emails": "Emails"},
		Cursor:      0,
		Total:       23,
		State:       model.JobStateIdle,
	}
}

func TestSQLite_RecordStart_And_GetJob(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.RecordStart(ctx, sampleJob("job-1")))

	got, err := st.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", got.ID)
	assert.Equal(t, "schools.xlsx", got.InputPath)
	assert.Equal(t, "School", got.SourceField)
	assert.Equal(t, model.FieldMapping{"emails": "Emails"}, got.Mapping)
	assert.Equal(t, 23, got.Total)
	assert.Equal(t, model.JobStateIdle, got.State)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestSQLite_GetJob_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestSQLite_RecordState(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, st.RecordStart(ctx, sampleJob("job-1")))

	require.NoError(t, st.RecordState(ctx, "job-1", model.JobStateRunning, 0, ""))
	require.NoError(t, st.RecordState(ctx, "job-1", model.JobStatePaused, 7, ""))
	require.NoError(t, st.RecordState(ctx, "job-1", model.JobStateFatal, 7, "chrome not found"))

	got, err := st.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStateFatal, got.State)
	assert.Equal(t, 7, got.Cursor)
	assert.Equal(t, "chrome not found", got.Error)

	events, err := st.ListEvents(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, model.JobStateRunning, events[0].State)
	assert.Equal(t, model.JobStatePaused, events[1].State)
	assert.Equal(t, 7, events[1].Cursor)
	assert.Equal(t, model.JobStateFatal, events[2].State)
	assert.Equal(t, "chrome not found", events[2].Error)
}

func TestSQLite_RecordState_UnknownJob(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	err := st.RecordState(ctx, "missing", model.JobStateRunning, 0, "")
	assert.ErrorIs(t, err, ErrJobNotFound)

	events, err := st.ListEvents(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestSQLite_RecordStart_ResumeUpdatesInPlace(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.RecordStart(ctx, sampleJob("job-1")))
	require.NoError(t, st.RecordState(ctx, "job-1", model.JobStateSavedAndQuit, 12, ""))

	resumed := sampleJob("job-1")
	resumed.Cursor = 12
	require.NoError(t, st.RecordStart(ctx, resumed))

	got, err := st.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 12, got.Cursor)
	assert.Equal(t, model.JobStateIdle, got.State)

	jobs, err := st.ListJobs(ctx, JobFilter{})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestSQLite_ListJobs(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		j := sampleJob(fmt.Sprintf("job-%d", i))
		j.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, st.RecordStart(ctx, j))
	}

	jobs, err := st.ListJobs(ctx, JobFilter{})
	require.NoError(t, err)
	require.Len(t, jobs, 5)
	assert.Equal(t, "job-4", jobs[0].ID, "newest first")

	jobs, err = st.ListJobs(ctx, JobFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	jobs, err = st.ListJobs(ctx, JobFilter{Limit: 2, Offset: 4})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-0", jobs[0].ID)
}

func TestSQLite_ListJobs_FilterByState(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.RecordStart(ctx, sampleJob("done")))
	require.NoError(t, st.RecordStart(ctx, sampleJob("quit")))
	require.NoError(t, st.RecordState(ctx, "done", model.JobStateCompleted, 23, ""))
	require.NoError(t, st.RecordState(ctx, "quit", model.JobStateSavedAndQuit, 12, ""))

	jobs, err := st.ListJobs(ctx, JobFilter{State: model.JobStateSavedAndQuit})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "quit", jobs[0].ID)
	assert.Equal(t, 12, jobs[0].Cursor)
}

func TestSQLite_Migrate_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))
	require.NoError(t, st.Migrate(context.Background()))
}
