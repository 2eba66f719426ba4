package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/data-mapper/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return &PostgresStore{pool: mock}, mock
}

var jobRowColumns = []string{"id", "input_path", "source_field", "field_mapping", "cursor", "total", "state", "error", "created_at", "updated_at"}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS jobs`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordStart_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	job := sampleJob("job-1")

	mock.ExpectExec(`INSERT INTO jobs .* ON CONFLICT \(id\) DO UPDATE`).
		WithArgs("job-1", "schools.xlsx", "School", []byte(`{"emails":"Emails"}`),
			0, 23, "idle", "", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.RecordStart(context.Background(), job))
	assert.False(t, job.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordState(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE jobs SET state = \$1, cursor = \$2, error = \$3, updated_at = \$4 WHERE id = \$5`).
		WithArgs("saved_and_quit", 12, "", pgxmock.AnyArg(), "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO job_events`).
		WithArgs(pgxmock.AnyArg(), "job-1", "saved_and_quit", 12, "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, s.RecordState(context.Background(), "job-1", model.JobStateSavedAndQuit, 12, ""))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordState_UnknownJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE jobs SET state`).
		WithArgs("completed", 3, "", pgxmock.AnyArg(), "nope").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := s.RecordState(context.Background(), "nope", model.JobStateCompleted, 3, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrJobNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	created := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT .* FROM jobs WHERE id = \$1`).
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows(jobRowColumns).AddRow(
			"job-1", "schools.xlsx", "School", []byte(`{"emails":"Emails"}`),
			12, 23, model.JobStateSavedAndQuit, "", created, created.Add(time.Minute),
		))

	j, err := s.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStateSavedAndQuit, j.State)
	assert.Equal(t, 12, j.Cursor)
	assert.Equal(t, model.FieldMapping{"emails": "Emails"}, j.Mapping)
	assert.Equal(t, created, j.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetJob_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .* FROM jobs WHERE id = \$1`).
		WithArgs("nonexistent").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetJob(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListJobs_Filter(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM jobs WHERE true AND state = \$1 ORDER BY created_at DESC LIMIT \$2 OFFSET \$3`).
		WithArgs("completed", 5, 10).
		WillReturnRows(pgxmock.NewRows(jobRowColumns).
			AddRow("b", "", "School", []byte(`{}`), 4, 4, model.JobStateCompleted, "", now, now).
			AddRow("a", "", "School", []byte(`{}`), 9, 9, model.JobStateCompleted, "", now, now))

	jobs, err := s.ListJobs(context.Background(), JobFilter{State: model.JobStateCompleted, Limit: 5, Offset: 10})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "b", jobs[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListJobs_DefaultLimit(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM jobs WHERE true ORDER BY created_at DESC LIMIT \$1$`).
		WithArgs(100).
		WillReturnRows(pgxmock.NewRows(jobRowColumns))

	jobs, err := s.ListJobs(context.Background(), JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, jobs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListEvents(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM job_events\s+WHERE job_id = \$1 ORDER BY created_at ASC, seq ASC`).
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "job_id", "state", "cursor", "error", "created_at"}).
			AddRow("e1", "job-1", model.JobStateRunning, 0, "", now).
			AddRow("e2", "job-1", model.JobStateFatal, 3, "chrome not found", now))

	events, err := s.ListEvents(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.JobStateFatal, events[1].State)
	assert.Equal(t, "chrome not found", events[1].Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpen_SQLitePath(t *testing.T) {
	st, err := Open(context.Background(), t.TempDir()+"/history.db")
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	assert.IsType(t, &SQLiteStore{}, st)
}

func TestOpen_PostgresURLIsParsed(t *testing.T) {
	_, err := Open(context.Background(), "postgres://user@host:notaport/db")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres")
}
