package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/data-mapper/internal/model"
)

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id            TEXT PRIMARY KEY,
	input_path    TEXT NOT NULL DEFAULT '',
	source_field  TEXT NOT NULL,
	field_mapping TEXT NOT NULL,
	cursor        INTEGER NOT NULL DEFAULT 0,
	total         INTEGER NOT NULL DEFAULT 0,
	state         TEXT NOT NULL DEFAULT 'idle',
	error         TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS job_events (
	id         TEXT PRIMARY KEY,
	job_id     TEXT NOT NULL REFERENCES jobs(id),
	state      TEXT NOT NULL,
	cursor     INTEGER NOT NULL,
	error      TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
CREATE INDEX IF NOT EXISTS idx_job_events_job_id ON job_events(job_id);
`

// Migrate creates the schema if it does not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordStart inserts a job row. A job resumed under the same id is updated
// in place.
func (s *SQLiteStore) RecordStart(ctx context.Context, job *model.Job) error {
	mappingJSON, err := json.Marshal(job.Mapping)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal field mapping")
	}

	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.State == "" {
		job.State = model.JobStateIdle
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, input_path, source_field, field_mapping, cursor, total, state, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			cursor = excluded.cursor,
			total = excluded.total,
			state = excluded.state,
			error = '',
			updated_at = excluded.updated_at`,
		job.ID, job.InputPath, job.SourceField, string(mappingJSON),
		job.Cursor, job.Total, string(job.State), job.Error, job.CreatedAt, job.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert job %s", job.ID)
}

// RecordState updates the job and appends a transition event.
func (s *SQLiteStore) RecordState(ctx context.Context, id string, state model.JobState, cursor int, errMsg string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`UPDATE jobs SET state = ?, cursor = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(state), cursor, errMsg, now, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job state %s", id)
	}
	if err := checkRowsAffected(res, "job", id); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO job_events (id, job_id, state, cursor, error, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), id, string(state), cursor, errMsg, now,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert event for job %s", id)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit")
}

// GetJob returns one job.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, input_path, source_field, field_mapping, cursor, total, state, error, created_at, updated_at
		 FROM jobs WHERE id = ?`,
		id,
	)
	return scanJob(row)
}

// ListJobs returns jobs newest first.
func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT id, input_path, source_field, field_mapping, cursor, total, state, error, created_at, updated_at
		FROM jobs WHERE 1=1`
	var args []any

	if filter.State != "" {
		query += ` AND state = ?`
		args = append(args, string(filter.State))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close() //nolint:errcheck

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

// ListEvents returns a job's transitions in the order they were recorded.
func (s *SQLiteStore) ListEvents(ctx context.Context, jobID string) ([]JobEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, state, cursor, error, created_at FROM job_events
		 WHERE job_id = ? ORDER BY created_at ASC, rowid ASC`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list events")
	}
	defer rows.Close() //nolint:errcheck

	var events []JobEvent
	for rows.Next() {
		var e JobEvent
		if err := rows.Scan(&e.ID, &e.JobID, &e.State, &e.Cursor, &e.Error, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan event")
		}
		events = append(events, e)
	}
	return events, eris.Wrap(rows.Err(), "sqlite: list events iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrJobNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable) (*model.Job, error) {
	var j model.Job
	var mappingJSON string

	err := row.Scan(&j.ID, &j.InputPath, &j.SourceField, &mappingJSON,
		&j.Cursor, &j.Total, &j.State, &j.Error, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan job")
	}

	if err := json.Unmarshal([]byte(mappingJSON), &j.Mapping); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal field mapping")
	}
	return &j, nil
}
