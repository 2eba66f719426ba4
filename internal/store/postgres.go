package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/data-mapper/internal/model"
)

var _ Store = (*PostgresStore)(nil)

// pgPool is the subset of *pgxpool.Pool the store uses.
type pgPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore implements Store using pgxpool. It lets several machines
// share one job history.
type PostgresStore struct {
	pool    pgPool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a small connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 4
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id            TEXT PRIMARY KEY,
	input_path    TEXT NOT NULL DEFAULT '',
	source_field  TEXT NOT NULL,
	field_mapping JSONB NOT NULL,
	cursor        INTEGER NOT NULL DEFAULT 0,
	total         INTEGER NOT NULL DEFAULT 0,
	state         TEXT NOT NULL DEFAULT 'idle',
	error         TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS job_events (
	id         TEXT PRIMARY KEY,
	seq        BIGSERIAL,
	job_id     TEXT NOT NULL REFERENCES jobs(id),
	state      TEXT NOT NULL,
	cursor     INTEGER NOT NULL,
	error      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
CREATE INDEX IF NOT EXISTS idx_job_events_job_id ON job_events(job_id);
`

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// RecordStart inserts a job row, or resets a resumed job in place.
func (s *PostgresStore) RecordStart(ctx context.Context, job *model.Job) error {
	mappingJSON, err := json.Marshal(job.Mapping)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal field mapping")
	}

	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.State == "" {
		job.State = model.JobStateIdle
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (id, input_path, source_field, field_mapping, cursor, total, state, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
			cursor = EXCLUDED.cursor,
			total = EXCLUDED.total,
			state = EXCLUDED.state,
			error = '',
			updated_at = EXCLUDED.updated_at`,
		job.ID, job.InputPath, job.SourceField, mappingJSON,
		job.Cursor, job.Total, string(job.State), job.Error, job.CreatedAt, job.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: insert job %s", job.ID)
}

// RecordState updates the job and appends a transition event in one
// transaction.
func (s *PostgresStore) RecordState(ctx context.Context, id string, state model.JobState, cursor int, errMsg string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()
	tag, err := tx.Exec(ctx,
		`UPDATE jobs SET state = $1, cursor = $2, error = $3, updated_at = $4 WHERE id = $5`,
		string(state), cursor, errMsg, now, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job state %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrJobNotFound, "job %s", id)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO job_events (id, job_id, state, cursor, error, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New().String(), id, string(state), cursor, errMsg, now,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert event for job %s", id)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit")
}

const jobColumns = `id, input_path, source_field, field_mapping, cursor, total, state, error, created_at, updated_at`

// GetJob returns one job.
func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	return scanPgJob(row)
}

// ListJobs returns jobs newest first.
func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.State != "" {
		query += fmt.Sprintf(` AND state = $%d`, argIdx)
		args = append(args, string(filter.State))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanPgJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

// ListEvents returns a job's transitions in the order they were recorded.
func (s *PostgresStore) ListEvents(ctx context.Context, jobID string) ([]JobEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, state, cursor, error, created_at FROM job_events
		 WHERE job_id = $1 ORDER BY created_at ASC, seq ASC`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list events")
	}
	defer rows.Close()

	var events []JobEvent
	for rows.Next() {
		var e JobEvent
		if err := rows.Scan(&e.ID, &e.JobID, &e.State, &e.Cursor, &e.Error, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan event")
		}
		events = append(events, e)
	}
	return events, eris.Wrap(rows.Err(), "postgres: list events iterate")
}

func scanPgJob(row pgx.Row) (*model.Job, error) {
	var j model.Job
	var mappingJSON []byte

	err := row.Scan(&j.ID, &j.InputPath, &j.SourceField, &mappingJSON,
		&j.Cursor, &j.Total, &j.State, &j.Error, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan job")
	}

	if err := json.Unmarshal(mappingJSON, &j.Mapping); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal field mapping")
	}
	return &j, nil
}
