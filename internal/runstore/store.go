// Package runstore keeps the history of worker runs in postgres or sqlite.
package runstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/livestream-ai-worker/shared/database"
)

// DefaultPageSize and MaxPageSize bound ListRuns
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ErrRunNotFound is returned by GetRun for an unknown run id
var ErrRunNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS worker_runs (
	run_id          TEXT PRIMARY KEY,
	job_id          TEXT NOT NULL,
	source_type     TEXT NOT NULL DEFAULT '',
	source_location TEXT NOT NULL DEFAULT '',
	state           TEXT NOT NULL,
	outcome         TEXT NOT NULL DEFAULT '',
	exit_code       INTEGER NOT NULL DEFAULT -1,
	forced          BOOLEAN NOT NULL DEFAULT FALSE,
	error           TEXT NOT NULL DEFAULT '',
	started_at      BIGINT NOT NULL,
	ended_at        BIGINT NOT NULL DEFAULT 0
)`

var indexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_worker_runs_started ON worker_runs (started_at DESC, run_id DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_worker_runs_job ON worker_runs (job_id)`,
}

const runColumns = `
	run_id, job_id, source_type, source_location, state,
	outcome, exit_code, forced, error, started_at, ended_at`

type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

func NewStore(client *database.Client, logger *slog.Logger) *Store {
	return &Store{
		db:     client.GetDB(),
		logger: logger,
	}
}

// EnsureSchema creates the runs table and its indexes when missing
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create worker_runs table: %w", err)
	}

	for _, stmt := range indexes {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create worker_runs index: %w", err)
		}
	}

	return nil
}

func (s *Store) RecordStart(ctx context.Context, run *Run) error {
	query := s.db.Rebind(`
		INSERT INTO worker_runs (` + runColumns + `
		) VALUES (
			?, ?, ?, ?, ?,
			?, ?, ?, ?, ?, ?
		)
	`)

	_, err := s.db.ExecContext(
		ctx,
		query,
		run.RunID,
		run.JobID,
		run.SourceType,
		run.SourceLocation,
		run.State,
		run.Outcome,
		run.ExitCode,
		run.Forced,
		run.Error,
		run.StartedAt,
		run.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	return nil
}

// RecordFinish stores the final state of a run, inserting it when the start
// was never recorded
func (s *Store) RecordFinish(ctx context.Context, run *Run) error {
	query := s.db.Rebind(`
		UPDATE worker_runs
		SET state = ?, outcome = ?, exit_code = ?, forced = ?, error = ?, ended_at = ?
		WHERE run_id = ?
	`)

	result, err := s.db.ExecContext(
		ctx,
		query,
		run.State,
		run.Outcome,
		run.ExitCode,
		run.Forced,
		run.Error,
		run.EndedAt,
		run.RunID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected > 0 {
		return nil
	}

	s.logger.Debug("Run finished without a start record",
		slog.String("run_id", run.RunID),
	)
	return s.RecordStart(ctx, run)
}

func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	var run Run
	query := s.db.Rebind(`SELECT ` + runColumns + ` FROM worker_runs WHERE run_id = ?`)

	err := s.db.GetContext(ctx, &run, query, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return &run, nil
}

type RunFilter struct {
	JobID    string
	State    string
	Outcome  string
	PageSize int
	Cursor   *RunCursor
}

// RunCursor points at the last run of the previous page
type RunCursor struct {
	StartedAt int64
	RunID     string
}

// ListRuns returns runs newest first. It fetches one row past PageSize so the
// caller can tell whether another page exists.
func (s *Store) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM worker_runs WHERE 1=1`
	args := []interface{}{}

	// Filters
	if filter.JobID != "" {
		query += " AND job_id = ?"
		args = append(args, filter.JobID)
	}

	if filter.State != "" {
		query += " AND state = ?"
		args = append(args, filter.State)
	}

	if filter.Outcome != "" {
		query += " AND outcome = ?"
		args = append(args, filter.Outcome)
	}

	if filter.Cursor != nil {
		query += " AND (started_at < ? OR (started_at = ? AND run_id < ?))"
		args = append(args, filter.Cursor.StartedAt, filter.Cursor.StartedAt, filter.Cursor.RunID)
	}

	// Order by started_at DESC, run_id DESC for consistent pagination
	query += " ORDER BY started_at DESC, run_id DESC"

	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	// Fetch one extra to determine if there are more results
	query += " LIMIT ?"
	args = append(args, pageSize+1)

	runs := []Run{}
	if err := s.db.SelectContext(ctx, &runs, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	return runs, nil
}
