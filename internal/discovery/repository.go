package discovery

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// JobRepository persists reconciliation jobs.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	Update(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, id string) (*Job, error)

	// List returns the most recent jobs first; limit <= 0 means no limit.
	List(ctx context.Context, limit int) ([]Job, error)

	// RequestCancel sets the cancel flag of an unfinished job.
	RequestCancel(ctx context.Context, id string) error
}

const jobColumns = `id, manufacturer, status, items_total, items_processed,
	items_scanned, items_submitted, cancel_requested, error_note,
	created_at, started_at, finished_at`

const jobTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteJobRepository implements JobRepository using SQLite.
type SQLiteJobRepository struct {
	db *sql.DB
}

// NewSQLiteJobRepository creates a new SQLite-backed job repository.
func NewSQLiteJobRepository(db *sql.DB) *SQLiteJobRepository {
	return &SQLiteJobRepository{db: db}
}

// Create inserts a job.
func (r *SQLiteJobRepository) Create(ctx context.Context, job *Job) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO reconciliation_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Manufacturer, string(job.Status),
		job.ItemsTotal, job.ItemsProcessed, job.ItemsScanned, job.ItemsSubmitted,
		boolInt(job.CancelRequested), job.ErrorNote,
		formatJobTime(job.CreatedAt), formatJobTime(job.StartedAt), formatJobTime(job.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting job: %w", err)
	}
	return nil
}

// Update writes progress and status. The cancel flag is only ever raised,
// never cleared, so a concurrent RequestCancel is not lost.
func (r *SQLiteJobRepository) Update(ctx context.Context, job *Job) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE reconciliation_jobs SET
			status = ?, items_total = ?, items_processed = ?, items_scanned = ?,
			items_submitted = ?, cancel_requested = MAX(cancel_requested, ?),
			error_note = ?, started_at = ?, finished_at = ?
		WHERE id = ?`,
		string(job.Status), job.ItemsTotal, job.ItemsProcessed, job.ItemsScanned,
		job.ItemsSubmitted, boolInt(job.CancelRequested), job.ErrorNote,
		formatJobTime(job.StartedAt), formatJobTime(job.FinishedAt),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("updating job: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// GetByID returns ErrJobNotFound if the job does not exist.
func (r *SQLiteJobRepository) GetByID(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM reconciliation_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying job: %w", err)
	}
	return job, nil
}

// List returns jobs newest first.
func (r *SQLiteJobRepository) List(ctx context.Context, limit int) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM reconciliation_jobs ORDER BY created_at DESC, id`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating jobs: %w", err)
	}
	return jobs, nil
}

// RequestCancel returns ErrJobNotFound for unknown jobs and ErrJobFinished
// for terminal ones.
func (r *SQLiteJobRepository) RequestCancel(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE reconciliation_jobs SET cancel_requested = 1
		WHERE id = ? AND status IN ('pending', 'running')`, id)
	if err != nil {
		return fmt.Errorf("requesting cancel: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return ErrJobFinished
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*Job, error) {
	var job Job
	var status string
	var cancel int
	var createdAt string
	var startedAt, finishedAt sql.NullString

	err := s.Scan(
		&job.ID, &job.Manufacturer, &status,
		&job.ItemsTotal, &job.ItemsProcessed, &job.ItemsScanned, &job.ItemsSubmitted,
		&cancel, &job.ErrorNote, &createdAt, &startedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Status = Status(status)
	job.CancelRequested = cancel != 0
	job.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt) //nolint:errcheck // written by us
	job.StartedAt = parseJobTime(startedAt)
	job.FinishedAt = parseJobTime(finishedAt)
	return &job, nil
}

func formatJobTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(jobTimeLayout), Valid: true}
}

func parseJobTime(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
