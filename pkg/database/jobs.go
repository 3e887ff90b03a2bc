package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

var ErrJobNotFound = errors.New("job not found")

type Job struct {
	ID        uuid.UUID       `json:"id"`
	Query     string          `json:"query"`
	Breadth   int             `json:"breadth"`
	Depth     int             `json:"depth"`
	Feedback  string          `json:"feedback,omitempty"`
	Status    JobStatus       `json:"status"`
	Progress  json.RawMessage `json:"progress,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Report    *string         `json:"report,omitempty"`
	Error     *string         `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type NewJob struct {
	Query    string
	Breadth  int
	Depth    int
	Feedback string
}

type LogEntry struct {
	ID        int64           `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata"`
}

const jobColumns = `id, query, breadth, depth, feedback, status, progress, result, report, error, created_at, updated_at`

func scanJob(row pgx.Row) (*Job, error) {
	job := &Job{}
	err := row.Scan(&job.ID, &job.Query, &job.Breadth, &job.Depth, &job.Feedback, &job.Status,
		&job.Progress, &job.Result, &job.Report, &job.Error, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	return job, err
}

func (db *PostgresDB) CreateJob(ctx context.Context, req NewJob) (*Job, error) {
	query := `
		INSERT INTO research_jobs (id, query, breadth, depth, feedback, status)
		VALUES ($1, $2, $3, $4, $5, 'pending')
		RETURNING ` + jobColumns

	job, err := scanJob(db.conn().QueryRow(ctx, query, uuid.New(), req.Query, req.Breadth, req.Depth, req.Feedback))
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	return job, nil
}

func (db *PostgresDB) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	job, err := scanJob(db.conn().QueryRow(ctx, `SELECT `+jobColumns+` FROM research_jobs WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func (db *PostgresDB) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn().Query(ctx, `SELECT `+jobColumns+` FROM research_jobs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (db *PostgresDB) SetJobStatus(ctx context.Context, id uuid.UUID, status JobStatus) error {
	_, err := db.conn().Exec(ctx, "UPDATE research_jobs SET status = $2, updated_at = NOW() WHERE id = $1", id, status)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	return nil
}

func (db *PostgresDB) SaveJobProgress(ctx context.Context, id uuid.UUID, progress []byte) error {
	_, err := db.conn().Exec(ctx, "UPDATE research_jobs SET progress = $2, updated_at = NOW() WHERE id = $1", id, progress)
	if err != nil {
		return fmt.Errorf("failed to save job progress: %w", err)
	}
	return nil
}

func (db *PostgresDB) CompleteJob(ctx context.Context, id uuid.UUID, report string, result []byte) error {
	_, err := db.conn().Exec(ctx, `
		UPDATE research_jobs
		SET status = 'completed', report = $2, result = $3, updated_at = NOW()
		WHERE id = $1`, id, report, result)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

func (db *PostgresDB) FailJob(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := db.conn().Exec(ctx, `
		UPDATE research_jobs
		SET status = 'failed', error = $2, updated_at = NOW()
		WHERE id = $1`, id, reason)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	return nil
}

// FailInterruptedJobs marks jobs left pending or running by a previous
// process as failed. Call it once at startup.
func (db *PostgresDB) FailInterruptedJobs(ctx context.Context) (int64, error) {
	tag, err := db.conn().Exec(ctx, `
		UPDATE research_jobs
		SET status = 'failed', error = 'interrupted by server restart', updated_at = NOW()
		WHERE status IN ('pending', 'running')`)
	if err != nil {
		return 0, fmt.Errorf("failed to reset interrupted jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (db *PostgresDB) InsertLog(ctx context.Context, jobID uuid.UUID, ts time.Time, level, message string, metadata []byte) error {
	_, err := db.conn().Exec(ctx, `
		INSERT INTO research_logs (job_id, timestamp, level, message, metadata)
		VALUES ($1, $2, $3, $4, $5)`, jobID, ts, level, message, metadata)
	if err != nil {
		return fmt.Errorf("failed to insert log: %w", err)
	}
	return nil
}

func (db *PostgresDB) GetJobLogs(ctx context.Context, jobID uuid.UUID) ([]LogEntry, error) {
	rows, err := db.conn().Query(ctx, `
		SELECT id, timestamp, level, message, metadata
		FROM research_logs
		WHERE job_id = $1
		ORDER BY id ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}
	defer rows.Close()

	logs := []LogEntry{}
	for rows.Next() {
		var l LogEntry
		if err := rows.Scan(&l.ID, &l.Timestamp, &l.Level, &l.Message, &l.Metadata); err != nil {
			return nil, fmt.Errorf("failed to scan log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
