package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Kneha256/AI-Powered-Email-Scheduler-Dashboard-ReachInbox/internal/models"
)

// ErrDuplicateJobID is returned when a job id collides with an existing row.
var ErrDuplicateJobID = errors.New("duplicate job id")

// ErrNotFound is returned when a job id does not exist.
var ErrNotFound = errors.New("job not found")

// Store wraps pgxpool for Postgres persistence of email jobs.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const jobColumns = `job_id, user_id, recipient_email, subject, body, sender_email,
	scheduled_time, status, attempts, hourly_limit, sent_at, error_message, created_at`

// CreateJob inserts a new job row with status=scheduled.
func (s *Store) CreateJob(ctx context.Context, job models.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO email_jobs (job_id, user_id, recipient_email, subject, body, sender_email,
			scheduled_time, status, attempts, hourly_limit, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, NOW())
	`, job.ID, job.UserID, job.Recipient, job.Subject, job.Body, job.Sender,
		job.DueTime, models.StatusScheduled, job.HourlyLimit)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrDuplicateJobID, job.ID)
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM email_jobs WHERE job_id = $1
	`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}
	return job, nil
}

// MarkSent transitions a scheduled job to sent and records the send time.
// Calling it again for an already-sent job is a no-op: the first terminal
// write wins and the repeat is harmless.
func (s *Store) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE email_jobs SET status = $2, sent_at = $3, error_message = NULL
		WHERE job_id = $1 AND status = $4
	`, id, models.StatusSent, sentAt, models.StatusScheduled)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.requireExists(ctx, id)
	}
	return nil
}

// MarkFailed transitions a scheduled job to failed with the last error message.
func (s *Store) MarkFailed(ctx context.Context, id string, errorMsg string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE email_jobs SET status = $2, error_message = $3
		WHERE job_id = $1 AND status = $4
	`, id, models.StatusFailed, errorMsg, models.StatusScheduled)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.requireExists(ctx, id)
	}
	return nil
}

// UpdateAttempts records a failed attempt and the job's next due time so a
// retry survives process restarts.
func (s *Store) UpdateAttempts(ctx context.Context, id string, attempts int, nextDue time.Time, lastErr string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE email_jobs SET attempts = $2, scheduled_time = $3, error_message = $4
		WHERE job_id = $1 AND status = $5
	`, id, attempts, nextDue, lastErr, models.StatusScheduled)
	if err != nil {
		return fmt.Errorf("update attempts: %w", err)
	}
	return nil
}

// UpdateDueTime moves a scheduled job to a new due time (rate-limit requeue).
func (s *Store) UpdateDueTime(ctx context.Context, id string, dueTime time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE email_jobs SET scheduled_time = $2
		WHERE job_id = $1 AND status = $3
	`, id, dueTime, models.StatusScheduled)
	if err != nil {
		return fmt.Errorf("update due time: %w", err)
	}
	return nil
}

// ListScheduled returns a user's pending jobs ordered by due time ascending.
func (s *Store) ListScheduled(ctx context.Context, userID int64) ([]models.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM email_jobs
		WHERE user_id = $1 AND status = $2
		ORDER BY scheduled_time ASC
	`, userID, models.StatusScheduled)
	if err != nil {
		return nil, fmt.Errorf("list scheduled: %w", err)
	}
	return collectJobs(rows)
}

// ListSentOrFailed returns a user's completed jobs, most recently sent first.
func (s *Store) ListSentOrFailed(ctx context.Context, userID int64) ([]models.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM email_jobs
		WHERE user_id = $1 AND status IN ($2, $3)
		ORDER BY sent_at DESC NULLS LAST
	`, userID, models.StatusSent, models.StatusFailed)
	if err != nil {
		return nil, fmt.Errorf("list sent or failed: %w", err)
	}
	return collectJobs(rows)
}

// ListPending returns every scheduled job regardless of due time, ordered by
// due time ascending. Used only by startup recovery: rows whose due time
// passed during downtime must be restored too, as immediately due.
func (s *Store) ListPending(ctx context.Context) ([]models.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM email_jobs
		WHERE status = $1
		ORDER BY scheduled_time ASC
	`, models.StatusScheduled)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	return collectJobs(rows)
}

func (s *Store) requireExists(ctx context.Context, id string) error {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM email_jobs WHERE job_id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("query job status: %w", err)
	}
	// Row exists but is already terminal; treat the repeat write as a no-op.
	return nil
}

func scanJob(row pgx.Row) (models.Job, error) {
	var job models.Job
	var sentAt pgtype.Timestamptz
	var errorMsg pgtype.Text
	err := row.Scan(&job.ID, &job.UserID, &job.Recipient, &job.Subject, &job.Body,
		&job.Sender, &job.DueTime, &job.Status, &job.Attempts, &job.HourlyLimit,
		&sentAt, &errorMsg, &job.CreatedAt)
	if err != nil {
		return models.Job{}, err
	}
	if sentAt.Valid {
		t := sentAt.Time
		job.SentAt = &t
	}
	if errorMsg.Valid {
		m := errorMsg.String
		job.ErrorMsg = &m
	}
	return job, nil
}

func collectJobs(rows pgx.Rows) ([]models.Job, error) {
	defer rows.Close()
	jobs := make([]models.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}
