package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/petportrait/backend/internal/models"
)

type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, provider_job_id, user_id, original_image_url, COALESCE(generated_image_url, ''), prompt, style, status, COALESCE(error_message, ''), credits_used, created_at, updated_at, completed_at`

func (r *JobRepository) Create(ctx context.Context, job *models.GenerationJob) error {
	const query = `
INSERT INTO generation_jobs (id, provider_job_id, user_id, original_image_url, prompt, style, status, credits_used)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, job.ID, job.ProviderJobID, job.UserID, job.OriginalImageURL, job.Prompt, job.Style, job.Status, job.CreditsUsed); err != nil {
		return fmt.Errorf("insert generation job: %w", err)
	}
	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*models.GenerationJob, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM generation_jobs WHERE id = ?`, id)
	return scanJob(row)
}

func (r *JobRepository) GetByProviderID(ctx context.Context, providerJobID string) (*models.GenerationJob, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM generation_jobs WHERE provider_job_id = ?`, providerJobID)
	return scanJob(row)
}

func (r *JobRepository) ListByUser(ctx context.Context, userID string) ([]models.GenerationJob, error) {
	const query = `SELECT ` + jobColumns + ` FROM generation_jobs WHERE user_id = ? ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list generation jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.GenerationJob
	for rows.Next() {
		job, err := scanJobRow(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// MarkTerminal writes a terminal state exactly once. When the stored job is
// already terminal the update matches no row and the stored record is
// returned unchanged; the second return reports whether this call applied
// the transition. Both the callback and the polling path funnel through
// this guard.
func (r *JobRepository) MarkTerminal(ctx context.Context, id string, status models.JobStatus, generatedImageURL, errorMessage string, completedAt time.Time) (*models.GenerationJob, bool, error) {
	if !status.Terminal() {
		return nil, false, fmt.Errorf("status %q is not terminal", status)
	}

	const query = `
UPDATE generation_jobs
SET status = ?, generated_image_url = NULLIF(?, ''), error_message = NULLIF(?, ''), completed_at = ?, updated_at = NOW()
WHERE id = ? AND status NOT IN ('success', 'failed')`
	res, err := r.db.ExecContext(ctx, query, status, generatedImageURL, errorMessage, completedAt, id)
	if err != nil {
		return nil, false, fmt.Errorf("mark job terminal: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("terminal rows affected: %w", err)
	}

	job, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if job == nil {
		return nil, false, fmt.Errorf("job %s vanished during terminal update", id)
	}
	return job, affected > 0, nil
}

// MarkProcessing records a non-terminal provider observation. Guarded on the
// waiting state so it can never demote a job a racing terminal write already
// finished.
func (r *JobRepository) MarkProcessing(ctx context.Context, id string) error {
	const query = `
UPDATE generation_jobs SET status = 'processing', updated_at = NOW()
WHERE id = ? AND status = 'waiting'`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("mark job processing: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row *sql.Row) (*models.GenerationJob, error) {
	job, err := scanJobRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return job, nil
}

func scanJobRow(row rowScanner) (*models.GenerationJob, error) {
	var j models.GenerationJob
	var completedAt sql.NullTime
	if err := row.Scan(&j.ID, &j.ProviderJobID, &j.UserID, &j.OriginalImageURL, &j.GeneratedImageURL, &j.Prompt, &j.Style, &j.Status, &j.ErrorMessage, &j.CreditsUsed, &j.CreatedAt, &j.UpdatedAt, &completedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan generation job: %w", err)
	}
	if completedAt.Valid {
		j.CompletedAt = &completedAt.Time
	}
	return &j, nil
}
