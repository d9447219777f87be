// internal/database/jobs.go
package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ringfall/ringfall/internal/models"
)

// InsertJobIfAbsent inserts a pending payment job unless a job with the
// same idempotency key already exists (in any status), in which case the
// existing job's id is returned. The unique index on idempotency_key makes
// this race-safe across concurrent enqueuers.
func (s *Store) InsertJobIfAbsent(ctx context.Context, job *models.PaymentJob) (uuid.UUID, bool, error) {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("marshal job payload: %w", err)
	}

	q := `
	INSERT INTO payment_jobs (id, kind, idempotency_key, payload, status, attempts, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, 0, now(), now())
	ON CONFLICT (idempotency_key) DO NOTHING
	`
	tag, err := s.pool.Exec(ctx, q, job.ID, job.Kind, job.IdempotencyKey, payload, models.JobPending)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("insert payment job: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return job.ID, true, nil
	}

	var existing uuid.UUID
	err = s.pool.QueryRow(ctx,
		`SELECT id FROM payment_jobs WHERE idempotency_key = $1`,
		job.IdempotencyKey,
	).Scan(&existing)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("lookup existing job: %w", err)
	}
	return existing, false, nil
}

// PendingJobs returns up to limit claimable jobs: pending status with
// attempts still below the retry budget.
func (s *Store) PendingJobs(ctx context.Context, maxAttempts, limit int) ([]models.PaymentJob, error) {
	q := `
	SELECT id, kind, idempotency_key, payload, status, attempts, COALESCE(last_error, '')
	FROM payment_jobs
	WHERE status = $1 AND attempts < $2
	ORDER BY created_at
	LIMIT $3
	`
	rows, err := s.pool.Query(ctx, q, models.JobPending, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.PaymentJob
	for rows.Next() {
		var (
			job     models.PaymentJob
			payload []byte
		)
		if err := rows.Scan(&job.ID, &job.Kind, &job.IdempotencyKey, &payload, &job.Status, &job.Attempts, &job.LastError); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &job.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload for job %s: %w", job.ID, err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ClaimJob conditionally transitions a job into processing, incrementing
// its attempt count. The update only succeeds if the status is still what
// the worker observed when it read the job; a false return means another
// worker won the claim.
func (s *Store) ClaimJob(ctx context.Context, id uuid.UUID, expected models.JobStatus) (bool, error) {
	q := `
	UPDATE payment_jobs
	SET status = $1, attempts = attempts + 1, updated_at = now()
	WHERE id = $2 AND status = $3
	`
	tag, err := s.pool.Exec(ctx, q, models.JobProcessing, id, expected)
	if err != nil {
		return false, fmt.Errorf("claim job %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// CompleteJob marks a processing job completed.
func (s *Store) CompleteJob(ctx context.Context, id uuid.UUID) error {
	q := `
	UPDATE payment_jobs
	SET status = $1, last_error = NULL, updated_at = now()
	WHERE id = $2 AND status = $3
	`
	_, err := s.pool.Exec(ctx, q, models.JobCompleted, id, models.JobProcessing)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}
	return nil
}

// ReleaseJob puts a processing job back into pending for the next sweep,
// or into terminal failed when the attempt budget is exhausted.
func (s *Store) ReleaseJob(ctx context.Context, id uuid.UUID, lastErr string, terminal bool) error {
	status := models.JobPending
	if terminal {
		status = models.JobFailed
	}
	q := `
	UPDATE payment_jobs
	SET status = $1, last_error = $2, updated_at = now()
	WHERE id = $3 AND status = $4
	`
	_, err := s.pool.Exec(ctx, q, status, lastErr, id, models.JobProcessing)
	if err != nil {
		return fmt.Errorf("release job %s: %w", id, err)
	}
	return nil
}
