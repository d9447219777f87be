// internal/jobs/queue.go

// Package jobs is the durable, idempotent payment queue. Exactly two job
// kinds exist (payout, refund); both are executed by a polling worker that
// claims jobs via conditional status updates, the system's sole
// concurrency-control mechanism across server instances.
package jobs

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ringfall/ringfall/internal/metrics"
	"github.com/ringfall/ringfall/internal/models"
)

// Store is the persistence surface the queue and worker need.
type Store interface {
	InsertJobIfAbsent(ctx context.Context, job *models.PaymentJob) (uuid.UUID, bool, error)
	PendingJobs(ctx context.Context, maxAttempts, limit int) ([]models.PaymentJob, error)
	ClaimJob(ctx context.Context, id uuid.UUID, expected models.JobStatus) (bool, error)
	CompleteJob(ctx context.Context, id uuid.UUID) error
	ReleaseJob(ctx context.Context, id uuid.UUID, lastErr string, terminal bool) error
	MarkWagerRefunded(ctx context.Context, txRef string) (bool, error)
	InsertLedgerAudit(ctx context.Context, jobID uuid.UUID, kind, from, to string, flakes int64, txRef string) error
}

// Queue enqueues payment jobs with derived idempotency keys.
type Queue struct {
	store Store
}

// NewQueue builds a Queue over the given store.
func NewQueue(store Store) *Queue {
	return &Queue{store: store}
}

// IdempotencyKey derives the key anchoring a job to its real-world event:
// the original transfer for refunds, the (match, escrow wallet) pair for
// payouts.
func IdempotencyKey(kind models.JobKind, payload models.JobPayload) (string, error) {
	switch kind {
	case models.JobRefund:
		if payload.TxRef == "" {
			return "", fmt.Errorf("refund job requires a transfer reference")
		}
		return fmt.Sprintf("%s:tx:%s", kind, payload.TxRef), nil
	case models.JobPayout:
		if payload.MatchID == "" || payload.EscrowAddr == "" {
			return "", fmt.Errorf("payout job requires match id and escrow address")
		}
		return fmt.Sprintf("%s:match:%s:escrow:%s", kind, payload.MatchID, payload.EscrowAddr), nil
	default:
		return "", fmt.Errorf("unknown job kind %q", kind)
	}
}

// Enqueue inserts a pending job unless one with the same idempotency key
// already exists, in which case the existing job's id is returned and no
// duplicate is created. key overrides the derived idempotency key when
// non-empty.
func (q *Queue) Enqueue(ctx context.Context, kind models.JobKind, payload models.JobPayload, key string) (uuid.UUID, error) {
	if key == "" {
		var err error
		key, err = IdempotencyKey(kind, payload)
		if err != nil {
			return uuid.Nil, err
		}
	}

	job := &models.PaymentJob{
		ID:             uuid.New(),
		Kind:           kind,
		IdempotencyKey: key,
		Payload:        payload,
		Status:         models.JobPending,
	}
	id, inserted, err := q.store.InsertJobIfAbsent(ctx, job)
	if err != nil {
		return uuid.Nil, err
	}
	if inserted {
		switch kind {
		case models.JobPayout:
			metrics.PayoutsQueued.Inc()
		case models.JobRefund:
			metrics.RefundsQueued.Inc()
		}
	}
	return id, nil
}
