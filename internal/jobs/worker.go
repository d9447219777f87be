// internal/jobs/worker.go
package jobs

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ringfall/ringfall/internal/cache"
	"github.com/ringfall/ringfall/internal/ledger"
	"github.com/ringfall/ringfall/internal/metrics"
	"github.com/ringfall/ringfall/internal/models"
)

// Scheduler drives the worker's sweeps. The default polls on a fixed
// interval; a production port could swap in a message-queue consumer
// without touching job semantics.
type Scheduler interface {
	Run(ctx context.Context, tick func(ctx context.Context))
}

// IntervalScheduler ticks on a fixed period until the context is done.
type IntervalScheduler struct {
	Every time.Duration
}

// Run implements Scheduler.
func (s IntervalScheduler) Run(ctx context.Context, tick func(ctx context.Context)) {
	ticker := time.NewTicker(s.Every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

// Worker claims and executes payment jobs. Safe to run on multiple server
// instances: only one conditional claim can win per job.
type Worker struct {
	Store  Store
	Ledger ledger.Client
	Log    *logrus.Logger

	HouseWallet string
	HouseCutPct decimal.Decimal

	MaxAttempts int
	BatchSize   int
	Scheduler   Scheduler
}

// Run executes sweeps until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.Log.WithFields(logrus.Fields{
		"batch":        w.BatchSize,
		"max_attempts": w.MaxAttempts,
	}).Info("payment worker started")
	w.Scheduler.Run(ctx, w.Sweep)
}

// Sweep claims up to BatchSize pending jobs and executes each one.
func (w *Worker) Sweep(ctx context.Context) {
	batch, err := w.Store.PendingJobs(ctx, w.MaxAttempts, w.BatchSize)
	if err != nil {
		w.Log.Warnf("payment worker: list pending jobs: %v", err)
		return
	}
	for _, job := range batch {
		claimed, err := w.Store.ClaimJob(ctx, job.ID, job.Status)
		if err != nil {
			w.Log.Warnf("payment worker: claim job %s: %v", job.ID, err)
			continue
		}
		if !claimed {
			// Another instance won the conditional update.
			continue
		}
		job.Attempts++

		if err := w.execute(ctx, &job); err != nil {
			terminal := job.Attempts >= w.MaxAttempts
			w.Log.WithFields(logrus.Fields{
				"job":      job.ID,
				"kind":     job.Kind,
				"attempts": job.Attempts,
				"terminal": terminal,
			}).Warnf("payment job failed: %v", err)
			if terminal {
				metrics.JobsFailed.Inc()
			}
			if relErr := w.Store.ReleaseJob(ctx, job.ID, err.Error(), terminal); relErr != nil {
				w.Log.Errorf("payment worker: release job %s: %v", job.ID, relErr)
			}
			continue
		}

		if err := w.Store.CompleteJob(ctx, job.ID); err != nil {
			w.Log.Errorf("payment worker: complete job %s: %v", job.ID, err)
			continue
		}
		metrics.JobsCompleted.Inc()
	}
}

func (w *Worker) execute(ctx context.Context, job *models.PaymentJob) error {
	switch job.Kind {
	case models.JobPayout:
		return w.executePayout(ctx, job)
	case models.JobRefund:
		return w.executeRefund(ctx, job)
	default:
		// Unknown kinds cannot succeed on retry either, but a terminal
		// failure keeps them visible for operators.
		return errUnknownKind(job.Kind)
	}
}

// executePayout splits the pot into the winner's share and the house cut
// and submits one transfer per share out of the escrow wallet that was
// actually paid into at wager time.
func (w *Worker) executePayout(ctx context.Context, job *models.PaymentJob) error {
	p := job.Payload
	pot := decimal.NewFromInt(p.Flakes)
	house := pot.Mul(w.HouseCutPct).Floor().IntPart()
	winner := p.Flakes - house

	if winner > 0 && p.Target != "" {
		txRef, err := w.Ledger.SubmitTransfer(ctx, p.EscrowAddr, p.Target, winner)
		if err != nil {
			return err
		}
		if err := w.Store.InsertLedgerAudit(ctx, job.ID, "payout_winner", p.EscrowAddr, p.Target, winner, txRef); err != nil {
			w.Log.Warnf("payment worker: audit winner transfer for job %s: %v", job.ID, err)
		}
	}
	if house > 0 && w.HouseWallet != "" {
		txRef, err := w.Ledger.SubmitTransfer(ctx, p.EscrowAddr, w.HouseWallet, house)
		if err != nil {
			return err
		}
		if err := w.Store.InsertLedgerAudit(ctx, job.ID, "payout_house", p.EscrowAddr, w.HouseWallet, house, txRef); err != nil {
			w.Log.Warnf("payment worker: audit house transfer for job %s: %v", job.ID, err)
		}
	}

	if err := cache.PublishAudit(ctx, cache.AuditRecord{
		Kind:    "payout_completed",
		MatchID: p.MatchID,
		Wallet:  p.Target,
		Escrow:  p.EscrowAddr,
		Flakes:  p.Flakes,
	}); err != nil {
		w.Log.Warnf("payment worker: publish payout audit: %v", err)
	}
	return nil
}

// executeRefund sends the locked amount back to the original payer and
// flips the originating wager event to refunded.
func (w *Worker) executeRefund(ctx context.Context, job *models.PaymentJob) error {
	p := job.Payload
	txRef, err := w.Ledger.SubmitTransfer(ctx, p.EscrowAddr, p.Target, p.Flakes)
	if err != nil {
		return err
	}
	if err := w.Store.InsertLedgerAudit(ctx, job.ID, "refund", p.EscrowAddr, p.Target, p.Flakes, txRef); err != nil {
		w.Log.Warnf("payment worker: audit refund transfer for job %s: %v", job.ID, err)
	}

	if p.TxRef != "" {
		if _, err := w.Store.MarkWagerRefunded(ctx, p.TxRef); err != nil {
			return err
		}
	}

	if err := cache.PublishAudit(ctx, cache.AuditRecord{
		Kind:   "refund_completed",
		Wallet: p.Target,
		Escrow: p.EscrowAddr,
		Flakes: p.Flakes,
		TxRef:  p.TxRef,
	}); err != nil {
		w.Log.Warnf("payment worker: publish refund audit: %v", err)
	}
	return nil
}

type errUnknownKind models.JobKind

func (e errUnknownKind) Error() string {
	return "unknown payment job kind: " + string(e)
}
