// internal/jobs/worker_test.go
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ringfall/ringfall/internal/ledger"
	"github.com/ringfall/ringfall/internal/models"
)

// fakeLedger records submitted transfers and can be scripted to fail.
type fakeLedger struct {
	mu        sync.Mutex
	transfers []transfer
	failNext  int
	seq       int
}

type transfer struct {
	From   string
	To     string
	Flakes int64
}

func (f *fakeLedger) TxEffects(_ context.Context, _ string) (*ledger.TxEffect, error) {
	return nil, ledger.ErrTxNotFound
}

func (f *fakeLedger) SubmitTransfer(_ context.Context, from, to string, flakes int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return "", errors.New("ledger node unavailable")
	}
	f.transfers = append(f.transfers, transfer{from, to, flakes})
	f.seq++
	return fmt.Sprintf("SETTLE_TX_%d", f.seq), nil
}

func (f *fakeLedger) sent() []transfer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transfer(nil), f.transfers...)
}

func testWorker(store *memStore, lgr *fakeLedger) *Worker {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return &Worker{
		Store:       store,
		Ledger:      lgr,
		Log:         log,
		HouseWallet: "HOUSE",
		HouseCutPct: decimal.RequireFromString("0.05"),
		MaxAttempts: 3,
		BatchSize:   10,
	}
}

func TestWorkerPayoutSplitsHouseCut(t *testing.T) {
	store := newMemStore()
	lgr := &fakeLedger{}
	w := testWorker(store, lgr)
	ctx := context.Background()

	q := NewQueue(store)
	id, err := q.Enqueue(ctx, models.JobPayout, models.JobPayload{
		MatchID: "M1", EscrowAddr: "E1", Target: "W_WINNER", Flakes: 1000,
	}, "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	w.Sweep(ctx)

	sent := lgr.sent()
	if len(sent) != 2 {
		t.Fatalf("expected winner + house transfers, got %d", len(sent))
	}
	if sent[0].To != "W_WINNER" || sent[0].Flakes != 950 {
		t.Fatalf("winner transfer mismatch: %+v", sent[0])
	}
	if sent[1].To != "HOUSE" || sent[1].Flakes != 50 {
		t.Fatalf("house transfer mismatch: %+v", sent[1])
	}
	if sent[0].From != "E1" || sent[1].From != "E1" {
		t.Fatal("payout must come out of the escrow that was paid into")
	}
	if got := store.job(id).Status; got != models.JobCompleted {
		t.Fatalf("job status = %s, want completed", got)
	}
}

func TestWorkerPayoutNoWinnerNoTransfer(t *testing.T) {
	store := newMemStore()
	lgr := &fakeLedger{}
	w := testWorker(store, lgr)
	ctx := context.Background()

	q := NewQueue(store)
	id, err := q.Enqueue(ctx, models.JobPayout, models.JobPayload{
		MatchID: "M1", EscrowAddr: "E1", Flakes: 1000,
	}, "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	w.Sweep(ctx)

	// No winner target: only the house share moves, the rest stays in
	// escrow for operator reconciliation.
	sent := lgr.sent()
	if len(sent) != 1 || sent[0].To != "HOUSE" || sent[0].Flakes != 50 {
		t.Fatalf("expected only the house transfer, got %+v", sent)
	}
	if got := store.job(id).Status; got != models.JobCompleted {
		t.Fatalf("job status = %s, want completed", got)
	}
}

func TestWorkerRefundMarksWagerRefunded(t *testing.T) {
	store := newMemStore()
	lgr := &fakeLedger{}
	w := testWorker(store, lgr)
	ctx := context.Background()

	q := NewQueue(store)
	id, err := q.Enqueue(ctx, models.JobRefund, models.JobPayload{
		EscrowAddr: "E1", Target: "W_ALICE", Flakes: 250_000_000, TxRef: "TX1",
	}, "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	w.Sweep(ctx)

	sent := lgr.sent()
	if len(sent) != 1 || sent[0].To != "W_ALICE" || sent[0].Flakes != 250_000_000 {
		t.Fatalf("refund transfer mismatch: %+v", sent)
	}
	store.mu.Lock()
	refunded := store.refunded["TX1"]
	store.mu.Unlock()
	if !refunded {
		t.Fatal("originating wager event not flipped to refunded")
	}
	if got := store.job(id).Status; got != models.JobCompleted {
		t.Fatalf("job status = %s, want completed", got)
	}
}

func TestWorkerRetriesThenFailsTerminally(t *testing.T) {
	store := newMemStore()
	lgr := &fakeLedger{failNext: 100}
	w := testWorker(store, lgr)
	ctx := context.Background()

	q := NewQueue(store)
	id, err := q.Enqueue(ctx, models.JobRefund, models.JobPayload{
		EscrowAddr: "E1", Target: "W_ALICE", Flakes: 100, TxRef: "TX1",
	}, "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	for i := 0; i < w.MaxAttempts; i++ {
		if got := store.job(id).Status; got != models.JobPending {
			t.Fatalf("before sweep %d: status = %s, want pending", i+1, got)
		}
		w.Sweep(ctx)
	}

	job := store.job(id)
	if job.Status != models.JobFailed {
		t.Fatalf("job status = %s, want failed after %d attempts", job.Status, w.MaxAttempts)
	}
	if job.Attempts != w.MaxAttempts {
		t.Fatalf("attempts = %d, want %d", job.Attempts, w.MaxAttempts)
	}
	if job.LastError == "" {
		t.Fatal("terminal job should retain its last error")
	}

	// A failed job is terminal: further sweeps must not touch it.
	w.Sweep(ctx)
	if got := store.job(id).Attempts; got != w.MaxAttempts {
		t.Fatalf("failed job was retried: attempts = %d", got)
	}
}

func TestWorkerSkipsLostClaims(t *testing.T) {
	store := newMemStore()
	lgr := &fakeLedger{}
	w := testWorker(store, lgr)
	ctx := context.Background()

	q := NewQueue(store)
	id, err := q.Enqueue(ctx, models.JobRefund, models.JobPayload{
		EscrowAddr: "E1", Target: "W_ALICE", Flakes: 100, TxRef: "TX1",
	}, "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Another instance claims the job between the read and our claim.
	store.mu.Lock()
	store.jobs[id].Status = models.JobProcessing
	store.mu.Unlock()

	w.Sweep(ctx)
	if len(lgr.sent()) != 0 {
		t.Fatal("worker executed a job whose claim it lost")
	}
}
