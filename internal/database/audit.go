// internal/database/audit.go
package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// InsertLedgerAudit records one executed settlement transfer: a winner
// share, a house share, or a refund. Purely observational; the payment job
// row remains the authority on whether settlement happened.
func (s *Store) InsertLedgerAudit(ctx context.Context, jobID uuid.UUID, kind, from, to string, flakes int64, txRef string) error {
	q := `
	INSERT INTO ledger_audit (job_id, kind, from_addr, to_addr, flakes, tx_ref, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, now())
	`
	_, err := s.pool.Exec(ctx, q, jobID, kind, from, to, flakes, txRef)
	if err != nil {
		return fmt.Errorf("insert ledger audit: %w", err)
	}
	return nil
}
