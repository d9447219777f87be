// internal/database/escrow.go
package database

import (
	"context"
	"fmt"

	"github.com/ringfall/ringfall/internal/models"
)

// GetEscrowWallets reads the two-wallet singleton.
func (s *Store) GetEscrowWallets(ctx context.Context) (models.EscrowWallets, error) {
	var w models.EscrowWallets
	q := `SELECT addr_a, addr_b, active FROM escrow_wallets WHERE id = 1`
	err := s.pool.QueryRow(ctx, q).Scan(&w.AddrA, &w.AddrB, &w.Active)
	if err != nil {
		return models.EscrowWallets{}, fmt.Errorf("get escrow wallets: %w", err)
	}
	return w, nil
}

// SetActiveEscrow flips the active pointer, conditional on the currently
// observed value. A false return means a concurrent rotation won.
func (s *Store) SetActiveEscrow(ctx context.Context, from, to string) (bool, error) {
	q := `UPDATE escrow_wallets SET active = $1 WHERE id = 1 AND active = $2`
	tag, err := s.pool.Exec(ctx, q, to, from)
	if err != nil {
		return false, fmt.Errorf("set active escrow: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
