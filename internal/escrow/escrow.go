// internal/escrow/escrow.go

// Package escrow owns the two rotating wager-custody wallets. Rotation
// decouples "who gets paid into" from "who gets paid out of": settlement
// always targets the address recorded at wager-confirmation time, so an
// in-flight payout is never invalidated by a rotation.
package escrow

import (
	"context"
	"fmt"

	"github.com/ringfall/ringfall/internal/models"
)

// WalletStore is the persistence surface for the wallet singleton. The
// conditional SetActive is the only write path for the active pointer.
type WalletStore interface {
	GetEscrowWallets(ctx context.Context) (models.EscrowWallets, error)
	SetActiveEscrow(ctx context.Context, from, to string) (bool, error)
}

// Store exposes the narrow get-active / rotate / set-active surface.
type Store struct {
	db WalletStore
}

// New builds a Store over the given persistence.
func New(db WalletStore) *Store {
	return &Store{db: db}
}

// GetActive returns the wallet address currently accepting wagers.
func (s *Store) GetActive(ctx context.Context) (string, error) {
	w, err := s.db.GetEscrowWallets(ctx)
	if err != nil {
		return "", err
	}
	return w.ActiveAddr(), nil
}

// GetAll returns both addresses plus the active pointer, for verification
// and reconciliation.
func (s *Store) GetAll(ctx context.Context) (models.EscrowWallets, error) {
	return s.db.GetEscrowWallets(ctx)
}

// Rotate flips the active wallet A<->B via one conditional update and
// returns the new active address. Loses gracefully to a concurrent
// rotation: the caller gets the winner's result either way.
func (s *Store) Rotate(ctx context.Context) (string, error) {
	w, err := s.db.GetEscrowWallets(ctx)
	if err != nil {
		return "", err
	}
	target := "A"
	if w.Active == "A" {
		target = "B"
	}
	if _, err := s.db.SetActiveEscrow(ctx, w.Active, target); err != nil {
		return "", err
	}
	// Re-read rather than trusting our CAS: if a concurrent rotation won,
	// the stored pointer is still the truth.
	after, err := s.db.GetEscrowWallets(ctx)
	if err != nil {
		return "", err
	}
	return after.ActiveAddr(), nil
}

// SetActive forces the active pointer to the named slot ("A" or "B").
// Operator surface only.
func (s *Store) SetActive(ctx context.Context, slot string) error {
	if slot != "A" && slot != "B" {
		return fmt.Errorf("invalid wallet slot %q", slot)
	}
	w, err := s.db.GetEscrowWallets(ctx)
	if err != nil {
		return err
	}
	if w.Active == slot {
		return nil
	}
	if _, err := s.db.SetActiveEscrow(ctx, w.Active, slot); err != nil {
		return err
	}
	return nil
}
