// internal/ledger/verify.go
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ringfall/ringfall/internal/models"
)

var (
	// ErrParticipantsMismatch indicates neither the payer nor a known escrow
	// wallet appears in the transaction's participants.
	ErrParticipantsMismatch = errors.New("transaction participants do not match wager")
	// ErrAmountMismatch indicates the escrow wallet's balance did not
	// increase by exactly the lobby's wager amount.
	ErrAmountMismatch = errors.New("transaction amount does not match wager")
)

// EscrowResolver yields the current pair of escrow candidate addresses.
// Both wallets are candidates because a rotation may race the client's
// transfer.
type EscrowResolver interface {
	GetAll(ctx context.Context) (models.EscrowWallets, error)
}

// Verifier checks a claimed wager transfer against the ledger's confirmed
// effects.
type Verifier struct {
	Ledger Client
	Escrow EscrowResolver
}

// VerifyWager fetches the claimed transfer and accepts it iff one of the
// escrow candidates received exactly the expected amount. It returns the
// escrow address that was actually credited; callers must store it
// verbatim, because the wallets rotate and settlement has to pay out of
// the wallet that was paid into.
//
// The payer's own delta is not checked for exact equality: it also covers
// network fees.
func (v *Verifier) VerifyWager(ctx context.Context, payer string, expected decimal.Decimal, txRef string) (string, error) {
	effect, err := v.Ledger.TxEffects(ctx, txRef)
	if err != nil {
		if errors.Is(err, ErrTxNotFound) {
			return "", ErrTxNotFound
		}
		return "", fmt.Errorf("fetch tx effects: %w", err)
	}

	wallets, err := v.Escrow.GetAll(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve escrow wallets: %w", err)
	}

	var (
		payerSeen  bool
		escrowSeen bool
	)
	expectedFlakes := models.ToFlakes(expected)
	for _, p := range effect.Participants {
		if p.Address == payer {
			payerSeen = true
			continue
		}
		for _, cand := range wallets.Candidates() {
			if p.Address != cand {
				continue
			}
			escrowSeen = true
			if p.Delta == expectedFlakes {
				return p.Address, nil
			}
		}
	}

	if !payerSeen && !escrowSeen {
		return "", ErrParticipantsMismatch
	}
	return "", ErrAmountMismatch
}
