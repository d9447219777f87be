// internal/database/wager.go
package database

import (
	"context"
	"fmt"

	"github.com/ringfall/ringfall/internal/models"
)

// InsertWagerEvent records a locked wager. The transfer reference is the
// natural key: the same on-chain transfer can never lock two wagers.
func (s *Store) InsertWagerEvent(ctx context.Context, ev *models.WagerEvent) error {
	q := `
	INSERT INTO wager_events (id, lobby_id, wallet, amount, tx_ref, escrow_addr, status, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, now())
	ON CONFLICT (tx_ref) DO NOTHING
	`
	_, err := s.pool.Exec(ctx, q, ev.ID, ev.LobbyID, ev.Wallet, ev.Amount, ev.TxRef, ev.EscrowAddr, ev.Status)
	if err != nil {
		return fmt.Errorf("insert wager event: %w", err)
	}
	return nil
}

// MarkWagerRefunded flips a locked wager to refunded. Conditional on the
// current status so a double-running refund job is a no-op the second time.
func (s *Store) MarkWagerRefunded(ctx context.Context, txRef string) (bool, error) {
	q := `
	UPDATE wager_events
	SET status = $1
	WHERE tx_ref = $2 AND status = $3
	`
	tag, err := s.pool.Exec(ctx, q, models.WagerRefunded, txRef, models.WagerLocked)
	if err != nil {
		return false, fmt.Errorf("mark wager refunded: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// LockedWagersForLobby returns the still-locked wager events for a lobby,
// used by the stale-match sweep to re-derive each wallet's escrow address.
func (s *Store) LockedWagersForLobby(ctx context.Context, lobbyID string) ([]models.WagerEvent, error) {
	q := `
	SELECT id, lobby_id, wallet, amount, tx_ref, escrow_addr, status, created_at
	FROM wager_events
	WHERE lobby_id = $1 AND status = $2
	ORDER BY created_at
	`
	rows, err := s.pool.Query(ctx, q, lobbyID, models.WagerLocked)
	if err != nil {
		return nil, fmt.Errorf("query locked wagers: %w", err)
	}
	defer rows.Close()

	var events []models.WagerEvent
	for rows.Next() {
		var ev models.WagerEvent
		if err := rows.Scan(&ev.ID, &ev.LobbyID, &ev.Wallet, &ev.Amount, &ev.TxRef, &ev.EscrowAddr, &ev.Status, &ev.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
