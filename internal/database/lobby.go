// internal/database/lobby.go
package database

import (
	"context"
	"fmt"

	"github.com/ringfall/ringfall/internal/models"
)

// UpsertLobby mirrors a catalog entry into persistence at startup. Lobbies
// exist for the process lifetime; persistence only keeps the catalog row
// for foreign keys and reporting.
func (s *Store) UpsertLobby(ctx context.Context, info models.LobbyInfo) error {
	q := `
	INSERT INTO lobbies (id, name, capacity, wager_amount, game_mode)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (id) DO UPDATE
	SET name = $2, capacity = $3, wager_amount = $4, game_mode = $5
	`
	_, err := s.pool.Exec(ctx, q, info.ID, info.Name, info.Capacity, info.WagerAmount, info.GameMode)
	if err != nil {
		return fmt.Errorf("upsert lobby %s: %w", info.ID, err)
	}
	return nil
}

// UpsertMember writes a lobby occupant's shadow record. The in-memory
// registry is authoritative; this is a write-behind mirror for audit and
// crash inspection.
func (s *Store) UpsertMember(ctx context.Context, lobbyID string, p models.PlayerState) error {
	q := `
	INSERT INTO lobby_members (lobby_id, identity, display_name, ready, wager_locked, synthetic, joined_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (lobby_id, identity) DO UPDATE
	SET display_name = $3, ready = $4, wager_locked = $5, synthetic = $6
	`
	_, err := s.pool.Exec(ctx, q, lobbyID, p.Identity, p.DisplayName, p.Ready, p.WagerLocked, p.Synthetic, p.JoinedAt)
	if err != nil {
		return fmt.Errorf("upsert member %s in %s: %w", p.Identity, lobbyID, err)
	}
	return nil
}

// DeleteMember removes an occupant's shadow record.
func (s *Store) DeleteMember(ctx context.Context, lobbyID, identity string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM lobby_members WHERE lobby_id = $1 AND identity = $2`,
		lobbyID, identity,
	)
	if err != nil {
		return fmt.Errorf("delete member %s from %s: %w", identity, lobbyID, err)
	}
	return nil
}

// ClearMembers empties a lobby's shadow records, used when the lobby
// resets to WAITING after a match starts.
func (s *Store) ClearMembers(ctx context.Context, lobbyID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM lobby_members WHERE lobby_id = $1`, lobbyID)
	if err != nil {
		return fmt.Errorf("clear members of %s: %w", lobbyID, err)
	}
	return nil
}
