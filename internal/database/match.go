// internal/database/match.go
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ringfall/ringfall/internal/models"
)

// InsertMatch persists a freshly started match as active.
func (s *Store) InsertMatch(ctx context.Context, rec *models.MatchRecord) error {
	roster, err := json.Marshal(rec.Roster)
	if err != nil {
		return fmt.Errorf("marshal roster: %w", err)
	}
	q := `
	INSERT INTO matches (id, lobby_id, roster, status, started_at)
	VALUES ($1, $2, $3, $4, $5)
	`
	_, err = s.pool.Exec(ctx, q, rec.ID, rec.LobbyID, roster, models.MatchActive, rec.StartedAt)
	if err != nil {
		return fmt.Errorf("insert match: %w", err)
	}
	return nil
}

// FinishMatch conditionally moves an active match to its terminal status.
// Returns false when the match was already finished (by this process, a
// peer instance, or the stale sweep).
func (s *Store) FinishMatch(ctx context.Context, id uuid.UUID, status models.MatchStatus, winner string) (bool, error) {
	q := `
	UPDATE matches
	SET status = $1, winner = NULLIF($2, ''), finished_at = now()
	WHERE id = $3 AND status = $4
	`
	tag, err := s.pool.Exec(ctx, q, status, winner, id, models.MatchActive)
	if err != nil {
		return false, fmt.Errorf("finish match %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// StaleMatches returns matches still persisted as active whose start time
// is older than the cutoff, implying the owning process crashed before
// settlement.
func (s *Store) StaleMatches(ctx context.Context, olderThan time.Time) ([]models.MatchRecord, error) {
	q := `
	SELECT id, lobby_id, roster, status, COALESCE(winner, ''), started_at
	FROM matches
	WHERE status = $1 AND started_at < $2
	ORDER BY started_at
	`
	rows, err := s.pool.Query(ctx, q, models.MatchActive, olderThan)
	if err != nil {
		return nil, fmt.Errorf("query stale matches: %w", err)
	}
	defer rows.Close()

	var matches []models.MatchRecord
	for rows.Next() {
		var (
			rec    models.MatchRecord
			roster []byte
		)
		if err := rows.Scan(&rec.ID, &rec.LobbyID, &roster, &rec.Status, &rec.Winner, &rec.StartedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(roster, &rec.Roster); err != nil {
			return nil, fmt.Errorf("unmarshal roster for match %s: %w", rec.ID, err)
		}
		matches = append(matches, rec)
	}
	return matches, rows.Err()
}
