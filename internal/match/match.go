// internal/match/match.go

// Package match owns the in-memory snapshots of started matches: player
// runtime state, elimination tracking, winner detection, and the handoff
// to settlement. A finished match is removed from the live set and never
// mutated again.
package match

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ringfall/ringfall/internal/lobby"
	"github.com/ringfall/ringfall/internal/models"
)

// SpawnRadius is the distance from ring center at which players spawn,
// evenly spaced.
const SpawnRadius = 8.0

// PlayerStatus tracks whether a roster member is still in the match.
type PlayerStatus string

const (
	StatusIn  PlayerStatus = "in"
	StatusOut PlayerStatus = "out"
)

// RuntimeState is the last known world state for one roster member.
type RuntimeState struct {
	Position    models.Vec3
	Orientation models.Quat
	Status      PlayerStatus
	LastUpdate  time.Time
}

// ActiveMatch is a live match. The roster and per-player committed
// amounts are immutable after start; only runtime state and the
// eliminated set change.
type ActiveMatch struct {
	ID          uuid.UUID
	LobbyID     string
	GameMode    string
	WagerAmount decimal.Decimal
	Seed        int64

	Roster     []models.RosterEntry
	Runtime    map[string]*RuntimeState
	Eliminated map[string]bool
	Conns      map[string]*lobby.Conn

	StartedAt time.Time
	finished  bool
}

// spawnPositions places n players evenly around the ring.
func spawnPositions(n int) []models.Vec3 {
	positions := make([]models.Vec3, n)
	for i := 0; i < n; i++ {
		angle := 2 * math.Pi * float64(i) / float64(n)
		positions[i] = models.Vec3{
			X: SpawnRadius * math.Cos(angle),
			Y: 0,
			Z: SpawnRadius * math.Sin(angle),
		}
	}
	return positions
}

// survivors returns the roster members not yet eliminated.
func (m *ActiveMatch) survivors() []string {
	var alive []string
	for _, entry := range m.Roster {
		if !m.Eliminated[entry.Wallet] {
			alive = append(alive, entry.Wallet)
		}
	}
	return alive
}

// broadcast sends msg to every connected participant.
func (m *ActiveMatch) broadcast(msg map[string]interface{}) {
	for _, c := range m.Conns {
		c.Write(msg)
	}
}

// startPayload builds the match_start message.
func (m *ActiveMatch) startPayload() map[string]interface{} {
	players := make([]map[string]interface{}, 0, len(m.Roster))
	for _, entry := range m.Roster {
		rt := m.Runtime[entry.Wallet]
		players = append(players, map[string]interface{}{
			"wallet":       entry.Wallet,
			"display_name": entry.DisplayName,
			"synthetic":    entry.Synthetic,
			"position":     rt.Position,
		})
	}
	return map[string]interface{}{
		"type":             "match_start",
		"match_id":         m.ID.String(),
		"seed":             m.Seed,
		"players":          players,
		"wager_amount":     m.WagerAmount,
		"game_mode":        m.GameMode,
		"server_timestamp": time.Now().UnixMilli(),
	}
}

// statePayload builds the periodic full-state broadcast.
func (m *ActiveMatch) statePayload() map[string]interface{} {
	players := make([]map[string]interface{}, 0, len(m.Roster))
	for _, entry := range m.Roster {
		rt := m.Runtime[entry.Wallet]
		players = append(players, map[string]interface{}{
			"wallet":      entry.Wallet,
			"position":    rt.Position,
			"orientation": rt.Orientation,
			"status":      rt.Status,
		})
	}
	return map[string]interface{}{
		"type":     "match_state",
		"match_id": m.ID.String(),
		"players":  players,
	}
}
