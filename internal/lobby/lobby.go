// internal/lobby/lobby.go

// Package lobby holds the in-memory authoritative pre-match state: who is
// in each lobby, who is ready, whose wager is locked, and the countdown
// that turns a full-enough lobby into a match. Persistence is a
// write-behind mirror; the maps here are the source of truth while the
// process lives.
package lobby

import (
	"sync"
	"time"

	"github.com/ringfall/ringfall/internal/models"
)

// Lobby is one catalog entry's live state. Created once at process start,
// mutated continuously, never destroyed: match start resets it to empty
// WAITING.
type Lobby struct {
	Info models.LobbyInfo

	// Players maps identity -> authoritative per-occupant state.
	Players map[string]*models.PlayerState
	// Conns holds the live realtime connections for occupants. Synthetic
	// fillers have no connection.
	Conns map[string]*Conn

	// Countdown is nil in WAITING, else the seconds remaining.
	Countdown *int

	fillerTimer *time.Timer

	Mu sync.Mutex
}

func newLobby(info models.LobbyInfo) *Lobby {
	return &Lobby{
		Info:    info,
		Players: make(map[string]*models.PlayerState),
		Conns:   make(map[string]*Conn),
	}
}

// Status reports the state machine phase. Assumes lock is held.
func (l *Lobby) statusUnsafe() models.LobbyStatus {
	if l.Countdown != nil {
		return models.LobbyCountdown
	}
	return models.LobbyWaiting
}

// readyCountUnsafe counts ready occupants. Assumes lock is held.
func (l *Lobby) readyCountUnsafe() int {
	n := 0
	for _, p := range l.Players {
		if p.Ready {
			n++
		}
	}
	return n
}

// realReadyUnsafe reports whether at least one non-synthetic occupant is
// ready. Assumes lock is held.
func (l *Lobby) realReadyUnsafe() bool {
	for _, p := range l.Players {
		if p.Ready && !p.Synthetic {
			return true
		}
	}
	return false
}

// allLockedUnsafe reports whether every occupant has a locked wager.
// Assumes lock is held. Trivially true for free lobbies, where joining
// locks automatically.
func (l *Lobby) allLockedUnsafe() bool {
	for _, p := range l.Players {
		if !p.WagerLocked {
			return false
		}
	}
	return true
}

// quorumUnsafe is the countdown gate: a majority of current occupants
// ready, and (free lobby or every occupant wager-locked). Majority rather
// than unanimity so a single unready occupant cannot grief the room.
// Assumes lock is held.
func (l *Lobby) quorumUnsafe() bool {
	occ := len(l.Players)
	if occ < 2 {
		return false
	}
	needed := (occ + 1) / 2 // ceil(occ/2)
	if l.readyCountUnsafe() < needed {
		return false
	}
	return l.Info.Free() || l.allLockedUnsafe()
}

// cancelFillerUnsafe clears a pending filler timer. Assumes lock is held.
func (l *Lobby) cancelFillerUnsafe() {
	if l.fillerTimer != nil {
		l.fillerTimer.Stop()
		l.fillerTimer = nil
	}
}

// broadcastUnsafe sends msg to every connected occupant. Assumes lock is
// held; Conn.Write never blocks.
func (l *Lobby) broadcastUnsafe(msg map[string]interface{}) {
	for _, c := range l.Conns {
		c.Write(msg)
	}
}

// statePayloadUnsafe builds the lobby_state broadcast. Assumes lock is held.
func (l *Lobby) statePayloadUnsafe() map[string]interface{} {
	players := make([]map[string]interface{}, 0, len(l.Players))
	for _, p := range l.Players {
		players = append(players, map[string]interface{}{
			"identity":     p.Identity,
			"display_name": p.DisplayName,
			"ready":        p.Ready,
			"wager_locked": p.WagerLocked,
			"synthetic":    p.Synthetic,
		})
	}
	payload := map[string]interface{}{
		"type":         "lobby_state",
		"lobby_id":     l.Info.ID,
		"status":       l.statusUnsafe(),
		"capacity":     l.Info.Capacity,
		"wager_amount": l.Info.WagerAmount,
		"players":      players,
	}
	if l.Countdown != nil {
		payload["countdown"] = *l.Countdown
	}
	return payload
}

// broadcastStateUnsafe broadcasts the current lobby_state. Assumes lock is held.
func (l *Lobby) broadcastStateUnsafe() {
	l.broadcastUnsafe(l.statePayloadUnsafe())
}
