// internal/match/manager.go
package match

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ringfall/ringfall/internal/lobby"
	"github.com/ringfall/ringfall/internal/metrics"
	"github.com/ringfall/ringfall/internal/models"
)

// ErrMatchNotFound indicates the match id is not in the live set.
var ErrMatchNotFound = errors.New("match not found")

// Store is the persistence surface the manager needs.
type Store interface {
	InsertMatch(ctx context.Context, rec *models.MatchRecord) error
	FinishMatch(ctx context.Context, id uuid.UUID, status models.MatchStatus, winner string) (bool, error)
	StaleMatches(ctx context.Context, olderThan time.Time) ([]models.MatchRecord, error)
	LockedWagersForLobby(ctx context.Context, lobbyID string) ([]models.WagerEvent, error)
}

// Enqueuer is the payment queue surface for payouts and sweep refunds.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind models.JobKind, payload models.JobPayload, key string) (uuid.UUID, error)
}

// Manager owns the live match set and its tick loops. All mutation of
// live matches goes through the manager's lock; elimination checks run
// synchronously with each position update, so sole-survivor detection
// cannot race with itself within a match.
type Manager struct {
	mu   sync.Mutex
	live map[uuid.UUID]*ActiveMatch

	store Store
	queue Enqueuer
	log   *logrus.Logger

	EliminationY float64
	Tick         time.Duration

	StaleTimeout  time.Duration
	SweepInterval time.Duration
}

// NewManager builds a Manager.
func NewManager(store Store, queue Enqueuer, log *logrus.Logger, eliminationY float64, tick, staleTimeout, sweepInterval time.Duration) *Manager {
	return &Manager{
		live:          make(map[uuid.UUID]*ActiveMatch),
		store:         store,
		queue:         queue,
		log:           log,
		EliminationY:  eliminationY,
		Tick:          tick,
		StaleTimeout:  staleTimeout,
		SweepInterval: sweepInterval,
	}
}

// Start takes the lobby's roster snapshot, spawns runtime state, persists
// the active match record, and broadcasts match_start. Wired as the
// registry's OnMatchStart callback.
func (mgr *Manager) Start(info models.LobbyInfo, roster []models.RosterEntry, conns map[string]*lobby.Conn) {
	m := &ActiveMatch{
		ID:          uuid.New(),
		LobbyID:     info.ID,
		GameMode:    info.GameMode,
		WagerAmount: info.WagerAmount,
		Seed:        rand.Int63(),
		Roster:      roster,
		Runtime:     make(map[string]*RuntimeState, len(roster)),
		Eliminated:  make(map[string]bool),
		Conns:       conns,
		StartedAt:   time.Now(),
	}
	for i, pos := range spawnPositions(len(roster)) {
		m.Runtime[roster[i].Wallet] = &RuntimeState{
			Position:   pos,
			Status:     StatusIn,
			LastUpdate: m.StartedAt,
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec := &models.MatchRecord{
		ID:        m.ID,
		LobbyID:   m.LobbyID,
		Roster:    roster,
		Status:    models.MatchActive,
		StartedAt: m.StartedAt,
	}
	if err := mgr.store.InsertMatch(ctx, rec); err != nil {
		// Without the active record the stale sweep cannot reconcile this
		// match after a crash. Keep playing; settlement still works while
		// this process lives.
		mgr.log.Errorf("match %s: persist active record: %v", m.ID, err)
	}

	mgr.mu.Lock()
	mgr.live[m.ID] = m
	mgr.mu.Unlock()

	m.broadcast(m.startPayload())
	mgr.log.WithFields(logrus.Fields{
		"match":   m.ID,
		"lobby":   m.LobbyID,
		"players": len(roster),
	}).Info("match started")
}

// ApplyPositionUpdate ingests one player's position/orientation. Crossing
// the elimination threshold flips the player to Out exactly once; when a
// sole survivor remains, settlement is triggered immediately.
func (mgr *Manager) ApplyPositionUpdate(matchID uuid.UUID, wallet string, pos models.Vec3, orient models.Quat) error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	m, ok := mgr.live[matchID]
	if !ok {
		return ErrMatchNotFound
	}
	rt, ok := m.Runtime[wallet]
	if !ok {
		return ErrMatchNotFound
	}

	rt.Position = pos
	rt.Orientation = orient
	rt.LastUpdate = time.Now()

	if rt.Status == StatusIn && pos.Y < mgr.EliminationY {
		rt.Status = StatusOut
		m.Eliminated[wallet] = true
		metrics.Eliminations.Inc()
		m.broadcast(map[string]interface{}{
			"type":      "player_eliminated",
			"match_id":  m.ID.String(),
			"player_id": wallet,
		})
		mgr.log.Infof("match %s: %s eliminated", m.ID, wallet)

		switch alive := m.survivors(); len(alive) {
		case 1:
			mgr.finishUnsafe(m, alive[0])
		case 0:
			// Simultaneous elimination of the last two: no winner, the
			// match is recorded cancelled and operators may intervene.
			mgr.finishUnsafe(m, "")
		}
	}
	return nil
}

// Finish settles a match with the given winner (empty for a cancelled,
// no-winner settlement). Idempotent: finishing an already-finished match
// is a no-op.
func (mgr *Manager) Finish(matchID uuid.UUID, winner string) error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	m, ok := mgr.live[matchID]
	if !ok {
		// Already finished (or never ours): no-op by design.
		return nil
	}
	mgr.finishUnsafe(m, winner)
	return nil
}

// ReportResult handles a client-reported match_result: trusted only when
// the reported winner is in fact the sole un-eliminated roster member.
func (mgr *Manager) ReportResult(matchID uuid.UUID, winner string) error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	m, ok := mgr.live[matchID]
	if !ok {
		return nil
	}
	alive := m.survivors()
	if len(alive) != 1 || alive[0] != winner {
		mgr.log.Warnf("match %s: ignoring client-reported winner %s (survivors: %d)", matchID, winner, len(alive))
		return nil
	}
	mgr.finishUnsafe(m, winner)
	return nil
}

// finishUnsafe performs settlement: one payout job per escrow address the
// pot was collected into (the idempotency key is match id + escrow
// address, so a duplicate finish can never double-pay), the terminal
// status CAS in persistence, and the match_finished broadcast. Assumes
// lock is held.
func (mgr *Manager) finishUnsafe(m *ActiveMatch, winner string) {
	if m.finished {
		return
	}
	m.finished = true
	delete(mgr.live, m.ID)

	status := models.MatchCancelled
	if winner != "" {
		status = models.MatchCompleted
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if winner != "" {
		// A lobby funded across a rotated wallet boundary produces one pot
		// per escrow address; each pot pays out of the wallet it sits in.
		pots := make(map[string]int64)
		for _, entry := range m.Roster {
			if entry.EscrowAddr == "" || entry.Amount.IsZero() {
				continue
			}
			pots[entry.EscrowAddr] += models.ToFlakes(entry.Amount)
		}
		for escrowAddr, pot := range pots {
			_, err := mgr.queue.Enqueue(ctx, models.JobPayout, models.JobPayload{
				EscrowAddr: escrowAddr,
				Target:     winner,
				Flakes:     pot,
				MatchID:    m.ID.String(),
			}, "")
			if err != nil {
				mgr.log.Errorf("match %s: enqueue payout from %s: %v", m.ID, escrowAddr, err)
			}
		}
	}

	if _, err := mgr.store.FinishMatch(ctx, m.ID, status, winner); err != nil {
		mgr.log.Errorf("match %s: persist terminal status: %v", m.ID, err)
	}

	m.broadcast(map[string]interface{}{
		"type":     "match_finished",
		"match_id": m.ID.String(),
		"winner":   winner,
	})
	metrics.MatchesFinished.Inc()
	mgr.log.WithFields(logrus.Fields{
		"match":  m.ID,
		"status": status,
		"winner": winner,
	}).Info("match finished")
}

// Run drives the movement/broadcast tick and the stale-match sweep until
// ctx is done.
func (mgr *Manager) Run(ctx context.Context) {
	tick := time.NewTicker(mgr.Tick)
	sweep := time.NewTicker(mgr.SweepInterval)
	defer tick.Stop()
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			mgr.tickLive()
		case <-sweep.C:
			mgr.SweepStale(ctx)
		}
	}
}

// tickLive runs filler movement and the periodic full-state broadcast for
// every live match.
func (mgr *Manager) tickLive() {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	for _, m := range mgr.live {
		for _, entry := range m.Roster {
			if !entry.Synthetic {
				continue
			}
			rt := m.Runtime[entry.Wallet]
			if rt.Status != StatusIn {
				continue
			}
			stepFiller(rt)
		}
		m.broadcast(m.statePayload())
	}
}

// stepFiller advances a synthetic player one step of a biased random
// walk. The inward bias grows with distance from center, keeping fillers
// away from the ring edge.
func stepFiller(rt *RuntimeState) {
	const stepSize = 0.4
	x, z := rt.Position.X, rt.Position.Z
	dist := math.Hypot(x, z)

	dx := (rand.Float64()*2 - 1) * stepSize
	dz := (rand.Float64()*2 - 1) * stepSize
	if dist > 0.5 {
		bias := stepSize * (dist / SpawnRadius)
		dx -= bias * x / dist
		dz -= bias * z / dist
	}
	rt.Position.X += dx
	rt.Position.Z += dz
	rt.LastUpdate = time.Now()
}

// SweepStale reconciles matches orphaned by a process crash: any match
// persisted as active past the timeout has its locked wagers refunded
// (keyed by the original transfers, so a sweep running twice cannot
// double-refund) and is marked cancelled.
func (mgr *Manager) SweepStale(ctx context.Context) {
	cutoff := time.Now().Add(-mgr.StaleTimeout)
	stale, err := mgr.store.StaleMatches(ctx, cutoff)
	if err != nil {
		mgr.log.Warnf("stale sweep: list matches: %v", err)
		return
	}

	for _, rec := range stale {
		mgr.mu.Lock()
		_, owned := mgr.live[rec.ID]
		mgr.mu.Unlock()
		if owned {
			// Still live in this process; not orphaned, just long.
			continue
		}

		// The roster snapshot does not carry per-wallet escrow addresses
		// for crashed matches; replay the lobby's locked wager events to
		// re-derive them.
		events, err := mgr.store.LockedWagersForLobby(ctx, rec.LobbyID)
		if err != nil {
			mgr.log.Warnf("stale sweep: wagers for lobby %s: %v", rec.LobbyID, err)
			continue
		}
		byWallet := make(map[string]models.WagerEvent, len(events))
		for _, ev := range events {
			byWallet[ev.Wallet] = ev
		}

		for _, entry := range rec.Roster {
			if entry.Synthetic {
				continue
			}
			ev, ok := byWallet[entry.Wallet]
			if !ok {
				continue
			}
			_, err := mgr.queue.Enqueue(ctx, models.JobRefund, models.JobPayload{
				EscrowAddr: ev.EscrowAddr,
				Target:     ev.Wallet,
				Flakes:     models.ToFlakes(ev.Amount),
				TxRef:      ev.TxRef,
			}, "")
			if err != nil {
				mgr.log.Errorf("stale sweep: enqueue refund for %s: %v", ev.Wallet, err)
			}
		}

		if _, err := mgr.store.FinishMatch(ctx, rec.ID, models.MatchCancelled, ""); err != nil {
			mgr.log.Errorf("stale sweep: cancel match %s: %v", rec.ID, err)
			continue
		}
		mgr.log.Infof("stale sweep: match %s cancelled, %d wagers queued for refund", rec.ID, len(rec.Roster))
	}
}
