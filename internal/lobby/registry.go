// internal/lobby/registry.go
package lobby

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ringfall/ringfall/internal/cache"
	"github.com/ringfall/ringfall/internal/ledger"
	"github.com/ringfall/ringfall/internal/metrics"
	"github.com/ringfall/ringfall/internal/models"
)

var (
	// ErrLobbyNotFound indicates an unknown lobby id.
	ErrLobbyNotFound = errors.New("lobby not found")
	// ErrLobbyFull indicates the lobby is at capacity.
	ErrLobbyFull = errors.New("lobby is full")
	// ErrWagerRequired indicates a paid lobby occupant tried to ready up
	// before locking a wager.
	ErrWagerRequired = errors.New("wager must be locked before readying")
	// ErrNotInLobby indicates the caller is not an occupant.
	ErrNotInLobby = errors.New("player not in lobby")
	// ErrWagerAlreadyLocked indicates a second confirm for an
	// already-locked player. No de-duplication happens beyond this.
	ErrWagerAlreadyLocked = errors.New("wager already locked")
)

// Persister is the write-behind mirror for lobby state.
type Persister interface {
	UpsertMember(ctx context.Context, lobbyID string, p models.PlayerState) error
	DeleteMember(ctx context.Context, lobbyID, identity string) error
	ClearMembers(ctx context.Context, lobbyID string) error
	InsertWagerEvent(ctx context.Context, ev *models.WagerEvent) error
}

// Verifier checks a claimed wager transfer against the ledger.
type Verifier interface {
	VerifyWager(ctx context.Context, payer string, expected decimal.Decimal, txRef string) (string, error)
}

// Enqueuer is the payment queue surface the registry needs for refunds.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind models.JobKind, payload models.JobPayload, key string) (uuid.UUID, error)
}

// MatchStartFunc hands a started match to the match lifecycle manager:
// the immutable roster snapshot plus the live connections to keep
// broadcasting to.
type MatchStartFunc func(info models.LobbyInfo, roster []models.RosterEntry, conns map[string]*Conn)

// Registry owns the fixed lobby catalog and drives every lobby's state
// machine. One registry per process; lobbies are created at start and
// never destroyed.
type Registry struct {
	lobbies map[string]*Lobby
	order   []string

	persist Persister
	verify  Verifier
	queue   Enqueuer
	log     *logrus.Logger

	countdownStart int
	fillerDelay    time.Duration

	// OnMatchStart is invoked (without any lobby lock held) when a
	// countdown reaches zero.
	OnMatchStart MatchStartFunc
}

// NewRegistry builds the registry from the catalog.
func NewRegistry(catalog []models.LobbyInfo, persist Persister, verify Verifier, queue Enqueuer, countdownStart int, fillerDelay time.Duration, log *logrus.Logger) *Registry {
	r := &Registry{
		lobbies:        make(map[string]*Lobby, len(catalog)),
		persist:        persist,
		verify:         verify,
		queue:          queue,
		log:            log,
		countdownStart: countdownStart,
		fillerDelay:    fillerDelay,
	}
	for _, info := range catalog {
		r.lobbies[info.ID] = newLobby(info)
		r.order = append(r.order, info.ID)
	}
	return r
}

// Get returns a lobby by id.
func (r *Registry) Get(id string) (*Lobby, bool) {
	l, ok := r.lobbies[id]
	return l, ok
}

// Snapshot lists the catalog with live occupancy, for the HTTP surface.
func (r *Registry) Snapshot() []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(r.order))
	for _, id := range r.order {
		l := r.lobbies[id]
		l.Mu.Lock()
		out = append(out, map[string]interface{}{
			"id":           l.Info.ID,
			"name":         l.Info.Name,
			"capacity":     l.Info.Capacity,
			"wager_amount": l.Info.WagerAmount,
			"occupancy":    len(l.Players),
			"status":       l.statusUnsafe(),
		})
		l.Mu.Unlock()
	}
	return out
}

// Join adds a player to a lobby. Free lobbies auto-lock the wager on join.
func (r *Registry) Join(ctx context.Context, lobbyID string, conn *Conn) error {
	l, ok := r.lobbies[lobbyID]
	if !ok {
		return ErrLobbyNotFound
	}

	l.Mu.Lock()
	defer l.Mu.Unlock()

	if _, rejoin := l.Players[conn.Identity]; rejoin {
		// Reconnect: replace the live connection, keep all state.
		l.Conns[conn.Identity] = conn
		conn.Write(l.statePayloadUnsafe())
		return nil
	}
	if len(l.Players) >= l.Info.Capacity {
		return ErrLobbyFull
	}

	p := &models.PlayerState{
		Identity:    conn.Identity,
		DisplayName: conn.DisplayName,
		WagerLocked: l.Info.Free(),
		JoinedAt:    time.Now(),
	}
	l.Players[conn.Identity] = p
	l.Conns[conn.Identity] = conn

	r.persistMember(l.Info.ID, *p)
	metrics.LobbyJoins.Inc()
	l.broadcastStateUnsafe()
	return nil
}

// ConfirmWager verifies a claimed transfer and locks the caller's wager.
// The ledger call happens outside the lobby lock; the result is applied
// only if the player is still present when it resolves.
func (r *Registry) ConfirmWager(ctx context.Context, lobbyID, identity string, claimed decimal.Decimal, txRef string) error {
	l, ok := r.lobbies[lobbyID]
	if !ok {
		return ErrLobbyNotFound
	}

	l.Mu.Lock()
	p, present := l.Players[identity]
	if !present {
		l.Mu.Unlock()
		return ErrNotInLobby
	}
	if p.WagerLocked {
		l.Mu.Unlock()
		if l.Info.Free() {
			return nil
		}
		return ErrWagerAlreadyLocked
	}
	expected := l.Info.WagerAmount
	l.Mu.Unlock()

	if !claimed.Equal(expected) {
		return ledger.ErrAmountMismatch
	}

	escrowAddr, err := r.verify.VerifyWager(ctx, identity, expected, txRef)
	if err != nil {
		return err
	}

	l.Mu.Lock()
	defer l.Mu.Unlock()

	p, present = l.Players[identity]
	if !present {
		// Player left while verification was in flight; the transfer is
		// real, so send the money back rather than stranding it.
		r.enqueueRefund(ctx, escrowAddr, identity, models.ToFlakes(expected), txRef)
		return ErrNotInLobby
	}
	if p.WagerLocked {
		return ErrWagerAlreadyLocked
	}

	p.WagerLocked = true
	p.TxRef = txRef
	p.EscrowAddr = escrowAddr
	p.LockedAmount = expected

	ev := &models.WagerEvent{
		ID:         uuid.New(),
		LobbyID:    l.Info.ID,
		Wallet:     identity,
		Amount:     expected,
		TxRef:      txRef,
		EscrowAddr: escrowAddr,
		Status:     models.WagerLocked,
	}
	if err := r.persist.InsertWagerEvent(ctx, ev); err != nil {
		// The wager event is the refund anchor; without it a stale-match
		// sweep cannot make the player whole. Unlock the player and fail.
		p.WagerLocked = false
		p.TxRef = ""
		p.EscrowAddr = ""
		p.LockedAmount = decimal.Zero
		return fmt.Errorf("record wager event: %w", err)
	}

	if err := cache.PublishAudit(ctx, cache.AuditRecord{
		Kind:    "wager_locked",
		LobbyID: l.Info.ID,
		Wallet:  identity,
		Escrow:  escrowAddr,
		Flakes:  models.ToFlakes(expected),
		TxRef:   txRef,
	}); err != nil {
		r.log.Warnf("lobby %s: publish wager audit: %v", l.Info.ID, err)
	}

	r.persistMember(l.Info.ID, *p)
	metrics.WagersLocked.Inc()
	l.broadcastStateUnsafe()
	return nil
}

// SetReady toggles readiness. Paid lobbies require a locked wager first.
func (r *Registry) SetReady(ctx context.Context, lobbyID, identity string, ready bool) error {
	l, ok := r.lobbies[lobbyID]
	if !ok {
		return ErrLobbyNotFound
	}

	l.Mu.Lock()
	defer l.Mu.Unlock()

	p, present := l.Players[identity]
	if !present {
		return ErrNotInLobby
	}
	if ready && !l.Info.Free() && !p.WagerLocked {
		return ErrWagerRequired
	}
	if p.Ready == ready {
		return nil
	}

	p.Ready = ready
	r.persistMember(l.Info.ID, *p)
	l.broadcastStateUnsafe()

	if ready {
		r.evaluateUnsafe(ctx, l)
	}
	return nil
}

// Leave removes a player. A locked wager whose match has not started is
// refunded, keyed by the original transfer so the same transfer can never
// be refunded twice.
func (r *Registry) Leave(ctx context.Context, lobbyID, identity string) error {
	l, ok := r.lobbies[lobbyID]
	if !ok {
		return ErrLobbyNotFound
	}

	l.Mu.Lock()
	defer l.Mu.Unlock()

	if _, present := l.Players[identity]; !present {
		return ErrNotInLobby
	}
	r.removeUnsafe(ctx, l, identity, true)

	if len(l.Players) == 0 {
		l.Countdown = nil
		l.cancelFillerUnsafe()
	}
	l.broadcastStateUnsafe()
	return nil
}

// removeUnsafe deletes a player and, when refund is set, enqueues a refund
// job for their locked wager. Assumes lock is held.
func (r *Registry) removeUnsafe(ctx context.Context, l *Lobby, identity string, refund bool) {
	p, present := l.Players[identity]
	if !present {
		return
	}
	delete(l.Players, identity)
	delete(l.Conns, identity)

	if refund && p.WagerLocked && p.TxRef != "" {
		r.enqueueRefund(ctx, p.EscrowAddr, identity, models.ToFlakes(p.LockedAmount), p.TxRef)
	}

	if !p.Synthetic {
		metrics.LobbyLeaves.Inc()
		go func(lobbyID, identity string) {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.persist.DeleteMember(dctx, lobbyID, identity); err != nil {
				r.log.Warnf("lobby %s: delete member %s: %v", lobbyID, identity, err)
			}
		}(l.Info.ID, identity)
	}
}

func (r *Registry) enqueueRefund(ctx context.Context, escrowAddr, target string, flakes int64, txRef string) {
	_, err := r.queue.Enqueue(ctx, models.JobRefund, models.JobPayload{
		EscrowAddr: escrowAddr,
		Target:     target,
		Flakes:     flakes,
		TxRef:      txRef,
	}, "")
	if err != nil {
		r.log.Errorf("enqueue refund for tx %s: %v", txRef, err)
	}
}

// evaluateUnsafe decides whether to start the countdown or arm the filler
// timer. Assumes lock is held.
func (r *Registry) evaluateUnsafe(ctx context.Context, l *Lobby) {
	if l.Countdown != nil {
		return
	}

	// Free lobbies below capacity wait for synthetic fillers before
	// counting down, as long as one real player wants to play.
	if l.Info.Free() && len(l.Players) < l.Info.Capacity {
		if l.realReadyUnsafe() && l.fillerTimer == nil {
			l.fillerTimer = time.AfterFunc(r.fillerDelay, func() {
				r.fillerExpired(l)
			})
			r.log.Debugf("lobby %s: filler timer armed (%s)", l.Info.ID, r.fillerDelay)
		}
		return
	}

	if !l.quorumUnsafe() {
		return
	}

	c := r.countdownStart
	l.Countdown = &c
	l.cancelFillerUnsafe()
	r.log.Infof("lobby %s: countdown started at %d", l.Info.ID, c)
	l.broadcastStateUnsafe()
}

// fillerExpired fires when the filler delay elapses: if the conditions
// that armed it still hold, synthetic players are added up to capacity.
func (r *Registry) fillerExpired(l *Lobby) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	l.Mu.Lock()
	defer l.Mu.Unlock()

	l.fillerTimer = nil
	if l.Countdown != nil || !l.Info.Free() || !l.realReadyUnsafe() {
		return
	}

	for i := len(l.Players); i < l.Info.Capacity; i++ {
		id := "filler:" + uuid.NewString()[:8]
		p := &models.PlayerState{
			Identity:    id,
			DisplayName: fillerNames[i%len(fillerNames)],
			Ready:       true,
			WagerLocked: true,
			Synthetic:   true,
			JoinedAt:    time.Now(),
		}
		l.Players[id] = p
	}
	r.log.Infof("lobby %s: filled to capacity with synthetic players", l.Info.ID)
	l.broadcastStateUnsafe()
	r.evaluateUnsafe(ctx, l)
}

var fillerNames = []string{"Rook", "Pippin", "Vega", "Sable", "Onyx", "Juniper", "Moss", "Flint"}

// Run drives the one-second countdown tick for every lobby until ctx is
// done. Countdown ticks are the only place players are force-removed.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tickAll(ctx)
		}
	}
}

func (r *Registry) tickAll(ctx context.Context) {
	for _, id := range r.order {
		r.tickLobby(ctx, r.lobbies[id])
	}
}

// tickLobby advances one lobby's countdown by a second: kick stragglers,
// cancel on empty, start the match at zero.
func (r *Registry) tickLobby(ctx context.Context, l *Lobby) {
	var start func()

	l.Mu.Lock()
	if l.Countdown == nil {
		l.Mu.Unlock()
		return
	}

	// Anyone not ready (paid lobbies: or not wager-locked) is removed and
	// refunded where applicable. The majority quorum means a paid-but-
	// unready minority can be kicked here.
	for identity, p := range l.Players {
		ok := p.Ready
		if !l.Info.Free() {
			ok = ok && p.WagerLocked
		}
		if ok {
			continue
		}
		if c, connected := l.Conns[identity]; connected {
			c.WriteError("KICKED", "removed from lobby: not ready at countdown")
		}
		r.removeUnsafe(ctx, l, identity, true)
		r.log.Infof("lobby %s: kicked %s during countdown", l.Info.ID, identity)
	}

	if len(l.Players) == 0 {
		l.Countdown = nil
		r.log.Infof("lobby %s: countdown cancelled, lobby empty", l.Info.ID)
		l.Mu.Unlock()
		return
	}

	*l.Countdown--
	if *l.Countdown > 0 {
		l.broadcastStateUnsafe()
		l.Mu.Unlock()
		return
	}

	start = r.startMatchUnsafe(l)
	l.Mu.Unlock()

	if start != nil {
		start()
	}
}

// startMatchUnsafe snapshots the roster, resets the lobby to empty
// WAITING, and returns a closure that hands the match to the lifecycle
// manager once the lock is released. Assumes lock is held.
func (r *Registry) startMatchUnsafe(l *Lobby) func() {
	roster := make([]models.RosterEntry, 0, len(l.Players))
	for _, p := range l.Players {
		roster = append(roster, models.RosterEntry{
			Wallet:      p.Identity,
			DisplayName: p.DisplayName,
			Synthetic:   p.Synthetic,
			Amount:      p.LockedAmount,
			EscrowAddr:  p.EscrowAddr,
		})
	}
	sort.Slice(roster, func(i, j int) bool { return roster[i].Wallet < roster[j].Wallet })

	conns := l.Conns
	info := l.Info

	// The lobby never dies: it resets to empty and re-enters WAITING.
	l.Players = make(map[string]*models.PlayerState)
	l.Conns = make(map[string]*Conn)
	l.Countdown = nil
	l.cancelFillerUnsafe()

	go func(lobbyID string) {
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.persist.ClearMembers(dctx, lobbyID); err != nil {
			r.log.Warnf("lobby %s: clear members: %v", lobbyID, err)
		}
	}(info.ID)

	metrics.MatchesStarted.Inc()
	r.log.Infof("lobby %s: countdown reached zero, starting match with %d players", info.ID, len(roster))

	onStart := r.OnMatchStart
	if onStart == nil {
		return nil
	}
	return func() { onStart(info, roster, conns) }
}

// persistMember mirrors a player's state asynchronously. Persistence is a
// write-behind shadow; a failed write is logged, not surfaced.
func (r *Registry) persistMember(lobbyID string, p models.PlayerState) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.persist.UpsertMember(ctx, lobbyID, p); err != nil {
			r.log.Warnf("lobby %s: persist member %s: %v", lobbyID, p.Identity, err)
		}
	}()
}
