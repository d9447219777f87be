// internal/lobby/registry_test.go
package lobby

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ringfall/ringfall/internal/ledger"
	"github.com/ringfall/ringfall/internal/models"
)

// fakePersister collects write-behind mirror calls in memory.
type fakePersister struct {
	mu          sync.Mutex
	members     map[string]models.PlayerState
	wagerEvents []models.WagerEvent
	insertErr   error
}

func newFakePersister() *fakePersister {
	return &fakePersister{members: make(map[string]models.PlayerState)}
}

func (f *fakePersister) UpsertMember(_ context.Context, lobbyID string, p models.PlayerState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[lobbyID+"/"+p.Identity] = p
	return nil
}

func (f *fakePersister) DeleteMember(_ context.Context, lobbyID, identity string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.members, lobbyID+"/"+identity)
	return nil
}

func (f *fakePersister) ClearMembers(_ context.Context, lobbyID string) error {
	return nil
}

func (f *fakePersister) InsertWagerEvent(_ context.Context, ev *models.WagerEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.wagerEvents = append(f.wagerEvents, *ev)
	return nil
}

// fakeVerifier scripts the ledger check.
type fakeVerifier struct {
	escrowAddr string
	err        error
	// hook runs before the scripted result is returned, outside any lobby
	// lock, which lets tests interleave a Leave with an in-flight verify.
	hook func()
}

func (f *fakeVerifier) VerifyWager(_ context.Context, _ string, _ decimal.Decimal, _ string) (string, error) {
	if f.hook != nil {
		f.hook()
	}
	return f.escrowAddr, f.err
}

// fakeQueue records enqueued payment jobs.
type fakeQueue struct {
	mu   sync.Mutex
	jobs []struct {
		Kind    models.JobKind
		Payload models.JobPayload
	}
}

func (f *fakeQueue) Enqueue(_ context.Context, kind models.JobKind, payload models.JobPayload, _ string) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, struct {
		Kind    models.JobKind
		Payload models.JobPayload
	}{kind, payload})
	return uuid.New(), nil
}

func (f *fakeQueue) refunds() []models.JobPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.JobPayload
	for _, j := range f.jobs {
		if j.Kind == models.JobRefund {
			out = append(out, j.Payload)
		}
	}
	return out
}

func testCatalog() []models.LobbyInfo {
	return []models.LobbyInfo{
		{ID: "free-1", Name: "Free Ring", Capacity: 4, WagerAmount: decimal.Zero, GameMode: "ring"},
		{ID: "silver-1", Name: "Silver Ring", Capacity: 4, WagerAmount: decimal.RequireFromString("0.25"), GameMode: "ring"},
	}
}

func testRegistry(t *testing.T) (*Registry, *fakePersister, *fakeVerifier, *fakeQueue) {
	t.Helper()
	persist := newFakePersister()
	verify := &fakeVerifier{escrowAddr: "ESCROW_A"}
	queue := &fakeQueue{}
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	r := NewRegistry(testCatalog(), persist, verify, queue, 5, 50*time.Millisecond, log)
	return r, persist, verify, queue
}

func testConn(identity string) *Conn {
	return &Conn{
		Identity:    identity,
		DisplayName: identity,
		OutChan:     make(chan map[string]interface{}, 32),
	}
}

func TestJoinRespectsCapacity(t *testing.T) {
	r, _, _, _ := testRegistry(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		c := testConn("guest:" + uuid.NewString())
		if err := r.Join(ctx, "free-1", c); err != nil {
			t.Fatalf("join %d: %v", i, err)
		}
	}
	err := r.Join(ctx, "free-1", testConn("guest:overflow"))
	if !errors.Is(err, ErrLobbyFull) {
		t.Fatalf("expected ErrLobbyFull, got %v", err)
	}
}

func TestJoinUnknownLobby(t *testing.T) {
	r, _, _, _ := testRegistry(t)
	if err := r.Join(context.Background(), "gold-9", testConn("w1")); !errors.Is(err, ErrLobbyNotFound) {
		t.Fatalf("expected ErrLobbyNotFound, got %v", err)
	}
}

func TestFreeLobbyAutoLocksOnJoin(t *testing.T) {
	r, _, _, _ := testRegistry(t)
	if err := r.Join(context.Background(), "free-1", testConn("guest:a")); err != nil {
		t.Fatalf("join: %v", err)
	}
	l, _ := r.Get("free-1")
	l.Mu.Lock()
	defer l.Mu.Unlock()
	if !l.Players["guest:a"].WagerLocked {
		t.Fatal("free lobby join should auto-lock the wager")
	}
}

func TestRejoinKeepsState(t *testing.T) {
	r, _, _, _ := testRegistry(t)
	ctx := context.Background()
	if err := r.Join(ctx, "free-1", testConn("guest:a")); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := r.SetReady(ctx, "free-1", "guest:a", true); err != nil {
		t.Fatalf("ready: %v", err)
	}

	replacement := testConn("guest:a")
	if err := r.Join(ctx, "free-1", replacement); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	l, _ := r.Get("free-1")
	l.Mu.Lock()
	defer l.Mu.Unlock()
	if len(l.Players) != 1 {
		t.Fatalf("rejoin duplicated the player: %d occupants", len(l.Players))
	}
	if !l.Players["guest:a"].Ready {
		t.Fatal("rejoin dropped ready state")
	}
	if l.Conns["guest:a"] != replacement {
		t.Fatal("rejoin did not replace the live connection")
	}
	// Reconnect gets the current lobby state pushed immediately.
	select {
	case msg := <-replacement.OutChan:
		if msg["type"] != "lobby_state" {
			t.Fatalf("expected lobby_state on rejoin, got %v", msg["type"])
		}
	default:
		t.Fatal("no state resent on rejoin")
	}
}

func TestReadyRequiresLockedWager(t *testing.T) {
	r, _, _, _ := testRegistry(t)
	ctx := context.Background()
	if err := r.Join(ctx, "silver-1", testConn("W_ALICE")); err != nil {
		t.Fatalf("join: %v", err)
	}
	err := r.SetReady(ctx, "silver-1", "W_ALICE", true)
	if !errors.Is(err, ErrWagerRequired) {
		t.Fatalf("expected ErrWagerRequired, got %v", err)
	}
}

func TestConfirmWagerLocksPlayer(t *testing.T) {
	r, persist, _, _ := testRegistry(t)
	ctx := context.Background()
	if err := r.Join(ctx, "silver-1", testConn("W_ALICE")); err != nil {
		t.Fatalf("join: %v", err)
	}

	amt := decimal.RequireFromString("0.25")
	if err := r.ConfirmWager(ctx, "silver-1", "W_ALICE", amt, "TX1"); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	l, _ := r.Get("silver-1")
	l.Mu.Lock()
	p := l.Players["W_ALICE"]
	if !p.WagerLocked || p.TxRef != "TX1" || p.EscrowAddr != "ESCROW_A" {
		l.Mu.Unlock()
		t.Fatalf("wager not applied: %+v", p)
	}
	l.Mu.Unlock()

	persist.mu.Lock()
	defer persist.mu.Unlock()
	if len(persist.wagerEvents) != 1 {
		t.Fatalf("expected 1 wager event, got %d", len(persist.wagerEvents))
	}
	ev := persist.wagerEvents[0]
	if ev.TxRef != "TX1" || ev.EscrowAddr != "ESCROW_A" || !ev.Amount.Equal(amt) {
		t.Fatalf("wager event mismatch: %+v", ev)
	}
}

func TestConfirmWagerAmountMismatch(t *testing.T) {
	r, _, _, _ := testRegistry(t)
	ctx := context.Background()
	if err := r.Join(ctx, "silver-1", testConn("W_ALICE")); err != nil {
		t.Fatalf("join: %v", err)
	}
	err := r.ConfirmWager(ctx, "silver-1", "W_ALICE", decimal.RequireFromString("0.2"), "TX1")
	if !errors.Is(err, ledger.ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch, got %v", err)
	}
}

func TestConfirmWagerTwice(t *testing.T) {
	r, _, _, _ := testRegistry(t)
	ctx := context.Background()
	if err := r.Join(ctx, "silver-1", testConn("W_ALICE")); err != nil {
		t.Fatalf("join: %v", err)
	}
	amt := decimal.RequireFromString("0.25")
	if err := r.ConfirmWager(ctx, "silver-1", "W_ALICE", amt, "TX1"); err != nil {
		t.Fatalf("first confirm: %v", err)
	}
	err := r.ConfirmWager(ctx, "silver-1", "W_ALICE", amt, "TX2")
	if !errors.Is(err, ErrWagerAlreadyLocked) {
		t.Fatalf("expected ErrWagerAlreadyLocked, got %v", err)
	}
}

func TestConfirmWagerFailedEventWriteRollsBack(t *testing.T) {
	r, persist, _, _ := testRegistry(t)
	ctx := context.Background()
	if err := r.Join(ctx, "silver-1", testConn("W_ALICE")); err != nil {
		t.Fatalf("join: %v", err)
	}
	persist.mu.Lock()
	persist.insertErr = errors.New("db down")
	persist.mu.Unlock()

	err := r.ConfirmWager(ctx, "silver-1", "W_ALICE", decimal.RequireFromString("0.25"), "TX1")
	if err == nil {
		t.Fatal("expected failure when the wager event cannot be recorded")
	}
	l, _ := r.Get("silver-1")
	l.Mu.Lock()
	defer l.Mu.Unlock()
	if l.Players["W_ALICE"].WagerLocked {
		t.Fatal("player left locked after the refund anchor failed to persist")
	}
}

func TestConfirmWagerWhileLeavingRefunds(t *testing.T) {
	r, _, verify, queue := testRegistry(t)
	ctx := context.Background()
	if err := r.Join(ctx, "silver-1", testConn("W_ALICE")); err != nil {
		t.Fatalf("join: %v", err)
	}
	// Player leaves while ledger verification is in flight; the verified
	// transfer must be refunded, not stranded in escrow.
	verify.hook = func() {
		if err := r.Leave(ctx, "silver-1", "W_ALICE"); err != nil {
			t.Errorf("leave during verify: %v", err)
		}
	}

	err := r.ConfirmWager(ctx, "silver-1", "W_ALICE", decimal.RequireFromString("0.25"), "TX1")
	if !errors.Is(err, ErrNotInLobby) {
		t.Fatalf("expected ErrNotInLobby, got %v", err)
	}
	refunds := queue.refunds()
	if len(refunds) != 1 {
		t.Fatalf("expected exactly 1 refund, got %d", len(refunds))
	}
	if refunds[0].TxRef != "TX1" || refunds[0].Target != "W_ALICE" {
		t.Fatalf("refund payload mismatch: %+v", refunds[0])
	}
	if refunds[0].Flakes != models.ToFlakes(decimal.RequireFromString("0.25")) {
		t.Fatalf("refund flakes mismatch: %d", refunds[0].Flakes)
	}
}

func TestLeaveRefundsLockedWager(t *testing.T) {
	r, _, _, queue := testRegistry(t)
	ctx := context.Background()
	if err := r.Join(ctx, "silver-1", testConn("W_ALICE")); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := r.ConfirmWager(ctx, "silver-1", "W_ALICE", decimal.RequireFromString("0.25"), "TX1"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := r.Leave(ctx, "silver-1", "W_ALICE"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	refunds := queue.refunds()
	if len(refunds) != 1 || refunds[0].TxRef != "TX1" {
		t.Fatalf("expected refund keyed by TX1, got %+v", refunds)
	}
}

func TestLeaveWithoutWagerNoRefund(t *testing.T) {
	r, _, _, queue := testRegistry(t)
	ctx := context.Background()
	if err := r.Join(ctx, "silver-1", testConn("W_ALICE")); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := r.Leave(ctx, "silver-1", "W_ALICE"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if len(queue.refunds()) != 0 {
		t.Fatal("no refund should be queued for an unlocked player")
	}
}

func TestQuorum(t *testing.T) {
	paid := models.LobbyInfo{ID: "p", Capacity: 4, WagerAmount: decimal.RequireFromString("0.25")}
	free := models.LobbyInfo{ID: "f", Capacity: 4}

	cases := []struct {
		name   string
		info   models.LobbyInfo
		states []models.PlayerState
		want   bool
	}{
		{"single player never", free, []models.PlayerState{
			{Identity: "a", Ready: true, WagerLocked: true},
		}, false},
		{"free majority ready", free, []models.PlayerState{
			{Identity: "a", Ready: true},
			{Identity: "b", Ready: true},
			{Identity: "c"},
		}, true},
		{"free minority ready", free, []models.PlayerState{
			{Identity: "a", Ready: true},
			{Identity: "b"},
			{Identity: "c"},
		}, false},
		{"paid all locked majority ready", paid, []models.PlayerState{
			{Identity: "a", Ready: true, WagerLocked: true},
			{Identity: "b", Ready: true, WagerLocked: true},
			{Identity: "c", WagerLocked: true},
		}, true},
		{"paid one unlocked blocks", paid, []models.PlayerState{
			{Identity: "a", Ready: true, WagerLocked: true},
			{Identity: "b", Ready: true, WagerLocked: true},
			{Identity: "c"},
		}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := newLobby(tc.info)
			for i := range tc.states {
				p := tc.states[i]
				l.Players[p.Identity] = &p
			}
			l.Mu.Lock()
			got := l.quorumUnsafe()
			l.Mu.Unlock()
			if got != tc.want {
				t.Fatalf("quorum = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCountdownStartsOnQuorum(t *testing.T) {
	r, _, _, _ := testRegistry(t)
	ctx := context.Background()
	amt := decimal.RequireFromString("0.25")

	for _, w := range []string{"W_A", "W_B"} {
		if err := r.Join(ctx, "silver-1", testConn(w)); err != nil {
			t.Fatalf("join %s: %v", w, err)
		}
		if err := r.ConfirmWager(ctx, "silver-1", w, amt, "TX_"+w); err != nil {
			t.Fatalf("confirm %s: %v", w, err)
		}
		if err := r.SetReady(ctx, "silver-1", w, true); err != nil {
			t.Fatalf("ready %s: %v", w, err)
		}
	}

	l, _ := r.Get("silver-1")
	l.Mu.Lock()
	defer l.Mu.Unlock()
	if l.Countdown == nil {
		t.Fatal("countdown should have started")
	}
	if *l.Countdown != 5 {
		t.Fatalf("countdown = %d, want 5", *l.Countdown)
	}
}

func TestCountdownKicksAndRefundsStragglers(t *testing.T) {
	r, _, _, queue := testRegistry(t)
	ctx := context.Background()
	amt := decimal.RequireFromString("0.25")

	for _, w := range []string{"W_A", "W_B", "W_C"} {
		if err := r.Join(ctx, "silver-1", testConn(w)); err != nil {
			t.Fatalf("join %s: %v", w, err)
		}
		if err := r.ConfirmWager(ctx, "silver-1", w, amt, "TX_"+w); err != nil {
			t.Fatalf("confirm %s: %v", w, err)
		}
	}
	// Two of three ready is a majority with everyone locked.
	for _, w := range []string{"W_A", "W_B"} {
		if err := r.SetReady(ctx, "silver-1", w, true); err != nil {
			t.Fatalf("ready %s: %v", w, err)
		}
	}

	l, _ := r.Get("silver-1")
	straggler := l.Conns["W_C"]
	r.tickLobby(ctx, l)

	l.Mu.Lock()
	if _, still := l.Players["W_C"]; still {
		l.Mu.Unlock()
		t.Fatal("unready player should be kicked at the countdown tick")
	}
	if l.Countdown == nil || *l.Countdown != 4 {
		l.Mu.Unlock()
		t.Fatal("countdown should have advanced after the kick")
	}
	l.Mu.Unlock()

	refunds := queue.refunds()
	if len(refunds) != 1 || refunds[0].TxRef != "TX_W_C" {
		t.Fatalf("kicked player's wager not refunded: %+v", refunds)
	}

	var kicked bool
	for len(straggler.OutChan) > 0 {
		msg := <-straggler.OutChan
		if msg["type"] == "error" && msg["code"] == "KICKED" {
			kicked = true
		}
	}
	if !kicked {
		t.Fatal("kicked player never received the KICKED error")
	}
}

func TestCountdownZeroStartsMatchAndResetsLobby(t *testing.T) {
	r, _, _, _ := testRegistry(t)
	ctx := context.Background()

	var (
		mu     sync.Mutex
		roster []models.RosterEntry
	)
	r.OnMatchStart = func(info models.LobbyInfo, rs []models.RosterEntry, conns map[string]*Conn) {
		mu.Lock()
		roster = rs
		mu.Unlock()
	}

	for _, w := range []string{"guest:a", "guest:b"} {
		if err := r.Join(ctx, "free-1", testConn(w)); err != nil {
			t.Fatalf("join %s: %v", w, err)
		}
		if err := r.SetReady(ctx, "free-1", w, true); err != nil {
			t.Fatalf("ready %s: %v", w, err)
		}
	}

	l, _ := r.Get("free-1")
	l.Mu.Lock()
	// Note: quorum started the countdown already; fast-forward to the last second.
	if l.Countdown == nil {
		l.Mu.Unlock()
		t.Fatal("countdown not started")
	}
	*l.Countdown = 1
	l.Mu.Unlock()

	r.tickLobby(ctx, l)

	mu.Lock()
	defer mu.Unlock()
	if len(roster) != 2 {
		t.Fatalf("match started with %d players, want 2", len(roster))
	}
	if roster[0].Wallet > roster[1].Wallet {
		t.Fatal("roster not sorted by wallet")
	}

	l.Mu.Lock()
	defer l.Mu.Unlock()
	if len(l.Players) != 0 || l.Countdown != nil {
		t.Fatal("lobby should reset to empty WAITING after match start")
	}
}

func TestFillerFillsFreeLobbyToCapacity(t *testing.T) {
	r, _, _, _ := testRegistry(t)
	ctx := context.Background()

	if err := r.Join(ctx, "free-1", testConn("guest:solo")); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := r.SetReady(ctx, "free-1", "guest:solo", true); err != nil {
		t.Fatalf("ready: %v", err)
	}

	l, _ := r.Get("free-1")
	l.Mu.Lock()
	armed := l.fillerTimer != nil
	l.Mu.Unlock()
	if !armed {
		t.Fatal("filler timer should be armed for a lone ready player")
	}

	r.fillerExpired(l)

	l.Mu.Lock()
	defer l.Mu.Unlock()
	if len(l.Players) != l.Info.Capacity {
		t.Fatalf("expected lobby filled to %d, got %d", l.Info.Capacity, len(l.Players))
	}
	synthetic := 0
	for _, p := range l.Players {
		if p.Synthetic {
			synthetic++
			if !p.Ready || !p.WagerLocked {
				t.Fatal("synthetic players must join ready and locked")
			}
		}
	}
	if synthetic != l.Info.Capacity-1 {
		t.Fatalf("expected %d synthetic players, got %d", l.Info.Capacity-1, synthetic)
	}
	if l.Countdown == nil {
		t.Fatal("countdown should start once fillers complete the lobby")
	}
}

func TestFillerSkippedWhenPaid(t *testing.T) {
	r, _, _, _ := testRegistry(t)
	ctx := context.Background()
	if err := r.Join(ctx, "silver-1", testConn("W_A")); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := r.ConfirmWager(ctx, "silver-1", "W_A", decimal.RequireFromString("0.25"), "TX1"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := r.SetReady(ctx, "silver-1", "W_A", true); err != nil {
		t.Fatalf("ready: %v", err)
	}
	l, _ := r.Get("silver-1")
	l.Mu.Lock()
	defer l.Mu.Unlock()
	if l.fillerTimer != nil {
		t.Fatal("paid lobbies never arm the filler timer")
	}
}
