// internal/models/models.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FlakesPerCoin is the conversion factor between display amounts and the
// ledger's smallest unit. Wager amounts are configured in coins; everything
// the ledger sees is flakes.
const FlakesPerCoin = 1_000_000_000

// ToFlakes converts a coin amount to the ledger's smallest unit.
func ToFlakes(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(FlakesPerCoin)).IntPart()
}

// PlayerState is the authoritative per-occupant state inside a lobby.
// Identity is a ledger wallet address, or "guest:<uuid>" for free lobbies.
type PlayerState struct {
	Identity     string          `json:"identity"`
	DisplayName  string          `json:"displayName"`
	Ready        bool            `json:"ready"`
	WagerLocked  bool            `json:"wagerLocked"`
	TxRef        string          `json:"txRef,omitempty"`
	EscrowAddr   string          `json:"escrowAddr,omitempty"`
	LockedAmount decimal.Decimal `json:"lockedAmount,omitempty"`
	Synthetic    bool            `json:"synthetic"`
	JoinedAt     time.Time       `json:"joinedAt"`
}

// LobbyStatus is the lobby state machine phase.
type LobbyStatus string

const (
	LobbyWaiting   LobbyStatus = "WAITING"
	LobbyCountdown LobbyStatus = "COUNTDOWN"
)

// LobbyInfo is the static catalog entry for a lobby. WagerAmount of zero
// means a free lobby.
type LobbyInfo struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Capacity    int             `json:"capacity"`
	WagerAmount decimal.Decimal `json:"wagerAmount"`
	GameMode    string          `json:"gameMode"`
}

// Free reports whether the lobby requires no wager.
func (l LobbyInfo) Free() bool {
	return l.WagerAmount.IsZero()
}

// WagerStatus tracks a locked wager through its audit lifecycle.
type WagerStatus string

const (
	WagerLocked   WagerStatus = "locked"
	WagerRefunded WagerStatus = "refunded"
)

// WagerEvent is the persisted audit record for a single locked wager. The
// escrow address is recorded verbatim at verification time; refunds and
// stale-match reconciliation re-derive it from here.
type WagerEvent struct {
	ID         uuid.UUID       `json:"id"`
	LobbyID    string          `json:"lobbyId"`
	Wallet     string          `json:"wallet"`
	Amount     decimal.Decimal `json:"amount"`
	TxRef      string          `json:"txRef"`
	EscrowAddr string          `json:"escrowAddr"`
	Status     WagerStatus     `json:"status"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// MatchStatus is the persisted terminal/non-terminal match state.
type MatchStatus string

const (
	MatchActive    MatchStatus = "active"
	MatchCompleted MatchStatus = "completed"
	MatchCancelled MatchStatus = "cancelled"
)

// RosterEntry is the immutable per-player snapshot taken at match start.
type RosterEntry struct {
	Wallet      string          `json:"wallet"`
	DisplayName string          `json:"displayName"`
	Synthetic   bool            `json:"synthetic"`
	Amount      decimal.Decimal `json:"amount"`
	EscrowAddr  string          `json:"escrowAddr,omitempty"`
}

// MatchRecord is the persisted shadow of a live match, used for crash
// recovery and audit. The in-memory manager remains the source of truth
// while the owning process is alive.
type MatchRecord struct {
	ID         uuid.UUID     `json:"id"`
	LobbyID    string        `json:"lobbyId"`
	Roster     []RosterEntry `json:"roster"`
	Status     MatchStatus   `json:"status"`
	Winner     string        `json:"winner,omitempty"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt *time.Time    `json:"finishedAt,omitempty"`
}

// JobKind discriminates the two payment job types.
type JobKind string

const (
	JobPayout JobKind = "payout"
	JobRefund JobKind = "refund"
)

// JobStatus is the payment job lifecycle state. Transition into
// "processing" is a conditional update and is the system's sole
// concurrency-control mechanism across server instances.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// JobPayload carries everything the worker needs to execute a transfer.
// For payouts, MatchID+EscrowAddr anchor idempotency; for refunds, TxRef.
type JobPayload struct {
	EscrowAddr string `json:"escrowAddr"`
	Target     string `json:"target,omitempty"`
	Flakes     int64  `json:"flakes"`
	MatchID    string `json:"matchId,omitempty"`
	TxRef      string `json:"txRef,omitempty"`
}

// PaymentJob is a durable, idempotent, retryable unit of settlement work.
type PaymentJob struct {
	ID             uuid.UUID  `json:"id"`
	Kind           JobKind    `json:"kind"`
	IdempotencyKey string     `json:"idempotencyKey"`
	Payload        JobPayload `json:"payload"`
	Status         JobStatus  `json:"status"`
	Attempts       int        `json:"attempts"`
	LastError      string     `json:"lastError,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// EscrowWallets is the persisted two-wallet singleton. Exactly one of the
// two addresses is active (accepting new wagers) at any time.
type EscrowWallets struct {
	AddrA  string `json:"addrA"`
	AddrB  string `json:"addrB"`
	Active string `json:"active"` // "A" or "B"
}

// ActiveAddr returns the address currently accepting wagers.
func (w EscrowWallets) ActiveAddr() string {
	if w.Active == "B" {
		return w.AddrB
	}
	return w.AddrA
}

// Candidates returns both escrow addresses. Wager verification accepts a
// deposit into either, because a rotation may race a client's transfer.
func (w EscrowWallets) Candidates() []string {
	return []string{w.AddrA, w.AddrB}
}

// Vec3 is a world-space position.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Quat is a world-space orientation.
type Quat struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}
