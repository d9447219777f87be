// internal/handlers/ws_codes.go
package handlers

import (
	"errors"

	"github.com/coder/websocket"

	"github.com/ringfall/ringfall/internal/ledger"
	"github.com/ringfall/ringfall/internal/lobby"
)

// BadSubprotocolError is sent when a client connects without the expected
// websocket subprotocol.
const BadSubprotocolError = websocket.StatusCode(4001)

// Error codes surfaced to clients in error{code, message} payloads.
const (
	CodeLobbyNotFound        = "LOBBY_NOT_FOUND"
	CodeLobbyFull            = "LOBBY_FULL"
	CodeWagerRequired        = "WAGER_REQUIRED"
	CodeAmountMismatch       = "AMOUNT_MISMATCH"
	CodeParticipantsMismatch = "PARTICIPANTS_MISMATCH"
	CodeTxNotFound           = "TX_NOT_FOUND"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeNotInLobby           = "NOT_IN_LOBBY"
	CodeWagerLocked          = "WAGER_ALREADY_LOCKED"
	CodeInternal             = "INTERNAL"
)

// errorCode maps a typed error to its wire code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, lobby.ErrLobbyNotFound):
		return CodeLobbyNotFound
	case errors.Is(err, lobby.ErrLobbyFull):
		return CodeLobbyFull
	case errors.Is(err, lobby.ErrWagerRequired):
		return CodeWagerRequired
	case errors.Is(err, lobby.ErrNotInLobby):
		return CodeNotInLobby
	case errors.Is(err, lobby.ErrWagerAlreadyLocked):
		return CodeWagerLocked
	case errors.Is(err, ledger.ErrTxNotFound):
		return CodeTxNotFound
	case errors.Is(err, ledger.ErrAmountMismatch):
		return CodeAmountMismatch
	case errors.Is(err, ledger.ErrParticipantsMismatch):
		return CodeParticipantsMismatch
	default:
		return CodeInternal
	}
}
