// internal/handlers/api.go
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ringfall/ringfall/internal/auth"
	"github.com/ringfall/ringfall/internal/escrow"
	"github.com/ringfall/ringfall/internal/lobby"
	"github.com/ringfall/ringfall/internal/metrics"
)

var processStart = time.Now()

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// StatusHandler exposes the process-wide counters. Observational only.
func StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"uptime_seconds": int64(time.Since(processStart).Seconds()),
			"counters":       metrics.Snapshot(),
		})
	}
}

// ListLobbiesHandler returns the catalog with live occupancy.
func ListLobbiesHandler(reg *lobby.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, reg.Snapshot())
	}
}

// RotateEscrowHandler flips the active escrow wallet. Operator surface:
// requires an admin bearer token. Payouts in flight are unaffected, they
// always target the wallet captured at wager time.
func RotateEscrowHandler(store *escrow.Store, logger *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		if err := auth.VerifyAdminToken(token); err != nil {
			logger.Warnf("escrow rotate rejected: %v", err)
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		active, err := store.Rotate(r.Context())
		if err != nil {
			logger.Errorf("escrow rotate failed: %v", err)
			http.Error(w, "rotation failed", http.StatusInternalServerError)
			return
		}
		logger.Infof("escrow wallet rotated, active is now %s", active)
		writeJSON(w, http.StatusOK, map[string]interface{}{"active": active})
	}
}

// EscrowStateHandler returns both wallets plus the active pointer, for
// reconciliation tooling. Admin only.
func EscrowStateHandler(store *escrow.Store, logger *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if err := auth.VerifyAdminToken(token); err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		wallets, err := store.GetAll(r.Context())
		if err != nil {
			logger.Errorf("escrow state read failed: %v", err)
			http.Error(w, "read failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, wallets)
	}
}
