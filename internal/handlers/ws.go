// internal/handlers/ws.go
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ringfall/ringfall/internal/auth"
	"github.com/ringfall/ringfall/internal/lobby"
	"github.com/ringfall/ringfall/internal/match"
	"github.com/ringfall/ringfall/internal/models"
)

// Server wires the realtime gateway to the lobby registry and the match
// lifecycle manager.
type Server struct {
	Registry *lobby.Registry
	Matches  *match.Manager
	Log      *logrus.Logger
}

// session is one socket's state: the gateway tracks which lobby the
// player currently occupies so a dropped socket leaves it cleanly.
type session struct {
	conn         *lobby.Conn
	currentLobby string
}

// WSHandler is the single realtime endpoint. Identity comes from the
// `wallet` query parameter (a ledger address) or is minted as a guest id;
// an optional `token` carrying an admin JWT unlocks privileged messages.
func WSHandler(logger *logrus.Logger, srv *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{"ringfall"},
			OriginPatterns: []string{"*"}, // Adjust in production
		})
		if err != nil {
			logger.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		if c.Subprotocol() != "ringfall" {
			c.Close(BadSubprotocolError, "client must speak the ringfall subprotocol")
			return
		}

		identity := r.URL.Query().Get("wallet")
		if identity == "" {
			identity = "guest:" + uuid.NewString()
		}
		displayName := r.URL.Query().Get("name")
		if displayName == "" {
			displayName = "Player_" + identity[:minInt(6, len(identity))]
		}

		isAdmin := false
		if token := r.URL.Query().Get("token"); token != "" {
			if err := auth.VerifyAdminToken(token); err == nil {
				isAdmin = true
			} else {
				logger.Warnf("rejected admin token from %s: %v", r.RemoteAddr, err)
			}
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		sess := &session{
			conn: &lobby.Conn{
				Identity:    identity,
				DisplayName: displayName,
				Admin:       isAdmin,
				Cancel:      cancel,
				OutChan:     make(chan map[string]interface{}, 32),
			},
		}

		logger.Infof("player %s (%s) connected", identity, r.RemoteAddr)

		go writePump(ctx, c, sess.conn, logger)
		readPump(ctx, c, srv, sess, logger)

		// Socket gone: a player still sitting in a lobby leaves it, which
		// refunds any locked wager since the match has not started.
		if sess.currentLobby != "" {
			leaveCtx, leaveCancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := srv.Registry.Leave(leaveCtx, sess.currentLobby, identity); err != nil {
				logger.Debugf("cleanup leave for %s: %v", identity, err)
			}
			leaveCancel()
		}
		logger.Infof("player %s disconnected", identity)
	}
}

func readPump(ctx context.Context, c *websocket.Conn, srv *Server, sess *session, logger *logrus.Logger) {
	for {
		typ, msg, err := c.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				return
			}
			if !strings.Contains(err.Error(), "context canceled") {
				logger.Warnf("read error for %s: %v", sess.conn.Identity, err)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		var packet map[string]interface{}
		if err := json.Unmarshal(msg, &packet); err != nil {
			sess.conn.WriteError(CodeInternal, "invalid JSON")
			continue
		}
		srv.handleMessage(ctx, sess, packet)
	}
}

// handleMessage translates one client intent into registry/manager calls.
func (srv *Server) handleMessage(ctx context.Context, sess *session, packet map[string]interface{}) {
	action, _ := packet["type"].(string)
	conn := sess.conn

	switch action {
	case "join_lobby":
		lobbyID, _ := packet["lobby_id"].(string)
		if name, ok := packet["display_name"].(string); ok && name != "" {
			conn.DisplayName = name
		}
		if err := srv.Registry.Join(ctx, lobbyID, conn); err != nil {
			conn.WriteError(errorCode(err), err.Error())
			return
		}
		sess.currentLobby = lobbyID

	case "confirm_wager":
		lobbyID, _ := packet["lobby_id"].(string)
		txRef, _ := packet["tx_ref"].(string)
		amount := parseAmount(packet["amount"])
		if err := srv.Registry.ConfirmWager(ctx, lobbyID, conn.Identity, amount, txRef); err != nil {
			conn.WriteError(errorCode(err), err.Error())
		}

	case "set_ready":
		lobbyID, _ := packet["lobby_id"].(string)
		ready, _ := packet["ready"].(bool)
		if err := srv.Registry.SetReady(ctx, lobbyID, conn.Identity, ready); err != nil {
			conn.WriteError(errorCode(err), err.Error())
		}

	case "leave_lobby":
		lobbyID, _ := packet["lobby_id"].(string)
		if lobbyID == "" {
			lobbyID = sess.currentLobby
		}
		if err := srv.Registry.Leave(ctx, lobbyID, conn.Identity); err != nil {
			conn.WriteError(errorCode(err), err.Error())
			return
		}
		if sess.currentLobby == lobbyID {
			sess.currentLobby = ""
		}

	case "position_update":
		matchID, err := uuid.Parse(stringField(packet, "match_id"))
		if err != nil {
			return
		}
		pos := parseVec3(packet["position"])
		orient := parseQuat(packet["orientation"])
		// Unknown match/wallet is not worth an error frame at update rates.
		_ = srv.Matches.ApplyPositionUpdate(matchID, conn.Identity, pos, orient)

	case "admin_end_match":
		if !conn.Admin {
			conn.WriteError(CodeUnauthorized, "admin token required")
			return
		}
		matchID, err := uuid.Parse(stringField(packet, "match_id"))
		if err != nil {
			conn.WriteError(CodeInternal, "invalid match_id")
			return
		}
		winner, _ := packet["winner_wallet"].(string)
		if err := srv.Matches.Finish(matchID, winner); err != nil {
			conn.WriteError(errorCode(err), err.Error())
		}

	case "match_result":
		matchID, err := uuid.Parse(stringField(packet, "match_id"))
		if err != nil {
			return
		}
		winner, _ := packet["winner_wallet"].(string)
		_ = srv.Matches.ReportResult(matchID, winner)

	default:
		conn.WriteError(CodeInternal, "unknown message type: "+action)
	}
}

func writePump(ctx context.Context, c *websocket.Conn, conn *lobby.Conn, logger *logrus.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-conn.OutChan:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				logger.Warnf("marshal outgoing msg for %s: %v", conn.Identity, err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				logger.Warnf("write to %s failed: %v", conn.Identity, err)
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.Warnf("ping to %s failed, assuming disconnect: %v", conn.Identity, err)
				return
			}
		}
	}
}

func stringField(packet map[string]interface{}, key string) string {
	s, _ := packet[key].(string)
	return s
}

// parseAmount accepts the wager amount as either a JSON number or string.
func parseAmount(v interface{}) decimal.Decimal {
	switch a := v.(type) {
	case string:
		d, err := decimal.NewFromString(a)
		if err == nil {
			return d
		}
	case float64:
		return decimal.NewFromFloat(a)
	}
	return decimal.Zero
}

func parseVec3(v interface{}) models.Vec3 {
	m, _ := v.(map[string]interface{})
	return models.Vec3{
		X: floatField(m, "x"),
		Y: floatField(m, "y"),
		Z: floatField(m, "z"),
	}
}

func parseQuat(v interface{}) models.Quat {
	m, _ := v.(map[string]interface{})
	return models.Quat{
		X: floatField(m, "x"),
		Y: floatField(m, "y"),
		Z: floatField(m, "z"),
		W: floatField(m, "w"),
	}
}

func floatField(m map[string]interface{}, key string) float64 {
	if m == nil {
		return 0
	}
	f, _ := m[key].(float64)
	return f
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
