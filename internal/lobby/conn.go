// internal/lobby/conn.go
package lobby

import (
	"log"
)

// Conn is a single player's live presence on the realtime channel. The
// websocket handler owns the actual socket; lobby and match code only see
// this buffered outbound channel.
type Conn struct {
	Identity    string
	DisplayName string
	Admin       bool
	Cancel      func()
	OutChan     chan map[string]interface{}
}

// Write pushes a message onto the player's OutChan non-blockingly. Logs if blocked/dropped.
func (c *Conn) Write(msg map[string]interface{}) {
	select {
	case c.OutChan <- msg:
	default:
		msgType, _ := msg["type"].(string)
		log.Printf("Conn Write WARNING: OutChan for %s closed or full. Dropped message type '%s'.", c.Identity, msgType)
	}
}

// WriteError sends a typed error payload to this player only.
func (c *Conn) WriteError(code, msg string) {
	c.Write(map[string]interface{}{
		"type":    "error",
		"code":    code,
		"message": msg,
	})
}
