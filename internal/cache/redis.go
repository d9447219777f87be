// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rdb is the global Redis client. Connect it once at application startup.
var Rdb *redis.Client

// DefaultQueueName is the Redis list (queue) name for money-movement audit
// records consumed by the out-of-process auditor.
var DefaultQueueName = "ringfall_audit"

// AuditRecord is one money-movement event: a wager locked, a refund
// executed, or a payout executed. Best-effort stream; the postgres rows
// remain the durable audit trail.
type AuditRecord struct {
	Kind      string `json:"kind"` // wager_locked | refund_completed | payout_completed
	LobbyID   string `json:"lobby_id,omitempty"`
	MatchID   string `json:"match_id,omitempty"`
	Wallet    string `json:"wallet,omitempty"`
	Escrow    string `json:"escrow,omitempty"`
	Flakes    int64  `json:"flakes,omitempty"`
	TxRef     string `json:"tx_ref,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// ConnectRedis initializes the global Redis client and pings it.
func ConnectRedis(addr string, db int) error {
	Rdb = redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := Rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return nil
}

// PublishAudit serializes the given record to JSON, then pushes it to the
// Redis queue. Callers treat failures as non-fatal: a dropped audit record
// never blocks settlement.
func PublishAudit(ctx context.Context, record AuditRecord) error {
	if Rdb == nil {
		return nil
	}
	if record.Timestamp == 0 {
		record.Timestamp = time.Now().Unix()
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal AuditRecord: %w", err)
	}

	queueName := DefaultQueueName
	if v := os.Getenv("AUDIT_QUEUE_NAME"); v != "" {
		queueName = v
	}
	if err := Rdb.RPush(ctx, queueName, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", queueName, err)
	}
	return nil
}
