// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ringfall/ringfall/internal/models"
)

// Config holds every tunable the server reads from the environment.
// Values are read once at startup; packages receive the fields they need.
type Config struct {
	Port string

	PostgresURL string
	RedisAddr   string
	RedisDB     int

	LedgerRPCURL string

	HouseWallet string
	HouseCutPct decimal.Decimal

	CountdownStart int
	FillerDelay    time.Duration
	MatchTick      time.Duration
	EliminationY   float64

	JobPollInterval time.Duration
	JobMaxAttempts  int
	JobBatchSize    int

	StaleMatchTimeout  time.Duration
	StaleSweepInterval time.Duration

	Lobbies []models.LobbyInfo
}

// Load reads the environment (godotenv autoload happens in main) and
// returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		Port: getEnv("PORT", "8080"),
		PostgresURL: fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s",
			getEnv("POSTGRES_USER", "ringfall"),
			getEnv("POSTGRES_PASSWORD", ""),
			getEnv("PG_HOST", "localhost"),
			getEnv("PG_PORT", "5432"),
			getEnv("PG_DATABASE", "ringfall"),
		),
		RedisAddr:    getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:      getEnvInt("REDIS_DB", 0),
		LedgerRPCURL: getEnv("LEDGER_RPC_URL", "http://localhost:8899"),
		HouseWallet:  os.Getenv("HOUSE_WALLET"),

		CountdownStart: getEnvInt("COUNTDOWN_START", 5),
		FillerDelay:    getEnvDuration("FILLER_DELAY", 10*time.Second),
		MatchTick:      getEnvDuration("MATCH_TICK", 500*time.Millisecond),
		EliminationY:   getEnvFloat("ELIMINATION_Y", -10),

		JobPollInterval: getEnvDuration("JOB_POLL_INTERVAL", 3*time.Second),
		JobMaxAttempts:  getEnvInt("JOB_MAX_ATTEMPTS", 5),
		JobBatchSize:    getEnvInt("JOB_BATCH_SIZE", 10),

		StaleMatchTimeout:  getEnvDuration("STALE_MATCH_TIMEOUT", 10*time.Minute),
		StaleSweepInterval: getEnvDuration("STALE_SWEEP_INTERVAL", time.Minute),
	}

	cut, err := decimal.NewFromString(getEnv("HOUSE_CUT_PCT", "0.05"))
	if err != nil {
		return nil, fmt.Errorf("invalid HOUSE_CUT_PCT: %w", err)
	}
	if cut.IsNegative() || cut.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("HOUSE_CUT_PCT must be in [0, 1), got %s", cut)
	}
	cfg.HouseCutPct = cut

	lobbies, err := loadCatalog()
	if err != nil {
		return nil, err
	}
	cfg.Lobbies = lobbies

	return cfg, nil
}

// loadCatalog parses LOBBY_CATALOG (a JSON array of LobbyInfo) or falls
// back to the built-in catalog. Lobbies are created once at process start
// and live for the life of the process.
func loadCatalog() ([]models.LobbyInfo, error) {
	raw := os.Getenv("LOBBY_CATALOG")
	if raw == "" {
		return DefaultCatalog(), nil
	}
	var lobbies []models.LobbyInfo
	if err := json.Unmarshal([]byte(raw), &lobbies); err != nil {
		return nil, fmt.Errorf("invalid LOBBY_CATALOG: %w", err)
	}
	for _, l := range lobbies {
		if l.ID == "" || l.Capacity < 2 {
			return nil, fmt.Errorf("invalid lobby catalog entry %q: capacity must be >= 2", l.ID)
		}
		if l.WagerAmount.IsNegative() {
			return nil, fmt.Errorf("invalid lobby catalog entry %q: negative wager", l.ID)
		}
	}
	return lobbies, nil
}

// DefaultCatalog is the built-in lobby lineup: one free practice arena and
// two paid tiers.
func DefaultCatalog() []models.LobbyInfo {
	return []models.LobbyInfo{
		{ID: "free-1", Name: "Practice Ring", Capacity: 4, WagerAmount: decimal.Zero, GameMode: "ring"},
		{ID: "bronze-1", Name: "Bronze Ring", Capacity: 4, WagerAmount: decimal.RequireFromString("0.1"), GameMode: "ring"},
		{ID: "silver-1", Name: "Silver Ring", Capacity: 4, WagerAmount: decimal.RequireFromString("0.25"), GameMode: "ring"},
	}
}

// getEnv is a helper to read an environment variable or return a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt is a helper to parse an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func getEnvFloat(key string, def float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return v
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
