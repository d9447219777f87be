// cmd/server/main.go
package main

import (
	"context"
	"log"
	"net/http"

	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/ringfall/ringfall/internal/auth"
	"github.com/ringfall/ringfall/internal/cache"
	"github.com/ringfall/ringfall/internal/config"
	"github.com/ringfall/ringfall/internal/database"
	"github.com/ringfall/ringfall/internal/escrow"
	"github.com/ringfall/ringfall/internal/handlers"
	"github.com/ringfall/ringfall/internal/jobs"
	"github.com/ringfall/ringfall/internal/ledger"
	"github.com/ringfall/ringfall/internal/lobby"
	"github.com/ringfall/ringfall/internal/match"
	"github.com/ringfall/ringfall/internal/middleware"
)

func main() {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	auth.Init()
	adminToken, err := auth.CreateAdminToken("operator", 0)
	if err != nil {
		log.Fatalf("mint admin token: %v", err)
	}
	logger.Infof("admin token for this process: %s", adminToken)

	ctx := context.Background()

	store, err := database.Connect(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer store.Close()

	if err := cache.ConnectRedis(cfg.RedisAddr, cfg.RedisDB); err != nil {
		// The audit stream is best-effort; the service runs without it.
		logger.Warnf("redis unavailable, audit stream disabled: %v", err)
	}

	for _, info := range cfg.Lobbies {
		if err := store.UpsertLobby(ctx, info); err != nil {
			log.Fatalf("mirror lobby catalog: %v", err)
		}
	}

	ledgerClient := ledger.NewRPCClient(cfg.LedgerRPCURL)
	escrowStore := escrow.New(store)
	verifier := &ledger.Verifier{Ledger: ledgerClient, Escrow: escrowStore}
	queue := jobs.NewQueue(store)

	registry := lobby.NewRegistry(cfg.Lobbies, store, verifier, queue, cfg.CountdownStart, cfg.FillerDelay, logger)
	manager := match.NewManager(store, queue, logger, cfg.EliminationY, cfg.MatchTick, cfg.StaleMatchTimeout, cfg.StaleSweepInterval)
	registry.OnMatchStart = manager.Start

	worker := &jobs.Worker{
		Store:       store,
		Ledger:      ledgerClient,
		Log:         logger,
		HouseWallet: cfg.HouseWallet,
		HouseCutPct: cfg.HouseCutPct,
		MaxAttempts: cfg.JobMaxAttempts,
		BatchSize:   cfg.JobBatchSize,
		Scheduler:   jobs.IntervalScheduler{Every: cfg.JobPollInterval},
	}

	go registry.Run(ctx)
	go manager.Run(ctx)
	go worker.Run(ctx)

	srv := &handlers.Server{Registry: registry, Matches: manager, Log: logger}

	mux := http.NewServeMux()
	mux.Handle("/ws", middleware.LogMiddleware(logger)(handlers.WSHandler(logger, srv)))
	mux.Handle("/status", middleware.LogMiddleware(logger)(handlers.StatusHandler()))
	mux.Handle("/lobbies", middleware.LogMiddleware(logger)(handlers.ListLobbiesHandler(registry)))
	mux.Handle("/escrow/rotate", middleware.LogMiddleware(logger)(handlers.RotateEscrowHandler(escrowStore, logger)))
	mux.Handle("/escrow/state", middleware.LogMiddleware(logger)(handlers.EscrowStateHandler(escrowStore, logger)))
	mux.Handle("/metrics", promhttp.Handler())

	addr := ":" + cfg.Port
	logger.Infof("Running on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
