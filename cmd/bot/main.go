package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/donut-orders/internal/api"
	"github.com/akagifreeez/donut-orders/internal/config"
	"github.com/akagifreeez/donut-orders/internal/history"
	"github.com/akagifreeez/donut-orders/internal/market"
	"github.com/akagifreeez/donut-orders/internal/navigator"
	"github.com/akagifreeez/donut-orders/internal/orderconfig"
	"github.com/akagifreeez/donut-orders/internal/session"
	"github.com/akagifreeez/donut-orders/internal/snapshot"
	"github.com/akagifreeez/donut-orders/internal/sweep"
	"github.com/akagifreeez/donut-orders/internal/tracker"
	"github.com/akagifreeez/donut-orders/internal/trader"
)

func main() {
	// Setup logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().Str("environment", cfg.Environment).Msg("Starting Donut Orders bot")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("Failed to create data directory")
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Session gateway to the game server
	gateway := session.NewGateway(cfg.GatewayURL, cfg.GatewayToken, cfg.CommandsPerMin)
	go gateway.Run(ctx)
	nav := navigator.New(gateway)

	// Durable stores
	store := snapshot.NewStore(cfg.DataDir)
	defer store.Close()
	prefs := orderconfig.NewStore(cfg.DataDir)
	prefs.Load()
	marketIdx := market.NewIndex(cfg.DataDir, cfg.MarketStaleAge, cfg.ExpiryGrace)
	marketIdx.Load()
	owned := market.NewOwned(cfg.DataDir)
	owned.Load()

	// Price history and alerts, seeded from the snapshot log
	prices := history.NewPrices(cfg.HistoryWindow)
	alerts := history.NewAlerter(cfg.DataDir, cfg.AlertCooldown, cfg.AlertWebhookURL, prices)
	alerts.Load()
	seedHistory(store, prices)

	// Workers
	sweeper := sweep.New(nav, store, prefs, cfg)
	if last, ok := store.LastSweepRun(); ok {
		sweeper.SeedLastRun(last)
	}
	sched := tracker.New(cfg, nav, store, prefs, sweeper)
	sched.Load()
	sched.EnsureDefault()

	trading := trader.New(cfg, nav, marketIdx, owned, prefs)
	defer trading.Close()
	sched.SetIdleTask(trading)

	// Every captured page feeds alerts, price history and the live-market
	// index.
	onSnapshot := func(snap *snapshot.Snapshot) {
		alerts.ObserveSnapshot(snap)
		marketIdx.Observe(snap.Orders(), snap.TS)
	}
	sched.SetSnapshotHandler(onSnapshot)
	sweeper.SetSnapshotHandler(onSnapshot)

	go sched.Run(ctx)
	log.Info().Msg("Scheduler started")

	// Control API
	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           api.NewServer(cfg, sched, sweeper, prefs, alerts, prices).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("port", cfg.APIPort).Msg("Control API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Control API failed")
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutdown signal received, stopping...")
	cancel()
	sweeper.Cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Control API shutdown failed")
	}

	log.Info().Msg("Bot stopped")
}

// seedHistory replays the tracked-scan log so the rolling price window
// survives restarts. Everything outside the window is pruned on observe.
func seedHistory(store *snapshot.Store, prices *history.Prices) {
	n := 0
	if err := store.ReplayScans(func(snap *snapshot.Snapshot) {
		prices.ObserveSnapshot(snap)
		n++
	}); err != nil {
		log.Warn().Err(err).Msg("Failed to replay snapshot log")
		return
	}
	if n > 0 {
		log.Info().Int("snapshots", n).Msg("Price history seeded from snapshot log")
	}
}
