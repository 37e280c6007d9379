package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"prediction-mirror/api"
	"prediction-mirror/config"
	"prediction-mirror/models"
	"prediction-mirror/storage"
	"prediction-mirror/syncer"

	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load(os.Getenv("MIRROR_CONFIG"))
	if err != nil {
		log.Fatalf("[worker] failed to load config: %v", err)
	}

	// Initialize storage
	var store storage.TradeStore
	if os.Getenv("MIRROR_STORAGE") == "postgres" {
		pg, err := storage.NewPostgres()
		if err != nil {
			log.Fatalf("[worker] failed to init postgres storage: %v", err)
		}
		store = pg
		log.Println("[worker] PostgreSQL storage initialized")
	} else {
		st, err := storage.New(cfg.Data.DBPath)
		if err != nil {
			log.Fatalf("[worker] failed to init storage: %v", err)
		}
		store = st
		log.Printf("[worker] SQLite storage initialized at %s", cfg.Data.DBPath)
	}
	defer store.Close()

	// API clients
	prediction := api.NewPredictionClient()
	defer prediction.Close()
	directory := api.NewDirectoryClient()

	payout, err := syncer.NewPayoutStrategy(cfg.Settlement.PayoutMode, cfg.Settlement.FeePct)
	if err != nil {
		log.Fatalf("[worker] failed to create payout strategy: %v", err)
	}

	log.Printf("[worker] Mirror config: top=%d leaders, poll=%ds, minStake=%.4f, payout=%s",
		cfg.Registry.TopLeaders, cfg.Monitor.PollIntervalSec, cfg.Replication.MinStake, payout.Name())

	// Settlement engine
	settler := syncer.NewSettler(prediction, store, payout, syncer.SettlerConfig{
		Interval:           time.Duration(cfg.Settlement.IntervalSec) * time.Second,
		SafetyMarginRounds: cfg.Settlement.SafetyMarginRounds,
		CatchupInterval:    time.Duration(cfg.Settlement.CatchupMins) * time.Minute,
	})

	// Replication engine
	replicator := syncer.NewReplicator(prediction, directory, store, settler, syncer.ReplicatorConfig{
		MinStake:             cfg.Replication.MinStake,
		QuoteFixedMultiplier: cfg.Settlement.PayoutMode == "fixed",
	})

	// Leader registry and wager monitor
	registry := syncer.NewLeaderRegistry(directory, cfg.Registry.TopLeaders)
	monitor := syncer.NewWagerMonitor(prediction, registry, replicator, syncer.MonitorConfig{
		PollInterval:    time.Duration(cfg.Monitor.PollIntervalSec) * time.Second,
		LookbackBlocks:  cfg.Monitor.LookbackBlocks,
		MaxBlockRange:   cfg.Monitor.MaxBlockRange,
		DedupLimit:      cfg.Monitor.DedupLimit,
		RegistryRefresh: time.Duration(cfg.Registry.RefreshMins) * time.Minute,
	})

	ctx := context.Background()

	if err := settler.Start(ctx); err != nil {
		log.Fatalf("[worker] failed to start settler: %v", err)
	}
	defer settler.Stop()

	if err := monitor.Start(ctx); err != nil {
		log.Fatalf("[worker] failed to start monitor: %v", err)
	}
	defer monitor.Stop()

	// Optional websocket push feed. Pushed events join the same deduped
	// pipeline as polled ones, so running both is safe.
	if os.Getenv("MIRROR_PUSH_FEED") == "true" {
		ws := api.NewPredictionWSClient(func(event models.WagerEvent) {
			monitor.HandlePushEvent(ctx, event)
		})
		if err := ws.Start(ctx); err != nil {
			log.Printf("[worker] push feed unavailable, polling only: %v", err)
		} else {
			defer ws.Stop()
		}
	}

	metrics := syncer.NewMetricsCollector(monitor, replicator, settler, store,
		time.Duration(cfg.Metrics.SnapshotIntervalSec)*time.Second)
	metrics.Start(ctx)
	defer metrics.Stop()

	log.Println("[worker] Mirror worker is running. Press Ctrl+C to stop.")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[worker] Received shutdown signal, stopping gracefully...")
}
