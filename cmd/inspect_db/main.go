package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"prediction-mirror/config"
	"prediction-mirror/models"
	"prediction-mirror/storage"
	"prediction-mirror/syncer"
	"prediction-mirror/utils"

	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
)

func main() {
	follower := flag.String("follower", "", "only show trades for this follower address")
	limit := flag.Int("limit", 20, "number of recent trades to show")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load(os.Getenv("MIRROR_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var store storage.TradeStore
	if os.Getenv("MIRROR_STORAGE") == "postgres" {
		pg, err := storage.NewPostgres()
		if err != nil {
			log.Fatalf("Failed to connect to postgres: %v", err)
		}
		store = pg
	} else {
		st, err := storage.New(cfg.Data.DBPath)
		if err != nil {
			log.Fatalf("Failed to open %s: %v", cfg.Data.DBPath, err)
		}
		store = st
	}
	defer store.Close()

	ctx := context.Background()

	stats, err := store.GetTradeStats(ctx)
	if err != nil {
		log.Fatalf("Failed to load trade stats: %v", err)
	}

	fmt.Println("\n--- Simulated trades ---")
	fmt.Printf("Total: %d (pending %d, won %d, lost %d, void %d)\n",
		stats.Total, stats.Pending, stats.Won, stats.Lost, stats.Void)
	fmt.Printf("Staked: %.4f  Net PnL: %+.4f  Pending stake: %.4f\n",
		stats.StakeTotal, stats.NetPNL, stats.PendingStake)

	epochs, err := store.ListPendingEpochs(ctx)
	if err != nil {
		log.Fatalf("Failed to list pending rounds: %v", err)
	}
	if len(epochs) > 0 {
		fmt.Printf("Awaiting settlement: %d rounds (oldest %d, newest %d)\n",
			len(epochs), epochs[0], epochs[len(epochs)-1])
	}

	var trades []models.SimulatedTrade
	if *follower != "" {
		trades, err = store.ListFollowerTrades(ctx, *follower, *limit)
	} else {
		trades, err = store.ListRecentTrades(ctx, *limit)
	}
	if err != nil {
		log.Fatalf("Failed to list trades: %v", err)
	}

	if len(trades) == 0 {
		fmt.Println("\nNo trades recorded yet.")
	} else {
		fmt.Printf("\n--- Last %d trades ---\n", len(trades))
		tbl := tablewriter.NewWriter(os.Stdout)
		tbl.Header("Epoch", "Follower", "Leader", "Dir", "Stake", "Status", "PnL", "Created")

		for _, t := range trades {
			pnl := "-"
			if t.PNL != nil {
				pnl = fmt.Sprintf("%+.4f", *t.PNL)
			}
			tbl.Append(
				fmt.Sprintf("%d", t.Epoch),
				utils.ShortAddress(t.Follower),
				utils.ShortAddress(t.Leader),
				string(t.Direction),
				fmt.Sprintf("%.4f", t.Stake),
				string(t.Status),
				pnl,
				t.CreatedAt.Format("01-02 15:04:05"),
			)
		}
		tbl.Render()
	}

	payload, savedAt, err := store.GetMetricsSnapshot(ctx)
	if err != nil {
		log.Fatalf("Failed to load metrics snapshot: %v", err)
	}
	if payload == "" {
		fmt.Println("\nNo metrics snapshot saved yet.")
		return
	}

	var system syncer.SystemMetrics
	if err := json.Unmarshal([]byte(payload), &system); err != nil {
		log.Fatalf("Failed to decode metrics snapshot: %v", err)
	}

	fmt.Printf("\n--- Pipeline snapshot (%s) ---\n", savedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Monitor:    %d seen, %d replicated, %d duplicate, %d filtered (cursor %d)\n",
		system.Monitor.EventsSeen, system.Monitor.EventsReplicated,
		system.Monitor.EventsDuplicate, system.Monitor.EventsFiltered, system.Monitor.Cursor)
	fmt.Printf("Replicator: %d events, %d trades created, %d skipped, %d follower failures\n",
		system.Replicator.EventsReplicated, system.Replicator.TradesCreated,
		system.Replicator.TradesSkipped, system.Replicator.FollowerFailures)
	fmt.Printf("Settler:    %d rounds settled, %d trades resolved, %d still tracked\n",
		system.Settler.RoundsSettled, system.Settler.TradesResolved, system.Settler.TrackedRounds)
}
