package syncer

import (
	"context"
	"testing"
	"time"

	"prediction-mirror/api"
	"prediction-mirror/models"
	"prediction-mirror/storage"
)

// mirrorFixture wires the whole pipeline, monitor through settler, over
// mocks for E2E tests. Leaders and policies are installed per test.
type mirrorFixture struct {
	monitor    *WagerMonitor
	replicator *Replicator
	settler    *Settler
	registry   *LeaderRegistry
	prediction *api.MockPredictionClient
	directory  *api.MockDirectoryClient
	store      *storage.MockStore
}

func newMirrorFixture(payout PayoutStrategy) *mirrorFixture {
	prediction := api.NewMockPredictionClient()
	directory := api.NewMockDirectoryClient()
	store := storage.NewMockStore()
	settler := NewSettler(prediction, store, payout, SettlerConfig{
		Interval:           time.Second,
		SafetyMarginRounds: 2,
		CatchupInterval:    time.Minute,
	})
	replicator := NewReplicator(prediction, directory, store, settler, ReplicatorConfig{MinStake: 0.001})
	registry := NewLeaderRegistry(directory, 20)
	monitor := NewWagerMonitor(prediction, registry, replicator, MonitorConfig{})

	return &mirrorFixture{
		monitor:    monitor,
		replicator: replicator,
		settler:    settler,
		registry:   registry,
		prediction: prediction,
		directory:  directory,
		store:      store,
	}
}

// E2E Test: wagers from tracked leaders are copied on poll, and the copies
// settle at pool odds once the round resolves
func TestE2E_CopyAndSettleFlow(t *testing.T) {
	f := newMirrorFixture(&PoolProportionalPayout{Fee: 0.05})
	ctx := context.Background()

	f.directory.TopLeaders = []string{"0xbull", "0xbear"}
	f.directory.SetFollowers("0xbull", []string{"0xalice"})
	f.directory.SetFollowers("0xbear", []string{"0xbob"})
	f.directory.SetPolicy(models.FollowPolicy{
		Follower:           "0xalice",
		Leader:             "0xbull",
		AllocationFraction: 0.5,
		Active:             true,
	})
	f.directory.SetPolicy(models.FollowPolicy{
		Follower:           "0xbob",
		Leader:             "0xbear",
		AllocationFraction: 0.25,
		Active:             true,
	})
	if err := f.registry.Refresh(ctx); err != nil {
		t.Fatalf("registry refresh failed: %v", err)
	}

	// Two leaders take opposite sides of round 800
	f.prediction.AddEvent(models.WagerEvent{
		Leader:      "0xbull",
		Epoch:       800,
		Direction:   models.DirectionBull,
		Stake:       20.0,
		BlockNumber: 100,
		TxHash:      "0xaaa",
		ObservedAt:  time.Now().UTC(),
		Source:      "poll",
	})
	f.prediction.AddEvent(models.WagerEvent{
		Leader:      "0xbear",
		Epoch:       800,
		Direction:   models.DirectionBear,
		Stake:       8.0,
		BlockNumber: 101,
		TxHash:      "0xbbb",
		ObservedAt:  time.Now().UTC(),
		Source:      "poll",
	})

	f.monitor.Poll(ctx)

	alice, ok := f.store.GetTradeByFollowerEpoch("0xalice", 800)
	if !ok {
		t.Fatal("alice's copy should exist after the poll")
	}
	if alice.Status != models.StatusPending || !floatEquals(alice.Stake, 10.0, 0.0001) {
		t.Errorf("alice copy = %s/%.4f, want pending/10.0", alice.Status, alice.Stake)
	}
	bob, ok := f.store.GetTradeByFollowerEpoch("0xbob", 800)
	if !ok {
		t.Fatal("bob's copy should exist after the poll")
	}
	if bob.Direction != models.DirectionBear || !floatEquals(bob.Stake, 2.0, 0.0001) {
		t.Errorf("bob copy = %s/%.4f, want bear/2.0", bob.Direction, bob.Stake)
	}

	tracked := f.settler.Tracked()
	if len(tracked) != 1 || tracked[0] != 800 {
		t.Fatalf("tracked = %v, want [800]", tracked)
	}

	// The round closes above the lock: bulls win, bob's side loses
	f.prediction.SetRound(resolvedRound(800, 300.0, 310.0, 40.0, 60.0))
	f.prediction.CurrentEpoch = 805

	f.settler.Sweep(ctx)

	alice, _ = f.store.GetTradeByFollowerEpoch("0xalice", 800)
	if alice.Status != models.StatusWon {
		t.Fatalf("alice status = %s, want %s", alice.Status, models.StatusWon)
	}
	if alice.PNL == nil {
		t.Fatal("alice pnl should be set")
	}
	if !floatEquals(*alice.PNL, 14.25, 0.0001) { // 10 * (60/40) * 0.95
		t.Errorf("alice pnl = %.4f, want 14.25", *alice.PNL)
	}

	bob, _ = f.store.GetTradeByFollowerEpoch("0xbob", 800)
	if bob.Status != models.StatusLost {
		t.Fatalf("bob status = %s, want %s", bob.Status, models.StatusLost)
	}
	if bob.PNL == nil {
		t.Fatal("bob pnl should be set")
	}
	if !floatEquals(*bob.PNL, -2.0, 0.0001) {
		t.Errorf("bob pnl = %.4f, want -2.0", *bob.PNL)
	}

	if f.settler.TrackedCount() != 0 {
		t.Errorf("round 800 should be untracked after settling, still tracking %v", f.settler.Tracked())
	}

	stats, err := f.store.GetTradeStats(ctx)
	if err != nil {
		t.Fatalf("GetTradeStats failed: %v", err)
	}
	if stats.Total != 2 || stats.Won != 1 || stats.Lost != 1 || stats.Pending != 0 {
		t.Errorf("stats = %+v, want 2 total, 1 won, 1 lost", stats)
	}
	if !floatEquals(stats.NetPNL, 12.25, 0.0001) {
		t.Errorf("net pnl = %.4f, want 12.25", stats.NetPNL)
	}

	rounds, trades, _ := f.settler.GetStats()
	if rounds != 1 || trades != 2 {
		t.Errorf("settler stats = %d rounds / %d trades, want 1/2", rounds, trades)
	}
}

// E2E Test: a restart rebuilds the settlement working set from the store
// and resumes settling exactly where the previous run left off
func TestE2E_CrashRecoveryFlow(t *testing.T) {
	f := newMirrorFixture(&PoolProportionalPayout{Fee: 0.05})
	ctx := context.Background()

	// Rows left behind by the previous run: three pending copies across
	// two rounds, plus one trade that already settled
	f.store.UpsertPendingTrade(ctx, pendingTrade("t1", "0xalice", 900, models.DirectionBull, 10.0))
	f.store.UpsertPendingTrade(ctx, pendingTrade("t2", "0xbob", 900, models.DirectionBear, 4.0))
	f.store.UpsertPendingTrade(ctx, pendingTrade("t3", "0xcarol", 901, models.DirectionBull, 6.0))
	f.store.UpsertPendingTrade(ctx, pendingTrade("t4", "0xdave", 899, models.DirectionBull, 5.0))
	f.store.ResolveTrade(ctx, "t4", models.StatusWon, 4.75, time.Now().UTC())

	if err := f.settler.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}

	tracked := f.settler.Tracked()
	if len(tracked) != 2 || tracked[0] != 900 || tracked[1] != 901 {
		t.Fatalf("tracked = %v, want [900 901]", tracked)
	}

	// Round 900 has resolved bull-side while we were down; 901 is still open
	f.prediction.SetRound(resolvedRound(900, 250.0, 260.0, 50.0, 50.0))
	f.prediction.CurrentEpoch = 905

	f.settler.Sweep(ctx)

	t1, _ := f.store.GetTrade("t1")
	if t1.Status != models.StatusWon {
		t.Errorf("t1 status = %s, want %s", t1.Status, models.StatusWon)
	}
	if t1.PNL == nil {
		t.Fatal("t1 pnl should be set")
	}
	if !floatEquals(*t1.PNL, 9.5, 0.0001) { // 10 * (50/50) * 0.95
		t.Errorf("t1 pnl = %.4f, want 9.5", *t1.PNL)
	}
	t2, _ := f.store.GetTrade("t2")
	if t2.Status != models.StatusLost {
		t.Errorf("t2 status = %s, want %s", t2.Status, models.StatusLost)
	}

	t3, _ := f.store.GetTrade("t3")
	if t3.Status != models.StatusPending {
		t.Errorf("t3 status = %s, want still %s", t3.Status, models.StatusPending)
	}
	tracked = f.settler.Tracked()
	if len(tracked) != 1 || tracked[0] != 901 {
		t.Errorf("tracked = %v, want [901]", tracked)
	}
}

// E2E Test: a round that closes exactly at the lock price voids its copies
// with zero pnl
func TestE2E_VoidRoundFlow(t *testing.T) {
	f := newMirrorFixture(&PoolProportionalPayout{Fee: 0.05})
	ctx := context.Background()

	f.directory.TopLeaders = []string{"0xleader1"}
	f.directory.SetFollowers("0xleader1", []string{"0xalice", "0xbob"})
	if err := f.registry.Refresh(ctx); err != nil {
		t.Fatalf("registry refresh failed: %v", err)
	}

	// Default policy applies: both followers copy 10%
	f.prediction.AddEvent(models.WagerEvent{
		Leader:      "0xleader1",
		Epoch:       820,
		Direction:   models.DirectionBull,
		Stake:       30.0,
		BlockNumber: 100,
		TxHash:      "0xccc",
		ObservedAt:  time.Now().UTC(),
		Source:      "poll",
	})

	f.monitor.Poll(ctx)

	if _, ok := f.store.GetTradeByFollowerEpoch("0xalice", 820); !ok {
		t.Fatal("alice's copy should exist after the poll")
	}
	if _, ok := f.store.GetTradeByFollowerEpoch("0xbob", 820); !ok {
		t.Fatal("bob's copy should exist after the poll")
	}

	f.prediction.SetRound(resolvedRound(820, 275.0, 275.0, 45.0, 55.0))
	f.prediction.CurrentEpoch = 825

	f.settler.Sweep(ctx)

	for _, follower := range []string{"0xalice", "0xbob"} {
		trade, _ := f.store.GetTradeByFollowerEpoch(follower, 820)
		if trade.Status != models.StatusVoid {
			t.Errorf("%s trade status = %s, want %s", follower, trade.Status, models.StatusVoid)
		}
		if trade.PNL == nil {
			t.Fatalf("%s trade pnl should be set", follower)
		}
		if *trade.PNL != 0 {
			t.Errorf("%s trade pnl = %.4f, want exactly 0", follower, *trade.PNL)
		}
	}

	stats, err := f.store.GetTradeStats(ctx)
	if err != nil {
		t.Fatalf("GetTradeStats failed: %v", err)
	}
	if stats.Void != 2 || stats.NetPNL != 0 {
		t.Errorf("stats = %+v, want 2 void with zero net pnl", stats)
	}
}
