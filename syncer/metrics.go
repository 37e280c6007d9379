// Package syncer implements the copy-trading pipeline: leader tracking,
// wager monitoring, trade replication, and settlement.
package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"prediction-mirror/models"
	"prediction-mirror/storage"
)

// SystemMetrics represents combined pipeline metrics
type SystemMetrics struct {
	Monitor    MonitorMetrics    `json:"monitor"`
	Replicator ReplicatorMetrics `json:"replicator"`
	Settler    SettlerMetrics    `json:"settler"`
	Trades     models.TradeStats `json:"trades"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// ReplicatorMetrics tracks replication statistics
type ReplicatorMetrics struct {
	EventsReplicated int64
	TradesCreated    int64
	TradesSkipped    int64
	FollowerFailures int64
}

// SettlerMetrics tracks settlement statistics
type SettlerMetrics struct {
	RoundsSettled  int
	TradesResolved int
	TrackedRounds  int
	LastSettleTime time.Time
}

// MetricsCollector periodically snapshots pipeline statistics into the
// trade store, where the inspect tool and dashboards read them back
type MetricsCollector struct {
	monitor    *WagerMonitor
	replicator *Replicator
	settler    *Settler
	store      storage.TradeStore
	interval   time.Duration

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(monitor *WagerMonitor, replicator *Replicator, settler *Settler, store storage.TradeStore, interval time.Duration) *MetricsCollector {
	if interval <= 0 {
		interval = time.Minute
	}
	return &MetricsCollector{
		monitor:    monitor,
		replicator: replicator,
		settler:    settler,
		store:      store,
		interval:   interval,
		stopCh:     make(chan struct{}),
	}
}

// Start begins the snapshot loop
func (c *MetricsCollector) Start(ctx context.Context) {
	if c.running {
		return
	}
	c.running = true
	c.wg.Add(1)
	go c.loop(ctx)
	log.Printf("[Metrics] Started - snapshotting every %v", c.interval)
}

// Stop halts the snapshot loop
func (c *MetricsCollector) Stop() {
	if !c.running {
		return
	}
	c.running = false
	close(c.stopCh)
	c.wg.Wait()
}

func (c *MetricsCollector) loop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			if err := c.Snapshot(ctx); err != nil {
				log.Printf("[Metrics] Snapshot failed: %v", err)
			}
		}
	}
}

// Snapshot collects current statistics from every pipeline stage and
// persists them as one JSON payload
func (c *MetricsCollector) Snapshot(ctx context.Context) error {
	stats, err := c.store.GetTradeStats(ctx)
	if err != nil {
		return fmt.Errorf("trade stats: %w", err)
	}

	eventsReplicated, tradesCreated, tradesSkipped, followerFailures := c.replicator.GetStats()
	roundsSettled, tradesResolved, lastSettle := c.settler.GetStats()

	system := SystemMetrics{
		Monitor: c.monitor.GetMetrics(),
		Replicator: ReplicatorMetrics{
			EventsReplicated: eventsReplicated,
			TradesCreated:    tradesCreated,
			TradesSkipped:    tradesSkipped,
			FollowerFailures: followerFailures,
		},
		Settler: SettlerMetrics{
			RoundsSettled:  roundsSettled,
			TradesResolved: tradesResolved,
			TrackedRounds:  c.settler.TrackedCount(),
			LastSettleTime: lastSettle,
		},
		Trades:    stats,
		UpdatedAt: time.Now(),
	}

	data, err := json.Marshal(system)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	if err := c.store.SaveMetricsSnapshot(ctx, string(data)); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}
