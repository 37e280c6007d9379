package syncer

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"prediction-mirror/api"
	"prediction-mirror/models"
	"prediction-mirror/utils"
)

// MonitorConfig holds wager monitoring parameters
type MonitorConfig struct {
	PollInterval time.Duration
	// How far behind the chain head the cursor starts on boot
	LookbackBlocks uint64
	// Largest block range requested in a single poll
	MaxBlockRange uint64
	// Size bound on the dedup map before arbitrary eviction kicks in
	DedupLimit int
	// How often the leader registry is refreshed
	RegistryRefresh time.Duration
}

// MonitorMetrics tracks event pipeline statistics
type MonitorMetrics struct {
	EventsSeen       int64
	EventsReplicated int64
	EventsDuplicate  int64
	EventsFiltered   int64 // Events from leaders outside the registry
	EventsFailed     int64
	PushEvents       int64 // Events delivered over the websocket feed
	Cursor           uint64
	LastPollTime     time.Time
}

// WagerMonitor polls the chain for wager events from tracked leaders and
// hands them to the replicator. Push events from the websocket feed enter
// through the same filter and dedup pipeline, so a wager seen on both paths
// is replicated once; the rare race where both paths pass the dedup check
// before either marks it is absorbed by the store's first-writer-wins
// upsert.
type WagerMonitor struct {
	prediction api.PredictionClientInterface
	registry   *LeaderRegistry
	replicator *Replicator
	config     MonitorConfig

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	// Next block to poll from. Owned by the poll loop; soft state rebuilt
	// from the lookback window on boot, never persisted.
	cursor uint64

	// (leader, epoch) pairs already handed to the replicator
	seen   map[string]bool
	seenMu sync.Mutex

	metrics   *MonitorMetrics
	metricsMu sync.RWMutex
}

// NewWagerMonitor creates a new wager event monitor
func NewWagerMonitor(prediction api.PredictionClientInterface, registry *LeaderRegistry, replicator *Replicator, config MonitorConfig) *WagerMonitor {
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.MaxBlockRange == 0 {
		config.MaxBlockRange = 2000
	}
	if config.DedupLimit <= 0 {
		config.DedupLimit = 1000
	}
	if config.RegistryRefresh <= 0 {
		config.RegistryRefresh = 10 * time.Minute
	}
	return &WagerMonitor{
		prediction: prediction,
		registry:   registry,
		replicator: replicator,
		config:     config,
		stopCh:     make(chan struct{}),
		seen:       make(map[string]bool),
		metrics:    &MonitorMetrics{},
	}
}

// Start establishes the block cursor and begins the poll and registry
// refresh loops
func (m *WagerMonitor) Start(ctx context.Context) error {
	if m.running {
		return fmt.Errorf("monitor already running")
	}

	// A failed first refresh is not fatal: the refresh loop retries, and
	// until then events simply find no tracked leaders
	if err := m.registry.Refresh(ctx); err != nil {
		log.Printf("[Monitor] Initial registry refresh failed: %v", err)
	}

	latest, err := m.prediction.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("get block number: %w", err)
	}
	if latest > m.config.LookbackBlocks {
		m.cursor = latest - m.config.LookbackBlocks
	}
	m.metrics.Cursor = m.cursor

	m.running = true
	m.wg.Add(2)
	go m.pollLoop(ctx)
	go m.refreshLoop(ctx)

	log.Printf("[Monitor] Started - polling every %v from block %d (%d leaders tracked)",
		m.config.PollInterval, m.cursor, m.registry.Size())
	return nil
}

// Stop halts the monitor loops
func (m *WagerMonitor) Stop() {
	if !m.running {
		return
	}
	m.running = false
	close(m.stopCh)
	m.wg.Wait()

	stats := m.GetMetrics()
	log.Printf("[Monitor] Stopped - %d events seen, %d replicated, %d duplicates, %d filtered",
		stats.EventsSeen, stats.EventsReplicated, stats.EventsDuplicate, stats.EventsFiltered)
}

// GetMetrics returns a snapshot of the pipeline statistics
func (m *WagerMonitor) GetMetrics() MonitorMetrics {
	m.metricsMu.RLock()
	defer m.metricsMu.RUnlock()
	return *m.metrics
}

func (m *WagerMonitor) pollLoop(ctx context.Context) {
	defer m.wg.Done()

	// Run immediately on start
	m.Poll(ctx)

	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.Poll(ctx)
		}
	}
}

func (m *WagerMonitor) refreshLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.RegistryRefresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			if err := m.registry.Refresh(ctx); err != nil {
				log.Printf("[Monitor] Registry refresh failed: %v (keeping %d leaders)", err, m.registry.Size())
			}
		}
	}
}

// Poll fetches wager events for the next block window and runs them through
// the pipeline. The cursor only advances past a window once every event in
// it was either replicated, filtered, deduped, or dropped as malformed; a
// transient failure leaves the cursor in place so the window is replayed,
// with already-replicated events suppressed by the dedup map.
func (m *WagerMonitor) Poll(ctx context.Context) {
	latest, err := m.prediction.BlockNumber(ctx)
	if err != nil {
		log.Printf("[Monitor] Failed to get block number: %v", err)
		return
	}
	if latest < m.cursor {
		return
	}

	from := m.cursor
	to := latest
	if to-from+1 > m.config.MaxBlockRange {
		to = from + m.config.MaxBlockRange - 1
	}

	events, err := m.prediction.GetWagerEvents(ctx, from, to)
	if err != nil {
		log.Printf("[Monitor] Failed to fetch events for blocks %d-%d: %v", from, to, err)
		return
	}

	failed := 0
	for _, event := range events {
		if err := m.handleEvent(ctx, event); err != nil {
			log.Printf("[Monitor] Replication failed for %s epoch %d: %v",
				utils.ShortAddress(event.Leader), event.Epoch, err)
			failed++
		}
	}

	if failed == 0 {
		m.cursor = to + 1
	} else {
		log.Printf("[Monitor] %d events failed in blocks %d-%d, window will be re-polled", failed, from, to)
	}

	m.metricsMu.Lock()
	m.metrics.Cursor = m.cursor
	m.metrics.LastPollTime = time.Now()
	m.metricsMu.Unlock()

	if failed == 0 && to < latest {
		log.Printf("[Monitor] Catching up: polled blocks %d-%d, %d behind head", from, to, latest-to)
	}
}

// HandlePushEvent feeds a websocket-delivered event through the same
// pipeline as polled events. A failed push event is not retried here: it
// was never marked seen, so the poller replays it once the cursor reaches
// its block.
func (m *WagerMonitor) HandlePushEvent(ctx context.Context, event models.WagerEvent) {
	if err := m.handleEvent(ctx, event); err != nil {
		log.Printf("[Monitor] Push event for %s epoch %d failed, poller will retry: %v",
			utils.ShortAddress(event.Leader), event.Epoch, err)
	}
}

// handleEvent runs one event through filter, dedup, and synchronous
// replication. The (leader, epoch) pair is marked seen only after the
// replicator accepts the event; the returned error flags retryable
// failures only, since the replicator swallows malformed events itself.
func (m *WagerMonitor) handleEvent(ctx context.Context, event models.WagerEvent) error {
	m.metricsMu.Lock()
	m.metrics.EventsSeen++
	if event.Source == "push" {
		m.metrics.PushEvents++
	}
	m.metricsMu.Unlock()

	if !m.registry.IsTracked(event.Leader) {
		m.metricsMu.Lock()
		m.metrics.EventsFiltered++
		m.metricsMu.Unlock()
		return nil
	}

	key := dedupKey(event.Leader, event.Epoch)
	if m.isSeen(key) {
		m.metricsMu.Lock()
		m.metrics.EventsDuplicate++
		m.metricsMu.Unlock()
		return nil
	}

	if err := m.replicator.Replicate(ctx, event); err != nil {
		m.metricsMu.Lock()
		m.metrics.EventsFailed++
		m.metricsMu.Unlock()
		return err
	}

	m.markSeen(key)
	m.metricsMu.Lock()
	m.metrics.EventsReplicated++
	m.metricsMu.Unlock()
	return nil
}

func dedupKey(leader string, epoch int64) string {
	return fmt.Sprintf("%s|%d", leader, epoch)
}

func (m *WagerMonitor) isSeen(key string) bool {
	m.seenMu.Lock()
	defer m.seenMu.Unlock()
	return m.seen[key]
}

// markSeen records a replicated pair, evicting arbitrary entries once the
// map outgrows its bound. Evicting a live key is harmless: a replayed
// event reaches the store upsert, which keeps the original trade.
func (m *WagerMonitor) markSeen(key string) {
	m.seenMu.Lock()
	defer m.seenMu.Unlock()
	m.seen[key] = true
	if len(m.seen) > m.config.DedupLimit {
		for k := range m.seen {
			delete(m.seen, k)
			if len(m.seen) <= m.config.DedupLimit/2 {
				break
			}
		}
	}
}
