package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"prediction-mirror/models"
)

// MockStore is an in-memory implementation of TradeStore for testing
type MockStore struct {
	mu sync.RWMutex

	// Storage maps
	Trades          map[string]models.SimulatedTrade // trade ID -> trade
	byFollowerEpoch map[string]string                // follower|epoch -> trade ID

	// Metrics snapshot
	MetricsPayload string
	MetricsSavedAt time.Time

	// Call tracking for assertions
	Calls map[string]int

	// Error injection for testing error paths
	ErrorOnNext map[string]error
}

// NewMockStore creates a new mock store
func NewMockStore() *MockStore {
	return &MockStore{
		Trades:          make(map[string]models.SimulatedTrade),
		byFollowerEpoch: make(map[string]string),
		Calls:           make(map[string]int),
		ErrorOnNext:     make(map[string]error),
	}
}

func (m *MockStore) trackCall(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls[name]++
	if err, ok := m.ErrorOnNext[name]; ok {
		delete(m.ErrorOnNext, name)
		return err
	}
	return nil
}

func (m *MockStore) Close() error {
	return m.trackCall("Close")
}

func (m *MockStore) UpsertPendingTrade(ctx context.Context, trade models.SimulatedTrade) (bool, error) {
	if err := m.trackCall("UpsertPendingTrade"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := tradeKey(trade.Follower, trade.Epoch)
	if _, exists := m.byFollowerEpoch[key]; exists {
		return false, nil
	}

	trade.Status = models.StatusPending
	trade.PNL = nil
	trade.ResolvedAt = nil
	m.Trades[trade.ID] = trade
	m.byFollowerEpoch[key] = trade.ID
	return true, nil
}

func (m *MockStore) ResolveTrade(ctx context.Context, id string, status models.TradeStatus, pnl float64, resolvedAt time.Time) error {
	if err := m.trackCall("ResolveTrade"); err != nil {
		return err
	}
	if !status.Terminal() {
		return fmt.Errorf("mock: %s is not a terminal status", status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	trade, ok := m.Trades[id]
	if !ok || trade.Status.Terminal() {
		return nil
	}

	trade.Status = status
	p := pnl
	trade.PNL = &p
	t := resolvedAt
	trade.ResolvedAt = &t
	m.Trades[id] = trade
	return nil
}

func (m *MockStore) ListPendingEpochs(ctx context.Context) ([]int64, error) {
	if err := m.trackCall("ListPendingEpochs"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[int64]bool)
	var epochs []int64
	for _, trade := range m.Trades {
		if trade.Status == models.StatusPending && !seen[trade.Epoch] {
			seen[trade.Epoch] = true
			epochs = append(epochs, trade.Epoch)
		}
	}
	sort.Slice(epochs, func(i, j int) bool { return epochs[i] < epochs[j] })
	return epochs, nil
}

func (m *MockStore) ListPendingTrades(ctx context.Context, epoch int64) ([]models.SimulatedTrade, error) {
	if err := m.trackCall("ListPendingTrades"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var trades []models.SimulatedTrade
	for _, trade := range m.Trades {
		if trade.Status == models.StatusPending && trade.Epoch == epoch {
			trades = append(trades, trade)
		}
	}
	sort.Slice(trades, func(i, j int) bool { return trades[i].Follower < trades[j].Follower })
	return trades, nil
}

func (m *MockStore) ListFollowerTrades(ctx context.Context, follower string, limit int) ([]models.SimulatedTrade, error) {
	if err := m.trackCall("ListFollowerTrades"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var trades []models.SimulatedTrade
	for _, trade := range m.Trades {
		if trade.Follower == follower {
			trades = append(trades, trade)
		}
	}
	sort.Slice(trades, func(i, j int) bool { return trades[i].Epoch > trades[j].Epoch })
	if limit > 0 && len(trades) > limit {
		trades = trades[:limit]
	}
	return trades, nil
}

func (m *MockStore) ListRecentTrades(ctx context.Context, limit int) ([]models.SimulatedTrade, error) {
	if err := m.trackCall("ListRecentTrades"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	trades := make([]models.SimulatedTrade, 0, len(m.Trades))
	for _, trade := range m.Trades {
		trades = append(trades, trade)
	}
	sort.Slice(trades, func(i, j int) bool {
		if !trades[i].CreatedAt.Equal(trades[j].CreatedAt) {
			return trades[i].CreatedAt.After(trades[j].CreatedAt)
		}
		return trades[i].Epoch > trades[j].Epoch
	})
	if limit > 0 && len(trades) > limit {
		trades = trades[:limit]
	}
	return trades, nil
}

func (m *MockStore) GetTradeStats(ctx context.Context) (models.TradeStats, error) {
	if err := m.trackCall("GetTradeStats"); err != nil {
		return models.TradeStats{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats models.TradeStats
	for _, trade := range m.Trades {
		stats.Total++
		stats.StakeTotal += trade.Stake
		switch trade.Status {
		case models.StatusPending:
			stats.Pending++
			stats.PendingStake += trade.Stake
		case models.StatusWon:
			stats.Won++
		case models.StatusLost:
			stats.Lost++
		case models.StatusVoid:
			stats.Void++
		}
		if trade.PNL != nil {
			stats.NetPNL += *trade.PNL
		}
	}
	return stats, nil
}

func (m *MockStore) SaveMetricsSnapshot(ctx context.Context, payload string) error {
	if err := m.trackCall("SaveMetricsSnapshot"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MetricsPayload = payload
	m.MetricsSavedAt = time.Now()
	return nil
}

func (m *MockStore) GetMetricsSnapshot(ctx context.Context) (string, time.Time, error) {
	if err := m.trackCall("GetMetricsSnapshot"); err != nil {
		return "", time.Time{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.MetricsPayload, m.MetricsSavedAt, nil
}

// GetTrade returns one stored trade by ID (test helper, not part of TradeStore)
func (m *MockStore) GetTrade(id string) (models.SimulatedTrade, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	trade, ok := m.Trades[id]
	return trade, ok
}

// GetTradeByFollowerEpoch returns the trade for one (follower, epoch) pair
// (test helper, not part of TradeStore)
func (m *MockStore) GetTradeByFollowerEpoch(follower string, epoch int64) (models.SimulatedTrade, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byFollowerEpoch[tradeKey(follower, epoch)]
	if !ok {
		return models.SimulatedTrade{}, false
	}
	trade, ok := m.Trades[id]
	return trade, ok
}

func tradeKey(follower string, epoch int64) string {
	return fmt.Sprintf("%s|%d", follower, epoch)
}

// Verify MockStore implements TradeStore
var _ TradeStore = (*MockStore)(nil)
