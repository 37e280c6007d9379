package storage

import (
	"context"
	"time"

	"prediction-mirror/models"
)

// TradeStore defines the interface for simulated trade persistence
type TradeStore interface {
	Close() error

	// Trade lifecycle
	UpsertPendingTrade(ctx context.Context, trade models.SimulatedTrade) (bool, error)
	ResolveTrade(ctx context.Context, id string, status models.TradeStatus, pnl float64, resolvedAt time.Time) error

	// Settlement working set
	ListPendingEpochs(ctx context.Context) ([]int64, error)
	ListPendingTrades(ctx context.Context, epoch int64) ([]models.SimulatedTrade, error)

	// Reporting
	ListFollowerTrades(ctx context.Context, follower string, limit int) ([]models.SimulatedTrade, error)
	ListRecentTrades(ctx context.Context, limit int) ([]models.SimulatedTrade, error)
	GetTradeStats(ctx context.Context) (models.TradeStats, error)

	// Metrics snapshots
	SaveMetricsSnapshot(ctx context.Context, payload string) error
	GetMetricsSnapshot(ctx context.Context) (string, time.Time, error)
}

// Ensure both implementations satisfy the interface
var _ TradeStore = (*Store)(nil)
var _ TradeStore = (*PostgresStore)(nil)
