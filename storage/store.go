package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"prediction-mirror/models"

	_ "modernc.org/sqlite"
)

// Store wraps SQLite persistence for simulated trades.
type Store struct {
	db *sql.DB
}

// New opens (and creates if needed) the SQLite database at dbPath.
func New(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("storage: db path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("storage: mkdir %s: %w", filepath.Dir(dbPath), err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(0)

	store := &Store{db: db}
	if err := store.runMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// UpsertPendingTrade inserts a pending trade unless one already exists for
// the same (follower, epoch). The first writer wins; replays and duplicate
// events are ignored. Returns whether a row was inserted.
func (s *Store) UpsertPendingTrade(ctx context.Context, trade models.SimulatedTrade) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
        INSERT INTO simulated_trades (
            id, follower, leader, epoch, direction, stake, multiplier, status, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(follower, epoch) DO NOTHING`,
		trade.ID,
		trade.Follower,
		trade.Leader,
		trade.Epoch,
		string(trade.Direction),
		trade.Stake,
		trade.Multiplier,
		string(models.StatusPending),
		timeString(trade.CreatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("storage: upsert trade: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("storage: upsert trade: %w", err)
	}
	return rows > 0, nil
}

// ResolveTrade moves a pending trade to a terminal status. Trades that are
// already terminal are left untouched, so settlement retries are idempotent.
func (s *Store) ResolveTrade(ctx context.Context, id string, status models.TradeStatus, pnl float64, resolvedAt time.Time) error {
	if !status.Terminal() {
		return fmt.Errorf("storage: %s is not a terminal status", status)
	}

	_, err := s.db.ExecContext(ctx, `
        UPDATE simulated_trades
        SET status = ?, pnl = ?, resolved_at = ?
        WHERE id = ? AND status = ?`,
		string(status), pnl, timeString(resolvedAt), id, string(models.StatusPending))
	if err != nil {
		return fmt.Errorf("storage: resolve trade %s: %w", id, err)
	}
	return nil
}

// ListPendingEpochs returns the distinct epochs that still have pending
// trades, oldest first. Used to rebuild the settlement working set on boot.
func (s *Store) ListPendingEpochs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT DISTINCT epoch FROM simulated_trades
        WHERE status = ?
        ORDER BY epoch ASC`, string(models.StatusPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var epochs []int64
	for rows.Next() {
		var epoch int64
		if err := rows.Scan(&epoch); err != nil {
			return nil, err
		}
		epochs = append(epochs, epoch)
	}
	return epochs, rows.Err()
}

// ListPendingTrades returns all pending trades for one epoch.
func (s *Store) ListPendingTrades(ctx context.Context, epoch int64) ([]models.SimulatedTrade, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, follower, leader, epoch, direction, stake, multiplier, status, pnl, created_at, resolved_at
        FROM simulated_trades
        WHERE status = ? AND epoch = ?
        ORDER BY follower ASC`, string(models.StatusPending), epoch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

// ListFollowerTrades returns the most recent trades for a follower.
func (s *Store) ListFollowerTrades(ctx context.Context, follower string, limit int) ([]models.SimulatedTrade, error) {
	if limit <= 0 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
        SELECT id, follower, leader, epoch, direction, stake, multiplier, status, pnl, created_at, resolved_at
        FROM simulated_trades
        WHERE follower = ?
        ORDER BY epoch DESC
        LIMIT ?`, follower, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

// ListRecentTrades returns the most recently created trades across all
// followers.
func (s *Store) ListRecentTrades(ctx context.Context, limit int) ([]models.SimulatedTrade, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
        SELECT id, follower, leader, epoch, direction, stake, multiplier, status, pnl, created_at, resolved_at
        FROM simulated_trades
        ORDER BY datetime(created_at) DESC, epoch DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

// GetTradeStats aggregates trade counts and realized PnL.
func (s *Store) GetTradeStats(ctx context.Context) (models.TradeStats, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT
            COUNT(*),
            COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
            COALESCE(SUM(CASE WHEN status = 'won' THEN 1 ELSE 0 END), 0),
            COALESCE(SUM(CASE WHEN status = 'lost' THEN 1 ELSE 0 END), 0),
            COALESCE(SUM(CASE WHEN status = 'void' THEN 1 ELSE 0 END), 0),
            COALESCE(SUM(stake), 0),
            COALESCE(SUM(pnl), 0),
            COALESCE(SUM(CASE WHEN status = 'pending' THEN stake ELSE 0 END), 0)
        FROM simulated_trades`)

	var stats models.TradeStats
	if err := row.Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Won,
		&stats.Lost,
		&stats.Void,
		&stats.StakeTotal,
		&stats.NetPNL,
		&stats.PendingStake,
	); err != nil {
		return models.TradeStats{}, err
	}
	return stats, nil
}

// SaveMetricsSnapshot stores the latest metrics payload (single row).
func (s *Store) SaveMetricsSnapshot(ctx context.Context, payload string) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO metrics_snapshots (id, payload, updated_at)
        VALUES (1, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            payload = excluded.payload,
            updated_at = excluded.updated_at`,
		payload, timeString(time.Now()))
	return err
}

// GetMetricsSnapshot returns the latest metrics payload and its timestamp.
func (s *Store) GetMetricsSnapshot(ctx context.Context) (string, time.Time, error) {
	row := s.db.QueryRowContext(ctx, `SELECT payload, updated_at FROM metrics_snapshots WHERE id = 1`)

	var payload string
	var updatedAt sql.NullString
	if err := row.Scan(&payload, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", time.Time{}, nil
		}
		return "", time.Time{}, err
	}

	var ts time.Time
	if updatedAt.Valid {
		if parsed, err := time.Parse(time.RFC3339, updatedAt.String); err == nil {
			ts = parsed
		}
	}
	return payload, ts, nil
}

func scanTrades(rows *sql.Rows) ([]models.SimulatedTrade, error) {
	var trades []models.SimulatedTrade
	for rows.Next() {
		var trade models.SimulatedTrade
		var direction, status string
		var pnl sql.NullFloat64
		var createdAt, resolvedAt sql.NullString
		if err := rows.Scan(
			&trade.ID,
			&trade.Follower,
			&trade.Leader,
			&trade.Epoch,
			&direction,
			&trade.Stake,
			&trade.Multiplier,
			&status,
			&pnl,
			&createdAt,
			&resolvedAt,
		); err != nil {
			return nil, err
		}
		trade.Direction = models.Direction(direction)
		trade.Status = models.TradeStatus(status)
		if pnl.Valid {
			v := pnl.Float64
			trade.PNL = &v
		}
		if createdAt.Valid {
			if parsed, err := time.Parse(time.RFC3339, createdAt.String); err == nil {
				trade.CreatedAt = parsed
			}
		}
		if resolvedAt.Valid {
			if parsed, err := time.Parse(time.RFC3339, resolvedAt.String); err == nil {
				trade.ResolvedAt = &parsed
			}
		}
		trades = append(trades, trade)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return trades, nil
}

func (s *Store) runMigrations(ctx context.Context) error {
	const schema = `
    CREATE TABLE IF NOT EXISTS simulated_trades (
        id TEXT PRIMARY KEY,
        follower TEXT NOT NULL,
        leader TEXT NOT NULL,
        epoch INTEGER NOT NULL,
        direction TEXT NOT NULL,
        stake REAL NOT NULL,
        multiplier REAL NOT NULL DEFAULT 0,
        status TEXT NOT NULL DEFAULT 'pending',
        pnl REAL,
        created_at TEXT NOT NULL,
        resolved_at TEXT,
        UNIQUE (follower, epoch)
    );

    CREATE INDEX IF NOT EXISTS idx_trades_status_epoch ON simulated_trades(status, epoch);
    CREATE INDEX IF NOT EXISTS idx_trades_follower_epoch ON simulated_trades(follower, epoch DESC);

    CREATE TABLE IF NOT EXISTS metrics_snapshots (
        id INTEGER PRIMARY KEY CHECK (id = 1),
        payload TEXT NOT NULL,
        updated_at TEXT
    );
    `

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func timeString(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
