package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"prediction-mirror/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// PostgresStore wraps PostgreSQL persistence with Redis caching
type PostgresStore struct {
	pool  *pgxpool.Pool
	redis *redis.Client
}

// NewPostgres creates a new PostgreSQL store with connection pooling and Redis cache
func NewPostgres() (*PostgresStore, error) {
	// Build PostgreSQL connection string
	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	user := getEnv("POSTGRES_USER", "mirror")
	password := getEnv("POSTGRES_PASSWORD", "mirror123")
	dbname := getEnv("POSTGRES_DB", "mirror")

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?pool_max_conns=20&pool_min_conns=5",
		user, password, host, port, dbname)

	// Configure connection pool
	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}

	config.MaxConns = 20
	config.MinConns = 5
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute
	config.HealthCheckPeriod = 30 * time.Second

	// Add query timeout to prevent slow queries from hanging
	config.ConnConfig.RuntimeParams["statement_timeout"] = "30000"      // 30 seconds max per query
	config.ConnConfig.RuntimeParams["lock_timeout"] = "10000"           // 10 seconds max for locks
	config.ConnConfig.RuntimeParams["idle_in_transaction_session_timeout"] = "60000" // 60 seconds

	// Create pool
	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	// Initialize Redis
	redisHost := getEnv("REDIS_HOST", "localhost")
	redisPort := getEnv("REDIS_PORT", "6379")
	redisPassword := getEnv("REDIS_PASSWORD", "")

	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", redisHost, redisPort),
		Password:     redisPassword,
		DB:           0,
		PoolSize:     20,
		MinIdleConns: 5,
		MaxRetries:   3,
	})

	// Test Redis connection
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	store := &PostgresStore{
		pool:  pool,
		redis: rdb,
	}

	if err := store.ensureSchema(context.Background()); err != nil {
		store.Close()
		return nil, err
	}

	return store, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS simulated_trades (
		id TEXT PRIMARY KEY,
		follower TEXT NOT NULL,
		leader TEXT NOT NULL,
		epoch BIGINT NOT NULL,
		direction TEXT NOT NULL,
		stake DOUBLE PRECISION NOT NULL,
		multiplier DOUBLE PRECISION NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		pnl DOUBLE PRECISION,
		created_at TIMESTAMPTZ NOT NULL,
		resolved_at TIMESTAMPTZ,
		UNIQUE (follower, epoch)
	);

	CREATE INDEX IF NOT EXISTS idx_trades_status_epoch ON simulated_trades(status, epoch);
	CREATE INDEX IF NOT EXISTS idx_trades_follower_epoch ON simulated_trades(follower, epoch DESC);

	CREATE TABLE IF NOT EXISTS metrics_snapshots (
		id INT PRIMARY KEY CHECK (id = 1),
		payload TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	`

	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return nil
}

// Close releases database connections
func (s *PostgresStore) Close() error {
	if s.redis != nil {
		s.redis.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// UpsertPendingTrade inserts a pending trade unless one already exists for
// the same (follower, epoch). The first writer wins. Returns whether a row
// was inserted.
func (s *PostgresStore) UpsertPendingTrade(ctx context.Context, trade models.SimulatedTrade) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO simulated_trades (
			id, follower, leader, epoch, direction, stake, multiplier, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (follower, epoch) DO NOTHING`,
		trade.ID, trade.Follower, trade.Leader, trade.Epoch, string(trade.Direction),
		trade.Stake, trade.Multiplier, string(models.StatusPending), trade.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: upsert trade: %w", err)
	}

	inserted := tag.RowsAffected() > 0
	if inserted {
		s.invalidateTradeCaches(ctx, trade.Follower)
	}
	return inserted, nil
}

// ResolveTrade moves a pending trade to a terminal status. Already-terminal
// trades are left untouched.
func (s *PostgresStore) ResolveTrade(ctx context.Context, id string, status models.TradeStatus, pnl float64, resolvedAt time.Time) error {
	if !status.Terminal() {
		return fmt.Errorf("postgres: %s is not a terminal status", status)
	}

	var follower string
	err := s.pool.QueryRow(ctx, `
		UPDATE simulated_trades
		SET status = $1, pnl = $2, resolved_at = $3
		WHERE id = $4 AND status = $5
		RETURNING follower`,
		string(status), pnl, resolvedAt, id, string(models.StatusPending)).Scan(&follower)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Already terminal (or unknown id): nothing to do
			return nil
		}
		return fmt.Errorf("postgres: resolve trade %s: %w", id, err)
	}

	s.invalidateTradeCaches(ctx, follower)
	return nil
}

// ListPendingEpochs returns the distinct epochs that still have pending trades
func (s *PostgresStore) ListPendingEpochs(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT epoch FROM simulated_trades
		WHERE status = $1
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

// ListPendingTrades returns all pending trades for one epoch
func (s *PostgresStore) ListPendingTrades(ctx context.Context, epoch int64) ([]models.SimulatedTrade, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, follower, leader, epoch, direction, stake, multiplier, status, pnl, created_at, resolved_at
		FROM simulated_trades
		WHERE status = $1 AND epoch = $2
		ORDER BY follower ASC`, string(models.StatusPending), epoch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTradePgRows(rows)
}

// ListFollowerTrades returns trades with Redis caching
func (s *PostgresStore) ListFollowerTrades(ctx context.Context, follower string, limit int) ([]models.SimulatedTrade, error) {
	if limit <= 0 {
		limit = 200
	}

	// Check Redis cache first
	cacheKey := fmt.Sprintf("trades:%s:%d", follower, limit)
	cached, err := s.redis.Get(ctx, cacheKey).Bytes()
	if err == nil {
		var trades []models.SimulatedTrade
		if json.Unmarshal(cached, &trades) == nil {
			return trades, nil
		}
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, follower, leader, epoch, direction, stake, multiplier, status, pnl, created_at, resolved_at
		FROM simulated_trades
		WHERE follower = $1
		ORDER BY epoch DESC
		LIMIT $2`, follower, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	trades, err := scanTradePgRows(rows)
	if err != nil {
		return nil, err
	}

	// Cache for 2 minutes
	if data, err := json.Marshal(trades); err == nil {
		s.redis.Set(ctx, cacheKey, data, 2*time.Minute)
	}

	return trades, nil
}

// ListRecentTrades returns the most recently created trades across all followers
func (s *PostgresStore) ListRecentTrades(ctx context.Context, limit int) ([]models.SimulatedTrade, error) {
	if limit <= 0 {
		limit = 100
	}

	cacheKey := fmt.Sprintf("recent_trades:%d", limit)
	cached, err := s.redis.Get(ctx, cacheKey).Bytes()
	if err == nil {
		var trades []models.SimulatedTrade
		if json.Unmarshal(cached, &trades) == nil {
			return trades, nil
		}
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, follower, leader, epoch, direction, stake, multiplier, status, pnl, created_at, resolved_at
		FROM simulated_trades
		ORDER BY created_at DESC, epoch DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	trades, err := scanTradePgRows(rows)
	if err != nil {
		return nil, err
	}

	// Recent trades churn quickly, keep the cache short
	if data, err := json.Marshal(trades); err == nil {
		s.redis.Set(ctx, cacheKey, data, 30*time.Second)
	}

	return trades, nil
}

// GetTradeStats aggregates trade counts and realized PnL with Redis caching
func (s *PostgresStore) GetTradeStats(ctx context.Context) (models.TradeStats, error) {
	const cacheKey = "trade_stats"
	cached, err := s.redis.Get(ctx, cacheKey).Bytes()
	if err == nil {
		var stats models.TradeStats
		if json.Unmarshal(cached, &stats) == nil {
			return stats, nil
		}
	}

	row := s.pool.QueryRow(ctx, `
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

	if data, err := json.Marshal(stats); err == nil {
		s.redis.Set(ctx, cacheKey, data, 30*time.Second)
	}

	return stats, nil
}

// SaveMetricsSnapshot stores the latest metrics payload in Postgres and Redis
func (s *PostgresStore) SaveMetricsSnapshot(ctx context.Context, payload string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO metrics_snapshots (id, payload, updated_at)
		VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET
			payload = EXCLUDED.payload,
			updated_at = EXCLUDED.updated_at`, payload)
	if err != nil {
		return fmt.Errorf("postgres: save metrics snapshot: %w", err)
	}

	s.redis.Set(ctx, "metrics:latest", payload, 24*time.Hour)
	return nil
}

// GetMetricsSnapshot returns the latest metrics payload and its timestamp
func (s *PostgresStore) GetMetricsSnapshot(ctx context.Context) (string, time.Time, error) {
	row := s.pool.QueryRow(ctx, `SELECT payload, updated_at FROM metrics_snapshots WHERE id = 1`)

	var payload string
	var updatedAt time.Time
	if err := row.Scan(&payload, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", time.Time{}, nil
		}
		return "", time.Time{}, err
	}
	return payload, updatedAt, nil
}

func (s *PostgresStore) invalidateTradeCaches(ctx context.Context, follower string) {
	s.redis.Del(ctx, "trade_stats")

	if keys, err := s.redis.Keys(ctx, "recent_trades:*").Result(); err == nil && len(keys) > 0 {
		s.redis.Del(ctx, keys...)
	}
	if keys, err := s.redis.Keys(ctx, fmt.Sprintf("trades:%s:*", follower)).Result(); err == nil && len(keys) > 0 {
		s.redis.Del(ctx, keys...)
	}
}

func scanTradePgRows(rows pgx.Rows) ([]models.SimulatedTrade, error) {
	var trades []models.SimulatedTrade
	for rows.Next() {
		var trade models.SimulatedTrade
		var direction, status string
		var pnl *float64
		var resolvedAt *time.Time

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
			&trade.CreatedAt,
			&resolvedAt,
		); err != nil {
			return nil, err
		}

		trade.Direction = models.Direction(direction)
		trade.Status = models.TradeStatus(status)
		trade.PNL = pnl
		trade.ResolvedAt = resolvedAt
		trades = append(trades, trade)
	}
	return trades, rows.Err()
}
