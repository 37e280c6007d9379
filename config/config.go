package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// RegistryConfig controls which leaders are tracked.
type RegistryConfig struct {
	TopLeaders  int `yaml:"top_leaders"`
	RefreshMins int `yaml:"refresh_minutes"`
}

// MonitorConfig controls wager event polling.
type MonitorConfig struct {
	PollIntervalSec int    `yaml:"poll_interval_sec"`
	LookbackBlocks  uint64 `yaml:"lookback_blocks"`
	MaxBlockRange   uint64 `yaml:"max_block_range"`
	DedupLimit      int    `yaml:"dedup_limit"`
}

// ReplicationConfig controls copy sizing.
type ReplicationConfig struct {
	MinStake float64 `yaml:"min_stake"`
}

// SettlementConfig controls outcome resolution cadence and payout math.
type SettlementConfig struct {
	IntervalSec        int     `yaml:"interval_sec"`
	SafetyMarginRounds int64   `yaml:"safety_margin_rounds"`
	CatchupMins        int     `yaml:"catchup_minutes"`
	PayoutMode         string  `yaml:"payout_mode"` // "pool" or "fixed"
	FeePct             float64 `yaml:"fee_pct"`
}

// MetricsConfig controls snapshot cadence.
type MetricsConfig struct {
	SnapshotIntervalSec int `yaml:"snapshot_interval_sec"`
}

// DataConfig contains persistence-related settings.
type DataConfig struct {
	DBPath string `yaml:"db_path"`
}

// Config aggregates all worker configuration knobs.
type Config struct {
	Registry    RegistryConfig    `yaml:"registry"`
	Monitor     MonitorConfig     `yaml:"monitor"`
	Replication ReplicationConfig `yaml:"replication"`
	Settlement  SettlementConfig  `yaml:"settlement"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Data        DataConfig        `yaml:"data"`
}

// Load reads configuration from disk, falling back to defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	configPath := path
	if configPath == "" {
		configPath = filepath.Join("config", "default.yaml")
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("config: unable to read %s: %w", configPath, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: unable to parse %s: %w", configPath, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns baseline configuration values.
func Default() Config {
	return Config{
		Registry: RegistryConfig{
			TopLeaders:  20,
			RefreshMins: 10,
		},
		Monitor: MonitorConfig{
			PollIntervalSec: 5,
			LookbackBlocks:  600, // ~30 minutes of 3s blocks
			MaxBlockRange:   2000,
			DedupLimit:      1000,
		},
		Replication: ReplicationConfig{
			MinStake: 0.001,
		},
		Settlement: SettlementConfig{
			IntervalSec:        30,
			SafetyMarginRounds: 2,
			CatchupMins:        10,
			PayoutMode:         "pool",
			FeePct:             0.03,
		},
		Metrics: MetricsConfig{
			SnapshotIntervalSec: 60,
		},
		Data: DataConfig{
			DBPath: "data/mirror.db",
		},
	}
}

func (c *Config) applyDefaults() {
	def := Default()

	if c.Registry.TopLeaders == 0 {
		c.Registry.TopLeaders = def.Registry.TopLeaders
	}
	if c.Registry.RefreshMins == 0 {
		c.Registry.RefreshMins = def.Registry.RefreshMins
	}

	if c.Monitor.PollIntervalSec == 0 {
		c.Monitor.PollIntervalSec = def.Monitor.PollIntervalSec
	}
	if c.Monitor.LookbackBlocks == 0 {
		c.Monitor.LookbackBlocks = def.Monitor.LookbackBlocks
	}
	if c.Monitor.MaxBlockRange == 0 {
		c.Monitor.MaxBlockRange = def.Monitor.MaxBlockRange
	}
	if c.Monitor.DedupLimit == 0 {
		c.Monitor.DedupLimit = def.Monitor.DedupLimit
	}

	if c.Replication.MinStake == 0 {
		c.Replication.MinStake = def.Replication.MinStake
	}

	if c.Settlement.IntervalSec == 0 {
		c.Settlement.IntervalSec = def.Settlement.IntervalSec
	}
	if c.Settlement.SafetyMarginRounds == 0 {
		c.Settlement.SafetyMarginRounds = def.Settlement.SafetyMarginRounds
	}
	if c.Settlement.CatchupMins == 0 {
		c.Settlement.CatchupMins = def.Settlement.CatchupMins
	}
	if c.Settlement.PayoutMode == "" {
		c.Settlement.PayoutMode = def.Settlement.PayoutMode
	}

	if c.Metrics.SnapshotIntervalSec == 0 {
		c.Metrics.SnapshotIntervalSec = def.Metrics.SnapshotIntervalSec
	}

	if c.Data.DBPath == "" {
		c.Data.DBPath = def.Data.DBPath
	}
}
