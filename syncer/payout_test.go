package syncer

import (
	"testing"

	"prediction-mirror/models"
)

func TestPoolProportionalWinPNL(t *testing.T) {
	tests := []struct {
		name        string
		stake       float64
		winningPool float64
		losingPool  float64
		fee         float64
		want        float64
	}{
		{
			name:        "winners split losing pool less fee",
			stake:       10.0,
			winningPool: 40.0,
			losingPool:  60.0,
			fee:         0.05,
			want:        14.25, // 10 * (60/40) * 0.95
		},
		{
			name:        "no fee",
			stake:       10.0,
			winningPool: 40.0,
			losingPool:  60.0,
			fee:         0,
			want:        15.0,
		},
		{
			name:        "balanced pools",
			stake:       10.0,
			winningPool: 50.0,
			losingPool:  50.0,
			fee:         0.03,
			want:        9.7, // 10 * 1.0 * 0.97
		},
		{
			name:        "small stake in lopsided round",
			stake:       0.5,
			winningPool: 200.0,
			losingPool:  20.0,
			fee:         0.03,
			want:        0.0485, // 0.5 * 0.1 * 0.97
		},
		{
			name:        "empty winning pool settles flat",
			stake:       10.0,
			winningPool: 0,
			losingPool:  60.0,
			fee:         0.05,
			want:        0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			strategy := &PoolProportionalPayout{Fee: tt.fee}
			trade := models.SimulatedTrade{Stake: tt.stake, Direction: models.DirectionBull}
			outcome := models.RoundOutcome{
				Resolved:    true,
				Winner:      models.DirectionBull,
				WinningPool: tt.winningPool,
				LosingPool:  tt.losingPool,
			}

			got := strategy.WinPNL(trade, outcome)
			if !floatEquals(got, tt.want, 0.0001) {
				t.Errorf("WinPNL() = %.6f, want %.6f", got, tt.want)
			}
		})
	}
}

func TestFixedMultiplierWinPNL(t *testing.T) {
	tests := []struct {
		name       string
		stake      float64
		multiplier float64
		want       float64
	}{
		{"captured quote pays out", 10.0, 1.98, 9.8}, // 10 * (1.98 - 1)
		{"double or nothing", 10.0, 2.0, 10.0},
		{"missing quote settles flat", 10.0, 0, 0},
		{"degenerate quote settles flat", 10.0, 1.0, 0},
		{"sub-par quote settles flat", 10.0, 0.8, 0},
	}

	strategy := &FixedMultiplierPayout{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trade := models.SimulatedTrade{Stake: tt.stake, Multiplier: tt.multiplier}
			got := strategy.WinPNL(trade, models.RoundOutcome{Resolved: true, Winner: models.DirectionBull})
			if !floatEquals(got, tt.want, 0.0001) {
				t.Errorf("WinPNL() = %.4f, want %.4f", got, tt.want)
			}
		})
	}
}

func TestNewPayoutStrategy(t *testing.T) {
	tests := []struct {
		mode     string
		wantName string
		wantErr  bool
	}{
		{"pool", "pool-proportional", false},
		{"", "pool-proportional", false}, // default mode
		{"fixed", "fixed-multiplier", false},
		{"martingale", "", true},
	}

	for _, tt := range tests {
		t.Run("mode "+tt.mode, func(t *testing.T) {
			strategy, err := NewPayoutStrategy(tt.mode, 0.03)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error for unknown mode")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if strategy.Name() != tt.wantName {
				t.Errorf("Name() = %s, want %s", strategy.Name(), tt.wantName)
			}
		})
	}
}
