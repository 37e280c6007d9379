package syncer

import (
	"fmt"

	"prediction-mirror/models"
)

// PayoutStrategy computes the realized profit for a winning trade. Losses
// always realize -stake and voided trades always realize 0, so only the win
// side varies by strategy.
type PayoutStrategy interface {
	WinPNL(trade models.SimulatedTrade, outcome models.RoundOutcome) float64
	Name() string
}

// PoolProportionalPayout pays winners their share of the losing pool, the
// way the on-chain game does: stake * (losingPool / winningPool), less the
// protocol fee.
type PoolProportionalPayout struct {
	Fee float64 // protocol fee fraction, e.g. 0.03
}

func (p *PoolProportionalPayout) WinPNL(trade models.SimulatedTrade, outcome models.RoundOutcome) float64 {
	if outcome.WinningPool <= 0 {
		return 0
	}
	return trade.Stake * (outcome.LosingPool / outcome.WinningPool) * (1 - p.Fee)
}

func (p *PoolProportionalPayout) Name() string {
	return "pool-proportional"
}

// FixedMultiplierPayout pays winners according to the payout quote captured
// when the copy was created: stake * (multiplier - 1). The pools at
// settlement time are ignored.
type FixedMultiplierPayout struct{}

func (p *FixedMultiplierPayout) WinPNL(trade models.SimulatedTrade, outcome models.RoundOutcome) float64 {
	// A missing or degenerate quote settles flat rather than negative
	if trade.Multiplier <= 1 {
		return 0
	}
	return trade.Stake * (trade.Multiplier - 1)
}

func (p *FixedMultiplierPayout) Name() string {
	return "fixed-multiplier"
}

// NewPayoutStrategy builds the strategy named by the settlement config
func NewPayoutStrategy(mode string, fee float64) (PayoutStrategy, error) {
	switch mode {
	case "pool", "":
		return &PoolProportionalPayout{Fee: fee}, nil
	case "fixed":
		return &FixedMultiplierPayout{}, nil
	}
	return nil, fmt.Errorf("unknown payout mode %q", mode)
}
