package models

import "time"

// Round is a snapshot of one on-chain prediction round.
type Round struct {
	Epoch        int64     `json:"epoch"`
	StartTime    time.Time `json:"start_time"`
	LockTime     time.Time `json:"lock_time"`
	CloseTime    time.Time `json:"close_time"`
	LockPrice    float64   `json:"lock_price"`
	ClosePrice   float64   `json:"close_price"`
	BullAmount   float64   `json:"bull_amount"`
	BearAmount   float64   `json:"bear_amount"`
	TotalAmount  float64   `json:"total_amount"`
	OracleCalled bool      `json:"oracle_called"`
}

// RoundOutcome is the settlement view of a round derived from a Round
// snapshot.
type RoundOutcome struct {
	Epoch       int64     `json:"epoch"`
	Resolved    bool      `json:"resolved"`
	Void        bool      `json:"void"`
	Winner      Direction `json:"winner,omitempty"`
	WinningPool float64   `json:"winning_pool"`
	LosingPool  float64   `json:"losing_pool"`
}

// Outcome derives the settlement outcome from a round snapshot.
//
// A round only counts as resolved once the oracle has written the close
// price. A round that claims resolution but carries a zero close price is
// inconsistent; it is reported unresolved so the caller keeps retrying
// instead of guessing a winner. Equal lock and close prices void the round.
func (r *Round) Outcome() RoundOutcome {
	out := RoundOutcome{Epoch: r.Epoch}

	if !r.OracleCalled {
		return out
	}
	if r.ClosePrice == 0 {
		// Oracle flag set but no close price: inconsistent round state,
		// treat as not yet resolved.
		return out
	}

	out.Resolved = true

	if r.ClosePrice == r.LockPrice {
		out.Void = true
		return out
	}

	if r.ClosePrice < r.LockPrice {
		out.Winner = DirectionBear
		out.WinningPool = r.BearAmount
		out.LosingPool = r.BullAmount
	} else {
		out.Winner = DirectionBull
		out.WinningPool = r.BullAmount
		out.LosingPool = r.BearAmount
	}
	return out
}
