package models

import (
	"fmt"
	"time"
)

// Direction is the side of a binary round wager
type Direction string

const (
	DirectionBull Direction = "bull"
	DirectionBear Direction = "bear"
)

// ParseDirection validates a raw direction value. Unknown values are a
// contract error and must not be retried.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case DirectionBull:
		return DirectionBull, nil
	case DirectionBear:
		return DirectionBear, nil
	}
	return "", fmt.Errorf("unknown direction %q", s)
}

// TradeStatus is the lifecycle state of a simulated trade
type TradeStatus string

const (
	StatusPending TradeStatus = "pending"
	StatusWon     TradeStatus = "won"
	StatusLost    TradeStatus = "lost"
	StatusVoid    TradeStatus = "void"
)

// Terminal reports whether the status is final. Trades never leave a
// terminal state.
func (s TradeStatus) Terminal() bool {
	return s == StatusWon || s == StatusLost || s == StatusVoid
}

// WagerEvent is an observed leader wager on a live round. Immutable once
// observed; it is the unit of work handed to the replicator and is never
// persisted on its own.
type WagerEvent struct {
	Leader      string    `json:"leader"`
	Epoch       int64     `json:"epoch"`
	Direction   Direction `json:"direction"`
	Stake       float64   `json:"stake"`
	BlockNumber uint64    `json:"block_number"`
	TxHash      string    `json:"transaction_hash"`
	ObservedAt  time.Time `json:"observed_at"`
	Source      string    `json:"source"` // "poll" or "push"
}

// FollowPolicy describes one (follower, leader) copy relationship. Owned by
// the follower directory; the worker only reads it.
type FollowPolicy struct {
	Follower           string  `json:"follower"`
	Leader             string  `json:"leader"`
	AllocationFraction float64 `json:"allocation_fraction"` // 0-1 share of the leader's stake
	MaxStake           float64 `json:"max_stake"`           // hard cap per copy, 0 = uncapped
	Active             bool    `json:"active"`
}

// SimulatedTrade is the primary persisted entity: one follower's mirrored
// position in one round. At most one exists per (follower, epoch).
type SimulatedTrade struct {
	ID         string      `json:"id"`
	Follower   string      `json:"follower"`
	Leader     string      `json:"leader"`
	Epoch      int64       `json:"epoch"`
	Direction  Direction   `json:"direction"`
	Stake      float64     `json:"stake"`
	Multiplier float64     `json:"multiplier"` // payout quote captured at copy time (fixed-odds settlement)
	Status     TradeStatus `json:"status"`
	PNL        *float64    `json:"pnl,omitempty"` // set iff Status is terminal
	CreatedAt  time.Time   `json:"created_at"`
	ResolvedAt *time.Time  `json:"resolved_at,omitempty"`
}

// TradeStats aggregates trade counts and realized PnL for reporting.
type TradeStats struct {
	Total        int     `json:"total"`
	Pending      int     `json:"pending"`
	Won          int     `json:"won"`
	Lost         int     `json:"lost"`
	Void         int     `json:"void"`
	StakeTotal   float64 `json:"stake_total"`
	NetPNL       float64 `json:"net_pnl"`
	PendingStake float64 `json:"pending_stake"`
}
