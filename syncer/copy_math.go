package syncer

import (
	"fmt"

	"prediction-mirror/models"
	"prediction-mirror/utils"
)

// CopyDecision holds the sizing result for one follower's copy of a leader
// wager
type CopyDecision struct {
	Stake      float64 // Final stake to place
	RawStake   float64 // Leader stake scaled by the allocation fraction, before caps
	Skip       bool    // Whether the copy should be skipped entirely
	SkipReason string  // Reason for skipping (if any)
}

// CopyStake computes the capped copy stake for a follower.
// Applies the allocation fraction, the per-copy cap, and the balance cap.
// This is a pure function for easy testing.
func CopyStake(leaderStake, allocationFraction, maxStake, balance float64) float64 {
	stake := leaderStake * allocationFraction

	// Apply per-copy cap if set
	if maxStake > 0 {
		stake = utils.MinFloat(stake, maxStake)
	}

	// Never copy more than the follower can afford
	return utils.MinFloat(stake, balance)
}

// EvaluateCopy sizes one follower's copy and decides whether it is worth
// placing. Copies that land below minStake are skipped, not failed.
// This is a pure function for easy testing.
func EvaluateCopy(leaderStake float64, policy models.FollowPolicy, balance, minStake float64) CopyDecision {
	result := CopyDecision{
		RawStake: leaderStake * policy.AllocationFraction,
	}

	if !policy.Active {
		result.Skip = true
		result.SkipReason = "policy inactive"
		return result
	}

	if policy.AllocationFraction <= 0 {
		result.Skip = true
		result.SkipReason = "zero allocation fraction"
		return result
	}

	stake := CopyStake(leaderStake, policy.AllocationFraction, policy.MaxStake, balance)

	if stake <= 0 {
		result.Skip = true
		result.SkipReason = "no balance to copy with"
		return result
	}

	if stake < minStake {
		result.Skip = true
		result.SkipReason = fmt.Sprintf("stake %.6f below minimum %.6f", stake, minStake)
		return result
	}

	result.Stake = stake
	return result
}
