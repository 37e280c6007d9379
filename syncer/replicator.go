package syncer

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"prediction-mirror/api"
	"prediction-mirror/models"
	"prediction-mirror/storage"
	"prediction-mirror/utils"
)

// ReplicatorConfig holds replication parameters
type ReplicatorConfig struct {
	MinStake float64 // copies sized below this are skipped
	// QuoteFixedMultiplier captures the current payout quote on each copy.
	// Only needed when settlement runs the fixed-multiplier strategy.
	QuoteFixedMultiplier bool
}

// Replicator fans one leader wager out into simulated trades for every
// follower of that leader.
type Replicator struct {
	prediction api.PredictionClientInterface
	directory  api.DirectoryClientInterface
	store      storage.TradeStore
	settler    *Settler
	config     ReplicatorConfig

	// Stats
	eventsReplicated int64
	tradesCreated    int64
	tradesSkipped    int64
	followerFailures int64
	statsMu          sync.RWMutex
}

// NewReplicator creates a new replication engine
func NewReplicator(prediction api.PredictionClientInterface, directory api.DirectoryClientInterface, store storage.TradeStore, settler *Settler, config ReplicatorConfig) *Replicator {
	return &Replicator{
		prediction: prediction,
		directory:  directory,
		store:      store,
		settler:    settler,
		config:     config,
	}
}

// Replicate copies one wager event to all followers of its leader.
//
// A non-nil return means the event as a whole could not be processed
// (directory unreachable, quote unavailable) and should be retried on the
// next poll; the trade upsert is idempotent, so replays are safe. Failures
// for individual followers are logged and skipped without failing the event.
// Malformed events are dropped with a nil return: retrying them can never
// succeed.
func (r *Replicator) Replicate(ctx context.Context, event models.WagerEvent) error {
	if _, err := models.ParseDirection(string(event.Direction)); err != nil {
		log.Printf("[Replicator] Dropping event from %s in epoch %d: %v",
			utils.ShortAddress(event.Leader), event.Epoch, err)
		return nil
	}
	if event.Stake <= 0 {
		log.Printf("[Replicator] Dropping event from %s in epoch %d: non-positive stake %.6f",
			utils.ShortAddress(event.Leader), event.Epoch, event.Stake)
		return nil
	}

	followers, err := r.directory.GetFollowers(ctx, event.Leader)
	if err != nil {
		return fmt.Errorf("followers of %s: %w", utils.ShortAddress(event.Leader), err)
	}
	if len(followers) == 0 {
		return nil
	}

	// In fixed-multiplier mode the payout quote is locked in once per event,
	// before any trade is written, so every copy of this wager settles
	// against the same odds.
	var multiplier float64
	if r.config.QuoteFixedMultiplier {
		multiplier, err = r.prediction.QuoteMultiplier(ctx, event.Epoch, event.Direction)
		if err != nil {
			return fmt.Errorf("quote multiplier for epoch %d: %w", event.Epoch, err)
		}
	}

	created := 0
	skipped := 0
	for _, follower := range followers {
		policy, err := r.directory.GetPolicy(ctx, follower, event.Leader)
		if err != nil {
			log.Printf("[Replicator] Policy fetch failed for %s: %v", utils.ShortAddress(follower), err)
			r.bumpFollowerFailures()
			continue
		}

		balance, err := r.directory.GetBalance(ctx, follower)
		if err != nil {
			log.Printf("[Replicator] Balance fetch failed for %s: %v", utils.ShortAddress(follower), err)
			r.bumpFollowerFailures()
			continue
		}

		decision := EvaluateCopy(event.Stake, policy, balance, r.config.MinStake)
		if decision.Skip {
			log.Printf("[Replicator] Skipping %s -> %s epoch %d: %s",
				utils.ShortAddress(follower), utils.ShortAddress(event.Leader), event.Epoch, decision.SkipReason)
			skipped++
			continue
		}

		trade := models.SimulatedTrade{
			ID:         uuid.NewString(),
			Follower:   follower,
			Leader:     event.Leader,
			Epoch:      event.Epoch,
			Direction:  event.Direction,
			Stake:      decision.Stake,
			Multiplier: multiplier,
			Status:     models.StatusPending,
			CreatedAt:  time.Now().UTC(),
		}

		inserted, err := r.store.UpsertPendingTrade(ctx, trade)
		if err != nil {
			log.Printf("[Replicator] Trade write failed for %s epoch %d: %v",
				utils.ShortAddress(follower), event.Epoch, err)
			r.bumpFollowerFailures()
			continue
		}
		if !inserted {
			// Follower already holds a copy for this epoch, first writer wins
			skipped++
			continue
		}

		log.Printf("[Replicator] COPY: follower=%s leader=%s epoch=%d dir=%s stake=%.4f (leader staked %.4f)",
			utils.ShortAddress(follower), utils.ShortAddress(event.Leader),
			event.Epoch, event.Direction, decision.Stake, event.Stake)
		created++

		if r.settler != nil {
			r.settler.Track(event.Epoch)
		}
	}

	r.statsMu.Lock()
	r.eventsReplicated++
	r.tradesCreated += int64(created)
	r.tradesSkipped += int64(skipped)
	r.statsMu.Unlock()

	return nil
}

func (r *Replicator) bumpFollowerFailures() {
	r.statsMu.Lock()
	r.followerFailures++
	r.statsMu.Unlock()
}

// GetStats returns replication statistics
func (r *Replicator) GetStats() (eventsReplicated, tradesCreated, tradesSkipped, followerFailures int64) {
	r.statsMu.RLock()
	defer r.statsMu.RUnlock()
	return r.eventsReplicated, r.tradesCreated, r.tradesSkipped, r.followerFailures
}
