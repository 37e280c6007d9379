package syncer

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"prediction-mirror/api"
	"prediction-mirror/utils"
)

// LeaderRegistry tracks the set of leader addresses whose wagers are worth
// replicating: the directory's current top names plus every leader that has
// at least one follower.
type LeaderRegistry struct {
	directory api.DirectoryClientInterface
	topN      int

	leaders     map[string]bool
	lastRefresh time.Time
	mu          sync.RWMutex
}

// NewLeaderRegistry creates an empty registry. Call Refresh to populate it.
func NewLeaderRegistry(directory api.DirectoryClientInterface, topN int) *LeaderRegistry {
	return &LeaderRegistry{
		directory: directory,
		topN:      topN,
		leaders:   make(map[string]bool),
	}
}

// Refresh replaces the tracked set with a fresh top-N + followed union.
// On any directory error the previous set is kept untouched; the monitor
// keeps filtering against slightly stale leaders rather than stopping.
func (r *LeaderRegistry) Refresh(ctx context.Context) error {
	top, err := r.directory.GetTopLeaders(ctx, r.topN)
	if err != nil {
		return fmt.Errorf("refresh top leaders: %w", err)
	}

	followed, err := r.directory.GetFollowedLeaders(ctx)
	if err != nil {
		return fmt.Errorf("refresh followed leaders: %w", err)
	}

	next := make(map[string]bool, len(top)+len(followed))
	for _, addr := range top {
		next[utils.NormalizeAddress(addr)] = true
	}
	for _, addr := range followed {
		next[utils.NormalizeAddress(addr)] = true
	}

	r.mu.Lock()
	r.leaders = next
	r.lastRefresh = time.Now()
	r.mu.Unlock()

	log.Printf("[Registry] Tracking %d leaders (%d top, %d followed)", len(next), len(top), len(followed))
	return nil
}

// IsTracked reports whether a leader's wagers should be replicated
func (r *LeaderRegistry) IsTracked(leader string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.leaders[utils.NormalizeAddress(leader)]
}

// Leaders returns a snapshot of the tracked leader addresses
func (r *LeaderRegistry) Leaders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	leaders := make([]string, 0, len(r.leaders))
	for addr := range r.leaders {
		leaders = append(leaders, addr)
	}
	return leaders
}

// Size returns the number of tracked leaders
func (r *LeaderRegistry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.leaders)
}

// LastRefresh returns when the set was last successfully replaced
func (r *LeaderRegistry) LastRefresh() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastRefresh
}
