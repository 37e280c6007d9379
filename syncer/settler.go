package syncer

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"prediction-mirror/api"
	"prediction-mirror/models"
	"prediction-mirror/storage"
	"prediction-mirror/utils"
)

// SettlerConfig holds settlement parameters
type SettlerConfig struct {
	// How often pending rounds are checked for a final outcome
	Interval time.Duration
	// Rounds are only settled once they are this many epochs behind the
	// live one, so the oracle has had time to write the close price
	SafetyMarginRounds int64
	// How often the working set is rebuilt from the store to catch trades
	// tracked nowhere in memory
	CatchupInterval time.Duration
}

// Settler resolves pending trades once their round's outcome is final. It
// keeps an in-memory working set of epochs that still have pending trades;
// the set is soft state, rebuilt from the store on startup and on every
// catch-up pass.
type Settler struct {
	prediction api.PredictionClientInterface
	store      storage.TradeStore
	payout     PayoutStrategy
	config     SettlerConfig

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	// Epochs with (possibly) pending trades
	pending   map[int64]bool
	pendingMu sync.Mutex

	// Stats
	roundsSettled  int
	tradesResolved int
	lastSettleTime time.Time
	statsMu        sync.RWMutex
}

// NewSettler creates a new settlement engine
func NewSettler(prediction api.PredictionClientInterface, store storage.TradeStore, payout PayoutStrategy, config SettlerConfig) *Settler {
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}
	if config.CatchupInterval <= 0 {
		config.CatchupInterval = 10 * time.Minute
	}
	return &Settler{
		prediction: prediction,
		store:      store,
		payout:     payout,
		config:     config,
		stopCh:     make(chan struct{}),
		pending:    make(map[int64]bool),
	}
}

// Bootstrap rebuilds the working set from the distinct epochs that still
// have pending trades in the store. Called at startup and periodically as a
// catch-up; it only ever adds epochs, removal happens through settlement.
func (s *Settler) Bootstrap(ctx context.Context) error {
	epochs, err := s.store.ListPendingEpochs(ctx)
	if err != nil {
		return fmt.Errorf("list pending epochs: %w", err)
	}

	added := 0
	s.pendingMu.Lock()
	for _, epoch := range epochs {
		if !s.pending[epoch] {
			s.pending[epoch] = true
			added++
		}
	}
	total := len(s.pending)
	s.pendingMu.Unlock()

	if added > 0 {
		log.Printf("[Settler] Bootstrapped %d epochs from store (%d tracked)", added, total)
	}
	return nil
}

// Track adds an epoch to the working set. Called by the replicator for
// every newly created trade.
func (s *Settler) Track(epoch int64) {
	s.pendingMu.Lock()
	s.pending[epoch] = true
	s.pendingMu.Unlock()
}

// Tracked returns a sorted snapshot of the working set
func (s *Settler) Tracked() []int64 {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	epochs := make([]int64, 0, len(s.pending))
	for epoch := range s.pending {
		epochs = append(epochs, epoch)
	}
	sort.Slice(epochs, func(i, j int) bool { return epochs[i] < epochs[j] })
	return epochs
}

// TrackedCount returns the size of the working set
func (s *Settler) TrackedCount() int {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return len(s.pending)
}

func (s *Settler) untrack(epoch int64) {
	s.pendingMu.Lock()
	delete(s.pending, epoch)
	s.pendingMu.Unlock()
}

// Start bootstraps the working set and begins the settlement loops
func (s *Settler) Start(ctx context.Context) error {
	if s.running {
		return fmt.Errorf("settler already running")
	}

	if err := s.Bootstrap(ctx); err != nil {
		return fmt.Errorf("settler bootstrap: %w", err)
	}

	s.running = true
	s.wg.Add(2)
	go s.settleLoop(ctx)
	go s.catchupLoop(ctx)

	log.Printf("[Settler] Started - checking every %v with %s payout (%d epochs pending)",
		s.config.Interval, s.payout.Name(), s.TrackedCount())
	return nil
}

// Stop halts the settlement loops
func (s *Settler) Stop() {
	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
	s.wg.Wait()
	log.Printf("[Settler] Stopped - settled %d rounds, resolved %d trades", s.roundsSettled, s.tradesResolved)
}

// GetStats returns settlement statistics
func (s *Settler) GetStats() (roundsSettled, tradesResolved int, lastTime time.Time) {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	return s.roundsSettled, s.tradesResolved, s.lastSettleTime
}

func (s *Settler) settleLoop(ctx context.Context) {
	defer s.wg.Done()

	// Run immediately on start
	s.Sweep(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

func (s *Settler) catchupLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.CatchupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.Bootstrap(ctx); err != nil {
				log.Printf("[Settler] Catch-up failed: %v", err)
			}
		}
	}
}

// Sweep runs one settlement pass over the working set. Rounds whose outcome
// is not final yet stay tracked; per-epoch failures are logged and retried
// on the next pass.
func (s *Settler) Sweep(ctx context.Context) {
	epochs := s.Tracked()
	if len(epochs) == 0 {
		return
	}

	current, err := s.prediction.GetCurrentEpoch(ctx)
	if err != nil {
		log.Printf("[Settler] Failed to get current epoch: %v", err)
		return
	}

	for _, epoch := range epochs {
		// Leave very recent rounds alone until the oracle has had time to
		// write the close price
		if epoch > current-s.config.SafetyMarginRounds {
			continue
		}

		if err := s.settleEpoch(ctx, epoch); err != nil {
			log.Printf("[Settler] Epoch %d: %v", epoch, err)
			continue
		}
	}
}

func (s *Settler) settleEpoch(ctx context.Context, epoch int64) error {
	round, err := s.prediction.GetRound(ctx, epoch)
	if err != nil {
		return fmt.Errorf("fetch round: %w", err)
	}

	outcome := round.Outcome()
	if !outcome.Resolved {
		// Not final yet (or the round state is inconsistent): keep waiting
		// rather than guessing a winner
		return nil
	}

	trades, err := s.store.ListPendingTrades(ctx, epoch)
	if err != nil {
		return fmt.Errorf("list pending trades: %w", err)
	}
	if len(trades) == 0 {
		s.untrack(epoch)
		return nil
	}

	won, lost, void, failures := 0, 0, 0, 0
	for _, trade := range trades {
		var status models.TradeStatus
		var pnl float64

		switch {
		case outcome.Void:
			status = models.StatusVoid
			pnl = 0
		case trade.Direction == outcome.Winner:
			status = models.StatusWon
			pnl = s.payout.WinPNL(trade, outcome)
		default:
			status = models.StatusLost
			pnl = -trade.Stake
		}

		if err := s.store.ResolveTrade(ctx, trade.ID, status, pnl, time.Now().UTC()); err != nil {
			log.Printf("[Settler] Failed to resolve trade %s for %s: %v",
				trade.ID, utils.ShortAddress(trade.Follower), err)
			failures++
			continue
		}

		switch status {
		case models.StatusWon:
			won++
		case models.StatusLost:
			lost++
		case models.StatusVoid:
			void++
		}
	}

	resolved := won + lost + void
	s.statsMu.Lock()
	s.tradesResolved += resolved
	s.lastSettleTime = time.Now()
	s.statsMu.Unlock()

	if failures > 0 {
		// The epoch stays tracked; unresolved trades are still pending in
		// the store and will be picked up on the next pass
		log.Printf("[Settler] Epoch %d partially settled: %d resolved, %d failed (will retry)",
			epoch, resolved, failures)
		return nil
	}

	s.untrack(epoch)
	s.statsMu.Lock()
	s.roundsSettled++
	s.statsMu.Unlock()

	if outcome.Void {
		log.Printf("[Settler] Epoch %d voided: %d trades refunded", epoch, void)
	} else {
		log.Printf("[Settler] Epoch %d settled (%s won): %d won, %d lost", epoch, outcome.Winner, won, lost)
	}
	return nil
}
