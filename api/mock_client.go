package api

import (
	"context"
	"sync"

	"prediction-mirror/models"
	"prediction-mirror/utils"
)

// PredictionClientInterface defines the methods needed from the prediction
// contract client. This interface enables dependency injection for testing.
type PredictionClientInterface interface {
	// Chain state
	BlockNumber(ctx context.Context) (uint64, error)
	GetCurrentEpoch(ctx context.Context) (int64, error)

	// Rounds
	GetRound(ctx context.Context, epoch int64) (models.Round, error)
	QuoteMultiplier(ctx context.Context, epoch int64, direction models.Direction) (float64, error)

	// Wager events
	GetWagerEvents(ctx context.Context, fromBlock, toBlock uint64) ([]models.WagerEvent, error)
}

// DirectoryClientInterface defines the methods needed from the follower
// directory client.
type DirectoryClientInterface interface {
	GetTopLeaders(ctx context.Context, limit int) ([]string, error)
	GetFollowedLeaders(ctx context.Context) ([]string, error)
	GetFollowers(ctx context.Context, leader string) ([]string, error)
	GetPolicy(ctx context.Context, follower, leader string) (models.FollowPolicy, error)
	GetBalance(ctx context.Context, follower string) (float64, error)
}

// Ensure PredictionClient implements PredictionClientInterface
var _ PredictionClientInterface = (*PredictionClient)(nil)

// Ensure MockPredictionClient implements PredictionClientInterface
var _ PredictionClientInterface = (*MockPredictionClient)(nil)

// Ensure DirectoryClient implements DirectoryClientInterface
var _ DirectoryClientInterface = (*DirectoryClient)(nil)

// Ensure MockDirectoryClient implements DirectoryClientInterface
var _ DirectoryClientInterface = (*MockDirectoryClient)(nil)

// MockPredictionClient is a mock prediction contract client for testing
type MockPredictionClient struct {
	mu sync.RWMutex

	// Response data
	CurrentBlock uint64
	CurrentEpoch int64
	Rounds       map[int64]models.Round
	Events       []models.WagerEvent
	Multiplier   float64

	// Call tracking
	Calls map[string]int

	// Error injection
	ErrorOnNext map[string]error

	// Detailed call tracking for verification
	GetWagerEventsCalls []GetWagerEventsCall
}

// GetWagerEventsCall records a call to GetWagerEvents
type GetWagerEventsCall struct {
	FromBlock uint64
	ToBlock   uint64
}

// NewMockPredictionClient creates a new mock prediction client
func NewMockPredictionClient() *MockPredictionClient {
	return &MockPredictionClient{
		Rounds:      make(map[int64]models.Round),
		Calls:       make(map[string]int),
		ErrorOnNext: make(map[string]error),
	}
}

func (m *MockPredictionClient) trackCall(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls[name]++
	if err, ok := m.ErrorOnNext[name]; ok {
		delete(m.ErrorOnNext, name)
		return err
	}
	return nil
}

func (m *MockPredictionClient) BlockNumber(ctx context.Context) (uint64, error) {
	if err := m.trackCall("BlockNumber"); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.CurrentBlock, nil
}

func (m *MockPredictionClient) GetCurrentEpoch(ctx context.Context) (int64, error) {
	if err := m.trackCall("GetCurrentEpoch"); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.CurrentEpoch, nil
}

func (m *MockPredictionClient) GetRound(ctx context.Context, epoch int64) (models.Round, error) {
	if err := m.trackCall("GetRound"); err != nil {
		return models.Round{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if round, ok := m.Rounds[epoch]; ok {
		return round, nil
	}
	// Unknown rounds look like rounds the oracle has not priced yet
	return models.Round{Epoch: epoch}, nil
}

func (m *MockPredictionClient) QuoteMultiplier(ctx context.Context, epoch int64, direction models.Direction) (float64, error) {
	if err := m.trackCall("QuoteMultiplier"); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Multiplier != 0 {
		return m.Multiplier, nil
	}
	if round, ok := m.Rounds[epoch]; ok {
		side := round.BullAmount
		if direction == models.DirectionBear {
			side = round.BearAmount
		}
		if side > 0 {
			return round.TotalAmount / side, nil
		}
	}
	return 2.0, nil
}

func (m *MockPredictionClient) GetWagerEvents(ctx context.Context, fromBlock, toBlock uint64) ([]models.WagerEvent, error) {
	if err := m.trackCall("GetWagerEvents"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.GetWagerEventsCalls = append(m.GetWagerEventsCalls, GetWagerEventsCall{
		FromBlock: fromBlock,
		ToBlock:   toBlock,
	})
	m.mu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()
	var events []models.WagerEvent
	for _, ev := range m.Events {
		if ev.BlockNumber >= fromBlock && ev.BlockNumber <= toBlock {
			events = append(events, ev)
		}
	}
	return events, nil
}

// SetRound installs a round snapshot
func (m *MockPredictionClient) SetRound(round models.Round) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Rounds[round.Epoch] = round
}

// AddEvent queues a wager event for GetWagerEvents
func (m *MockPredictionClient) AddEvent(event models.WagerEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, event)
	if event.BlockNumber > m.CurrentBlock {
		m.CurrentBlock = event.BlockNumber
	}
}

// MockDirectoryClient is a mock follower directory client for testing
type MockDirectoryClient struct {
	mu sync.RWMutex

	// Response data
	TopLeaders      []string
	FollowedLeaders []string
	Followers       map[string][]string
	Policies        map[string]models.FollowPolicy
	Balances        map[string]float64

	// Call tracking
	Calls map[string]int

	// Error injection
	ErrorOnNext map[string]error
}

// NewMockDirectoryClient creates a new mock directory client
func NewMockDirectoryClient() *MockDirectoryClient {
	return &MockDirectoryClient{
		Followers:   make(map[string][]string),
		Policies:    make(map[string]models.FollowPolicy),
		Balances:    make(map[string]float64),
		Calls:       make(map[string]int),
		ErrorOnNext: make(map[string]error),
	}
}

func (m *MockDirectoryClient) trackCall(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls[name]++
	if err, ok := m.ErrorOnNext[name]; ok {
		delete(m.ErrorOnNext, name)
		return err
	}
	return nil
}

func (m *MockDirectoryClient) GetTopLeaders(ctx context.Context, limit int) ([]string, error) {
	if err := m.trackCall("GetTopLeaders"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit > 0 && len(m.TopLeaders) > limit {
		return m.TopLeaders[:limit], nil
	}
	return m.TopLeaders, nil
}

func (m *MockDirectoryClient) GetFollowedLeaders(ctx context.Context) ([]string, error) {
	if err := m.trackCall("GetFollowedLeaders"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.FollowedLeaders, nil
}

func (m *MockDirectoryClient) GetFollowers(ctx context.Context, leader string) ([]string, error) {
	if err := m.trackCall("GetFollowers"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Followers[utils.NormalizeAddress(leader)], nil
}

func (m *MockDirectoryClient) GetPolicy(ctx context.Context, follower, leader string) (models.FollowPolicy, error) {
	if err := m.trackCall("GetPolicy"); err != nil {
		return models.FollowPolicy{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if policy, ok := m.Policies[policyKey(follower, leader)]; ok {
		return policy, nil
	}
	// Default: active 10% copy with no cap
	return models.FollowPolicy{
		Follower:           utils.NormalizeAddress(follower),
		Leader:             utils.NormalizeAddress(leader),
		AllocationFraction: 0.1,
		Active:             true,
	}, nil
}

func (m *MockDirectoryClient) GetBalance(ctx context.Context, follower string) (float64, error) {
	if err := m.trackCall("GetBalance"); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if balance, ok := m.Balances[utils.NormalizeAddress(follower)]; ok {
		return balance, nil
	}
	return 100.0, nil
}

// SetPolicy installs a copy policy
func (m *MockDirectoryClient) SetPolicy(policy models.FollowPolicy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Policies[policyKey(policy.Follower, policy.Leader)] = policy
}

// SetBalance installs a follower balance
func (m *MockDirectoryClient) SetBalance(follower string, balance float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Balances[utils.NormalizeAddress(follower)] = balance
}

// SetFollowers installs a leader's follower list
func (m *MockDirectoryClient) SetFollowers(leader string, followers []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Followers[utils.NormalizeAddress(leader)] = followers
}

func policyKey(follower, leader string) string {
	return utils.NormalizeAddress(follower) + "|" + utils.NormalizeAddress(leader)
}
