package api

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	"prediction-mirror/models"
)

const (
	testLeaderTopic = "0x000000000000000000000000a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6e7f8a9b0"
	testEpochTopic  = "0x00000000000000000000000000000000000000000000000000000000000003e8" // 1000
	testOneBNB      = "0x0000000000000000000000000000000000000000000000000de0b6b3a7640000"
	testHalfBNB     = "0x00000000000000000000000000000000000000000000000006f05b59d3b20000"
)

func TestDecodeWagerEvent(t *testing.T) {
	bullTopic := crypto.Keccak256Hash([]byte("BetBull(address,uint256,uint256)"))
	bearTopic := crypto.Keccak256Hash([]byte("BetBear(address,uint256,uint256)"))

	t.Run("bull wager", func(t *testing.T) {
		lg := ethLog{
			Topics:          []string{bullTopic.Hex(), testLeaderTopic, testEpochTopic},
			Data:            testOneBNB,
			BlockNumber:     "0x1a4",
			TransactionHash: "0xABC123",
		}

		event, err := decodeWagerEvent(lg, bullTopic, bearTopic, "poll")
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}

		if event.Direction != models.DirectionBull {
			t.Errorf("direction = %s, want bull", event.Direction)
		}
		if event.Leader != "0xa1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6e7f8a9b0" {
			t.Errorf("leader = %s, want the padded topic address lowercased", event.Leader)
		}
		if event.Epoch != 1000 {
			t.Errorf("epoch = %d, want 1000", event.Epoch)
		}
		if !approxEquals(event.Stake, 1.0) {
			t.Errorf("stake = %v, want 1.0", event.Stake)
		}
		if event.BlockNumber != 420 { // 0x1a4
			t.Errorf("block = %d, want 420", event.BlockNumber)
		}
		if event.TxHash != "0xabc123" {
			t.Errorf("tx hash = %s, want lowercased", event.TxHash)
		}
		if event.Source != "poll" {
			t.Errorf("source = %s, want poll", event.Source)
		}
		if event.ObservedAt.IsZero() {
			t.Error("observed_at should be stamped")
		}
	})

	t.Run("bear wager from push feed", func(t *testing.T) {
		lg := ethLog{
			Topics:          []string{bearTopic.Hex(), testLeaderTopic, testEpochTopic},
			Data:            testHalfBNB,
			BlockNumber:     "0x1a5",
			TransactionHash: "0xdef456",
		}

		event, err := decodeWagerEvent(lg, bullTopic, bearTopic, "push")
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}

		if event.Direction != models.DirectionBear {
			t.Errorf("direction = %s, want bear", event.Direction)
		}
		if !approxEquals(event.Stake, 0.5) {
			t.Errorf("stake = %v, want 0.5", event.Stake)
		}
		if event.Source != "push" {
			t.Errorf("source = %s, want push", event.Source)
		}
	})

	t.Run("rejects malformed logs", func(t *testing.T) {
		tests := []struct {
			name string
			lg   ethLog
		}{
			{
				name: "missing topics",
				lg: ethLog{
					Topics:      []string{bullTopic.Hex()},
					Data:        testOneBNB,
					BlockNumber: "0x1a4",
				},
			},
			{
				name: "unknown event topic",
				lg: ethLog{
					Topics:      []string{"0x1111111111111111111111111111111111111111111111111111111111111111", testLeaderTopic, testEpochTopic},
					Data:        testOneBNB,
					BlockNumber: "0x1a4",
				},
			},
			{
				name: "zero wager amount",
				lg: ethLog{
					Topics:      []string{bullTopic.Hex(), testLeaderTopic, testEpochTopic},
					Data:        "0x0000000000000000000000000000000000000000000000000000000000000000",
					BlockNumber: "0x1a4",
				},
			},
			{
				name: "invalid block number",
				lg: ethLog{
					Topics:      []string{bullTopic.Hex(), testLeaderTopic, testEpochTopic},
					Data:        testOneBNB,
					BlockNumber: "0xnope",
				},
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if _, err := decodeWagerEvent(tt.lg, bullTopic, bearTopic, "poll"); err == nil {
					t.Error("decode should fail")
				}
			})
		}
	})
}

func approxEquals(a, b float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff < 1e-9
}
