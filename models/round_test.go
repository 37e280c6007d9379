package models

import "testing"

func TestRoundOutcome(t *testing.T) {
	tests := []struct {
		name         string
		round        Round
		wantResolved bool
		wantVoid     bool
		wantWinner   Direction
		wantWinPool  float64
		wantLosePool float64
	}{
		{
			name:  "oracle not called",
			round: Round{Epoch: 100, LockPrice: 300, BullAmount: 40, BearAmount: 60},
		},
		{
			// Oracle flag set but the close price is missing: treat as
			// unresolved rather than guessing a winner.
			name:  "oracle called with zero close price",
			round: Round{Epoch: 100, LockPrice: 300, OracleCalled: true},
		},
		{
			name:         "close above lock - bulls win",
			round:        Round{Epoch: 100, LockPrice: 300, ClosePrice: 310, BullAmount: 40, BearAmount: 60, OracleCalled: true},
			wantResolved: true,
			wantWinner:   DirectionBull,
			wantWinPool:  40,
			wantLosePool: 60,
		},
		{
			name:         "close below lock - bears win",
			round:        Round{Epoch: 100, LockPrice: 300, ClosePrice: 290, BullAmount: 40, BearAmount: 60, OracleCalled: true},
			wantResolved: true,
			wantWinner:   DirectionBear,
			wantWinPool:  60,
			wantLosePool: 40,
		},
		{
			name:         "close equals lock - round voided",
			round:        Round{Epoch: 100, LockPrice: 300, ClosePrice: 300, BullAmount: 40, BearAmount: 60, OracleCalled: true},
			wantResolved: true,
			wantVoid:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.round.Outcome()

			if got.Epoch != tt.round.Epoch {
				t.Errorf("Epoch = %d, want %d", got.Epoch, tt.round.Epoch)
			}
			if got.Resolved != tt.wantResolved {
				t.Errorf("Resolved = %v, want %v", got.Resolved, tt.wantResolved)
			}
			if got.Void != tt.wantVoid {
				t.Errorf("Void = %v, want %v", got.Void, tt.wantVoid)
			}
			if tt.wantResolved && !tt.wantVoid && got.Winner != tt.wantWinner {
				t.Errorf("Winner = %q, want %q", got.Winner, tt.wantWinner)
			}
			if got.WinningPool != tt.wantWinPool {
				t.Errorf("WinningPool = %.1f, want %.1f", got.WinningPool, tt.wantWinPool)
			}
			if got.LosingPool != tt.wantLosePool {
				t.Errorf("LosingPool = %.1f, want %.1f", got.LosingPool, tt.wantLosePool)
			}
		})
	}
}

func TestParseDirection(t *testing.T) {
	if d, err := ParseDirection("bull"); err != nil || d != DirectionBull {
		t.Errorf("ParseDirection(bull) = %v, %v", d, err)
	}
	if d, err := ParseDirection("bear"); err != nil || d != DirectionBear {
		t.Errorf("ParseDirection(bear) = %v, %v", d, err)
	}
	if _, err := ParseDirection("sideways"); err == nil {
		t.Error("unknown direction should fail")
	}
	if _, err := ParseDirection(""); err == nil {
		t.Error("empty direction should fail")
	}
}

func TestTradeStatusTerminal(t *testing.T) {
	tests := []struct {
		status TradeStatus
		want   bool
	}{
		{StatusPending, false},
		{StatusWon, true},
		{StatusLost, true},
		{StatusVoid, true},
	}

	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}
