package syncer

import (
	"context"
	"errors"
	"testing"

	"prediction-mirror/api"
)

func TestLeaderRegistryRefresh(t *testing.T) {
	directory := api.NewMockDirectoryClient()
	directory.TopLeaders = []string{"0xAAA1", "0xbbb2"}
	directory.FollowedLeaders = []string{"0xbbb2", "0xccc3"}

	registry := NewLeaderRegistry(directory, 20)

	if registry.Size() != 0 {
		t.Fatalf("new registry should be empty, got %d", registry.Size())
	}

	if err := registry.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	// Union of top and followed, deduplicated
	if registry.Size() != 3 {
		t.Errorf("Size() = %d, want 3", registry.Size())
	}
	if !registry.IsTracked("0xaaa1") {
		t.Error("0xaaa1 should be tracked")
	}
	if !registry.IsTracked("0xAAA1") {
		t.Error("lookups should be case-insensitive")
	}
	if !registry.IsTracked("0xccc3") {
		t.Error("followed-only leader should be tracked")
	}
	if registry.IsTracked("0xddd4") {
		t.Error("unknown leader should not be tracked")
	}
	if registry.LastRefresh().IsZero() {
		t.Error("LastRefresh should be set after a successful refresh")
	}
}

func TestLeaderRegistryRefreshReplacesSet(t *testing.T) {
	directory := api.NewMockDirectoryClient()
	directory.TopLeaders = []string{"0xaaa1"}

	registry := NewLeaderRegistry(directory, 20)
	if err := registry.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if !registry.IsTracked("0xaaa1") {
		t.Fatal("0xaaa1 should be tracked after first refresh")
	}

	// A leader that drops off the rankings stops being tracked
	directory.TopLeaders = []string{"0xbbb2"}
	if err := registry.Refresh(context.Background()); err != nil {
		t.Fatalf("second Refresh failed: %v", err)
	}

	if registry.IsTracked("0xaaa1") {
		t.Error("0xaaa1 should have been dropped on refresh")
	}
	if !registry.IsTracked("0xbbb2") {
		t.Error("0xbbb2 should be tracked")
	}
	if registry.Size() != 1 {
		t.Errorf("Size() = %d, want 1", registry.Size())
	}
}

func TestLeaderRegistryKeepsStaleSetOnError(t *testing.T) {
	directory := api.NewMockDirectoryClient()
	directory.TopLeaders = []string{"0xaaa1", "0xbbb2"}

	registry := NewLeaderRegistry(directory, 20)
	if err := registry.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	before := registry.LastRefresh()

	directory.ErrorOnNext["GetTopLeaders"] = errors.New("directory unavailable")
	if err := registry.Refresh(context.Background()); err == nil {
		t.Fatal("Refresh should surface the directory error")
	}

	// The previous set stays in place so the monitor keeps filtering
	if registry.Size() != 2 {
		t.Errorf("Size() = %d, want 2 (stale set kept)", registry.Size())
	}
	if !registry.IsTracked("0xaaa1") {
		t.Error("stale leaders should remain tracked")
	}
	if !registry.LastRefresh().Equal(before) {
		t.Error("LastRefresh should not move on a failed refresh")
	}

	// Same when only the followed-leaders call fails
	directory.ErrorOnNext["GetFollowedLeaders"] = errors.New("directory unavailable")
	if err := registry.Refresh(context.Background()); err == nil {
		t.Fatal("Refresh should surface the followed-leaders error")
	}
	if registry.Size() != 2 {
		t.Errorf("Size() = %d, want 2 after partial failure", registry.Size())
	}
}

func TestLeaderRegistryLeaders(t *testing.T) {
	directory := api.NewMockDirectoryClient()
	directory.TopLeaders = []string{"0xaaa1"}
	directory.FollowedLeaders = []string{"0xbbb2"}

	registry := NewLeaderRegistry(directory, 20)
	if err := registry.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	leaders := registry.Leaders()
	if len(leaders) != 2 {
		t.Fatalf("Leaders() returned %d entries, want 2", len(leaders))
	}
	found := map[string]bool{}
	for _, l := range leaders {
		found[l] = true
	}
	if !found["0xaaa1"] || !found["0xbbb2"] {
		t.Errorf("Leaders() = %v, want both 0xaaa1 and 0xbbb2", leaders)
	}
}
