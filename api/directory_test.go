package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"prediction-mirror/models"
)

// newDirectoryTestClient points a real client at an httptest server.
func newDirectoryTestClient(t *testing.T, handler http.HandlerFunc) *DirectoryClient {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	t.Setenv("DIRECTORY_API_URL", srv.URL)
	return NewDirectoryClient()
}

func TestDirectoryGetTopLeaders(t *testing.T) {
	client := newDirectoryTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/leaders/top" {
			t.Errorf("path = %s, want /leaders/top", r.URL.Path)
		}
		if r.URL.Query().Get("limit") != "5" {
			t.Errorf("limit = %s, want 5", r.URL.Query().Get("limit"))
		}
		json.NewEncoder(w).Encode(map[string][]string{
			"leaders": {"0xAAA1", "0xbbb2"},
		})
	})

	leaders, err := client.GetTopLeaders(context.Background(), 5)
	if err != nil {
		t.Fatalf("GetTopLeaders failed: %v", err)
	}
	if len(leaders) != 2 {
		t.Fatalf("got %d leaders, want 2", len(leaders))
	}
	if leaders[0] != "0xaaa1" {
		t.Errorf("leaders[0] = %s, want normalized 0xaaa1", leaders[0])
	}
}

func TestDirectoryGetFollowedLeaders(t *testing.T) {
	client := newDirectoryTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/leaders/followed" {
			t.Errorf("path = %s, want /leaders/followed", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string][]string{
			"leaders": {"0xccc3"},
		})
	})

	leaders, err := client.GetFollowedLeaders(context.Background())
	if err != nil {
		t.Fatalf("GetFollowedLeaders failed: %v", err)
	}
	if len(leaders) != 1 || leaders[0] != "0xccc3" {
		t.Errorf("leaders = %v, want [0xccc3]", leaders)
	}
}

func TestDirectoryGetFollowers(t *testing.T) {
	client := newDirectoryTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/followers" {
			t.Errorf("path = %s, want /followers", r.URL.Path)
		}
		// The client normalizes the leader before asking
		if r.URL.Query().Get("leader") != "0xleader1" {
			t.Errorf("leader = %s, want 0xleader1", r.URL.Query().Get("leader"))
		}
		json.NewEncoder(w).Encode(map[string][]string{
			"followers": {"0xFollower1", "0xfollower2"},
		})
	})

	followers, err := client.GetFollowers(context.Background(), "0xLEADER1")
	if err != nil {
		t.Fatalf("GetFollowers failed: %v", err)
	}
	if len(followers) != 2 {
		t.Fatalf("got %d followers, want 2", len(followers))
	}
	if followers[0] != "0xfollower1" {
		t.Errorf("followers[0] = %s, want normalized 0xfollower1", followers[0])
	}
}

func TestDirectoryGetPolicy(t *testing.T) {
	client := newDirectoryTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/policy" {
			t.Errorf("path = %s, want /policy", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("follower") != "0xfollower1" || q.Get("leader") != "0xleader1" {
			t.Errorf("query = %s, want normalized follower and leader", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(models.FollowPolicy{
			Follower:           "0xFollower1",
			Leader:             "0xLeader1",
			AllocationFraction: 0.25,
			MaxStake:           2.5,
			Active:             true,
		})
	})

	policy, err := client.GetPolicy(context.Background(), "0xFollower1", "0xLeader1")
	if err != nil {
		t.Fatalf("GetPolicy failed: %v", err)
	}
	if policy.AllocationFraction != 0.25 || policy.MaxStake != 2.5 || !policy.Active {
		t.Errorf("policy = %+v", policy)
	}
	if policy.Follower != "0xfollower1" || policy.Leader != "0xleader1" {
		t.Errorf("addresses should come back normalized, got %s / %s", policy.Follower, policy.Leader)
	}
}

func TestDirectoryGetBalance(t *testing.T) {
	client := newDirectoryTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/balance" {
			t.Errorf("path = %s, want /balance", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]float64{"balance": 42.5})
	})

	balance, err := client.GetBalance(context.Background(), "0xfollower1")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if balance != 42.5 {
		t.Errorf("balance = %.2f, want 42.5", balance)
	}
}

func TestDirectoryRetriesServerErrors(t *testing.T) {
	attempts := 0
	client := newDirectoryTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string][]string{"leaders": {"0xaaa1"}})
	})

	leaders, err := client.GetTopLeaders(context.Background(), 5)
	if err != nil {
		t.Fatalf("should succeed after a retry: %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
	if len(leaders) != 1 {
		t.Errorf("got %d leaders, want 1", len(leaders))
	}
}

func TestDirectoryClientErrorFailsFast(t *testing.T) {
	attempts := 0
	client := newDirectoryTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.Error(w, "no such leader", http.StatusNotFound)
	})

	_, err := client.GetFollowers(context.Background(), "0xleader1")
	if err == nil {
		t.Fatal("a 404 should be an error")
	}
	if !strings.Contains(err.Error(), "client error 404") {
		t.Errorf("error = %v, want a client error", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (client errors are not retried)", attempts)
	}
}
