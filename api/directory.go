package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/url"
	"os"
	"time"

	"golang.org/x/time/rate"

	"prediction-mirror/models"
	"prediction-mirror/utils"
)

const (
	DefaultDirectoryAPI = "http://localhost:8090"

	directoryRatePerSec = 20
	directoryBurst      = 5

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// DirectoryClient queries the follower directory service. The directory
// owns follower lists, copy policies and balances; this client only reads.
type DirectoryClient struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
}

// NewDirectoryClient creates a new follower directory client
func NewDirectoryClient() *DirectoryClient {
	baseURL := os.Getenv("DIRECTORY_API_URL")
	if baseURL == "" {
		baseURL = DefaultDirectoryAPI
		log.Printf("[Directory] Using default directory endpoint: %s", baseURL)
	}

	return &DirectoryClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		limiter:    rate.NewLimiter(directoryRatePerSec, directoryBurst),
	}
}

// GetTopLeaders returns the directory's current top-ranked leader addresses
func (c *DirectoryClient) GetTopLeaders(ctx context.Context, limit int) ([]string, error) {
	var resp struct {
		Leaders []string `json:"leaders"`
	}
	endpoint := fmt.Sprintf("%s/leaders/top?limit=%d", c.baseURL, limit)
	if err := c.get(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("fetch top leaders: %w", err)
	}

	leaders := make([]string, 0, len(resp.Leaders))
	for _, addr := range resp.Leaders {
		leaders = append(leaders, utils.NormalizeAddress(addr))
	}
	return leaders, nil
}

// GetFollowedLeaders returns every leader at least one follower copies
func (c *DirectoryClient) GetFollowedLeaders(ctx context.Context) ([]string, error) {
	var resp struct {
		Leaders []string `json:"leaders"`
	}
	endpoint := c.baseURL + "/leaders/followed"
	if err := c.get(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("fetch followed leaders: %w", err)
	}

	leaders := make([]string, 0, len(resp.Leaders))
	for _, addr := range resp.Leaders {
		leaders = append(leaders, utils.NormalizeAddress(addr))
	}
	return leaders, nil
}

// GetFollowers returns the followers currently copying a leader
func (c *DirectoryClient) GetFollowers(ctx context.Context, leader string) ([]string, error) {
	var resp struct {
		Followers []string `json:"followers"`
	}
	endpoint := fmt.Sprintf("%s/followers?leader=%s", c.baseURL, url.QueryEscape(utils.NormalizeAddress(leader)))
	if err := c.get(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("fetch followers of %s: %w", utils.ShortAddress(leader), err)
	}

	followers := make([]string, 0, len(resp.Followers))
	for _, addr := range resp.Followers {
		followers = append(followers, utils.NormalizeAddress(addr))
	}
	return followers, nil
}

// GetPolicy returns one follower's copy policy for a leader
func (c *DirectoryClient) GetPolicy(ctx context.Context, follower, leader string) (models.FollowPolicy, error) {
	var policy models.FollowPolicy
	endpoint := fmt.Sprintf("%s/policy?follower=%s&leader=%s",
		c.baseURL,
		url.QueryEscape(utils.NormalizeAddress(follower)),
		url.QueryEscape(utils.NormalizeAddress(leader)))
	if err := c.get(ctx, endpoint, &policy); err != nil {
		return models.FollowPolicy{}, fmt.Errorf("fetch policy %s -> %s: %w",
			utils.ShortAddress(follower), utils.ShortAddress(leader), err)
	}

	policy.Follower = utils.NormalizeAddress(policy.Follower)
	policy.Leader = utils.NormalizeAddress(policy.Leader)
	return policy, nil
}

// GetBalance returns a follower's simulated balance
func (c *DirectoryClient) GetBalance(ctx context.Context, follower string) (float64, error) {
	var resp struct {
		Balance float64 `json:"balance"`
	}
	endpoint := fmt.Sprintf("%s/balance?follower=%s", c.baseURL, url.QueryEscape(utils.NormalizeAddress(follower)))
	if err := c.get(ctx, endpoint, &resp); err != nil {
		return 0, fmt.Errorf("fetch balance of %s: %w", utils.ShortAddress(follower), err)
	}
	return resp.Balance, nil
}

// get performs a GET with rate limiting and retries. Rate limit responses
// and server errors retry with exponential backoff; other client errors
// fail immediately.
func (c *DirectoryClient) get(ctx context.Context, endpoint string, out interface{}) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt == maxRetries {
				return fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			log.Printf("[Directory] Rate limited by directory API (attempt %d)", attempt+1)
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("server error %d after %d retries", resp.StatusCode, maxRetries)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

// sleep waits with exponential backoff, respecting the context
func (c *DirectoryClient) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
