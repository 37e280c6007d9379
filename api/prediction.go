package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/big"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"prediction-mirror/models"
	"prediction-mirror/utils"
)

const (
	// Public BSC RPC endpoint (free, no API key needed, but slower)
	DefaultChainRPC = "https://bsc-dataseed.binance.org"

	// PancakeSwap Prediction V2 (BNB/USD) on BSC mainnet
	DefaultPredictionContract = "0x18b2a687610328590bc8f2e5fedde3b582a49cda"
)

// PredictionClient queries the prediction game contract over JSON-RPC
type PredictionClient struct {
	httpClient  *http.Client
	rpcURL      string
	contract    common.Address
	rateLimiter *time.Ticker

	// Event topics and call selectors, derived from the contract ABI signatures
	bullTopic       common.Hash
	bearTopic       common.Hash
	roundsSel       []byte
	currentEpochSel []byte

	// Rounds whose oracle price is final never change again, so they are
	// safe to cache forever.
	roundCache map[int64]models.Round
	cacheMu    sync.RWMutex
}

// RPCRequest represents a JSON-RPC request
type RPCRequest struct {
	JsonRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

// RPCResponse represents a JSON-RPC response
type RPCResponse struct {
	JsonRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ethLog is one entry from an eth_getLogs result or a logs subscription
type ethLog struct {
	Address         string   `json:"address"`
	Topics          []string `json:"topics"`
	Data            string   `json:"data"`
	BlockNumber     string   `json:"blockNumber"`
	TransactionHash string   `json:"transactionHash"`
	Removed         bool     `json:"removed"`
}

// NewPredictionClient creates a new prediction contract client
func NewPredictionClient() *PredictionClient {
	rpcURL := os.Getenv("PREDICTION_RPC_URL")
	if rpcURL == "" {
		rpcURL = DefaultChainRPC
		log.Printf("[PredictionRPC] Using public RPC endpoint: %s", rpcURL)
	} else {
		log.Printf("[PredictionRPC] Using custom RPC endpoint")
	}

	contract := os.Getenv("PREDICTION_CONTRACT")
	if contract == "" {
		contract = DefaultPredictionContract
	}

	return &PredictionClient{
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		rpcURL:          rpcURL,
		contract:        common.HexToAddress(contract),
		rateLimiter:     time.NewTicker(100 * time.Millisecond), // 10 req/sec max
		bullTopic:       crypto.Keccak256Hash([]byte("BetBull(address,uint256,uint256)")),
		bearTopic:       crypto.Keccak256Hash([]byte("BetBear(address,uint256,uint256)")),
		roundsSel:       crypto.Keccak256([]byte("rounds(uint256)"))[:4],
		currentEpochSel: crypto.Keccak256([]byte("currentEpoch()"))[:4],
		roundCache:      make(map[int64]models.Round),
	}
}

// call performs one rate-limited JSON-RPC call and returns the raw result
func (c *PredictionClient) call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	// Rate limit
	select {
	case <-c.rateLimiter.C:
		// Proceed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	rpcReq := RPCRequest{
		JsonRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}

	reqBody, err := json.Marshal(rpcReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("RPC returned status %d: %s", resp.StatusCode, string(body))
	}

	var rpcResp RPCResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		return nil, fmt.Errorf("RPC error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}

	if rpcResp.Result == nil {
		return nil, fmt.Errorf("empty RPC result")
	}

	return rpcResp.Result, nil
}

// BlockNumber returns the latest chain block number
func (c *PredictionClient) BlockNumber(ctx context.Context) (uint64, error) {
	result, err := c.call(ctx, "eth_blockNumber", []interface{}{})
	if err != nil {
		return 0, err
	}

	var hexNum string
	if err := json.Unmarshal(result, &hexNum); err != nil {
		return 0, fmt.Errorf("unmarshal block number: %w", err)
	}

	num, ok := new(big.Int).SetString(strings.TrimPrefix(hexNum, "0x"), 16)
	if !ok {
		return 0, fmt.Errorf("invalid block number %q", hexNum)
	}
	return num.Uint64(), nil
}

// GetCurrentEpoch returns the epoch of the round currently open for wagers
func (c *PredictionClient) GetCurrentEpoch(ctx context.Context) (int64, error) {
	result, err := c.ethCall(ctx, c.currentEpochSel)
	if err != nil {
		return 0, err
	}

	if len(result) < 32 {
		return 0, fmt.Errorf("short currentEpoch result (%d bytes)", len(result))
	}
	return new(big.Int).SetBytes(result[:32]).Int64(), nil
}

// GetRound fetches one round's on-chain state. Fully resolved rounds are
// served from cache.
func (c *PredictionClient) GetRound(ctx context.Context, epoch int64) (models.Round, error) {
	// Check cache first
	c.cacheMu.RLock()
	if round, ok := c.roundCache[epoch]; ok {
		c.cacheMu.RUnlock()
		return round, nil
	}
	c.cacheMu.RUnlock()

	callData := append(append([]byte{}, c.roundsSel...), common.LeftPadBytes(big.NewInt(epoch).Bytes(), 32)...)
	result, err := c.ethCall(ctx, callData)
	if err != nil {
		return models.Round{}, err
	}

	// rounds() returns 14 words: epoch, start/lock/close timestamps,
	// lock/close prices, two oracle round ids, total/bull/bear amounts,
	// two reward fields, oracleCalled.
	if len(result) < 14*32 {
		return models.Round{}, fmt.Errorf("short rounds result for epoch %d (%d bytes)", epoch, len(result))
	}

	word := func(i int) *big.Int {
		return new(big.Int).SetBytes(result[i*32 : (i+1)*32])
	}

	round := models.Round{
		Epoch:        word(0).Int64(),
		StartTime:    time.Unix(word(1).Int64(), 0).UTC(),
		LockTime:     time.Unix(word(2).Int64(), 0).UTC(),
		CloseTime:    time.Unix(word(3).Int64(), 0).UTC(),
		LockPrice:    scaledToFloat(word(4), 1e8),
		ClosePrice:   scaledToFloat(word(5), 1e8),
		TotalAmount:  scaledToFloat(word(8), 1e18),
		BullAmount:   scaledToFloat(word(9), 1e18),
		BearAmount:   scaledToFloat(word(10), 1e18),
		OracleCalled: word(13).Sign() != 0,
	}

	// Cache only once the oracle price is final
	if round.OracleCalled && round.ClosePrice != 0 {
		c.cacheMu.Lock()
		c.roundCache[epoch] = round
		c.cacheMu.Unlock()
	}

	return round, nil
}

// GetWagerEvents fetches BetBull/BetBear events in a block range (inclusive)
func (c *PredictionClient) GetWagerEvents(ctx context.Context, fromBlock, toBlock uint64) ([]models.WagerEvent, error) {
	filter := map[string]interface{}{
		"fromBlock": fmt.Sprintf("0x%x", fromBlock),
		"toBlock":   fmt.Sprintf("0x%x", toBlock),
		"address":   c.contract.Hex(),
		"topics": []interface{}{
			[]string{c.bullTopic.Hex(), c.bearTopic.Hex()},
		},
	}

	result, err := c.call(ctx, "eth_getLogs", []interface{}{filter})
	if err != nil {
		return nil, err
	}

	var logs []ethLog
	if err := json.Unmarshal(result, &logs); err != nil {
		return nil, fmt.Errorf("unmarshal logs: %w", err)
	}

	events := make([]models.WagerEvent, 0, len(logs))
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		event, err := decodeWagerEvent(lg, c.bullTopic, c.bearTopic, "poll")
		if err != nil {
			log.Printf("[PredictionRPC] Skipping malformed log in tx %s: %v", lg.TransactionHash, err)
			continue
		}
		events = append(events, event)
	}

	return events, nil
}

// decodeWagerEvent turns one BetBull/BetBear log entry into a WagerEvent.
// Shared between the polling client and the WebSocket push feed.
func decodeWagerEvent(lg ethLog, bullTopic, bearTopic common.Hash, source string) (models.WagerEvent, error) {
	if len(lg.Topics) < 3 {
		return models.WagerEvent{}, fmt.Errorf("expected 3 topics, got %d", len(lg.Topics))
	}

	var direction models.Direction
	switch common.HexToHash(lg.Topics[0]) {
	case bullTopic:
		direction = models.DirectionBull
	case bearTopic:
		direction = models.DirectionBear
	default:
		return models.WagerEvent{}, fmt.Errorf("unexpected event topic %s", lg.Topics[0])
	}

	leader := common.BytesToAddress(common.FromHex(lg.Topics[1]))
	epoch := new(big.Int).SetBytes(common.FromHex(lg.Topics[2])).Int64()

	amount := new(big.Int).SetBytes(common.FromHex(lg.Data))
	if amount.Sign() == 0 {
		return models.WagerEvent{}, fmt.Errorf("zero wager amount")
	}

	blockNum, ok := new(big.Int).SetString(strings.TrimPrefix(lg.BlockNumber, "0x"), 16)
	if !ok {
		return models.WagerEvent{}, fmt.Errorf("invalid block number %q", lg.BlockNumber)
	}

	return models.WagerEvent{
		Leader:      utils.NormalizeAddress(leader.Hex()),
		Epoch:       epoch,
		Direction:   direction,
		Stake:       scaledToFloat(amount, 1e18),
		BlockNumber: blockNum.Uint64(),
		TxHash:      strings.ToLower(lg.TransactionHash),
		ObservedAt:  time.Now().UTC(),
		Source:      source,
	}, nil
}

// QuoteMultiplier returns the current payout multiple for one side of a
// round (total pool over side pool, before fees).
func (c *PredictionClient) QuoteMultiplier(ctx context.Context, epoch int64, direction models.Direction) (float64, error) {
	round, err := c.GetRound(ctx, epoch)
	if err != nil {
		return 0, err
	}

	side := round.BullAmount
	if direction == models.DirectionBear {
		side = round.BearAmount
	}
	if side <= 0 {
		return 0, fmt.Errorf("empty %s pool for epoch %d", direction, epoch)
	}

	return round.TotalAmount / side, nil
}

// ethCall performs an eth_call against the prediction contract and returns
// the decoded result bytes
func (c *PredictionClient) ethCall(ctx context.Context, data []byte) ([]byte, error) {
	params := []interface{}{
		map[string]string{
			"to":   c.contract.Hex(),
			"data": "0x" + common.Bytes2Hex(data),
		},
		"latest",
	}

	result, err := c.call(ctx, "eth_call", params)
	if err != nil {
		return nil, err
	}

	var hexData string
	if err := json.Unmarshal(result, &hexData); err != nil {
		return nil, fmt.Errorf("unmarshal call result: %w", err)
	}

	return common.FromHex(hexData), nil
}

// scaledToFloat converts a fixed-point big integer to float64
func scaledToFloat(v *big.Int, scale float64) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(v), big.NewFloat(scale)).Float64()
	return f
}

// Close stops the rate limiter
func (c *PredictionClient) Close() {
	if c.rateLimiter != nil {
		c.rateLimiter.Stop()
	}
}
