// Package api provides the chain WebSocket push feed for wager events.
// Logs arrive a few seconds ahead of the polling loop; both feeds converge
// on the same deduplicated pipeline downstream.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gorilla/websocket"

	"prediction-mirror/models"
)

const (
	// Public BSC WebSocket RPC endpoints
	predictionWSURL       = "wss://bsc-rpc.publicnode.com"
	predictionWSURLBackup = "wss://bsc.drpc.org"
)

// WagerEventHandler is called for each wager event pushed over the socket
type WagerEventHandler func(event models.WagerEvent)

// PredictionWSClient subscribes to BetBull/BetBear logs over WebSocket
type PredictionWSClient struct {
	conn   *websocket.Conn
	connMu sync.Mutex

	wsURL       string
	wsURLBackup string
	contract    common.Address
	bullTopic   common.Hash
	bearTopic   common.Hash

	// Subscription ID
	subID string

	// Callback when a wager event arrives
	onEvent WagerEventHandler

	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	// Stats
	eventsSeen      int64
	eventsForwarded int64
	statsMu         sync.RWMutex
}

// NewPredictionWSClient creates a new wager event push client
func NewPredictionWSClient(onEvent WagerEventHandler) *PredictionWSClient {
	wsURL := os.Getenv("PREDICTION_WS_URL")
	if wsURL == "" {
		wsURL = predictionWSURL
	}

	contract := os.Getenv("PREDICTION_CONTRACT")
	if contract == "" {
		contract = DefaultPredictionContract
	}

	return &PredictionWSClient{
		wsURL:       wsURL,
		wsURLBackup: predictionWSURLBackup,
		contract:    common.HexToAddress(contract),
		bullTopic:   crypto.Keccak256Hash([]byte("BetBull(address,uint256,uint256)")),
		bearTopic:   crypto.Keccak256Hash([]byte("BetBear(address,uint256,uint256)")),
		onEvent:     onEvent,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start connects to the chain WebSocket and subscribes to wager logs
func (c *PredictionWSClient) Start(ctx context.Context) error {
	if c.running {
		return fmt.Errorf("PredictionWS client already running")
	}

	if err := c.connect(); err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}

	if err := c.subscribe(); err != nil {
		c.conn.Close()
		return fmt.Errorf("subscription failed: %w", err)
	}

	c.running = true
	go c.readLoop(ctx)

	log.Printf("[PredictionWS] Started - streaming wager events from %s", c.contract.Hex())
	return nil
}

// Stop gracefully shuts down the client
func (c *PredictionWSClient) Stop() {
	if !c.running {
		return
	}

	c.running = false
	close(c.stopCh)

	c.connMu.Lock()
	if c.conn != nil {
		if c.subID != "" {
			unsubMsg := map[string]interface{}{
				"jsonrpc": "2.0",
				"method":  "eth_unsubscribe",
				"params":  []string{c.subID},
				"id":      2,
			}
			c.conn.WriteJSON(unsubMsg)
		}
		c.conn.Close()
	}
	c.connMu.Unlock()

	select {
	case <-c.doneCh:
	case <-time.After(5 * time.Second):
		log.Printf("[PredictionWS] Shutdown timeout")
	}

	log.Printf("[PredictionWS] Stopped")
}

// GetStats returns push feed statistics
func (c *PredictionWSClient) GetStats() (eventsSeen, eventsForwarded int64) {
	c.statsMu.RLock()
	defer c.statsMu.RUnlock()
	return c.eventsSeen, c.eventsForwarded
}

func (c *PredictionWSClient) connect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	// Try primary endpoint
	conn, _, err := dialer.Dial(c.wsURL, nil)
	if err != nil {
		log.Printf("[PredictionWS] Primary endpoint failed, trying backup...")
		conn, _, err = dialer.Dial(c.wsURLBackup, nil)
		if err != nil {
			return fmt.Errorf("all endpoints failed: %w", err)
		}
	}

	c.conn = conn
	log.Printf("[PredictionWS] Connected to chain RPC")
	return nil
}

func (c *PredictionWSClient) subscribe() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("not connected")
	}

	// Subscribe to BetBull/BetBear logs on the prediction contract
	subMsg := map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "eth_subscribe",
		"params": []interface{}{
			"logs",
			map[string]interface{}{
				"address": c.contract.Hex(),
				"topics": []interface{}{
					[]string{c.bullTopic.Hex(), c.bearTopic.Hex()},
				},
			},
		},
		"id": 1,
	}

	if err := c.conn.WriteJSON(subMsg); err != nil {
		return fmt.Errorf("subscribe write failed: %w", err)
	}

	// Read subscription response
	c.conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("subscribe read failed: %w", err)
	}
	c.conn.SetReadDeadline(time.Time{})

	var resp struct {
		Result string `json:"result"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(msg, &resp); err != nil {
		return fmt.Errorf("subscribe parse failed: %w", err)
	}

	if resp.Error != nil {
		return fmt.Errorf("subscribe error: %s", resp.Error.Message)
	}

	c.subID = resp.Result
	log.Printf("[PredictionWS] Subscribed to wager logs (sub_id=%s)", c.subID)
	return nil
}

func (c *PredictionWSClient) readLoop(ctx context.Context) {
	defer close(c.doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		default:
		}

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			c.reconnect(ctx)
			continue
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			select {
			case <-c.stopCh:
				return
			default:
			}
			log.Printf("[PredictionWS] Read error: %v, reconnecting...", err)
			c.reconnect(ctx)
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *PredictionWSClient) reconnect(ctx context.Context) {
	log.Printf("[PredictionWS] Reconnecting in 2s...")

	select {
	case <-ctx.Done():
		return
	case <-c.stopCh:
		return
	case <-time.After(2 * time.Second):
	}

	if err := c.connect(); err != nil {
		log.Printf("[PredictionWS] Reconnection failed: %v", err)
		return
	}

	if err := c.subscribe(); err != nil {
		log.Printf("[PredictionWS] Resubscription failed: %v", err)
	}
}

func (c *PredictionWSClient) handleMessage(data []byte) {
	// Parse subscription notification
	var notif struct {
		Method string `json:"method"`
		Params struct {
			Subscription string          `json:"subscription"`
			Result       json.RawMessage `json:"result"`
		} `json:"params"`
	}

	if err := json.Unmarshal(data, &notif); err != nil {
		return
	}

	if notif.Method != "eth_subscription" || notif.Params.Subscription != c.subID {
		return
	}

	var lg ethLog
	if err := json.Unmarshal(notif.Params.Result, &lg); err != nil {
		log.Printf("[PredictionWS] Unparseable log notification: %v", err)
		return
	}

	c.statsMu.Lock()
	c.eventsSeen++
	c.statsMu.Unlock()

	// Reorged-out logs arrive with removed=true; the trade store upsert is
	// first-writer-wins, so there is nothing to undo here either way.
	if lg.Removed {
		return
	}

	event, err := decodeWagerEvent(lg, c.bullTopic, c.bearTopic, "push")
	if err != nil {
		log.Printf("[PredictionWS] Skipping malformed log in tx %s: %v", lg.TransactionHash, err)
		return
	}

	c.statsMu.Lock()
	c.eventsForwarded++
	c.statsMu.Unlock()

	if c.onEvent != nil {
		c.onEvent(event)
	}
}
