package clob

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"nhooyr.io/websocket"
)

const DefaultMarketWSSURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"

type MarketSubscribeRequest struct {
	Type      string   `json:"type"`
	AssetsIDs []string `json:"assets_ids,omitempty"`
}

type MarketSubscriptionUpdate struct {
	AssetsIDs []string `json:"assets_ids"`
	Operation string   `json:"operation"`
}

// MarketEnvelope carries the fields common to all market-channel frames.
// Full payloads stay in the raw bytes and are decoded by the consumer.
type MarketEnvelope struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Timestamp string `json:"timestamp"`
}

// WSClient is a single connection to the market channel. Reconnect policy
// lives in the consumer, not here.
type WSClient struct {
	url  string
	conn *websocket.Conn
}

func NewWSClient(url string) *WSClient {
	if strings.TrimSpace(url) == "" {
		url = DefaultMarketWSSURL
	}
	return &WSClient{url: url}
}

func (c *WSClient) Connect(ctx context.Context) error {
	if c == nil {
		return fmt.Errorf("ws client is nil")
	}
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return err
	}
	// Book snapshots can be large; raise read limit above the default.
	conn.SetReadLimit(2 << 20) // 2MB
	c.conn = conn
	return nil
}

func (c *WSClient) Close(status websocket.StatusCode, reason string) error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close(status, reason)
}

func (c *WSClient) Ping(ctx context.Context) error {
	if c == nil || c.conn == nil {
		return fmt.Errorf("ws not connected")
	}
	return c.conn.Ping(ctx)
}

func (c *WSClient) SubscribeMarket(ctx context.Context, assetIDs []string) error {
	if c == nil || c.conn == nil {
		return fmt.Errorf("ws not connected")
	}
	req := MarketSubscribeRequest{
		Type:      "market",
		AssetsIDs: assetIDs,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, websocket.MessageText, payload)
}

func (c *WSClient) UpdateMarketSubscription(ctx context.Context, assetIDs []string, operation string) error {
	if c == nil || c.conn == nil {
		return fmt.Errorf("ws not connected")
	}
	op := strings.ToLower(strings.TrimSpace(operation))
	if op != "subscribe" && op != "unsubscribe" {
		return fmt.Errorf("invalid operation: %s", operation)
	}
	req := MarketSubscriptionUpdate{
		AssetsIDs: assetIDs,
		Operation: op,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, websocket.MessageText, payload)
}

func (c *WSClient) Read(ctx context.Context) (MarketEnvelope, []byte, error) {
	if c == nil || c.conn == nil {
		return MarketEnvelope{}, nil, fmt.Errorf("ws not connected")
	}
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return MarketEnvelope{}, nil, err
	}
	var env MarketEnvelope
	_ = json.Unmarshal(data, &env)
	return env, data, nil
}

func (c *WSClient) RespondPong(ctx context.Context) error {
	if c == nil || c.conn == nil {
		return fmt.Errorf("ws not connected")
	}
	payload := []byte(`{"event_type":"pong"}`)
	return c.conn.Write(ctx, websocket.MessageText, payload)
}

func IsPingPayload(env MarketEnvelope, raw []byte) bool {
	if strings.EqualFold(env.EventType, "ping") {
		return true
	}
	if len(raw) == 0 {
		return false
	}
	if strings.TrimSpace(string(raw)) == "ping" {
		return true
	}
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err == nil {
		if strings.EqualFold(probe.Type, "ping") {
			return true
		}
	}
	return false
}
