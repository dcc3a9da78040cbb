package feed

import (
	"encoding/json"
	"strconv"
	"strings"
)

// midFromBook derives a price from a book frame: (bestBid+bestAsk)/2 when
// both sides are present, the single side when only one is, nothing when the
// book is empty.
func midFromBook(raw []byte) (float64, bool) {
	bids, asks, err := parseBookSides(raw)
	if err != nil {
		return 0, false
	}
	bestBid := topPrice(bids)
	bestAsk := topPrice(asks)
	switch {
	case bestBid > 0 && bestAsk > 0:
		return (bestBid + bestAsk) / 2, true
	case bestBid > 0:
		return bestBid, true
	case bestAsk > 0:
		return bestAsk, true
	default:
		return 0, false
	}
}

type priceLevel struct {
	Price float64
	Size  float64
}

func parseBookSides(raw []byte) ([]priceLevel, []priceLevel, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, nil, err
	}
	payload := root["book"]
	if len(payload) == 0 {
		payload = root["data"]
	}
	obj := root
	if len(payload) > 0 {
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(payload, &inner); err == nil {
			obj = inner
		}
	}
	return parseLevels(obj["bids"]), parseLevels(obj["asks"]), nil
}

func parseLevels(raw json.RawMessage) []priceLevel {
	if len(raw) == 0 {
		return nil
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil {
		return nil
	}
	out := make([]priceLevel, 0, len(arr))
	for _, item := range arr {
		if level, ok := parseLevel(item); ok {
			out = append(out, level)
		}
	}
	return out
}

func parseLevel(raw json.RawMessage) (priceLevel, bool) {
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) >= 2 {
		return priceLevel{
			Price: parseFloat(arr[0]),
			Size:  parseFloat(arr[1]),
		}, true
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		level := priceLevel{
			Price: parseFloat(obj["price"]),
			Size:  parseFloat(firstRaw(obj, "size", "qty", "amount")),
		}
		if level.Price > 0 {
			return level, true
		}
	}
	return priceLevel{}, false
}

func topPrice(levels []priceLevel) float64 {
	if len(levels) == 0 {
		return 0
	}
	return levels[0].Price
}

func lastTradePrice(raw []byte) float64 {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(raw, &root); err != nil {
		return 0
	}
	if val := parseFloat(firstRaw(root, "last_trade_price", "lastTradePrice", "price")); val > 0 {
		return val
	}
	if data := root["data"]; len(data) > 0 {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err == nil {
			if val := parseFloat(firstRaw(obj, "last_trade_price", "lastTradePrice", "price")); val > 0 {
				return val
			}
		}
	}
	return 0
}

func normalizeEventType(eventType string, raw []byte) string {
	val := strings.ToLower(strings.TrimSpace(eventType))
	if val != "" {
		return val
	}
	var probe struct {
		EventType string `json:"event_type"`
		Type      string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err == nil {
		if probe.EventType != "" {
			return strings.ToLower(strings.TrimSpace(probe.EventType))
		}
		if probe.Type != "" {
			return strings.ToLower(strings.TrimSpace(probe.Type))
		}
	}
	return "unknown"
}

func extractTokenID(raw []byte) string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	rawID := firstRaw(obj, "asset_id", "token_id", "tokenId")
	if len(rawID) == 0 {
		return ""
	}
	return strings.Trim(string(rawID), "\"")
}

func parseFloat(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if val, err := strconv.ParseFloat(s, 64); err == nil {
			return val
		}
	}
	return 0
}

func firstRaw(m map[string]json.RawMessage, keys ...string) json.RawMessage {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			return v
		}
	}
	return nil
}
