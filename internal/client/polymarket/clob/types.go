package clob

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Decimal accepts string, number, or null price encodings. The CLOB is not
// consistent about which one a given endpoint returns.
type Decimal struct {
	decimal.Decimal
}

func (d *Decimal) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		d.Decimal = decimal.Zero
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		val, err := decimal.NewFromString(s)
		if err != nil {
			return err
		}
		d.Decimal = val
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		d.Decimal = decimal.NewFromFloat(f)
		return nil
	}
	return fmt.Errorf("invalid decimal: %s", string(b))
}

type Order struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

func (o *Order) UnmarshalJSON(b []byte) error {
	var arr []json.RawMessage
	if err := json.Unmarshal(b, &arr); err == nil && len(arr) >= 2 {
		price, err := parseDecimalRaw(arr[0])
		if err != nil {
			return err
		}
		size, err := parseDecimalRaw(arr[1])
		if err != nil {
			return err
		}
		o.Price = price
		o.Size = size
		return nil
	}
	var obj struct {
		Price json.RawMessage `json:"price"`
		Size  json.RawMessage `json:"size"`
		Qty   json.RawMessage `json:"qty"`
	}
	if err := json.Unmarshal(b, &obj); err == nil {
		price, err := parseDecimalRaw(obj.Price)
		if err != nil {
			return err
		}
		sizeRaw := obj.Size
		if len(sizeRaw) == 0 {
			sizeRaw = obj.Qty
		}
		size, err := parseDecimalRaw(sizeRaw)
		if err != nil {
			return err
		}
		o.Price = price
		o.Size = size
		return nil
	}
	return fmt.Errorf("invalid order: %s", string(b))
}

type OrderBook struct {
	Bids []Order `json:"bids"`
	Asks []Order `json:"asks"`
}

// BestBidAsk returns the top of each side. ok is false for the sides the book
// does not have.
func (b *OrderBook) BestBidAsk() (bid, ask decimal.Decimal, hasBid, hasAsk bool) {
	if b == nil {
		return decimal.Zero, decimal.Zero, false, false
	}
	if len(b.Bids) > 0 {
		bid = b.Bids[0].Price
		hasBid = true
	}
	if len(b.Asks) > 0 {
		ask = b.Asks[0].Price
		hasAsk = true
	}
	return bid, ask, hasBid, hasAsk
}

func parsePrice(body []byte) (Decimal, error) {
	var resp struct {
		Price Decimal `json:"price"`
	}
	if err := json.Unmarshal(body, &resp); err == nil && !resp.Price.Decimal.IsZero() {
		return resp.Price, nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return Decimal{}, err
	}
	if priceRaw, ok := raw["price"]; ok {
		val, err := parseDecimalRaw(priceRaw)
		if err != nil {
			return Decimal{}, err
		}
		return Decimal{Decimal: val}, nil
	}
	return Decimal{}, fmt.Errorf("price not found in response")
}

func parseOrderBook(body []byte) (*OrderBook, error) {
	var book OrderBook
	if err := json.Unmarshal(body, &book); err == nil {
		return &book, nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	if bidsRaw, ok := raw["bids"]; ok {
		_ = json.Unmarshal(bidsRaw, &book.Bids)
	}
	if asksRaw, ok := raw["asks"]; ok {
		_ = json.Unmarshal(asksRaw, &book.Asks)
	}
	return &book, nil
}

func parseDecimalRaw(b json.RawMessage) (decimal.Decimal, error) {
	var d Decimal
	if err := json.Unmarshal(b, &d); err != nil {
		return decimal.Zero, err
	}
	return d.Decimal, nil
}
