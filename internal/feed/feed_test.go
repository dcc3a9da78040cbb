package feed

import (
	"context"
	"math"
	"testing"
	"time"

	"autosell/internal/client/polymarket/clob"
)

func TestBackoffDelaySchedule(t *testing.T) {
	p := New(Options{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
	})
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for attempt, expected := range want {
		if got := p.backoffDelay(attempt); got != expected {
			t.Fatalf("attempt %d delay=%v want=%v", attempt, got, expected)
		}
	}
}

func TestMidFromBook(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want float64
		ok   bool
	}{
		{
			name: "both sides",
			raw:  `{"event_type":"book","bids":[["0.40","100"]],"asks":[["0.44","80"]]}`,
			want: 0.42,
			ok:   true,
		},
		{
			name: "bid only",
			raw:  `{"event_type":"book","bids":[["0.40","100"]],"asks":[]}`,
			want: 0.40,
			ok:   true,
		},
		{
			name: "ask only",
			raw:  `{"event_type":"book","bids":[],"asks":[["0.44","80"]]}`,
			want: 0.44,
			ok:   true,
		},
		{
			name: "empty book",
			raw:  `{"event_type":"book","bids":[],"asks":[]}`,
			ok:   false,
		},
		{
			name: "nested payload",
			raw:  `{"event_type":"book","data":{"bids":[["0.30","1"]],"asks":[["0.50","1"]]}}`,
			want: 0.40,
			ok:   true,
		},
	}
	for _, tc := range cases {
		got, ok := midFromBook([]byte(tc.raw))
		if ok != tc.ok {
			t.Fatalf("%s: ok=%v want=%v", tc.name, ok, tc.ok)
		}
		if ok && math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("%s: mid=%v want=%v", tc.name, got, tc.want)
		}
	}
}

func TestHandleFrame_LastTradeValidityBounds(t *testing.T) {
	p := New(Options{UpdateBuffer: 8})
	ctx := context.Background()

	frame := func(price string) (clob.MarketEnvelope, []byte) {
		raw := []byte(`{"event_type":"last_trade_price","asset_id":"t1","price":` + price + `}`)
		return clob.MarketEnvelope{EventType: "last_trade_price", AssetID: "t1"}, raw
	}

	env, raw := frame("1.5")
	p.handleFrame(ctx, env, raw)
	env, raw = frame("0")
	p.handleFrame(ctx, env, raw)
	select {
	case update := <-p.Updates():
		t.Fatalf("unexpected update for invalid price: %+v", update)
	default:
	}

	env, raw = frame("0.62")
	p.handleFrame(ctx, env, raw)
	select {
	case update := <-p.Updates():
		if update.Price != 0.62 || update.TokenID != "t1" || update.Source != "last_trade" {
			t.Fatalf("update=%+v want price=0.62 token=t1 source=last_trade", update)
		}
	default:
		t.Fatalf("no update emitted for valid trade price")
	}
	if price, ok := p.LatestPrice("t1"); !ok || price != 0.62 {
		t.Fatalf("cache price=%v ok=%v want 0.62", price, ok)
	}

	// p=1 is a valid probability boundary.
	env, raw = frame("1")
	p.handleFrame(ctx, env, raw)
	select {
	case update := <-p.Updates():
		if update.Price != 1 {
			t.Fatalf("update price=%v want=1", update.Price)
		}
	default:
		t.Fatalf("no update emitted for p=1")
	}
}

func TestHandleFrame_BookUpdatesCache(t *testing.T) {
	p := New(Options{UpdateBuffer: 8})
	raw := []byte(`{"event_type":"book","asset_id":"t1","bids":[["0.40","100"]],"asks":[["0.44","80"]]}`)
	p.handleFrame(context.Background(), clob.MarketEnvelope{EventType: "book", AssetID: "t1"}, raw)
	if price, ok := p.LatestPrice("t1"); !ok || math.Abs(price-0.42) > 1e-9 {
		t.Fatalf("cache price=%v ok=%v want 0.42", price, ok)
	}
}

func TestSubscriptionSetSemantics(t *testing.T) {
	p := New(Options{})
	ctx := context.Background()
	if err := p.SubscribeToTokens(ctx, []string{"b", "a", "b", ""}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	subs := p.Subscriptions()
	if len(subs) != 2 || subs[0] != "a" || subs[1] != "b" {
		t.Fatalf("subscriptions=%v want=[a b]", subs)
	}
}

func TestUnsubscribeEvictsCache(t *testing.T) {
	p := New(Options{})
	ctx := context.Background()
	if err := p.SubscribeToTokens(ctx, []string{"t1", "t2"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	p.StorePrice("t1", 0.5)
	p.StorePrice("t2", 0.6)
	if err := p.UnsubscribeFromTokens(ctx, []string{"t1"}); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if _, ok := p.LatestPrice("t1"); ok {
		t.Fatalf("t1 price should be evicted")
	}
	if price, ok := p.LatestPrice("t2"); !ok || price != 0.6 {
		t.Fatalf("t2 price=%v ok=%v want 0.6", price, ok)
	}
	subs := p.Subscriptions()
	if len(subs) != 1 || subs[0] != "t2" {
		t.Fatalf("subscriptions=%v want=[t2]", subs)
	}
}

func TestConnectAfterDisconnectFails(t *testing.T) {
	p := New(Options{})
	p.Disconnect()
	if err := p.Connect(context.Background()); err == nil {
		t.Fatalf("connect after disconnect should fail")
	}
}
