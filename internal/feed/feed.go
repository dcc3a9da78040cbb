package feed

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"nhooyr.io/websocket"

	"autosell/internal/client/polymarket/clob"
	"autosell/internal/models"
)

// Recorder persists raw stream frames for diagnosis. Optional; failures are
// never allowed to affect price delivery.
type Recorder interface {
	InsertRawWSEvent(ctx context.Context, item *models.RawWSEvent) error
}

// Update is one price observation pushed by the stream.
type Update struct {
	TokenID string
	Price   float64
	Source  string // "book" or "last_trade"
	At      time.Time
}

type Options struct {
	URL               string
	KeepAliveInterval time.Duration
	PingTimeout       time.Duration
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	Multiplier        float64
	UpdateBuffer      int
	RecordRawEvents   bool
	Recorder          Recorder
	Logger            *zap.Logger
}

type cachedPrice struct {
	price float64
	at    time.Time
}

// PriceFeed maintains one logical subscription set against the market stream
// and a per-process price cache. It is a best-effort source: callers must
// fall back to REST when a token has no cached price.
type PriceFeed struct {
	opts Options

	mu        sync.Mutex
	desired   map[string]struct{}
	cache     map[string]cachedPrice
	conn      *clob.WSClient
	connected bool
	started   bool
	closed    bool
	cancel    context.CancelFunc
	done      chan struct{}

	updates chan Update
}

func New(opts Options) *PriceFeed {
	if opts.URL == "" {
		opts.URL = clob.DefaultMarketWSSURL
	}
	if opts.KeepAliveInterval <= 0 {
		opts.KeepAliveInterval = 20 * time.Second
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 5 * time.Second
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = 1 * time.Second
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 30 * time.Second
	}
	if opts.Multiplier <= 1 {
		opts.Multiplier = 2
	}
	if opts.UpdateBuffer <= 0 {
		opts.UpdateBuffer = 256
	}
	return &PriceFeed{
		opts:    opts,
		desired: make(map[string]struct{}),
		cache:   make(map[string]cachedPrice),
		updates: make(chan Update, opts.UpdateBuffer),
	}
}

// Connect starts the reconnect loop. Calling it again while running is a
// no-op; calling it after Disconnect is an error.
func (p *PriceFeed) Connect(ctx context.Context) error {
	if p == nil {
		return fmt.Errorf("price feed is nil")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("price feed is closed")
	}
	if p.started {
		return nil
	}
	p.started = true
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(runCtx)
	return nil
}

// Disconnect is terminal: it stops the reconnect loop and no further connect
// attempts are made on this instance.
func (p *PriceFeed) Disconnect() {
	if p == nil {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	cancel := p.cancel
	conn := p.conn
	done := p.done
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "disconnect")
	}
	if done != nil {
		<-done
	}
}

func (p *PriceFeed) Updates() <-chan Update {
	return p.updates
}

func (p *PriceFeed) Connected() bool {
	if p == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *PriceFeed) Subscriptions() []string {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.desired))
	for id := range p.desired {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// SubscribeToTokens adds ids to the desired set. While connected the delta is
// sent immediately; otherwise the full set is replayed on the next connect.
func (p *PriceFeed) SubscribeToTokens(ctx context.Context, ids []string) error {
	if p == nil {
		return fmt.Errorf("price feed is nil")
	}
	p.mu.Lock()
	added := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := p.desired[id]; !ok {
			p.desired[id] = struct{}{}
			added = append(added, id)
		}
	}
	conn := p.conn
	connected := p.connected
	p.mu.Unlock()

	if len(added) == 0 || !connected || conn == nil {
		return nil
	}
	return conn.UpdateMarketSubscription(ctx, added, "subscribe")
}

// UnsubscribeFromTokens removes ids from the desired set and evicts their
// cached prices.
func (p *PriceFeed) UnsubscribeFromTokens(ctx context.Context, ids []string) error {
	if p == nil {
		return fmt.Errorf("price feed is nil")
	}
	p.mu.Lock()
	removed := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := p.desired[id]; ok {
			delete(p.desired, id)
			delete(p.cache, id)
			removed = append(removed, id)
		}
	}
	conn := p.conn
	connected := p.connected
	p.mu.Unlock()

	if len(removed) == 0 || !connected || conn == nil {
		return nil
	}
	return conn.UpdateMarketSubscription(ctx, removed, "unsubscribe")
}

func (p *PriceFeed) LatestPrice(tokenID string) (float64, bool) {
	if p == nil {
		return 0, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.cache[tokenID]
	if !ok {
		return 0, false
	}
	return entry.price, true
}

func (p *PriceFeed) StorePrice(tokenID string, price float64) {
	if p == nil || tokenID == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache[tokenID] = cachedPrice{price: price, at: time.Now().UTC()}
}

func (p *PriceFeed) run(ctx context.Context) {
	defer close(p.done)
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		client := clob.NewWSClient(p.opts.URL)
		if err := client.Connect(ctx); err != nil {
			if p.opts.Logger != nil {
				p.opts.Logger.Warn("price feed connect failed", zap.Error(err))
			}
			if sleepWithJitter(ctx, p.backoffDelay(attempt)) != nil {
				return
			}
			attempt++
			continue
		}
		// The counter resets on a successful connect; a subscribe failure
		// backs off independently.
		attempt = 0

		subs := p.snapshotDesired()
		if len(subs) > 0 {
			if err := client.SubscribeMarket(ctx, subs); err != nil {
				if p.opts.Logger != nil {
					p.opts.Logger.Warn("price feed subscribe failed", zap.Error(err))
				}
				_ = client.Close(websocket.StatusInternalError, "subscribe failed")
				if sleepWithJitter(ctx, p.backoffDelay(attempt)) != nil {
					return
				}
				attempt++
				continue
			}
		}
		p.setConn(client, true)
		if p.opts.Logger != nil {
			p.opts.Logger.Info("price feed connected", zap.Int("subscriptions", len(subs)))
		}

		err := p.consume(ctx, client)
		p.setConn(nil, false)
		_ = client.Close(websocket.StatusNormalClosure, "reconnect")
		if ctx.Err() != nil {
			return
		}
		if p.opts.Logger != nil && err != nil {
			p.opts.Logger.Warn("price feed disconnected", zap.Error(err))
		}
		if sleepWithJitter(ctx, p.backoffDelay(attempt)) != nil {
			return
		}
		attempt++
	}
}

func (p *PriceFeed) consume(ctx context.Context, client *clob.WSClient) error {
	pingErr := make(chan error, 1)
	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()

	go func() {
		ticker := time.NewTicker(p.opts.KeepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				pingErr <- pingCtx.Err()
				return
			case <-ticker.C:
				pctx, cancel := context.WithTimeout(pingCtx, p.opts.PingTimeout)
				err := client.Ping(pctx)
				cancel()
				if err != nil {
					pingErr <- err
					return
				}
			}
		}
	}()

	for {
		select {
		case err := <-pingErr:
			return err
		default:
		}
		env, raw, err := client.Read(ctx)
		if err != nil {
			return err
		}
		if clob.IsPingPayload(env, raw) {
			_ = client.RespondPong(ctx)
			continue
		}
		p.handleFrame(ctx, env, raw)
	}
}

func (p *PriceFeed) handleFrame(ctx context.Context, env clob.MarketEnvelope, raw []byte) {
	tokenID := env.AssetID
	if tokenID == "" {
		tokenID = extractTokenID(raw)
	}
	eventType := normalizeEventType(env.EventType, raw)

	if p.opts.RecordRawEvents && p.opts.Recorder != nil {
		var tokenPtr *string
		if tokenID != "" {
			tokenPtr = &tokenID
		}
		err := p.opts.Recorder.InsertRawWSEvent(ctx, &models.RawWSEvent{
			TokenID:    tokenPtr,
			EventType:  eventType,
			ReceivedAt: time.Now().UTC(),
			Payload:    datatypes.JSON(raw),
		})
		if err != nil && p.opts.Logger != nil {
			p.opts.Logger.Warn("record raw ws event failed", zap.Error(err))
		}
	}

	if tokenID == "" {
		return
	}
	switch eventType {
	case "book":
		if mid, ok := midFromBook(raw); ok {
			p.emit(tokenID, mid, "book")
		}
	case "last_trade_price":
		price := lastTradePrice(raw)
		if price > 0 && price <= 1 {
			p.emit(tokenID, price, "last_trade")
		}
	}
}

func (p *PriceFeed) emit(tokenID string, price float64, source string) {
	p.StorePrice(tokenID, price)
	update := Update{
		TokenID: tokenID,
		Price:   price,
		Source:  source,
		At:      time.Now().UTC(),
	}
	select {
	case p.updates <- update:
	default:
		// Consumer is behind; drop rather than block the reader. The next
		// tick will pick the price up from the cache.
	}
}

func (p *PriceFeed) setConn(conn *clob.WSClient, connected bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conn = conn
	p.connected = connected
}

func (p *PriceFeed) snapshotDesired() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.desired))
	for id := range p.desired {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// backoffDelay is min(maxDelay, initialDelay * multiplier^attempt).
func (p *PriceFeed) backoffDelay(attempt int) time.Duration {
	delay := float64(p.opts.InitialDelay) * math.Pow(p.opts.Multiplier, float64(attempt))
	if delay > float64(p.opts.MaxDelay) {
		return p.opts.MaxDelay
	}
	return time.Duration(delay)
}

func sleepWithJitter(ctx context.Context, base time.Duration) error {
	if base <= 0 {
		return ctx.Err()
	}
	jitter := time.Duration(rand.Int63n(int64(base/2) + 1))
	timer := time.NewTimer(base + jitter)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
