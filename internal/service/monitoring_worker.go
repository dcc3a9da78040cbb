package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"autosell/internal/config"
	"autosell/internal/feed"
	"autosell/internal/models"
	"autosell/internal/repository"
)

// MonitoringWorker orchestrates the evaluation pipeline: the periodic tick,
// the streaming push path, the circuit breaker, and the single trigger()
// chokepoint both paths funnel through. The store-level claim inside
// trigger() is the exactly-once guarantee; everything in memory here is a
// fast path on top of it.
type MonitoringWorker struct {
	Repo     repository.Repository
	Monitor  *PositionMonitor
	Executor *RuleExecutor
	Events   *EventLogService
	Logger   *zap.Logger
	Config   config.WorkerConfig

	// NewFeed builds a fresh streaming feed per Start; a feed instance is
	// terminal once disconnected.
	NewFeed func() *feed.PriceFeed

	mu                  sync.Mutex
	running             bool
	cancel              context.CancelFunc
	wg                  *sync.WaitGroup
	feed                *feed.PriceFeed
	inFlight            map[uint64]struct{}
	consecutiveFailures int
	circuitOpenUntil    time.Time
	lastSyncTime        time.Time
	activeRulesCount    int
}

// WorkerStatus is the read-only snapshot served to observability consumers.
type WorkerStatus struct {
	Running             bool       `json:"running"`
	ActiveRulesCount    int        `json:"active_rules_count"`
	LastSyncTime        *time.Time `json:"last_sync_time,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	CircuitBreakerUntil *time.Time `json:"circuit_breaker_until,omitempty"`
	StreamConnected     bool       `json:"stream_connected"`
	StreamSubscriptions []string   `json:"stream_subscriptions"`
}

// Start is idempotent. It launches the tick loop (with one immediate tick)
// and, when streaming is enabled, a fresh feed plus its consumer goroutine.
func (s *MonitoringWorker) Start(ctx context.Context) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true
	if s.inFlight == nil {
		s.inFlight = make(map[uint64]struct{})
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	// One WaitGroup per Start. A Stop that is already draining waits on its
	// own snapshot, so a concurrent restart never Adds to a group being
	// waited on.
	wg := &sync.WaitGroup{}
	s.wg = wg

	if s.Config.StreamEnabled && s.NewFeed != nil {
		f := s.NewFeed()
		if err := f.Connect(runCtx); err == nil {
			s.feed = f
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.consumeStream(runCtx, f)
			}()
		} else if s.Logger != nil {
			s.Logger.Warn("price feed start failed", zap.Error(err))
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.loop(runCtx)
	}()

	if s.Logger != nil {
		s.Logger.Info("monitoring worker started",
			zap.Duration("tick_interval", s.tickInterval()),
			zap.Bool("stream_enabled", s.Config.StreamEnabled),
		)
	}
	return nil
}

// Stop is idempotent. It cancels the loops and disconnects the feed but does
// not abort in-flight executions; they complete or fail on their own.
func (s *MonitoringWorker) Stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	f := s.feed
	s.feed = nil
	wg := s.wg
	s.wg = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if f != nil {
		f.Disconnect()
	}
	if wg != nil {
		wg.Wait()
	}
	if s.Logger != nil {
		s.Logger.Info("monitoring worker stopped")
	}
}

func (s *MonitoringWorker) Running() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *MonitoringWorker) Status() WorkerStatus {
	if s == nil {
		return WorkerStatus{}
	}
	s.mu.Lock()
	status := WorkerStatus{
		Running:             s.running,
		ActiveRulesCount:    s.activeRulesCount,
		ConsecutiveFailures: s.consecutiveFailures,
		StreamSubscriptions: []string{},
	}
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		status.LastSyncTime = &t
	}
	if time.Now().Before(s.circuitOpenUntil) {
		t := s.circuitOpenUntil
		status.CircuitBreakerUntil = &t
	}
	f := s.feed
	s.mu.Unlock()

	if f != nil {
		status.StreamConnected = f.Connected()
		status.StreamSubscriptions = f.Subscriptions()
	}
	return status
}

func (s *MonitoringWorker) tickInterval() time.Duration {
	if s.Config.TickInterval > 0 {
		return s.Config.TickInterval
	}
	return 30 * time.Second
}

func (s *MonitoringWorker) failureThreshold() int {
	if s.Config.FailureThreshold > 0 {
		return s.Config.FailureThreshold
	}
	return 5
}

func (s *MonitoringWorker) circuitCooldown() time.Duration {
	if s.Config.CircuitCooldown > 0 {
		return s.Config.CircuitCooldown
	}
	return 2 * time.Minute
}

func (s *MonitoringWorker) loop(ctx context.Context) {
	ticker := time.NewTicker(s.tickInterval())
	defer ticker.Stop()
	for {
		s.runTick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// runTick wraps one tick with the circuit-breaker accounting. A skipped tick
// (circuit open) counts as neither success nor failure.
func (s *MonitoringWorker) runTick(ctx context.Context) {
	s.mu.Lock()
	openUntil := s.circuitOpenUntil
	s.mu.Unlock()
	if time.Now().Before(openUntil) {
		if s.Logger != nil {
			s.Logger.Warn("tick skipped: circuit breaker open", zap.Time("until", openUntil))
		}
		return
	}

	err := s.tick(ctx)
	if ctx.Err() != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		s.consecutiveFailures = 0
		s.circuitOpenUntil = time.Time{}
		return
	}
	s.consecutiveFailures++
	if s.Logger != nil {
		s.Logger.Error("tick failed",
			zap.Int("consecutive_failures", s.consecutiveFailures),
			zap.Error(err),
		)
	}
	if s.consecutiveFailures >= s.failureThreshold() {
		s.circuitOpenUntil = time.Now().Add(s.circuitCooldown())
		if s.Logger != nil {
			s.Logger.Error("circuit breaker opened", zap.Time("until", s.circuitOpenUntil))
		}
	}
}

func (s *MonitoringWorker) tick(ctx context.Context) error {
	rules, err := s.Repo.ListActiveRules(ctx)
	if err != nil {
		return err
	}

	s.reconcileSubscriptions(ctx, rules)

	if s.Monitor != nil {
		if err := s.Monitor.UpdatePositions(ctx); err != nil {
			return err
		}
	}

	for i := range rules {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.processRule(ctx, rules[i]); err != nil && s.Logger != nil {
			// Per-rule trouble never aborts the rest of the batch.
			s.Logger.Warn("rule processing failed",
				zap.Uint64("rule_id", rules[i].ID),
				zap.Error(err),
			)
		}
	}

	s.mu.Lock()
	s.lastSyncTime = time.Now().UTC()
	s.activeRulesCount = len(rules)
	s.mu.Unlock()
	return nil
}

// reconcileSubscriptions syncs the feed's subscription set to exactly the
// tokens of the ACTIVE rules. Unsubscribing also evicts the tokens' cached
// prices, so the cache stays bounded by the live rule set.
func (s *MonitoringWorker) reconcileSubscriptions(ctx context.Context, rules []models.Rule) {
	s.mu.Lock()
	f := s.feed
	s.mu.Unlock()
	if f == nil {
		return
	}
	wanted := make(map[string]struct{}, len(rules))
	for _, rule := range rules {
		wanted[rule.TokenID] = struct{}{}
	}
	current := f.Subscriptions()
	currentSet := make(map[string]struct{}, len(current))
	var extra []string
	for _, id := range current {
		currentSet[id] = struct{}{}
		if _, ok := wanted[id]; !ok {
			extra = append(extra, id)
		}
	}
	var missing []string
	for id := range wanted {
		if _, ok := currentSet[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		if err := f.SubscribeToTokens(ctx, missing); err != nil && s.Logger != nil {
			s.Logger.Warn("feed subscribe failed", zap.Error(err))
		}
	}
	if len(extra) > 0 {
		if err := f.UnsubscribeFromTokens(ctx, extra); err != nil && s.Logger != nil {
			s.Logger.Warn("feed unsubscribe failed", zap.Error(err))
		}
	}
}

func (s *MonitoringWorker) processRule(ctx context.Context, rule models.Rule) error {
	price, ok, err := s.resolvePrice(ctx, rule)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if s.Executor != nil {
		if err := s.Executor.MaybeAdjustTrailingTrigger(ctx, &rule, price); err != nil {
			return err
		}
		if s.Executor.Evaluate(rule, price) {
			return s.trigger(ctx, rule, price)
		}
	}
	return nil
}

// resolvePrice is streaming-cache-first with REST fallback; a fallback hit
// is written back into the cache so the push path can use it too.
func (s *MonitoringWorker) resolvePrice(ctx context.Context, rule models.Rule) (float64, bool, error) {
	s.mu.Lock()
	f := s.feed
	s.mu.Unlock()
	if f != nil {
		if price, ok := f.LatestPrice(rule.TokenID); ok {
			return price, true, nil
		}
	}
	if s.Monitor == nil {
		return 0, false, nil
	}
	price, err := s.Monitor.GetCurrentPrice(ctx, rule.MarketID, rule.TokenID)
	if err != nil {
		return 0, false, err
	}
	if f != nil {
		f.StorePrice(rule.TokenID, price)
	}
	return price, true, nil
}

func (s *MonitoringWorker) consumeStream(ctx context.Context, f *feed.PriceFeed) {
	for {
		select {
		case <-ctx.Done():
			return
		case update := <-f.Updates():
			s.handlePriceUpdate(ctx, update)
		}
	}
}

// handlePriceUpdate is the streaming push path. It runs concurrently with
// ticks; the shared trigger() claim keeps the two from double-executing.
func (s *MonitoringWorker) handlePriceUpdate(ctx context.Context, update feed.Update) {
	rules, err := s.Repo.ListActiveRulesByTokenID(ctx, update.TokenID)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Warn("load rules for price update failed",
				zap.String("token_id", update.TokenID),
				zap.Error(err),
			)
		}
		return
	}
	for i := range rules {
		rule := rules[i]
		if s.Executor == nil {
			return
		}
		if err := s.Executor.MaybeAdjustTrailingTrigger(ctx, &rule, update.Price); err != nil {
			if s.Logger != nil {
				s.Logger.Warn("trailing adjust failed", zap.Uint64("rule_id", rule.ID), zap.Error(err))
			}
			continue
		}
		if s.Executor.Evaluate(rule, update.Price) {
			if err := s.trigger(ctx, rule, update.Price); err != nil && s.Logger != nil {
				s.Logger.Warn("trigger from price update failed",
					zap.Uint64("rule_id", rule.ID),
					zap.Error(err),
				)
			}
		}
	}
}

// trigger is the single chokepoint for both evaluation paths.
//
// The in-flight set is a same-process fast path; the store claim is the
// authoritative guard and holds across processes. A transient execute error
// reverts the claim so the rule is retried; a permanent one leaves the rule
// FAILED.
func (s *MonitoringWorker) trigger(ctx context.Context, rule models.Rule, price float64) error {
	if !s.beginExecution(rule.ID) {
		return nil
	}
	defer s.endExecution(rule.ID)

	claimed, err := s.Repo.ClaimRuleTrigger(ctx, rule.ID, time.Now().UTC())
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	if s.Events != nil {
		_ = s.Events.Log(ctx, rule.ID, models.EventRuleEvaluated, map[string]any{
			"price":        price,
			"triggerPrice": rule.TriggerPrice,
			"ruleType":     rule.RuleType,
		})
	}

	result, err := s.Executor.Execute(ctx, rule)
	if err != nil {
		if IsPermanent(err) {
			// Execute already drove the rule to FAILED.
			return err
		}
		if reverted, revertErr := s.Repo.RevertRuleToActive(ctx, rule.ID); revertErr != nil {
			if s.Logger != nil {
				s.Logger.Error("revert to ACTIVE failed; rule may be stuck TRIGGERED",
					zap.Uint64("rule_id", rule.ID),
					zap.Error(revertErr),
				)
			}
		} else if reverted && s.Logger != nil {
			s.Logger.Warn("execution failed transiently; rule reverted for retry",
				zap.Uint64("rule_id", rule.ID),
				zap.Error(err),
			)
		}
		return err
	}

	if result.Executed && s.Events != nil {
		_ = s.Events.Log(ctx, rule.ID, models.EventRuleTriggered, map[string]any{
			"price":   price,
			"orderId": result.OrderID,
		})
	}
	if s.Logger != nil {
		s.Logger.Info("rule triggered",
			zap.Uint64("rule_id", rule.ID),
			zap.Float64("price", price),
			zap.Bool("executed", result.Executed),
		)
	}
	return nil
}

// beginExecution atomically checks and claims the in-process slot for a
// rule. False means some other goroutine in this process is already on it.
func (s *MonitoringWorker) beginExecution(ruleID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight == nil {
		s.inFlight = make(map[uint64]struct{})
	}
	if _, ok := s.inFlight[ruleID]; ok {
		return false
	}
	s.inFlight[ruleID] = struct{}{}
	return true
}

func (s *MonitoringWorker) endExecution(ruleID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, ruleID)
}
