package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"autosell/internal/client/polymarket/clob"
	"autosell/internal/client/tradeskill"
	"autosell/internal/models"
	"autosell/internal/repository"
)

var two = decimal.NewFromInt(2)

// PositionMonitor refreshes cached holdings from the trade skill and serves
// point prices over CLOB REST for tokens the stream has no quote for.
type PositionMonitor struct {
	Repo   repository.Repository
	Trade  *tradeskill.Client
	Clob   *clob.Client
	Logger *zap.Logger
}

// UpdatePositions fetches holdings for every distinct owner implied by
// ACTIVE rules and upserts the snapshot rows wholesale. Fetch failures
// propagate; the worker's circuit breaker owns the retry policy.
func (s *PositionMonitor) UpdatePositions(ctx context.Context) error {
	if s == nil || s.Repo == nil || s.Trade == nil {
		return nil
	}
	owners, err := s.Repo.DistinctActiveRuleOwners(ctx)
	if err != nil {
		return fmt.Errorf("list rule owners: %w", err)
	}
	if len(owners) == 0 {
		return nil
	}

	rules, err := s.Repo.ListActiveRules(ctx)
	if err != nil {
		return fmt.Errorf("list active rules: %w", err)
	}
	// Holdings come back keyed by token only; market and side come from the
	// rules that reference the token.
	type ruleKey struct {
		marketID string
		side     string
	}
	byToken := make(map[string]ruleKey, len(rules))
	for _, rule := range rules {
		if _, ok := byToken[rule.TokenID]; !ok {
			byToken[rule.TokenID] = ruleKey{marketID: rule.MarketID, side: rule.Side}
		}
	}

	now := time.Now().UTC()
	for _, owner := range owners {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		result, err := s.Trade.GetHoldings(ctx, owner)
		if err != nil {
			return fmt.Errorf("fetch holdings for %s: %w", owner, err)
		}
		for _, holding := range result.Holdings {
			key, ok := byToken[holding.TokenID]
			if !ok {
				continue
			}
			item := &models.MonitoredPosition{
				OwnerRef:      owner,
				MarketID:      key.marketID,
				TokenID:       holding.TokenID,
				Side:          key.side,
				Quantity:      holding.Shares,
				AvgEntryPrice: holding.AvgEntryPrice,
				CurrentPrice:  holding.CurrentPrice,
				Redeemable:    holding.Redeemable,
				LastUpdatedAt: now,
			}
			if err := s.Repo.UpsertMonitoredPosition(ctx, item); err != nil {
				return fmt.Errorf("upsert position %s: %w", holding.TokenID, err)
			}
		}
		if s.Logger != nil {
			s.Logger.Debug("positions refreshed",
				zap.String("owner", owner),
				zap.Int("holdings", len(result.Holdings)),
			)
		}
	}
	return nil
}

// GetCurrentPrice returns a point price for a token over REST. Book mid is
// preferred; the venue's own price quote is the fallback.
func (s *PositionMonitor) GetCurrentPrice(ctx context.Context, marketID, tokenID string) (float64, error) {
	if s == nil || s.Clob == nil {
		return 0, fmt.Errorf("price client not configured")
	}
	book, err := s.Clob.GetBook(ctx, tokenID)
	if err == nil {
		bid, ask, hasBid, hasAsk := book.BestBidAsk()
		switch {
		case hasBid && hasAsk:
			mid, _ := bid.Add(ask).Div(two).Float64()
			return mid, nil
		case hasBid:
			val, _ := bid.Float64()
			return val, nil
		case hasAsk:
			val, _ := ask.Float64()
			return val, nil
		}
	}
	quote, qerr := s.Clob.GetPrice(ctx, tokenID, "")
	if qerr != nil {
		if err != nil {
			return 0, fmt.Errorf("book: %v; price: %w", err, qerr)
		}
		return 0, qerr
	}
	val, _ := quote.Float64()
	if val <= 0 {
		return 0, fmt.Errorf("no price available for token %s", tokenID)
	}
	return val, nil
}

// PruneStale removes snapshot rows that have not been refreshed within the
// staleness window. Called from the maintenance cron.
func (s *PositionMonitor) PruneStale(ctx context.Context, staleness time.Duration) (int64, error) {
	if s == nil || s.Repo == nil || staleness <= 0 {
		return 0, nil
	}
	return s.Repo.PruneMonitoredPositions(ctx, time.Now().UTC().Add(-staleness))
}
