package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"autosell/internal/client/tradeskill"
	"autosell/internal/models"
	"autosell/internal/repository"
)

// ExecResult is the outcome of a successful Execute call. Executed=false
// means the sell is parked in PENDING_APPROVAL awaiting an external decision.
type ExecResult struct {
	OrderID  *string
	Executed bool
}

// RuleExecutor decides whether a rule fires and carries out the sell through
// the trade skill. Evaluate is pure; Execute assumes the caller already won
// the trigger claim.
type RuleExecutor struct {
	Repo   repository.Repository
	Trade  *tradeskill.Client
	Events *EventLogService
	Logger *zap.Logger
}

// Evaluate reports whether the rule's price condition holds. Boundaries are
// inclusive on both sides.
func (s *RuleExecutor) Evaluate(rule models.Rule, currentPrice float64) bool {
	switch rule.RuleType {
	case models.RuleTypeStopLoss, models.RuleTypeTrailingStop:
		return currentPrice <= rule.TriggerPrice
	case models.RuleTypeTakeProfit:
		return currentPrice >= rule.TriggerPrice
	default:
		return false
	}
}

// MaybeAdjustTrailingTrigger ratchets a trailing stop's trigger price toward
// the current price. The candidate is price*(1-trailing%/100), capped at
// 0.99 and rounded to 4 decimals; it is adopted only when strictly above the
// current trigger, so the trigger never loosens. The SQL guard repeats the
// comparison, which makes a stale lower candidate a no-op even across
// concurrent paths.
func (s *RuleExecutor) MaybeAdjustTrailingTrigger(ctx context.Context, rule *models.Rule, currentPrice float64) error {
	if s == nil || s.Repo == nil || rule == nil {
		return nil
	}
	if rule.RuleType != models.RuleTypeTrailingStop || rule.TrailingPercent == nil {
		return nil
	}
	candidate := TrailingCandidate(currentPrice, *rule.TrailingPercent)
	if candidate <= rule.TriggerPrice {
		return nil
	}
	updated, err := s.Repo.RatchetTrailingTrigger(ctx, rule.ID, candidate)
	if err != nil {
		return err
	}
	if updated {
		if s.Logger != nil {
			s.Logger.Info("trailing trigger ratcheted",
				zap.Uint64("rule_id", rule.ID),
				zap.Float64("from", rule.TriggerPrice),
				zap.Float64("to", candidate),
			)
		}
		rule.TriggerPrice = candidate
	}
	return nil
}

// TrailingCandidate computes the ratchet candidate for a trailing stop.
func TrailingCandidate(currentPrice, trailingPercent float64) float64 {
	candidate := currentPrice * (1 - trailingPercent/100)
	if candidate > 0.99 {
		candidate = 0.99
	}
	return math.Round(candidate*10000) / 10000
}

// Execute carries out the rule's sell action. Permanent failures (bad
// action, resolved position, zero holdings, policy denial) drive the rule to
// FAILED before returning a PermanentError; transient errors leave the rule
// status untouched for the caller to revert.
func (s *RuleExecutor) Execute(ctx context.Context, rule models.Rule) (ExecResult, error) {
	if s == nil || s.Repo == nil || s.Trade == nil {
		return ExecResult{}, fmt.Errorf("rule executor not configured")
	}

	var action models.SellAction
	if err := json.Unmarshal(rule.Action, &action); err != nil {
		return ExecResult{}, s.failPermanent(ctx, rule, fmt.Sprintf("invalid action: %v", err))
	}
	if action.Type != models.ActionSellAll && action.Type != models.ActionSellPartial {
		return ExecResult{}, s.failPermanent(ctx, rule, fmt.Sprintf("invalid action type %q", action.Type))
	}

	// Resolved markets have no sell path; the position must be redeemed
	// instead.
	cached, err := s.Repo.GetMonitoredPosition(ctx, rule.MarketID, rule.TokenID, rule.Side)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return ExecResult{}, fmt.Errorf("load cached position: %w", err)
	}
	if cached != nil && cached.Redeemable {
		return ExecResult{}, s.failPermanent(ctx, rule, "position is resolved and redeemable; sell is not possible")
	}

	// The cached quantity can be a full sync interval stale. Always size the
	// sell from live holdings.
	held, redeemable, err := s.liveHolding(ctx, rule)
	if err != nil {
		return ExecResult{}, err
	}
	if redeemable {
		return ExecResult{}, s.failPermanent(ctx, rule, "position is resolved and redeemable; sell is not possible")
	}
	if held.Sign() <= 0 {
		return ExecResult{}, s.failPermanent(ctx, rule,
			fmt.Sprintf("cannot execute %s: no shares found", action.Type))
	}

	size := held
	if action.Type == models.ActionSellPartial {
		if action.Amount == nil || *action.Amount <= 0 {
			return ExecResult{}, s.failPermanent(ctx, rule, "SELL_PARTIAL requires a positive amount")
		}
		requested := decimal.NewFromFloat(*action.Amount)
		if requested.LessThan(held) {
			size = requested
		}
	}

	result, err := s.Trade.PlaceBet(ctx, tradeskill.PlaceBetRequest{
		TokenID: rule.TokenID,
		Side:    rule.Side,
		Amount:  size,
	})
	if err != nil {
		return ExecResult{}, fmt.Errorf("place bet: %w", err)
	}

	switch result.Status {
	case tradeskill.VerdictDenied:
		reason := "denied by policy"
		if result.Reason != nil && *result.Reason != "" {
			reason = *result.Reason
		}
		return ExecResult{}, s.failPermanent(ctx, rule, reason)

	case tradeskill.VerdictPendingApproval:
		if err := s.Repo.MarkRulePendingApproval(ctx, rule.ID); err != nil {
			return ExecResult{}, fmt.Errorf("mark pending approval: %w", err)
		}
		if s.Events != nil {
			_ = s.Events.Log(ctx, rule.ID, models.EventActionPendingApproval, map[string]any{
				"size":   size.String(),
				"reason": result.Reason,
			})
		}
		return ExecResult{Executed: false}, nil

	default: // executed
		if result.OrderID != nil {
			if err := s.Repo.SetRuleTriggerTx(ctx, rule.ID, *result.OrderID); err != nil {
				return ExecResult{}, fmt.Errorf("persist order id: %w", err)
			}
		}
		if s.Events != nil {
			_ = s.Events.Log(ctx, rule.ID, models.EventActionExecuted, map[string]any{
				"size":    size.String(),
				"orderId": result.OrderID,
				"status":  result.Status,
			})
		}
		return ExecResult{OrderID: result.OrderID, Executed: true}, nil
	}
}

func (s *RuleExecutor) liveHolding(ctx context.Context, rule models.Rule) (decimal.Decimal, bool, error) {
	result, err := s.Trade.GetHoldings(ctx, rule.OwnerRef)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("fetch live holdings: %w", err)
	}
	for _, holding := range result.Holdings {
		if holding.TokenID == rule.TokenID {
			return holding.Shares, holding.Redeemable, nil
		}
	}
	return decimal.Zero, false, nil
}

// failPermanent drives the rule to FAILED, records the forensic event, and
// returns the PermanentError the caller propagates.
func (s *RuleExecutor) failPermanent(ctx context.Context, rule models.Rule, reason string) error {
	if err := s.Repo.MarkRuleFailed(ctx, rule.ID, reason); err != nil {
		// Without the durable FAILED mark this must surface as transient so
		// the rule is retried rather than silently lost.
		return fmt.Errorf("mark rule failed: %w", err)
	}
	if s.Events != nil {
		_ = s.Events.Log(ctx, rule.ID, models.EventActionFailed, map[string]any{
			"error":       reason,
			"isPermanent": true,
		})
	}
	if s.Logger != nil {
		s.Logger.Warn("rule failed permanently",
			zap.Uint64("rule_id", rule.ID),
			zap.String("reason", reason),
		)
	}
	return &PermanentError{Reason: reason}
}
