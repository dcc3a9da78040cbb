package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"autosell/internal/models"
	"autosell/internal/repository"
)

// RuleService is the user-facing surface over rules: create, query, cancel,
// and application of out-of-band approval decisions. Rules are never
// deleted, only status-terminated.
type RuleService struct {
	Repo   repository.Repository
	Events *EventLogService
	Logger *zap.Logger
}

type CreateRuleInput struct {
	RuleType        string
	MarketID        string
	TokenID         string
	Side            string
	OwnerRef        string
	TriggerPrice    float64
	TrailingPercent *float64
	Action          models.SellAction
}

func (s *RuleService) Create(ctx context.Context, input CreateRuleInput) (*models.Rule, error) {
	if s == nil || s.Repo == nil {
		return nil, fmt.Errorf("rule service not configured")
	}
	if err := validateCreateRule(input); err != nil {
		return nil, err
	}
	actionJSON, err := json.Marshal(input.Action)
	if err != nil {
		return nil, fmt.Errorf("encode action: %w", err)
	}
	item := &models.Rule{
		RuleType:        input.RuleType,
		MarketID:        input.MarketID,
		TokenID:         input.TokenID,
		Side:            input.Side,
		OwnerRef:        input.OwnerRef,
		TriggerPrice:    input.TriggerPrice,
		TrailingPercent: input.TrailingPercent,
		Action:          datatypes.JSON(actionJSON),
		Status:          models.RuleStatusActive,
	}
	if err := s.Repo.CreateRule(ctx, item); err != nil {
		return nil, err
	}
	if s.Logger != nil {
		s.Logger.Info("rule created",
			zap.Uint64("rule_id", item.ID),
			zap.String("rule_type", item.RuleType),
			zap.String("token_id", item.TokenID),
			zap.Float64("trigger_price", item.TriggerPrice),
		)
	}
	return item, nil
}

func validateCreateRule(input CreateRuleInput) error {
	switch input.RuleType {
	case models.RuleTypeStopLoss, models.RuleTypeTakeProfit, models.RuleTypeTrailingStop:
	default:
		return fmt.Errorf("invalid rule_type %q", input.RuleType)
	}
	if input.Side != "BUY" && input.Side != "SELL" {
		return fmt.Errorf("invalid side %q", input.Side)
	}
	if input.MarketID == "" || input.TokenID == "" || input.OwnerRef == "" {
		return fmt.Errorf("market_id, token_id and owner_ref are required")
	}
	if input.TriggerPrice <= 0 || input.TriggerPrice >= 1 {
		return fmt.Errorf("trigger_price must be in (0, 1)")
	}
	if input.RuleType == models.RuleTypeTrailingStop {
		if input.TrailingPercent == nil || *input.TrailingPercent <= 0 || *input.TrailingPercent >= 100 {
			return fmt.Errorf("trailing_percent must be in (0, 100) for TRAILING_STOP")
		}
	}
	switch input.Action.Type {
	case models.ActionSellAll:
	case models.ActionSellPartial:
		if input.Action.Amount == nil || *input.Action.Amount <= 0 {
			return fmt.Errorf("SELL_PARTIAL requires a positive amount")
		}
	default:
		return fmt.Errorf("invalid action type %q", input.Action.Type)
	}
	return nil
}

func (s *RuleService) Get(ctx context.Context, id uint64) (*models.Rule, error) {
	if s == nil || s.Repo == nil {
		return nil, fmt.Errorf("rule service not configured")
	}
	return s.Repo.GetRuleByID(ctx, id)
}

func (s *RuleService) List(ctx context.Context, params repository.ListRulesParams) ([]models.Rule, int64, error) {
	if s == nil || s.Repo == nil {
		return nil, 0, fmt.Errorf("rule service not configured")
	}
	items, err := s.Repo.ListRules(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.Repo.CountRules(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Cancel terminates a rule from ACTIVE or PENDING_APPROVAL. Returns false if
// the rule was already terminal or mid-execution.
func (s *RuleService) Cancel(ctx context.Context, id uint64) (bool, error) {
	if s == nil || s.Repo == nil {
		return false, fmt.Errorf("rule service not configured")
	}
	ok, err := s.Repo.CancelRule(ctx, id)
	if err != nil {
		return false, err
	}
	if ok && s.Logger != nil {
		s.Logger.Info("rule canceled", zap.Uint64("rule_id", id))
	}
	return ok, nil
}

const (
	ApprovalApproved = "approved"
	ApprovalDenied   = "denied"
	ApprovalTimedOut = "timed_out"
)

// ResolveApproval applies the external approval resolver's outcome to a
// PENDING_APPROVAL rule. Approval completes the execution (TRIGGERED with
// the order id); denial and timeout are terminal FAILED. A rule never goes
// back to ACTIVE from here.
func (s *RuleService) ResolveApproval(ctx context.Context, id uint64, outcome string, orderID, reason *string) (*models.Rule, error) {
	if s == nil || s.Repo == nil {
		return nil, fmt.Errorf("rule service not configured")
	}
	switch outcome {
	case ApprovalApproved:
		txHash := ""
		if orderID != nil {
			txHash = *orderID
		}
		ok, err := s.Repo.ApproveRule(ctx, id, txHash, time.Now().UTC())
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("rule %d is not pending approval", id)
		}
		if s.Events != nil {
			_ = s.Events.Log(ctx, id, models.EventActionExecuted, map[string]any{
				"orderId":  orderID,
				"approval": outcome,
			})
		}
	case ApprovalDenied, ApprovalTimedOut:
		msg := "approval " + outcome
		if reason != nil && *reason != "" {
			msg = *reason
		}
		ok, err := s.Repo.DenyRule(ctx, id, msg)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("rule %d is not pending approval", id)
		}
		if s.Events != nil {
			_ = s.Events.Log(ctx, id, models.EventActionFailed, map[string]any{
				"error":    msg,
				"approval": outcome,
			})
		}
	default:
		return nil, fmt.Errorf("invalid approval outcome %q", outcome)
	}
	if s.Logger != nil {
		s.Logger.Info("approval resolved", zap.Uint64("rule_id", id), zap.String("outcome", outcome))
	}
	return s.Repo.GetRuleByID(ctx, id)
}
