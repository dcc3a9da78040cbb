package repository

import (
	"context"
	"time"

	"autosell/internal/models"
)

// Repository is the durable store behind the rule engine. Status-transition
// methods returning (bool, error) are compare-and-set: false means the rule
// was not in the expected prior state and nothing changed.
type Repository interface {
	// Rules
	CreateRule(ctx context.Context, item *models.Rule) error
	GetRuleByID(ctx context.Context, id uint64) (*models.Rule, error)
	ListRules(ctx context.Context, params ListRulesParams) ([]models.Rule, error)
	CountRules(ctx context.Context, params ListRulesParams) (int64, error)
	ListActiveRules(ctx context.Context) ([]models.Rule, error)
	ListActiveRulesByTokenID(ctx context.Context, tokenID string) ([]models.Rule, error)
	DistinctActiveRuleOwners(ctx context.Context) ([]string, error)

	// Rule status transitions.
	ClaimRuleTrigger(ctx context.Context, id uint64, at time.Time) (bool, error)
	RevertRuleToActive(ctx context.Context, id uint64) (bool, error)
	CancelRule(ctx context.Context, id uint64) (bool, error)
	MarkRuleFailed(ctx context.Context, id uint64, reason string) error
	MarkRulePendingApproval(ctx context.Context, id uint64) error
	SetRuleTriggerTx(ctx context.Context, id uint64, txHash string) error
	ApproveRule(ctx context.Context, id uint64, txHash string, at time.Time) (bool, error)
	DenyRule(ctx context.Context, id uint64, reason string) (bool, error)
	RatchetTrailingTrigger(ctx context.Context, id uint64, candidate float64) (bool, error)

	// Events (append-only)
	InsertRuleEvent(ctx context.Context, item *models.RuleEvent) error
	ListRuleEvents(ctx context.Context, ruleID uint64, limit int) ([]models.RuleEvent, error)

	// Monitored positions
	UpsertMonitoredPosition(ctx context.Context, item *models.MonitoredPosition) error
	GetMonitoredPosition(ctx context.Context, marketID, tokenID, side string) (*models.MonitoredPosition, error)
	ListMonitoredPositions(ctx context.Context, ownerRef string) ([]models.MonitoredPosition, error)
	PruneMonitoredPositions(ctx context.Context, before time.Time) (int64, error)

	// Raw stream frames
	InsertRawWSEvent(ctx context.Context, item *models.RawWSEvent) error
	DeleteRawWSEventsBefore(ctx context.Context, before time.Time) (int64, error)
}

type ListRulesParams struct {
	Limit    int
	Offset   int
	Status   *string
	RuleType *string
	TokenID  *string
	MarketID *string
	OwnerRef *string
	OrderBy  string
	Asc      *bool
}
