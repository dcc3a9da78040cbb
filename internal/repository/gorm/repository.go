package gormrepository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"autosell/internal/models"
	"autosell/internal/repository"
)

// Store implements repository.Repository backed by a gorm DB handle.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

var _ repository.Repository = (*Store)(nil)

var errNilStore = errors.New("repository: nil store")

func (s *Store) CreateRule(ctx context.Context, item *models.Rule) error {
	if s == nil || s.db == nil {
		return errNilStore
	}
	if item == nil {
		return errors.New("repository: nil rule")
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetRuleByID(ctx context.Context, id uint64) (*models.Rule, error) {
	if s == nil || s.db == nil {
		return nil, errNilStore
	}
	var item models.Rule
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) rulesQuery(ctx context.Context, params repository.ListRulesParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.Rule{})
	if params.Status != nil && *params.Status != "" {
		query = query.Where("status = ?", *params.Status)
	}
	if params.RuleType != nil && *params.RuleType != "" {
		query = query.Where("rule_type = ?", *params.RuleType)
	}
	if params.TokenID != nil && *params.TokenID != "" {
		query = query.Where("token_id = ?", *params.TokenID)
	}
	if params.MarketID != nil && *params.MarketID != "" {
		query = query.Where("market_id = ?", *params.MarketID)
	}
	if params.OwnerRef != nil && *params.OwnerRef != "" {
		query = query.Where("owner_ref = ?", *params.OwnerRef)
	}
	return query
}

func (s *Store) ListRules(ctx context.Context, params repository.ListRulesParams) ([]models.Rule, error) {
	if s == nil || s.db == nil {
		return nil, errNilStore
	}
	query := s.rulesQuery(ctx, params)
	query = applyOrder(query, params.OrderBy, params.Asc, map[string]string{
		"id":            "id",
		"created_at":    "created_at",
		"updated_at":    "updated_at",
		"trigger_price": "trigger_price",
	}, "id")
	var items []models.Rule
	err := query.Limit(normalizeLimit(params.Limit)).Offset(normalizeOffset(params.Offset)).Find(&items).Error
	return items, err
}

func (s *Store) CountRules(ctx context.Context, params repository.ListRulesParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errNilStore
	}
	var total int64
	err := s.rulesQuery(ctx, params).Count(&total).Error
	return total, err
}

func (s *Store) ListActiveRules(ctx context.Context) ([]models.Rule, error) {
	if s == nil || s.db == nil {
		return nil, errNilStore
	}
	var items []models.Rule
	err := s.db.WithContext(ctx).
		Where("status = ?", models.RuleStatusActive).
		Order("id ASC").
		Find(&items).Error
	return items, err
}

func (s *Store) ListActiveRulesByTokenID(ctx context.Context, tokenID string) ([]models.Rule, error) {
	if s == nil || s.db == nil {
		return nil, errNilStore
	}
	var items []models.Rule
	err := s.db.WithContext(ctx).
		Where("status = ? AND token_id = ?", models.RuleStatusActive, tokenID).
		Order("id ASC").
		Find(&items).Error
	return items, err
}

func (s *Store) DistinctActiveRuleOwners(ctx context.Context) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, errNilStore
	}
	var owners []string
	err := s.db.WithContext(ctx).
		Model(&models.Rule{}).
		Where("status = ?", models.RuleStatusActive).
		Distinct("owner_ref").
		Pluck("owner_ref", &owners).Error
	return owners, err
}

// ClaimRuleTrigger moves a rule from ACTIVE to TRIGGERED. At most one caller
// wins the claim for a given rule; all others see false.
func (s *Store) ClaimRuleTrigger(ctx context.Context, id uint64, at time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, errNilStore
	}
	res := s.db.WithContext(ctx).
		Model(&models.Rule{}).
		Where("id = ? AND status = ?", id, models.RuleStatusActive).
		Updates(map[string]any{
			"status":       models.RuleStatusTriggered,
			"triggered_at": at.UTC(),
		})
	return res.RowsAffected > 0, res.Error
}

func (s *Store) RevertRuleToActive(ctx context.Context, id uint64) (bool, error) {
	if s == nil || s.db == nil {
		return false, errNilStore
	}
	res := s.db.WithContext(ctx).
		Model(&models.Rule{}).
		Where("id = ? AND status = ?", id, models.RuleStatusTriggered).
		Updates(map[string]any{
			"status":       models.RuleStatusActive,
			"triggered_at": nil,
		})
	return res.RowsAffected > 0, res.Error
}

func (s *Store) CancelRule(ctx context.Context, id uint64) (bool, error) {
	if s == nil || s.db == nil {
		return false, errNilStore
	}
	res := s.db.WithContext(ctx).
		Model(&models.Rule{}).
		Where("id = ? AND status IN ?", id, []string{models.RuleStatusActive, models.RuleStatusPendingApproval}).
		Update("status", models.RuleStatusCanceled)
	return res.RowsAffected > 0, res.Error
}

func (s *Store) MarkRuleFailed(ctx context.Context, id uint64, reason string) error {
	if s == nil || s.db == nil {
		return errNilStore
	}
	return s.db.WithContext(ctx).
		Model(&models.Rule{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        models.RuleStatusFailed,
			"error_message": reason,
		}).Error
}

func (s *Store) MarkRulePendingApproval(ctx context.Context, id uint64) error {
	if s == nil || s.db == nil {
		return errNilStore
	}
	return s.db.WithContext(ctx).
		Model(&models.Rule{}).
		Where("id = ?", id).
		Update("status", models.RuleStatusPendingApproval).Error
}

func (s *Store) SetRuleTriggerTx(ctx context.Context, id uint64, txHash string) error {
	if s == nil || s.db == nil {
		return errNilStore
	}
	return s.db.WithContext(ctx).
		Model(&models.Rule{}).
		Where("id = ?", id).
		Update("trigger_tx_hash", txHash).Error
}

func (s *Store) ApproveRule(ctx context.Context, id uint64, txHash string, at time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, errNilStore
	}
	res := s.db.WithContext(ctx).
		Model(&models.Rule{}).
		Where("id = ? AND status = ?", id, models.RuleStatusPendingApproval).
		Updates(map[string]any{
			"status":          models.RuleStatusTriggered,
			"triggered_at":    at.UTC(),
			"trigger_tx_hash": txHash,
		})
	return res.RowsAffected > 0, res.Error
}

func (s *Store) DenyRule(ctx context.Context, id uint64, reason string) (bool, error) {
	if s == nil || s.db == nil {
		return false, errNilStore
	}
	res := s.db.WithContext(ctx).
		Model(&models.Rule{}).
		Where("id = ? AND status = ?", id, models.RuleStatusPendingApproval).
		Updates(map[string]any{
			"status":        models.RuleStatusFailed,
			"error_message": reason,
		})
	return res.RowsAffected > 0, res.Error
}

// RatchetTrailingTrigger raises a trailing stop's trigger price, never lowers
// it. The strict comparison in the WHERE clause makes concurrent ratchets and
// stale candidates no-ops.
func (s *Store) RatchetTrailingTrigger(ctx context.Context, id uint64, candidate float64) (bool, error) {
	if s == nil || s.db == nil {
		return false, errNilStore
	}
	res := s.db.WithContext(ctx).
		Model(&models.Rule{}).
		Where("id = ? AND rule_type = ? AND status = ? AND trigger_price < ?",
			id, models.RuleTypeTrailingStop, models.RuleStatusActive, candidate).
		Update("trigger_price", candidate)
	return res.RowsAffected > 0, res.Error
}

func (s *Store) InsertRuleEvent(ctx context.Context, item *models.RuleEvent) error {
	if s == nil || s.db == nil {
		return errNilStore
	}
	if item == nil {
		return errors.New("repository: nil rule event")
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListRuleEvents(ctx context.Context, ruleID uint64, limit int) ([]models.RuleEvent, error) {
	if s == nil || s.db == nil {
		return nil, errNilStore
	}
	var items []models.RuleEvent
	err := s.db.WithContext(ctx).
		Where("rule_id = ?", ruleID).
		Order("id DESC").
		Limit(normalizeLimit(limit)).
		Find(&items).Error
	return items, err
}

func (s *Store) UpsertMonitoredPosition(ctx context.Context, item *models.MonitoredPosition) error {
	if s == nil || s.db == nil {
		return errNilStore
	}
	if item == nil {
		return errors.New("repository: nil position")
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "market_id"}, {Name: "token_id"}, {Name: "side"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"owner_ref", "quantity", "avg_entry_price", "current_price", "redeemable", "last_updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetMonitoredPosition(ctx context.Context, marketID, tokenID, side string) (*models.MonitoredPosition, error) {
	if s == nil || s.db == nil {
		return nil, errNilStore
	}
	var item models.MonitoredPosition
	err := s.db.WithContext(ctx).
		Where("market_id = ? AND token_id = ? AND side = ?", marketID, tokenID, side).
		First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListMonitoredPositions(ctx context.Context, ownerRef string) ([]models.MonitoredPosition, error) {
	if s == nil || s.db == nil {
		return nil, errNilStore
	}
	query := s.db.WithContext(ctx).Model(&models.MonitoredPosition{})
	if ownerRef != "" {
		query = query.Where("owner_ref = ?", ownerRef)
	}
	var items []models.MonitoredPosition
	err := query.Order("market_id ASC, token_id ASC, side ASC").Find(&items).Error
	return items, err
}

func (s *Store) PruneMonitoredPositions(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errNilStore
	}
	res := s.db.WithContext(ctx).
		Where("last_updated_at < ?", before.UTC()).
		Delete(&models.MonitoredPosition{})
	return res.RowsAffected, res.Error
}

func (s *Store) InsertRawWSEvent(ctx context.Context, item *models.RawWSEvent) error {
	if s == nil || s.db == nil {
		return errNilStore
	}
	if item == nil {
		return errors.New("repository: nil raw event")
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) DeleteRawWSEventsBefore(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errNilStore
	}
	res := s.db.WithContext(ctx).
		Where("received_at < ?", before.UTC()).
		Delete(&models.RawWSEvent{})
	return res.RowsAffected, res.Error
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

func applyOrder(query *gorm.DB, orderBy string, asc *bool, allowed map[string]string, fallback string) *gorm.DB {
	column, ok := allowed[strings.ToLower(strings.TrimSpace(orderBy))]
	if !ok {
		column = fallback
	}
	direction := "DESC"
	if asc != nil && *asc {
		direction = "ASC"
	}
	return query.Order(fmt.Sprintf("%s %s", column, direction))
}
