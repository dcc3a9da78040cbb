package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"autosell/internal/models"
	"autosell/internal/repository"
)

// stubRepo is a test-only in-memory implementation of repository.Repository.
// Status transitions mirror the SQL compare-and-set guards; the mutex makes
// them atomic under the concurrency tests.
type stubRepo struct {
	mu        sync.Mutex
	rules     map[uint64]*models.Rule
	events    []models.RuleEvent
	positions map[string]models.MonitoredPosition // key marketID|tokenID|side
	rawEvents []models.RawWSEvent

	listCalls  int
	claimCalls int
	listErr    error
	listGate   chan struct{} // when set, ListActiveRules blocks until it is closed
}

func newStubRepo(rules ...*models.Rule) *stubRepo {
	s := &stubRepo{
		rules:     map[uint64]*models.Rule{},
		positions: map[string]models.MonitoredPosition{},
	}
	for _, rule := range rules {
		s.rules[rule.ID] = rule
	}
	return s
}

var _ repository.Repository = (*stubRepo)(nil)

func posKey(marketID, tokenID, side string) string {
	return marketID + "|" + tokenID + "|" + side
}

func (s *stubRepo) CreateRule(ctx context.Context, item *models.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == 0 {
		item.ID = uint64(len(s.rules) + 1)
	}
	item.CreatedAt = time.Now().UTC()
	s.rules[item.ID] = item
	return nil
}

func (s *stubRepo) GetRuleByID(ctx context.Context, id uint64) (*models.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.rules[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *item
	return &clone, nil
}

func (s *stubRepo) ListRules(ctx context.Context, params repository.ListRulesParams) ([]models.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Rule
	for _, item := range s.rules {
		if params.Status != nil && item.Status != *params.Status {
			continue
		}
		out = append(out, *item)
	}
	return out, nil
}

func (s *stubRepo) CountRules(ctx context.Context, params repository.ListRulesParams) (int64, error) {
	items, _ := s.ListRules(ctx, params)
	return int64(len(items)), nil
}

func (s *stubRepo) ListActiveRules(ctx context.Context) ([]models.Rule, error) {
	s.mu.Lock()
	s.listCalls++
	err := s.listErr
	gate := s.listGate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	active := models.RuleStatusActive
	return s.ListRules(ctx, repository.ListRulesParams{Status: &active})
}

func (s *stubRepo) ListActiveRulesByTokenID(ctx context.Context, tokenID string) ([]models.Rule, error) {
	items, err := s.ListActiveRules(ctx)
	if err != nil {
		return nil, err
	}
	var out []models.Rule
	for _, item := range items {
		if item.TokenID == tokenID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *stubRepo) DistinctActiveRuleOwners(ctx context.Context) ([]string, error) {
	items, err := s.ListActiveRules(ctx)
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	var out []string
	for _, item := range items {
		if _, ok := seen[item.OwnerRef]; !ok {
			seen[item.OwnerRef] = struct{}{}
			out = append(out, item.OwnerRef)
		}
	}
	return out, nil
}

func (s *stubRepo) ClaimRuleTrigger(ctx context.Context, id uint64, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claimCalls++
	item, ok := s.rules[id]
	if !ok || item.Status != models.RuleStatusActive {
		return false, nil
	}
	item.Status = models.RuleStatusTriggered
	t := at.UTC()
	item.TriggeredAt = &t
	return true, nil
}

func (s *stubRepo) RevertRuleToActive(ctx context.Context, id uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.rules[id]
	if !ok || item.Status != models.RuleStatusTriggered {
		return false, nil
	}
	item.Status = models.RuleStatusActive
	item.TriggeredAt = nil
	return true, nil
}

func (s *stubRepo) CancelRule(ctx context.Context, id uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.rules[id]
	if !ok {
		return false, nil
	}
	if item.Status != models.RuleStatusActive && item.Status != models.RuleStatusPendingApproval {
		return false, nil
	}
	item.Status = models.RuleStatusCanceled
	return true, nil
}

func (s *stubRepo) MarkRuleFailed(ctx context.Context, id uint64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.rules[id]
	if !ok {
		return fmt.Errorf("rule %d not found", id)
	}
	item.Status = models.RuleStatusFailed
	item.ErrorMessage = &reason
	return nil
}

func (s *stubRepo) MarkRulePendingApproval(ctx context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.rules[id]
	if !ok {
		return fmt.Errorf("rule %d not found", id)
	}
	item.Status = models.RuleStatusPendingApproval
	return nil
}

func (s *stubRepo) SetRuleTriggerTx(ctx context.Context, id uint64, txHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.rules[id]
	if !ok {
		return fmt.Errorf("rule %d not found", id)
	}
	item.TriggerTxHash = &txHash
	return nil
}

func (s *stubRepo) ApproveRule(ctx context.Context, id uint64, txHash string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.rules[id]
	if !ok || item.Status != models.RuleStatusPendingApproval {
		return false, nil
	}
	item.Status = models.RuleStatusTriggered
	t := at.UTC()
	item.TriggeredAt = &t
	item.TriggerTxHash = &txHash
	return true, nil
}

func (s *stubRepo) DenyRule(ctx context.Context, id uint64, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.rules[id]
	if !ok || item.Status != models.RuleStatusPendingApproval {
		return false, nil
	}
	item.Status = models.RuleStatusFailed
	item.ErrorMessage = &reason
	return true, nil
}

func (s *stubRepo) RatchetTrailingTrigger(ctx context.Context, id uint64, candidate float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.rules[id]
	if !ok {
		return false, nil
	}
	if item.RuleType != models.RuleTypeTrailingStop || item.Status != models.RuleStatusActive {
		return false, nil
	}
	if item.TriggerPrice >= candidate {
		return false, nil
	}
	item.TriggerPrice = candidate
	return true, nil
}

func (s *stubRepo) InsertRuleEvent(ctx context.Context, item *models.RuleEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item.ID = uint64(len(s.events) + 1)
	item.CreatedAt = time.Now().UTC()
	s.events = append(s.events, *item)
	return nil
}

func (s *stubRepo) ListRuleEvents(ctx context.Context, ruleID uint64, limit int) ([]models.RuleEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RuleEvent
	for _, item := range s.events {
		if item.RuleID == ruleID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *stubRepo) eventTypes(ruleID uint64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, item := range s.events {
		if item.RuleID == ruleID {
			out = append(out, item.EventType)
		}
	}
	return out
}

func (s *stubRepo) UpsertMonitoredPosition(ctx context.Context, item *models.MonitoredPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[posKey(item.MarketID, item.TokenID, item.Side)] = *item
	return nil
}

func (s *stubRepo) GetMonitoredPosition(ctx context.Context, marketID, tokenID, side string) (*models.MonitoredPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.positions[posKey(marketID, tokenID, side)]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &item, nil
}

func (s *stubRepo) ListMonitoredPositions(ctx context.Context, ownerRef string) ([]models.MonitoredPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.MonitoredPosition
	for _, item := range s.positions {
		if ownerRef == "" || item.OwnerRef == ownerRef {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *stubRepo) PruneMonitoredPositions(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key, item := range s.positions {
		if item.LastUpdatedAt.Before(before) {
			delete(s.positions, key)
			n++
		}
	}
	return n, nil
}

func (s *stubRepo) InsertRawWSEvent(ctx context.Context, item *models.RawWSEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rawEvents = append(s.rawEvents, *item)
	return nil
}

func (s *stubRepo) DeleteRawWSEventsBefore(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []models.RawWSEvent
	var n int64
	for _, item := range s.rawEvents {
		if item.ReceivedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, item)
	}
	s.rawEvents = kept
	return n, nil
}

func (s *stubRepo) ruleStatus(id uint64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item, ok := s.rules[id]; ok {
		return item.Status
	}
	return ""
}
