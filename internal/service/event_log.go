package service

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"autosell/internal/models"
	"autosell/internal/repository"
)

// EventLogService appends RuleEvent rows. Writes are synchronous: callers on
// a state-changing path must log before returning so the forensic trail is
// durable with the transition.
type EventLogService struct {
	Repo   repository.Repository
	Logger *zap.Logger
}

func (s *EventLogService) Log(ctx context.Context, ruleID uint64, eventType string, payload any) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	var data datatypes.JSON
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			if s.Logger != nil {
				s.Logger.Warn("event payload encode failed",
					zap.Uint64("rule_id", ruleID),
					zap.String("event_type", eventType),
					zap.Error(err),
				)
			}
			raw = []byte(`{}`)
		}
		data = datatypes.JSON(raw)
	}
	err := s.Repo.InsertRuleEvent(ctx, &models.RuleEvent{
		RuleID:    ruleID,
		EventType: eventType,
		EventData: data,
	})
	if err != nil && s.Logger != nil {
		s.Logger.Warn("rule event insert failed",
			zap.Uint64("rule_id", ruleID),
			zap.String("event_type", eventType),
			zap.Error(err),
		)
	}
	return err
}

func (s *EventLogService) List(ctx context.Context, ruleID uint64, limit int) ([]models.RuleEvent, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	return s.Repo.ListRuleEvents(ctx, ruleID, limit)
}
