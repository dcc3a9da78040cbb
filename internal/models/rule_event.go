package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	EventRuleEvaluated         = "RULE_EVALUATED"
	EventRuleTriggered         = "RULE_TRIGGERED"
	EventActionExecuted        = "ACTION_EXECUTED"
	EventActionFailed          = "ACTION_FAILED"
	EventActionPendingApproval = "ACTION_PENDING_APPROVAL"
)

// RuleEvent is the append-only forensic trail for a rule. Rows are written
// synchronously as part of every state-changing operation and never updated.
type RuleEvent struct {
	ID        uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	RuleID    uint64         `gorm:"not null;index;constraint:OnDelete:CASCADE" json:"rule_id"`
	Rule      *Rule          `gorm:"foreignKey:RuleID;constraint:OnDelete:CASCADE" json:"-"`
	EventType string         `gorm:"type:varchar(40);not null;index" json:"event_type"`
	EventData datatypes.JSON `gorm:"type:jsonb" json:"event_data"`
	CreatedAt time.Time      `gorm:"type:timestamptz;autoCreateTime;index" json:"created_at"`
}

func (RuleEvent) TableName() string {
	return "rule_events"
}
