package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	RuleTypeStopLoss     = "STOP_LOSS"
	RuleTypeTakeProfit   = "TAKE_PROFIT"
	RuleTypeTrailingStop = "TRAILING_STOP"
)

const (
	RuleStatusActive          = "ACTIVE"
	RuleStatusTriggered       = "TRIGGERED"
	RuleStatusPendingApproval = "PENDING_APPROVAL"
	RuleStatusFailed          = "FAILED"
	RuleStatusCanceled        = "CANCELED"
)

const (
	ActionSellAll     = "SELL_ALL"
	ActionSellPartial = "SELL_PARTIAL"
)

// Rule is a user-defined conditional sell instruction against a held token.
// Status transitions out of ACTIVE are compare-and-set at the store level;
// the claim ACTIVE→TRIGGERED is the exclusivity guarantee for execution.
type Rule struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"id"`

	RuleType string `gorm:"type:varchar(20);not null;index" json:"rule_type"`
	MarketID string `gorm:"type:varchar(100);not null;index" json:"market_id"`
	TokenID  string `gorm:"type:varchar(100);not null;index" json:"token_id"`
	Side     string `gorm:"type:varchar(10);not null" json:"side"`
	OwnerRef string `gorm:"type:varchar(100);not null;index" json:"owner_ref"`

	// TriggerPrice is on the 0-1 probability scale. For TRAILING_STOP it only
	// ratchets upward, rounded to 4 decimals and capped at 0.99.
	TriggerPrice    float64  `gorm:"type:numeric(20,10);not null" json:"trigger_price"`
	TrailingPercent *float64 `gorm:"type:numeric(20,10)" json:"trailing_percent,omitempty"`

	Action datatypes.JSON `gorm:"type:jsonb;not null" json:"action"`

	Status        string     `gorm:"type:varchar(20);not null;default:'ACTIVE';index" json:"status"`
	TriggeredAt   *time.Time `gorm:"type:timestamptz" json:"triggered_at,omitempty"`
	TriggerTxHash *string    `gorm:"type:varchar(120)" json:"trigger_tx_hash,omitempty"`
	ErrorMessage  *string    `gorm:"type:text" json:"error_message,omitempty"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (Rule) TableName() string {
	return "rules"
}

// SellAction is the decoded shape of Rule.Action.
type SellAction struct {
	Type   string   `json:"type"`
	Amount *float64 `json:"amount,omitempty"`
}
