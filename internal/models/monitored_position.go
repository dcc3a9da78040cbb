package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MonitoredPosition is a cached snapshot of a held position, refreshed
// wholesale on each sync. Display and estimation only; execution always
// re-fetches live holdings.
type MonitoredPosition struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerRef string `gorm:"type:varchar(100);not null;index" json:"owner_ref"`
	MarketID string `gorm:"type:varchar(100);not null;uniqueIndex:idx_positions_key" json:"market_id"`
	TokenID  string `gorm:"type:varchar(100);not null;uniqueIndex:idx_positions_key" json:"token_id"`
	Side     string `gorm:"type:varchar(10);not null;uniqueIndex:idx_positions_key" json:"side"`

	Quantity      decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0" json:"quantity"`
	AvgEntryPrice decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0" json:"avg_entry_price"`
	CurrentPrice  decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0" json:"current_price"`
	Redeemable    bool            `gorm:"not null;default:false" json:"redeemable"`

	LastUpdatedAt time.Time `gorm:"type:timestamptz;not null" json:"last_updated_at"`
	CreatedAt     time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
}

func (MonitoredPosition) TableName() string {
	return "monitored_positions"
}
