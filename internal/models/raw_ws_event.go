package models

import (
	"time"

	"gorm.io/datatypes"
)

// RawWSEvent keeps raw stream frames for diagnosis. Non-authoritative;
// pruned by a retention cron job.
type RawWSEvent struct {
	ID         uint64         `gorm:"primaryKey;autoIncrement"`
	TokenID    *string        `gorm:"type:text;index"`
	EventType  string         `gorm:"type:text;not null"`
	ReceivedAt time.Time      `gorm:"type:timestamptz;not null;index"`
	Payload    datatypes.JSON `gorm:"type:jsonb;not null"`
}

func (RawWSEvent) TableName() string {
	return "raw_ws_events"
}
