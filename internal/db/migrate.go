package db

import (
	"autosell/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.Rule{},
		&models.RuleEvent{},
		&models.MonitoredPosition{},
		&models.RawWSEvent{},
	)
}
