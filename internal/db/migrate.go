package db

import (
	"tradeloop/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.Strategy{},
		&models.Account{},
		&models.Session{},
		&models.Position{},
		&models.Trade{},
		&models.Decision{},
		&models.EquityPoint{},
		&models.SystemSetting{},
	)
}
