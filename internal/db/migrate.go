package db

import (
	"fmt"

	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.InputRequest{},
		&models.PresenceState{},
		&models.AgentStatus{},
		&models.InboundEvent{},
		&models.Task{},
	}
}

// AutoMigrate creates or updates all bridge tables and seeds the
// presence singleton.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return SeedPresence(db)
}

// SeedPresence ensures the single presence row exists. A fresh database
// starts with the operator assumed present (gate closed).
func SeedPresence(db *gorm.DB) error {
	row := models.PresenceState{
		ID:      models.PresenceSingletonID,
		Present: true,
	}
	result := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if result.Error != nil {
		return fmt.Errorf("db: seed presence: %w", result.Error)
	}
	return nil
}
