package status

import (
	"fmt"

	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// Inbox returns unacknowledged inbound events, oldest first. Events are
// shared across agents; acknowledging is what removes one from every
// inbox.
func Inbox(db *gorm.DB, limit int) ([]models.InboundEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.InboundEvent
	if err := db.Where("acked = ?", false).
		Order("created_at ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("status: inbox: %w", err)
	}
	return rows, nil
}

// Acknowledge flips an inbound event's acked flag. The flag is
// monotonic: acknowledging an already-acked event succeeds and changes
// nothing.
func Acknowledge(db *gorm.DB, eventID uint) error {
	result := db.Model(&models.InboundEvent{}).
		Where("id = ?", eventID).
		Update("acked", true)
	if result.Error != nil {
		return fmt.Errorf("status: acknowledge %d: %w", eventID, result.Error)
	}
	if result.RowsAffected == 0 {
		// Either missing or already acked (mysql reports identical
		// writes as zero rows); only the former is an error.
		var count int64
		if err := db.Model(&models.InboundEvent{}).Where("id = ?", eventID).Count(&count).Error; err != nil {
			return fmt.Errorf("status: acknowledge %d: %w", eventID, err)
		}
		if count == 0 {
			return fmt.Errorf("status: event not found: %d", eventID)
		}
	}
	return nil
}

// AcknowledgeAll acks every unacked event and returns how many flipped.
func AcknowledgeAll(db *gorm.DB) (int64, error) {
	result := db.Model(&models.InboundEvent{}).
		Where("acked = ?", false).
		Update("acked", true)
	if result.Error != nil {
		return 0, fmt.Errorf("status: acknowledge all: %w", result.Error)
	}
	return result.RowsAffected, nil
}
