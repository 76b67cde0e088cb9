package models

import "time"

// InboundEvent is a chat message ingested from the bridge channel for
// later pickup by agents. RemoteMessageID dedupes re-delivered events;
// Acked only ever transitions false -> true.
type InboundEvent struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	RemoteMessageID int64  `gorm:"uniqueIndex;not null"`
	Topic           string `gorm:"size:256;index"`
	Sender          string `gorm:"size:128"`
	Content         string `gorm:"type:text"`
	Acked           bool   `gorm:"default:false;index"`
	CreatedAt       time.Time
}
