package models

import "time"

// AgentStatus is an append-only status log entry reported by an agent.
// Rows are never updated or deleted.
type AgentStatus struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	AgentID   string    `gorm:"size:64;not null;index"`
	AgentType string    `gorm:"size:32"`
	Status    string    `gorm:"size:32;not null"`
	Message   string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"index"`
}
