package models

import "time"

// Task status values.
const (
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)

// Task tracks a long-running unit of agent work. Lifecycle is owned
// entirely by the reporting agent: created on start, progress updates
// while running, a single terminal write on completion.
type Task struct {
	ID          string `gorm:"primaryKey;size:16"`
	AgentID     string `gorm:"size:64;not null;index"`
	Name        string `gorm:"size:256;not null"`
	Description string `gorm:"type:text"`
	Progress    int    `gorm:"default:0"` // 0-100
	Status      string `gorm:"size:16;default:running;index"`
	Outputs     string `gorm:"type:text"` // JSON
	Metrics     string `gorm:"type:text"` // JSON
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
