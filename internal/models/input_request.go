package models

import "time"

// InputRequest status values. A request is terminal once it leaves
// "pending"; terminal rows are never mutated again.
const (
	InputPending   = "pending"
	InputAnswered  = "answered"
	InputCancelled = "cancelled"
	InputTimedOut  = "timed_out"
)

// InputRequest is a question an agent asked the operator, keyed by a
// short correlation ID embedded in the input topic.
type InputRequest struct {
	ID         string  `gorm:"primaryKey;size:16"`
	AgentID    string  `gorm:"size:64;not null;index"`
	Question   string  `gorm:"type:text;not null"`
	Options    string  `gorm:"type:text"` // JSON array, empty for free-form
	Context    string  `gorm:"type:text"`
	Status     string  `gorm:"size:16;default:pending;index"`
	Answer     *string `gorm:"type:text"`
	AnsweredBy string  `gorm:"size:128"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Terminal reports whether the request has reached a final status.
func (r *InputRequest) Terminal() bool {
	return r.Status != InputPending
}
