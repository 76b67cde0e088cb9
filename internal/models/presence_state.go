package models

import "time"

// PresenceState is the operator presence singleton. Exactly one row
// exists (ID=1); it is seeded at migration time with Present=true.
type PresenceState struct {
	ID        uint   `gorm:"primaryKey"`
	Present   bool   `gorm:"not null;default:true"`
	Reason    string `gorm:"size:256"`
	ExpiresAt *time.Time
	UpdatedAt time.Time
}

// PresenceSingletonID is the fixed primary key of the one live row.
const PresenceSingletonID = 1

// Away reports whether the operator is away at the given instant,
// treating an expired away row as present again.
func (p *PresenceState) Away(now time.Time) bool {
	if p.Present {
		return false
	}
	if p.ExpiresAt != nil && !now.Before(*p.ExpiresAt) {
		return false
	}
	return true
}
