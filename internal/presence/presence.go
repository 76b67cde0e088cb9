// Package presence implements the AFK gate: a persisted flag saying
// whether the operator is at the keyboard, which decides whether
// agent-originated chat notifications are actually delivered.
package presence

import (
	"fmt"
	"sync"
	"time"

	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// Notifier receives exactly one call per presence transition. away=true
// means the operator just left (listener should start); away=false means
// they returned (listener should stop). This hook is the only listener
// lifecycle control in the system.
type Notifier func(away bool)

// Gate mediates access to the presence singleton. Transitions are
// linearized through an internal mutex so the notifier can never fire
// twice for one logical transition.
type Gate struct {
	db       *gorm.DB
	override bool // development flag: force delivery regardless of presence

	mu     sync.Mutex
	notify Notifier
}

// GateOpts holds parameters for creating a Gate.
type GateOpts struct {
	DB          *gorm.DB
	DevOverride bool
	Notify      Notifier // optional; set later with SetNotifier
}

// NewGate creates a Gate.
func NewGate(opts GateOpts) (*Gate, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("presence: db is required")
	}
	return &Gate{db: opts.DB, override: opts.DevOverride, notify: opts.Notify}, nil
}

// SetNotifier installs the transition hook. The bridge daemon calls this
// once at startup, before serving any enable/disable operations.
func (g *Gate) SetNotifier(n Notifier) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.notify = n
}

// Current returns the live presence row.
func (g *Gate) Current() (*models.PresenceState, error) {
	var row models.PresenceState
	if err := g.db.First(&row, models.PresenceSingletonID).Error; err != nil {
		return nil, fmt.Errorf("presence: read state: %w", err)
	}
	return &row, nil
}

// Enable marks the operator as away. reason is free text; durationHint,
// when positive, schedules an automatic return. Returns whether the
// operator was already away.
//
// The transition is judged on the persisted flag, not the effective
// state: an away row whose scheduled return has passed still has a
// running listener until something reconciles it, so re-enabling must
// not fire a second start.
func (g *Gate) Enable(reason string, durationHint time.Duration) (wasAway bool, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	row, err := g.Current()
	if err != nil {
		return false, err
	}
	wasAway = !row.Present

	var expires *time.Time
	if durationHint > 0 {
		t := time.Now().Add(durationHint)
		expires = &t
	}
	updates := map[string]interface{}{
		"present":    false,
		"reason":     reason,
		"expires_at": expires,
	}
	if err := g.db.Model(&models.PresenceState{}).
		Where("id = ?", models.PresenceSingletonID).
		Updates(updates).Error; err != nil {
		return wasAway, fmt.Errorf("presence: enable: %w", err)
	}

	if !wasAway && g.notify != nil {
		g.notify(true)
	}
	return wasAway, nil
}

// Disable marks the operator as present again. Returns whether the
// operator was away before the call.
//
// Like Enable, the stop decision follows the persisted flag: the
// listener started by an away row keeps running past its scheduled
// expiry until the expiry loop or a Disable reconciles it, so a
// Disable on an expired row must still fire the stop.
func (g *Gate) Disable() (wasAway bool, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	row, err := g.Current()
	if err != nil {
		return false, err
	}
	wasAway = !row.Present

	updates := map[string]interface{}{
		"present":    true,
		"reason":     "",
		"expires_at": nil,
	}
	if err := g.db.Model(&models.PresenceState{}).
		Where("id = ?", models.PresenceSingletonID).
		Updates(updates).Error; err != nil {
		return wasAway, fmt.Errorf("presence: disable: %w", err)
	}

	if wasAway && g.notify != nil {
		g.notify(false)
	}
	return wasAway, nil
}

// DeliveryAllowed reports whether agent notifications should actually be
// sent right now: the operator is away, or the development override is
// set.
func (g *Gate) DeliveryAllowed() (bool, error) {
	if g.override {
		return true, nil
	}
	row, err := g.Current()
	if err != nil {
		return false, err
	}
	return row.Away(time.Now()), nil
}

// ExpireIfDue flips an away row whose scheduled return time has passed
// back to present, firing the notifier like an explicit Disable. The
// bridge daemon calls this on a ticker.
func (g *Gate) ExpireIfDue(now time.Time) (expired bool, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var row models.PresenceState
	if err := g.db.First(&row, models.PresenceSingletonID).Error; err != nil {
		return false, fmt.Errorf("presence: read state: %w", err)
	}
	if row.Present || row.ExpiresAt == nil || now.Before(*row.ExpiresAt) {
		return false, nil
	}

	updates := map[string]interface{}{
		"present":    true,
		"reason":     "",
		"expires_at": nil,
	}
	if err := g.db.Model(&models.PresenceState{}).
		Where("id = ?", models.PresenceSingletonID).
		Updates(updates).Error; err != nil {
		return false, fmt.Errorf("presence: expire: %w", err)
	}

	if g.notify != nil {
		g.notify(false)
	}
	return true, nil
}
