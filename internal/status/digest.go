package status

import (
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// DigestReport holds computed bridge activity metrics for one period.
type DigestReport struct {
	PeriodStart    time.Time
	PeriodEnd      time.Time
	StatusCount    int64
	TasksStarted   int64
	TasksCompleted int64
	TasksFailed    int64
	PendingInputs  int64
	UnackedEvents  int64
	ActiveAgents   []string
}

// BuildDigest queries bridge activity since the cutoff. Returns nil when
// there is nothing to report, which suppresses the digest message.
func BuildDigest(db *gorm.DB, since time.Time) (*DigestReport, error) {
	now := time.Now()
	report := &DigestReport{PeriodStart: since, PeriodEnd: now}

	window := func(q *gorm.DB) *gorm.DB {
		return q.Where("created_at >= ? AND created_at < ?", since, now)
	}

	if err := window(db.Model(&models.AgentStatus{})).Count(&report.StatusCount).Error; err != nil {
		return nil, fmt.Errorf("status: digest statuses: %w", err)
	}
	if err := window(db.Model(&models.Task{})).Count(&report.TasksStarted).Error; err != nil {
		return nil, fmt.Errorf("status: digest tasks: %w", err)
	}
	if err := db.Model(&models.Task{}).
		Where("status = ? AND updated_at >= ?", models.TaskCompleted, since).
		Count(&report.TasksCompleted).Error; err != nil {
		return nil, fmt.Errorf("status: digest completed: %w", err)
	}
	if err := db.Model(&models.Task{}).
		Where("status = ? AND updated_at >= ?", models.TaskFailed, since).
		Count(&report.TasksFailed).Error; err != nil {
		return nil, fmt.Errorf("status: digest failed: %w", err)
	}
	if err := db.Model(&models.InputRequest{}).
		Where("status = ?", models.InputPending).
		Count(&report.PendingInputs).Error; err != nil {
		return nil, fmt.Errorf("status: digest pending inputs: %w", err)
	}
	if err := db.Model(&models.InboundEvent{}).
		Where("acked = ?", false).
		Count(&report.UnackedEvents).Error; err != nil {
		return nil, fmt.Errorf("status: digest unacked: %w", err)
	}
	if err := window(db.Model(&models.AgentStatus{})).
		Where("agent_type <> ?", "identity").
		Distinct("agent_id").
		Pluck("agent_id", &report.ActiveAgents).Error; err != nil {
		return nil, fmt.Errorf("status: digest agents: %w", err)
	}

	if report.StatusCount == 0 && report.TasksStarted == 0 &&
		report.PendingInputs == 0 && report.UnackedEvents == 0 {
		return nil, nil
	}
	return report, nil
}

// FormatDigest renders a digest report as chat markdown.
func FormatDigest(r *DigestReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Bridge digest** (%s – %s)\n",
		r.PeriodStart.Format("Jan 2 15:04"), r.PeriodEnd.Format("15:04"))
	fmt.Fprintf(&b, "- status reports: %d\n", r.StatusCount)
	fmt.Fprintf(&b, "- tasks: %d started, %d completed, %d failed\n",
		r.TasksStarted, r.TasksCompleted, r.TasksFailed)
	if r.PendingInputs > 0 {
		fmt.Fprintf(&b, "- **%d question(s) waiting for you**\n", r.PendingInputs)
	}
	if r.UnackedEvents > 0 {
		fmt.Fprintf(&b, "- %d unread chat event(s)\n", r.UnackedEvents)
	}
	if len(r.ActiveAgents) > 0 {
		fmt.Fprintf(&b, "- active agents: %s\n", strings.Join(r.ActiveAgents, ", "))
	}
	return b.String()
}
