// Package status provides the store-facing agent reporting primitives:
// the append-only status log, task lifecycle tracking, and the inbound
// event inbox.
package status

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// Report appends one status log entry for an agent. The log is
// append-only; entries are never updated or deleted.
func Report(db *gorm.DB, agentID, agentType, statusLabel, message string) (*models.AgentStatus, error) {
	if agentID == "" {
		return nil, fmt.Errorf("status: agentID is required")
	}
	if statusLabel == "" {
		return nil, fmt.Errorf("status: status label is required")
	}
	row := models.AgentStatus{
		AgentID:   agentID,
		AgentType: agentType,
		Status:    statusLabel,
		Message:   message,
		CreatedAt: time.Now(),
	}
	if err := db.Create(&row).Error; err != nil {
		return nil, fmt.Errorf("status: report: %w", err)
	}
	return &row, nil
}

// Recent returns the newest status entries for an agent, newest first.
func Recent(db *gorm.DB, agentID string, limit int) ([]models.AgentStatus, error) {
	if agentID == "" {
		return nil, fmt.Errorf("status: agentID is required")
	}
	if limit <= 0 {
		limit = 20
	}
	var rows []models.AgentStatus
	if err := db.Where("agent_id = ?", agentID).
		Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("status: recent for %s: %w", agentID, err)
	}
	return rows, nil
}

// GenerateTaskID creates a task ID in task-xxxxxx format (6-char hex).
func GenerateTaskID() (string, error) {
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("status: generate task ID: %w", err)
	}
	return "task-" + hex.EncodeToString(b), nil
}

// StartTask creates a running task for an agent.
func StartTask(db *gorm.DB, agentID, name, description string) (*models.Task, error) {
	if agentID == "" {
		return nil, fmt.Errorf("status: agentID is required")
	}
	if name == "" {
		return nil, fmt.Errorf("status: task name is required")
	}
	id, err := GenerateTaskID()
	if err != nil {
		return nil, err
	}
	task := models.Task{
		ID:          id,
		AgentID:     agentID,
		Name:        name,
		Description: description,
		Status:      models.TaskRunning,
	}
	if err := db.Create(&task).Error; err != nil {
		return nil, fmt.Errorf("status: start task: %w", err)
	}
	return &task, nil
}

// UpdateTask records progress on a running task. Terminal tasks reject
// further updates.
func UpdateTask(db *gorm.DB, taskID string, progress int, outputs, metrics map[string]any) error {
	if progress < 0 || progress > 100 {
		return fmt.Errorf("status: progress %d out of range", progress)
	}
	updates := map[string]interface{}{"progress": progress}
	if outputs != nil {
		data, err := json.Marshal(outputs)
		if err != nil {
			return fmt.Errorf("status: marshal outputs: %w", err)
		}
		updates["outputs"] = string(data)
	}
	if metrics != nil {
		data, err := json.Marshal(metrics)
		if err != nil {
			return fmt.Errorf("status: marshal metrics: %w", err)
		}
		updates["metrics"] = string(data)
	}

	result := db.Model(&models.Task{}).
		Where("id = ? AND status = ?", taskID, models.TaskRunning).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("status: update task %s: %w", taskID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("status: task %s not found or not running", taskID)
	}
	return nil
}

// CompleteTask writes a task's single terminal state. success=false
// marks it failed. Completing an already-terminal task is an error; the
// first terminal write wins.
func CompleteTask(db *gorm.DB, taskID string, success bool, outputs map[string]any) error {
	terminal := models.TaskCompleted
	progress := 100
	if !success {
		terminal = models.TaskFailed
		progress = -1 // keep current progress
	}

	updates := map[string]interface{}{"status": terminal}
	if progress >= 0 {
		updates["progress"] = progress
	}
	if outputs != nil {
		data, err := json.Marshal(outputs)
		if err != nil {
			return fmt.Errorf("status: marshal outputs: %w", err)
		}
		updates["outputs"] = string(data)
	}

	result := db.Model(&models.Task{}).
		Where("id = ? AND status = ?", taskID, models.TaskRunning).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("status: complete task %s: %w", taskID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("status: task %s not found or already terminal", taskID)
	}
	return nil
}

// Tasks returns an agent's tasks, newest first; pass agentID="" for all
// agents.
func Tasks(db *gorm.DB, agentID string, limit int) ([]models.Task, error) {
	if limit <= 0 {
		limit = 50
	}
	q := db.Order("created_at DESC").Limit(limit)
	if agentID != "" {
		q = q.Where("agent_id = ?", agentID)
	}
	var tasks []models.Task
	if err := q.Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("status: tasks: %w", err)
	}
	return tasks, nil
}
