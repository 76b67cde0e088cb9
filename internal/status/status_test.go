package status

import (
	"strings"
	"testing"

	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.AgentStatus{},
		&models.Task{},
		&models.InboundEvent{},
		&models.InputRequest{},
	); err != nil {
		t.Fatalf("auto-migrate: %v", err)
	}
	return db
}

func TestReport_AndRecent(t *testing.T) {
	db := openTestDB(t)

	if _, err := Report(db, "builder", "agent", "working", "compiling"); err != nil {
		t.Fatalf("Report: %v", err)
	}
	if _, err := Report(db, "builder", "agent", "blocked", "waiting on review"); err != nil {
		t.Fatalf("Report: %v", err)
	}
	if _, err := Report(db, "other", "agent", "idle", ""); err != nil {
		t.Fatalf("Report: %v", err)
	}

	rows, err := Recent(db, "builder", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}
}

func TestReport_Validation(t *testing.T) {
	db := openTestDB(t)

	if _, err := Report(db, "", "agent", "working", ""); err == nil {
		t.Error("expected error for empty agentID")
	}
	if _, err := Report(db, "builder", "agent", "", ""); err == nil {
		t.Error("expected error for empty status")
	}
}

func TestGenerateTaskID_Format(t *testing.T) {
	id, err := GenerateTaskID()
	if err != nil {
		t.Fatalf("GenerateTaskID: %v", err)
	}
	if !strings.HasPrefix(id, "task-") {
		t.Errorf("id = %q, want task- prefix", id)
	}
	if len(id) != len("task-")+6 {
		t.Errorf("id = %q, want 6 hex chars after prefix", id)
	}
}

func TestTaskLifecycle(t *testing.T) {
	db := openTestDB(t)

	task, err := StartTask(db, "builder", "refactor", "split the parser")
	if err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	if task.Status != models.TaskRunning {
		t.Errorf("Status = %q, want %q", task.Status, models.TaskRunning)
	}

	if err := UpdateTask(db, task.ID, 40, map[string]any{"files": 3}, nil); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	var row models.Task
	if err := db.First(&row, "id = ?", task.ID).Error; err != nil {
		t.Fatalf("read task: %v", err)
	}
	if row.Progress != 40 {
		t.Errorf("Progress = %d, want 40", row.Progress)
	}
	if !strings.Contains(row.Outputs, `"files":3`) {
		t.Errorf("Outputs = %q, want files count", row.Outputs)
	}

	if err := CompleteTask(db, task.ID, true, nil); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	if err := db.First(&row, "id = ?", task.ID).Error; err != nil {
		t.Fatalf("read task: %v", err)
	}
	if row.Status != models.TaskCompleted {
		t.Errorf("Status = %q, want %q", row.Status, models.TaskCompleted)
	}
	if row.Progress != 100 {
		t.Errorf("Progress = %d, want 100", row.Progress)
	}
}

func TestCompleteTask_FirstTerminalWriteWins(t *testing.T) {
	db := openTestDB(t)

	task, err := StartTask(db, "builder", "deploy", "")
	if err != nil {
		t.Fatalf("StartTask: %v", err)
	}

	if err := CompleteTask(db, task.ID, false, nil); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	// Second terminal write must be rejected, not overwrite.
	if err := CompleteTask(db, task.ID, true, nil); err == nil {
		t.Fatal("expected error completing an already-terminal task")
	}

	var row models.Task
	if err := db.First(&row, "id = ?", task.ID).Error; err != nil {
		t.Fatalf("read task: %v", err)
	}
	if row.Status != models.TaskFailed {
		t.Errorf("Status = %q, want %q (first write)", row.Status, models.TaskFailed)
	}
}

func TestUpdateTask_Guards(t *testing.T) {
	db := openTestDB(t)

	task, err := StartTask(db, "builder", "lint", "")
	if err != nil {
		t.Fatalf("StartTask: %v", err)
	}

	if err := UpdateTask(db, task.ID, 150, nil, nil); err == nil {
		t.Error("expected error for out-of-range progress")
	}
	if err := UpdateTask(db, "task-missing", 10, nil, nil); err == nil {
		t.Error("expected error for unknown task")
	}

	if err := CompleteTask(db, task.ID, true, nil); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	if err := UpdateTask(db, task.ID, 10, nil, nil); err == nil {
		t.Error("expected error updating a terminal task")
	}
}

func TestTasks_Filtering(t *testing.T) {
	db := openTestDB(t)

	if _, err := StartTask(db, "builder", "a", ""); err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	if _, err := StartTask(db, "tester", "b", ""); err != nil {
		t.Fatalf("StartTask: %v", err)
	}

	all, err := Tasks(db, "", 10)
	if err != nil {
		t.Fatalf("Tasks: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("len(all) = %d, want 2", len(all))
	}

	mine, err := Tasks(db, "builder", 10)
	if err != nil {
		t.Fatalf("Tasks: %v", err)
	}
	if len(mine) != 1 || mine[0].AgentID != "builder" {
		t.Errorf("filtered tasks = %+v, want one for builder", mine)
	}
}
