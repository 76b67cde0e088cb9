package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchboard/internal/chain"
	"github.com/zulandar/switchboard/internal/correlate"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/presence"
	"github.com/zulandar/switchboard/internal/transport"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testServer struct {
	db     *gorm.DB
	mock   *transport.Mock
	gate   *presence.Gate
	router *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.PresenceState{},
		&models.InputRequest{},
		&models.InboundEvent{},
		&models.AgentStatus{},
		&models.Task{},
	); err != nil {
		t.Fatalf("auto-migrate: %v", err)
	}
	seed := models.PresenceState{ID: models.PresenceSingletonID, Present: true}
	if err := db.Create(&seed).Error; err != nil {
		t.Fatalf("seed presence: %v", err)
	}

	mock := transport.NewMock()
	gate, err := presence.NewGate(presence.GateOpts{DB: db})
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	correlator, err := correlate.New(correlate.CorrelatorOpts{
		DB:           db,
		Gate:         gate,
		Client:       mock,
		Channel:      "agents",
		Project:      "myapp",
		WaitInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("correlate.New: %v", err)
	}
	engine, err := chain.NewEngine(chain.EngineOpts{
		Gate:       gate,
		Client:     mock,
		Correlator: correlator,
		Channel:    "agents",
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	router := gin.New()
	registerRoutes(router, StartOpts{
		DB:         db,
		Gate:       gate,
		Correlator: correlator,
		Engine:     engine,
	})
	return &testServer{db: db, mock: mock, gate: gate, router: router}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestPresenceEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/presence", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /api/presence = %d", w.Code)
	}
	if got := decode(t, w)["away"]; got != false {
		t.Errorf("away = %v, want false", got)
	}

	w = s.do(t, http.MethodPost, "/api/presence/enable", map[string]any{
		"reason": "lunch", "duration_min": 60,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("enable = %d: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if resp["away"] != true || resp["was_away"] != false {
		t.Errorf("enable response = %v", resp)
	}

	w = s.do(t, http.MethodGet, "/api/presence", nil)
	resp = decode(t, w)
	if resp["away"] != true || resp["reason"] != "lunch" {
		t.Errorf("presence after enable = %v", resp)
	}
	if resp["expires_at"] == nil {
		t.Error("expires_at not set with duration hint")
	}

	w = s.do(t, http.MethodPost, "/api/presence/disable", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("disable = %d", w.Code)
	}
	if got := decode(t, w)["was_away"]; got != true {
		t.Errorf("was_away = %v, want true", got)
	}
}

func TestInputEndpoints(t *testing.T) {
	s := newTestServer(t)
	if _, err := s.gate.Enable("afk", 0); err != nil {
		t.Fatalf("Enable: %v", err)
	}

	w := s.do(t, http.MethodPost, "/api/input", map[string]any{
		"agent_id": "builder",
		"question": "Deploy?",
		"options":  []string{"yes", "no"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("POST /api/input = %d: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	requestID, _ := resp["request_id"].(string)
	if requestID == "" {
		t.Fatal("no request_id in response")
	}
	if resp["delivered"] != true {
		t.Errorf("delivered = %v, want true while away", resp["delivered"])
	}

	// Answer it directly, then wait resolves instantly.
	answer := "yes"
	if err := s.db.Model(&models.InputRequest{}).
		Where("id = ?", requestID).
		Updates(map[string]interface{}{"status": models.InputAnswered, "answer": answer}).Error; err != nil {
		t.Fatalf("answer request: %v", err)
	}

	w = s.do(t, http.MethodGet, fmt.Sprintf("/api/input/%s/wait?timeout=1", requestID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("wait = %d: %s", w.Code, w.Body.String())
	}
	resp = decode(t, w)
	if resp["status"] != models.InputAnswered || resp["answer"] != "yes" {
		t.Errorf("wait response = %v", resp)
	}
}

func TestInputCancel(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/input", map[string]any{
		"agent_id": "builder", "question": "Proceed?",
	})
	requestID := decode(t, w)["request_id"].(string)

	w = s.do(t, http.MethodPost, "/api/input/"+requestID+"/cancel", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel = %d", w.Code)
	}
	if got := decode(t, w)["status"]; got != models.InputCancelled {
		t.Errorf("status = %v, want %q", got, models.InputCancelled)
	}
}

func TestInput_Validation(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/input", map[string]any{"agent_id": "builder"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing question = %d, want 400", w.Code)
	}

	w = s.do(t, http.MethodGet, "/api/input/req-x/wait?timeout=0", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("zero timeout = %d, want 400", w.Code)
	}
}

func TestEventEndpoints(t *testing.T) {
	s := newTestServer(t)

	for i := 0; i < 3; i++ {
		row := models.InboundEvent{RemoteMessageID: int64(100 + i), Content: fmt.Sprintf("event %d", i)}
		if err := s.db.Create(&row).Error; err != nil {
			t.Fatalf("seed event: %v", err)
		}
	}

	w := s.do(t, http.MethodGet, "/api/events", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /api/events = %d", w.Code)
	}
	events, _ := decode(t, w)["events"].([]any)
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}

	first := events[0].(map[string]any)
	id := uint(first["ID"].(float64))

	w = s.do(t, http.MethodPost, "/api/events/ack", map[string]any{"ids": []uint{id}})
	if w.Code != http.StatusOK {
		t.Fatalf("ack = %d: %s", w.Code, w.Body.String())
	}

	w = s.do(t, http.MethodGet, "/api/events", nil)
	events, _ = decode(t, w)["events"].([]any)
	if len(events) != 2 {
		t.Errorf("events after ack = %d, want 2", len(events))
	}

	w = s.do(t, http.MethodPost, "/api/events/ack", map[string]any{"all": true})
	if w.Code != http.StatusOK {
		t.Fatalf("ack all = %d", w.Code)
	}
	if got := decode(t, w)["acked"]; got != float64(2) {
		t.Errorf("acked = %v, want 2", got)
	}

	w = s.do(t, http.MethodPost, "/api/events/ack", map[string]any{"ids": []uint{9999}})
	if w.Code != http.StatusNotFound {
		t.Errorf("ack missing = %d, want 404", w.Code)
	}
}

func TestChainEndpoint(t *testing.T) {
	s := newTestServer(t)
	if _, err := s.gate.Enable("afk", 0); err != nil {
		t.Fatalf("Enable: %v", err)
	}

	w := s.do(t, http.MethodPost, "/api/chain", map[string]any{
		"steps": []map[string]any{
			{"kind": "send_message", "topic_key": "topic", "content_key": "msg"},
		},
		"context": map[string]any{"topic": "chat/myapp/b/s1", "msg": "hi"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("chain = %d: %s", w.Code, w.Body.String())
	}
	cc, _ := decode(t, w)["context"].(map[string]any)
	if cc["_last_send"] != "delivered" {
		t.Errorf("context = %v", cc)
	}
	if len(s.mock.Sent()) != 1 {
		t.Errorf("sent = %d, want 1", len(s.mock.Sent()))
	}
}

func TestChainEndpoint_StepFailure(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/chain", map[string]any{
		"steps": []map[string]any{
			{"kind": "send_message", "topic_key": "missing", "content_key": "msg"},
		},
		"context": map[string]any{"msg": "hi"},
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("chain failure = %d, want 422", w.Code)
	}
	resp := decode(t, w)
	if resp["failed_step"] != float64(0) {
		t.Errorf("failed_step = %v, want 0", resp["failed_step"])
	}
	if resp["step_kind"] != "send_message" {
		t.Errorf("step_kind = %v", resp["step_kind"])
	}
}

func TestStatusAndTaskEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/status", map[string]any{
		"agent_id": "builder", "status": "working", "message": "compiling",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("POST /api/status = %d: %s", w.Code, w.Body.String())
	}

	w = s.do(t, http.MethodGet, "/api/status/builder", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /api/status/builder = %d", w.Code)
	}
	statuses, _ := decode(t, w)["statuses"].([]any)
	if len(statuses) != 1 {
		t.Errorf("statuses = %d, want 1", len(statuses))
	}

	task := models.Task{ID: "task-abc123", AgentID: "builder", Name: "refactor", Status: models.TaskRunning}
	if err := s.db.Create(&task).Error; err != nil {
		t.Fatalf("seed task: %v", err)
	}

	w = s.do(t, http.MethodGet, "/api/tasks?agent=builder", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /api/tasks = %d", w.Code)
	}
	tasks, _ := decode(t, w)["tasks"].([]any)
	if len(tasks) != 1 {
		t.Errorf("tasks = %d, want 1", len(tasks))
	}
}

func TestStart_Validation(t *testing.T) {
	if err := Start(context.Background(), StartOpts{}); err == nil {
		t.Error("expected error for missing DB")
	}

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := Start(context.Background(), StartOpts{DB: db}); err == nil {
		t.Error("expected error for missing gate")
	}
}
