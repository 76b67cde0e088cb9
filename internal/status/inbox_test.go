package status

import (
	"testing"
	"time"

	"github.com/zulandar/switchboard/internal/models"
)

func TestInbox_OldestFirstUnackedOnly(t *testing.T) {
	db := openTestDB(t)

	base := time.Now().Add(-time.Hour)
	for i, content := range []string{"first", "second", "third"} {
		row := models.InboundEvent{
			RemoteMessageID: int64(100 + i),
			Topic:           "chat/myapp/builder/sess-1",
			Sender:          "alice@example.com",
			Content:         content,
			CreatedAt:       base.Add(time.Duration(i) * time.Minute),
		}
		if err := db.Create(&row).Error; err != nil {
			t.Fatalf("seed event: %v", err)
		}
	}
	// Ack the middle one.
	var mid models.InboundEvent
	if err := db.First(&mid, "content = ?", "second").Error; err != nil {
		t.Fatalf("find seeded event: %v", err)
	}
	if err := Acknowledge(db, mid.ID); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}

	rows, err := Inbox(db, 10)
	if err != nil {
		t.Fatalf("Inbox: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}
	if rows[0].Content != "first" || rows[1].Content != "third" {
		t.Errorf("inbox order = %q, %q; want first, third", rows[0].Content, rows[1].Content)
	}
}

func TestAcknowledge_Monotonic(t *testing.T) {
	db := openTestDB(t)

	row := models.InboundEvent{RemoteMessageID: 200, Content: "hello"}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("seed event: %v", err)
	}

	if err := Acknowledge(db, row.ID); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	// Re-acking succeeds and changes nothing.
	if err := Acknowledge(db, row.ID); err != nil {
		t.Fatalf("second Acknowledge: %v", err)
	}

	var after models.InboundEvent
	if err := db.First(&after, row.ID).Error; err != nil {
		t.Fatalf("read event: %v", err)
	}
	if !after.Acked {
		t.Error("event should stay acked")
	}
}

func TestAcknowledge_Missing(t *testing.T) {
	db := openTestDB(t)
	if err := Acknowledge(db, 9999); err == nil {
		t.Fatal("expected error for missing event")
	}
}

func TestAcknowledgeAll(t *testing.T) {
	db := openTestDB(t)

	for i := 0; i < 3; i++ {
		row := models.InboundEvent{RemoteMessageID: int64(300 + i)}
		if err := db.Create(&row).Error; err != nil {
			t.Fatalf("seed event: %v", err)
		}
	}

	n, err := AcknowledgeAll(db)
	if err != nil {
		t.Fatalf("AcknowledgeAll: %v", err)
	}
	if n != 3 {
		t.Errorf("acked = %d, want 3", n)
	}

	rows, err := Inbox(db, 10)
	if err != nil {
		t.Fatalf("Inbox: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("inbox has %d rows after AcknowledgeAll, want 0", len(rows))
	}

	// Nothing left to ack.
	n, err = AcknowledgeAll(db)
	if err != nil {
		t.Fatalf("second AcknowledgeAll: %v", err)
	}
	if n != 0 {
		t.Errorf("acked = %d, want 0", n)
	}
}
