package api

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// inboundSSE is the payload for an inbound-event SSE message.
type inboundSSE struct {
	ID      uint   `json:"id"`
	Topic   string `json:"topic"`
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

// handleSSE streams newly ingested inbound events to the client as they
// appear in the store.
func handleSSE(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})
		c.Writer.Flush()

		if db == nil {
			return
		}

		// Only stream events ingested after the client connected.
		var lastSeenID uint
		var newest models.InboundEvent
		if err := db.Order("id DESC").Limit(1).First(&newest).Error; err == nil {
			lastSeenID = newest.ID
		}

		ctx := c.Request.Context()
		ticker := time.NewTicker(2 * time.Second)
		heartbeat := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", map[string]string{"type": "heartbeat"})
				c.Writer.Flush()
			case <-ticker.C:
				var rows []models.InboundEvent
				if err := db.Where("id > ?", lastSeenID).
					Order("id ASC").Find(&rows).Error; err != nil {
					continue
				}
				for _, row := range rows {
					lastSeenID = row.ID
					writeSSE(c.Writer, "inbound", inboundSSE{
						ID:      row.ID,
						Topic:   row.Topic,
						Sender:  row.Sender,
						Content: row.Content,
					})
				}
				if len(rows) > 0 {
					c.Writer.Flush()
				}
			}
		}
	}
}

// writeSSE writes one SSE frame.
func writeSSE(w io.Writer, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
}
