package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchboard/internal/chain"
	"github.com/zulandar/switchboard/internal/correlate"
	"github.com/zulandar/switchboard/internal/presence"
	"github.com/zulandar/switchboard/internal/status"
	"gorm.io/gorm"
)

// registerRoutes sets up all API routes on the Gin router.
func registerRoutes(router *gin.Engine, opts StartOpts) {
	router.GET("/api/presence", handlePresenceGet(opts.Gate))
	router.POST("/api/presence/enable", handlePresenceEnable(opts.Gate))
	router.POST("/api/presence/disable", handlePresenceDisable(opts.Gate))

	if opts.Correlator != nil {
		router.POST("/api/input", handleAsk(opts.Correlator))
		router.GET("/api/input/:id/wait", handleWait(opts.Correlator))
		router.POST("/api/input/:id/cancel", handleCancel(opts.Correlator))
	}

	router.GET("/api/events", handleEvents(opts.DB))
	router.POST("/api/events/ack", handleAck(opts.DB))

	if opts.Engine != nil {
		router.POST("/api/chain", handleChain(opts.Engine))
	}

	router.GET("/api/status/:agent", handleStatus(opts.DB))
	router.POST("/api/status", handleReport(opts.DB))
	router.GET("/api/tasks", handleTasks(opts.DB))

	router.GET("/api/stream", handleSSE(opts.DB))
}

func handlePresenceGet(gate *presence.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		row, err := gate.Current()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"away":       row.Away(time.Now()),
			"reason":     row.Reason,
			"expires_at": row.ExpiresAt,
			"updated_at": row.UpdatedAt,
		})
	}
}

func handlePresenceEnable(gate *presence.Gate) gin.HandlerFunc {
	type req struct {
		Reason      string `json:"reason"`
		DurationMin int    `json:"duration_min"`
	}
	return func(c *gin.Context) {
		var body req
		if err := c.ShouldBindJSON(&body); err != nil && err.Error() != "EOF" {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		wasAway, err := gate.Enable(body.Reason, time.Duration(body.DurationMin)*time.Minute)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"away": true, "was_away": wasAway})
	}
}

func handlePresenceDisable(gate *presence.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		wasAway, err := gate.Disable()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"away": false, "was_away": wasAway})
	}
}

func handleAsk(correlator *correlate.Correlator) gin.HandlerFunc {
	type req struct {
		AgentID  string   `json:"agent_id" binding:"required"`
		Question string   `json:"question" binding:"required"`
		Options  []string `json:"options"`
		Context  string   `json:"context"`
	}
	return func(c *gin.Context) {
		var body req
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := correlator.Ask(c.Request.Context(), body.AgentID, body.Question, body.Options, body.Context)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"request_id": result.RequestID,
			"delivered":  result.Delivered,
		})
	}
}

func handleWait(correlator *correlate.Correlator) gin.HandlerFunc {
	return func(c *gin.Context) {
		timeoutSec, err := strconv.Atoi(c.DefaultQuery("timeout", "60"))
		if err != nil || timeoutSec <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "timeout must be a positive integer"})
			return
		}
		result, err := correlator.Wait(c.Request.Context(), c.Param("id"), time.Duration(timeoutSec)*time.Second)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": result.Status, "answer": result.Answer})
	}
}

func handleCancel(correlator *correlate.Correlator) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := correlator.Cancel(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": result.Status, "answer": result.Answer})
	}
}

func handleEvents(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		rows, err := status.Inbox(db, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"events": rows})
	}
}

func handleAck(db *gorm.DB) gin.HandlerFunc {
	type req struct {
		IDs []uint `json:"ids"`
		All bool   `json:"all"`
	}
	return func(c *gin.Context) {
		var body req
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if body.All {
			n, err := status.AcknowledgeAll(db)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"acked": n})
			return
		}
		for _, id := range body.IDs {
			if err := status.Acknowledge(db, id); err != nil {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"acked": len(body.IDs)})
	}
}

func handleChain(engine *chain.Engine) gin.HandlerFunc {
	type req struct {
		Steps   []chain.Step   `json:"steps" binding:"required"`
		Context map[string]any `json:"context"`
	}
	return func(c *gin.Context) {
		var body req
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := engine.Run(c.Request.Context(), body.Steps, body.Context)
		if err != nil {
			resp := gin.H{"error": err.Error(), "context": result}
			if stepErr, ok := err.(*chain.StepError); ok {
				resp["failed_step"] = stepErr.Index
				resp["step_kind"] = stepErr.Kind
			}
			c.JSON(http.StatusUnprocessableEntity, resp)
			return
		}
		c.JSON(http.StatusOK, gin.H{"context": result})
	}
}

func handleStatus(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
		rows, err := status.Recent(db, c.Param("agent"), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"statuses": rows})
	}
}

func handleReport(db *gorm.DB) gin.HandlerFunc {
	type req struct {
		AgentID   string `json:"agent_id" binding:"required"`
		AgentType string `json:"agent_type"`
		Status    string `json:"status" binding:"required"`
		Message   string `json:"message"`
	}
	return func(c *gin.Context) {
		var body req
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		row, err := status.Report(db, body.AgentID, body.AgentType, body.Status, body.Message)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": row.ID})
	}
}

func handleTasks(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		tasks, err := status.Tasks(db, c.Query("agent"), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"tasks": tasks})
	}
}
