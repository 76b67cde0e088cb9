// Package correlate links an agent's outbound question to its eventual
// inbound reply through a short opaque correlation ID. Asking records a
// pending input request and (gate permitting) posts the question; waiting
// polls the store until the listener answers or the deadline passes.
package correlate

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/presence"
	"github.com/zulandar/switchboard/internal/topic"
	"github.com/zulandar/switchboard/internal/transport"
	"gorm.io/gorm"
)

// DefaultWaitInterval is the store re-check cadence during Wait.
const DefaultWaitInterval = 500 * time.Millisecond

// GenerateRequestID creates a correlation ID in req-xxxxxx format
// (6-char hex). IDs are never reused; collisions are retried against the
// store at creation time.
func GenerateRequestID() (string, error) {
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("correlate: generate request ID: %w", err)
	}
	return "req-" + hex.EncodeToString(b), nil
}

// Correlator issues input requests and waits on their replies.
type Correlator struct {
	db           *gorm.DB
	gate         *presence.Gate
	client       transport.Client
	channel      string
	project      string
	waitInterval time.Duration
}

// CorrelatorOpts holds parameters for creating a Correlator.
type CorrelatorOpts struct {
	DB           *gorm.DB
	Gate         *presence.Gate
	Client       transport.Client
	Channel      string
	Project      string
	WaitInterval time.Duration // defaults to DefaultWaitInterval
}

// New creates a Correlator.
func New(opts CorrelatorOpts) (*Correlator, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("correlate: db is required")
	}
	if opts.Gate == nil {
		return nil, fmt.Errorf("correlate: gate is required")
	}
	if opts.Client == nil {
		return nil, fmt.Errorf("correlate: transport client is required")
	}
	if opts.Channel == "" {
		return nil, fmt.Errorf("correlate: channel is required")
	}
	project := opts.Project
	if project == "" {
		project = topic.AdhocProject
	}
	interval := opts.WaitInterval
	if interval <= 0 {
		interval = DefaultWaitInterval
	}
	return &Correlator{
		db:           opts.DB,
		gate:         opts.Gate,
		client:       opts.Client,
		channel:      opts.Channel,
		project:      project,
		waitInterval: interval,
	}, nil
}

// AskResult reports how an Ask went: the correlation ID to wait on, and
// whether the question was actually posted or suppressed by the gate.
type AskResult struct {
	RequestID string
	Delivered bool
}

// Ask records a pending input request and, when the gate allows
// delivery, posts the question to the request's input topic. A closed
// gate is not an error: the request is still recorded and the caller is
// told delivery was skipped so it can decide whether waiting is useful.
func (c *Correlator) Ask(ctx context.Context, agentID, question string, options []string, contextNote string) (*AskResult, error) {
	if agentID == "" {
		return nil, fmt.Errorf("correlate: agentID is required")
	}
	if question == "" {
		return nil, fmt.Errorf("correlate: question is required")
	}

	id, err := c.uniqueRequestID()
	if err != nil {
		return nil, err
	}

	optJSON := ""
	if len(options) > 0 {
		data, err := json.Marshal(options)
		if err != nil {
			return nil, fmt.Errorf("correlate: marshal options: %w", err)
		}
		optJSON = string(data)
	}

	req := models.InputRequest{
		ID:       id,
		AgentID:  agentID,
		Question: question,
		Options:  optJSON,
		Context:  contextNote,
		Status:   models.InputPending,
	}
	if err := c.db.Create(&req).Error; err != nil {
		return nil, fmt.Errorf("correlate: create request: %w", err)
	}

	allowed, err := c.gate.DeliveryAllowed()
	if err != nil {
		return nil, err
	}
	if !allowed {
		return &AskResult{RequestID: id, Delivered: false}, nil
	}

	t := topic.InputTopic(c.project, id)
	if _, err := c.client.SendMessage(ctx, c.channel, t, formatQuestion(agentID, question, options, contextNote)); err != nil {
		// Recorded but undeliverable; surface the transport failure.
		return &AskResult{RequestID: id, Delivered: false}, fmt.Errorf("correlate: deliver question %s: %w", id, err)
	}
	return &AskResult{RequestID: id, Delivered: true}, nil
}

// WaitResult is the terminal outcome of a Wait. Status is one of the
// InputRequest terminal statuses; timeouts are a normal result variant,
// not an error.
type WaitResult struct {
	Status string
	Answer string
}

// Wait polls the request's status at a bounded interval until a terminal
// status appears or the timeout elapses, then compare-and-sets timed_out.
// A reply that lands concurrently with the deadline wins: the final
// re-read after a failed status write reports the listener's answer.
func (c *Correlator) Wait(ctx context.Context, requestID string, timeout time.Duration) (*WaitResult, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("correlate: wait timeout must be positive")
	}
	deadline := time.Now().Add(timeout)

	for {
		req, err := c.get(requestID)
		if err != nil {
			return nil, err
		}
		if req.Terminal() {
			return resultFrom(req), nil
		}
		if time.Now().After(deadline) {
			break
		}

		sleep := c.waitInterval
		if remaining := time.Until(deadline); remaining < sleep {
			sleep = remaining
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("correlate: wait %s: %w", requestID, ctx.Err())
		case <-time.After(sleep):
		}
	}

	return c.forceTerminal(requestID, models.InputTimedOut)
}

// Cancel compare-and-sets a pending request to cancelled. Cancelling an
// already-terminal request returns its existing outcome.
func (c *Correlator) Cancel(requestID string) (*WaitResult, error) {
	return c.forceTerminal(requestID, models.InputCancelled)
}

// forceTerminal writes the given terminal status only if the request is
// still pending; if the write loses the race it re-reads and reports the
// winner's status.
func (c *Correlator) forceTerminal(requestID, status string) (*WaitResult, error) {
	result := c.db.Model(&models.InputRequest{}).
		Where("id = ? AND status = ?", requestID, models.InputPending).
		Update("status", status)
	if result.Error != nil {
		return nil, fmt.Errorf("correlate: mark %s %s: %w", requestID, status, result.Error)
	}

	req, err := c.get(requestID)
	if err != nil {
		return nil, err
	}
	return resultFrom(req), nil
}

func (c *Correlator) get(requestID string) (*models.InputRequest, error) {
	var req models.InputRequest
	if err := c.db.First(&req, "id = ?", requestID).Error; err != nil {
		return nil, fmt.Errorf("correlate: request %s: %w", requestID, err)
	}
	return &req, nil
}

func (c *Correlator) uniqueRequestID() (string, error) {
	for attempt := 0; attempt < 3; attempt++ {
		id, err := GenerateRequestID()
		if err != nil {
			return "", err
		}
		var count int64
		if err := c.db.Model(&models.InputRequest{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return "", fmt.Errorf("correlate: check ID uniqueness: %w", err)
		}
		if count == 0 {
			return id, nil
		}
	}
	return "", fmt.Errorf("correlate: failed to generate unique request ID after retries")
}

func resultFrom(req *models.InputRequest) *WaitResult {
	r := &WaitResult{Status: req.Status}
	if req.Answer != nil {
		r.Answer = *req.Answer
	}
	return r
}

// formatQuestion renders the question message posted to the input topic.
func formatQuestion(agentID, question string, options []string, contextNote string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s asks:** %s", agentID, question)
	if len(options) > 0 {
		b.WriteString("\nOptions: `")
		b.WriteString(strings.Join(options, "` | `"))
		b.WriteString("`")
	}
	if contextNote != "" {
		fmt.Fprintf(&b, "\n_Context: %s_", contextNote)
	}
	b.WriteString("\nReply in this topic to answer.")
	return b.String()
}
