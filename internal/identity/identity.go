// Package identity tracks which chat credential set is active: the human
// operator's or the service agent's. The context is an explicit object
// injected into callers rather than a process global; every switch leaves
// an audit row in the agent status log.
package identity

import (
	"fmt"
	"sync"
	"time"

	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// Kind names one of the two credential sets.
type Kind string

const (
	Operator Kind = "operator"
	Agent    Kind = "agent"
)

// Credential is one email/API-key pair for the chat server.
type Credential struct {
	Email  string
	APIKey string
	Kind   Kind
}

// Context holds both credential sets and which one is active. Safe for
// concurrent use.
type Context struct {
	mu       sync.Mutex
	operator Credential
	agent    Credential
	active   Kind
	db       *gorm.DB // optional; nil disables audit rows
}

// ContextOpts holds parameters for creating a Context.
type ContextOpts struct {
	Operator Credential
	Agent    Credential
	DB       *gorm.DB // optional audit sink
}

// NewContext creates an identity Context with the agent credential
// active, which is the identity the bridge acts as by default.
func NewContext(opts ContextOpts) (*Context, error) {
	if opts.Agent.Email == "" || opts.Agent.APIKey == "" {
		return nil, fmt.Errorf("identity: agent credential is required")
	}
	op := opts.Operator
	op.Kind = Operator
	ag := opts.Agent
	ag.Kind = Agent
	return &Context{
		operator: op,
		agent:    ag,
		active:   Agent,
		db:       opts.DB,
	}, nil
}

// Active returns the currently active credential.
func (c *Context) Active() Credential {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.credential(c.active)
}

// ActiveKind returns which credential set is active.
func (c *Context) ActiveKind() Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Credential returns the credential for a specific kind without
// switching, for callers that always act as one identity (the listener
// always polls as the agent).
func (c *Context) Credential(kind Kind) (Credential, error) {
	if kind != Operator && kind != Agent {
		return Credential{}, fmt.Errorf("identity: unknown kind %q", kind)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cred := c.credential(kind)
	if cred.Email == "" {
		return Credential{}, fmt.Errorf("identity: no %s credential configured", kind)
	}
	return cred, nil
}

// Switch makes the given credential set active and returns the previous
// kind. Switching to the already-active kind is a no-op and writes no
// audit row.
func (c *Context) Switch(kind Kind) (Kind, error) {
	if kind != Operator && kind != Agent {
		return "", fmt.Errorf("identity: unknown kind %q", kind)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.active
	if prev == kind {
		return prev, nil
	}
	if c.credential(kind).Email == "" {
		return prev, fmt.Errorf("identity: no %s credential configured", kind)
	}
	c.active = kind

	if c.db != nil {
		audit := models.AgentStatus{
			AgentID:   "bridge",
			AgentType: "identity",
			Status:    "switch",
			Message:   fmt.Sprintf("%s -> %s", prev, kind),
			CreatedAt: time.Now(),
		}
		if err := c.db.Create(&audit).Error; err != nil {
			// Switch already happened; surface the audit failure.
			return prev, fmt.Errorf("identity: audit switch: %w", err)
		}
	}
	return prev, nil
}

func (c *Context) credential(kind Kind) Credential {
	if kind == Operator {
		return c.operator
	}
	return c.agent
}
