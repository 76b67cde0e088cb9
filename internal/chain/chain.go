// Package chain executes ordered lists of typed steps against a shared
// mutable context, with conditional branching evaluated by a restricted
// expression language. Step kinds are a closed set; adding one is an
// explicit enum extension with its own handler.
package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/zulandar/switchboard/internal/correlate"
	"github.com/zulandar/switchboard/internal/presence"
	"github.com/zulandar/switchboard/internal/transport"
)

// StepKind identifies a step handler.
type StepKind string

const (
	StepSendMessage     StepKind = "send_message"
	StepWaitForResponse StepKind = "wait_for_response"
	StepSearchMessages  StepKind = "search_messages"
	StepConditional     StepKind = "conditional_action"
)

// Step is one unit of a command chain. Key fields name context entries
// the step reads; result fields name entries it writes. Steps are
// loadable from YAML or JSON.
type Step struct {
	Kind StepKind `yaml:"kind" json:"kind"`

	// send_message: topic and content are read from the context.
	TopicKey   string `yaml:"topic_key,omitempty" json:"topic_key,omitempty"`
	ContentKey string `yaml:"content_key,omitempty" json:"content_key,omitempty"`

	// wait_for_response: the correlation ID is read from the context
	// and the answer is written back under ResultKey.
	RequestIDKey string `yaml:"request_id_key,omitempty" json:"request_id_key,omitempty"`
	TimeoutSec   int    `yaml:"timeout_sec,omitempty" json:"timeout_sec,omitempty"`

	// search_messages: the query is read from the context and the
	// result list written under ResultKey.
	QueryKey string `yaml:"query_key,omitempty" json:"query_key,omitempty"`
	Limit    int    `yaml:"limit,omitempty" json:"limit,omitempty"`

	// shared result slot for wait_for_response and search_messages.
	ResultKey string `yaml:"result_key,omitempty" json:"result_key,omitempty"`

	// conditional_action: Condition is evaluated against the context;
	// exactly one of the two actions runs. Either may be any step kind,
	// including another conditional.
	Condition   string `yaml:"condition,omitempty" json:"condition,omitempty"`
	TrueAction  *Step  `yaml:"true_action,omitempty" json:"true_action,omitempty"`
	FalseAction *Step  `yaml:"false_action,omitempty" json:"false_action,omitempty"`
}

// StepError reports which step failed and why. The engine returns it
// together with the partial context; side effects of completed steps
// stand, there is no rollback.
type StepError struct {
	Index int
	Kind  StepKind
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("chain: step %d (%s): %v", e.Index, e.Kind, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Engine runs command chains.
type Engine struct {
	gate       *presence.Gate
	client     transport.Client
	correlator *correlate.Correlator
	channel    string
}

// EngineOpts holds parameters for creating an Engine.
type EngineOpts struct {
	Gate       *presence.Gate
	Client     transport.Client
	Correlator *correlate.Correlator
	Channel    string
}

// NewEngine creates a chain Engine.
func NewEngine(opts EngineOpts) (*Engine, error) {
	if opts.Gate == nil {
		return nil, fmt.Errorf("chain: gate is required")
	}
	if opts.Client == nil {
		return nil, fmt.Errorf("chain: transport client is required")
	}
	if opts.Correlator == nil {
		return nil, fmt.Errorf("chain: correlator is required")
	}
	if opts.Channel == "" {
		return nil, fmt.Errorf("chain: channel is required")
	}
	return &Engine{
		gate:       opts.Gate,
		client:     opts.Client,
		correlator: opts.Correlator,
		channel:    opts.Channel,
	}, nil
}

// Run executes the steps strictly in order against a copy of the
// initial context. On failure it returns the context as mutated so far
// together with a *StepError; callers decide whether to retry or abort.
func (e *Engine) Run(ctx context.Context, steps []Step, initial map[string]any) (map[string]any, error) {
	cc := make(map[string]any, len(initial))
	for k, v := range initial {
		cc[k] = v
	}

	for i, step := range steps {
		if err := e.runStep(ctx, step, cc); err != nil {
			return cc, &StepError{Index: i, Kind: step.Kind, Err: err}
		}
	}
	return cc, nil
}

// runStep dispatches on the closed kind set.
func (e *Engine) runStep(ctx context.Context, step Step, cc map[string]any) error {
	switch step.Kind {
	case StepSendMessage:
		return e.runSend(ctx, step, cc)
	case StepWaitForResponse:
		return e.runWait(ctx, step, cc)
	case StepSearchMessages:
		return e.runSearch(ctx, step, cc)
	case StepConditional:
		return e.runConditional(ctx, step, cc)
	default:
		return fmt.Errorf("unknown step kind %q", step.Kind)
	}
}

func (e *Engine) runSend(ctx context.Context, step Step, cc map[string]any) error {
	topicName, err := stringValue(cc, step.TopicKey, "topic_key")
	if err != nil {
		return err
	}
	content, err := stringValue(cc, step.ContentKey, "content_key")
	if err != nil {
		return err
	}

	allowed, err := e.gate.DeliveryAllowed()
	if err != nil {
		return err
	}
	if !allowed {
		// Suppressed delivery is a normal outcome, not a failure.
		cc["_last_send"] = "skipped"
		return nil
	}

	if _, err := e.client.SendMessage(ctx, e.channel, topicName, content); err != nil {
		return err
	}
	cc["_last_send"] = "delivered"
	return nil
}

func (e *Engine) runWait(ctx context.Context, step Step, cc map[string]any) error {
	requestID, err := stringValue(cc, step.RequestIDKey, "request_id_key")
	if err != nil {
		return err
	}
	timeout := time.Duration(step.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	result, err := e.correlator.Wait(ctx, requestID, timeout)
	if err != nil {
		return err
	}
	if result.Status != "answered" {
		// A chain blocked on an answer cannot continue meaningfully.
		return fmt.Errorf("wait for %s ended %s", requestID, result.Status)
	}
	if step.ResultKey == "" {
		return fmt.Errorf("result_key is required for wait_for_response")
	}
	cc[step.ResultKey] = result.Answer
	return nil
}

func (e *Engine) runSearch(ctx context.Context, step Step, cc map[string]any) error {
	query, err := stringValue(cc, step.QueryKey, "query_key")
	if err != nil {
		return err
	}
	if step.ResultKey == "" {
		return fmt.Errorf("result_key is required for search_messages")
	}

	narrow := []transport.NarrowFilter{{Operator: "channel", Operand: e.channel}}
	msgs, err := e.client.SearchMessages(ctx, query, narrow, step.Limit)
	if err != nil {
		return err
	}

	results := make([]any, 0, len(msgs))
	for _, m := range msgs {
		results = append(results, map[string]any{
			"id":      m.ID,
			"sender":  m.SenderEmail,
			"topic":   m.Topic,
			"content": m.Content,
		})
	}
	cc[step.ResultKey] = results
	return nil
}

func (e *Engine) runConditional(ctx context.Context, step Step, cc map[string]any) error {
	if step.Condition == "" {
		return fmt.Errorf("condition is required for conditional_action")
	}
	verdict, err := Eval(step.Condition, cc)
	if err != nil {
		return err
	}

	action := step.FalseAction
	if verdict {
		action = step.TrueAction
	}
	if action == nil {
		// Absent branch is an explicit no-op.
		return nil
	}
	return e.runStep(ctx, *action, cc)
}

// stringValue reads a required string entry from the context.
func stringValue(cc map[string]any, key, field string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("%s is required", field)
	}
	v, ok := cc[key]
	if !ok {
		return "", fmt.Errorf("context key %q not set", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("context key %q is %T, want string", key, v)
	}
	return s, nil
}
