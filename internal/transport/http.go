package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// maxRetries bounds retry attempts for transient failures.
	maxRetries = 3
	// retryBackoff is the initial backoff between retries, doubled each
	// attempt.
	retryBackoff = 1 * time.Second
	// pollSlack pads the client-side poll deadline past the requested
	// wait bound so a well-behaved server answers first.
	pollSlack = 5 * time.Second
)

// doer abstracts *http.Client for test injection.
type doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPClient implements Client against a Zulip-compatible REST API.
// Authentication is HTTP basic auth with an email/API-key pair.
type HTTPClient struct {
	baseURL string
	email   string
	apiKey  string
	http    doer
	backoff time.Duration
	slack   time.Duration
}

// HTTPClientOpts holds parameters for creating an HTTPClient.
type HTTPClientOpts struct {
	BaseURL string // e.g. https://chat.example.com
	Email   string
	APIKey  string
	// For testing: inject a mock HTTP doer instead of a real client.
	Doer doer
}

// NewHTTPClient creates an HTTPClient.
func NewHTTPClient(opts HTTPClientOpts) (*HTTPClient, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("transport: base URL is required")
	}
	if opts.Email == "" || opts.APIKey == "" {
		return nil, fmt.Errorf("transport: email and api key are required")
	}
	d := opts.Doer
	if d == nil {
		d = &http.Client{Timeout: 90 * time.Second}
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		email:   opts.Email,
		apiKey:  opts.APIKey,
		http:    d,
		backoff: retryBackoff,
		slack:   pollSlack,
	}, nil
}

// apiResponse is the envelope every endpoint returns.
type apiResponse struct {
	Result string `json:"result"`
	Msg    string `json:"msg"`
	Code   string `json:"code"`

	ID          int64         `json:"id"`       // send message / stream id
	QueueID     string        `json:"queue_id"` // register
	LastEventID int64         `json:"last_event_id"`
	Events      []wireEvent   `json:"events"`
	Messages    []wireMessage `json:"messages"` // search
	Topics      []wireTopic   `json:"topics"`
	URI         string        `json:"uri"` // upload
}

type wireTopic struct {
	Name string `json:"name"`
}

type wireEvent struct {
	ID      int64        `json:"id"`
	Type    string       `json:"type"`
	Message *wireMessage `json:"message"`
}

type wireMessage struct {
	ID          int64  `json:"id"`
	SenderEmail string `json:"sender_email"`
	SenderName  string `json:"sender_full_name"`
	Channel     string `json:"display_recipient"`
	Topic       string `json:"subject"`
	Content     string `json:"content"`
	Timestamp   int64  `json:"timestamp"`
}

// SendMessage posts a channel message and returns its server ID.
func (c *HTTPClient) SendMessage(ctx context.Context, channel, topic, content string) (int64, error) {
	form := url.Values{
		"type":    {"stream"},
		"to":      {channel},
		"topic":   {topic},
		"content": {content},
	}
	resp, err := c.call(ctx, http.MethodPost, "/api/v1/messages", form)
	if err != nil {
		return 0, err
	}
	return resp.ID, nil
}

// RegisterQueue registers an event queue narrowed to message events on
// one channel. Narrowing happens server-side so events from the rest of
// the server never reach the bridge.
func (c *HTTPClient) RegisterQueue(ctx context.Context, channel string) (*QueueRegistration, error) {
	narrow, err := json.Marshal([][]string{{"channel", channel}})
	if err != nil {
		return nil, fmt.Errorf("transport: marshal narrow: %w", err)
	}
	form := url.Values{
		"event_types": {`["message"]`},
		"narrow":      {string(narrow)},
	}
	resp, err := c.call(ctx, http.MethodPost, "/api/v1/register", form)
	if err != nil {
		return nil, err
	}
	return &QueueRegistration{QueueID: resp.QueueID, LastEventID: resp.LastEventID}, nil
}

// PollEvents long-polls the queue for up to waitSeconds plus slack. The
// wait bound is enforced client-side with a deadline on the request; a
// poll that runs out the bound with nothing to report is an empty
// result, not an error.
func (c *HTTPClient) PollEvents(ctx context.Context, queueID string, lastEventID int64, waitSeconds int) ([]Event, error) {
	pollCtx := ctx
	if waitSeconds > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, time.Duration(waitSeconds)*time.Second+c.slack)
		defer cancel()
	}

	q := url.Values{
		"queue_id":      {queueID},
		"last_event_id": {strconv.FormatInt(lastEventID, 10)},
		"dont_block":    {"false"},
	}
	resp, err := c.call(pollCtx, http.MethodGet, "/api/v1/events?"+q.Encode(), nil)
	if err != nil {
		// Distinguish the wait bound elapsing from the caller cancelling
		// the poll outright (e.g. the listener stopping).
		if pollCtx.Err() != nil && ctx.Err() == nil {
			return nil, nil
		}
		return nil, err
	}

	events := make([]Event, 0, len(resp.Events))
	for _, we := range resp.Events {
		ev := Event{ID: we.ID, Type: we.Type}
		if we.Message != nil {
			m := toMessage(*we.Message)
			ev.Message = &m
		}
		events = append(events, ev)
	}
	return events, nil
}

// SearchMessages runs a server-side narrow search.
func (c *HTTPClient) SearchMessages(ctx context.Context, query string, narrow []NarrowFilter, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	filters := narrow
	if query != "" {
		filters = append(append([]NarrowFilter{}, narrow...), NarrowFilter{Operator: "search", Operand: query})
	}
	nb, err := json.Marshal(filters)
	if err != nil {
		return nil, fmt.Errorf("transport: marshal narrow: %w", err)
	}
	q := url.Values{
		"anchor":     {"newest"},
		"num_before": {strconv.Itoa(limit)},
		"num_after":  {"0"},
		"narrow":     {string(nb)},
	}
	resp, err := c.call(ctx, http.MethodGet, "/api/v1/messages?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	msgs := make([]Message, 0, len(resp.Messages))
	for _, wm := range resp.Messages {
		msgs = append(msgs, toMessage(wm))
	}
	return msgs, nil
}

// ListTopics returns recent topics on a channel. The channel is resolved
// by name via the server's stream ID lookup.
func (c *HTTPClient) ListTopics(ctx context.Context, channel string) ([]string, error) {
	q := url.Values{"stream": {channel}}
	idResp, err := c.call(ctx, http.MethodGet, "/api/v1/get_stream_id?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.call(ctx, http.MethodGet, fmt.Sprintf("/api/v1/users/me/%d/topics", idResp.ID), nil)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(resp.Topics))
	for _, t := range resp.Topics {
		names = append(names, t.Name)
	}
	return names, nil
}

// UploadFile uploads a file and returns the server path for linking.
func (c *HTTPClient) UploadFile(ctx context.Context, filename string, content []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("transport: build upload: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return "", fmt.Errorf("transport: build upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("transport: build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/user_uploads", &buf)
	if err != nil {
		return "", fmt.Errorf("transport: upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.SetBasicAuth(c.email, c.apiKey)

	resp, err := c.do("upload", req)
	if err != nil {
		return "", err
	}
	return resp.URI, nil
}

// call issues one API request with bounded retry on transient failures.
// Form may be nil for GET requests with query-encoded paths.
func (c *HTTPClient) call(ctx context.Context, method, path string, form url.Values) (*apiResponse, error) {
	var lastErr error
	backoff := c.backoff

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, &Error{Op: path, Err: ctx.Err()}
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		var body io.Reader
		if form != nil {
			body = strings.NewReader(form.Encode())
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return nil, &Error{Op: path, Err: err}
		}
		if form != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
		req.SetBasicAuth(c.email, c.apiKey)

		resp, err := c.do(path, req)
		if err != nil {
			if IsTransient(err) {
				lastErr = err
				continue
			}
			return nil, err
		}
		return resp, nil
	}
	return nil, lastErr
}

// do executes a single request and decodes the API envelope into a
// typed result or error. Queue expiry is detected here by error code.
func (c *HTTPClient) do(op string, req *http.Request) (*apiResponse, error) {
	httpResp, err := c.http.Do(req)
	if err != nil {
		// Context cancellation is not retryable; the listener uses it
		// to bound in-flight polls on stop.
		if req.Context().Err() != nil {
			return nil, &Error{Op: op, Err: req.Context().Err()}
		}
		return nil, &Error{Op: op, Transient: true, Err: err}
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &Error{Op: op, Transient: true, Err: err}
	}

	var api apiResponse
	if err := json.Unmarshal(data, &api); err != nil {
		return nil, &Error{Op: op, Status: httpResp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}

	if api.Result == "error" || httpResp.StatusCode >= 400 {
		if api.Code == "BAD_EVENT_QUEUE_ID" {
			return nil, ErrQueueExpired
		}
		return nil, &Error{
			Op:        op,
			Status:    httpResp.StatusCode,
			Transient: httpResp.StatusCode >= 500 || httpResp.StatusCode == 429,
			Err:       fmt.Errorf("%s", api.Msg),
		}
	}
	return &api, nil
}

func toMessage(wm wireMessage) Message {
	return Message{
		ID:          wm.ID,
		SenderEmail: wm.SenderEmail,
		SenderName:  wm.SenderName,
		Channel:     wm.Channel,
		Topic:       wm.Topic,
		Content:     wm.Content,
		Timestamp:   wm.Timestamp,
	}
}
