package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"
)

// scriptedDoer returns canned responses in order, recording each request.
type scriptedDoer struct {
	responses []*http.Response
	errs      []error
	requests  []*http.Request
}

func (d *scriptedDoer) Do(req *http.Request) (*http.Response, error) {
	d.requests = append(d.requests, req)
	i := len(d.requests) - 1
	if i < len(d.errs) && d.errs[i] != nil {
		return nil, d.errs[i]
	}
	if i < len(d.responses) {
		return d.responses[i], nil
	}
	return jsonResponse(200, `{"result":"success"}`), nil
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func newTestClient(t *testing.T, d *scriptedDoer) *HTTPClient {
	t.Helper()
	c, err := NewHTTPClient(HTTPClientOpts{
		BaseURL: "https://chat.example.com",
		Email:   "bot@example.com",
		APIKey:  "key",
		Doer:    d,
	})
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	c.backoff = time.Millisecond // keep retry tests fast
	return c
}

func TestNewHTTPClient_Validation(t *testing.T) {
	if _, err := NewHTTPClient(HTTPClientOpts{Email: "a", APIKey: "b"}); err == nil {
		t.Error("expected error for missing base URL")
	}
	if _, err := NewHTTPClient(HTTPClientOpts{BaseURL: "https://x"}); err == nil {
		t.Error("expected error for missing credentials")
	}
}

func TestSendMessage(t *testing.T) {
	d := &scriptedDoer{responses: []*http.Response{
		jsonResponse(200, `{"result":"success","id":4242}`),
	}}
	c := newTestClient(t, d)

	id, err := c.SendMessage(context.Background(), "agents", "chat/myapp/builder/s1", "hello")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if id != 4242 {
		t.Errorf("id = %d, want 4242", id)
	}

	req := d.requests[0]
	if req.Method != http.MethodPost || req.URL.Path != "/api/v1/messages" {
		t.Errorf("request = %s %s", req.Method, req.URL.Path)
	}
	user, pass, ok := req.BasicAuth()
	if !ok || user != "bot@example.com" || pass != "key" {
		t.Errorf("basic auth = %q/%q ok=%v", user, pass, ok)
	}
	body, _ := io.ReadAll(req.Body)
	for _, want := range []string{"type=stream", "to=agents", "content=hello"} {
		if !bytes.Contains(body, []byte(want)) {
			t.Errorf("form body missing %q: %s", want, body)
		}
	}
}

func TestRegisterQueue(t *testing.T) {
	d := &scriptedDoer{responses: []*http.Response{
		jsonResponse(200, `{"result":"success","queue_id":"q-77","last_event_id":-1}`),
	}}
	c := newTestClient(t, d)

	reg, err := c.RegisterQueue(context.Background(), "agents")
	if err != nil {
		t.Fatalf("RegisterQueue: %v", err)
	}
	if reg.QueueID != "q-77" || reg.LastEventID != -1 {
		t.Errorf("registration = %+v", reg)
	}

	body, _ := io.ReadAll(d.requests[0].Body)
	if !bytes.Contains(body, []byte("event_types")) || !bytes.Contains(body, []byte("narrow")) {
		t.Errorf("register form missing narrow: %s", body)
	}
}

func TestPollEvents_DecodesMessages(t *testing.T) {
	d := &scriptedDoer{responses: []*http.Response{
		jsonResponse(200, `{"result":"success","events":[
			{"id":7,"type":"message","message":{"id":900,"sender_email":"alice@example.com","subject":"chat/myapp/b/s1","content":"hi"}},
			{"id":8,"type":"heartbeat"}
		]}`),
	}}
	c := newTestClient(t, d)

	events, err := c.PollEvents(context.Background(), "q-77", -1, 30)
	if err != nil {
		t.Fatalf("PollEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if events[0].ID != 7 || events[0].Message == nil || events[0].Message.Content != "hi" {
		t.Errorf("event[0] = %+v", events[0])
	}
	if events[0].Message.Topic != "chat/myapp/b/s1" {
		t.Errorf("topic = %q", events[0].Message.Topic)
	}
	if events[1].Message != nil {
		t.Error("heartbeat event should carry no message")
	}
}

func TestPollEvents_QueueExpiry(t *testing.T) {
	d := &scriptedDoer{responses: []*http.Response{
		jsonResponse(400, `{"result":"error","code":"BAD_EVENT_QUEUE_ID","msg":"Bad event queue id"}`),
	}}
	c := newTestClient(t, d)

	_, err := c.PollEvents(context.Background(), "q-stale", 10, 30)
	if !errors.Is(err, ErrQueueExpired) {
		t.Fatalf("err = %v, want ErrQueueExpired", err)
	}
	if len(d.requests) != 1 {
		t.Errorf("requests = %d, want 1 (expiry is not retried here)", len(d.requests))
	}
}

// blockingDoer parks until the request context ends, like a server
// holding a long poll open indefinitely.
type blockingDoer struct{}

func (d *blockingDoer) Do(req *http.Request) (*http.Response, error) {
	<-req.Context().Done()
	return nil, req.Context().Err()
}

func TestPollEvents_WaitBoundIsEnforced(t *testing.T) {
	c, err := NewHTTPClient(HTTPClientOpts{
		BaseURL: "https://chat.example.com",
		Email:   "bot@example.com",
		APIKey:  "key",
		Doer:    &blockingDoer{},
	})
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	c.slack = 25 * time.Millisecond

	start := time.Now()
	events, err := c.PollEvents(context.Background(), "q-slow", -1, 1)
	if err != nil {
		t.Fatalf("PollEvents: %v (an exhausted wait bound is an empty poll)", err)
	}
	if len(events) != 0 {
		t.Errorf("events = %v, want none", events)
	}
	elapsed := time.Since(start)
	if elapsed < time.Second || elapsed > 3*time.Second {
		t.Errorf("poll returned after %s, want about the 1s wait bound", elapsed)
	}
}

func TestPollEvents_CallerCancelIsAnError(t *testing.T) {
	c, err := NewHTTPClient(HTTPClientOpts{
		BaseURL: "https://chat.example.com",
		Email:   "bot@example.com",
		APIKey:  "key",
		Doer:    &blockingDoer{},
	})
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	if _, err := c.PollEvents(ctx, "q-slow", -1, 30); err == nil {
		t.Fatal("expected an error when the caller cancels mid-poll")
	}
}

func TestCall_RetriesTransientThenSucceeds(t *testing.T) {
	d := &scriptedDoer{responses: []*http.Response{
		jsonResponse(500, `{"result":"error","msg":"boom"}`),
		jsonResponse(200, `{"result":"success","id":1}`),
	}}
	c := newTestClient(t, d)

	id, err := c.SendMessage(context.Background(), "agents", "t", "x")
	if err != nil {
		t.Fatalf("SendMessage after retry: %v", err)
	}
	if id != 1 {
		t.Errorf("id = %d, want 1", id)
	}
	if len(d.requests) != 2 {
		t.Errorf("requests = %d, want 2", len(d.requests))
	}
}

func TestCall_GivesUpAfterMaxRetries(t *testing.T) {
	d := &scriptedDoer{responses: []*http.Response{
		jsonResponse(503, `{"result":"error","msg":"down"}`),
		jsonResponse(503, `{"result":"error","msg":"down"}`),
		jsonResponse(503, `{"result":"error","msg":"down"}`),
	}}
	c := newTestClient(t, d)

	_, err := c.SendMessage(context.Background(), "agents", "t", "x")
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if !IsTransient(err) {
		t.Errorf("err = %v, want transient", err)
	}
	if len(d.requests) != maxRetries {
		t.Errorf("requests = %d, want %d", len(d.requests), maxRetries)
	}
}

func TestCall_AuthErrorNotRetried(t *testing.T) {
	d := &scriptedDoer{responses: []*http.Response{
		jsonResponse(401, `{"result":"error","msg":"Invalid API key"}`),
	}}
	c := newTestClient(t, d)

	_, err := c.SendMessage(context.Background(), "agents", "t", "x")
	if err == nil {
		t.Fatal("expected auth error")
	}
	if !IsAuth(err) {
		t.Errorf("err = %v, want auth", err)
	}
	if IsTransient(err) {
		t.Errorf("auth error should not be transient: %v", err)
	}
	if len(d.requests) != 1 {
		t.Errorf("requests = %d, want 1", len(d.requests))
	}
}

func TestCall_NetworkErrorIsTransient(t *testing.T) {
	d := &scriptedDoer{
		errs: []error{fmt.Errorf("connection refused")},
		responses: []*http.Response{
			nil,
			jsonResponse(200, `{"result":"success","id":9}`),
		},
	}
	c := newTestClient(t, d)

	id, err := c.SendMessage(context.Background(), "agents", "t", "x")
	if err != nil {
		t.Fatalf("SendMessage after network retry: %v", err)
	}
	if id != 9 {
		t.Errorf("id = %d, want 9", id)
	}
}

func TestSearchMessages(t *testing.T) {
	d := &scriptedDoer{responses: []*http.Response{
		jsonResponse(200, `{"result":"success","messages":[
			{"id":1,"sender_email":"alice@example.com","subject":"chat/a/b/c","content":"deploy done"}
		]}`),
	}}
	c := newTestClient(t, d)

	msgs, err := c.SearchMessages(context.Background(), "deploy",
		[]NarrowFilter{{Operator: "channel", Operand: "agents"}}, 10)
	if err != nil {
		t.Fatalf("SearchMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "deploy done" {
		t.Errorf("msgs = %+v", msgs)
	}

	q := d.requests[0].URL.Query()
	if q.Get("num_before") != "10" {
		t.Errorf("num_before = %q, want 10", q.Get("num_before"))
	}
	if !bytes.Contains([]byte(q.Get("narrow")), []byte("search")) {
		t.Errorf("narrow = %q, want search operator", q.Get("narrow"))
	}
}

func TestListTopics(t *testing.T) {
	d := &scriptedDoer{responses: []*http.Response{
		jsonResponse(200, `{"result":"success","id":55}`),
		jsonResponse(200, `{"result":"success","topics":[{"name":"chat/a/b/c"},{"name":"status/builder"}]}`),
	}}
	c := newTestClient(t, d)

	topics, err := c.ListTopics(context.Background(), "agents")
	if err != nil {
		t.Fatalf("ListTopics: %v", err)
	}
	if len(topics) != 2 || topics[0] != "chat/a/b/c" {
		t.Errorf("topics = %v", topics)
	}
	if got := d.requests[1].URL.Path; got != "/api/v1/users/me/55/topics" {
		t.Errorf("second request path = %q", got)
	}
}

func TestUploadFile(t *testing.T) {
	d := &scriptedDoer{responses: []*http.Response{
		jsonResponse(200, `{"result":"success","uri":"/user_uploads/1/log.txt"}`),
	}}
	c := newTestClient(t, d)

	uri, err := c.UploadFile(context.Background(), "log.txt", []byte("contents"))
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if uri != "/user_uploads/1/log.txt" {
		t.Errorf("uri = %q", uri)
	}
	ct := d.requests[0].Header.Get("Content-Type")
	if !bytes.Contains([]byte(ct), []byte("multipart/form-data")) {
		t.Errorf("Content-Type = %q, want multipart", ct)
	}
}
