package transport

import (
	"context"
	"fmt"
	"sync"
)

// SentMessage records one SendMessage call on the mock.
type SentMessage struct {
	Channel string
	Topic   string
	Content string
}

// PollResult scripts one PollEvents return on the mock: either a batch
// of events or an error (e.g. ErrQueueExpired).
type PollResult struct {
	Events []Event
	Err    error
}

// Mock implements Client for testing. Sent messages are recorded;
// poll results are consumed from a script in order, with an empty batch
// returned once the script is exhausted.
type Mock struct {
	mu            sync.Mutex
	sent          []SentMessage
	nextMessageID int64
	registrations int
	registerErrs  []error // consumed in order; nil entries succeed
	polls         []PollResult
	searchResults []Message
	searchErr     error
	topics        []string
	pollWaiters   chan struct{}
}

// NewMock creates a Mock transport.
func NewMock() *Mock {
	return &Mock{nextMessageID: 1000, pollWaiters: make(chan struct{}, 100)}
}

// SendMessage records the message and returns a synthetic ID.
func (m *Mock) SendMessage(ctx context.Context, channel, topic, content string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextMessageID++
	m.sent = append(m.sent, SentMessage{Channel: channel, Topic: topic, Content: content})
	return m.nextMessageID, nil
}

// Sent returns a copy of all recorded messages.
func (m *Mock) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.sent...)
}

// QueueRegisterError scripts the next RegisterQueue calls; nil entries
// succeed.
func (m *Mock) QueueRegisterError(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registerErrs = append(m.registerErrs, errs...)
}

// Registrations returns how many times RegisterQueue was called.
func (m *Mock) Registrations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registrations
}

// RegisterQueue returns a fresh queue handle, or the next scripted error.
func (m *Mock) RegisterQueue(ctx context.Context, channel string) (*QueueRegistration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registrations++
	if len(m.registerErrs) > 0 {
		err := m.registerErrs[0]
		m.registerErrs = m.registerErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &QueueRegistration{
		QueueID:     fmt.Sprintf("mock-queue-%d", m.registrations),
		LastEventID: -1,
	}, nil
}

// QueuePoll scripts poll results, consumed in order.
func (m *Mock) QueuePoll(results ...PollResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.polls = append(m.polls, results...)
	for range results {
		select {
		case m.pollWaiters <- struct{}{}:
		default:
		}
	}
}

// PollEvents returns the next scripted result. With an exhausted script
// it blocks briefly on the context like a real long-poll, then returns
// an empty batch.
func (m *Mock) PollEvents(ctx context.Context, queueID string, lastEventID int64, waitSeconds int) ([]Event, error) {
	m.mu.Lock()
	if len(m.polls) > 0 {
		r := m.polls[0]
		m.polls = m.polls[1:]
		m.mu.Unlock()
		return r.Events, r.Err
	}
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, &Error{Op: "poll", Err: ctx.Err()}
	case <-m.pollWaiters:
		return m.PollEvents(ctx, queueID, lastEventID, waitSeconds)
	}
}

// SetSearchResults scripts SearchMessages.
func (m *Mock) SetSearchResults(msgs []Message, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchResults = msgs
	m.searchErr = err
}

// SearchMessages returns the scripted results.
func (m *Mock) SearchMessages(ctx context.Context, query string, narrow []NarrowFilter, limit int) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	return append([]Message(nil), m.searchResults...), nil
}

// SetTopics scripts ListTopics.
func (m *Mock) SetTopics(topics []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.topics = topics
}

// ListTopics returns the scripted topics.
func (m *Mock) ListTopics(ctx context.Context, channel string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.topics...), nil
}

// UploadFile returns a synthetic server path.
func (m *Mock) UploadFile(ctx context.Context, filename string, content []byte) (string, error) {
	return "/user_uploads/mock/" + filename, nil
}
