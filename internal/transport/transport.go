// Package transport defines the chat server client the bridge rides on
// and provides an HTTP implementation of it. The bridge treats every
// call as fallible with network or auth errors and never lets a
// transport failure crash the listener state machine.
package transport

import "context"

// Client is the chat transport the bridge subsystem depends on. The
// server model is a single shared channel partitioned by topic, with
// server-side event queues that are registered once and then long-polled;
// a registered queue can expire server-side at any time, signalled by
// ErrQueueExpired from PollEvents.
type Client interface {
	// SendMessage posts to a topic on the named channel and returns the
	// server-assigned message ID.
	SendMessage(ctx context.Context, channel, topic, content string) (int64, error)

	// RegisterQueue registers a server-side event queue restricted to
	// message events on the named channel and returns its handle plus
	// the initial cursor.
	RegisterQueue(ctx context.Context, channel string) (*QueueRegistration, error)

	// PollEvents long-polls the queue for events after lastEventID,
	// blocking server-side up to waitSeconds. A zero-length result with
	// a nil error is a normal poll timeout. Returns ErrQueueExpired when
	// the queue handle is no longer valid.
	PollEvents(ctx context.Context, queueID string, lastEventID int64, waitSeconds int) ([]Event, error)

	// SearchMessages runs a server-side search scoped by the narrow
	// filters and returns the newest matches first.
	SearchMessages(ctx context.Context, query string, narrow []NarrowFilter, limit int) ([]Message, error)

	// ListTopics returns the recent topic names on the named channel.
	ListTopics(ctx context.Context, channel string) ([]string, error)

	// UploadFile uploads content under the given filename and returns
	// the server path usable inside message content.
	UploadFile(ctx context.Context, filename string, content []byte) (string, error)
}

// QueueRegistration is the handle returned by RegisterQueue.
type QueueRegistration struct {
	QueueID     string
	LastEventID int64
}

// Event is one entry drained from a registered event queue. Only
// message events carry a Message.
type Event struct {
	ID      int64
	Type    string
	Message *Message
}

// Message is a chat message as seen on the wire.
type Message struct {
	ID          int64
	SenderEmail string
	SenderName  string
	Channel     string
	Topic       string
	Content     string
	Timestamp   int64
}

// NarrowFilter restricts a search or registration to a slice of the
// server's message space, e.g. {"channel", "agents"} or {"topic", t}.
type NarrowFilter struct {
	Operator string `json:"operator"`
	Operand  string `json:"operand"`
}
