// Package listener runs the background ingestion loop for the bridge
// channel: it registers a server-side event queue, long-polls it for new
// messages, stores what agents need to see, and answers pending input
// requests. Queue expiry is recovered by re-registering; events that
// land between expiry and re-registration are lost. That window is an
// accepted at-least-once gap, logged rather than hidden.
package listener

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/topic"
	"github.com/zulandar/switchboard/internal/transport"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// State is the listener's lifecycle state.
type State string

const (
	StateStopped       State = "stopped"
	StateRegistering   State = "registering"
	StatePolling       State = "polling"
	StateReRegistering State = "re_registering"
	StateFailed        State = "failed"
)

// Defaults for registration retry backoff.
const (
	DefaultRegisterRetries = 5
	DefaultBaseBackoff     = 2 * time.Second
	DefaultMaxBackoff      = 1 * time.Minute
	DefaultPollWaitSec     = 30
)

// Service is the event listener. Its lifecycle is owned by the presence
// gate's transition hook; nothing else starts or stops it.
type Service struct {
	db              *gorm.DB
	client          transport.Client
	channel         string
	selfEmail       string
	pollWaitSec     int
	registerRetries int
	baseBackoff     time.Duration
	maxBackoff      time.Duration

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

// ServiceOpts holds parameters for creating a Service.
type ServiceOpts struct {
	DB              *gorm.DB
	Client          transport.Client
	Channel         string
	SelfEmail       string        // the bridge bot's own address, for self-message filtering
	PollWaitSec     int           // defaults to DefaultPollWaitSec
	RegisterRetries int           // defaults to DefaultRegisterRetries
	BaseBackoff     time.Duration // defaults to DefaultBaseBackoff
	MaxBackoff      time.Duration // defaults to DefaultMaxBackoff
}

// NewService creates a listener Service in the Stopped state.
func NewService(opts ServiceOpts) (*Service, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("listener: db is required")
	}
	if opts.Client == nil {
		return nil, fmt.Errorf("listener: transport client is required")
	}
	if opts.Channel == "" {
		return nil, fmt.Errorf("listener: channel is required")
	}
	if opts.SelfEmail == "" {
		return nil, fmt.Errorf("listener: self email is required")
	}
	s := &Service{
		db:              opts.DB,
		client:          opts.Client,
		channel:         opts.Channel,
		selfEmail:       opts.SelfEmail,
		pollWaitSec:     opts.PollWaitSec,
		registerRetries: opts.RegisterRetries,
		baseBackoff:     opts.BaseBackoff,
		maxBackoff:      opts.MaxBackoff,
		state:           StateStopped,
	}
	if s.pollWaitSec <= 0 {
		s.pollWaitSec = DefaultPollWaitSec
	}
	if s.registerRetries <= 0 {
		s.registerRetries = DefaultRegisterRetries
	}
	if s.baseBackoff <= 0 {
		s.baseBackoff = DefaultBaseBackoff
	}
	if s.maxBackoff <= 0 {
		s.maxBackoff = DefaultMaxBackoff
	}
	return s, nil
}

// State returns the current lifecycle state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Service) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Start launches the ingestion loop. Starting an already-running
// service is a no-op so a duplicated gate notification cannot spawn a
// second loop.
func (s *Service) Start(parent context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.state = StateRegistering
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.run(ctx)
	}()
}

// Stop cancels the loop, which bounds any in-flight long-poll, and
// waits for it to exit. Stopping a stopped service is a no-op.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// run drives the state machine until the context is cancelled or
// registration permanently fails.
func (s *Service) run(ctx context.Context) {
	defer s.setState(StateStopped)

	for {
		s.setState(StateRegistering)
		reg, err := s.registerWithRetry(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Exhausted retries or auth failure: report and park. The
			// host process stays up; the operator has to intervene.
			s.setState(StateFailed)
			log.Printf("listener: registration failed permanently: %v", err)
			s.reportFailure(err)
			<-ctx.Done()
			return
		}

		s.setState(StatePolling)
		queueID := reg.QueueID
		lastEventID := reg.LastEventID

		for {
			events, err := s.client.PollEvents(ctx, queueID, lastEventID, s.pollWaitSec)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				if errors.Is(err, transport.ErrQueueExpired) {
					// Events delivered between expiry and the new
					// registration are gone; that gap is by contract.
					s.setState(StateReRegistering)
					log.Printf("listener: queue %s expired, re-registering (events in the gap are not replayed)", queueID)
					break
				}
				if transport.IsAuth(err) {
					s.setState(StateFailed)
					log.Printf("listener: authentication failure: %v", err)
					s.reportFailure(err)
					<-ctx.Done()
					return
				}
				// Transient: back off inside Polling and try again.
				log.Printf("listener: poll error (retrying): %v", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(s.baseBackoff):
				}
				continue
			}

			for _, ev := range events {
				if ev.ID > lastEventID {
					lastEventID = ev.ID
				}
				if err := s.processEvent(ev); err != nil {
					log.Printf("listener: process event %d: %v", ev.ID, err)
				}
			}
		}
	}
}

// registerWithRetry calls queue registration with exponential backoff,
// giving up after the configured attempt count or on an auth error.
func (s *Service) registerWithRetry(ctx context.Context) (*transport.QueueRegistration, error) {
	backoff := s.baseBackoff
	var lastErr error

	for attempt := 0; attempt < s.registerRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > s.maxBackoff {
				backoff = s.maxBackoff
			}
		}

		reg, err := s.client.RegisterQueue(ctx, s.channel)
		if err == nil {
			return reg, nil
		}
		if transport.IsAuth(err) {
			return nil, err
		}
		lastErr = err
		log.Printf("listener: register attempt %d/%d failed: %v", attempt+1, s.registerRetries, err)
	}
	return nil, fmt.Errorf("listener: register queue after %d attempts: %w", s.registerRetries, lastErr)
}

// processEvent classifies and stores one drained event. Ordering is by
// arrival within the queue; processing is idempotent against
// re-delivery (dedupe by remote message ID, compare-and-set on input
// request status).
func (s *Service) processEvent(ev transport.Event) error {
	if ev.Type != "message" || ev.Message == nil {
		return nil
	}
	msg := ev.Message

	// Never ingest our own messages; answering a question would
	// otherwise loop forever.
	if msg.SenderEmail == s.selfEmail {
		return nil
	}

	parsed, ok := topic.Parse(msg.Topic)
	if !ok {
		// Foreign topic on the bridge channel; nothing for us.
		return nil
	}

	switch parsed.Kind {
	case topic.KindInput:
		return s.handleInputReply(parsed.RequestID, msg)
	case topic.KindChat:
		return s.storeInbound(msg)
	default:
		// Status topics carry agent reports we wrote ourselves via the
		// store; replies there are not ingested.
		return nil
	}
}

// handleInputReply answers the matching pending request. The status
// write is a compare-and-set: a request already answered, timed out, or
// cancelled is left untouched, which also makes re-delivery of the same
// remote message a no-op.
func (s *Service) handleInputReply(requestID string, msg *transport.Message) error {
	var req models.InputRequest
	err := s.db.First(&req, "id = ?", requestID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Unknown correlation ID: treat as ordinary chat so the reply
		// is not silently dropped.
		return s.storeInbound(msg)
	}
	if err != nil {
		return fmt.Errorf("listener: lookup request %s: %w", requestID, err)
	}

	result := s.db.Model(&models.InputRequest{}).
		Where("id = ? AND status = ?", requestID, models.InputPending).
		Updates(map[string]interface{}{
			"status":      models.InputAnswered,
			"answer":      msg.Content,
			"answered_by": msg.SenderEmail,
		})
	if result.Error != nil {
		return fmt.Errorf("listener: answer request %s: %w", requestID, result.Error)
	}
	if result.RowsAffected == 0 {
		// Terminal already; first write wins.
		return nil
	}
	return nil
}

// storeInbound persists a chat message for agent pickup. The unique
// index on remote_message_id makes re-delivery idempotent.
func (s *Service) storeInbound(msg *transport.Message) error {
	row := models.InboundEvent{
		RemoteMessageID: msg.ID,
		Topic:           msg.Topic,
		Sender:          msg.SenderEmail,
		Content:         msg.Content,
	}
	result := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if result.Error != nil {
		return fmt.Errorf("listener: store inbound %d: %w", msg.ID, result.Error)
	}
	return nil
}

// reportFailure appends a status-log row so the failure shows up in
// status queries, not just the process log.
func (s *Service) reportFailure(err error) {
	row := models.AgentStatus{
		AgentID:   "bridge",
		AgentType: "listener",
		Status:    "failed",
		Message:   err.Error(),
		CreatedAt: time.Now(),
	}
	if dbErr := s.db.Create(&row).Error; dbErr != nil {
		log.Printf("listener: report failure: %v", dbErr)
	}
}
