package agentwire

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// MessageOptions configures one Send or SendAndWait.
type MessageOptions struct {
	// Prompt is the user message text.
	Prompt string

	// Attachments are file paths supplied alongside the prompt.
	Attachments []string

	// Mode selects a server-defined interaction mode.
	Mode string

	// Timeout bounds SendAndWait. Zero waits until the context ends.
	// Ignored by Send.
	Timeout time.Duration
}

// Session is a handle to one server-side conversational session. All
// sessions of a client share its connection; a Session carries no
// transport state of its own. Methods are safe for concurrent use.
type Session struct {
	// ID is the server-tracked session identifier.
	ID string

	client *Client

	mu         sync.Mutex
	subs       []subscriber
	nextSub    int
	tools      map[string]ToolHandler
	permission PermissionHandler
	destroyed  bool
}

type subscriber struct {
	id int
	fn func(SessionEvent)
}

func newSession(id string, c *Client, cfg *SessionConfig) *Session {
	s := &Session{
		ID:     id,
		client: c,
		tools:  make(map[string]ToolHandler),
	}
	if cfg != nil {
		for _, t := range cfg.Tools {
			if t.Name != "" && t.Handler != nil {
				s.tools[t.Name] = t.Handler
			}
		}
		s.permission = cfg.OnPermissionRequest
	}
	return s
}

// On subscribes fn to this session's events and returns its unsubscribe
// function. Subscribers are invoked in registration order, events in wire
// arrival order. A subscriber panic is logged and does not disturb the
// other subscribers.
func (s *Session) On(fn func(SessionEvent)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// Send submits a prompt and returns the generated message id without
// waiting for the turn to complete. Progress arrives through On
// subscribers.
func (s *Session) Send(ctx context.Context, opts MessageOptions) (string, error) {
	if s.isDestroyed() {
		return "", ErrSessionDestroyed
	}
	messageID := uuid.NewString()
	params := sendMessageParams{
		SessionID:   s.ID,
		MessageID:   messageID,
		Prompt:      opts.Prompt,
		Attachments: opts.Attachments,
		Mode:        opts.Mode,
	}
	if err := s.client.call(ctx, methodSessionSend, params, nil); err != nil {
		return "", fmt.Errorf("agentwire: send: %w", err)
	}
	return messageID, nil
}

// SendAndWait submits a prompt and blocks until the session goes idle,
// returning the last assistant message of the turn (nil when the turn
// produced none). Only events arriving after the send began are counted,
// so a straggling idle from a previous turn cannot complete this one.
// opts.Timeout > 0 bounds the wait with ErrRequestTimeout; the send
// itself is not cancelled. A session.error during the turn fails the
// wait.
func (s *Session) SendAndWait(ctx context.Context, opts MessageOptions) (*SessionEvent, error) {
	var (
		armed  atomic.Bool
		mu     sync.Mutex
		last   *SessionEvent
		once   sync.Once
		idle   = make(chan struct{})
		failed = make(chan string, 1)
	)

	unsubscribe := s.On(func(ev SessionEvent) {
		if !armed.Load() {
			return
		}
		switch ev.Type {
		case EventAssistantMessage:
			mu.Lock()
			evCopy := ev
			last = &evCopy
			mu.Unlock()
		case EventSessionIdle:
			once.Do(func() { close(idle) })
		case EventSessionError:
			select {
			case failed <- ev.Data.Error:
			default:
			}
		}
	})
	defer unsubscribe()

	armed.Store(true)
	if _, err := s.Send(ctx, opts); err != nil {
		return nil, err
	}

	var timeout <-chan time.Time
	if opts.Timeout > 0 {
		timer := time.NewTimer(opts.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-idle:
		mu.Lock()
		defer mu.Unlock()
		return last, nil
	case msg := <-failed:
		return nil, fmt.Errorf("agentwire: session %s: %s", s.ID, msg)
	case <-timeout:
		return nil, fmt.Errorf("agentwire: waiting for session %s to go idle: %w", s.ID, ErrRequestTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetMessages fetches the session's accumulated event history from the
// server.
func (s *Session) GetMessages(ctx context.Context) ([]SessionEvent, error) {
	if s.isDestroyed() {
		return nil, ErrSessionDestroyed
	}
	var res getMessagesResult
	if err := s.client.call(ctx, methodSessionMessages, getMessagesParams{SessionID: s.ID}, &res); err != nil {
		return nil, fmt.Errorf("agentwire: get messages: %w", err)
	}
	return res.Messages, nil
}

// Abort asks the server to cancel the session's in-flight turn. The
// session stays usable.
func (s *Session) Abort(ctx context.Context) error {
	if s.isDestroyed() {
		return ErrSessionDestroyed
	}
	if err := s.client.call(ctx, methodSessionAbort, abortParams{SessionID: s.ID}, nil); err != nil {
		return fmt.Errorf("agentwire: abort session %s: %w", s.ID, err)
	}
	return nil
}

// Destroy tears the session down on the server and releases local state.
// Local cleanup happens even when the remote destroy fails, so a failed
// Destroy never leaks subscribers or handlers. Idempotent.
func (s *Session) Destroy(ctx context.Context) error {
	if s.isDestroyed() {
		return nil
	}
	err := s.client.call(ctx, methodSessionDestroy, destroySessionParams{SessionID: s.ID}, nil)

	s.clearLocal()
	s.client.removeSession(s.ID)

	if err != nil {
		return fmt.Errorf("agentwire: destroy session %s: %w", s.ID, err)
	}
	return nil
}

func (s *Session) isDestroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

// clearLocal releases subscribers and handlers. After this the session
// receives no further events and answers no further dispatches.
func (s *Session) clearLocal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed = true
	s.subs = nil
	s.tools = nil
	s.permission = nil
}

func (s *Session) toolHandler(name string) ToolHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tools[name]
}

func (s *Session) permissionHandler() PermissionHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permission
}

// dispatchEvent fans one event out to the session's subscribers. Runs on
// the client's router goroutine, so per-session wire order is preserved.
func (s *Session) dispatchEvent(ev SessionEvent) {
	s.mu.Lock()
	subs := make([]subscriber, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, sub := range subs {
		s.safeNotify(sub.fn, ev)
	}
}

func (s *Session) safeNotify(fn func(SessionEvent), ev SessionEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.client.log.Error("event subscriber panic", "session", s.ID, "type", ev.Type, "panic", r)
		}
	}()
	fn(ev)
}
