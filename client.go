package agentwire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/dmora/agentwire/internal/rpc"
)

// Client supervises one agent server process (or attaches to a running
// one) and multiplexes sessions over a single bidirectional JSON-RPC
// connection. The connection is the single serialization point for the
// wire; all sessions created under one Client share it by reference.
type Client struct {
	opts   clientOptions
	target TransportConfig
	log    *slog.Logger

	// lifeMu serializes Start, Stop, ForceStop and crash recovery: at
	// most one lifecycle sequence runs at a time. starting additionally
	// rejects a second Start while one is in flight (ErrAlreadyStarting —
	// concurrent starts fail rather than coalesce).
	lifeMu   sync.Mutex
	starting atomic.Bool

	mu       sync.Mutex // guards state, conn, sup, gen, stopping
	state    ConnectionState
	conn     *rpc.Conn
	sup      *supervisor
	gen      int // connection generation; stale exit callbacks are ignored
	stopping bool

	sessMu   sync.Mutex
	sessions map[string]*Session
}

// SessionConfig configures CreateSession and ResumeSession.
type SessionConfig struct {
	// SessionID requests a specific id on create. Empty lets the server
	// assign one.
	SessionID string

	// Model selects the model for the session.
	Model string

	// Tools are client-side tools the server may invoke via tool.call.
	Tools []Tool

	// OnPermissionRequest decides server permission requests. When nil,
	// every request resolves to the fixed denial.
	OnPermissionRequest PermissionHandler
}

// NewClient constructs a client. Configuration errors — an invalid remote
// target, an out-of-range port, or a remote target combined with an
// executable path or transport-mode override — surface here, before any
// process is spawned.
func NewClient(opts ...Option) (*Client, error) {
	o := resolveOptions(opts...)
	target, err := resolveTarget(o)
	if err != nil {
		return nil, err
	}
	return &Client{
		opts:     o,
		target:   target,
		log:      o.log.With("component", "client"),
		state:    StateDisconnected,
		sessions: make(map[string]*Session),
	}, nil
}

// Target returns the resolved transport configuration.
func (c *Client) Target() TransportConfig {
	return c.target
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start spawns the server (unless the target is externally managed),
// opens the connection, and performs the version handshake. Returns nil
// when already connected. A Start issued while another is in flight
// fails with ErrAlreadyStarting.
func (c *Client) Start(ctx context.Context) error {
	if !c.starting.CompareAndSwap(false, true) {
		return ErrAlreadyStarting
	}
	defer c.starting.Store(false)

	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.stopping = false
	c.mu.Unlock()

	if err := c.connect(ctx); err != nil {
		c.mu.Lock()
		c.state = StateError
		c.mu.Unlock()
		return err
	}
	return nil
}

// connect establishes the transport, wires the connection, and runs the
// handshake. Caller holds lifeMu.
func (c *Client) connect(ctx context.Context) error {
	hsCtx := ctx
	if c.opts.startTimeout > 0 {
		var cancel context.CancelFunc
		hsCtx, cancel = context.WithTimeout(ctx, c.opts.startTimeout)
		defer cancel()
	}

	var (
		transport *rpc.Transport
		sup       *supervisor
		err       error
	)
	if c.target.External() {
		addr := net.JoinHostPort(c.target.Host, strconv.Itoa(c.target.Port))
		dialer := &net.Dialer{Timeout: c.opts.dialTimeout}
		conn, dialErr := dialer.DialContext(hsCtx, "tcp", addr)
		if dialErr != nil {
			return fmt.Errorf("agentwire: connect %s: %w", addr, dialErr)
		}
		transport = rpc.NewSocketTransport(conn, c.opts.maxFrameSize)
	} else {
		sup = newSupervisor(c.target, c.opts)
		transport, err = sup.start(hsCtx)
		if err != nil {
			return err
		}
	}

	conn := rpc.NewConn(transport, rpc.Config{
		OnParseError: func(_ []byte, err error) {
			c.log.Warn("malformed frame from server", "err", err)
		},
	})

	events := make(chan sessionEventParams, c.opts.eventQueue)
	conn.OnNotification(methodSessionEvent, func(params json.RawMessage) {
		c.routeEvent(events, params)
	})
	conn.OnRequest(methodToolCall, c.handleToolCall)
	conn.OnRequest(methodPermissionRequest, c.handlePermissionRequest)

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.conn = conn
	c.sup = sup
	c.mu.Unlock()

	// Router goroutine: drains the bounded event queue so subscriber
	// fan-out never runs on the read loop, while wire order is preserved
	// per session.
	var routerDone sync.WaitGroup
	routerDone.Add(1)
	go func() {
		defer routerDone.Done()
		for ev := range events {
			c.dispatchEvent(ev)
		}
	}()

	go func() {
		conn.ReadLoop()
		close(events)
		routerDone.Wait()
		c.connLost(gen, conn.Err())
	}()

	if err := c.handshake(hsCtx, conn); err != nil {
		_ = conn.Close()
		if sup != nil {
			sup.forceStop()
		}
		return err
	}

	c.mu.Lock()
	c.state = StateConnected
	c.mu.Unlock()
	c.log.Info("connected", "mode", c.target.Mode)
	return nil
}

// handshake verifies protocol compatibility via ping.
func (c *Client) handshake(ctx context.Context, conn *rpc.Conn) error {
	var res pingResult
	if err := conn.Call(ctx, methodPing, pingParams{Message: clientName + "/" + clientVersion}, &res); err != nil {
		return fmt.Errorf("agentwire: handshake: %w", err)
	}
	if res.ProtocolVersion == nil {
		return fmt.Errorf("%w: client expects version %d, server reports none", ErrProtocolMismatch, protocolVersion)
	}
	if *res.ProtocolVersion != protocolVersion {
		return fmt.Errorf("%w: client expects version %d, server reports %d", ErrProtocolMismatch, protocolVersion, *res.ProtocolVersion)
	}
	return nil
}

// Stop destroys live sessions, closes the connection cleanly, and asks a
// spawned server to exit (grace period, then forced termination). The
// client ends Disconnected. Per-session destroy failures are joined into
// the returned error; shutdown continues past them.
func (c *Client) Stop(ctx context.Context) error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	c.mu.Lock()
	if c.conn == nil && c.state != StateConnecting {
		c.state = StateDisconnected
		c.mu.Unlock()
		return nil
	}
	c.stopping = true
	conn := c.conn
	sup := c.sup
	c.mu.Unlock()

	var errs []error
	for _, s := range c.snapshotSessions() {
		if err := s.Destroy(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if conn != nil {
		_ = conn.Close()
	}
	if sup != nil {
		if err := sup.stop(ctx); err != nil {
			// Exit status after SIGTERM/SIGKILL is expected, not a fault.
			c.log.Debug("server exit", "err", err)
		}
	}

	c.mu.Lock()
	c.conn = nil
	c.sup = nil
	c.state = StateDisconnected
	c.mu.Unlock()
	return errors.Join(errs...)
}

// ForceStop terminates immediately: sessions are cleared locally without
// destroy requests, the connection is closed, and a spawned server is
// killed. Always leaves the client Disconnected.
func (c *Client) ForceStop() {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	c.mu.Lock()
	c.stopping = true
	conn := c.conn
	sup := c.sup
	c.mu.Unlock()

	for _, s := range c.snapshotSessions() {
		s.clearLocal()
	}
	c.sessMu.Lock()
	c.sessions = make(map[string]*Session)
	c.sessMu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if sup != nil {
		sup.forceStop()
	}

	c.mu.Lock()
	c.conn = nil
	c.sup = nil
	c.state = StateDisconnected
	c.mu.Unlock()
}

// connLost handles a connection that ended outside Stop/ForceStop. All
// requests pending at close time have already been failed once by the
// read loop's exit; they are never replayed. When the target is a spawned
// server and auto-restart is enabled, the process is re-spawned and the
// connection re-established; otherwise the client enters Error and every
// live session receives a terminal session.error event.
func (c *Client) connLost(gen int, readErr error) {
	c.mu.Lock()
	if gen != c.gen || c.stopping {
		c.mu.Unlock()
		return
	}
	wasConnected := c.state == StateConnected
	sup := c.sup
	c.mu.Unlock()

	if !wasConnected {
		return // the start path reports its own failures
	}

	if sup != nil {
		<-sup.exited() // reap before any restart
	}
	c.log.Warn("connection lost", "err", readErr)

	if !c.target.External() && c.opts.autoRestart {
		if err := c.restart(); err != nil {
			c.log.Error("auto-restart failed", "err", err)
		} else {
			c.log.Info("auto-restart succeeded")
			// The connection is back, but any turn that was in flight
			// died with the old process.
			c.broadcastError("agent connection lost; restarted")
			return
		}
	}

	c.mu.Lock()
	c.state = StateError
	c.mu.Unlock()
	c.broadcastError("agent connection lost unexpectedly")
}

func (c *Client) restart() error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	c.mu.Lock()
	if c.stopping {
		c.mu.Unlock()
		return errors.New("agentwire: stopped during restart")
	}
	c.state = StateConnecting
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.startTimeout)
	defer cancel()
	return c.connect(ctx)
}

// broadcastError delivers a terminal session.error event to every live
// session.
func (c *Client) broadcastError(msg string) {
	ev := SessionEvent{Type: EventSessionError, Data: EventData{Error: msg}}
	for _, s := range c.snapshotSessions() {
		s.dispatchEvent(ev)
	}
}

// Ping round-trips a message to the server.
func (c *Client) Ping(ctx context.Context, message string) error {
	return c.call(ctx, methodPing, pingParams{Message: message}, nil)
}

// CreateSession creates a new session over the shared connection and
// registers the supplied tool and permission handlers on it. When the
// client is not connected and auto-start is enabled, Start runs
// implicitly.
func (c *Client) CreateSession(ctx context.Context, cfg *SessionConfig) (*Session, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	params := createSessionParams{}
	if cfg != nil {
		params.SessionID = cfg.SessionID
		params.Model = cfg.Model
		params.Tools = toolDefinitions(cfg.Tools)
		params.RequestPermission = cfg.OnPermissionRequest != nil
	}

	var res createSessionResult
	if err := c.call(ctx, methodSessionCreate, params, &res); err != nil {
		return nil, fmt.Errorf("agentwire: create session: %w", err)
	}
	if res.SessionID == "" {
		return nil, errors.New("agentwire: create session: server response missing sessionId")
	}
	return c.registerSession(res.SessionID, cfg)
}

// ResumeSession attaches a new Session to an existing server-side session
// id, re-registering handlers — handlers are not persisted server-side
// across client restarts.
func (c *Client) ResumeSession(ctx context.Context, sessionID string, cfg *SessionConfig) (*Session, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	params := resumeSessionParams{SessionID: sessionID}
	if cfg != nil {
		params.Tools = toolDefinitions(cfg.Tools)
		params.RequestPermission = cfg.OnPermissionRequest != nil
	}

	var res resumeSessionResult
	if err := c.call(ctx, methodSessionResume, params, &res); err != nil {
		return nil, fmt.Errorf("agentwire: resume session %s: %w", sessionID, err)
	}
	id := res.SessionID
	if id == "" {
		id = sessionID
	}
	return c.registerSession(id, cfg)
}

func (c *Client) ensureConnected(ctx context.Context) error {
	if c.State() == StateConnected {
		return nil
	}
	if !c.opts.autoStart {
		return ErrNotConnected
	}
	return c.Start(ctx)
}

// call issues one outbound request over the shared connection. The
// connection must be Connected; requests are never attempted while
// Disconnected or Error.
func (c *Client) call(ctx context.Context, method string, params, result any) error {
	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()
	if state != StateConnected || conn == nil {
		return ErrNotConnected
	}

	err := conn.Call(ctx, method, params, result)
	if errors.Is(err, rpc.ErrConnClosed) || errors.Is(err, rpc.ErrTransportClosed) {
		return fmt.Errorf("agentwire: %s: %w", method, ErrConnectionClosed)
	}
	return err
}

// --- Session registry ---

func (c *Client) registerSession(id string, cfg *SessionConfig) (*Session, error) {
	s := newSession(id, c, cfg)
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	if _, exists := c.sessions[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, id)
	}
	c.sessions[id] = s
	return s, nil
}

func (c *Client) sessionByID(id string) *Session {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	return c.sessions[id]
}

func (c *Client) removeSession(id string) {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	delete(c.sessions, id)
}

func (c *Client) snapshotSessions() []*Session {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	out := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, s)
	}
	return out
}

// --- Event routing ---

// routeEvent runs synchronously in the read loop; it only parses the
// envelope and enqueues. A full queue backpressures the read loop, so
// consumers must keep their subscribers prompt.
func (c *Client) routeEvent(events chan<- sessionEventParams, params json.RawMessage) {
	var ev sessionEventParams
	if err := json.Unmarshal(params, &ev); err != nil {
		c.log.Warn("malformed session event dropped", "err", err)
		return
	}
	events <- ev
}

func (c *Client) dispatchEvent(ev sessionEventParams) {
	s := c.sessionByID(ev.SessionID)
	if s == nil {
		c.log.Debug("event for unknown session dropped", "session", ev.SessionID, "type", ev.Event.Type)
		return
	}
	s.dispatchEvent(ev.Event)
}

func toolDefinitions(tools []Tool) []toolDefinition {
	if len(tools) == 0 {
		return nil
	}
	defs := make([]toolDefinition, 0, len(tools))
	for _, t := range tools {
		if t.Name == "" {
			continue
		}
		defs = append(defs, toolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return defs
}
