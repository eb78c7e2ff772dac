// Package rpc implements the bidirectional JSON-RPC 2.0 peer underneath an
// agent client: newline-delimited framing over process pipes or a TCP
// socket (Transport) and request/response correlation with inbound
// dispatch (Conn).
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// ErrConnClosed is returned by Call when the connection closes before the
// matching response arrives.
var ErrConnClosed = errors.New("rpc: connection closed")

// Standard JSON-RPC 2.0 error codes.
const (
	CodeInvalidParams    = -32602
	CodeMethodNotFound   = -32601
	CodeInternalError    = -32603
	CodeApplicationError = -32000
)

// Conn is a bidirectional JSON-RPC 2.0 multiplexer over a Transport.
//
// Outbound requests are correlated to their responses through a
// mutex-protected pending map keyed by a monotonically allocated id; each
// pending call completes exactly once — by its matching response, by its
// context, or by ReadLoop exit, which closes every pending channel so no
// caller is left blocked. Inbound requests run in dedicated goroutines so
// a slow handler never stalls response dispatch or other sessions'
// notifications. All handlers must be registered before ReadLoop starts.
type Conn struct {
	t *Transport

	nextID  atomic.Int64
	mu      sync.Mutex
	pending map[int64]chan *response

	notifyHandlers  map[string]func(json.RawMessage)
	requestHandlers map[string]func(json.RawMessage) (any, error)
	onParseError    func(line []byte, err error)

	done    chan struct{}
	readErr atomic.Value // stores error
}

// Config holds optional Conn configuration.
type Config struct {
	// OnParseError is invoked for inbound frames that are not valid
	// JSON-RPC. Malformed frames are skipped, never fatal.
	OnParseError func(line []byte, err error)
}

// NewConn creates a connection over t. Register handlers, then call
// ReadLoop in a goroutine to start processing inbound messages.
func NewConn(t *Transport, cfg Config) *Conn {
	return &Conn{
		t:               t,
		pending:         make(map[int64]chan *response),
		notifyHandlers:  make(map[string]func(json.RawMessage)),
		requestHandlers: make(map[string]func(json.RawMessage) (any, error)),
		onParseError:    cfg.OnParseError,
		done:            make(chan struct{}),
	}
}

// OnNotification registers a handler for inbound notifications (no id).
// Must be called before ReadLoop starts. The handler runs synchronously
// in ReadLoop; it must not block.
func (c *Conn) OnNotification(method string, h func(json.RawMessage)) {
	c.notifyHandlers[method] = h
}

// OnRequest registers a handler for inbound requests (id present, response
// expected). The handler runs in a dedicated goroutine and its return
// value — or error — is written back as exactly one response frame.
// Must be called before ReadLoop starts.
func (c *Conn) OnRequest(method string, h func(json.RawMessage) (any, error)) {
	c.requestHandlers[method] = h
}

// Call sends a request and blocks until the matching response arrives or
// ctx expires. A nil result discards the response payload. If the
// connection closes first, Call returns ErrConnClosed.
func (c *Conn) Call(ctx context.Context, method string, params, result any) error {
	id := c.nextID.Add(1)

	ch := make(chan *response, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	req := &request{
		JSONRPC: "2.0",
		ID:      &id,
		Method:  method,
		Params:  params,
	}

	if err := c.t.Send(req); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return fmt.Errorf("rpc: send %s: %w", method, err)
	}

	select {
	case resp, ok := <-ch:
		return c.finishCall(resp, ok, method, result)
	case <-c.done:
		// ReadLoop already exited; a call registered after drainPending
		// would otherwise wait on a channel nothing ever resolves.
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		select {
		case resp, ok := <-ch:
			return c.finishCall(resp, ok, method, result)
		default:
			return fmt.Errorf("rpc: %s: %w", method, ErrConnClosed)
		}
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		// The response may have landed just before cancellation — drain
		// ch so a completed call is not reported as a timeout.
		select {
		case resp, ok := <-ch:
			return c.finishCall(resp, ok, method, result)
		default:
			return ctx.Err()
		}
	}
}

// finishCall resolves a completed pending call.
func (c *Conn) finishCall(resp *response, ok bool, method string, result any) error {
	if !ok {
		return fmt.Errorf("rpc: %s: %w", method, ErrConnClosed)
	}
	if resp.Error != nil {
		return &RPCError{Code: resp.Error.Code, Message: resp.Error.Message}
	}
	if result != nil && resp.Result != nil {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("rpc: unmarshal %s result: %w", method, err)
		}
	}
	return nil
}

// Notify sends a notification (no id, no response expected).
func (c *Conn) Notify(method string, params any) error {
	return c.t.Send(&request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
	})
}

// Close closes the underlying transport, which unblocks ReadLoop and in
// turn fails every pending call with ErrConnClosed.
func (c *Conn) Close() error {
	return c.t.Close()
}

// ReadLoop reads and dispatches inbound messages until the transport
// closes or an unrecoverable read error occurs. On exit every pending
// call channel is closed. Must be called exactly once.
func (c *Conn) ReadLoop() {
	defer close(c.done)
	defer c.drainPending()

	for {
		line, err := c.t.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) && !c.t.Closed() {
				c.readErr.Store(err)
			}
			return
		}
		if len(line) == 0 || line[0] != '{' {
			continue // blank lines and non-JSON startup chatter
		}

		var msg message
		if err := json.Unmarshal(line, &msg); err != nil {
			if c.onParseError != nil {
				c.onParseError(append([]byte(nil), line...), err)
			}
			continue
		}

		c.dispatch(&msg)
	}
}

// Err returns the read error after ReadLoop exits, or nil for a clean
// close (EOF or caller-initiated Close).
func (c *Conn) Err() error {
	if v := c.readErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Done returns a channel closed when ReadLoop exits.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// dispatch routes one inbound message by shape: response (id, no method),
// request (id + method), or notification (method only).
func (c *Conn) dispatch(msg *message) {
	switch {
	case msg.ID != nil && msg.Method == "":
		c.handleResponse(msg)
	case msg.ID != nil:
		c.handleRequest(msg)
	case msg.Method != "":
		c.handleNotification(msg)
	}
}

func (c *Conn) handleResponse(msg *message) {
	c.mu.Lock()
	ch, ok := c.pending[*msg.ID]
	if ok {
		delete(c.pending, *msg.ID)
	}
	c.mu.Unlock()

	if !ok {
		return // duplicate or unsolicited response — drop
	}
	ch <- &response{Result: msg.Result, Error: msg.Error}
}

// handleRequest runs the registered handler in a dedicated goroutine and
// writes back exactly one response, so a slow tool or permission handler
// never blocks the read loop.
func (c *Conn) handleRequest(msg *message) {
	h, ok := c.requestHandlers[msg.Method]
	if !ok {
		c.respondError(*msg.ID, CodeMethodNotFound, "method not found: "+msg.Method)
		return
	}

	id := *msg.ID
	params := msg.Params
	go func() {
		result, err := h(params)
		if err != nil {
			var rpcErr *RPCError
			if errors.As(err, &rpcErr) {
				c.respondError(id, rpcErr.Code, rpcErr.Message)
				return
			}
			c.respondError(id, CodeApplicationError, err.Error())
			return
		}
		c.respondResult(id, result)
	}()
}

func (c *Conn) handleNotification(msg *message) {
	h, ok := c.notifyHandlers[msg.Method]
	if !ok {
		return // unknown notification — ignore
	}
	h(msg.Params)
}

// respondResult sends a success response. Send errors are ignored: these
// run from handler goroutines and the connection may already be closing;
// the server times out on its side.
func (c *Conn) respondResult(id int64, result any) {
	data, err := json.Marshal(result)
	if err != nil {
		c.respondError(id, CodeInternalError, "marshal result: "+err.Error())
		return
	}
	_ = c.t.Send(&response{JSONRPC: "2.0", ID: &id, Result: data})
}

// respondError sends an error response, best-effort.
func (c *Conn) respondError(id int64, code int, message string) {
	_ = c.t.Send(&response{
		JSONRPC: "2.0",
		ID:      &id,
		Error:   &wireError{Code: code, Message: message},
	})
}

// drainPending closes all pending call channels so blocked callers
// observe ErrConnClosed. Runs once, on ReadLoop exit.
func (c *Conn) drainPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// --- Wire types ---

// request is an outbound JSON-RPC 2.0 request or notification.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// message is a generic inbound JSON-RPC 2.0 message.
type message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *wireError      `json:"error,omitempty"`
}

// response is an outbound JSON-RPC 2.0 response.
type response struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      *int64          `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *wireError      `json:"error,omitempty"`
}

// wireError is the JSON-RPC 2.0 error object.
type wireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RPCError is a JSON-RPC error carried on a response. Handlers registered
// with OnRequest may return *RPCError to control the response error code.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}
