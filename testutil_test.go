package agentwire

import (
	"bufio"
	"encoding/json"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testTimeout = 5 * time.Second

// fakeMessage is a generic JSON-RPC frame as seen by the fake server.
type fakeMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *fakeError      `json:"error,omitempty"`
}

type fakeError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type fakeHandler func(fs *fakeServer, id *int64, params json.RawMessage)

// fakeServer is an in-process agent server speaking the wire protocol
// over a local TCP listener. Clients attach to it as an externally
// managed target, so lifecycle tests run without spawning a subprocess.
//
// Default handlers answer the full session surface; tests override
// individual methods with handle. Inbound requests are mirrored onto
// calls for assertions.
type fakeServer struct {
	t  *testing.T
	ln net.Listener

	mu       sync.Mutex
	conn     net.Conn
	enc      *json.Encoder
	handlers map[string]fakeHandler
	protoVer int
	nextSess int
	nextID   int64

	calls     chan fakeMessage
	responses chan fakeMessage
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	fs := &fakeServer{
		t:         t,
		ln:        ln,
		protoVer:  protocolVersion,
		calls:     make(chan fakeMessage, 64),
		responses: make(chan fakeMessage, 16),
	}
	fs.handlers = map[string]fakeHandler{
		methodPing: func(fs *fakeServer, id *int64, _ json.RawMessage) {
			fs.respond(id, map[string]any{
				"message":         "pong",
				"timestamp":       time.Now().UnixMilli(),
				"protocolVersion": fs.protoVer,
			})
		},
		methodSessionCreate: func(fs *fakeServer, id *int64, params json.RawMessage) {
			var p struct {
				SessionID string `json:"sessionId"`
			}
			_ = json.Unmarshal(params, &p)
			sid := p.SessionID
			if sid == "" {
				fs.mu.Lock()
				fs.nextSess++
				n := fs.nextSess
				fs.mu.Unlock()
				sid = sessionName(n)
			}
			fs.respond(id, map[string]string{"sessionId": sid})
		},
		methodSessionResume: func(fs *fakeServer, id *int64, params json.RawMessage) {
			var p struct {
				SessionID string `json:"sessionId"`
			}
			_ = json.Unmarshal(params, &p)
			fs.respond(id, map[string]string{"sessionId": p.SessionID})
		},
		methodSessionSend:    respondEmpty,
		methodSessionAbort:   respondEmpty,
		methodSessionDestroy: respondEmpty,
		methodSessionMessages: func(fs *fakeServer, id *int64, _ json.RawMessage) {
			fs.respond(id, map[string]any{"messages": []any{}})
		},
	}

	go fs.acceptLoop()
	t.Cleanup(func() { ln.Close() })
	return fs
}

func respondEmpty(fs *fakeServer, id *int64, _ json.RawMessage) {
	fs.respond(id, map[string]any{})
}

func sessionName(n int) string {
	return "sess-" + strconv.Itoa(n)
}

// target returns the listener address in HOST:PORT form.
func (fs *fakeServer) target() string {
	return fs.ln.Addr().String()
}

// handle overrides the handler for method.
func (fs *fakeServer) handle(method string, h fakeHandler) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.handlers[method] = h
}

func (fs *fakeServer) acceptLoop() {
	for {
		conn, err := fs.ln.Accept()
		if err != nil {
			return
		}
		fs.serveConn(conn)
	}
}

func (fs *fakeServer) serveConn(conn net.Conn) {
	fs.mu.Lock()
	fs.conn = conn
	fs.enc = json.NewEncoder(conn)
	fs.mu.Unlock()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		var msg fakeMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}
		if msg.Method == "" && msg.ID != nil {
			// Response to a server-initiated request.
			fs.responses <- msg
			continue
		}
		select {
		case fs.calls <- msg:
		default:
		}
		fs.mu.Lock()
		h := fs.handlers[msg.Method]
		fs.mu.Unlock()
		if h != nil {
			h(fs, msg.ID, msg.Params)
		}
	}
}

func (fs *fakeServer) send(v any) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.enc != nil {
		_ = fs.enc.Encode(v)
	}
}

func (fs *fakeServer) respond(id *int64, result any) {
	data, err := json.Marshal(result)
	require.NoError(fs.t, err)
	fs.send(fakeMessage{JSONRPC: "2.0", ID: id, Result: data})
}

func (fs *fakeServer) respondError(id *int64, code int, msg string) {
	fs.send(fakeMessage{JSONRPC: "2.0", ID: id, Error: &fakeError{Code: code, Message: msg}})
}

// notifyEvent pushes a session.event notification to the client.
func (fs *fakeServer) notifyEvent(sessionID string, event map[string]any) {
	params, err := json.Marshal(map[string]any{"sessionId": sessionID, "event": event})
	require.NoError(fs.t, err)
	fs.send(fakeMessage{JSONRPC: "2.0", Method: methodSessionEvent, Params: params})
}

// request issues a server-initiated request and blocks for its response.
func (fs *fakeServer) request(t *testing.T, method string, params any) fakeMessage {
	t.Helper()
	data, err := json.Marshal(params)
	require.NoError(t, err)

	fs.mu.Lock()
	fs.nextID++
	id := fs.nextID
	fs.mu.Unlock()
	fs.send(fakeMessage{JSONRPC: "2.0", ID: &id, Method: method, Params: data})

	deadline := time.After(testTimeout)
	for {
		select {
		case resp := <-fs.responses:
			if resp.ID != nil && *resp.ID == id {
				return resp
			}
		case <-deadline:
			t.Fatalf("timeout waiting for response to %s", method)
			return fakeMessage{}
		}
	}
}

// awaitCall blocks until the client sends a request with the given
// method.
func (fs *fakeServer) awaitCall(t *testing.T, method string) fakeMessage {
	t.Helper()
	deadline := time.After(testTimeout)
	for {
		select {
		case msg := <-fs.calls:
			if msg.Method == method {
				return msg
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s call", method)
			return fakeMessage{}
		}
	}
}

// closeActiveConn drops the client's connection, simulating a server
// crash.
func (fs *fakeServer) closeActiveConn() {
	fs.mu.Lock()
	conn := fs.conn
	fs.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// newTestClient builds a client attached to fs as an external target.
func newTestClient(t *testing.T, fs *fakeServer, opts ...Option) *Client {
	t.Helper()
	all := append([]Option{
		WithRemoteTarget(fs.target()),
		WithStartTimeout(testTimeout),
	}, opts...)
	c, err := NewClient(all...)
	require.NoError(t, err)
	t.Cleanup(c.ForceStop)
	return c
}
