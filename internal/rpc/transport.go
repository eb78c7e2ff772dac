package rpc

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
)

// ErrTransportClosed is returned by Send after the transport has been closed.
var ErrTransportClosed = errors.New("rpc: transport closed")

// DefaultMaxFrameSize bounds a single newline-delimited JSON frame (4 MB).
const DefaultMaxFrameSize = 4 << 20

// Transport frames JSON-RPC messages as newline-delimited JSON over a duplex
// byte carrier. The two carriers — a subprocess's stdin/stdout pipes and a
// TCP connection — present the same frame-in/frame-out interface.
//
// Writes are serialized under a mutex so interleaved Send calls from
// concurrent goroutines never corrupt framing. Inbound frames are returned
// by ReadFrame in strict arrival order; the transport performs no
// reordering or buffering beyond line splitting.
type Transport struct {
	mu  sync.Mutex
	enc *json.Encoder

	scanner *bufio.Scanner

	closers   []io.Closer
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewStdioTransport frames messages over a spawned process's pipes:
// frames are read from the process's stdout and written to its stdin.
func NewStdioTransport(stdout io.Reader, stdin io.WriteCloser, maxFrame int) *Transport {
	return newTransport(stdout, stdin, maxFrame, stdin)
}

// NewSocketTransport frames messages over an established TCP connection.
func NewSocketTransport(conn net.Conn, maxFrame int) *Transport {
	return newTransport(conn, conn, maxFrame, conn)
}

func newTransport(r io.Reader, w io.Writer, maxFrame int, closers ...io.Closer) *Transport {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameSize
	}
	s := bufio.NewScanner(r)
	initCap := min(4096, maxFrame)
	s.Buffer(make([]byte, 0, initCap), maxFrame)
	return &Transport{
		enc:     json.NewEncoder(w),
		scanner: s,
		closers: closers,
	}
}

// Send writes one frame. Fails with ErrTransportClosed once the carrier
// is no longer open.
func (t *Transport) Send(v any) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed.Load() {
		return ErrTransportClosed
	}
	return t.enc.Encode(v)
}

// ReadFrame returns the next inbound frame. It blocks until a frame
// arrives, the carrier reaches EOF (returns io.EOF), or a read error
// occurs. Not safe for concurrent use; the connection's read loop is the
// sole caller.
func (t *Transport) ReadFrame() ([]byte, error) {
	if t.scanner.Scan() {
		return t.scanner.Bytes(), nil
	}
	if err := t.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// Close closes the underlying carrier. Subsequent Send calls fail with
// ErrTransportClosed. Close is idempotent; repeated calls return the
// first close's error.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		for _, c := range t.closers {
			if err := c.Close(); err != nil && t.closeErr == nil {
				t.closeErr = err
			}
		}
	})
	return t.closeErr
}

// Closed reports whether Close has been called.
func (t *Transport) Closed() bool {
	return t.closed.Load()
}
