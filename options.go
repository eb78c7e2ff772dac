package agentwire

import (
	"io"
	"log/slog"
	"time"
)

// Default client configuration values.
const (
	defaultExecutable   = "agentd"
	defaultGracePeriod  = 5 * time.Second
	defaultStartTimeout = 30 * time.Second
	defaultDialTimeout  = 10 * time.Second
	defaultEventQueue   = 1024 // decouples event fan-out from the read loop
	defaultMaxFrameSize = 4 << 20
)

// clientOptions holds resolved construction-time configuration.
type clientOptions struct {
	executable    string
	executableSet bool
	args          []string
	cwd           string
	env           []string

	remoteTarget string
	mode         TransportMode
	modeSet      bool
	port         int

	autoStart   bool
	autoRestart bool

	gracePeriod  time.Duration
	startTimeout time.Duration
	dialTimeout  time.Duration
	maxFrameSize int
	eventQueue   int

	log *slog.Logger
}

// Option configures a Client at construction time.
type Option func(*clientOptions)

// WithExecutable sets the server executable name or path. Mutually
// exclusive with WithRemoteTarget.
func WithExecutable(path string) Option {
	return func(o *clientOptions) {
		if path != "" {
			o.executable = path
			o.executableSet = true
		}
	}
}

// WithArgs sets additional arguments passed to the spawned server.
func WithArgs(args ...string) Option {
	return func(o *clientOptions) {
		o.args = args
	}
}

// WithCwd sets the spawned server's working directory.
func WithCwd(dir string) Option {
	return func(o *clientOptions) {
		o.cwd = dir
	}
}

// WithEnv sets the spawned server's environment. When unset, the ambient
// environment is inherited.
func WithEnv(env []string) Option {
	return func(o *clientOptions) {
		o.env = env
	}
}

// WithRemoteTarget attaches to an already-running server instead of
// spawning one. Accepted forms: "PORT", "HOST:PORT", "http(s)://HOST:PORT".
// Mutually exclusive with WithExecutable and WithTransportMode.
func WithRemoteTarget(target string) Option {
	return func(o *clientOptions) {
		o.remoteTarget = target
	}
}

// WithTransportMode overrides the transport for a spawned server
// (ModeStdio or ModeTCP). Mutually exclusive with WithRemoteTarget.
func WithTransportMode(mode TransportMode) Option {
	return func(o *clientOptions) {
		if mode != "" {
			o.mode = mode
			o.modeSet = true
		}
	}
}

// WithPort requests a specific listen port for a spawned ModeTCP server.
// Zero lets the server pick an ephemeral port, announced on its stdout.
func WithPort(port int) Option {
	return func(o *clientOptions) {
		o.port = port
	}
}

// WithAutoStart controls whether CreateSession and ResumeSession start
// the client implicitly when it is not connected. Default true.
func WithAutoStart(enabled bool) Option {
	return func(o *clientOptions) {
		o.autoStart = enabled
	}
}

// WithAutoRestart controls whether an unexpectedly exited server process
// is re-spawned and the connection re-established. Default true. Requests
// in flight at crash time are failed, never replayed. Ignored for
// externally managed servers.
func WithAutoRestart(enabled bool) Option {
	return func(o *clientOptions) {
		o.autoRestart = enabled
	}
}

// WithGracePeriod sets how long Stop waits after requesting a graceful
// exit before force-terminating. Values <= 0 are ignored.
func WithGracePeriod(d time.Duration) Option {
	return func(o *clientOptions) {
		if d > 0 {
			o.gracePeriod = d
		}
	}
}

// WithStartTimeout sets the deadline for spawn + connect + handshake
// during Start. Values <= 0 are ignored.
func WithStartTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		if d > 0 {
			o.startTimeout = d
		}
	}
}

// WithMaxFrameSize sets the maximum JSON-RPC frame size in bytes.
// Values <= 0 are ignored.
func WithMaxFrameSize(n int) Option {
	return func(o *clientOptions) {
		if n > 0 {
			o.maxFrameSize = n
		}
	}
}

// WithLogger sets the structured logger. Defaults to a discarding logger.
func WithLogger(log *slog.Logger) Option {
	return func(o *clientOptions) {
		if log != nil {
			o.log = log
		}
	}
}

func resolveOptions(opts ...Option) clientOptions {
	o := clientOptions{
		executable:   defaultExecutable,
		autoStart:    true,
		autoRestart:  true,
		gracePeriod:  defaultGracePeriod,
		startTimeout: defaultStartTimeout,
		dialTimeout:  defaultDialTimeout,
		maxFrameSize: defaultMaxFrameSize,
		eventQueue:   defaultEventQueue,
		log:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
