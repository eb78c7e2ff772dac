package agentwire

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// TransportMode selects the byte carrier underneath the connection.
type TransportMode string

const (
	// ModeStdio spawns the server and frames messages over its
	// stdin/stdout pipes. This is the default.
	ModeStdio TransportMode = "stdio"

	// ModeTCP spawns the server, waits for it to announce its bound port
	// on stdout, then connects over TCP.
	ModeTCP TransportMode = "tcp"

	// ModeExternalTCP attaches to an already-running server over TCP.
	// The client never spawns or terminates anything in this mode.
	ModeExternalTCP TransportMode = "external-tcp"
)

// TransportConfig is the resolved connection target. It is produced once
// at construction and immutable afterwards; the supervisor and transport
// consume it.
type TransportConfig struct {
	Mode TransportMode

	// Host and Port are set for ModeTCP (after the port announcement) and
	// ModeExternalTCP (from the remote target).
	Host string
	Port int

	// Executable, Args, Cwd and Env describe the spawned process for
	// ModeStdio and ModeTCP. Env nil means inherit the ambient
	// environment.
	Executable string
	Args       []string
	Cwd        string
	Env        []string
}

// External reports whether the target is an externally managed server.
func (c TransportConfig) External() bool {
	return c.Mode == ModeExternalTCP
}

var (
	schemePrefix = regexp.MustCompile(`^https?://`)
	barePort     = regexp.MustCompile(`^-?\d+$`)
)

// ParseRemoteTarget parses a remote target string into host and port.
//
// Accepted forms: "PORT", "HOST:PORT", "http://HOST:PORT",
// "https://HOST:PORT". A missing host defaults to "localhost"; the scheme
// affects parsing only, not transport security. The port must be an
// integer in [1, 65535].
func ParseRemoteTarget(target string) (host string, port int, err error) {
	trimmed := schemePrefix.ReplaceAllString(target, "")
	if trimmed == "" {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidTarget, target)
	}

	// Bare port form. Negative numbers match too, so they report a port
	// error rather than a shape error.
	if barePort.MatchString(trimmed) {
		port, err = parsePort(trimmed, target)
		if err != nil {
			return "", 0, err
		}
		return "localhost", port, nil
	}

	host, portStr, ok := strings.Cut(trimmed, ":")
	if !ok || strings.Contains(portStr, ":") {
		return "", 0, fmt.Errorf("%w: %q (expected PORT, HOST:PORT, or http(s)://HOST:PORT)", ErrInvalidTarget, target)
	}
	if host == "" {
		host = "localhost"
	}
	port, err = parsePort(portStr, target)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}

func parsePort(s, target string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q in target %q", ErrInvalidPort, s, target)
	}
	if n < 1 || n > 65535 {
		return 0, fmt.Errorf("%w: %d not in [1, 65535]", ErrInvalidPort, n)
	}
	return n, nil
}

// resolveTarget validates the client options and produces the transport
// configuration. A remote target is mutually exclusive with an explicit
// executable path or a transport-mode override; configuration errors are
// returned here, before any process is spawned.
func resolveTarget(o clientOptions) (TransportConfig, error) {
	if o.remoteTarget != "" {
		if o.executableSet {
			return TransportConfig{}, fmt.Errorf("%w: remote target and executable path are mutually exclusive", ErrConflictingConfig)
		}
		if o.modeSet {
			return TransportConfig{}, fmt.Errorf("%w: remote target and transport-mode override are mutually exclusive", ErrConflictingConfig)
		}
		host, port, err := ParseRemoteTarget(o.remoteTarget)
		if err != nil {
			return TransportConfig{}, err
		}
		return TransportConfig{Mode: ModeExternalTCP, Host: host, Port: port}, nil
	}

	mode := ModeStdio
	if o.modeSet {
		mode = o.mode
	}
	if o.port != 0 && (o.port < 1 || o.port > 65535) {
		return TransportConfig{}, fmt.Errorf("%w: %d not in [1, 65535]", ErrInvalidPort, o.port)
	}
	return TransportConfig{
		Mode:       mode,
		Host:       "localhost",
		Port:       o.port,
		Executable: o.executable,
		Args:       o.args,
		Cwd:        o.cwd,
		Env:        o.env,
	}, nil
}
