package agentwire

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/dmora/agentwire/internal/rpc"
)

// portPattern matches the spawned server's port announcement on stdout
// in ModeTCP. The supervisor treats the process as ready only after this
// line is seen.
var portPattern = regexp.MustCompile(`listening on port (\d+)`)

// supervisor owns the lifecycle of one spawned server process: spawn,
// graceful stop, forced termination, and reaping. Crash detection happens
// at the connection layer (pipe or socket EOF); the client consults
// exited() afterwards for the exit status.
//
// The process's exit is reaped exactly once, lazily, by exited(). Wait is
// never called while the stdio transport still reads the stdout pipe
// during normal operation — the client tears the transport down first.
type supervisor struct {
	target TransportConfig
	opts   clientOptions
	log    *slog.Logger

	cmd  *exec.Cmd
	port int

	reapOnce sync.Once
	done     chan struct{}
	waitErr  error
}

func newSupervisor(target TransportConfig, opts clientOptions) *supervisor {
	return &supervisor{
		target: target,
		opts:   opts,
		log:    opts.log.With("component", "supervisor"),
		done:   make(chan struct{}),
	}
}

// start spawns the server with the configured executable, arguments,
// working directory and environment (ambient environment inherited when
// none given) and returns a connected transport. In ModeStdio the
// process's pipes carry the frames; in ModeTCP the supervisor waits for
// the port announcement, then dials.
func (s *supervisor) start(ctx context.Context) (*rpc.Transport, error) {
	path, err := exec.LookPath(s.target.Executable)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSpawnFailed, s.target.Executable, err)
	}

	args := append([]string{"--server"}, s.target.Args...)
	switch s.target.Mode {
	case ModeTCP:
		args = append(args, "--port", strconv.Itoa(s.target.Port))
	default:
		args = append(args, "--stdio")
	}

	cmd := exec.Command(path, args...)
	if s.target.Cwd != "" {
		cmd.Dir = s.target.Cwd
	}
	if len(s.target.Env) > 0 {
		cmd.Env = s.target.Env
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stderr pipe: %w", ErrSpawnFailed, err)
	}

	if s.target.Mode == ModeTCP {
		return s.startTCP(ctx, cmd, stderr)
	}
	return s.startStdio(cmd, stderr)
}

func (s *supervisor) startStdio(cmd *exec.Cmd, stderr io.Reader) (*rpc.Transport, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %w", ErrSpawnFailed, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %w", ErrSpawnFailed, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSpawnFailed, s.target.Executable, err)
	}
	s.cmd = cmd
	s.drainStderr(stderr)

	s.log.Debug("server spawned", "pid", cmd.Process.Pid, "mode", s.target.Mode)
	return rpc.NewStdioTransport(stdout, stdin, s.opts.maxFrameSize), nil
}

func (s *supervisor) startTCP(ctx context.Context, cmd *exec.Cmd, stderr io.Reader) (*rpc.Transport, error) {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %w", ErrSpawnFailed, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSpawnFailed, s.target.Executable, err)
	}
	s.cmd = cmd
	s.drainStderr(stderr)

	port, err := awaitPortAnnouncement(ctx, stdout)
	if err != nil {
		s.forceStop()
		return nil, err
	}
	s.port = port
	s.log.Debug("server announced port", "pid", cmd.Process.Pid, "port", port)

	addr := net.JoinHostPort(s.target.Host, strconv.Itoa(port))
	dialer := &net.Dialer{Timeout: s.opts.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		s.forceStop()
		return nil, fmt.Errorf("agentwire: dial %s: %w", addr, err)
	}
	return rpc.NewSocketTransport(conn, s.opts.maxFrameSize), nil
}

// awaitPortAnnouncement scans the child's stdout for the port line. After
// the announcement the scanner keeps draining so the child never blocks
// on a full stdout buffer.
func awaitPortAnnouncement(ctx context.Context, stdout io.Reader) (int, error) {
	type announce struct {
		port int
		err  error
	}
	ch := make(chan announce, 1)

	go func() {
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			m := portPattern.FindStringSubmatch(scanner.Text())
			if m == nil {
				continue
			}
			port, err := strconv.Atoi(m[1])
			ch <- announce{port, err}
			for scanner.Scan() {
			}
			return
		}
		ch <- announce{0, errors.New("agentwire: server exited before announcing its port")}
	}()

	select {
	case a := <-ch:
		if a.err != nil {
			return 0, fmt.Errorf("agentwire: parse port announcement: %w", a.err)
		}
		return a.port, nil
	case <-ctx.Done():
		return 0, fmt.Errorf("agentwire: waiting for port announcement: %w", ctx.Err())
	}
}

func (s *supervisor) drainStderr(stderr io.Reader) {
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			s.log.Debug("server stderr", "line", scanner.Text())
		}
	}()
}

// stop requests graceful shutdown and waits up to the grace period,
// escalating to SIGKILL. The caller closes the transport first so the
// server observes EOF on its input.
func (s *supervisor) stop(ctx context.Context) error {
	if s.cmd == nil {
		return nil
	}

	_ = signalProcess(s.cmd.Process, syscall.SIGTERM)

	select {
	case <-s.exited():
	case <-time.After(s.opts.gracePeriod):
		_ = signalProcess(s.cmd.Process, os.Kill)
		<-s.exited()
	case <-ctx.Done():
		_ = signalProcess(s.cmd.Process, os.Kill)
		<-s.exited()
	}
	return s.waitErr
}

// forceStop terminates the process immediately. Best-effort: it never
// fails from the caller's point of view, even if the process is already
// gone.
func (s *supervisor) forceStop() {
	if s.cmd == nil {
		return
	}
	_ = signalProcess(s.cmd.Process, os.Kill)
	<-s.exited()
}

// exited returns a channel closed once the process has been reaped. The
// reaper goroutine starts lazily on first call; waitErr is valid after
// the channel closes.
func (s *supervisor) exited() <-chan struct{} {
	s.reapOnce.Do(func() {
		if s.cmd == nil {
			close(s.done)
			return
		}
		go func() {
			s.waitErr = s.cmd.Wait()
			close(s.done)
		}()
	})
	return s.done
}

// signalProcess sends sig, treating an already-exited process as success.
func signalProcess(proc *os.Process, sig os.Signal) error {
	if proc == nil {
		return nil
	}
	err := proc.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
