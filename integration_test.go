//go:build !windows

package agentwire

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	mockBuildOnce  sync.Once
	mockBinaryPath string
	errMockBuild   error
)

const integrationTimeout = 10 * time.Second

func buildMockBinary() {
	dir, err := os.MkdirTemp("", "mock-agent-*")
	if err != nil {
		errMockBuild = fmt.Errorf("tmpdir: %w", err)
		return
	}
	mockBinaryPath = filepath.Join(dir, "mock-agent")
	cmd := exec.Command("go", "build", "-o", mockBinaryPath, "./testdata/mock-agent/main.go")
	if out, err := cmd.CombinedOutput(); err != nil {
		errMockBuild = fmt.Errorf("build mock: %w: %s", err, out)
		os.RemoveAll(dir)
	}
}

func mustBuild(t *testing.T) {
	t.Helper()
	mockBuildOnce.Do(buildMockBinary)
	if errMockBuild != nil {
		t.Fatalf("mock binary build failed: %v", errMockBuild)
	}
}

// writeScript creates an executable wrapper script that sets
// MOCK_AGENT_MODE and execs the mock binary. Returns the script path.
func writeScript(t *testing.T, envMode string) string {
	t.Helper()
	mustBuild(t)
	dir := t.TempDir()
	wrapper := filepath.Join(dir, "mock-agent-wrapper")
	script := fmt.Sprintf("#!/bin/sh\nexport MOCK_AGENT_MODE=%s\nexec %s \"$@\"\n", envMode, mockBinaryPath)
	if err := os.WriteFile(wrapper, []byte(script), 0o600); err != nil {
		t.Fatalf("write wrapper: %v", err)
	}
	if err := os.Chmod(wrapper, 0o755); err != nil {
		t.Fatalf("chmod wrapper: %v", err)
	}
	return wrapper
}

func newSpawnedClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	mustBuild(t)
	defaults := []Option{
		WithExecutable(mockBinaryPath),
		WithStartTimeout(integrationTimeout),
	}
	c, err := NewClient(append(defaults, opts...)...)
	require.NoError(t, err)
	t.Cleanup(c.ForceStop)
	return c
}

func TestIntegration_StdioRoundTrip(t *testing.T) {
	c := newSpawnedClient(t, WithAutoRestart(false))

	ctx, cancel := context.WithTimeout(context.Background(), integrationTimeout)
	defer cancel()

	require.NoError(t, c.Start(ctx))
	assert.Equal(t, StateConnected, c.State())

	s, err := c.CreateSession(ctx, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)

	ev, err := s.SendAndWait(ctx, MessageOptions{Prompt: "hi"})
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, "echo: hi", ev.Data.Content)

	require.NoError(t, c.Stop(ctx))
	assert.Equal(t, StateDisconnected, c.State())
}

func TestIntegration_TCPMode(t *testing.T) {
	c := newSpawnedClient(t,
		WithTransportMode(ModeTCP),
		WithAutoRestart(false),
	)

	ctx, cancel := context.WithTimeout(context.Background(), integrationTimeout)
	defer cancel()

	// Port 0: the server binds an ephemeral port and announces it on
	// stdout before the client dials.
	require.NoError(t, c.Start(ctx))

	s, err := c.CreateSession(ctx, nil)
	require.NoError(t, err)

	ev, err := s.SendAndWait(ctx, MessageOptions{Prompt: "over tcp"})
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, "echo: over tcp", ev.Data.Content)

	require.NoError(t, c.Stop(ctx))
}

func TestIntegration_SpawnFailure(t *testing.T) {
	c, err := NewClient(
		WithExecutable("definitely-not-a-real-binary-name"),
		WithStartTimeout(integrationTimeout),
	)
	require.NoError(t, err)
	t.Cleanup(c.ForceStop)

	ctx, cancel := context.WithTimeout(context.Background(), integrationTimeout)
	defer cancel()

	err = c.Start(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSpawnFailed)
	assert.Equal(t, StateError, c.State())
}

func TestIntegration_EarlyExit(t *testing.T) {
	wrapper := writeScript(t, "early-exit")
	c, err := NewClient(
		WithExecutable(wrapper),
		WithStartTimeout(integrationTimeout),
		WithAutoRestart(false),
	)
	require.NoError(t, err)
	t.Cleanup(c.ForceStop)

	ctx, cancel := context.WithTimeout(context.Background(), integrationTimeout)
	defer cancel()

	require.Error(t, c.Start(ctx))
	assert.Equal(t, StateError, c.State())
}

func TestIntegration_PortAnnouncementTimeout(t *testing.T) {
	wrapper := writeScript(t, "no-announce")
	c, err := NewClient(
		WithExecutable(wrapper),
		WithTransportMode(ModeTCP),
		WithStartTimeout(500*time.Millisecond),
	)
	require.NoError(t, err)
	t.Cleanup(c.ForceStop)

	ctx, cancel := context.WithTimeout(context.Background(), integrationTimeout)
	defer cancel()

	err = c.Start(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestIntegration_ProtocolMismatch(t *testing.T) {
	wrapper := writeScript(t, "wrong-version")
	c, err := NewClient(
		WithExecutable(wrapper),
		WithStartTimeout(integrationTimeout),
	)
	require.NoError(t, err)
	t.Cleanup(c.ForceStop)

	ctx, cancel := context.WithTimeout(context.Background(), integrationTimeout)
	defer cancel()

	err = c.Start(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtocolMismatch)
}

func TestIntegration_Stop_KillEscalation(t *testing.T) {
	wrapper := writeScript(t, "ignore-term")
	c, err := NewClient(
		WithExecutable(wrapper),
		WithStartTimeout(integrationTimeout),
		WithGracePeriod(200*time.Millisecond),
		WithAutoRestart(false),
	)
	require.NoError(t, err)
	t.Cleanup(c.ForceStop)

	ctx, cancel := context.WithTimeout(context.Background(), integrationTimeout)
	defer cancel()

	require.NoError(t, c.Start(ctx))

	// The server swallows SIGTERM; Stop must escalate to SIGKILL after
	// the grace period instead of hanging.
	start := time.Now()
	require.NoError(t, c.Stop(ctx))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestIntegration_CrashAutoRestart(t *testing.T) {
	c := newSpawnedClient(t, WithAutoRestart(true))

	ctx, cancel := context.WithTimeout(context.Background(), integrationTimeout)
	defer cancel()

	require.NoError(t, c.Start(ctx))
	s, err := c.CreateSession(ctx, nil)
	require.NoError(t, err)

	// The mock exits mid-turn; the pending send fails rather than hang.
	_, err = s.SendAndWait(ctx, MessageOptions{Prompt: "crash", Timeout: 3 * time.Second})
	require.Error(t, err)

	// A fresh process comes back and the client reconnects on its own.
	require.Eventually(t, func() bool {
		return c.State() == StateConnected
	}, integrationTimeout, 20*time.Millisecond)

	s2, err := c.CreateSession(ctx, nil)
	require.NoError(t, err)
	ev, err := s2.SendAndWait(ctx, MessageOptions{Prompt: "after restart"})
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, "echo: after restart", ev.Data.Content)

	require.NoError(t, c.Stop(ctx))
}

func TestIntegration_CrashNoRestart(t *testing.T) {
	c := newSpawnedClient(t, WithAutoRestart(false))

	ctx, cancel := context.WithTimeout(context.Background(), integrationTimeout)
	defer cancel()

	require.NoError(t, c.Start(ctx))
	s, err := c.CreateSession(ctx, nil)
	require.NoError(t, err)

	errCh := make(chan SessionEvent, 4)
	s.On(func(ev SessionEvent) {
		if ev.Type == EventSessionError {
			errCh <- ev
		}
	})

	_, err = s.SendAndWait(ctx, MessageOptions{Prompt: "crash", Timeout: 3 * time.Second})
	require.Error(t, err)

	require.Eventually(t, func() bool {
		return c.State() == StateError
	}, integrationTimeout, 20*time.Millisecond)

	select {
	case ev := <-errCh:
		assert.NotEmpty(t, ev.Data.Error)
	case <-time.After(integrationTimeout):
		t.Fatal("no session.error after crash without restart")
	}
}
