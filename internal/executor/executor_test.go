package executor

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paulirotta/ahma-mcp-go/internal/envfilter"
	"github.com/paulirotta/ahma-mcp-go/internal/sandbox"
	"github.com/paulirotta/ahma-mcp-go/internal/shellpool"
)

type noopManager struct{}

func (noopManager) Wrap(spec sandbox.CommandSpec, policy *sandbox.Policy) (*sandbox.ExecEnv, error) {
	return &sandbox.ExecEnv{Command: append([]string{spec.Program}, spec.Args...), Cwd: spec.Cwd, Env: map[string]string{}}, nil
}
func (noopManager) Available() bool { return true }

// recordingManager counts Wrap calls so pooled-path tests can assert the
// sandbox was actually consulted, not bypassed.
type recordingManager struct {
	calls int
}

func (m *recordingManager) Wrap(spec sandbox.CommandSpec, policy *sandbox.Policy) (*sandbox.ExecEnv, error) {
	m.calls++
	return &sandbox.ExecEnv{Command: append([]string{spec.Program}, spec.Args...), Cwd: spec.Cwd, Env: map[string]string{}}, nil
}
func (m *recordingManager) Available() bool { return true }

func TestRunDirect_CapturesExitCodeAndOutput(t *testing.T) {
	if _, err := os.Stat("/bin/echo"); err != nil {
		t.Skip("/bin/echo not available")
	}
	e := New(nil, noopManager{}, envfilter.Default(), zerolog.Nop())

	out, err := e.Run(context.Background(), []string{"/bin/echo", "hello"}, t.TempDir(), nil, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, out.ExitCode)
	assert.Contains(t, out.CombinedOutput, "hello")
}

func TestRunDirect_NonZeroExit(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	e := New(nil, noopManager{}, envfilter.Default(), zerolog.Nop())

	out, err := e.Run(context.Background(), []string{"/bin/sh", "-c", "exit 3"}, t.TempDir(), nil, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3, out.ExitCode)
}

func TestRunDirect_TimeoutEscalatesAndReportsTimedOut(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	e := New(nil, noopManager{}, envfilter.Default(), zerolog.Nop())

	out, err := e.Run(context.Background(), []string{"/bin/sh", "-c", "sleep 5"}, t.TempDir(), nil, 100*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, out.TimedOut)
}

func TestRunDirect_EmptyArgvRejected(t *testing.T) {
	e := New(nil, noopManager{}, envfilter.Default(), zerolog.Nop())
	_, err := e.Run(context.Background(), nil, t.TempDir(), nil, time.Second)
	assert.ErrorIs(t, err, ErrEmptyCommand)
}

func TestRunPooled_SandboxAppliedAtWorkerSpawn(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	dir := t.TempDir()
	mgr := &recordingManager{}
	policy := &sandbox.Policy{Scope: dir, Disabled: true}
	shells := shellpool.New(shellpool.Config{MaxPerDirectory: 1, IdleTTL: time.Minute}, mgr, policy, envfilter.Default(), zerolog.Nop())
	defer shells.Close()

	e := New(shells, mgr, envfilter.Default(), zerolog.Nop())

	out, err := e.Run(context.Background(), []string{"/bin/echo", "hello"}, dir, policy, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, out.ExitCode)
	assert.Contains(t, out.CombinedOutput, "hello")
	assert.Equal(t, 1, mgr.calls, "runPooled must route the worker spawn through the sandbox manager")
}

func TestRunPooled_FiltersSecretShapedEnv(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	t.Setenv("AHMA_TEST_POOLED_SECRET", "super-secret")

	dir := t.TempDir()
	policy := &sandbox.Policy{Scope: dir, Disabled: true}
	shells := shellpool.New(shellpool.Config{MaxPerDirectory: 1, IdleTTL: time.Minute}, &sandbox.NoopSandbox{}, policy, envfilter.Default(), zerolog.Nop())
	defer shells.Close()

	e := New(shells, &sandbox.NoopSandbox{}, envfilter.Default(), zerolog.Nop())

	out, err := e.Run(context.Background(), []string{"/bin/sh", "-c", "echo [$AHMA_TEST_POOLED_SECRET]"}, dir, policy, 5*time.Second)
	require.NoError(t, err)
	assert.Contains(t, out.CombinedOutput, "[]")
}

func TestRunPooled_CtxCancelReportsCancelled(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	dir := t.TempDir()
	policy := &sandbox.Policy{Scope: dir, Disabled: true}
	shells := shellpool.New(shellpool.Config{MaxPerDirectory: 1, IdleTTL: time.Minute}, &sandbox.NoopSandbox{}, policy, envfilter.Default(), zerolog.Nop())
	defer shells.Close()

	e := New(shells, &sandbox.NoopSandbox{}, envfilter.Default(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	out, err := e.Run(ctx, []string{"/bin/sh", "-c", "sleep 10"}, dir, policy, 30*time.Second)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.True(t, out.Cancelled)
	assert.Less(t, elapsed, 5*time.Second)
}
