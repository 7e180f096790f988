package shellpool

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/paulirotta/ahma-mcp-go/internal/envfilter"
	"github.com/paulirotta/ahma-mcp-go/internal/sandbox"
)

// recordingManager wraps sandbox.NoopSandbox but records every CommandSpec
// it was asked to confine, and optionally injects an extra environment
// variable the way a real confinement layer's bookkeeping would.
type recordingManager struct {
	sandbox.NoopSandbox
	specs []sandbox.CommandSpec
}

func (m *recordingManager) Wrap(spec sandbox.CommandSpec, policy *sandbox.Policy) (*sandbox.ExecEnv, error) {
	m.specs = append(m.specs, spec)
	env, err := m.NoopSandbox.Wrap(spec, policy)
	if err != nil {
		return nil, err
	}
	env.Env = map[string]string{"AHMA_SANDBOX_MARK": "1"}
	return env, nil
}

func TestSpawnWorker_AppliesSandboxWrap(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	dir := t.TempDir()
	mgr := &recordingManager{}
	policy := &sandbox.Policy{Scope: dir, Disabled: true}

	w, err := spawnWorker(dir, mgr, policy, envfilter.Default(), testLogger())
	require.NoError(t, err)
	defer w.close()

	require.Len(t, mgr.specs, 1)
	require.Equal(t, "/bin/sh", mgr.specs[0].Program)
	require.Equal(t, dir, mgr.specs[0].Cwd)

	code, out, execErr := w.execute(context.Background(), "echo $AHMA_SANDBOX_MARK", 3*time.Second)
	require.NoError(t, execErr)
	require.Equal(t, 0, code)
	require.Contains(t, string(out), "1")
}

func TestSpawnWorker_FiltersSecretShapedEnv(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	t.Setenv("AHMA_TEST_SECRET_TOKEN", "super-secret")

	dir := t.TempDir()
	policy := &sandbox.Policy{Scope: dir, Disabled: true}

	w, err := spawnWorker(dir, &sandbox.NoopSandbox{}, policy, envfilter.Default(), testLogger())
	require.NoError(t, err)
	defer w.close()

	code, out, execErr := w.execute(context.Background(), "echo [$AHMA_TEST_SECRET_TOKEN]", 3*time.Second)
	require.NoError(t, execErr)
	require.Equal(t, 0, code)
	require.Contains(t, string(out), "[]")
}

func TestWorkerExecute_CtxCancelReturnsPromptly(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	dir := t.TempDir()
	policy := &sandbox.Policy{Scope: dir, Disabled: true}

	w, err := spawnWorker(dir, &sandbox.NoopSandbox{}, policy, envfilter.Default(), testLogger())
	require.NoError(t, err)
	defer w.close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, _, execErr := w.execute(ctx, "sleep 10", 30*time.Second)
	elapsed := time.Since(start)

	require.ErrorIs(t, execErr, ErrCancelled)
	require.Less(t, elapsed, 5*time.Second)
	require.True(t, w.isDead())
}
