package dispatcher

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/paulirotta/ahma-mcp-go/internal/envfilter"
	"github.com/paulirotta/ahma-mcp-go/internal/executor"
	"github.com/paulirotta/ahma-mcp-go/internal/mtdf"
	"github.com/paulirotta/ahma-mcp-go/internal/notify"
	"github.com/paulirotta/ahma-mcp-go/internal/opmon"
	"github.com/paulirotta/ahma-mcp-go/internal/sandbox"
)

type passthroughManager struct{}

func (passthroughManager) Wrap(spec sandbox.CommandSpec, policy *sandbox.Policy) (*sandbox.ExecEnv, error) {
	return &sandbox.ExecEnv{Command: append([]string{spec.Program}, spec.Args...), Cwd: spec.Cwd, Env: map[string]string{}}, nil
}
func (passthroughManager) Available() bool { return true }

func writeDef(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func newTestDispatcher(t *testing.T, defsDir string) *Dispatcher {
	t.Helper()
	scope := t.TempDir()
	reg, loadErrs, err := mtdf.Load(defsDir, scope, zerolog.Nop())
	require.NoError(t, err)
	require.Empty(t, loadErrs)
	mon := opmon.New(opmon.Config{}, zerolog.Nop())
	t.Cleanup(mon.Close)
	exec := executor.New(nil, passthroughManager{}, envfilter.Default(), zerolog.Nop())

	return New(Config{
		Registry: reg,
		Monitor:  mon,
		Executor: exec,
		Sandbox:  &sandbox.Policy{Scope: scope},
		Notifier: notify.NewChannel(16, zerolog.Nop()),
		Scope:    scope,
		Log:      zerolog.Nop(),
	})
}

// S1: an async call returns a receipt with an operation id immediately.
func TestCall_AsyncReceiptMatchesScenarioS1(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	dir := t.TempDir()
	writeDef(t, dir, "build.json", `{
		"name": "build",
		"command": "/bin/sh",
		"subcommands": [
			{"name": "run", "synchronous": false, "positional_args": [{"name": "flag", "type": "string"}, {"name": "script", "type": "string"}]}
		]
	}`)
	d := newTestDispatcher(t, dir)

	result := d.Call(context.Background(), "build_run", map[string]any{"flag": "-c", "script": "sleep 1", "timeout_seconds": 5})
	require.True(t, result.Async)
	require.Regexp(t, regexp.MustCompile(`^Asynchronous operation started with ID: \S+`), result.Text)
	require.NotEmpty(t, result.OperationID)
}

// A synchronous call returns its output directly, with no operation id.
func TestCall_SyncResultHasNoOperationIDLeak(t *testing.T) {
	if _, err := os.Stat("/bin/echo"); err != nil {
		t.Skip("/bin/echo not available")
	}
	dir := t.TempDir()
	writeDef(t, dir, "echo.json", `{
		"name": "echo",
		"command": "/bin/echo",
		"subcommands": [
			{"name": "say", "synchronous": true, "positional_args": [{"name": "msg", "type": "string"}]}
		]
	}`)
	d := newTestDispatcher(t, dir)

	result := d.Call(context.Background(), "echo_say", map[string]any{"msg": "hello"})
	require.False(t, result.Async)
	require.Empty(t, result.OperationID)
	require.False(t, result.IsError)
	require.Contains(t, result.Text, "hello")
}

// P8: force-sync overrides any declared subcommand/tool execution mode.
func TestResolveExecutionMode_ForceSyncOverridesDeclaredMode(t *testing.T) {
	async := false
	tool := &mtdf.ToolDefinition{Name: "t", Synchronous: &async}
	sub := &mtdf.Subcommand{Name: "s", Synchronous: &async}

	require.Equal(t, opmon.ModeSync, resolveExecutionMode(true, tool, sub))
	require.Equal(t, opmon.ModeAsync, resolveExecutionMode(false, tool, sub))
}

func TestResolveExecutionMode_SubcommandOverridesTool(t *testing.T) {
	toolSync := true
	subSync := false
	tool := &mtdf.ToolDefinition{Name: "t", Synchronous: &toolSync}
	sub := &mtdf.Subcommand{Name: "s", Synchronous: &subSync}

	require.Equal(t, opmon.ModeAsync, resolveExecutionMode(false, tool, sub))
}

func TestResolveExecutionMode_DefaultsToAsync(t *testing.T) {
	tool := &mtdf.ToolDefinition{Name: "t"}
	require.Equal(t, opmon.ModeAsync, resolveExecutionMode(false, tool, nil))
}

// S5: a cross-tool sequence stops on the first failing step, and later
// steps never appear in the aggregated output.
func TestRunSequence_StopsOnFirstFailure(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	dir := t.TempDir()
	writeDef(t, dir, "seq.json", `{
		"name": "pipeline",
		"command": "sequence",
		"sequence": [
			{"tool": "step", "subcommand": "ok", "args": {"flag": "-c", "script": "true"}},
			{"tool": "step", "subcommand": "fail", "args": {"flag": "-c", "script": "false"}},
			{"tool": "step", "subcommand": "ok", "args": {"flag": "-c", "script": "true"}}
		]
	}`)
	writeDef(t, dir, "step.json", `{
		"name": "step",
		"command": "/bin/sh",
		"subcommands": [
			{"name": "ok", "synchronous": true, "positional_args": [{"name": "flag", "type": "string"}, {"name": "script", "type": "string"}]},
			{"name": "fail", "synchronous": true, "positional_args": [{"name": "flag", "type": "string"}, {"name": "script", "type": "string"}]}
		]
	}`)
	d := newTestDispatcher(t, dir)

	result := d.Call(context.Background(), "pipeline", map[string]any{})
	require.True(t, result.IsError)
	require.Contains(t, result.Text, "step 1")
	require.Contains(t, result.Text, "step 2")
	require.NotContains(t, result.Text, "step 3")
}

// S6: built-in status/await/cancel are immune to protocol cancellation;
// sandboxed_shell and ordinary tools are not.
func TestIsProtocolCancellable_ExcludesControlBuiltinsButNotShell(t *testing.T) {
	require.False(t, opmon.IsProtocolCancellable("status"))
	require.False(t, opmon.IsProtocolCancellable("await"))
	require.False(t, opmon.IsProtocolCancellable("cancel"))
	require.True(t, opmon.IsProtocolCancellable("sandboxed_shell"))
	require.True(t, opmon.IsProtocolCancellable("build"))
}

func TestCall_UnknownToolIsError(t *testing.T) {
	dir := t.TempDir()
	d := newTestDispatcher(t, dir)

	result := d.Call(context.Background(), "nope", map[string]any{})
	require.True(t, result.IsError)
}

func TestCall_AvailabilityFailedToolIsRejected(t *testing.T) {
	dir := t.TempDir()
	writeDef(t, dir, "broken.json", `{"name": "broken", "command": "/bin/false", "availability_check": "exit 1", "install_instructions": "brew install broken"}`)
	d := newTestDispatcher(t, dir)

	result := d.Call(context.Background(), "broken", map[string]any{})
	require.True(t, result.IsError)
	require.Contains(t, result.Text, "AvailabilityFailed")
	require.Contains(t, result.Text, "brew install broken")
}

func TestBuiltinSandboxedShell_RunsScript(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	dir := t.TempDir()
	d := newTestDispatcher(t, dir)

	result := d.Call(context.Background(), "sandboxed_shell", map[string]any{"command": "echo hi"})
	require.False(t, result.IsError)
	require.Contains(t, result.Text, "hi")
}

func TestBuiltinStatus_NoActiveOperations(t *testing.T) {
	dir := t.TempDir()
	d := newTestDispatcher(t, dir)

	result := d.Call(context.Background(), "status", map[string]any{})
	require.False(t, result.IsError)
	require.Contains(t, result.Text, "no active operations")
}

func TestBuiltinAwait_UnknownIDReportsNotFound(t *testing.T) {
	dir := t.TempDir()
	d := newTestDispatcher(t, dir)

	result := d.Call(context.Background(), "await", map[string]any{
		"operation_ids":   []any{"nonexistent"},
		"timeout_seconds": float64(1),
	})
	require.False(t, result.IsError)
	require.Contains(t, result.Text, "not found")
}

func TestBuiltinCancel_UnknownIDIsNoop(t *testing.T) {
	dir := t.TempDir()
	d := newTestDispatcher(t, dir)

	result := d.Call(context.Background(), "cancel", map[string]any{"operation_id": "nonexistent", "reason": "test cleanup"})
	require.False(t, result.IsError)
	require.Contains(t, result.Text, "cancel_requested=false")
}
