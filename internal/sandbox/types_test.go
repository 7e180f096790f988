package sandbox

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePath_WithinScope(t *testing.T) {
	abs, err := ValidatePath("out/report.txt", "/w/sub", "/w")
	require.NoError(t, err)
	assert.Equal(t, "/w/sub/out/report.txt", abs)
}

func TestValidatePath_ExactScope(t *testing.T) {
	abs, err := ValidatePath("/w", "/w", "/w")
	require.NoError(t, err)
	assert.Equal(t, "/w", abs)
}

func TestValidatePath_EscapeAttempt(t *testing.T) {
	_, err := ValidatePath("../../etc/passwd", "/w", "/w")
	require.Error(t, err)
	var verr *ViolationError
	require.ErrorAs(t, err, &verr)
}

func TestValidatePath_AbsoluteOutsideScope(t *testing.T) {
	_, err := ValidatePath("/etc/passwd", "/w", "/w")
	require.Error(t, err)
}

func TestNoopSandbox_Wrap(t *testing.T) {
	noop := &NoopSandbox{}
	assert.True(t, noop.Available())

	spec := CommandSpec{Program: "bash", Args: []string{"-c", "echo hello"}, Cwd: "/tmp"}
	env, err := noop.Wrap(spec, &Policy{Disabled: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"bash", "-c", "echo hello"}, env.Command)
	assert.Equal(t, "/tmp", env.Cwd)
}

func TestNew_Disabled(t *testing.T) {
	mgr, err := New(true)
	require.NoError(t, err)
	assert.True(t, mgr.Available())
}

func TestNew_NestedDetection(t *testing.T) {
	os.Setenv(nestedMarkerEnv, "/w")
	defer os.Unsetenv(nestedMarkerEnv)

	_, err := New(false)
	assert.ErrorIs(t, err, ErrNestedSandbox)
}

func TestWrap_StampsNestedMarker(t *testing.T) {
	mgr := &NoopSandbox{}
	spec := CommandSpec{Program: "bash", Args: []string{"-c", "echo hi"}}
	env, err := Wrap(mgr, spec, &Policy{Scope: "/w"})
	require.NoError(t, err)
	assert.Equal(t, "/w", env.Env[nestedMarkerEnv])
}
