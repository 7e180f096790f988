//go:build linux

package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildBwrapCommand_WritableRoots(t *testing.T) {
	spec := CommandSpec{Program: "bash", Args: []string{"-c", "echo hi"}, Cwd: "/workspace"}
	policy := &Policy{Scope: "/workspace", ExtraWritableRoots: []string{"/tmp/builds"}}

	cmd := BuildBwrapCommand(spec, policy)

	assert.Equal(t, "bwrap", cmd[0])
	assert.Contains(t, cmd, "--ro-bind")
	assert.Contains(t, cmd, "--unshare-pid")
	assert.Contains(t, cmd, "--chdir")
	assert.Contains(t, cmd, "/workspace")

	bindCount := 0
	for i, arg := range cmd {
		if arg == "--bind" && i+2 < len(cmd) {
			bindCount++
		}
	}
	assert.Equal(t, 2, bindCount, "should bind Scope and ExtraWritableRoots")

	assert.Equal(t, "bash", cmd[len(cmd)-3])
	assert.Equal(t, "-c", cmd[len(cmd)-2])
	assert.Equal(t, "echo hi", cmd[len(cmd)-1])
}

func TestLinuxSandbox_Wrap_Disabled(t *testing.T) {
	s := &LinuxSandbox{}
	spec := CommandSpec{Program: "bash", Args: []string{"-c", "echo hello"}, Cwd: "/tmp"}
	env, err := s.Wrap(spec, &Policy{Disabled: true})
	assert.NoError(t, err)
	assert.Equal(t, []string{"bash", "-c", "echo hello"}, env.Command)
}

func TestLinuxSandbox_Wrap_NilPolicy(t *testing.T) {
	s := &LinuxSandbox{}
	spec := CommandSpec{Program: "bash", Args: []string{"-c", "echo hello"}}
	env, err := s.Wrap(spec, nil)
	assert.NoError(t, err)
	assert.Equal(t, []string{"bash", "-c", "echo hello"}, env.Command)
}
