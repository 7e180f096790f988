//go:build linux

package sandbox

import "os/exec"

// LinuxSandbox confines a child process using bubblewrap (bwrap): the root
// filesystem is bind-mounted read-only, Scope and ExtraWritableRoots are
// bind-mounted read-write on top, and a fresh PID namespace is unshared.
// bwrap's mount-namespace isolation is the kernel boundary the spec calls
// for — writes to anything outside the writable binds fail at the kernel,
// not by string inspection of the command line.
type LinuxSandbox struct{}

// Available reports whether bwrap is on PATH.
func (l *LinuxSandbox) Available() bool {
	_, err := exec.LookPath("bwrap")
	return err == nil
}

// Wrap builds the bwrap invocation enforcing policy.
func (l *LinuxSandbox) Wrap(spec CommandSpec, policy *Policy) (*ExecEnv, error) {
	if policy == nil || policy.Disabled {
		return &ExecEnv{
			Command: append([]string{spec.Program}, spec.Args...),
			Cwd:     spec.Cwd,
		}, nil
	}

	cmd := buildBwrapCommand(spec, policy)
	return &ExecEnv{Command: cmd, Cwd: spec.Cwd}, nil
}

// buildBwrapCommand constructs the bwrap argv implementing the single
// broad-read/confined-write policy: everything is readable, only Scope and
// ExtraWritableRoots are writable, network and process operations are left
// unrestricted (bwrap shares the host network namespace by default).
func buildBwrapCommand(spec CommandSpec, policy *Policy) []string {
	cmd := []string{"bwrap"}

	cmd = append(cmd, "--ro-bind", "/", "/")
	cmd = append(cmd, "--tmpfs", "/tmp")
	cmd = append(cmd, "--dev", "/dev")
	cmd = append(cmd, "--proc", "/proc")

	writable := append([]string{policy.Scope}, policy.ExtraWritableRoots...)
	for _, root := range writable {
		if root == "" {
			continue
		}
		cmd = append(cmd, "--bind", root, root)
	}

	cmd = append(cmd, "--unshare-pid")

	if spec.Cwd != "" {
		cmd = append(cmd, "--chdir", spec.Cwd)
	}

	cmd = append(cmd, "--")
	cmd = append(cmd, spec.Program)
	cmd = append(cmd, spec.Args...)

	return cmd
}

// BuildBwrapCommand is exported for testing.
func BuildBwrapCommand(spec CommandSpec, policy *Policy) []string {
	return buildBwrapCommand(spec, policy)
}
