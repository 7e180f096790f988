//go:build !linux

package sandbox

// LinuxSandbox is a stub for non-linux platforms.
type LinuxSandbox struct{}

// Available returns false on non-linux platforms.
func (l *LinuxSandbox) Available() bool {
	return false
}

// Wrap returns a pass-through on non-linux platforms.
func (l *LinuxSandbox) Wrap(spec CommandSpec, policy *Policy) (*ExecEnv, error) {
	return &ExecEnv{
		Command: append([]string{spec.Program}, spec.Args...),
		Cwd:     spec.Cwd,
	}, nil
}
