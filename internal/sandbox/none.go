package sandbox

// NoopSandbox passes commands through unchanged. Used only when the caller
// has explicitly disabled sandboxing (Policy.Disabled); New refuses to
// select it implicitly.
type NoopSandbox struct{}

// Wrap returns the command unchanged.
func (n *NoopSandbox) Wrap(spec CommandSpec, policy *Policy) (*ExecEnv, error) {
	return &ExecEnv{
		Command: append([]string{spec.Program}, spec.Args...),
		Cwd:     spec.Cwd,
	}, nil
}

// Available always returns true.
func (n *NoopSandbox) Available() bool {
	return true
}
