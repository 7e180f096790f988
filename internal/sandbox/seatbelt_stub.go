//go:build !darwin

package sandbox

// SeatbeltSandbox is a stub for non-darwin platforms.
type SeatbeltSandbox struct{}

// Available returns false on non-darwin platforms.
func (s *SeatbeltSandbox) Available() bool {
	return false
}

// Wrap is a pass-through on non-darwin platforms.
func (s *SeatbeltSandbox) Wrap(spec CommandSpec, policy *Policy) (*ExecEnv, error) {
	return &ExecEnv{
		Command: append([]string{spec.Program}, spec.Args...),
		Cwd:     spec.Cwd,
	}, nil
}
