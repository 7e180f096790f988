package sandbox

import (
	"os"
	"runtime"
)

// nestedMarkerEnv is stamped by the package-level Wrap function into the
// environment of the child it wraps so that, if that child itself turns
// out to be another instance of this server, New can detect it is already
// running inside a containing sandbox rather than attempting to nest
// confinement a second time (spec §4.2 nested-sandbox detection). The
// executor and the shell pool call Manager.Wrap directly rather than Wrap,
// so the children they spawn do not carry the marker.
const nestedMarkerEnv = "AHMA_MCP_SANDBOX_SCOPE"

// New selects the platform-specific Manager for the current host.
//
// If disableSandbox is true the caller has explicitly opted out (the only
// way New may return NoopSandbox); otherwise an unavailable or
// already-nested sandbox is a fatal condition the server must refuse to
// start on, per spec §4.2: "The server MUST refuse to start ... if
// sandboxing is required, unavailable, and not explicitly disabled."
func New(disableSandbox bool) (Manager, error) {
	if os.Getenv(nestedMarkerEnv) != "" && !disableSandbox {
		return nil, ErrNestedSandbox
	}

	if disableSandbox {
		return &NoopSandbox{}, nil
	}

	switch runtime.GOOS {
	case "darwin":
		s := &SeatbeltSandbox{}
		if s.Available() {
			return s, nil
		}
	case "linux":
		s := &LinuxSandbox{}
		if s.Available() {
			return s, nil
		}
	}

	return nil, ErrUnsupportedPlatform
}

// Wrap applies mgr to spec under policy and stamps the nested-sandbox
// marker into the child's environment.
func Wrap(mgr Manager, spec CommandSpec, policy *Policy) (*ExecEnv, error) {
	env, err := mgr.Wrap(spec, policy)
	if err != nil {
		return nil, err
	}
	if !policy.Disabled {
		if env.Env == nil {
			env.Env = make(map[string]string)
		}
		env.Env[nestedMarkerEnv] = policy.Scope
	}
	return env, nil
}
