// Package sandbox applies an OS-level confinement to child processes spawned
// by the executor: reads are unrestricted, writes are confined to the
// session scope plus a small set of platform temp roots, and network/process
// operations are always permitted.
package sandbox

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrUnsupportedPlatform is returned by New when no kernel-level confinement
// mechanism is available on the current platform and the caller has not
// explicitly opted out of sandboxing.
var ErrUnsupportedPlatform = errors.New("sandbox: no confinement mechanism available on this platform")

// ErrNestedSandbox is returned by New when the host process already runs
// inside a containing sandbox that would make nested confinement fail.
var ErrNestedSandbox = errors.New("sandbox: already running inside a containing sandbox")

// ViolationError reports a path argument that resolved outside the session
// scope.
type ViolationError struct {
	Raw     string
	Scope   string
	Reason  string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("sandbox: path %q escapes scope %q: %s", e.Raw, e.Scope, e.Reason)
}

// Policy is the single confinement contract described in spec §4.2: broad
// read access everywhere, writes confined to Scope and ExtraWritableRoots,
// network and process operations always allowed.
type Policy struct {
	// Scope is the session's fixed absolute writable root.
	Scope string
	// ExtraWritableRoots are platform-default temp directories (e.g. /tmp)
	// that remain writable alongside Scope.
	ExtraWritableRoots []string
	// Disabled, when true, means the caller explicitly opted out of
	// sandboxing; Manager.Wrap becomes a pass-through.
	Disabled bool
}

// CommandSpec describes a command before sandbox wrapping.
type CommandSpec struct {
	Program string
	Args    []string
	Cwd     string
}

// ExecEnv is the transformed execution environment after sandbox wrapping.
type ExecEnv struct {
	Command []string
	Cwd     string
	Env     map[string]string
}

// Manager is the interface for platform-specific confinement implementations.
type Manager interface {
	// Wrap returns a new command that, when spawned, has the policy applied
	// before exec. If policy.Disabled is true, the command passes through
	// unchanged.
	Wrap(spec CommandSpec, policy *Policy) (*ExecEnv, error)

	// Available reports whether this confinement mechanism can be used on
	// the current host.
	Available() bool
}

// ValidatePath canonicalizes raw (resolving ".." components) relative to
// base when raw is not already absolute, then verifies the result is scope
// or a descendant of it. It implements the C1 validate_path operation used
// by the argument binder for format:"path" options (spec §4.5 step 2).
func ValidatePath(raw, base, scope string) (string, error) {
	abs := raw
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(base, raw)
	}
	abs = filepath.Clean(abs)

	cleanScope := filepath.Clean(scope)
	if abs != cleanScope && !strings.HasPrefix(abs, cleanScope+string(filepath.Separator)) {
		return "", &ViolationError{Raw: raw, Scope: scope, Reason: "resolves outside session scope"}
	}
	return abs, nil
}
