//go:build darwin

package sandbox

import (
	"fmt"
	"os/exec"
	"strings"
)

// SeatbeltSandbox uses macOS Seatbelt (sandbox-exec) with an SBPL profile.
type SeatbeltSandbox struct{}

// Available reports whether sandbox-exec is present.
func (s *SeatbeltSandbox) Available() bool {
	_, err := exec.LookPath("/usr/bin/sandbox-exec")
	return err == nil
}

// Wrap builds the sandbox-exec invocation enforcing policy.
func (s *SeatbeltSandbox) Wrap(spec CommandSpec, policy *Policy) (*ExecEnv, error) {
	if policy == nil || policy.Disabled {
		return &ExecEnv{
			Command: append([]string{spec.Program}, spec.Args...),
			Cwd:     spec.Cwd,
		}, nil
	}

	sbpl := generateSBPL(policy)

	cmd := []string{"/usr/bin/sandbox-exec", "-p", sbpl, "--", spec.Program}
	cmd = append(cmd, spec.Args...)

	return &ExecEnv{Command: cmd, Cwd: spec.Cwd}, nil
}

// generateSBPL builds the Seatbelt profile for the single broad-read,
// confined-write policy: reads are unrestricted, writes are allowed only
// under the temp roots and the writable roots (Scope plus
// ExtraWritableRoots), network and process operations are always allowed.
//
// All writable-root path filters MUST be expressed as a single subpath-list
// rule on one line. An older Seatbelt SBPL parser aborts when a profile
// contains many separate "(allow file-write* (subpath ...))" lines in
// sequence; folding every root into one rule with multiple (subpath ...)
// clauses avoids that abort while expressing the identical policy.
func generateSBPL(policy *Policy) string {
	var sb strings.Builder
	sb.WriteString("(version 1)\n")
	sb.WriteString("(deny default)\n")
	sb.WriteString("(allow process-exec)\n")
	sb.WriteString("(allow process-fork)\n")
	sb.WriteString("(allow sysctl-read)\n")
	sb.WriteString("(allow file-read*)\n")
	sb.WriteString("(allow mach-lookup)\n")
	sb.WriteString("(allow network*)\n")

	roots := []string{"/private/tmp", "/tmp", "/dev"}
	roots = append(roots, policy.ExtraWritableRoots...)
	if policy.Scope != "" {
		roots = append(roots, policy.Scope)
	}

	clauses := make([]string, 0, len(roots))
	for _, root := range roots {
		if root == "" {
			continue
		}
		clauses = append(clauses, fmt.Sprintf("(subpath %q)", root))
	}
	sb.WriteString(fmt.Sprintf("(allow file-write* %s)\n", strings.Join(clauses, " ")))

	return sb.String()
}

// GenerateSBPL is exported for testing.
func GenerateSBPL(policy *Policy) string {
	return generateSBPL(policy)
}
