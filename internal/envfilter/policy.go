// Package envfilter builds the environment handed to a spawned child
// process (a supplemented feature: spec.md is silent on environment
// handling, but a complete C6 adapter needs one — grounded on the
// teacher's execenv package).
package envfilter

import (
	"os"
	"strings"
)

// Inherit selects the starting environment set before filtering.
type Inherit string

const (
	InheritAll  Inherit = "all"
	InheritNone Inherit = "none"
	InheritCore Inherit = "core"
)

// coreVars are the platform-essential variables kept by InheritCore.
var coreVars = map[string]bool{
	"HOME":     true,
	"LOGNAME":  true,
	"PATH":     true,
	"SHELL":    true,
	"USER":     true,
	"USERNAME": true,
	"TMPDIR":   true,
	"TEMP":     true,
	"TMP":      true,
}

// Policy configures how environment variables are filtered before being
// passed to a spawned process.
//
// Applied in order:
//  1. Seed from Inherit.
//  2. Unless IgnoreDefaultExcludes, drop names matching *KEY*/*SECRET*/*TOKEN*.
//  3. Apply Exclude patterns.
//  4. Apply Set overrides.
//  5. If IncludeOnly is non-empty, keep only matches.
type Policy struct {
	Inherit               Inherit           `toml:"inherit"`
	IgnoreDefaultExcludes bool              `toml:"ignore_default_excludes"`
	Exclude               []string          `toml:"exclude"`
	Set                   map[string]string `toml:"set"`
	IncludeOnly           []string          `toml:"include_only"`
}

// Default returns the conservative default: inherit everything, filter
// out the common secret-shaped variable names.
func Default() Policy {
	return Policy{Inherit: InheritAll, IgnoreDefaultExcludes: false}
}

// Build constructs a filtered environment map from the host process's
// current environment.
func Build(policy Policy) map[string]string {
	var vars []envVar
	for _, entry := range os.Environ() {
		if k, v, ok := strings.Cut(entry, "="); ok {
			vars = append(vars, envVar{k, v})
		}
	}
	return populate(vars, policy)
}

// BuildFrom filters an externally supplied set of variables, for tests or
// callers that already hold an environment map.
func BuildFrom(vars map[string]string, policy Policy) map[string]string {
	entries := make([]envVar, 0, len(vars))
	for k, v := range vars {
		entries = append(entries, envVar{k, v})
	}
	return populate(entries, policy)
}

type envVar struct{ key, value string }

func populate(vars []envVar, policy Policy) map[string]string {
	env := make(map[string]string)

	inherit := policy.Inherit
	if inherit == "" {
		inherit = InheritAll
	}
	switch inherit {
	case InheritAll:
		for _, v := range vars {
			env[v.key] = v.value
		}
	case InheritCore:
		for _, v := range vars {
			if coreVars[v.key] {
				env[v.key] = v.value
			}
		}
	case InheritNone:
	}

	if !policy.IgnoreDefaultExcludes {
		defaults := []string{"*KEY*", "*SECRET*", "*TOKEN*"}
		for k := range env {
			if matchesAny(k, defaults) {
				delete(env, k)
			}
		}
	}

	if len(policy.Exclude) > 0 {
		for k := range env {
			if matchesAny(k, policy.Exclude) {
				delete(env, k)
			}
		}
	}

	for k, v := range policy.Set {
		env[k] = v
	}

	if len(policy.IncludeOnly) > 0 {
		for k := range env {
			if !matchesAny(k, policy.IncludeOnly) {
				delete(env, k)
			}
		}
	}

	return env
}

func matchesAny(name string, patterns []string) bool {
	lower := strings.ToLower(name)
	for _, p := range patterns {
		if wildcardMatch(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// wildcardMatch supports * (any run of characters) and ? (single
// character), both operands expected pre-lowercased.
func wildcardMatch(s, pattern string) bool {
	return wildcardMatchRecursive(s, pattern, 0, 0)
}

func wildcardMatchRecursive(s, pattern string, si, pi int) bool {
	for pi < len(pattern) {
		if si >= len(s) {
			for pi < len(pattern) {
				if pattern[pi] != '*' {
					return false
				}
				pi++
			}
			return true
		}
		switch pattern[pi] {
		case '*':
			for pi < len(pattern) && pattern[pi] == '*' {
				pi++
			}
			if pi == len(pattern) {
				return true
			}
			for si <= len(s) {
				if wildcardMatchRecursive(s, pattern, si, pi) {
					return true
				}
				si++
			}
			return false
		case '?':
			si++
			pi++
		default:
			if s[si] != pattern[pi] {
				return false
			}
			si++
			pi++
		}
	}
	return si == len(s)
}

// ToSlice converts a filtered environment map to "KEY=VALUE" slice form
// suitable for exec.Cmd.Env / sandbox.ExecEnv.Env.
func ToSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// Merge layers overrides on top of base, used to combine the filtered
// host environment with the extra variables a sandbox.Manager.Wrap adds
// (e.g. confinement bookkeeping) so neither spawn path has to special-case
// the other's contribution.
func Merge(base, overrides map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(overrides))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}
