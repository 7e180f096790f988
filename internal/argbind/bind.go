package argbind

import (
	"strconv"

	"github.com/paulirotta/ahma-mcp-go/internal/apperror"
	"github.com/paulirotta/ahma-mcp-go/internal/mtdf"
	"github.com/paulirotta/ahma-mcp-go/internal/sandbox"
)

// Bind implements the C5 algorithm (spec §4.5): it strips meta-parameters,
// validates and renders each declared option into argv in declared order
// (options first, then positional_args), validates format:"path" values
// against the sandbox scope, and rejects unknown or missing-required keys.
//
// scope is the session's fixed SessionScope; workingDir is the operation's
// working_directory (already itself validated to be within scope by the
// caller before Bind is invoked — spec §3 Operation.working_directory
// invariant I4).
func Bind(rawArgs map[string]any, options, positionalArgs []mtdf.Option, workingDir, scope string) ([]string, Meta, *apperror.Error) {
	meta, err := extractMeta(rawArgs)
	if err != nil {
		return nil, Meta{}, err
	}
	if meta.WorkingDirectory == "" {
		meta.WorkingDirectory = workingDir
	}

	declared := make(map[string]mtdf.Option, len(options)+len(positionalArgs))
	for _, o := range options {
		declared[o.Name] = o
	}
	for _, o := range positionalArgs {
		declared[o.Name] = o
	}
	for key := range rawArgs {
		if MetaParams[key] {
			continue
		}
		if _, ok := declared[key]; !ok {
			return nil, Meta{}, apperror.New(apperror.ArgumentInvalid, "unknown argument %q", key)
		}
	}

	var argv []string
	for _, opt := range options {
		rendered, present, aerr := renderOption(rawArgs, opt, meta.WorkingDirectory, scope)
		if aerr != nil {
			return nil, Meta{}, aerr
		}
		if opt.Required && !present {
			return nil, Meta{}, apperror.New(apperror.ArgumentInvalid, "missing required option %q", opt.Name)
		}
		argv = append(argv, rendered...)
	}
	for _, opt := range positionalArgs {
		rendered, present, aerr := renderPositional(rawArgs, opt, meta.WorkingDirectory, scope)
		if aerr != nil {
			return nil, Meta{}, aerr
		}
		if opt.Required && !present {
			return nil, Meta{}, apperror.New(apperror.ArgumentInvalid, "missing required positional argument %q", opt.Name)
		}
		argv = append(argv, rendered...)
	}

	return argv, meta, nil
}

func extractMeta(rawArgs map[string]any) (Meta, *apperror.Error) {
	var m Meta
	if v, ok := rawArgs["working_directory"]; ok {
		s, ok := v.(string)
		if !ok {
			return Meta{}, apperror.New(apperror.ArgumentInvalid, "working_directory must be a string")
		}
		m.WorkingDirectory = s
	}
	if v, ok := rawArgs["execution_mode"]; ok {
		s, ok := v.(string)
		if !ok {
			return Meta{}, apperror.New(apperror.ArgumentInvalid, "execution_mode must be a string")
		}
		m.ExecutionMode = s
	}
	if v, ok := rawArgs["timeout_seconds"]; ok {
		switch n := v.(type) {
		case float64:
			m.TimeoutSeconds = int(n)
		case int:
			m.TimeoutSeconds = n
		default:
			return Meta{}, apperror.New(apperror.ArgumentInvalid, "timeout_seconds must be a number")
		}
	}
	return m, nil
}

// flagName returns the argv flag spelling: "-alias" if aliased, else
// "--name" (spec §4.5 step 2).
func flagName(opt mtdf.Option) string {
	if opt.Alias != "" {
		return "-" + opt.Alias
	}
	return "--" + opt.Name
}

func renderScalar(v Value) string {
	switch v.Kind {
	case KindString:
		return v.S
	case KindInt:
		return strconv.FormatInt(v.I, 10)
	case KindBool:
		return strconv.FormatBool(v.B)
	default:
		return ""
	}
}

func renderOption(rawArgs map[string]any, opt mtdf.Option, workingDir, scope string) ([]string, bool, *apperror.Error) {
	raw, present := rawArgs[opt.Name]
	if !present {
		return nil, false, nil
	}

	val, err := parseTyped(raw, opt.Type, opt.Name)
	if err != nil {
		return nil, true, apperror.Wrap(apperror.ArgumentInvalid, err, "invalid value for %q", opt.Name)
	}

	if opt.Type == mtdf.TypeBoolean {
		if val.B {
			return []string{flagName(opt)}, true, nil
		}
		return nil, true, nil
	}

	if opt.Type == mtdf.TypeArray {
		out := make([]string, 0, len(val.A)*2)
		for _, el := range val.A {
			rendered, aerr := renderPathIfNeeded(el, opt, workingDir, scope)
			if aerr != nil {
				return nil, true, aerr
			}
			out = append(out, flagName(opt), rendered)
		}
		return out, true, nil
	}

	scalar := renderScalar(val)
	rendered, aerr := renderPathIfNeeded(scalar, opt, workingDir, scope)
	if aerr != nil {
		return nil, true, aerr
	}
	return []string{flagName(opt), rendered}, true, nil
}

func renderPositional(rawArgs map[string]any, opt mtdf.Option, workingDir, scope string) ([]string, bool, *apperror.Error) {
	raw, present := rawArgs[opt.Name]
	if !present {
		return nil, false, nil
	}
	val, err := parseTyped(raw, opt.Type, opt.Name)
	if err != nil {
		return nil, true, apperror.Wrap(apperror.ArgumentInvalid, err, "invalid value for %q", opt.Name)
	}
	if opt.Type == mtdf.TypeArray {
		out := make([]string, 0, len(val.A))
		for _, el := range val.A {
			rendered, aerr := renderPathIfNeeded(el, opt, workingDir, scope)
			if aerr != nil {
				return nil, true, aerr
			}
			out = append(out, rendered)
		}
		return out, true, nil
	}
	rendered, aerr := renderPathIfNeeded(renderScalar(val), opt, workingDir, scope)
	if aerr != nil {
		return nil, true, aerr
	}
	return []string{rendered}, true, nil
}

func renderPathIfNeeded(value string, opt mtdf.Option, workingDir, scope string) (string, *apperror.Error) {
	if opt.Format != mtdf.FormatPath {
		return value, nil
	}
	abs, err := sandbox.ValidatePath(value, workingDir, scope)
	if err != nil {
		return "", apperror.Wrap(apperror.SandboxViolation, err, "path argument %q escapes session scope", opt.Name)
	}
	return abs, nil
}
