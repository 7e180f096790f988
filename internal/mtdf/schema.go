package mtdf

import (
	"github.com/google/jsonschema-go/jsonschema"
)

// SchemaFor compiles a Subcommand's (or tool's sole entry point's) options
// and positional_args into the JSON Schema the MCP surface exposes for
// tools/list (spec §4.1 schema_for). format:"path" surfaces as a plain
// string property with a note; path validation itself happens at
// invocation time in the argument binder, not here.
func SchemaFor(options, positionalArgs []Option) *jsonschema.Schema {
	props := make(map[string]*jsonschema.Schema, len(options)+len(positionalArgs))
	var required []string

	addOption := func(opt Option) {
		s := &jsonschema.Schema{Description: opt.Description}
		switch opt.Type {
		case TypeString:
			s.Type = "string"
		case TypeBoolean:
			s.Type = "boolean"
		case TypeInteger:
			s.Type = "integer"
		case TypeArray:
			s.Type = "array"
			s.Items = &jsonschema.Schema{Type: "string"}
		default:
			s.Type = "string"
		}
		if opt.Format == FormatPath {
			if s.Description != "" {
				s.Description += " "
			}
			s.Description += "(filesystem path; must resolve within the session sandbox scope)"
		}
		props[opt.Name] = s
		if opt.Required {
			required = append(required, opt.Name)
		}
	}

	for _, opt := range options {
		addOption(opt)
	}
	for _, opt := range positionalArgs {
		addOption(opt)
	}

	return &jsonschema.Schema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}
}

// SchemaForTool resolves a ToolDefinition's schema for the case where it
// has no subcommands (its sole entry point uses its own options — the
// spec's §4.1 "tools without subcommands" path is implicit: a definition
// that never declares Subcommands has no options of its own beyond
// meta-parameters, so this is a minimal object schema accepting any
// properties except when a single-default subcommand convention is used
// by the caller's MTDF documents).
func SchemaForTool(def *ToolDefinition) *jsonschema.Schema {
	if len(def.Subcommands) == 1 {
		sc := def.Subcommands[0]
		return SchemaFor(sc.Options, sc.PositionalArgs)
	}
	return &jsonschema.Schema{Type: "object"}
}
