package mtdf

// metaSchemaJSON is a structural JSON Schema for the MTDF document format
// itself (spec §4.1 load: "validate each against the MTDF schema (types,
// required fields, enum ranges)"). Semantic checks — uniqueness, the
// no-underscore subcommand rule, sequence resolution/cycles — are done in
// Go after structural validation passes, since a generic JSON Schema
// validator cannot express cross-document constraints.
//
// Compiled with github.com/santhosh-tekuri/jsonschema/v6, independently of
// the per-tool jsonschema-go schema_for output used for the MCP input
// schema surface.
const metaSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name", "command"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "command": {"type": "string", "minLength": 1},
    "enabled": {"type": "boolean"},
    "timeout_seconds": {"type": "integer", "minimum": 1},
    "synchronous": {"type": "boolean"},
    "step_delay_ms": {"type": "integer", "minimum": 0},
    "availability_check": {"type": "string"},
    "install_instructions": {"type": "string"},
    "subcommands": {
      "type": "array",
      "items": {"$ref": "#/$defs/subcommand"}
    },
    "sequence": {
      "type": "array",
      "items": {"$ref": "#/$defs/sequenceStep"}
    }
  },
  "$defs": {
    "option": {
      "type": "object",
      "required": ["name", "type"],
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "type": {"enum": ["string", "boolean", "integer", "array"]},
        "description": {"type": "string"},
        "required": {"type": "boolean"},
        "format": {"type": "string"},
        "alias": {"type": "string"}
      }
    },
    "sequenceStep": {
      "type": "object",
      "required": ["tool", "subcommand"],
      "properties": {
        "tool": {"type": "string", "minLength": 1},
        "subcommand": {"type": "string", "minLength": 1},
        "args": {"type": "object"}
      }
    },
    "subcommand": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "description": {"type": "string"},
        "synchronous": {"type": "boolean"},
        "step_delay_ms": {"type": "integer", "minimum": 0},
        "options": {"type": "array", "items": {"$ref": "#/$defs/option"}},
        "positional_args": {"type": "array", "items": {"$ref": "#/$defs/option"}},
        "sequence": {"type": "array", "items": {"$ref": "#/$defs/sequenceStep"}}
      }
    }
  }
}`
