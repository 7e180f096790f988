// Package mtdf implements the Tool Definition Format (spec §3) and the tool
// registry (component C3): loading, validating, and indexing declarative
// JSON tool definitions.
package mtdf

// OptionType is the closed set of argument types an Option may declare.
type OptionType string

const (
	TypeString  OptionType = "string"
	TypeBoolean OptionType = "boolean"
	TypeInteger OptionType = "integer"
	TypeArray   OptionType = "array"
)

// FormatPath is the only reserved Option.Format value (spec §3).
const FormatPath = "path"

// Option is a flag-style or positional argument declaration.
type Option struct {
	Name        string     `json:"name"`
	Type        OptionType `json:"type"`
	Description string     `json:"description,omitempty"`
	Required    bool       `json:"required,omitempty"`
	Format      string     `json:"format,omitempty"`
	Alias       string     `json:"alias,omitempty"`
}

// SequenceStep is one entry of a cross-tool or subcommand sequence.
type SequenceStep struct {
	Tool       string            `json:"tool"`
	Subcommand string            `json:"subcommand"`
	Args       map[string]string `json:"args,omitempty"`
}

// Subcommand is a named entry point under a ToolDefinition.
type Subcommand struct {
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	Synchronous    *bool      `json:"synchronous,omitempty"`
	Options        []Option   `json:"options,omitempty"`
	PositionalArgs []Option   `json:"positional_args,omitempty"`

	// Sequence, if non-empty, makes this a subcommand sequence (spec §4.7b)
	// instead of a leaf invocation of the parent tool's command.
	Sequence    []SequenceStep `json:"sequence,omitempty"`
	StepDelayMs int            `json:"step_delay_ms,omitempty"`
}

// IsSequence reports whether this subcommand is itself a subcommand
// sequence rather than a leaf invocation.
func (s *Subcommand) IsSequence() bool { return len(s.Sequence) > 0 }

// ToolDefinition is the top-level declarative record loaded from one MTDF
// file (spec §3).
type ToolDefinition struct {
	Name                string       `json:"name"`
	Command             string       `json:"command"`
	Enabled             *bool        `json:"enabled,omitempty"`
	TimeoutSeconds      int          `json:"timeout_seconds,omitempty"`
	Synchronous         *bool        `json:"synchronous,omitempty"`
	Subcommands         []Subcommand `json:"subcommands,omitempty"`
	Sequence            []SequenceStep `json:"sequence,omitempty"`
	StepDelayMs         int          `json:"step_delay_ms,omitempty"`
	AvailabilityCheck   string       `json:"availability_check,omitempty"`
	InstallInstructions string       `json:"install_instructions,omitempty"`

	// SourceFile records where this definition was loaded from, for error
	// reporting; not part of the MTDF wire format.
	SourceFile string `json:"-"`

	// AvailabilityProbed and AvailabilityOK record the outcome of running
	// AvailabilityCheck once at load time (spec §4.1: disabled definitions
	// "MUST NOT trigger availability probes", implying enabled ones do).
	// Not part of the MTDF wire format.
	AvailabilityProbed bool   `json:"-"`
	AvailabilityOK      bool   `json:"-"`
	AvailabilityDetail  string `json:"-"`
}

// ReservedCommandSequence is the literal command value marking a cross-tool
// sequence tool (spec §3).
const ReservedCommandSequence = "sequence"

// IsEnabled defaults to true when Enabled is unset (spec §3: "disabled
// tools are excluded"; absence of the field means enabled).
func (t *ToolDefinition) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

// IsSequence reports whether this is a top-level cross-tool sequence.
func (t *ToolDefinition) IsSequence() bool {
	return t.Command == ReservedCommandSequence
}
