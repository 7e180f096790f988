package mtdf

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/paulirotta/ahma-mcp-go/internal/apperror"
)

// BuiltinNames are the fixed control tools the dispatcher always implements
// itself (spec §4.7); a definition file is not permitted to shadow one of
// these (spec §4.1: "refuses to start if any reserved built-in name is
// shadowed by a definition file").
var BuiltinNames = map[string]bool{
	"status":          true,
	"await":           true,
	"cancel":          true,
	"sandboxed_shell": true,
}

// LoadError pairs a ConfigInvalid apperror.Error with the file it came
// from, for per-definition error reporting (spec §4.1: "Validation errors
// are reported per-definition without aborting other tools").
type LoadError struct {
	File string
	Err  *apperror.Error
}

func (e *LoadError) Error() string { return fmt.Sprintf("%s: %v", e.File, e.Err) }
func (e *LoadError) Unwrap() error { return e.Err }

// Registry is an immutable, query-able snapshot of validated tool
// definitions plus the subcommand-key index (spec §3 ToolRegistry).
type Registry struct {
	byName map[string]*ToolDefinition
	// bySubKey maps "tool_subcommand" external keys to (tool, subcommand).
	bySubKey map[string]subKeyEntry
	order    []string
}

type subKeyEntry struct {
	tool string
	sub  string
}

var metaSchemaCompiled *jsonschema.Schema
var metaSchemaOnce sync.Once
var metaSchemaErr error

func compiledMetaSchema() (*jsonschema.Schema, error) {
	metaSchemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		var doc any
		if err := json.Unmarshal([]byte(metaSchemaJSON), &doc); err != nil {
			metaSchemaErr = err
			return
		}
		if err := c.AddResource("mtdf://schema.json", doc); err != nil {
			metaSchemaErr = err
			return
		}
		sch, err := c.Compile("mtdf://schema.json")
		if err != nil {
			metaSchemaErr = err
			return
		}
		metaSchemaCompiled = sch
	})
	return metaSchemaCompiled, metaSchemaErr
}

// Load scans directory for *.json MTDF files, validates each structurally
// and semantically, and builds an immutable Registry (spec §4.1 load).
//
// Per-definition validation failures are collected and returned alongside
// whatever tools loaded successfully; the registry build itself aborts
// (returns a nil Registry) only on a fatal condition: the meta-schema does
// not compile, the directory cannot be read, or a definition shadows a
// reserved built-in name, since spec §4.1 says the registry "refuses to
// start" in that last case.
//
// Every enabled definition with a non-empty AvailabilityCheck is probed
// once here, run inside scope; disabled definitions are never probed
// (spec §4.1: "Disabled definitions ... MUST NOT trigger availability
// probes"). The probe's outcome is cached on the definition for the
// dispatcher to consult at call time (spec §7 AvailabilityFailed).
func Load(directory, scope string, log zerolog.Logger) (*Registry, []*LoadError, error) {
	sch, err := compiledMetaSchema()
	if err != nil {
		return nil, nil, fmt.Errorf("mtdf: compiling meta-schema: %w", err)
	}

	entries, err := os.ReadDir(directory)
	if err != nil {
		return nil, nil, fmt.Errorf("mtdf: reading %s: %w", directory, err)
	}

	var loadErrs []*LoadError
	defs := make(map[string]*ToolDefinition)
	var order []string

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(directory, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			loadErrs = append(loadErrs, &LoadError{File: path, Err: apperror.Wrap(apperror.ConfigInvalid, err, "cannot read file")})
			continue
		}

		var raw any
		if err := json.Unmarshal(data, &raw); err != nil {
			loadErrs = append(loadErrs, &LoadError{File: path, Err: apperror.Wrap(apperror.ConfigInvalid, err, "invalid JSON")})
			continue
		}
		if err := sch.Validate(raw); err != nil {
			loadErrs = append(loadErrs, &LoadError{File: path, Err: apperror.Wrap(apperror.ConfigInvalid, err, "schema validation failed")})
			continue
		}

		var def ToolDefinition
		if err := json.Unmarshal(data, &def); err != nil {
			loadErrs = append(loadErrs, &LoadError{File: path, Err: apperror.Wrap(apperror.ConfigInvalid, err, "decode failed")})
			continue
		}
		def.SourceFile = path

		if BuiltinNames[def.Name] {
			return nil, loadErrs, apperror.New(apperror.ConfigInvalid, "definition %q in %s shadows a reserved built-in name", def.Name, path)
		}
		if _, dup := defs[def.Name]; dup {
			loadErrs = append(loadErrs, &LoadError{File: path, Err: apperror.New(apperror.ConfigInvalid, "duplicate tool name %q", def.Name)})
			continue
		}
		if err := validateSemantics(&def); err != nil {
			loadErrs = append(loadErrs, &LoadError{File: path, Err: err})
			continue
		}

		if def.IsEnabled() && def.AvailabilityCheck != "" {
			def.AvailabilityProbed = true
			def.AvailabilityOK, def.AvailabilityDetail = probeAvailability(def.AvailabilityCheck, scope)
			if !def.AvailabilityOK {
				log.Warn().Str("tool", def.Name).Str("detail", def.AvailabilityDetail).Msg("mtdf: availability_check failed")
			}
		}

		defs[def.Name] = &def
		order = append(order, def.Name)
	}

	if err := validateSequenceGraph(defs); err != nil {
		loadErrs = append(loadErrs, &LoadError{File: "(sequence graph)", Err: err})
	}

	reg := &Registry{byName: defs, order: order, bySubKey: make(map[string]subKeyEntry)}
	for name, def := range defs {
		for _, sc := range def.Subcommands {
			key := name + "_" + sc.Name
			reg.bySubKey[key] = subKeyEntry{tool: name, sub: sc.Name}
		}
	}

	log.Info().Int("tools", len(defs)).Int("errors", len(loadErrs)).Str("dir", directory).Msg("mtdf: registry loaded")
	return reg, loadErrs, nil
}

// validateSemantics checks the per-definition rules in spec §4.1 that a
// generic JSON Schema cannot express: no underscores in subcommand names,
// no duplicate subcommand names, and sequence tools and sequence
// subcommands have a non-empty sequence. Option names are not checked here.
func validateSemantics(def *ToolDefinition) *apperror.Error {
	if def.IsSequence() && len(def.Sequence) == 0 {
		return apperror.New(apperror.ConfigInvalid, "tool %q declares command=sequence but has an empty sequence", def.Name)
	}
	seen := map[string]bool{}
	for _, sc := range def.Subcommands {
		if strings.Contains(sc.Name, "_") {
			return &apperror.Error{Kind: apperror.ConfigInvalid, Message: fmt.Sprintf("subcommand %q of tool %q contains an underscore, reserved as the hierarchy separator", sc.Name, def.Name), Field: "subcommands[].name"}
		}
		if seen[sc.Name] {
			return apperror.New(apperror.ConfigInvalid, "duplicate subcommand %q in tool %q", sc.Name, def.Name)
		}
		seen[sc.Name] = true
		if sc.IsSequence() && len(sc.Sequence) == 0 {
			return apperror.New(apperror.ConfigInvalid, "subcommand %q of tool %q declares a sequence but it is empty", sc.Name, def.Name)
		}
	}
	return nil
}

// validateSequenceGraph checks that every SequenceStep.tool resolves
// within this load, and detects cycles (spec §4.1, §9: "The load-time
// check ... MUST also detect cycles").
func validateSequenceGraph(defs map[string]*ToolDefinition) *apperror.Error {
	type edge struct{ from, to string }
	var edges []edge

	resolveStepTarget := func(step SequenceStep) (string, bool) {
		target, ok := defs[step.Tool]
		if !ok {
			return "", false
		}
		if step.Subcommand == "" || step.Subcommand == "default" {
			return step.Tool, true
		}
		for _, sc := range target.Subcommands {
			if sc.Name == step.Subcommand {
				return step.Tool, true
			}
		}
		return "", false
	}

	for name, def := range defs {
		steps := def.Sequence
		for _, sc := range def.Subcommands {
			steps = append(steps, sc.Sequence...)
		}
		for _, step := range steps {
			resolved, ok := resolveStepTarget(step)
			if !ok {
				return apperror.New(apperror.ConfigInvalid, "sequence step in %q references unresolved tool/subcommand %q/%q", name, step.Tool, step.Subcommand)
			}
			edges = append(edges, edge{from: name, to: resolved})
		}
	}

	adj := make(map[string][]string)
	for _, e := range edges {
		adj[e.from] = append(adj[e.from], e.to)
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int)
	var visit func(n string) *apperror.Error
	visit = func(n string) *apperror.Error {
		color[n] = gray
		for _, next := range adj[n] {
			switch color[next] {
			case gray:
				return apperror.New(apperror.ConfigInvalid, "cycle detected in sequence graph involving tool %q", next)
			case white:
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		color[n] = black
		return nil
	}
	for name := range defs {
		if color[name] == white {
			if err := visit(name); err != nil {
				return err
			}
		}
	}
	return nil
}

// probeAvailability runs check as a shell expression inside scope, the
// same "returns 0 iff the tool is usable" contract as any other bound
// invocation (spec §3 availability_check). It does not go through the
// sandbox or shell pool: it runs once at load time, before any session
// operation exists to attribute it to.
func probeAvailability(check, scope string) (ok bool, detail string) {
	cmd := exec.Command("/bin/sh", "-c", check)
	cmd.Dir = scope
	out, err := cmd.CombinedOutput()
	if err != nil {
		return false, strings.TrimSpace(string(out))
	}
	return true, ""
}

// Lookup returns a tool definition by its registered (non-qualified) name.
func (r *Registry) Lookup(name string) (*ToolDefinition, bool) {
	def, ok := r.byName[name]
	return def, ok
}

// ResolveKey implements the subcommand key resolution algorithm (spec
// §4.1): the caller's external key either equals a definition's name, or
// equals name_subcommand for exactly one subcommand.
func (r *Registry) ResolveKey(externalKey string) (tool *ToolDefinition, subcommand *Subcommand, ok bool) {
	if def, found := r.byName[externalKey]; found {
		return def, nil, true
	}
	if entry, found := r.bySubKey[externalKey]; found {
		def := r.byName[entry.tool]
		for i := range def.Subcommands {
			if def.Subcommands[i].Name == entry.sub {
				return def, &def.Subcommands[i], true
			}
		}
	}
	return nil, nil, false
}

// List returns every enabled tool definition in load order (spec §4.1
// list; built-ins are layered on top by the dispatcher, not here).
func (r *Registry) List() []*ToolDefinition {
	out := make([]*ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		def := r.byName[name]
		if def.IsEnabled() {
			out = append(out, def)
		}
	}
	return out
}
