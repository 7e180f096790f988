// Package argbind implements the argument binder (component C5, spec §4.5):
// translating a structured-argument map plus a Subcommand schema into a
// command-line argv, stripping meta-parameters and enforcing path-format
// sandbox validation before spawn.
//
// Design note (spec §9): the source passes type-erased JSON maps around.
// Here every declared option value is parsed exactly once into the closed
// tagged sum Value{String|Bool|Int|StringArray} at the dispatcher boundary;
// the executor never sees raw JSON again.
package argbind

import (
	"fmt"

	"github.com/paulirotta/ahma-mcp-go/internal/mtdf"
)

// Kind is the closed variant tag for a bound value.
type Kind int

const (
	KindString Kind = iota
	KindBool
	KindInt
	KindStringArray
)

// Value is the typed replacement for a raw JSON argument (spec §9
// TypedValue).
type Value struct {
	Kind Kind
	S    string
	B    bool
	I    int64
	A    []string
}

// MetaParams are the reserved argument keys the dispatcher/executor
// interpret directly and that are never emitted as CLI flags (spec §3, §4.5
// step 1).
var MetaParams = map[string]bool{
	"working_directory": true,
	"execution_mode":    true,
	"timeout_seconds":   true,
}

// Meta carries the stripped meta-parameters for one call.
type Meta struct {
	WorkingDirectory string
	ExecutionMode    string // "" | "Sync" | "Async"
	TimeoutSeconds   int
}

func parseTyped(raw any, t mtdf.OptionType, name string) (Value, error) {
	switch t {
	case mtdf.TypeString:
		s, ok := raw.(string)
		if !ok {
			return Value{}, fmt.Errorf("option %q: expected string, got %T", name, raw)
		}
		return Value{Kind: KindString, S: s}, nil
	case mtdf.TypeBoolean:
		b, ok := raw.(bool)
		if !ok {
			return Value{}, fmt.Errorf("option %q: expected boolean, got %T", name, raw)
		}
		return Value{Kind: KindBool, B: b}, nil
	case mtdf.TypeInteger:
		switch v := raw.(type) {
		case float64:
			return Value{Kind: KindInt, I: int64(v)}, nil
		case int64:
			return Value{Kind: KindInt, I: v}, nil
		case int:
			return Value{Kind: KindInt, I: int64(v)}, nil
		default:
			return Value{}, fmt.Errorf("option %q: expected integer, got %T", name, raw)
		}
	case mtdf.TypeArray:
		arr, ok := raw.([]any)
		if !ok {
			return Value{}, fmt.Errorf("option %q: expected array, got %T", name, raw)
		}
		out := make([]string, 0, len(arr))
		for _, el := range arr {
			s, ok := el.(string)
			if !ok {
				return Value{}, fmt.Errorf("option %q: array elements must be strings, got %T", name, el)
			}
			out = append(out, s)
		}
		return Value{Kind: KindStringArray, A: out}, nil
	default:
		return Value{}, fmt.Errorf("option %q: unknown declared type %q", name, t)
	}
}
