// Package mcpserver binds the dispatcher (C7) to the MCP protocol surface
// over github.com/modelcontextprotocol/go-sdk: translating the tool
// registry into mcp.Tool entries, routing tools/call through
// Dispatcher.Call, and re-syncing the advertised tool set on hot-reload
// (C9) via the SDK's own AddTool/RemoveTool change notifications.
package mcpserver

import (
	"context"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/paulirotta/ahma-mcp-go/internal/dispatcher"
	"github.com/paulirotta/ahma-mcp-go/internal/mtdf"
)

// builtinSchemas describes the four fixed control tools' input shapes,
// matching spec §6's "Built-in argument schemas" contract verbatim;
// unlike MTDF-declared tools these are never schema_for'd from an Option
// list, since they take fixed, built-in argument names.
var builtinSchemas = map[string]*jsonschema.Schema{
	"status": {
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"operation_id": {Type: "string"},
			"tool":         {Type: "string"},
		},
	},
	"await": {
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"operation_ids":   {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
			"tools":           {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
			"timeout_seconds": {Type: "integer"},
		},
	},
	"cancel": {
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"operation_id": {Type: "string"},
			"reason":       {Type: "string"},
		},
		Required: []string{"operation_id"},
	},
	"sandboxed_shell": {
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"command":           {Type: "string"},
			"working_directory": {Type: "string"},
		},
		Required: []string{"command"},
	},
}

// Server adapts a Dispatcher onto the MCP tools/list + tools/call surface.
type Server struct {
	mcpSrv   *mcp.Server
	dispatch *dispatcher.Dispatcher
	log      zerolog.Logger

	mu    sync.Mutex
	known map[string]bool // external keys currently registered with mcpSrv
}

// New constructs a Server, registers the four built-ins, and syncs the
// initial registry snapshot's tools.
func New(impl *mcp.Implementation, d *dispatcher.Dispatcher, initial *mtdf.Registry, log zerolog.Logger) *Server {
	srv := mcp.NewServer(impl, &mcp.ServerOptions{
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{ListChanged: true},
		},
	})

	s := &Server{mcpSrv: srv, dispatch: d, log: log, known: make(map[string]bool)}
	s.registerBuiltins()
	s.SwapRegistry(initial)
	return s
}

// Run serves tools/call and tools/list over stdio until ctx is cancelled
// (spec §1: "the transport is out of scope beyond stdio/HTTP framing").
func (s *Server) Run(ctx context.Context) error {
	return s.mcpSrv.Run(ctx, &mcp.StdioTransport{})
}

// SwapRegistry implements hotreload.RegistrySwapper: it updates the
// dispatcher's live snapshot and re-syncs the MCP tool list to match,
// relying on the SDK's AddTool/RemoveTool to emit the tools/list_changed
// notification the ListChanged capability advertises (spec §4.9).
func (s *Server) SwapRegistry(r *mtdf.Registry) {
	s.dispatch.SwapRegistry(r)
	s.syncTools(r)
}

func (s *Server) registerBuiltins() {
	for name, schema := range builtinSchemas {
		mcp.AddTool(s.mcpSrv, &mcp.Tool{Name: name, InputSchema: schema}, s.handlerFor(name))
	}
}

// syncTools diffs the previous advertised tool set against r's external
// keys, removing stale entries and adding/replacing the rest (spec §4.9:
// "atomically replace the live snapshot" — here, the MCP-visible tool
// list follows the same snapshot).
func (s *Server) syncTools(r *mtdf.Registry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[string]*mcp.Tool)
	for _, def := range r.List() {
		if len(def.Subcommands) == 0 {
			want[def.Name] = &mcp.Tool{Name: def.Name, Description: describeTool(def), InputSchema: mtdf.SchemaForTool(def)}
			continue
		}
		for i := range def.Subcommands {
			sub := &def.Subcommands[i]
			key := def.Name + "_" + sub.Name
			want[key] = &mcp.Tool{Name: key, Description: sub.Description, InputSchema: mtdf.SchemaFor(sub.Options, sub.PositionalArgs)}
		}
	}

	for key := range s.known {
		if _, ok := want[key]; !ok {
			s.mcpSrv.RemoveTool(key)
			delete(s.known, key)
		}
	}
	for key, tool := range want {
		mcp.AddTool(s.mcpSrv, tool, s.handlerFor(key))
		s.known[key] = true
	}
}

func describeTool(def *mtdf.ToolDefinition) string {
	if def.IsSequence() {
		return "cross-tool sequence"
	}
	return ""
}

// handlerFor closes over an external key and routes tools/call to the
// dispatcher, translating its CallResult into an mcp.CallToolResult
// (spec §4.7 step 6: synchronous result or asynchronous receipt, both
// carried as plain text content).
func (s *Server) handlerFor(externalKey string) func(context.Context, *mcp.CallToolRequest, map[string]any) (*mcp.CallToolResult, map[string]any, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input map[string]any) (*mcp.CallToolResult, map[string]any, error) {
		result := s.dispatch.Call(ctx, externalKey, input)
		return &mcp.CallToolResult{
			IsError: result.IsError,
			Content: []mcp.Content{&mcp.TextContent{Text: result.Text}},
		}, nil, nil
	}
}
