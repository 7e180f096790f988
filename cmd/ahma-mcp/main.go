// Command ahma-mcp serves the protocol-agnostic MCP tool execution
// engine over stdio: it loads a tool registry (MTDF) and an optional
// server.toml, wires the sandbox, shell pool, operation monitor,
// dispatcher, and hot-reload watcher together, then blocks serving
// tools/list and tools/call until the process receives an interrupt.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/paulirotta/ahma-mcp-go/internal/config"
	"github.com/paulirotta/ahma-mcp-go/internal/dispatcher"
	"github.com/paulirotta/ahma-mcp-go/internal/executor"
	"github.com/paulirotta/ahma-mcp-go/internal/hotreload"
	"github.com/paulirotta/ahma-mcp-go/internal/logging"
	"github.com/paulirotta/ahma-mcp-go/internal/mcpserver"
	"github.com/paulirotta/ahma-mcp-go/internal/mtdf"
	"github.com/paulirotta/ahma-mcp-go/internal/notify"
	"github.com/paulirotta/ahma-mcp-go/internal/opmon"
	"github.com/paulirotta/ahma-mcp-go/internal/sandbox"
	"github.com/paulirotta/ahma-mcp-go/internal/shellpool"
	"github.com/paulirotta/ahma-mcp-go/internal/version"
)

func main() {
	configPath := flag.String("config", "", "Path to server.toml (defaults applied when omitted)")
	scope := flag.String("scope", "", "Session working-directory root (overrides [sandbox].scope)")
	disableSandbox := flag.Bool("disable-sandbox", false, "Explicitly opt out of kernel-level confinement")
	forceSync := flag.Bool("force-sync", false, "Resolve every tool call synchronously regardless of its declared mode")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	logPretty := flag.Bool("log-pretty", false, "Render logs as human-readable console output instead of JSON")
	flag.Parse()

	log := logging.New(logging.Config{Level: *logLevel, Pretty: *logPretty})

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", *configPath).Msg("ahma-mcp: loading config")
		}
		cfg = loaded
	}
	if *forceSync {
		cfg.Dispatch.ForceSync = true
	}

	scopeDir := cfg.Sandbox.Scope
	if *scope != "" {
		scopeDir = *scope
	}
	if scopeDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			log.Fatal().Err(err).Msg("ahma-mcp: resolving working directory")
		}
		scopeDir = wd
	}

	sandboxMgr, err := sandbox.New(*disableSandbox || cfg.Sandbox.Disabled)
	if err != nil {
		log.Fatal().Err(err).Msg("ahma-mcp: sandbox unavailable; refusing to start unconfined (see spec §4.2)")
	}
	policy := &sandbox.Policy{
		Scope:              scopeDir,
		ExtraWritableRoots: cfg.Sandbox.ExtraWritableRoots,
		Disabled:           *disableSandbox || cfg.Sandbox.Disabled,
	}

	registry, loadErrs, err := mtdf.Load(cfg.Server.DefinitionsDir, scopeDir, log)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.Server.DefinitionsDir).Msg("ahma-mcp: loading tool definitions")
	}
	for _, le := range loadErrs {
		log.Warn().Err(le).Msg("ahma-mcp: skipped a malformed tool definition")
	}
	log.Info().Int("tool_count", len(registry.List())).Msg("ahma-mcp: tool registry loaded")

	shells := shellpool.New(shellpool.Config{
		MaxPerDirectory: cfg.ShellPool.MaxPerDirectory,
		IdleTTL:         cfg.IdleTTL(),
	}, sandboxMgr, policy, cfg.Exec.Env, log)
	defer shells.Close()

	monitor := opmon.New(opmon.Config{
		RetentionWindow: cfg.RetentionWindow(),
		MaxHistory:      cfg.Monitor.MaxHistory,
	}, log)

	exec := executor.New(shells, sandboxMgr, cfg.Exec.Env, log)
	notifier := notify.NewChannel(cfg.Server.NotificationBufSize, log)

	dispatch := dispatcher.New(dispatcher.Config{
		Registry:  registry,
		Monitor:   monitor,
		Executor:  exec,
		Shells:    shells,
		Sandbox:   policy,
		Notifier:  notifier,
		ForceSync: cfg.Dispatch.ForceSync,
		Scope:     scopeDir,
		Log:       log,
	})

	impl := &mcp.Implementation{Name: "ahma-mcp", Version: version.String()}
	srv := mcpserver.New(impl, dispatch, registry, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher := hotreload.New(cfg.Server.DefinitionsDir, scopeDir, srv, notifier, log)
	go func() {
		if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("ahma-mcp: hot-reload watcher stopped")
		}
	}()

	log.Info().Str("scope", scopeDir).Bool("sandbox_disabled", policy.Disabled).Msg("ahma-mcp: serving tools/list and tools/call over stdio")
	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "ahma-mcp: server error: %v\n", err)
		os.Exit(1)
	}
}
