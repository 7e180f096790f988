// Package dispatcher implements the MCP tools/list and tools/call surface
// (component C7, spec §4.7): routing calls to built-ins, single-command
// tools, subcommand sequences, or cross-tool sequences, and resolving the
// execution-mode inheritance chain.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/paulirotta/ahma-mcp-go/internal/apperror"
	"github.com/paulirotta/ahma-mcp-go/internal/argbind"
	"github.com/paulirotta/ahma-mcp-go/internal/executor"
	"github.com/paulirotta/ahma-mcp-go/internal/mtdf"
	"github.com/paulirotta/ahma-mcp-go/internal/notify"
	"github.com/paulirotta/ahma-mcp-go/internal/opmon"
	"github.com/paulirotta/ahma-mcp-go/internal/sandbox"
	"github.com/paulirotta/ahma-mcp-go/internal/shellpool"
)

// DefaultTimeout is used when a tool declares no timeout_seconds.
const DefaultTimeout = 5 * time.Minute

// CallResult is the caller-facing outcome of a tools/call (spec §4.7 step
// 6): a synchronous result, or an asynchronous receipt.
type CallResult struct {
	IsError     bool
	Text        string
	OperationID string // set only for the async receipt path
	Async       bool
}

// Dispatcher implements spec §4.7's full dispatch algorithm.
type Dispatcher struct {
	registry  *mtdf.Registry
	monitor   *opmon.Monitor
	exec      *executor.Executor
	shells    *shellpool.Pool
	sandbox   *sandbox.Policy
	notifier  *notify.Channel
	forceSync bool
	scope     string
	log       zerolog.Logger
}

// Config wires a Dispatcher's collaborators.
type Config struct {
	Registry  *mtdf.Registry
	Monitor   *opmon.Monitor
	Executor  *executor.Executor
	Shells    *shellpool.Pool
	Sandbox   *sandbox.Policy
	Notifier  *notify.Channel
	ForceSync bool
	Scope     string
	Log       zerolog.Logger
}

func New(cfg Config) *Dispatcher {
	return &Dispatcher{
		registry:  cfg.Registry,
		monitor:   cfg.Monitor,
		exec:      cfg.Executor,
		shells:    cfg.Shells,
		sandbox:   cfg.Sandbox,
		notifier:  cfg.Notifier,
		forceSync: cfg.ForceSync,
		scope:     cfg.Scope,
		log:       cfg.Log,
	}
}

// SwapRegistry atomically replaces the live registry snapshot (used by C9
// hot-reload on a successful re-load; spec §4.9).
func (d *Dispatcher) SwapRegistry(r *mtdf.Registry) {
	d.registry = r
}

// Call implements the tools/call dispatch algorithm (spec §4.7 steps
// 1-6).
func (d *Dispatcher) Call(ctx context.Context, name string, args map[string]any) CallResult {
	if mtdf.BuiltinNames[name] {
		return d.callBuiltin(ctx, name, args)
	}

	tool, sub, ok := d.registry.ResolveKey(name)
	if !ok {
		return errorResult(apperror.New(apperror.ToolUnknown, "unknown tool %q", name))
	}
	if !tool.IsEnabled() {
		return errorResult(apperror.New(apperror.ToolUnknown, "tool %q is disabled", name))
	}
	if tool.AvailabilityProbed && !tool.AvailabilityOK {
		return errorResult(&apperror.Error{
			Kind:                apperror.AvailabilityFailed,
			Message:             fmt.Sprintf("tool %q failed its availability check: %s", tool.Name, tool.AvailabilityDetail),
			InstallInstructions: tool.InstallInstructions,
		})
	}

	mode := resolveExecutionMode(d.forceSync, tool, sub)

	if tool.IsSequence() {
		return d.runSequence(ctx, tool.Name, "", tool.Sequence, tool.StepDelayMs, args)
	}
	if sub != nil && sub.IsSequence() {
		return d.runSequence(ctx, tool.Name, sub.Name, sub.Sequence, sub.StepDelayMs, args)
	}

	return d.runSingle(ctx, tool, sub, mode, args)
}

// runSingle binds args, creates an operation, and executes it either
// synchronously or in the background (spec §4.7 step 6).
func (d *Dispatcher) runSingle(ctx context.Context, tool *mtdf.ToolDefinition, sub *mtdf.Subcommand, mode opmon.Mode, args map[string]any) CallResult {
	options, positional, subName := optionsFor(sub)

	workingDirectory, _ := args["working_directory"].(string)
	if workingDirectory == "" {
		workingDirectory = d.scope
	}
	if _, verr := sandbox.ValidatePath(workingDirectory, d.scope, d.scope); verr != nil {
		return errorResult(apperror.Wrap(apperror.SandboxViolation, verr, "working_directory %q escapes session scope", workingDirectory))
	}

	argv, meta, berr := argbind.Bind(args, options, positional, workingDirectory, d.scope)
	if berr != nil {
		return errorResult(berr)
	}

	fullArgv := append([]string{tool.Command}, argv...)
	timeout := timeoutFor(tool, meta)

	op, runCtx, cancel := d.monitor.Create(ctx, tool.Name, subName, mode, meta.WorkingDirectory)
	_ = cancel // retained for future protocol-cancel wiring via Cancel(op.ID)

	runOnce := func() (executor.Outcome, error) {
		if err := d.monitor.MarkRunning(op.ID, time.Now()); err != nil {
			d.log.Error().Err(err).Str("operation_id", op.ID).Msg("dispatcher: mark_running failed")
		}
		return d.exec.Run(runCtx, fullArgv, meta.WorkingDirectory, d.sandbox, timeout)
	}

	if mode == opmon.ModeSync {
		outcome, err := runOnce()
		d.commit(op.ID, outcome, err)
		final, _ := d.monitor.Lookup(op.ID)
		return resultFromOperation(final)
	}

	go func() {
		outcome, err := runOnce()
		d.commit(op.ID, outcome, err)
		final, _ := d.monitor.Lookup(op.ID)
		if final != nil {
			d.notifier.PostCompletion(notify.CompletionNotification{
				OperationID:           final.ID,
				TerminalStatus:        final.Status,
				ExitCode:              final.Result.ExitCode,
				CombinedOutputExcerpt: notify.Excerpt(final.Result.CombinedOutput),
			})
		}
	}()

	return CallResult{
		Async:       true,
		OperationID: op.ID,
		Text:        fmt.Sprintf("Asynchronous operation started with ID: %s. Use \"await\" or \"status\" to retrieve its result.", op.ID),
	}
}

// commit maps an executor Outcome (or error) onto the monitor's terminal
// status and result (spec §4.6 exit-to-status mapping).
func (d *Dispatcher) commit(id string, outcome executor.Outcome, err error) {
	if err != nil {
		d.monitor.Complete(id, opmon.StatusFailed, opmon.Result{ErrorKind: string(apperror.KindOf(err))})
		return
	}

	status := opmon.StatusCompleted
	errorKind := ""
	switch {
	case outcome.Cancelled:
		status = opmon.StatusCancelled
		errorKind = string(apperror.Cancelled)
	case outcome.TimedOut:
		status = opmon.StatusTimedOut
		errorKind = string(apperror.Timeout)
	case outcome.ExitCode != 0:
		status = opmon.StatusFailed
		errorKind = string(apperror.ExecutionFailed)
	}

	d.monitor.Complete(id, status, opmon.Result{
		ExitCode:       outcome.ExitCode,
		StdoutBytes:    int64(len(outcome.CombinedOutput)),
		CombinedOutput: outcome.CombinedOutput,
		ErrorKind:      errorKind,
	})
}

func optionsFor(sub *mtdf.Subcommand) (options, positional []mtdf.Option, subName string) {
	if sub != nil {
		return sub.Options, sub.PositionalArgs, sub.Name
	}
	return nil, nil, ""
}

func timeoutFor(tool *mtdf.ToolDefinition, meta argbind.Meta) time.Duration {
	if meta.TimeoutSeconds > 0 {
		return time.Duration(meta.TimeoutSeconds) * time.Second
	}
	if tool.TimeoutSeconds > 0 {
		return time.Duration(tool.TimeoutSeconds) * time.Second
	}
	return DefaultTimeout
}

// resolveExecutionMode implements the precedence chain in spec §4.7:
// force-sync flag > subcommand.synchronous > tool.synchronous > Async.
// This is a pure function of its inputs (P8).
func resolveExecutionMode(forceSync bool, tool *mtdf.ToolDefinition, sub *mtdf.Subcommand) opmon.Mode {
	if forceSync {
		return opmon.ModeSync
	}
	if sub != nil && sub.Synchronous != nil {
		return boolToMode(*sub.Synchronous)
	}
	if tool.Synchronous != nil {
		return boolToMode(*tool.Synchronous)
	}
	return opmon.ModeAsync
}

func boolToMode(sync bool) opmon.Mode {
	if sync {
		return opmon.ModeSync
	}
	return opmon.ModeAsync
}

func errorResult(err *apperror.Error) CallResult {
	return CallResult{IsError: true, Text: err.Error()}
}

func resultFromOperation(op *opmon.Operation) CallResult {
	if op == nil {
		return CallResult{IsError: true, Text: "internal error: operation vanished after synchronous execution"}
	}
	isError := op.Status != opmon.StatusCompleted || op.Result.ExitCode != 0
	text := op.Result.CombinedOutput
	if isError && op.Result.ErrorKind != "" {
		text = fmt.Sprintf("[%s] %s", op.Result.ErrorKind, text)
	}
	return CallResult{IsError: isError, Text: text}
}

// stripUnderscoreDefault normalizes the "default" subcommand convention
// used by SequenceStep (spec §3: "subcommand may be 'default' to mean the
// tool's sole entry point").
func stripUnderscoreDefault(s string) string {
	if s == "default" {
		return ""
	}
	return s
}
