package dispatcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/paulirotta/ahma-mcp-go/internal/apperror"
	"github.com/paulirotta/ahma-mcp-go/internal/opmon"
)

// defaultAwaitTimeout bounds an await call that specifies no
// timeout_seconds of its own (spec §4.7 built-in "await").
const defaultAwaitTimeout = 5 * time.Minute

// callBuiltin implements the four fixed control tools that the dispatcher
// always serves itself, never shadowable by a definition file (spec §4.1,
// §4.7): status, await, cancel, sandboxed_shell.
func (d *Dispatcher) callBuiltin(ctx context.Context, name string, args map[string]any) CallResult {
	switch name {
	case "status":
		return d.builtinStatus(args)
	case "await":
		return d.builtinAwait(ctx, args)
	case "cancel":
		return d.builtinCancel(args)
	case "sandboxed_shell":
		return d.builtinSandboxedShell(ctx, args)
	default:
		return errorResult(apperror.New(apperror.InternalError, "unregistered built-in %q", name))
	}
}

// builtinStatus is a synchronous, pure read of the monitor's active set
// and history (spec §6: "status: { operation_id?: string, tool?: string }
// -> list of operation summaries").
func (d *Dispatcher) builtinStatus(args map[string]any) CallResult {
	if id, ok := args["operation_id"].(string); ok && id != "" {
		op, found := d.monitor.Lookup(id)
		if !found {
			return CallResult{Text: fmt.Sprintf("%s: not found", id)}
		}
		return CallResult{Text: fmt.Sprintf("%s: %s", id, describeOperation(op))}
	}

	toolName, _ := args["tool"].(string)
	active := d.monitor.ListActive(toolName)
	if len(active) == 0 {
		return CallResult{Text: "no active operations"}
	}
	var b strings.Builder
	for i, op := range active {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s: %s", op.ID, describeOperation(op))
	}
	return CallResult{Text: b.String()}
}

// builtinAwait blocks until every named operation reaches a terminal
// status or timeout_seconds elapses (spec §6: "await: { operation_ids?:
// string[], tools?: string[], timeout_seconds?: integer }"). tools
// expands to every operation currently active under one of those tool
// names, in addition to any explicit operation_ids. Returning early on
// one id never cancels the wait for the others — Monitor.Await already
// guarantees that (P4).
func (d *Dispatcher) builtinAwait(ctx context.Context, args map[string]any) CallResult {
	ids := stringList(args["operation_ids"])
	for _, tool := range stringList(args["tools"]) {
		for _, op := range d.monitor.ListActive(tool) {
			ids = append(ids, op.ID)
		}
	}
	ids = dedup(ids)
	if len(ids) == 0 {
		return errorResult(apperror.New(apperror.ArgumentInvalid, "await requires at least one operation_id or tool"))
	}

	deadline := time.Now().Add(defaultAwaitTimeout)
	if secs, ok := numberArg(args["timeout_seconds"]); ok && secs > 0 {
		deadline = time.Now().Add(time.Duration(secs * float64(time.Second)))
	}

	results := d.monitor.Await(ctx, ids, deadline)

	var b strings.Builder
	for i, id := range ids {
		if i > 0 {
			b.WriteString("\n")
		}
		op := results[id]
		if op == nil {
			fmt.Fprintf(&b, "%s: not found", id)
			continue
		}
		fmt.Fprintf(&b, "%s: %s", id, describeOperation(op))
	}
	return CallResult{Text: b.String()}
}

// builtinCancel requests cancellation of one operation (spec §6: "cancel:
// { operation_id: string, reason?: string } -> ack"); cancelling an
// unknown or already-terminal id is a no-op, never an error (P7). reason
// is carried through to the log line for operator traceability, since the
// monitor's cancel token itself carries no payload.
func (d *Dispatcher) builtinCancel(args map[string]any) CallResult {
	id, _ := args["operation_id"].(string)
	if id == "" {
		return errorResult(apperror.New(apperror.ArgumentInvalid, "cancel requires \"operation_id\""))
	}
	reason, _ := args["reason"].(string)

	requested := d.monitor.Cancel(id)
	d.log.Info().Str("operation_id", id).Str("reason", reason).Bool("cancel_requested", requested).Msg("dispatcher: cancel requested")
	return CallResult{Text: fmt.Sprintf("%s: cancel_requested=%t", id, requested)}
}

// builtinSandboxedShell is the general escape hatch (spec §6:
// "sandboxed_shell: { command: string, working_directory?: string } ->
// runs command via the shell pool; command is a complete shell
// expression"). It always runs synchronously: a raw shell command, unlike
// a bound MTDF command, carries no execution-mode declaration of its own.
func (d *Dispatcher) builtinSandboxedShell(ctx context.Context, args map[string]any) CallResult {
	command, _ := args["command"].(string)
	if strings.TrimSpace(command) == "" {
		return errorResult(apperror.New(apperror.ArgumentInvalid, "sandboxed_shell requires a non-empty \"command\""))
	}

	workingDirectory, _ := args["working_directory"].(string)
	if workingDirectory == "" {
		workingDirectory = d.scope
	}

	argv := []string{"/bin/sh", "-c", command}
	op, runCtx, _ := d.monitor.Create(ctx, "sandboxed_shell", "", opmon.ModeSync, workingDirectory)
	if err := d.monitor.MarkRunning(op.ID, time.Now()); err != nil {
		d.log.Error().Err(err).Str("operation_id", op.ID).Msg("dispatcher: mark_running failed")
	}

	outcome, err := d.exec.Run(runCtx, argv, workingDirectory, d.sandbox, DefaultTimeout)
	d.commit(op.ID, outcome, err)
	final, _ := d.monitor.Lookup(op.ID)
	return resultFromOperation(final)
}

func describeOperation(op *opmon.Operation) string {
	if !op.Status.IsTerminal() {
		return fmt.Sprintf("status=%s tool=%s", op.Status, op.ToolName)
	}
	return fmt.Sprintf("status=%s exit_code=%d", op.Status, op.Result.ExitCode)
}

func stringList(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if vv == "" {
			return nil
		}
		return []string{vv}
	default:
		return nil
	}
}

func dedup(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func numberArg(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
