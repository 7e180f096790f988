package dispatcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/paulirotta/ahma-mcp-go/internal/apperror"
	"github.com/paulirotta/ahma-mcp-go/internal/mtdf"
	"github.com/paulirotta/ahma-mcp-go/internal/opmon"
)

// runSequence is the single sequence-execution function spec §9 calls for:
// top-level cross-tool sequences (§4.7a) and subcommand sequences (§4.7b)
// differ only in which ToolDefinition/Subcommand supplied the steps,
// already resolved by the caller — the execution algorithm itself is
// identical, so both paths in Call route here.
//
// The whole sequence is one logical operation from the caller's
// perspective (spec §4.7a): a single Operation is created for it, and
// individual steps are not separately visible to status/await. Each step
// runs synchronously regardless of its own declared execution mode (spec
// §4.7a: "each step runs to completion, in order, before the next
// begins"), stopping at the first failing step.
func (d *Dispatcher) runSequence(ctx context.Context, toolName, subName string, steps []mtdf.SequenceStep, stepDelayMs int, outerArgs map[string]any) CallResult {
	workingDirectory, _ := outerArgs["working_directory"].(string)
	if workingDirectory == "" {
		workingDirectory = d.scope
	}

	op, runCtx, _ := d.monitor.Create(ctx, toolName, subName, opmon.ModeSync, workingDirectory)
	if err := d.monitor.MarkRunning(op.ID, time.Now()); err != nil {
		d.log.Error().Err(err).Str("operation_id", op.ID).Msg("dispatcher: mark_running failed")
	}

	var out strings.Builder
	failed := false
	failedKind := ""

	for i, step := range steps {
		stepArgs := make(map[string]any, len(step.Args)+1)
		for k, v := range step.Args {
			stepArgs[k] = v
		}
		stepArgs["working_directory"] = workingDirectory

		subcommand := stripUnderscoreDefault(step.Subcommand)
		result := d.dispatchSync(runCtx, step.Tool, subcommand, stepArgs)

		if i > 0 {
			out.WriteString("\n")
		}
		fmt.Fprintf(&out, "--- step %d: %s ---\n", i+1, externalKey(step.Tool, subcommand))
		out.WriteString(result.Text)

		if result.IsError {
			failed = true
			failedKind = string(apperror.ExecutionFailed)
			break
		}

		if stepDelayMs > 0 && i < len(steps)-1 {
			time.Sleep(time.Duration(stepDelayMs) * time.Millisecond)
		}
	}

	status := opmon.StatusCompleted
	exitCode := 0
	if failed {
		status = opmon.StatusFailed
		exitCode = 1
	}
	d.monitor.Complete(op.ID, status, opmon.Result{
		ExitCode:       exitCode,
		CombinedOutput: out.String(),
		ErrorKind:      failedKind,
	})

	final, _ := d.monitor.Lookup(op.ID)
	return resultFromOperation(final)
}

// dispatchSync resolves a sequence step's callee and runs it in forced
// synchronous mode, recursing into runSequence if the step itself targets
// a sequence tool or subcommand (a sequence step may name another
// sequence; validateSequenceGraph at load time already rules out cycles).
// This is the "step resolver" parameter the unified sequence function is
// built around (spec §9): Call's own top-level routing and this function
// are the only two callers of runSequence, differing only in how the
// steps were obtained.
func (d *Dispatcher) dispatchSync(ctx context.Context, toolName, subcommandName string, args map[string]any) CallResult {
	if mtdf.BuiltinNames[toolName] {
		return d.callBuiltin(ctx, toolName, args)
	}

	key := toolName
	if subcommandName != "" {
		key = toolName + "_" + subcommandName
	}
	tool, sub, ok := d.registry.ResolveKey(key)
	if !ok {
		return errorResult(apperror.New(apperror.ToolUnknown, "sequence step references unknown tool/subcommand %q", key))
	}
	if !tool.IsEnabled() {
		return errorResult(apperror.New(apperror.ToolUnknown, "sequence step references disabled tool %q", tool.Name))
	}

	if tool.IsSequence() {
		return d.runSequence(ctx, tool.Name, "", tool.Sequence, tool.StepDelayMs, args)
	}
	if sub != nil && sub.IsSequence() {
		return d.runSequence(ctx, tool.Name, sub.Name, sub.Sequence, sub.StepDelayMs, args)
	}

	return d.runSingle(ctx, tool, sub, opmon.ModeSync, args)
}

func externalKey(tool, subcommand string) string {
	if subcommand == "" {
		return tool
	}
	return tool + "_" + subcommand
}
