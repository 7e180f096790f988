// Package executor implements the adapter/executor (component C6, spec
// §4.6): running one bound argv list to completion, choosing between the
// shell pool and a direct spawn, applying the sandbox policy, enforcing a
// deadline with a terminate/grace/kill escalation, and capping output.
//
// The pooled substrate applies the sandbox policy and environment filter
// once, when shellpool spawns a worker shell (the policy is immutable for
// the server's lifetime, spec §1), rather than per run; runDirect applies
// both per invocation since a direct spawn has no persistent process to
// pre-confine.
package executor

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/paulirotta/ahma-mcp-go/internal/envfilter"
	"github.com/paulirotta/ahma-mcp-go/internal/output"
	"github.com/paulirotta/ahma-mcp-go/internal/sandbox"
	"github.com/paulirotta/ahma-mcp-go/internal/shellpool"
)

// ErrEmptyCommand is returned by Run when argv is empty.
var ErrEmptyCommand = errors.New("executor: empty argv")

// GracePeriod is how long a timed-out or cancelled process is given to
// exit after SIGTERM before the executor escalates to SIGKILL (spec §4.6
// "send a terminate signal, wait a short grace period, then a kill
// signal").
const GracePeriod = 2 * time.Second

// Outcome is the result of running one command (spec §4.6).
type Outcome struct {
	ExitCode       int
	CombinedOutput string
	Truncated      bool
	Duration       time.Duration
	TimedOut       bool
	Cancelled      bool
}

// Executor runs bound commands, preferring a pooled shell for the target
// working directory and falling back to a direct spawn.
type Executor struct {
	shells  *shellpool.Pool
	sandbox sandbox.Manager
	envPol  envfilter.Policy
	log     zerolog.Logger
}

// New constructs an Executor. shells may be nil, in which case every run
// uses a direct spawn.
func New(shells *shellpool.Pool, mgr sandbox.Manager, envPol envfilter.Policy, log zerolog.Logger) *Executor {
	return &Executor{shells: shells, sandbox: mgr, envPol: envPol, log: log}
}

// Run executes argv[0] with argv[1:] inside workingDirectory, honoring
// timeout, and returns its Outcome (spec §4.6 run).
func (e *Executor) Run(ctx context.Context, argv []string, workingDirectory string, policy *sandbox.Policy, timeout time.Duration) (Outcome, error) {
	if e.shells != nil {
		return e.runPooled(ctx, argv, workingDirectory, timeout)
	}
	return e.runDirect(ctx, argv, workingDirectory, policy, timeout)
}

func (e *Executor) runPooled(ctx context.Context, argv []string, workingDirectory string, timeout time.Duration) (Outcome, error) {
	handle, err := e.shells.Acquire(ctx, workingDirectory)
	if err != nil {
		return Outcome{}, err
	}

	script := shellpool.QuoteScript(argv)
	start := time.Now()
	exitCode, raw, execErr := e.shells.Execute(ctx, handle, script, timeout)
	timedOut := errors.Is(execErr, shellpool.ErrTimeout)
	cancelled := errors.Is(execErr, shellpool.ErrCancelled)
	e.shells.Release(handle, execErr == nil)
	duration := time.Since(start)

	capped, truncated := output.Limit(raw)
	combined := string(capped)
	if truncated {
		combined += output.TruncationMarker
	}

	if execErr != nil && !timedOut && !cancelled {
		return Outcome{}, execErr
	}

	return Outcome{
		ExitCode:       exitCode,
		CombinedOutput: combined,
		Truncated:      truncated,
		Duration:       duration,
		TimedOut:       timedOut,
		Cancelled:      cancelled,
	}, nil
}

func (e *Executor) runDirect(ctx context.Context, argv []string, workingDirectory string, policy *sandbox.Policy, timeout time.Duration) (Outcome, error) {
	if len(argv) == 0 {
		return Outcome{}, ErrEmptyCommand
	}

	spec := sandbox.CommandSpec{Program: argv[0], Args: argv[1:], Cwd: workingDirectory}
	env, err := e.sandbox.Wrap(spec, policy)
	if err != nil {
		return Outcome{}, err
	}

	cmd := exec.Command(env.Command[0], env.Command[1:]...)
	cmd.Dir = env.Cwd
	cmd.Env = envfilter.ToSlice(envfilter.Merge(envfilter.Build(e.envPol), env.Env))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return Outcome{}, err
	}

	var timedOut, cancelled int32
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	// escalate sends SIGTERM, then SIGKILL if the process hasn't exited
	// within GracePeriod; it returns the eventual Wait() error from done.
	escalate := func(flag *int32) error {
		atomic.StoreInt32(flag, 1)
		if cmd.Process != nil {
			_ = cmd.Process.Signal(syscall.SIGTERM)
		}
		select {
		case err := <-done:
			return err
		case <-time.After(GracePeriod):
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
			return <-done
		}
	}

	start := time.Now()
	var runErr error
	select {
	case runErr = <-done:
	case <-time.After(timeout):
		runErr = escalate(&timedOut)
	case <-ctx.Done():
		runErr = escalate(&cancelled)
	}
	duration := time.Since(start)

	combinedRaw := output.Aggregate(stdout.Bytes(), stderr.Bytes())
	capped, truncated := output.Limit(combinedRaw)
	if stdout.Len()+stderr.Len() > output.MaxBytes {
		truncated = true
	}
	combined := string(capped)
	if truncated {
		combined += output.TruncationMarker
	}

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	return Outcome{
		ExitCode:       exitCode,
		CombinedOutput: combined,
		Truncated:      truncated,
		Duration:       duration,
		TimedOut:       atomic.LoadInt32(&timedOut) == 1,
		Cancelled:      atomic.LoadInt32(&cancelled) == 1,
	}, nil
}

