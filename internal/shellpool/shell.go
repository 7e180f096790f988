// Package shellpool maintains per-directory pools of long-lived worker
// shells so repeated tool invocations in the same working directory avoid
// paying process-startup cost every time (spec §4.3, component C2).
//
// Each worker is a persistent PTY-backed shell, adapted from the teacher's
// internal/execsession.ExecSession (github.com/creack/pty background
// read-loop pattern), but framed around a sentinel end-of-command marker
// rather than poll-until-idle output collection, since the pool runs many
// short scripts back to back on the same shell instead of one long-lived
// interactive session.
package shellpool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/paulirotta/ahma-mcp-go/internal/envfilter"
	"github.com/paulirotta/ahma-mcp-go/internal/sandbox"
)

// ErrShellDead is returned by execute when the worker shell's PTY or
// underlying process has already gone away.
var ErrShellDead = errors.New("shellpool: worker shell is no longer usable")

// ErrTimeout is returned by execute when the command did not produce the
// completion marker before the deadline.
var ErrTimeout = errors.New("shellpool: command timed out")

// ErrCancelled is returned by execute when ctx is done before the
// command's completion marker arrives (spec §4.4/§5 process
// cancellation).
var ErrCancelled = errors.New("shellpool: command cancelled")

// terminateGrace mirrors executor.GracePeriod: how long a SIGTERM'd
// worker is given to exit before execute escalates to killing it
// outright (spec §4.6 "terminate signal, brief grace window, then kill").
const terminateGrace = 2 * time.Second

// worker is one persistent shell process pinned to a single directory for
// its entire lifetime (spec §9 design note: "Pool shell → working_directory
// coupling").
type worker struct {
	id  string
	dir string

	cmd     *exec.Cmd
	ptyFile *os.File

	mu       sync.Mutex
	lastUsed time.Time
	dead     bool

	log zerolog.Logger
}

// spawnWorker starts a persistent worker shell confined by mgr/policy and
// running under envPol's filtered environment, exactly as every other
// spawn on this server is confined (spec §4.2/§4.6: the sandbox applies to
// every spawn, not only pre-declared format:"path" option values).
func spawnWorker(dir string, mgr sandbox.Manager, policy *sandbox.Policy, envPol envfilter.Policy, log zerolog.Logger) (*worker, error) {
	spec := sandbox.CommandSpec{Program: "/bin/sh", Cwd: dir}
	env, err := mgr.Wrap(spec, policy)
	if err != nil {
		return nil, fmt.Errorf("shellpool: sandbox wrap worker in %s: %w", dir, err)
	}

	cmd := exec.Command(env.Command[0], env.Command[1:]...)
	cmd.Dir = env.Cwd
	cmd.Env = envfilter.ToSlice(envfilter.Merge(envfilter.Build(envPol), env.Env))

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 24, Cols: 200})
	if err != nil {
		return nil, fmt.Errorf("shellpool: spawn worker in %s: %w", dir, err)
	}

	id := uuid.NewString()
	w := &worker{
		id:       id,
		dir:      dir,
		cmd:      cmd,
		ptyFile:  ptmx,
		lastUsed: time.Now(),
		log:      log.With().Str("worker_id", id).Str("dir", dir).Logger(),
	}
	return w, nil
}

// execute writes script to the shell, appending the stream-merging suffix
// (2>&1) and a completion marker, then reads back combined output until the
// marker frame is observed, ctx is cancelled, or timeout elapses (spec
// §4.3 execute, §4.4/§5 process cancellation).
//
// Every script submitted to the pool gets "2>&1" appended so the caller
// always observes one chronologically ordered byte stream (spec §4.3
// invariant, §6 Output convention).
func (w *worker) execute(ctx context.Context, script string, timeout time.Duration) (exitCode int, output []byte, err error) {
	w.mu.Lock()
	if w.dead {
		w.mu.Unlock()
		return -1, nil, ErrShellDead
	}
	w.mu.Unlock()

	// The marker reaches printf in two halves so the PTY's echo of this
	// input never contains it; the script runs in a subshell so an "exit"
	// in it ends the subshell, not the worker shell.
	markerHead, markerTail := "__AHMA_MCP_DONE_", uuid.NewString()+"__"
	marker := markerHead + markerTail
	framed := fmt.Sprintf("( %s\n) 2>&1; printf '\\n%%s%%s:%%d\\n' '%s' '%s' $?\n", script, markerHead, markerTail)

	if _, err := w.ptyFile.Write([]byte(framed)); err != nil {
		w.markDead()
		return -1, nil, fmt.Errorf("%w: %v", ErrShellDead, err)
	}

	deadline := time.Now().Add(timeout)
	var buf bytes.Buffer
	chunk := make([]byte, 4096)
	markerPrefix := []byte(marker + ":")

	for {
		select {
		case <-ctx.Done():
			return w.terminateAndDrain(&buf)
		default:
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			w.markDead()
			return -1, buf.Bytes(), ErrTimeout
		}

		w.ptyFile.SetReadDeadline(time.Now().Add(minDuration(remaining, 250*time.Millisecond)))
		n, rerr := w.ptyFile.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if idx := bytes.LastIndex(buf.Bytes(), markerPrefix); idx >= 0 {
				tail := buf.Bytes()[idx+len(markerPrefix):]
				if end := bytes.IndexByte(tail, '\n'); end >= 0 {
					code := parseExitCode(tail[:end])
					output = append([]byte(nil), buf.Bytes()[:idx]...)
					return code, output, nil
				}
			}
		}
		if rerr != nil && !isTimeoutErr(rerr) {
			w.markDead()
			return -1, buf.Bytes(), fmt.Errorf("%w: %v", ErrShellDead, rerr)
		}
	}
}

// terminateAndDrain sends SIGTERM to the worker's shell process, drains
// any output it produces during a brief grace window, then kills the
// worker outright: a cancelled pooled command can't be isolated from its
// shell the way a direct spawn's own process can, so the whole worker is
// sacrificed rather than returned to the idle set (spec §4.6 terminate/
// grace/kill escalation, applied at the worker level for the pooled
// substrate).
func (w *worker) terminateAndDrain(buf *bytes.Buffer) (int, []byte, error) {
	if w.cmd != nil && w.cmd.Process != nil {
		_ = w.cmd.Process.Signal(syscall.SIGTERM)
	}

	graceDeadline := time.Now().Add(terminateGrace)
	chunk := make([]byte, 4096)
	for time.Now().Before(graceDeadline) {
		w.ptyFile.SetReadDeadline(time.Now().Add(minDuration(time.Until(graceDeadline), 100*time.Millisecond)))
		n, rerr := w.ptyFile.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
		}
		if rerr != nil && !isTimeoutErr(rerr) {
			break
		}
	}

	w.close()
	return -1, buf.Bytes(), ErrCancelled
}

// probe runs a trivial sentinel command to verify the shell is still
// responsive before it is leased out again (spec §4.3 health check).
func (w *worker) probe() bool {
	code, _, err := w.execute(context.Background(), "echo __ahma_probe__", 2*time.Second)
	return err == nil && code == 0
}

func (w *worker) markDead() {
	w.mu.Lock()
	w.dead = true
	w.mu.Unlock()
}

func (w *worker) isDead() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dead
}

func (w *worker) touch() {
	w.mu.Lock()
	w.lastUsed = time.Now()
	w.mu.Unlock()
}

func (w *worker) idleFor() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return time.Since(w.lastUsed)
}

func (w *worker) close() {
	w.markDead()
	if w.cmd != nil && w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
	}
	if w.ptyFile != nil {
		_ = w.ptyFile.Close()
	}
}

func parseExitCode(b []byte) int {
	code := 0
	neg := false
	for i, c := range b {
		if i == 0 && c == '-' {
			neg = true
			continue
		}
		if c < '0' || c > '9' {
			break
		}
		code = code*10 + int(c-'0')
	}
	if neg {
		code = -code
	}
	return code
}

func isTimeoutErr(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded)
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
