package opmon

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/paulirotta/ahma-mcp-go/internal/apperror"
)

// BuiltinToolNames are immune to protocol cancellation (spec §4.4
// cancellation policy): a storm of client-side aborts must never cancel
// the very call that would observe another operation's outcome.
var BuiltinToolNames = map[string]bool{
	"status": true,
	"await":  true,
	"cancel": true,
}

// Config bounds the completion history (spec §3 invariant I3).
type Config struct {
	RetentionWindow time.Duration
	MaxHistory      int
}

func (c Config) withDefaults() Config {
	if c.RetentionWindow <= 0 {
		c.RetentionWindow = 10 * time.Minute
	}
	if c.MaxHistory <= 0 {
		c.MaxHistory = 10000
	}
	return c
}

// Monitor is the C4 operation monitor: an in-memory active set plus a
// bounded, time-windowed completion history, safe for concurrent use.
type Monitor struct {
	cfg Config
	log zerolog.Logger

	mu      sync.Mutex
	active  map[string]*entry
	history *list.List // front = most recent
	index   map[string]*list.Element

	stopGC chan struct{}
}

// New starts a Monitor with a background GC sweeper (spec §4.4 gc()).
func New(cfg Config, log zerolog.Logger) *Monitor {
	m := &Monitor{
		cfg:     cfg.withDefaults(),
		log:     log,
		active:  make(map[string]*entry),
		history: list.New(),
		index:   make(map[string]*list.Element),
		stopGC:  make(chan struct{}),
	}
	go m.gcLoop()
	return m
}

// Close stops the background GC sweeper.
func (m *Monitor) Close() {
	close(m.stopGC)
}

func (m *Monitor) gcLoop() {
	ticker := time.NewTicker(m.cfg.RetentionWindow / 4)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopGC:
			return
		case <-ticker.C:
			m.gc()
		}
	}
}

// Create allocates a new operation in Pending status and returns its
// public snapshot plus a derived context/CancelFunc pair: the executor
// runs the subprocess under the returned context, and Cancel(id) fires
// the CancelFunc the monitor holds internally (spec §4.4 create).
func (m *Monitor) Create(ctx context.Context, toolName, subcommandName string, mode Mode, workingDirectory string) (*Operation, context.Context, context.CancelFunc) {
	cancelCtx, cancel := context.WithCancel(ctx)

	id := uuid.NewString()
	e := &entry{
		op: Operation{
			ID:               id,
			ToolName:         toolName,
			SubcommandName:   subcommandName,
			ExecutionMode:    mode,
			Status:           StatusPending,
			WorkingDirectory: workingDirectory,
			CreatedAt:        time.Now(),
		},
		cancel: cancel,
	}

	m.mu.Lock()
	m.active[id] = e
	m.mu.Unlock()

	return e.op.snapshot(), cancelCtx, cancel
}

// MarkRunning transitions Pending → Running (spec §4.4 mark_running).
func (m *Monitor) MarkRunning(id string, startTime time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.active[id]
	if !ok {
		return apperror.New(apperror.InternalError, "mark_running: operation %q not in active set", id)
	}
	if e.op.Status != StatusPending {
		return apperror.New(apperror.InternalError, "mark_running: operation %q not Pending (got %s)", id, e.op.Status)
	}
	e.op.Status = StatusRunning
	e.op.StartedAt = startTime
	return nil
}

// Complete atomically transitions an operation to a terminal status,
// moves it from the active set into history within the same critical
// section, and broadcasts to any await subscribers (spec §4.4 complete).
//
// Ordering (spec §4.4): subscribers are notified only after the entry is
// visible in history, so a concurrent lookup racing against a subscriber
// either observes the event or finds the terminal result directly — never
// neither (P2).
func (m *Monitor) Complete(id string, terminal Status, result Result) {
	if !terminal.IsTerminal() {
		panic(fmt.Sprintf("opmon: Complete called with non-terminal status %q", terminal))
	}

	m.mu.Lock()
	e, ok := m.active[id]
	if !ok {
		m.mu.Unlock()
		m.log.Warn().Str("operation_id", id).Msg("opmon: complete called for unknown/already-terminal operation")
		return
	}
	delete(m.active, id)

	e.op.Status = terminal
	e.op.Result = result
	e.op.FinishedAt = time.Now()
	e.insertedAt = e.op.FinishedAt

	elem := m.history.PushFront(e)
	m.index[id] = elem
	m.evictLocked()

	subs := e.subs
	e.subs = nil
	finalOp := *e.op.snapshot()
	m.mu.Unlock()

	for _, ch := range subs {
		ch <- finalOp
		close(ch)
	}
}

// Lookup checks the active set first, then history (spec §4.4 lookup).
// Safe to call concurrently with Complete (P1).
func (m *Monitor) Lookup(id string) (*Operation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.active[id]; ok {
		if e.op.FirstQueryAt.IsZero() {
			e.op.FirstQueryAt = time.Now()
		}
		return e.op.snapshot(), true
	}
	if elem, ok := m.index[id]; ok {
		e := elem.Value.(*entry)
		return e.op.snapshot(), true
	}
	return nil, false
}

// ListActive returns a snapshot of every Pending or Running operation,
// optionally filtered by tool name (spec §4.7 status: "list active
// operations, optionally filtered by tool name or operation id").
func (m *Monitor) ListActive(toolName string) []*Operation {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Operation, 0, len(m.active))
	for _, e := range m.active {
		if toolName != "" && e.op.ToolName != toolName {
			continue
		}
		out = append(out, e.op.snapshot())
	}
	return out
}

// Await waits for each id to reach a terminal status, up to deadline.
// Returning early on one id does not cancel the wait for the others
// (spec §4.4 await). Uses errgroup to fan the per-id waits out
// concurrently.
func (m *Monitor) Await(ctx context.Context, ids []string, deadline time.Time) map[string]*Operation {
	results := make(map[string]*Operation, len(ids))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			op := m.awaitOne(gctx, id, deadline)
			mu.Lock()
			results[id] = op
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // awaitOne never returns an error; unknown ids resolve to nil, ids still running at the deadline to their latest snapshot
	return results
}

func (m *Monitor) awaitOne(ctx context.Context, id string, deadline time.Time) *Operation {
	if op, ok := m.Lookup(id); ok && op.Status.IsTerminal() {
		return op
	}

	ch, ok := m.subscribe(id)
	if !ok {
		// Not in the active set and not in history: never existed, or
		// already evicted — both surface as NotFound to the caller.
		return nil
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case op := <-ch:
		return &op
	case <-timer.C:
		// Still running at the deadline: return the latest known
		// (non-terminal) snapshot so the caller can report status.
		op, _ := m.Lookup(id)
		return op
	case <-ctx.Done():
		op, _ := m.Lookup(id)
		return op
	}
}

func (m *Monitor) subscribe(id string) (chan Operation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.active[id]; ok {
		ch := make(chan Operation, 1)
		e.subs = append(e.subs, ch)
		return ch, true
	}
	if elem, ok := m.index[id]; ok {
		e := elem.Value.(*entry)
		ch := make(chan Operation, 1)
		ch <- *e.op.snapshot()
		close(ch)
		return ch, true
	}
	return nil, false
}

// Cancel signals the cancel token of a Pending or Running operation.
// Idempotent: cancelling a terminal or unknown id returns false without
// error (spec §4.4 cancel, P7).
func (m *Monitor) Cancel(id string) bool {
	m.mu.Lock()
	e, ok := m.active[id]
	m.mu.Unlock()
	if !ok {
		return false
	}
	e.cancel()
	return true
}

// IsProtocolCancellable reports whether a protocol-level cancellation
// (the MCP client withdrew a request) is permitted to reach this tool
// (spec §4.4 cancellation policy): built-ins status/await/cancel are
// immune.
func IsProtocolCancellable(toolName string) bool {
	return !BuiltinToolNames[toolName]
}

// gc trims the completion history (spec §4.4 gc, invariant I3): while the
// history is within MaxHistory, entries older than the retention window are
// evicted; once it exceeds MaxHistory, the oldest entries are evicted until
// it fits, whatever their age.
func (m *Monitor) gc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictLocked()
}

func (m *Monitor) evictLocked() {
	if m.history.Len() <= m.cfg.MaxHistory {
		cutoff := time.Now().Add(-m.cfg.RetentionWindow)
		for {
			back := m.history.Back()
			if back == nil {
				break
			}
			e := back.Value.(*entry)
			if e.insertedAt.After(cutoff) {
				break
			}
			m.history.Remove(back)
			delete(m.index, e.op.ID)
		}
		return
	}
	for m.history.Len() > m.cfg.MaxHistory {
		back := m.history.Back()
		if back == nil {
			break
		}
		e := back.Value.(*entry)
		m.history.Remove(back)
		delete(m.index, e.op.ID)
	}
}
