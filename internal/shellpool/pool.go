package shellpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/paulirotta/ahma-mcp-go/internal/envfilter"
	"github.com/paulirotta/ahma-mcp-go/internal/sandbox"
)

// Handle is a lease on one worker shell, returned by Acquire. The caller
// MUST call Release exactly once.
type Handle struct {
	ID  string
	Dir string

	pool *Pool
	w    *worker
}

// Config bounds pool resource usage.
type Config struct {
	// MaxPerDirectory caps concurrently leased+idle shells for one
	// directory (spec §5 backpressure: "acquire waits; it MUST NOT spawn
	// unbounded shells").
	MaxPerDirectory int64
	// IdleTTL is how long an idle shell may sit before reap_idle kills it.
	IdleTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxPerDirectory <= 0 {
		c.MaxPerDirectory = 4
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = 10 * time.Minute
	}
	return c
}

type dirPool struct {
	dir  string
	sem  *semaphore.Weighted
	mu   sync.Mutex
	idle []*worker
}

// Pool maintains one dirPool per working directory (spec §4.3, C2). Every
// worker it spawns is confined by the same sandbox policy and environment
// filter as a direct spawn (spec §4.2/§4.6): both are bound once here,
// since the session sandbox is immutable for the process's lifetime
// (spec §1).
type Pool struct {
	cfg     Config
	sandbox sandbox.Manager
	policy  *sandbox.Policy
	envPol  envfilter.Policy
	log     zerolog.Logger

	mu    sync.Mutex
	byDir map[string]*dirPool

	stopReap chan struct{}
}

// New creates a shell pool whose worker shells are confined by mgr/policy
// and run under envPol's filtered environment. Call Close to stop its
// background reaper.
func New(cfg Config, mgr sandbox.Manager, policy *sandbox.Policy, envPol envfilter.Policy, log zerolog.Logger) *Pool {
	p := &Pool{
		cfg:      cfg.withDefaults(),
		sandbox:  mgr,
		policy:   policy,
		envPol:   envPol,
		log:      log,
		byDir:    make(map[string]*dirPool),
		stopReap: make(chan struct{}),
	}
	go p.reapLoop()
	return p
}

func (p *Pool) dirPoolFor(dir string) *dirPool {
	p.mu.Lock()
	defer p.mu.Unlock()
	dp, ok := p.byDir[dir]
	if !ok {
		dp = &dirPool{dir: dir, sem: semaphore.NewWeighted(p.cfg.MaxPerDirectory)}
		p.byDir[dir] = dp
	}
	return dp
}

// Acquire returns an idle, health-checked shell already cd'ed into dir,
// spawning one if none is idle, blocking (honoring ctx) if the directory's
// shell count is already at MaxPerDirectory (spec §4.3 acquire).
func (p *Pool) Acquire(ctx context.Context, dir string) (*Handle, error) {
	dp := p.dirPoolFor(dir)

	if err := dp.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("shellpool: acquire %s: %w", dir, err)
	}

	for {
		dp.mu.Lock()
		var w *worker
		if n := len(dp.idle); n > 0 {
			w = dp.idle[n-1]
			dp.idle = dp.idle[:n-1]
		}
		dp.mu.Unlock()

		if w == nil {
			nw, err := spawnWorker(dir, p.sandbox, p.policy, p.envPol, p.log)
			if err != nil {
				dp.sem.Release(1)
				return nil, err
			}
			w = nw
			break
		}

		if w.isDead() || !w.probe() {
			w.close()
			continue
		}
		break
	}

	return &Handle{ID: w.id, Dir: dir, pool: p, w: w}, nil
}

// Release returns a healthy handle to the idle set; an unhealthy one is
// dropped (spec §4.3 release — "A shell that produced an I/O error,
// exceeded a response timeout, or returned a malformed frame MUST NOT be
// returned to the pool").
func (p *Pool) Release(h *Handle, healthy bool) {
	dp := p.dirPoolFor(h.Dir)
	defer dp.sem.Release(1)

	if !healthy || h.w.isDead() {
		h.w.close()
		return
	}
	h.w.touch()
	dp.mu.Lock()
	dp.idle = append(dp.idle, h.w)
	dp.mu.Unlock()
}

// Execute runs script on the leased handle's worker shell, appending the
// stream-merging suffix and reading back combined output until completion,
// ctx cancellation, or timeout. A non-nil err (ErrTimeout, ErrCancelled, or
// ErrShellDead) means the caller MUST pass healthy=false to Release.
func (p *Pool) Execute(ctx context.Context, h *Handle, script string, timeout time.Duration) (exitCode int, output []byte, err error) {
	return h.w.execute(ctx, script, timeout)
}

// reapLoop periodically terminates shells idle past cfg.IdleTTL (spec
// §4.3 reap_idle).
func (p *Pool) reapLoop() {
	ticker := time.NewTicker(p.cfg.IdleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopReap:
			return
		case <-ticker.C:
			p.reapOnce()
		}
	}
}

func (p *Pool) reapOnce() {
	p.mu.Lock()
	dirs := make([]*dirPool, 0, len(p.byDir))
	for _, dp := range p.byDir {
		dirs = append(dirs, dp)
	}
	p.mu.Unlock()

	for _, dp := range dirs {
		dp.mu.Lock()
		kept := dp.idle[:0]
		for _, w := range dp.idle {
			if w.idleFor() > p.cfg.IdleTTL {
				w.close()
				p.log.Debug().Str("worker_id", w.id).Str("dir", dp.dir).Msg("reaped idle shell")
				continue
			}
			kept = append(kept, w)
		}
		dp.idle = kept
		dp.mu.Unlock()
	}
}

// Close stops the reaper and terminates every idle shell.
func (p *Pool) Close() {
	close(p.stopReap)
	p.mu.Lock()
	dirs := make([]*dirPool, 0, len(p.byDir))
	for _, dp := range p.byDir {
		dirs = append(dirs, dp)
	}
	p.mu.Unlock()

	for _, dp := range dirs {
		dp.mu.Lock()
		for _, w := range dp.idle {
			w.close()
		}
		dp.idle = nil
		dp.mu.Unlock()
	}
}
