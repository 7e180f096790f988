// Package hotreload implements the hot-reload watcher (component C9, spec
// §4.9): the spec names this component "interface only", so Watcher is the
// contract every concrete backend honors; FSWatcher is the one concrete
// implementation, backed by fsnotify, that this repo ships.
package hotreload

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/paulirotta/ahma-mcp-go/internal/mtdf"
	"github.com/paulirotta/ahma-mcp-go/internal/notify"
)

// RegistrySwapper is the narrow surface a watcher needs from the
// dispatcher: atomically replace the live registry snapshot.
type RegistrySwapper interface {
	SwapRegistry(r *mtdf.Registry)
}

// Watcher is the C9 contract (spec §4.9): "on change events within the
// definitions directory, invoke Registry.load into a fresh snapshot; on
// success, atomically replace the live snapshot and emit a
// tools/list_changed signal; on failure, keep the old snapshot and log
// the error".
type Watcher interface {
	Run(ctx context.Context) error
}

// debounce coalesces a burst of filesystem events (e.g. an editor's
// write-then-rename save) into a single reload.
const debounce = 200 * time.Millisecond

// FSWatcher is the fsnotify-backed reference implementation of Watcher.
type FSWatcher struct {
	dir      string
	scope    string
	swapper  RegistrySwapper
	notifier *notify.Channel
	log      zerolog.Logger
}

// New constructs an FSWatcher over dir, reloading into swapper and
// signalling changes on notifier. scope is passed through to mtdf.Load so
// a reload re-runs availability_check probes from the same session root
// as the initial load.
func New(dir, scope string, swapper RegistrySwapper, notifier *notify.Channel, log zerolog.Logger) *FSWatcher {
	return &FSWatcher{dir: dir, scope: scope, swapper: swapper, notifier: notifier, log: log}
}

// Run watches dir until ctx is cancelled, reloading the registry on every
// debounced burst of filesystem activity (spec §4.9). It never returns a
// load failure to the caller: a bad definition file keeps the previous
// snapshot live and is only logged, per spec "never leave the registry in
// a half-updated state".
func (w *FSWatcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return err
	}

	var timer *time.Timer
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !relevantEvent(ev) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(debounce)
			}
			pending = timer.C

		case <-pending:
			pending = nil
			w.reload()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Error().Err(err).Msg("hotreload: fsnotify error")
		}
	}
}

func relevantEvent(ev fsnotify.Event) bool {
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
}

func (w *FSWatcher) reload() {
	reg, loadErrs, err := mtdf.Load(w.dir, w.scope, w.log)
	if err != nil {
		w.log.Error().Err(err).Str("dir", w.dir).Msg("hotreload: reload failed, keeping previous registry snapshot")
		return
	}
	for _, le := range loadErrs {
		w.log.Warn().Err(le).Str("file", le.File).Msg("hotreload: definition failed validation, skipped")
	}

	w.swapper.SwapRegistry(reg)
	w.notifier.PostListChanged()
	w.log.Info().Str("dir", w.dir).Msg("hotreload: registry reloaded")
}
