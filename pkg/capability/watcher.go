package capability

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 250 * time.Millisecond

// Watcher re-runs discovery when capability manifests appear or change in the
// watched directories. Endpoints start one when auto-registration is enabled.
type Watcher struct {
	reg    *Registry
	source *DirSource
	log    *slog.Logger

	fsw    *fsnotify.Watcher
	cancel context.CancelFunc
}

// NewWatcher constructs a watcher over the source's directories.
func NewWatcher(reg *Registry, source *DirSource, log *slog.Logger) *Watcher {
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{reg: reg, source: source, log: log}
}

// Start begins watching. It returns after the watches are registered; events
// are handled on a background goroutine until Stop or ctx cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "capability: start watcher")
	}
	for _, dir := range w.source.Dirs {
		if err := fsw.Add(dir); err != nil {
			_ = fsw.Close()
			return errors.Wrapf(err, "capability: watch %q", dir)
		}
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.fsw = fsw
	w.cancel = cancel
	go w.run(runCtx)
	return nil
}

// Stop ends the watch. Safe to call without a prior successful Start.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	if w.fsw != nil {
		_ = w.fsw.Close()
	}
}

func (w *Watcher) run(ctx context.Context) {
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) {
				continue
			}
			if !isManifestPath(event.Name) {
				continue
			}
			// Editors emit bursts of writes; debounce to one pass.
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
				fire = timer.C
			} else {
				timer.Reset(watchDebounce)
			}
		case <-fire:
			timer = nil
			fire = nil
			report := Discover(ctx, w.reg, w.source)
			w.log.Debug("capability re-discovery pass",
				"registered", len(report.Registered),
				"failures", len(report.Failures))
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("capability watcher error", "error", err)
		case <-ctx.Done():
			return
		}
	}
}
