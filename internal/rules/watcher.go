package rules

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads the store whenever its rules document changes on disk.
// Events are debounced because editors and config-map mounts produce bursts
// of writes for a single logical change.
type Watcher struct {
	store    *Store
	logger   *zap.Logger
	debounce time.Duration
	onReload func(err error)
}

// NewWatcher creates a watcher over the store's rules document.
func NewWatcher(store *Store, logger *zap.Logger) *Watcher {
	return &Watcher{
		store:    store,
		logger:   logger,
		debounce: 250 * time.Millisecond,
	}
}

// OnReload installs a callback invoked after every reload attempt with the
// reload result. Used to append an admin audit event.
func (w *Watcher) OnReload(fn func(err error)) { w.onReload = fn }

// Run watches until ctx is cancelled. The parent directory is watched rather
// than the file itself so rename-based atomic replacement is observed.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	dir := filepath.Dir(w.store.Path())
	if err := fw.Add(dir); err != nil {
		return err
	}
	w.logger.Info("Watching rules file", zap.String("path", w.store.Path()))

	target := filepath.Clean(w.store.Path())
	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerCh = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Rules watcher error", zap.Error(err))
		case <-timerCh:
			timer = nil
			timerCh = nil
			err := w.store.Reload()
			if w.onReload != nil {
				w.onReload(err)
			}
		}
	}
}
