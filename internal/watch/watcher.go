// Package watch reports filesystem changes to a single document.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrDocumentRemoved is reported when the watched document is deleted or
// renamed away and has not come back within the removal grace period.
var ErrDocumentRemoved = errors.New("document removed or renamed")

// removalGrace covers editors that save by renaming the old file away and
// writing a new one in its place.
const removalGrace = 250 * time.Millisecond

// Watcher watches the directory containing the document and filters events
// down to the document itself, so atomic saves keep producing signals.
type Watcher struct {
	path   string
	fsw    *fsnotify.Watcher
	logger *slog.Logger
	grace  time.Duration

	// OnError is called for every watch-level error. Optional.
	OnError func(error)
}

// New starts watching path. The path must be absolute and cleaned.
func New(path string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}

	return &Watcher{path: filepath.Clean(path), fsw: fsw, logger: logger, grace: removalGrace}, nil
}

// Run calls onChange once per filesystem event on the document until ctx is
// cancelled or the watcher is closed. Errors are logged and never stop the loop.
// A removal is reported only if the document is still missing once the grace
// period after the last remove or rename has passed.
func (w *Watcher) Run(ctx context.Context, onChange func()) {
	recheck := time.NewTimer(w.grace)
	stopTimer(recheck)
	defer recheck.Stop()

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return

		case <-pending:
			pending = nil
			if _, err := os.Stat(w.path); errors.Is(err, fs.ErrNotExist) {
				w.report(fmt.Errorf("%s: %w", w.path, ErrDocumentRemoved))
			}

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				stopTimer(recheck)
				recheck.Reset(w.grace)
				pending = recheck.C
			}
			w.logger.Debug("document changed", "path", w.path, "op", event.Op.String())
			onChange()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.report(err)
		}
	}
}

func (w *Watcher) report(err error) {
	w.logger.Warn("watch error", "path", w.path, "error", err)
	if w.OnError != nil {
		w.OnError(err)
	}
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

// Close stops watching. Run returns once the event channels drain.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
