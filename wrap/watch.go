package wrap

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultWatchDebounce = 200 * time.Millisecond

// Watcher rewrites page modules as they are created or saved, until its context is cancelled.
type Watcher struct {
	engine  *Engine
	watcher *fsnotify.Watcher
	// Debounce is how long a page must be quiet before it is rewritten, editors often save in several writes.
	Debounce time.Duration
	// OnOutcome is invoked from the watch loop after every rewrite.
	OnOutcome func(FileOutcome)

	pending map[string]time.Time
}

// NewWatcher creates a Watcher rewriting pages through engine.
func NewWatcher(engine *Engine) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		engine:   engine,
		watcher:  watcher,
		Debounce: defaultWatchDebounce,
		pending:  make(map[string]time.Time),
	}, nil
}

// Run watches the pages directory, blocking until ctx is done. Template defects end the watch with an error,
// other per page failures are logged.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.watcher.Close() }()
	if err := w.engine.Open(); err != nil {
		return err
	}
	defer w.engine.Close()

	pagesDir := w.engine.Config.AbsPagesDir
	if err := w.addTree(pagesDir); err != nil {
		return err
	}
	w.engine.Logger.Info("watching pages", zap.String("dir", pagesDir))

	ticker := time.NewTicker(max(w.Debounce/2, 10*time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.engine.Logger.Warn("page watch error", zap.Error(err))
		case <-ticker.C:
			if err := w.flush(time.Now()); err != nil {
				return err
			}
		}
	}
}

// addTree watches dir and every page directory below it, fsnotify watches are not recursive.
func (w *Watcher) addTree(dir string) error {
	pagesDir := w.engine.Config.AbsPagesDir
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		} else if !d.IsDir() {
			return nil
		} else if skipPageDir(pagesDir, path) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return // removals need no rewrite, renames arrive as a create of the new name
	}
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.engine.Logger.Warn("unable to watch page directory", zap.String("dir", event.Name), zap.Error(err))
			}
			return
		}
	}
	if isPageFile(event.Name, w.engine.Config.Extensions) {
		w.pending[event.Name] = time.Now()
	}
}

// flush rewrites every pending page that has been quiet for the debounce period.
func (w *Watcher) flush(now time.Time) error {
	for path, changed := range w.pending {
		if now.Sub(changed) < w.Debounce {
			continue
		}
		delete(w.pending, path)

		outcome, err := w.engine.RewriteFile(path)
		if errors.Is(err, ErrTemplateDefect) {
			return err
		} else if errors.Is(err, fs.ErrNotExist) {
			continue // removed before it settled
		} else if err != nil {
			w.engine.Logger.Warn("unable to rewrite page", zap.String("path", path), zap.Error(err))
			continue
		}
		w.engine.Logger.Info("page rewritten", zap.String("path", outcome.Path), zap.Stringer("status", outcome.Status))
		if w.OnOutcome != nil {
			w.OnOutcome(outcome)
		}
	}
	return nil
}
