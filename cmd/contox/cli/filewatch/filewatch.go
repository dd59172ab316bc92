// Package filewatch reports file saves in a working tree to the capture
// watcher.
package filewatch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/contox/cli/cmd/contox/cli/exclude"
	"github.com/contox/cli/cmd/contox/cli/logging"
	"github.com/contox/cli/cmd/contox/cli/paths"
)

// Recorder receives saved file paths.
type Recorder interface {
	RecordSave(ctx context.Context, path string) bool
}

// skipDirs are never watched.
var skipDirs = map[string]bool{".git": true, paths.ContoxDir: true}

// Watcher watches a directory tree recursively.
type Watcher struct {
	root     string
	filter   *exclude.Filter
	recorder Recorder
	watcher  *fsnotify.Watcher
	watched  atomic.Int32
}

// New creates watches for every non-excluded directory under root.
func New(root string, filter *exclude.Filter, recorder Recorder) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	w := &Watcher{root: root, filter: filter, recorder: recorder, watcher: fw}
	if err := w.addTree(root); err != nil {
		_ = fw.Close()
		return nil, err
	}
	return w, nil
}

// Watched returns how many directories are watched.
func (w *Watcher) Watched() int { return int(w.watched.Load()) }

// Close releases the watches.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

// Run forwards saves until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	ctx = logging.WithComponent(ctx, "filewatch")
	logging.Debug(ctx, "watching working tree", slog.String("root", w.root), slog.Int("dirs", w.Watched()))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			logging.Warn(ctx, "file watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return
	}
	info, err := os.Stat(ev.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		if ev.Has(fsnotify.Create) {
			if err := w.addTree(ev.Name); err != nil {
				logging.Debug(ctx, "could not watch new directory", slog.String("path", ev.Name), slog.String("error", err.Error()))
			}
		}
		return
	}
	if !info.Mode().IsRegular() {
		return
	}
	w.recorder.RecordSave(ctx, ev.Name)
}

func (w *Watcher) addTree(dir string) error {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.skip(path) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			if errors.Is(err, fsnotify.ErrClosed) {
				return err
			}
			return nil
		}
		w.watched.Add(1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	return nil
}

func (w *Watcher) skip(dir string) bool {
	if skipDirs[filepath.Base(dir)] {
		return true
	}
	rel := exclude.Normalize(paths.ToRelative(w.root, dir))
	return w.filter.Excluded(rel)
}
