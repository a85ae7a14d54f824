package project

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher refreshes cached modules as files change on disk.
//
// Written and created Python files are re-parsed in the background; removed
// and renamed files are evicted. New directories are added to the watch list.
type Watcher struct {
	project  *Project
	fsw      *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newWatcher(p *Project) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{project: p, fsw: fsw, done: make(chan struct{})}, nil
}

func (w *Watcher) start(ctx context.Context) error {
	for _, folder := range w.project.sourceFolders {
		if err := w.addRecursive(folder); err != nil {
			return err
		}
	}
	w.wg.Add(1)
	go w.processEvents(ctx)
	return nil
}

// addRecursive watches dir and every non-ignored directory below it.
func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if rel, ok := w.project.relative(path); ok && w.project.ignore.Ignored(rel) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()
	log := w.project.log.With("watcher", true)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ctx, event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	rel, ok := w.project.relative(event.Name)
	if !ok || w.project.ignore.Ignored(rel) {
		return
	}

	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		w.project.cache.Remove(event.Name)
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		info, err := os.Stat(event.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				w.project.log.Warn("failed to watch new directory", "path", event.Name, "error", err)
			}
			return
		}
		if !info.Mode().IsRegular() || !isPython(event.Name) {
			return
		}
		if _, err := w.project.load(ctx, Resource{Path: event.Name, Rel: rel}); err != nil {
			w.project.log.Debug("background refresh failed", "path", rel, "error", err)
		}
	}
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.fsw.Close()
		w.wg.Wait()
	})
	return err
}
