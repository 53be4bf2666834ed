package docsource

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/llmstxt/internal/foundation/errors"
	"git.home.luguber.info/inful/llmstxt/internal/listener"
	"git.home.luguber.info/inful/llmstxt/internal/logfields"
)

// Watcher follows the content directory and reports file changes to a
// ChangeListener. New subdirectories are watched as they appear.
type Watcher struct {
	src      *Markdown
	listener listener.ChangeListener
	logger   *slog.Logger
	fs       *fsnotify.Watcher
}

// NewWatcher returns a Watcher for src.
func NewWatcher(src *Markdown, l listener.ChangeListener, logger *slog.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryRuntime, "failed to create file watcher").Build()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{src: src, listener: l, logger: logger, fs: w}, nil
}

// Run watches until ctx is done and closes the underlying watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.fs.Close() }()
	if err := w.addTree(w.src.Root()); err != nil {
		return err
	}
	w.logger.InfoContext(ctx, "Watching content directory", logfields.Path(w.src.Root()))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.ErrorContext(ctx, "Content watcher error", logfields.Error(err))
		}
	}
}

// handle applies one filesystem event.
func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	switch {
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		if id, ok := w.src.Forget(ev.Name); ok {
			w.deleted(ctx, id, ev.Name)
			return
		}
		for _, id := range w.src.ForgetDir(ev.Name) {
			w.deleted(ctx, id, ev.Name)
		}

	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(ev.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			if ev.Has(fsnotify.Create) {
				w.createdDir(ctx, ev.Name)
			}
			return
		}
		w.changed(ctx, ev.Name)
	}
}

func (w *Watcher) changed(ctx context.Context, p string) {
	if !IsMarkdown(p) {
		return
	}
	doc, err := w.src.LoadFile(p)
	if err != nil {
		w.logger.WarnContext(ctx, "Ignoring unreadable document", logfields.Path(p), logfields.Error(err))
		return
	}
	if err := w.listener.OnDocumentUpserted(ctx, doc); err != nil {
		w.logger.WarnContext(ctx, "Change listener rejected document", logfields.Path(p), logfields.Error(err))
	}
}

func (w *Watcher) deleted(ctx context.Context, id int64, p string) {
	if err := w.listener.OnDocumentDeleted(ctx, id); err != nil {
		w.logger.WarnContext(ctx, "Change listener rejected delete", logfields.Path(p), logfields.Error(err))
	}
}

// createdDir watches a new directory and loads files that were written
// into it before the watch was in place.
func (w *Watcher) createdDir(ctx context.Context, dir string) {
	if err := w.addTree(dir); err != nil {
		w.logger.WarnContext(ctx, "Failed to watch new directory", logfields.Path(dir), logfields.Error(err))
	}
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			w.changed(ctx, p)
		}
		return nil
	})
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.fs.Add(p); err != nil {
			return errors.WrapError(err, errors.CategoryRuntime, "failed to watch directory").WithContext("path", p).Build()
		}
		return nil
	})
}
