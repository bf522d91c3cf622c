// Package watch implements MeowDiff's concrete filesystem event source:
// a thin fsnotify-backed watcher that recursively watches a project
// directory, filters ignored paths, and forwards raw events. Debouncing
// is deliberately not this package's job — it belongs to
// internal/pipeline, per spec.md §4.4/§5 — so Watcher here is the "dumb
// forwarder" the Watcher task description in spec.md §5 calls for.
package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/anthropic/meowdiff/internal/ignore"
	"github.com/anthropic/meowdiff/internal/meowdiff"
)

// Watcher monitors one project root and forwards filtered, raw events on
// a bounded channel. Backpressure propagates upstream: Watcher blocks on
// send rather than dropping events, per spec.md §5.
type Watcher struct {
	root    string
	matcher *ignore.Matcher
	out     chan<- meowdiff.Event
	logger  *slog.Logger

	fsw *fsnotify.Watcher
}

// New creates a Watcher rooted at root, forwarding accepted events onto
// out.
func New(root string, matcher *ignore.Matcher, out chan<- meowdiff.Event, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{root: root, matcher: matcher, out: out, logger: logger}
}

// Start begins watching root recursively and blocks, forwarding events
// until ctx is cancelled or the underlying fsnotify watcher errors out.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw
	defer fsw.Close()

	if err := w.addRecursive(w.root); err != nil {
		w.logger.Warn("watch: initial walk failed", "root", w.root, "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ev)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch: fsnotify error", "error", err)
		}
	}
}

// handleEvent filters and forwards one fsnotify event.
func (w *Watcher) handleEvent(ev fsnotify.Event) {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		return
	}
	info, statErr := os.Stat(ev.Name)
	isDir := statErr == nil && info.IsDir()

	if w.matcher.Matches(rel, isDir) {
		return
	}

	if ev.Has(fsnotify.Create) && isDir {
		if err := w.addRecursive(ev.Name); err != nil {
			w.logger.Warn("watch: add new directory failed", "path", ev.Name, "error", err)
		}
	}

	kind := mapEventKind(ev.Op)
	if kind == "" {
		return // chmod-only, not interesting
	}

	w.out <- meowdiff.Event{Path: ev.Name, Kind: kind, TS: time.Now()}
}

// addRecursive walks root and adds every directory not matched by the
// ignore patterns.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip inaccessible entries
		}
		if !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(w.root, path)
		if relErr == nil && rel != "." && w.matcher.Matches(rel, true) {
			return filepath.SkipDir
		}
		_ = w.fsw.Add(path)
		return nil
	})
}

// mapEventKind converts fsnotify.Op to spec.md §6's event kind
// vocabulary. Renames surface as a removed+created pair at the fsnotify
// layer on most platforms, which the Pipeline's flush-time re-read
// already handles correctly (spec.md §6: "the flush-time re-read is
// authoritative").
func mapEventKind(op fsnotify.Op) meowdiff.EventKind {
	switch {
	case op.Has(fsnotify.Create):
		return meowdiff.EventCreated
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return meowdiff.EventRemoved
	case op.Has(fsnotify.Write):
		return meowdiff.EventModified
	default:
		return ""
	}
}
