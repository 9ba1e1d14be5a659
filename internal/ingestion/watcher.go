package ingestion

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"go.uber.org/zap"

	"github.com/Benny93/annis-go/internal/storage"
)

// DefaultDebounce is the quiet period before a batch of changes is
// processed.
const DefaultDebounce = 500 * time.Millisecond

// WatchOptions configures WatchDir.
type WatchOptions struct {
	Import   ImportOptions
	Debounce time.Duration

	// OnBatch is called after the initial import and after every processed
	// batch of changes.
	OnBatch func(*WatchResult)
}

// WatchResult summarizes one processed batch.
type WatchResult struct {
	Imported []string
	Removed  []string
	Failed   []FileError
}

type watchState struct {
	root     string
	store    storage.Backend
	opts     WatchOptions
	matcher  gitignore.Matcher
	log      *zap.Logger
	watcher  *fsnotify.Watcher
	imported map[string]DocumentRef
}

// WatchDir imports all documents below root and then re-imports document
// files whenever they change. Deleted files remove their document.
// Blocks until the context is cancelled.
func WatchDir(ctx context.Context, root string, store storage.Backend, opts WatchOptions) error {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if len(opts.Import.Walk.Patterns) == 0 {
		opts.Import.Walk.Patterns = DefaultPatterns
	}
	patterns, err := loadIgnoreFiles(root, opts.Import.Walk.IgnoreFile)
	if err != nil {
		return fmt.Errorf("loading ignore files: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	w := &watchState{
		root:     root,
		store:    store,
		opts:     opts,
		matcher:  newMatcher(patterns),
		log:      opts.Import.logger().With(zap.String("root", root)),
		watcher:  watcher,
		imported: make(map[string]DocumentRef),
	}
	if err := w.addRecursive(root); err != nil {
		return fmt.Errorf("setting up watcher: %w", err)
	}

	initial, err := RunImport(ctx, root, store, opts.Import)
	if err != nil {
		return err
	}
	batch := &WatchResult{Failed: initial.Failed}
	for rel, ref := range initial.Imported {
		w.imported[rel] = ref
		batch.Imported = append(batch.Imported, rel)
	}
	w.finish(batch)

	changed := make(map[string]bool)
	batchTimer := time.NewTimer(opts.Debounce)
	batchTimer.Stop()
	defer batchTimer.Stop()

	w.log.Info("watching for changes")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			rel, ok := w.relevant(event)
			if !ok {
				continue
			}
			changed[rel] = true
			batchTimer.Reset(opts.Debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", zap.Error(err))

		case <-batchTimer.C:
			if len(changed) == 0 {
				continue
			}
			if err := w.processChanged(ctx, changed); err != nil {
				return err
			}
			changed = make(map[string]bool)
		}
	}
}

// relevant filters events down to document files. New directories are
// added to the watch list.
func (w *watchState) relevant(event fsnotify.Event) (string, bool) {
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil || event.Op == fsnotify.Chmod {
		return "", false
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !shouldSkipDir(info.Name(), event.Name, w.root, w.matcher) {
				if err := w.addRecursive(event.Name); err != nil {
					w.log.Warn("cannot watch directory", zap.String("dir", rel), zap.Error(err))
				}
			}
			return "", false
		}
	}

	if _, known := w.imported[filepath.ToSlash(rel)]; known {
		return filepath.ToSlash(rel), true
	}
	return filepath.ToSlash(rel), isIncluded(rel, w.opts.Import.Walk.Patterns, w.matcher)
}

// processChanged re-imports existing files and removes deleted ones.
func (w *watchState) processChanged(ctx context.Context, changed map[string]bool) error {
	w.log.Info("processing changed files", zap.Int("files", len(changed)))

	batch := &WatchResult{}
	var entries []FileEntry
	for rel := range changed {
		path := filepath.Join(w.root, filepath.FromSlash(rel))
		info, err := os.Stat(path)
		if os.IsNotExist(err) {
			w.remove(ctx, rel, batch)
			continue
		}
		if err != nil || info.IsDir() {
			continue
		}

		entry, ok, err := readEntry(w.root, path, w.opts.Import.Walk.Patterns, w.matcher)
		if err != nil {
			batch.Failed = append(batch.Failed, FileError{RelPath: rel, Err: err})
			continue
		}
		if ok {
			entries = append(entries, entry)
		}
	}

	if len(entries) > 0 {
		result, err := ImportFiles(ctx, w.store, entries, w.opts.Import)
		if err != nil {
			return err
		}
		for rel, ref := range result.Imported {
			if old, ok := w.imported[rel]; ok && old != ref {
				// the file now declares another document
				if err := RemoveDocument(ctx, w.store, old); err != nil {
					w.log.Warn("removing replaced document failed", zap.String("document", old.Path), zap.Error(err))
				}
			}
			w.imported[rel] = ref
			batch.Imported = append(batch.Imported, rel)
		}
		batch.Failed = append(batch.Failed, result.Failed...)
	}

	w.finish(batch)
	return nil
}

func (w *watchState) remove(ctx context.Context, rel string, batch *WatchResult) {
	ref, ok := w.imported[rel]
	if !ok {
		return
	}
	delete(w.imported, rel)
	if err := RemoveDocument(ctx, w.store, ref); err != nil {
		w.log.Warn("removing deleted document failed", zap.String("file", rel), zap.Error(err))
		batch.Failed = append(batch.Failed, FileError{RelPath: rel, Err: err})
		return
	}
	batch.Removed = append(batch.Removed, rel)
}

func (w *watchState) finish(batch *WatchResult) {
	slices.Sort(batch.Imported)
	slices.Sort(batch.Removed)
	if len(batch.Imported)+len(batch.Removed)+len(batch.Failed) > 0 {
		w.log.Info("batch processed",
			zap.Int("imported", len(batch.Imported)),
			zap.Int("removed", len(batch.Removed)),
			zap.Int("failed", len(batch.Failed)))
	}
	if w.opts.OnBatch != nil {
		w.opts.OnBatch(batch)
	}
}

// addRecursive watches dir and every directory below it that is not ignored.
func (w *watchState) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && shouldSkipDir(d.Name(), path, w.root, w.matcher) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}
