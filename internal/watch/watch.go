// Package watch merges files dropped into the source trees while the
// process is running, turning the batch pipeline into a hot folder.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/othala/internal/merge"
	"github.com/starford/othala/internal/scan"
)

// defaultSettle is the quiet period applied when Options.Settle is zero.
const defaultSettle = 2 * time.Second

// Options configures a watch session.
type Options struct {
	// Roots are the source directories watched recursively.
	Roots []string
	// Exts is the extension allow-list; events for other files are ignored.
	Exts map[string]struct{}
	// Exclude names subtrees never watched or merged, typically the
	// destination directory when it is nested under a root.
	Exclude []string
	// Settle is how long a file must stay quiet after its last write before
	// it is merged, so files still being copied in are not hashed mid-write.
	Settle time.Duration
}

// Watch starts an fsnotify watcher over all roots and feeds settled files
// into the engine until ctx is cancelled. Directories created at runtime are
// added to the watch list; files already inside them are picked up too.
//
// The event loop owns all mutable state (the watcher and the per-path settle
// timers), so no locking is needed.
func Watch(ctx context.Context, eng *merge.Engine, opts Options, logger *slog.Logger) error {
	settle := opts.Settle
	if settle <= 0 {
		settle = defaultSettle
	}
	exclude := make([]string, 0, len(opts.Exclude))
	for _, d := range opts.Exclude {
		if abs, err := filepath.Abs(d); err == nil {
			exclude = append(exclude, abs)
		}
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	for _, root := range opts.Roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return err
		}
		if err := addDirsRecursive(w, abs, exclude); err != nil {
			return err
		}
	}

	logger.Info("watch: started",
		slog.Any("roots", opts.Roots),
		slog.Duration("settle", settle))

	allowed := func(path string) bool {
		_, ok := opts.Exts[strings.ToLower(filepath.Ext(path))]
		return ok
	}

	// One timer per path still settling; expired timers deliver their path
	// on fires.
	timers := make(map[string]*time.Timer)
	fires := make(chan string)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	arm := func(path string) {
		if t, ok := timers[path]; ok {
			t.Reset(settle)
			return
		}
		timers[path] = time.AfterFunc(settle, func() {
			select {
			case fires <- path:
			case <-ctx.Done():
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("watch: stopped")
			return nil

		case path := <-fires:
			delete(timers, path)
			sf, err := scan.FileInfo(path)
			if err != nil {
				// Settled and gone again; nothing to merge.
				logger.Debug("watch: settled file vanished", slog.String("path", path))
				continue
			}
			d := eng.ProcessFile(sf)
			logger.Debug("watch: processed",
				slog.String("path", path),
				slog.String("outcome", string(d.Outcome)))

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			path := ev.Name
			if underAny(exclude, path) {
				continue
			}

			// New directories join the watch list; files already inside
			// them (a directory moved into the hot folder arrives whole)
			// get settle timers like freshly written ones.
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(path); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, path, exclude); addErr != nil {
						logger.Warn("watch: add new dir failed",
							slog.String("path", path),
							slog.String("error", addErr.Error()))
						continue
					}
					logger.Debug("watch: watching new dir", slog.String("path", path))
					sweepDir(path, exclude, allowed, arm)
					continue
				}
			}

			if !allowed(path) {
				continue
			}

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				arm(path)

			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				// Gone before it settled; fsnotify reports a rename on the
				// old path, the new path arrives as its own Create.
				if t, ok := timers[path]; ok {
					t.Stop()
					delete(timers, path)
				}
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watch: error", slog.String("error", watchErr.Error()))
		}
	}
}

// sweepDir arms a settle timer for every allow-listed regular file under dir.
func sweepDir(dir string, exclude []string, allowed func(string) bool, arm func(string)) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if underAny(exclude, path) {
				return fs.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && allowed(path) {
			arm(path)
		}
		return nil
	})
}

// addDirsRecursive adds root and all its subdirectories to the watcher,
// skipping excluded subtrees.
func addDirsRecursive(w *fsnotify.Watcher, root string, exclude []string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if underAny(exclude, path) {
			return fs.SkipDir
		}
		return w.Add(path)
	})
}

// underAny reports whether path is one of dirs or lies beneath one.
func underAny(dirs []string, path string) bool {
	for _, d := range dirs {
		if path == d || strings.HasPrefix(path, d+string(os.PathSeparator)) {
			return true
		}
	}
	return false
}
