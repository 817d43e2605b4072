// Package watch reports changes to the local article directory.
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

	"github.com/starford/distwiki/internal/checksum"
	"github.com/starford/distwiki/internal/storage"
)

// Change kinds passed to EventCallback.
const (
	Created = "created"
	Updated = "updated"
	Deleted = "deleted"
)

// EventCallback is called for every observed change to an article copy.
type EventCallback func(kind, title string)

// Watch starts an fsnotify watcher on the article directory and reports
// changes until ctx is cancelled. A write that leaves a file's checksum
// unchanged is not reported. Hidden files, including in-flight downloads,
// are ignored.
//
// New directories created at runtime are automatically added to the watch
// list. Rename events trigger a rescan that reports files that vanished or
// appeared.
func Watch(ctx context.Context, store storage.Provider, root string, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}

	known := make(map[string]string)
	if local, err := store.List(); err == nil {
		for _, a := range local {
			known[a.Title] = a.Checksum
		}
	} else {
		logger.Warn("watcher: initial scan failed", slog.String("error", err.Error()))
	}

	emit := func(kind, title string) {
		logger.Debug("watcher: change", slog.String("title", title), slog.String("op", kind))
		if cb != nil {
			cb(kind, title)
		}
	}

	// observe records the current checksum of title and reports a change.
	observe := func(title, abs string) {
		sum, err := checksum.SumFile(abs)
		if err != nil {
			// Gone again before we could read it; a Remove will follow.
			return
		}
		prev, ok := known[title]
		known[title] = sum
		switch {
		case !ok:
			emit(Created, title)
		case prev != sum:
			emit(Updated, title)
		}
	}

	logger.Info("watcher: started", slog.String("root", root))

	// rescanTimer debounces rename rescans.
	var rescanTimer *time.Timer
	var rescanCh <-chan time.Time

	scheduleRescan := func() {
		if rescanTimer == nil {
			rescanTimer = time.NewTimer(200 * time.Millisecond)
			rescanCh = rescanTimer.C
		} else {
			rescanTimer.Reset(200 * time.Millisecond)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if rescanTimer != nil {
				rescanTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-rescanCh:
			rescan(store, known, logger, emit)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			absPath := ev.Name
			if strings.HasPrefix(filepath.Base(absPath), ".") {
				continue
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, absPath); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					}
					scanNewDir(root, absPath, observe)
					continue
				}
			}

			rel, relErr := filepath.Rel(root, absPath)
			if relErr != nil {
				continue
			}
			title := filepath.ToSlash(rel)

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				observe(title, absPath)

			case ev.Op&fsnotify.Remove != 0:
				if _, ok := known[title]; ok {
					delete(known, title)
					emit(Deleted, title)
				}

			case ev.Op&fsnotify.Rename != 0:
				// fsnotify fires Rename on the old path only; the new path
				// arrives as a Create if it stays inside a watched dir.
				if _, ok := known[title]; ok {
					delete(known, title)
					emit(Deleted, title)
				}
				scheduleRescan()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// rescan diffs the directory listing against known and reports the difference.
func rescan(store storage.Provider, known map[string]string, logger *slog.Logger, emit func(kind, title string)) {
	local, err := store.List()
	if err != nil {
		logger.Warn("watcher: rescan failed", slog.String("error", err.Error()))
		return
	}
	disk := make(map[string]string, len(local))
	for _, a := range local {
		disk[a.Title] = a.Checksum
	}

	for title := range known {
		if _, ok := disk[title]; !ok {
			delete(known, title)
			emit(Deleted, title)
		}
	}
	for title, sum := range disk {
		prev, ok := known[title]
		known[title] = sum
		switch {
		case !ok:
			emit(Created, title)
		case prev != sum:
			emit(Updated, title)
		}
	}
}

// scanNewDir observes every visible file in a newly created directory.
func scanNewDir(root, dir string, observe func(title, abs string)) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		observe(filepath.ToSlash(rel), path)
		return nil
	})
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
