package harvest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// scanInterval is the fallback poll cadence while waiting for a download to
// land. fsnotify delivers most arrivals immediately; the scan catches renames
// from browser partial files that some platforms do not report.
const scanInterval = 500 * time.Millisecond

// Watcher waits for export files to appear in the download directory.
type Watcher struct {
	dir string
	ext string
}

// NewWatcher creates a watcher for files with the given extension (".csv").
func NewWatcher(dir, ext string) *Watcher {
	return &Watcher{dir: dir, ext: ext}
}

// Await blocks until a file with the expected extension modified after since
// exists in the directory, or the window elapses. Returns the newest matching
// path, or "" when nothing arrived. The wait is bounded by the window and the
// context, never indefinite.
func (w *Watcher) Await(ctx context.Context, window time.Duration, since time.Time) (string, error) {
	if path, ok := w.newestSince(since); ok {
		return path, nil
	}

	fw, err := fsnotify.NewWatcher()
	if err == nil {
		defer fw.Close()
		if err := fw.Add(w.dir); err != nil {
			fw = nil
		}
	} else {
		fw = nil
	}

	deadline := time.NewTimer(window)
	defer deadline.Stop()
	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()

	var events chan fsnotify.Event
	if fw != nil {
		events = fw.Events
	}

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline.C:
			path, _ := w.newestSince(since)
			return path, nil
		case ev := <-events:
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if !w.matches(filepath.Base(ev.Name)) {
				continue
			}
			if path, ok := w.newestSince(since); ok {
				return path, nil
			}
		case <-ticker.C:
			if path, ok := w.newestSince(since); ok {
				return path, nil
			}
		}
	}
}

// newestSince scans the directory for completed export files modified at or
// after since and returns the most recent one. Ties break to the latest
// timestamp, matching the portal's one-download-at-a-time behavior.
func (w *Watcher) newestSince(since time.Time) (string, bool) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return "", false
	}
	var (
		best     string
		bestTime time.Time
	)
	for _, e := range entries {
		if e.IsDir() || !w.matches(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		mod := info.ModTime()
		if mod.Before(since) {
			continue
		}
		if best == "" || mod.After(bestTime) {
			best = filepath.Join(w.dir, e.Name())
			bestTime = mod
		}
	}
	return best, best != ""
}

// matches reports whether name is a completed export file.
func (w *Watcher) matches(name string) bool {
	if strings.HasSuffix(name, ".crdownload") || strings.HasSuffix(name, ".tmp") {
		return false
	}
	return strings.HasSuffix(name, w.ext)
}
