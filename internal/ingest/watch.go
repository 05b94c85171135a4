package ingest

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"pixelmind/internal/fsutil"
)

// settleDelay is how long a new file must stay quiet before it is read.
const settleDelay = 300 * time.Millisecond

// InboxWatcher turns image files dropped into a directory into blobs, the
// filesystem counterpart of a drag-and-drop import.
type InboxWatcher struct {
	watcher *fsnotify.Watcher
	dir     string
	log     *slog.Logger
	Blobs   chan Blob
}

// NewInboxWatcher prepares a watcher on dir. Call Run to start delivering.
func NewInboxWatcher(dir string, log *slog.Logger) (*InboxWatcher, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	return &InboxWatcher{watcher: w, dir: dir, log: log, Blobs: make(chan Blob, 32)}, nil
}

// Run delivers blobs until ctx is cancelled, then closes Blobs.
func (iw *InboxWatcher) Run(ctx context.Context) error {
	defer close(iw.Blobs)
	defer iw.watcher.Close()
	iw.log.Info("watching inbox", "dir", iw.dir)

	pending := map[string]time.Time{}
	tick := time.NewTicker(settleDelay / 2)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-iw.watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 || !fsutil.IsImageFile(ev.Name) {
				continue
			}
			pending[ev.Name] = time.Now()
		case err, ok := <-iw.watcher.Errors:
			if !ok {
				return nil
			}
			iw.log.Warn("inbox watcher error", "err", err)
		case now := <-tick.C:
			for path, seen := range pending {
				if now.Sub(seen) < settleDelay {
					continue
				}
				delete(pending, path)
				b, err := ReadFile(path)
				if err != nil {
					iw.log.Warn("skipping inbox file", "path", path, "err", err)
					continue
				}
				select {
				case iw.Blobs <- b:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}
