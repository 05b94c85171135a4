package app

import (
	"context"

	"pixelmind/internal/ingest"
)

// WatchInbox adds every image dropped into dir to the library until ctx is
// done.
func (c *Controller) WatchInbox(ctx context.Context, dir string) error {
	w, err := ingest.NewInboxWatcher(dir, c.log)
	if err != nil {
		return err
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case b, ok := <-w.Blobs:
				if !ok {
					return
				}
				c.AddBlobs([]ingest.Blob{b}, "inbox")
			}
		}
	}()
	return w.Run(ctx)
}
