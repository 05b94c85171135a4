package batch

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// ExportStagger separates successive downloads.
const ExportStagger = 200 * time.Millisecond

// Sink receives exported files one at a time.
type Sink interface {
	Put(name string, data []byte) error
}

// DirSink writes each file into a directory.
type DirSink struct {
	Dir string
}

func (d DirSink) Put(name string, data []byte) error {
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(d.Dir, filepath.Base(name)), data, 0o644)
}

// ZipSink packs every file into one archive. Close must be called to finish
// the archive.
type ZipSink struct {
	zw *zip.Writer
}

func NewZipSink(w io.Writer) *ZipSink {
	return &ZipSink{zw: zip.NewWriter(w)}
}

func (z *ZipSink) Put(name string, data []byte) error {
	f, err := z.zw.CreateHeader(&zip.FileHeader{
		Name:     filepath.Base(name),
		Method:   zip.Store,
		Modified: time.Now(),
	})
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	return err
}

func (z *ZipSink) Close() error { return z.zw.Close() }

// FuncSink adapts a function, e.g. one pushing to a websocket client.
type FuncSink func(name string, data []byte) error

func (f FuncSink) Put(name string, data []byte) error { return f(name, data) }

// Exporter hands the successful items of a run to a sink in order, waiting
// Stagger between files. A zero Stagger writes back to back.
type Exporter struct {
	Sink    Sink
	Stagger time.Duration
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewExporter(s Sink) *Exporter {
	return &Exporter{Sink: s, Stagger: ExportStagger, sleep: sleepCtx}
}

// Export returns how many files were delivered. Colliding names get a "-N"
// suffix so no file replaces another.
func (e *Exporter) Export(ctx context.Context, items []Item) (int, error) {
	n := 0
	names := make(map[string]int, len(items))
	for _, it := range items {
		if it.Status != StatusDone {
			continue
		}
		if n > 0 && e.Stagger > 0 {
			if err := e.sleep(ctx, e.Stagger); err != nil {
				return n, err
			}
		}
		name := uniqueName(names, filepath.Base(it.OutputName))
		if err := e.Sink.Put(name, it.Output); err != nil {
			return n, fmt.Errorf("export %s: %w", name, err)
		}
		n++
	}
	return n, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
