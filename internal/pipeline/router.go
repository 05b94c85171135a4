package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"

	"pixelmind/internal/batch"
	"pixelmind/internal/edit"
	"pixelmind/internal/ingest"
	"pixelmind/internal/logging"
	"pixelmind/internal/merge"
	"pixelmind/internal/render"
	"pixelmind/internal/storage"
)

// router implements Processor and routes jobs to their concrete handlers.
type router struct {
	log      *slog.Logger
	store    *storage.Store
	batch    batchRunner
	merger   merger
	renderer renderer
}

type batchRunner interface {
	Start(ctx context.Context, sources []batch.Source, opts batch.Options, progress batch.ProgressFunc) (*batch.Run, error)
}

type merger interface {
	Render(ctx context.Context, l merge.Layout, texts []edit.TextOverlay) (*image.NRGBA, error)
}

type renderer interface {
	Render(ctx context.Context, src render.Source, filters edit.FilterState, transform edit.TransformState, texts []edit.TextOverlay) (*image.NRGBA, error)
}

// NewRouter returns the Processor used by the application.
func NewRouter(logger *slog.Logger, store *storage.Store, runner *batch.Runner, m *merge.Compositor, comp *render.Compositor) Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &router{log: logger, store: store, batch: runner, merger: m, renderer: comp}
}

func (r *router) Process(ctx context.Context, job Job, progress ProgressFunc) Result {
	switch job.Type {
	case JobBatch:
		return r.handleBatch(ctx, job, progress)
	case JobMerge:
		return r.handleMerge(ctx, job)
	case JobRender:
		return r.handleRender(ctx, job)
	default:
		return Result{Job: job, Error: fmt.Errorf("unknown job type: %s", job.Type)}
	}
}

func (r *router) handleBatch(ctx context.Context, job Job, progress ProgressFunc) Result {
	sources, err := jobSources(job)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	opts, ok := job.Options["options"].(batch.Options)
	if !ok {
		opts = batch.DefaultOptions()
	}

	in := make([]batch.Source, len(sources))
	for i, s := range sources {
		s.Start()
		in[i] = s
	}
	run, err := r.batch.Start(ctx, in, opts, batch.ProgressFunc(progress))
	if err != nil {
		return Result{Job: job, Error: err}
	}

	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = s.Name
	}
	RecordBatchItems(r.log, r.store, job.ID, names, run.Items)

	sum := batch.Summarize(run.Items)
	meta := map[string]any{
		"total":        len(run.Items),
		"done":         sum.Done,
		"failed":       sum.Failed,
		"input_bytes":  sum.InputBytes,
		"output_bytes": sum.OutputBytes,
	}
	if job.Output == "" {
		return Result{Job: job, Meta: meta}
	}

	n, err := r.export(ctx, job, run.Items)
	meta["exported"] = n
	return Result{Job: job, Error: err, Meta: meta}
}

func (r *router) export(ctx context.Context, job Job, items []batch.Item) (int, error) {
	if !getBoolOption(job.Options, "archive") {
		e := batch.NewExporter(batch.DirSink{Dir: job.Output})
		e.Stagger = 0
		return e.Export(ctx, items)
	}

	if err := os.MkdirAll(job.Output, 0o755); err != nil {
		return 0, err
	}
	f, err := os.Create(filepath.Join(job.Output, job.ID+".zip"))
	if err != nil {
		return 0, err
	}
	defer f.Close()
	z := batch.NewZipSink(f)
	e := batch.NewExporter(z)
	e.Stagger = 0
	n, err := e.Export(ctx, items)
	if cerr := z.Close(); err == nil {
		err = cerr
	}
	return n, err
}

func (r *router) handleMerge(ctx context.Context, job Job) Result {
	sources, err := jobSources(job)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	settings, ok := job.Options["settings"].(merge.Settings)
	if !ok {
		settings = merge.DefaultSettings()
	}
	texts, _ := job.Options["texts"].([]edit.TextOverlay)

	layout := merge.Layout{Settings: settings}
	for _, s := range sources {
		s.Start()
		layout.Sources = append(layout.Sources, s)
	}
	img, err := r.merger.Render(ctx, layout, texts)
	if err != nil {
		return Result{Job: job, Error: err}
	}

	data, err := render.EncodeBytes(img, render.PNG, 0)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	meta := map[string]any{
		"sources": len(sources),
		"width":   img.Bounds().Dx(),
		"height":  img.Bounds().Dy(),
		"bytes":   len(data),
	}
	if job.Output != "" {
		out, err := writeOutput(job.Output, merge.OutputName, data)
		if err != nil {
			return Result{Job: job, Error: err}
		}
		meta["output"] = out
	}
	return Result{Job: job, Meta: meta}
}

func (r *router) handleRender(ctx context.Context, job Job) Result {
	sources, err := jobSources(job)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	if len(sources) != 1 {
		return Result{Job: job, Error: fmt.Errorf("render needs exactly one image, got %d", len(sources))}
	}
	src := sources[0]
	if _, err := src.Decode(ctx); err != nil {
		return Result{Job: job, Error: err}
	}

	doc, ok := job.Options["document"].(edit.Snapshot)
	if !ok {
		doc = edit.NewDocument().Snapshot()
	}
	img, err := r.renderer.Render(ctx, src, doc.Filters, doc.Transform, doc.Texts)
	if err != nil {
		return Result{Job: job, Error: err}
	}

	format := render.ChooseFormat(img, doc.Filters.BorderRadius)
	if s, _ := job.Options["format"].(string); s != "" {
		if format, err = render.ParseFormat(s); err != nil {
			return Result{Job: job, Error: err}
		}
	}
	quality, _ := job.Options["quality"].(int)
	if quality == 0 {
		quality = render.DefaultJPEGQuality
	}
	data, err := render.EncodeBytes(img, format, quality)
	if err != nil {
		return Result{Job: job, Error: err}
	}

	meta := map[string]any{
		"width":  img.Bounds().Dx(),
		"height": img.Bounds().Dy(),
		"format": string(format),
		"bytes":  len(data),
	}
	if job.Output != "" {
		name := src.Stem() + "_edited." + format.Ext()
		out, err := writeOutput(job.Output, name, data)
		if err != nil {
			return Result{Job: job, Error: err}
		}
		meta["output"] = out
	}
	return Result{Job: job, Meta: meta}
}

// RecordBatchItems logs and persists the outcome of every item of a batch
// run. names are the source file names in input order.
func RecordBatchItems(log *slog.Logger, store *storage.Store, jobID string, names []string, items []batch.Item) {
	for _, it := range items {
		rec := storage.BatchItemRecord{
			JobID:       jobID,
			Position:    it.Index,
			SourceName:  names[it.Index],
			Status:      string(it.Status),
			OutputName:  it.OutputName,
			InputBytes:  int64(len(it.Source.Bytes())),
			OutputBytes: int64(len(it.Output)),
			Width:       it.Width,
			Height:      it.Height,
		}
		details := map[string]any{"output": rec.OutputName, "output_bytes": rec.OutputBytes}
		if it.Err != nil {
			rec.Error = it.Err.Error()
			details = map[string]any{"error": rec.Error}
		}
		logging.LogProcessingStep(log, jobID, rec.SourceName, rec.Status, details)
		if err := store.RecordBatchItem(rec); err != nil {
			log.Warn("failed to record batch item", "job", jobID, "index", it.Index, "err", err)
		}
	}
}

// jobSources resolves a job's inputs: in-memory sources win, then explicit
// image paths, then every image under InputPath.
func jobSources(job Job) ([]*ingest.Source, error) {
	if srcs, ok := job.Options["sources"].([]*ingest.Source); ok && len(srcs) > 0 {
		return srcs, nil
	}

	var blobs []ingest.Blob
	var err error
	if paths, ok := job.Options["images"].([]string); ok && len(paths) > 0 {
		blobs, err = ingest.ReadFiles(paths)
	} else if job.InputPath != "" {
		var info os.FileInfo
		if info, err = os.Stat(job.InputPath); err == nil {
			if info.IsDir() {
				blobs, err = ingest.ReadDir(job.InputPath)
			} else {
				var b ingest.Blob
				b, err = ingest.ReadFile(job.InputPath)
				blobs = []ingest.Blob{b}
			}
		}
	} else {
		return nil, errors.New("job has no input images")
	}
	if err != nil {
		return nil, err
	}

	srcs := ingest.Ingest(blobs)
	if len(srcs) == 0 {
		return nil, errors.New("no supported images in input")
	}
	return srcs, nil
}

// writeOutput places name inside output when output is a directory (or has
// no extension); otherwise output is the file path itself.
func writeOutput(output, name string, data []byte) (string, error) {
	path := output
	if info, err := os.Stat(output); (err == nil && info.IsDir()) || filepath.Ext(output) == "" {
		path = filepath.Join(output, name)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func getBoolOption(opts map[string]any, key string) bool {
	if val, ok := opts[key].(bool); ok {
		return val
	}
	return false
}
