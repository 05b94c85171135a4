package app

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"pixelmind/internal/batch"
	"pixelmind/internal/edit"
	"pixelmind/internal/logging"
	"pixelmind/internal/merge"
	"pixelmind/internal/pipeline"
	"pixelmind/internal/render"
	"pixelmind/internal/storage"
)

// BatchOptions converts the batch section of the config.
func (c *Controller) BatchOptions() batch.Options {
	b := c.cfg.Batch
	opts := batch.DefaultOptions()
	if f, err := render.ParseFormat(b.Format); err == nil {
		opts.Format = f
	}
	if b.Quality > 0 {
		opts.Quality = b.Quality
	}
	if b.ResizeMode != "" {
		opts.Resize.Mode = batch.ResizeMode(b.ResizeMode)
	}
	opts.Resize.Edge = b.ResizeEdge
	opts.Resize.Percent = b.ResizePct
	opts.AutoBalance = b.AutoBalance
	return opts
}

// RunBatch processes every library source with one option set. A newer call
// supersedes one still running; the superseded call returns
// batch.ErrSuperseded and its results are never kept.
func (c *Controller) RunBatch(ctx context.Context, opts batch.Options, progress batch.ProgressFunc) (*batch.Run, error) {
	c.mu.Lock()
	sources := make([]batch.Source, 0, len(c.order))
	names := make([]string, 0, len(c.order))
	for _, id := range c.order {
		s := c.library[id]
		sources = append(sources, s)
		names = append(names, s.Name)
	}
	c.mu.Unlock()

	jobID := "batch-" + uuid.NewString()[:8]
	if err := c.store.RecordJobQueued(storage.JobRecord{ID: jobID, JobType: "batch", Status: "queued", OptionsJSON: "{}"}); err != nil {
		c.log.Warn("failed to record job", "id", jobID, "err", err)
	}
	if err := c.store.RecordJobStart(jobID); err != nil {
		c.log.Warn("failed to record job start", "id", jobID, "err", err)
	}
	logging.LogJobStart(c.log, "batch", jobID, "library", "", map[string]any{"sources": len(sources), "format": string(opts.Format)})
	start := time.Now()

	run, err := c.runner.Start(ctx, sources, opts, progress)
	if err != nil {
		status := "failed"
		if errors.Is(err, batch.ErrSuperseded) {
			status = "superseded"
		}
		logging.LogJobError(c.log, "batch", jobID, time.Since(start), err, nil)
		c.recordResult(jobID, status, nil, err.Error())
		return nil, err
	}

	pipeline.RecordBatchItems(c.log, c.store, jobID, names, run.Items)
	sum := batch.Summarize(run.Items)
	meta := map[string]any{"done": sum.Done, "failed": sum.Failed, "input_bytes": sum.InputBytes, "output_bytes": sum.OutputBytes}
	logging.LogJobComplete(c.log, "batch", jobID, time.Since(start), meta)
	c.recordResult(jobID, "completed", meta, "")

	c.mu.Lock()
	if c.lastBatch == nil || run.Generation > c.lastBatch.Generation {
		c.lastBatch = run
		c.batchJob = jobID
	}
	c.mu.Unlock()
	return run, nil
}

// LastBatch returns the newest finished run and its job id.
func (c *Controller) LastBatch() (*batch.Run, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastBatch == nil {
		return nil, "", ErrNoBatchRun
	}
	return c.lastBatch, c.batchJob, nil
}

// DownloadBatch hands the successful outputs of the newest run to sink, one
// every batch.ExportStagger.
func (c *Controller) DownloadBatch(ctx context.Context, sink batch.Sink) (int, error) {
	run, _, err := c.LastBatch()
	if err != nil {
		return 0, err
	}
	return batch.NewExporter(sink).Export(ctx, run.Items)
}

// ToggleMerge adds or removes a source from the merge selection.
func (c *Controller) ToggleMerge(id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.library[id]; !ok {
		return false, ErrUnknownSource
	}
	return c.merging.Toggle(id)
}

// MergeSelection lists the selected ids in selection order.
func (c *Controller) MergeSelection() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.merging.IDs()
}

// MergeSettings returns the current layout parameters.
func (c *Controller) MergeSettings() merge.Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mergeOpts
}

// SetMergeSettings replaces the layout parameters after normalising them.
func (c *Controller) SetMergeSettings(s merge.Settings) merge.Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mergeOpts = s.Normalize()
	return c.mergeOpts
}

// Merge composes the selected sources with the current settings and encodes
// the result as merged.png.
func (c *Controller) Merge(ctx context.Context, texts []edit.TextOverlay) (Export, error) {
	c.mu.Lock()
	layout := merge.Layout{Settings: c.mergeOpts}
	for _, id := range c.merging.IDs() {
		layout.Sources = append(layout.Sources, c.library[id])
	}
	c.mu.Unlock()

	img, err := c.merger.Render(ctx, layout, texts)
	if err != nil {
		return Export{}, err
	}
	data, err := render.EncodeBytes(img, render.PNG, 0)
	if err != nil {
		return Export{}, err
	}
	logging.LogExport(c.log, merge.OutputName, len(data), string(render.PNG))
	return Export{Name: merge.OutputName, Format: render.PNG, Data: data}, nil
}

func (c *Controller) recordResult(jobID, status string, meta map[string]any, errMsg string) {
	if err := c.store.RecordJobResult(jobID, status, meta, errMsg); err != nil {
		c.log.Warn("failed to record job result", "id", jobID, "status", status, "err", err)
	}
}
