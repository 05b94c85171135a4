package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"pixelmind/internal/aibridge"
	"pixelmind/internal/app"
	"pixelmind/internal/config"
	"pixelmind/internal/edit"
	"pixelmind/internal/pipeline"
	"pixelmind/internal/server"
	"pixelmind/internal/storage"
)

type pipelineClient interface {
	Submit(job pipeline.Job) error
	Subscribe() (<-chan pipeline.Event, func())
}

type serverFunc func(ctx context.Context, r *Root) error

func defaultServe(ctx context.Context, r *Root) error {
	real, ok := r.pipeline.(*pipeline.Pipeline)
	if !ok {
		return fmt.Errorf("pipeline does not support server operation")
	}
	return server.NewServer(r.cfg, r.store, real, r.ctrl, r.log).Start(ctx)
}

// Root wires CLI commands to the pipeline and the editor controller.
type Root struct {
	pipeline pipelineClient
	ctrl     *app.Controller
	cfg      *config.Config
	log      *slog.Logger
	store    *storage.Store
	serveFn  serverFunc
	out      io.Writer
}

// NewRoot constructs the shared state of all commands.
func NewRoot(pl *pipeline.Pipeline, ctrl *app.Controller, cfg *config.Config, logger *slog.Logger, store *storage.Store) *Root {
	return &Root{
		pipeline: pl,
		ctrl:     ctrl,
		cfg:      cfg,
		log:      logger,
		store:    store,
		serveFn:  defaultServe,
		out:      os.Stdout,
	}
}

// NewBridge connects the configured generative service. It fails when no
// API key is set.
func NewBridge(ctx context.Context, cfg *config.Config, log *slog.Logger) (aibridge.Bridge, error) {
	g, err := aibridge.NewGemini(ctx, aibridge.GeminiConfig{
		APIKey:     cfg.AI.APIKey,
		ImageModel: cfg.AI.ImageModel,
		TextModel:  cfg.AI.TextModel,
		Timeout:    cfg.AI.Timeout,
	}, log)
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (r *Root) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format, args...)
}

func (r *Root) enqueueAndWait(ctx context.Context, job pipeline.Job) (pipeline.Result, error) {
	events, unsubscribe := r.pipeline.Subscribe()
	defer unsubscribe()
	if err := r.enqueue(ctx, job); err != nil {
		return pipeline.Result{}, err
	}
	res, err := pipeline.Wait(ctx, events, job.ID, func(ev pipeline.Event) {
		if ev.Total > 1 {
			r.printf("\r%s %d/%d", job.Type, ev.Completed, ev.Total)
			if ev.Completed == ev.Total {
				r.printf("\n")
			}
		}
	})
	if err != nil {
		return pipeline.Result{}, err
	}
	return res, res.Error
}

func (r *Root) enqueue(ctx context.Context, job pipeline.Job) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := r.pipeline.Submit(job); err != nil {
		return err
	}

	r.log.Info("job queued", "type", job.Type, "id", job.ID, "input", job.InputPath)
	return nil
}

func newID(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

// loadDocument reads a saved edit state. YAML is used for .yaml/.yml, JSON
// otherwise.
func loadDocument(path string) (edit.Snapshot, error) {
	doc := edit.NewDocument().Snapshot()
	data, err := os.ReadFile(path)
	if err != nil {
		return doc, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &doc)
	default:
		err = json.Unmarshal(data, &doc)
	}
	if err != nil {
		return doc, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

func metaInt(meta map[string]any, key string) int64 {
	switch v := meta[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}
