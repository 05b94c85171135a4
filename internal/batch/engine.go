package batch

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"pixelmind/internal/edit"
	"pixelmind/internal/render"
)

// ErrSuperseded is returned for a run that finished after a newer run started.
var ErrSuperseded = errors.New("batch run superseded")

// Status of one item.
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Source is one input of a run.
type Source interface {
	Decode(ctx context.Context) (image.Image, error)
	Stem() string
	Bytes() []byte
}

// Item is the outcome for one source. Items are created fresh for each run
// and leave pending exactly once.
type Item struct {
	Index      int
	Source     Source
	Status     Status
	OutputName string
	Output     []byte
	Width      int
	Height     int
	Err        error
}

// ProgressFunc receives completed/total after every item, failed ones too.
type ProgressFunc func(completed, total int)

// Engine renders sources one after another with a shared option set.
type Engine struct {
	comp *render.Compositor
	log  *slog.Logger
}

// NewEngine returns an engine drawing through comp.
func NewEngine(comp *render.Compositor, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{comp: comp, log: log}
}

// Run processes sources in order. A source that fails to decode, exceeds the
// canvas limit or fails to encode is marked failed and the loop moves on. Only a lost rendering surface or a
// cancelled ctx stops the run early; the items processed so far are still
// returned.
func (e *Engine) Run(ctx context.Context, sources []Source, opts Options, progress ProgressFunc) ([]Item, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	items := make([]Item, len(sources))
	for i, s := range sources {
		items[i] = Item{Index: i, Source: s, Status: StatusPending}
	}
	filters := opts.Filters()
	names := make(map[string]int, len(items))
	start := time.Now()

	for i := range items {
		if err := ctx.Err(); err != nil {
			return items, err
		}
		it := &items[i]
		if err := e.process(ctx, it, opts, filters); err != nil {
			if errors.Is(err, render.ErrSurface) {
				return items, err
			}
			it.Status = StatusFailed
			it.Err = err
			e.log.Warn("batch item failed", "index", i, "source", it.Source.Stem(), "err", err)
		} else {
			it.OutputName = uniqueName(names, it.OutputName)
		}
		if progress != nil {
			progress(i+1, len(items))
		}
	}

	s := Summarize(items)
	e.log.Info("batch finished", "done", s.Done, "failed", s.Failed,
		"in", humanize.Bytes(uint64(s.InputBytes)), "out", humanize.Bytes(uint64(s.OutputBytes)),
		"took", time.Since(start).Round(time.Millisecond))
	return items, nil
}

func (e *Engine) process(ctx context.Context, it *Item, opts Options, filters edit.FilterState) error {
	img, err := it.Source.Decode(ctx)
	if err != nil {
		return err
	}
	b := img.Bounds()
	size := opts.Resize.Target(b.Dx(), b.Dy())
	out, err := e.comp.RenderImage(ctx, img, render.Params{
		Filters:   filters,
		Transform: edit.DefaultTransform(),
		Size:      size,
	})
	if err != nil {
		return err
	}
	data, err := render.EncodeBytes(out, opts.Format, opts.Quality)
	if err != nil {
		return fmt.Errorf("encode %s: %w", it.Source.Stem(), err)
	}
	it.Status = StatusDone
	it.Output = data
	it.OutputName = OutputName(it.Source.Stem(), opts.Format)
	it.Width, it.Height = out.Bounds().Dx(), out.Bounds().Dy()
	return nil
}

// OutputName is "<stem>_processed.<subtype>".
func OutputName(stem string, f render.Format) string {
	return stem + "_processed." + f.Ext()
}

// uniqueName returns name, or name with a "-N" suffix before the extension
// when an earlier item of the run already took it.
func uniqueName(seen map[string]int, name string) string {
	n := seen[name]
	seen[name] = n + 1
	if n == 0 {
		return name
	}
	ext := filepath.Ext(name)
	for {
		n++
		cand := fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), n, ext)
		if seen[cand] == 0 {
			seen[cand] = 1
			seen[name] = n
			return cand
		}
	}
}

// Summary totals one run.
type Summary struct {
	Total       int
	Done        int
	Failed      int
	InputBytes  int64
	OutputBytes int64
}

func Summarize(items []Item) Summary {
	s := Summary{Total: len(items)}
	for _, it := range items {
		s.InputBytes += int64(len(it.Source.Bytes()))
		switch it.Status {
		case StatusDone:
			s.Done++
			s.OutputBytes += int64(len(it.Output))
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}

// Run is one finished execution kept by a Runner.
type Run struct {
	Generation uint64
	Options    Options
	Items      []Item
	Finished   time.Time
}

// Runner serialises runs and keeps only the newest result. Starting a run
// cancels the previous one; a superseded run never replaces a newer one's
// result and its progress reports are dropped.
type Runner struct {
	engine *Engine

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	last   *Run
}

// NewRunner wraps an engine.
func NewRunner(e *Engine) *Runner {
	return &Runner{engine: e}
}

// Start executes a new run, superseding any run in flight.
func (r *Runner) Start(ctx context.Context, sources []Source, opts Options, progress ProgressFunc) (*Run, error) {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.gen++
	gen := r.gen
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()
	defer cancel()

	report := func(done, total int) {
		if progress != nil && r.current(gen) {
			progress(done, total)
		}
	}
	items, err := r.engine.Run(ctx, sources, opts, report)

	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen {
		return nil, ErrSuperseded
	}
	r.cancel = nil
	if err != nil {
		return nil, err
	}
	norm, _ := opts.Normalize()
	r.last = &Run{Generation: gen, Options: norm, Items: items, Finished: time.Now()}
	return r.last, nil
}

// Last returns the newest completed run, if any.
func (r *Runner) Last() (*Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last, r.last != nil
}

func (r *Runner) current(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return gen == r.gen
}
