package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"pixelmind/internal/logging"
	"pixelmind/internal/storage"
)

// ErrQueueFull is returned by Submit when the queue has no room.
var ErrQueueFull = errors.New("job queue is full")

// JobType enumerates supported processing categories.
type JobType string

const (
	JobBatch  JobType = "batch"
	JobMerge  JobType = "merge"
	JobRender JobType = "render"
)

// Job represents a single processing request. Options carries typed values
// (batch.Options, merge.Settings, edit.Snapshot, []*ingest.Source) keyed by
// name; InputPath is a directory or file when sources come from disk.
type Job struct {
	ID        string
	Type      JobType
	InputPath string
	Output    string
	Options   map[string]any
}

// Result captures the outcome of a Job.
type Result struct {
	Job   Job
	Error error
	Meta  map[string]any
}

// EventKind tells progress reports from final results.
type EventKind string

const (
	EventProgress EventKind = "progress"
	EventResult   EventKind = "result"
)

// Event is what subscribers receive.
type Event struct {
	Kind      EventKind      `json:"kind"`
	JobID     string         `json:"job_id"`
	JobType   JobType        `json:"job_type"`
	Completed int            `json:"completed,omitempty"`
	Total     int            `json:"total,omitempty"`
	Error     string         `json:"error,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
	Result    *Result        `json:"-"`
}

// Fraction is completed/total, or 0 before anything is known.
func (e Event) Fraction() float64 {
	if e.Total == 0 {
		return 0
	}
	return float64(e.Completed) / float64(e.Total)
}

// ProgressFunc is handed to processors to report completed/total.
type ProgressFunc func(completed, total int)

// Processor executes a job and returns a Result.
type Processor interface {
	Process(ctx context.Context, job Job, progress ProgressFunc) Result
}

// Pipeline orchestrates job dispatch across workers. Jobs that draw share
// one rendering surface, so callers normally run a single worker.
type Pipeline struct {
	processor Processor
	log       *slog.Logger
	jobs      chan Job
	wg        sync.WaitGroup
	cancel    context.CancelFunc
	startOnce sync.Once
	stopOnce  sync.Once
	store     *storage.Store
	mu        sync.Mutex
	subs      map[int]chan Event
	nextSubID int
}

// New creates a new Pipeline with the given concurrency and processor implementation.
func New(ctx context.Context, concurrency int, logger *slog.Logger, store *storage.Store, proc Processor) *Pipeline {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Pipeline{
		processor: proc,
		log:       logger,
		jobs:      make(chan Job, concurrency*8),
		cancel:    cancel,
		store:     store,
		subs:      make(map[int]chan Event),
	}

	p.startOnce.Do(func() {
		for i := 0; i < concurrency; i++ {
			p.wg.Add(1)
			go p.worker(ctx, i)
		}
	})

	return p
}

// Submit adds a job to the processing queue.
func (p *Pipeline) Submit(job Job) error {
	if p.store != nil {
		err := p.store.RecordJobQueued(storage.JobRecord{
			ID:          job.ID,
			JobType:     string(job.Type),
			Status:      "queued",
			InputPath:   job.InputPath,
			OutputPath:  job.Output,
			OptionsJSON: optionsJSON(job.Options),
		})
		if err != nil {
			p.log.Warn("failed to record job", "id", job.ID, "err", err)
		}
	}

	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop signals workers to exit and waits for completion.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		close(p.jobs)
		p.wg.Wait()
		p.mu.Lock()
		for id, ch := range p.subs {
			close(ch)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	})
}

func (p *Pipeline) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.run(ctx, job)
		}
	}
}

func (p *Pipeline) run(ctx context.Context, job Job) {
	start := time.Now()
	logging.LogJobStart(p.log, string(job.Type), job.ID, job.InputPath, job.Output, summarize(job.Options))
	if p.store != nil {
		if err := p.store.RecordJobStart(job.ID); err != nil {
			p.log.Warn("failed to record job start", "id", job.ID, "err", err)
		}
	}

	progress := func(completed, total int) {
		p.broadcast(Event{Kind: EventProgress, JobID: job.ID, JobType: job.Type, Completed: completed, Total: total})
	}
	res := p.processor.Process(ctx, job, progress)
	duration := time.Since(start)

	status := "completed"
	if res.Error != nil {
		status = "failed"
		logging.LogJobError(p.log, string(job.Type), job.ID, duration, res.Error, map[string]any{
			"input":  job.InputPath,
			"output": job.Output,
		})
	} else {
		logging.LogJobComplete(p.log, string(job.Type), job.ID, duration, res.Meta)
	}
	if p.store != nil {
		if err := p.store.RecordJobResult(job.ID, status, res.Meta, errString(res.Error)); err != nil {
			p.log.Warn("failed to record job result", "id", job.ID, "status", status, "err", err)
		}
	}
	p.broadcast(Event{Kind: EventResult, JobID: job.ID, JobType: job.Type, Error: errString(res.Error), Meta: res.Meta, Result: &res})
}

// Subscribe returns a channel for receiving job events and an unsubscribe function.
func (p *Pipeline) Subscribe() (<-chan Event, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSubID
	p.nextSubID++
	ch := make(chan Event, 32)
	p.subs[id] = ch
	unsub := func() {
		p.mu.Lock()
		if c, ok := p.subs[id]; ok {
			close(c)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	}
	return ch, unsub
}

// Wait blocks until the result for jobID arrives. Subscribe before Submit so
// the result cannot be missed.
func Wait(ctx context.Context, events <-chan Event, jobID string, onProgress func(Event)) (Result, error) {
	for {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return Result{}, errors.New("pipeline stopped")
			}
			if ev.JobID != jobID {
				continue
			}
			if ev.Kind == EventProgress {
				if onProgress != nil {
					onProgress(ev)
				}
				continue
			}
			return *ev.Result, nil
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (p *Pipeline) broadcast(ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ch := range p.subs {
		select {
		case ch <- ev:
		default:
			p.log.Warn("event channel full", "subscriber", id, "job", ev.JobID, "kind", ev.Kind)
		}
	}
}

// summarize keeps option values that log well; bulky payloads are reduced to
// their type.
func summarize(opts map[string]any) map[string]any {
	out := make(map[string]any, len(opts))
	for k, v := range opts {
		switch v.(type) {
		case string, bool, int, float64, []string:
			out[k] = v
		default:
			out[k] = fmt.Sprintf("%T", v)
		}
	}
	return out
}

func optionsJSON(opts map[string]any) string {
	b, err := json.Marshal(summarizeJSON(opts))
	if err != nil {
		return "{}"
	}
	return string(b)
}

func summarizeJSON(opts map[string]any) map[string]any {
	out := make(map[string]any, len(opts))
	for k, v := range opts {
		if _, err := json.Marshal(v); err == nil {
			out[k] = v
		} else {
			out[k] = fmt.Sprintf("%T", v)
		}
	}
	return out
}
