package sorting

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/spikeflow/spikeflow/internal/model"
	"github.com/spikeflow/spikeflow/pkg/errors"
	"github.com/spikeflow/spikeflow/pkg/telemetry"
)

// Status is a job's lifecycle state. Transitions are monotonic:
// queued -> running -> {completed, failed, cancelled}, or queued -> cancelled
// when cancelled before pickup.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// DataProvider materializes the raw block a job operates on. Called by the
// worker, not at submission, so submission stays cheap.
type DataProvider func(ctx context.Context) (*model.RawBlock, error)

// Job is a point-in-time snapshot of one background execution. Result is set
// only in the completed state.
type Job struct {
	ID        string
	Algorithm string
	Params    Params
	Channels  []model.ChannelID
	Window    model.TimeWindow
	Status    Status
	Error     string
	Result    *Result
	CreatedAt time.Time
	UpdatedAt time.Time
}

// job is the mutable record behind a snapshot. Status, error and result are
// written only by the worker owning the job, or by Cancel while still
// queued; the orchestrator lock guards every access.
type job struct {
	Job
	provider DataProvider
	cancel   context.CancelFunc
}

// Orchestrator runs algorithm jobs on a bounded worker pool. Jobs are
// retained until RemoveTerminal; abandoning them leaks no goroutines.
type Orchestrator struct {
	registry *Registry

	mu   sync.Mutex
	jobs map[string]*job

	tasks  chan *job
	wg     sync.WaitGroup
	ctx    context.Context
	stop   context.CancelFunc
	closed bool

	updMu    sync.Mutex
	onUpdate []func(Job)
}

// NewOrchestrator starts workers immediately. workers <= 0 defaults to 2;
// queueDepth <= 0 defaults to 64.
func NewOrchestrator(registry *Registry, workers, queueDepth int) *Orchestrator {
	if workers <= 0 {
		workers = 2
	}
	if queueDepth <= 0 {
		queueDepth = 64
	}
	ctx, stop := context.WithCancel(context.Background())
	o := &Orchestrator{
		registry: registry,
		jobs:     make(map[string]*job),
		tasks:    make(chan *job, queueDepth),
		ctx:      ctx,
		stop:     stop,
	}
	for i := 0; i < workers; i++ {
		o.wg.Add(1)
		go o.worker()
	}
	return o
}

// OnUpdate registers a callback invoked with a snapshot after every job
// state change. Callbacks run outside the table lock and must not block.
func (o *Orchestrator) OnUpdate(fn func(Job)) {
	o.updMu.Lock()
	defer o.updMu.Unlock()
	o.onUpdate = append(o.onUpdate, fn)
}

func (o *Orchestrator) notify(snap Job) {
	o.updMu.Lock()
	fns := make([]func(Job), len(o.onUpdate))
	copy(fns, o.onUpdate)
	o.updMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// Close stops accepting work and waits for running jobs to finish their
// current execution. Queued jobs are flipped to cancelled.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()

	o.stop()
	close(o.tasks)
	o.wg.Wait()

	o.mu.Lock()
	for _, j := range o.jobs {
		if j.Status == StatusQueued {
			j.Status = StatusCancelled
			j.UpdatedAt = time.Now()
		}
	}
	o.mu.Unlock()
}

// Submit validates the algorithm and enqueues a job. The returned snapshot
// is in the queued state. Fails with Busy when the queue is full.
func (o *Orchestrator) Submit(algorithmName string, provider DataProvider, params Params, channels []model.ChannelID, window model.TimeWindow) (Job, error) {
	if _, err := o.registry.EnsureAvailable(algorithmName); err != nil {
		return Job{}, err
	}

	now := time.Now()
	j := &job{
		Job: Job{
			ID:        uuid.NewString(),
			Algorithm: algorithmName,
			Params:    params,
			Channels:  append([]model.ChannelID(nil), channels...),
			Window:    window,
			Status:    StatusQueued,
			CreatedAt: now,
			UpdatedAt: now,
		},
		provider: provider,
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return Job{}, errors.New(errors.CodeBusy, "orchestrator is shut down")
	}
	o.jobs[j.ID] = j
	o.mu.Unlock()

	select {
	case o.tasks <- j:
	default:
		o.mu.Lock()
		delete(o.jobs, j.ID)
		o.mu.Unlock()
		return Job{}, errors.New(errors.CodeBusy, "job queue is full")
	}

	snap := j.snapshot()
	o.notify(snap)
	return snap, nil
}

// Get returns a snapshot of the job, or an error when unknown.
func (o *Orchestrator) Get(id string) (Job, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	j, ok := o.jobs[id]
	if !ok {
		return Job{}, errors.New(errors.CodeJobNotFound, "no job with id "+id)
	}
	return j.snapshot(), nil
}

// List returns snapshots of every retained job, newest first.
func (o *Orchestrator) List() []Job {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Job, 0, len(o.jobs))
	for _, j := range o.jobs {
		out = append(out, j.snapshot())
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out
}

// Cancel requests the job stop. A still-queued job flips to cancelled
// directly; a running job gets a cooperative cancellation request and only
// flips if the run honours it. Returns false for unknown or terminal jobs.
func (o *Orchestrator) Cancel(id string) bool {
	o.mu.Lock()
	j, ok := o.jobs[id]
	if !ok || j.Status.Terminal() {
		o.mu.Unlock()
		return false
	}
	if j.Status == StatusQueued {
		j.Status = StatusCancelled
		j.UpdatedAt = time.Now()
		snap := j.snapshot()
		o.mu.Unlock()
		o.notify(snap)
		return true
	}
	if j.cancel != nil {
		j.cancel()
	}
	o.mu.Unlock()
	return true
}

// RemoveTerminal drops a finished job from the table. Returns false if the
// job is unknown or still live.
func (o *Orchestrator) RemoveTerminal(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	j, ok := o.jobs[id]
	if !ok || !j.Status.Terminal() {
		return false
	}
	delete(o.jobs, id)
	return true
}

// ResultWindow reuses a completed job's filtered data for a live request.
// Returns rows for the requested channels sliced to the requested window,
// empty unless the job completed with filtered data and the window lies
// fully inside the job's window.
func (o *Orchestrator) ResultWindow(id string, channels []model.ChannelID, window model.TimeWindow) map[model.ChannelID][]float64 {
	o.mu.Lock()
	j, ok := o.jobs[id]
	var result *Result
	var jobWindow model.TimeWindow
	if ok && j.Status == StatusCompleted {
		result = j.Result
		jobWindow = j.Window
	}
	o.mu.Unlock()

	out := make(map[model.ChannelID][]float64)
	if result == nil || result.Filtered == nil || !jobWindow.Contains(window) {
		return out
	}

	offset := window.Start - result.Filtered.Window.Start
	for _, ch := range channels {
		for i, have := range result.Filtered.Channels {
			if have != ch {
				continue
			}
			row := result.Filtered.Samples[i]
			if offset < 0 || offset+window.Len() > len(row) {
				break
			}
			out[ch] = append([]float64(nil), row[offset:offset+window.Len()]...)
			break
		}
	}
	return out
}

func (o *Orchestrator) worker() {
	defer o.wg.Done()
	for j := range o.tasks {
		o.run(j)
	}
}

// run executes one job. The table lock is held only around state writes,
// never during provider or algorithm execution.
func (o *Orchestrator) run(j *job) {
	ctx, cancel := context.WithCancel(o.ctx)
	defer cancel()

	o.mu.Lock()
	if j.Status != StatusQueued {
		// Cancelled while waiting in the queue.
		o.mu.Unlock()
		return
	}
	j.Status = StatusRunning
	j.cancel = cancel
	j.UpdatedAt = time.Now()
	snap := j.snapshot()
	o.mu.Unlock()
	o.notify(snap)

	result, err := o.execute(ctx, j)

	o.mu.Lock()
	j.cancel = nil
	j.UpdatedAt = time.Now()
	switch {
	case err != nil && ctx.Err() != nil:
		j.Status = StatusCancelled
		j.Error = errors.ContextCanceled(j.Algorithm).Message
	case err != nil:
		j.Status = StatusFailed
		j.Error = err.Error()
	default:
		j.Status = StatusCompleted
		j.Result = result
	}
	snap = j.snapshot()
	o.mu.Unlock()
	o.notify(snap)
}

func (o *Orchestrator) execute(ctx context.Context, j *job) (*Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "sorting."+j.Algorithm,
		trace.WithAttributes(
			attribute.String("job.id", j.ID),
			attribute.Int("job.channels", len(j.Channels)),
		))
	defer span.End()

	spec, err := o.registry.EnsureAvailable(j.Algorithm)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	block, err := j.provider(ctx)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.ContextCanceled(j.Algorithm)
	}
	result, err := spec.Execute(ctx, block, j.Params)
	if err != nil {
		telemetry.RecordError(ctx, err)
	}
	return result, err
}

func (j *job) snapshot() Job {
	out := j.Job
	out.Channels = append([]model.ChannelID(nil), j.Channels...)
	return out
}
