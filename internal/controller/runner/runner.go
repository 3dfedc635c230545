// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package runner

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/tombee/agentforge/internal/capability"
	"github.com/tombee/agentforge/internal/controller/backend"
	"github.com/tombee/agentforge/internal/log"
	"github.com/tombee/agentforge/pkg/errors"
	"github.com/tombee/agentforge/pkg/llm"
	"github.com/tombee/agentforge/pkg/pipeline"
)

// ErrShuttingDown is returned for new runs once Shutdown has been called.
var ErrShuttingDown = errors.New("runner is shutting down")

// MetricsCollector records run engine metrics.
type MetricsCollector interface {
	RecordRunStart(pipelineID string)
	RecordRunComplete(pipelineID, status string, duration time.Duration, tokens int)
	RecordTaskComplete(outcome string, duration time.Duration)
	RecordCapabilityError(capability string)
}

// ModelConfig resolves per-model routing overrides.
type ModelConfig interface {
	ModelOverride(modelID string) (provider, endpoint, apiKey string, ok bool)
}

// Config contains runner configuration.
type Config struct {
	// MaxParallel bounds simultaneous runs. Defaults to 10.
	MaxParallel int
	// CostPerToken is the flat rate used for the cost estimate.
	CostPerToken float64
}

// Runner executes pipeline runs.
type Runner struct {
	state    *StateManager
	logs     *LogAggregator
	registry *Registry

	semaphore    chan struct{}
	costPerToken float64

	logger    *slog.Logger
	generator capability.Generator
	fetcher   capability.Fetcher
	searcher  capability.Searcher
	notifier  capability.Notifier
	pipelines backend.PipelineStore
	models    ModelConfig
	metrics   MetricsCollector
	tracer    trace.Tracer

	now   func() time.Time
	newID func() string

	// mu orders the closed flag against wg.Add and registry membership.
	mu     sync.Mutex
	closed bool
	// wg counts runs from create until they are terminal.
	wg sync.WaitGroup
}

// New creates a Runner persisting runs to store.
func New(cfg Config, store backend.RunStore, opts ...Option) *Runner {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 10
	}
	if cfg.CostPerToken <= 0 {
		cfg.CostPerToken = llm.DefaultCostPerToken
	}

	r := &Runner{
		logs:         NewLogAggregator(),
		registry:     NewRegistry(),
		semaphore:    make(chan struct{}, cfg.MaxParallel),
		costPerToken: cfg.CostPerToken,
		logger:       slog.Default(),
		tracer:       noop.NewTracerProvider().Tracer(""),
		now:          func() time.Time { return time.Now().UTC() },
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.state = NewStateManager(store, r.logger)
	return r
}

type triggerKey struct{}

// WithTrigger tags runs created with ctx with a trigger source.
func WithTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, triggerKey{}, trigger)
}

func triggerFrom(ctx context.Context) string {
	if t, ok := ctx.Value(triggerKey{}).(string); ok && t != "" {
		return t
	}
	return TriggerManual
}

// Handle tracks a background execution.
type Handle struct {
	RunID string
	run   *Run
}

// Done is closed once the run is terminal and committed.
func (h *Handle) Done() <-chan struct{} {
	return h.run.done
}

// Wait blocks until the run finishes or ctx is done. A cancelled run
// returns its terminal snapshot together with a *errors.CancellationError.
func (h *Handle) Wait(ctx context.Context) (*RunSnapshot, error) {
	select {
	case <-h.run.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return h.run.Snapshot(), h.run.err
}

// Execute runs p to completion and returns the terminal snapshot.
// Only validation failures return a nil snapshot.
func (r *Runner) Execute(ctx context.Context, p *pipeline.Pipeline) (*RunSnapshot, error) {
	run, err := r.create(ctx, p, true)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.track(run, cancel)
	err = r.execute(runCtx, run)
	return run.Snapshot(), err
}

// Submit creates a run for p and executes it in the background. The run
// is detached from ctx cancellation; use Stop to cancel it.
func (r *Runner) Submit(ctx context.Context, p *pipeline.Pipeline) (*Handle, error) {
	run, err := r.create(ctx, p, true)
	if err != nil {
		return nil, err
	}
	return r.launch(ctx, run), nil
}

// CreateRun creates a pending run for p without starting it.
func (r *Runner) CreateRun(ctx context.Context, p *pipeline.Pipeline) (*RunSnapshot, error) {
	run, err := r.create(ctx, p, false)
	if err != nil {
		return nil, err
	}
	return run.Snapshot(), nil
}

// Start begins background execution of a pending run created by
// CreateRun. The pipeline is loaded fresh from the pipeline store. If the
// pipeline cannot be used the run is failed with the error recorded.
func (r *Runner) Start(ctx context.Context, runID, pipelineID string) (*Handle, error) {
	return r.start(ctx, runID, pipelineID, func() (*pipeline.Pipeline, error) {
		if r.pipelines == nil {
			return nil, errors.New("no pipeline store configured")
		}
		return r.pipelines.GetPipeline(ctx, pipelineID)
	})
}

// StartPipeline is Start with the definition supplied by the caller
// instead of loaded from the pipeline store.
func (r *Runner) StartPipeline(ctx context.Context, runID string, p *pipeline.Pipeline) (*Handle, error) {
	if p == nil {
		return nil, &errors.ValidationError{Field: "pipeline", Message: "pipeline is required"}
	}
	return r.start(ctx, runID, p.ID, func() (*pipeline.Pipeline, error) { return p, nil })
}

func (r *Runner) start(ctx context.Context, runID, pipelineID string, load func() (*pipeline.Pipeline, error)) (*Handle, error) {
	if r.isClosed() {
		return nil, ErrShuttingDown
	}
	run, ok := r.state.active(runID)
	if !ok {
		return nil, &errors.NotFoundError{Resource: "pending run", ID: runID}
	}
	if !run.claim() {
		return nil, errors.New("run " + runID + " already started")
	}

	p, err := prepare(run, pipelineID, load)
	if err != nil {
		r.abandon(ctx, run, err)
		return nil, err
	}
	run.usePipeline(p)
	return r.launch(ctx, run), nil
}

// prepare loads and checks the definition a claimed run will execute.
func prepare(run *Run, pipelineID string, load func() (*pipeline.Pipeline, error)) (*pipeline.Pipeline, error) {
	if run.PipelineID != pipelineID {
		return nil, &errors.ValidationError{
			Field:   "pipeline_id",
			Message: "run " + run.ID + " belongs to pipeline " + run.PipelineID,
		}
	}
	p, err := load()
	if err != nil {
		return nil, err
	}
	if err := p.ValidateRunnable(); err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// Stop requests cancellation of an in-flight run. It returns false for
// unknown or finished runs and changes nothing in that case.
func (r *Runner) Stop(runID string) bool {
	return r.registry.Stop(runID)
}

// GetRun returns a snapshot of a run by ID.
func (r *Runner) GetRun(ctx context.Context, id string) (*RunSnapshot, error) {
	return r.state.GetRun(ctx, id)
}

// ListRuns lists runs from the store, newest first.
func (r *Runner) ListRuns(ctx context.Context, filter backend.RunFilter) ([]*RunSnapshot, error) {
	return r.state.ListRuns(ctx, filter)
}

// Subscribe returns a channel that receives log entries for a run. The
// channel is closed when the run finishes; for a run that is not in
// flight it is returned already closed.
func (r *Runner) Subscribe(runID string) (<-chan LogEntry, func()) {
	return r.logs.subscribeWhile(runID, func() bool {
		_, ok := r.state.active(runID)
		return ok
	})
}

// ActiveRunCount returns the number of runs that are pending or running.
func (r *Runner) ActiveRunCount() int {
	return r.state.ActiveRunCount()
}

// Registry returns the cancellation registry.
func (r *Runner) Registry() *Registry {
	return r.registry
}

// Shutdown rejects new runs, cancels in-flight ones and waits for them to
// reach a terminal state or for ctx to end.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.registry.StopAll()

	// Runs created but never started end here; started ones end in execute.
	for _, run := range r.state.pending() {
		if run.claim() {
			r.abandon(ctx, run, nil)
		}
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "%d run(s) still active", r.ActiveRunCount())
	}
}

// create validates p and registers a pending run for an isolated copy.
// The run counts towards Shutdown from here until it is terminal. A
// claimed run is reserved for the caller before anyone else can see it.
func (r *Runner) create(ctx context.Context, p *pipeline.Pipeline, claimed bool) (*Run, error) {
	if p == nil {
		return nil, &errors.ValidationError{Field: "pipeline", Message: "pipeline is required"}
	}
	if err := p.ValidateRunnable(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrShuttingDown
	}
	r.wg.Add(1)
	r.mu.Unlock()

	run := newRun(r.newID(), p.Clone(), triggerFrom(ctx), r.now())
	run.claimed = claimed
	if err := r.state.add(ctx, run); err != nil {
		r.wg.Done()
		return nil, err
	}
	return run, nil
}

func (r *Runner) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// track registers the run as in flight. It must happen before execute.
// A run tracked after Shutdown began is cancelled straight away.
func (r *Runner) track(run *Run, cancel context.CancelFunc) {
	run.cancel = cancel
	r.mu.Lock()
	r.registry.Register(run.ID, cancel)
	closed := r.closed
	r.mu.Unlock()
	if closed {
		cancel()
	}
}

func (r *Runner) launch(ctx context.Context, run *Run) *Handle {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.track(run, cancel)
	go func() {
		_ = r.execute(runCtx, run)
	}()
	return &Handle{RunID: run.ID, run: run}
}

// abandon ends a claimed run that will never execute: as failed with
// fault recorded, or as cancelled when fault is nil.
func (r *Runner) abandon(ctx context.Context, run *Run, fault error) {
	logger := log.WithRunContext(r.logger, run.ID, run.PipelineID)
	if r.metrics != nil {
		r.metrics.RecordRunStart(run.PipelineID)
	}

	err := fault
	if fault != nil {
		logger.Warn("run failed before start", log.Error(fault))
		r.failRun(ctx, run, fault)
	} else {
		logger.Info("pending run cancelled by shutdown")
		entry := LogEntry{Timestamp: r.now(), Level: LevelWarning, Message: msgCancelled}
		r.finish(ctx, run, RunStatusFailed, msgCancelled, 0, entry, true)
		err = &errors.CancellationError{RunID: run.ID, Cause: context.Canceled}
	}

	r.state.forget(run.ID)
	r.logs.closeRun(run.ID)
	run.err = err
	close(run.done)
	r.wg.Done()
}

// StateManager returns the run state manager, used by the cleanup loop.
func (r *Runner) StateManager() *StateManager {
	return r.state
}
