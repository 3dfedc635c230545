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

// Package scheduler fires pipeline runs on once, interval and cron triggers.
//
// Each pipeline has at most one active timer. The trigger fields stored on
// the pipeline are the only source of truth, so LoadAll rebuilds every
// timer after a restart.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tombee/agentforge/internal/controller/runner"
	"github.com/tombee/agentforge/internal/log"
	"github.com/tombee/agentforge/pkg/errors"
	"github.com/tombee/agentforge/pkg/pipeline"
)

// Submitter starts a background run.
type Submitter interface {
	Submit(ctx context.Context, p *pipeline.Pipeline) (*runner.Handle, error)
}

// PipelineSource loads persisted pipeline definitions.
type PipelineSource interface {
	GetPipeline(ctx context.Context, id string) (*pipeline.Pipeline, error)
	ListPipelines(ctx context.Context) ([]*pipeline.Pipeline, error)
}

// MetricsCollector records scheduler metrics.
type MetricsCollector interface {
	RecordScheduleFire(kind string)
	SetSchedulesActive(n int)
}

// Entry describes one active timer.
type Entry struct {
	PipelineID string               `json:"pipeline_id"`
	Kind       pipeline.TriggerKind `json:"kind"`
	Value      string               `json:"value"`
	Next       time.Time            `json:"next"`
}

type entry struct {
	spec   *Spec
	gen    uint64
	cronID cron.EntryID
	timer  *time.Timer
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = log.WithComponent(logger, "scheduler")
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m MetricsCollector) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// Scheduler owns the per-pipeline timer table.
type Scheduler struct {
	cron      *cron.Cron
	submitter Submitter
	pipelines PipelineSource
	logger    *slog.Logger
	metrics   MetricsCollector
	now       func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	gen     uint64
	ctx     context.Context
	stopped bool
	firing  sync.WaitGroup

	stopOnce sync.Once
}

// New creates a scheduler that loads pipelines from pipelines and starts
// runs through submitter.
func New(submitter Submitter, pipelines PipelineSource, opts ...Option) *Scheduler {
	s := &Scheduler{
		cron:      cron.New(cron.WithParser(cronParser), cron.WithLocation(time.UTC)),
		submitter: submitter,
		pipelines: pipelines,
		logger:    log.WithComponent(slog.Default(), "scheduler"),
		now:       func() time.Time { return time.Now().UTC() },
		entries:   make(map[string]*entry),
		ctx:       context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins firing cron and interval timers. Fired runs inherit
// values from ctx but not its cancellation.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = context.WithoutCancel(ctx)
	s.mu.Unlock()
	s.cron.Start()
	s.logger.Info("scheduler started", slog.Int("schedules", s.Len()))
}

// Stop cancels every timer and waits for in-flight fires to hand off
// their runs. It is safe to call more than once.
func (s *Scheduler) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		for id := range s.entries {
			s.removeLocked(id)
		}
		s.mu.Unlock()

		done := make(chan struct{})
		go func() {
			<-s.cron.Stop().Done()
			s.firing.Wait()
			close(done)
		}()
		select {
		case <-done:
			s.logger.Info("scheduler stopped")
		case <-ctx.Done():
			err = ctx.Err()
		}
	})
	return err
}

// Schedule replaces the timer for p with one built from its trigger. A
// none trigger leaves the pipeline unscheduled. Malformed triggers are
// logged and returned as *errors.SchedulingConfigError; no timer is
// registered for them.
func (s *Scheduler) Schedule(p *pipeline.Pipeline) error {
	if p == nil || p.ID == "" {
		return &errors.ValidationError{Field: "id", Message: "pipeline id is required for scheduling"}
	}
	logger := s.logger.With(slog.String(log.PipelineIDKey, p.ID))

	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.reportActiveLocked()

	replaced := s.removeLocked(p.ID)
	if s.stopped {
		return errors.New("scheduler is stopped")
	}

	spec, err := ParseTrigger(p.ID, p.Trigger, s.now())
	if err != nil {
		logger.Error("invalid schedule, pipeline not scheduled", log.Error(err))
		return err
	}
	if spec.Kind == pipeline.TriggerNone {
		if replaced {
			logger.Info("schedule removed")
		}
		return nil
	}
	if spec.Defaulted {
		logger.Warn("interval value missing or invalid, using default",
			slog.String("value", p.Trigger.Value),
			slog.Int("minutes", DefaultIntervalMinutes))
	}

	s.gen++
	e := &entry{spec: spec, gen: s.gen}
	id, gen := p.ID, e.gen
	if spec.Kind == pipeline.TriggerOnce {
		e.timer = time.AfterFunc(spec.At.Sub(s.now()), func() { s.fire(id, gen) })
	} else {
		e.cronID = s.cron.Schedule(spec.Schedule, cron.FuncJob(func() { s.fire(id, gen) }))
	}
	s.entries[p.ID] = e

	logger.Info("pipeline scheduled",
		slog.String("kind", string(spec.Kind)),
		slog.String("value", spec.Value),
		slog.Bool("replaced", replaced))
	return nil
}

// Unschedule removes the timer for pipelineID and reports whether one existed.
func (s *Scheduler) Unschedule(pipelineID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := s.removeLocked(pipelineID)
	if removed {
		s.reportActiveLocked()
		s.logger.Info("pipeline unscheduled", slog.String(log.PipelineIDKey, pipelineID))
	}
	return removed
}

// LoadAll schedules every persisted pipeline with a trigger other than
// none and returns how many timers were registered. Pipelines with
// malformed triggers are logged and skipped.
func (s *Scheduler) LoadAll(ctx context.Context) (int, error) {
	pipelines, err := s.pipelines.ListPipelines(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "listing pipelines")
	}
	n := 0
	for _, p := range pipelines {
		if !p.Trigger.Scheduled() {
			continue
		}
		if err := s.Schedule(p); err != nil {
			continue
		}
		n++
	}
	s.logger.Info("schedules loaded", slog.Int("count", n), slog.Int("pipelines", len(pipelines)))
	return n, nil
}

// Entries lists active timers ordered by pipeline id.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := make([]Entry, 0, len(s.entries))
	for id, e := range s.entries {
		out = append(out, Entry{
			PipelineID: id,
			Kind:       e.spec.Kind,
			Value:      e.spec.Value,
			Next:       s.nextLocked(e, now),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PipelineID < out[j].PipelineID })
	return out
}

// Len returns the number of active timers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Scheduler) nextLocked(e *entry, now time.Time) time.Time {
	if e.spec.Kind == pipeline.TriggerOnce {
		return e.spec.At
	}
	if next := s.cron.Entry(e.cronID).Next; !next.IsZero() {
		return next
	}
	return e.spec.Schedule.Next(now)
}

// removeLocked stops and drops the timer for id.
func (s *Scheduler) removeLocked(id string) bool {
	e, ok := s.entries[id]
	if !ok {
		return false
	}
	if e.timer != nil {
		e.timer.Stop()
	} else {
		s.cron.Remove(e.cronID)
	}
	delete(s.entries, id)
	return true
}

func (s *Scheduler) reportActiveLocked() {
	if s.metrics != nil {
		s.metrics.SetSchedulesActive(len(s.entries))
	}
}

// fire runs when the timer of generation gen for pipelineID elapses. Fires
// from a replaced or removed timer are dropped.
func (s *Scheduler) fire(pipelineID string, gen uint64) {
	s.mu.Lock()
	e, ok := s.entries[pipelineID]
	if !ok || e.gen != gen || s.stopped {
		s.mu.Unlock()
		return
	}
	kind := e.spec.Kind
	if kind == pipeline.TriggerOnce {
		delete(s.entries, pipelineID)
		s.reportActiveLocked()
	}
	ctx := s.ctx
	s.firing.Add(1)
	s.mu.Unlock()
	defer s.firing.Done()

	logger := s.logger.With(slog.String(log.PipelineIDKey, pipelineID), slog.String("kind", string(kind)))
	if s.metrics != nil {
		s.metrics.RecordScheduleFire(string(kind))
	}

	// Load the current definition; the timer holds only the id.
	p, err := s.pipelines.GetPipeline(ctx, pipelineID)
	if err != nil {
		if errors.IsNotFound(err) {
			logger.Warn("scheduled pipeline no longer exists")
		} else {
			logger.Error("failed to load scheduled pipeline", log.Error(err))
		}
		return
	}

	h, err := s.submitter.Submit(runner.WithTrigger(ctx, runner.TriggerSchedule), p)
	if err != nil {
		logger.Error("failed to start scheduled run", log.Error(err))
		return
	}
	logger.Info("scheduled run started", slog.String(log.RunIDKey, h.RunID))
}
