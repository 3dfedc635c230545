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

// Package filewatcher keeps the scheduler in sync with the pipelines
// directory. Definition files that are created or rewritten are re-parsed
// and rescheduled; removed files are unscheduled.
package filewatcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tombee/agentforge/internal/controller/backend/file"
	"github.com/tombee/agentforge/internal/log"
	"github.com/tombee/agentforge/pkg/errors"
	"github.com/tombee/agentforge/pkg/pipeline"
)

// DefaultDebounceWindow absorbs the multiple writes editors make per save.
const DefaultDebounceWindow = 250 * time.Millisecond

// Scheduler is the subset of the scheduler the service drives.
type Scheduler interface {
	Schedule(p *pipeline.Pipeline) error
	Unschedule(pipelineID string) bool
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithDebounceWindow overrides DefaultDebounceWindow.
func WithDebounceWindow(d time.Duration) Option {
	return func(s *Service) { s.window = d }
}

// WithRateLimit caps reloads per second. Zero means no limit.
func WithRateLimit(perSecond float64) Option {
	return func(s *Service) {
		if perSecond > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// Service watches one pipelines directory.
type Service struct {
	dir     string
	sched   Scheduler
	window  time.Duration
	limiter *rate.Limiter
	logger  *slog.Logger

	mu        sync.Mutex
	ids       map[string]string // absolute path -> pipeline id
	watcher   *Watcher
	debouncer *Debouncer
	ctx       context.Context
	cancel    context.CancelFunc
	loopDone  chan struct{}
}

// NewService creates a service for dir. Nothing is watched until Start.
func NewService(dir string, sched Scheduler, opts ...Option) *Service {
	s := &Service{
		dir:    dir,
		sched:  sched,
		window: DefaultDebounceWindow,
		ids:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = log.WithComponent(log.OrDefault(s.logger), "pipeline-watcher")
	return s
}

// Start indexes the existing definitions and begins watching. It does not
// schedule the indexed pipelines; the scheduler's LoadAll does that.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher != nil {
		return errors.New("pipeline watcher already started")
	}

	w, err := NewWatcher(s.dir, s.logger)
	if err != nil {
		return err
	}
	s.indexLocked(w.Dir())

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.watcher = w
	s.debouncer = NewDebouncer(s.window, s.apply)
	s.loopDone = make(chan struct{})

	w.Start(s.ctx)
	go s.loop(w, s.debouncer, s.loopDone)

	s.logger.Info("watching pipelines directory",
		slog.String("dir", w.Dir()),
		slog.Int("definitions", len(s.ids)))
	return nil
}

// Stop ends watching. Pending debounced events are applied before it returns.
func (s *Service) Stop() error {
	s.mu.Lock()
	w, d, done, cancel := s.watcher, s.debouncer, s.loopDone, s.cancel
	s.watcher = nil
	s.mu.Unlock()
	if w == nil {
		return nil
	}

	err := w.Stop()
	<-done
	d.Stop()
	cancel()
	return err
}

// Tracked returns the pipeline id last parsed from path.
func (s *Service) Tracked(path string) (string, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.ids[abs]
	return id, ok
}

func (s *Service) loop(w *Watcher, d *Debouncer, done chan struct{}) {
	defer close(done)
	for ev := range w.Events() {
		d.Add(ev)
	}
}

func (s *Service) indexLocked(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		s.logger.Warn("failed to index pipelines directory", log.Error(err))
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !file.IsDefinition(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		p, err := pipeline.ParseFile(path)
		if err != nil {
			continue
		}
		s.ids[path] = p.ID
	}
}

func (s *Service) apply(ev *Event) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	if s.limiter != nil && ctx != nil {
		// A cancelled context still applies the event so Stop drains.
		_ = s.limiter.Wait(ctx)
	}

	logger := s.logger.With(slog.String("path", ev.Path))
	switch ev.Op {
	case OpRemoved:
		s.mu.Lock()
		id, ok := s.ids[ev.Path]
		delete(s.ids, ev.Path)
		s.mu.Unlock()
		if ok && s.sched.Unschedule(id) {
			logger.Info("pipeline definition removed, schedule cleared", slog.String(log.PipelineIDKey, id))
		}

	case OpChanged:
		p, err := pipeline.ParseFile(ev.Path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return
			}
			logger.Warn("ignoring invalid pipeline definition", log.Error(err))
			return
		}

		s.mu.Lock()
		prev, had := s.ids[ev.Path]
		s.ids[ev.Path] = p.ID
		s.mu.Unlock()
		if had && prev != p.ID {
			s.sched.Unschedule(prev)
		}

		if err := s.sched.Schedule(p); err != nil {
			logger.Warn("failed to schedule reloaded pipeline",
				slog.String(log.PipelineIDKey, p.ID), log.Error(err))
			return
		}
		logger.Info("pipeline definition reloaded", slog.String(log.PipelineIDKey, p.ID))
	}
}
