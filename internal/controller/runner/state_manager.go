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

	"github.com/tombee/agentforge/internal/controller/backend"
	"github.com/tombee/agentforge/pkg/errors"
)

// StateManager holds runs that have not finished yet and writes every
// change through to the RunStore. Once a run is terminal and committed
// the store is the only copy.
type StateManager struct {
	mu     sync.RWMutex
	runs   map[string]*Run
	store  backend.RunStore
	logger *slog.Logger
}

// NewStateManager creates a StateManager backed by store.
func NewStateManager(store backend.RunStore, logger *slog.Logger) *StateManager {
	return &StateManager{
		runs:   make(map[string]*Run),
		store:  store,
		logger: logger,
	}
}

// add tracks run and persists its initial state.
func (s *StateManager) add(ctx context.Context, run *Run) error {
	if err := s.store.CreateRun(ctx, toBackendRun(run)); err != nil {
		return errors.Wrap(err, "persisting new run")
	}
	s.mu.Lock()
	s.runs[run.ID] = run
	s.mu.Unlock()
	return nil
}

// commit writes the current state of run to the store. Failures are
// logged; the in-memory run keeps going.
func (s *StateManager) commit(ctx context.Context, run *Run) {
	ctx = context.WithoutCancel(ctx)
	if err := s.store.UpdateRun(ctx, toBackendRun(run)); err != nil {
		s.logger.Warn("failed to persist run",
			slog.String("run_id", run.ID),
			slog.Any("error", err))
	}
}

// forget drops a finished run from memory.
func (s *StateManager) forget(runID string) {
	s.mu.Lock()
	delete(s.runs, runID)
	s.mu.Unlock()
}

// active returns the in-memory run, if any.
func (s *StateManager) active(id string) (*Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	return run, ok
}

// pending returns the in-memory runs that have not started.
func (s *StateManager) pending() []*Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Run
	for _, run := range s.runs {
		if run.Status() == RunStatusPending {
			out = append(out, run)
		}
	}
	return out
}

// GetRun returns a snapshot of run id from memory or, once finished, from
// the store.
func (s *StateManager) GetRun(ctx context.Context, id string) (*RunSnapshot, error) {
	if run, ok := s.active(id); ok {
		return run.Snapshot(), nil
	}
	be, err := s.store.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	return fromBackendRun(be), nil
}

// ListRuns lists stored runs. It requires a store implementing RunLister.
func (s *StateManager) ListRuns(ctx context.Context, filter backend.RunFilter) ([]*RunSnapshot, error) {
	lister, ok := s.store.(backend.RunLister)
	if !ok {
		return nil, errors.New("run store does not support listing")
	}
	runs, err := lister.ListRuns(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]*RunSnapshot, 0, len(runs))
	for _, be := range runs {
		if run, ok := s.active(be.ID); ok {
			out = append(out, run.Snapshot())
			continue
		}
		out = append(out, fromBackendRun(be))
	}
	return out, nil
}

// ActiveRunCount returns the number of runs not yet terminal.
func (s *StateManager) ActiveRunCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}

// toBackendRun converts a Run to its persisted form.
func toBackendRun(run *Run) *backend.Run {
	snap := run.Snapshot()
	logs := make([]backend.LogEntry, len(snap.Logs))
	for i, l := range snap.Logs {
		logs[i] = backend.LogEntry(l)
	}
	return &backend.Run{
		ID:           snap.ID,
		PipelineID:   snap.PipelineID,
		PipelineName: snap.PipelineName,
		Status:       string(snap.Status),
		Trigger:      snap.Trigger,
		Result:       snap.Result,
		Logs:         logs,
		TokensUsed:   snap.TokensUsed,
		Cost:         snap.Cost,
		StartedAt:    snap.StartedAt,
		CompletedAt:  snap.CompletedAt,
		CreatedAt:    snap.CreatedAt,
		UpdatedAt:    time.Now().UTC(),
	}
}

func fromBackendRun(be *backend.Run) *RunSnapshot {
	logs := make([]LogEntry, len(be.Logs))
	for i, l := range be.Logs {
		logs[i] = LogEntry(l)
	}
	return &RunSnapshot{
		ID:           be.ID,
		PipelineID:   be.PipelineID,
		PipelineName: be.PipelineName,
		Status:       RunStatus(be.Status),
		Trigger:      be.Trigger,
		Result:       be.Result,
		Logs:         logs,
		TokensUsed:   be.TokensUsed,
		Cost:         be.Cost,
		StartedAt:    be.StartedAt,
		CompletedAt:  be.CompletedAt,
		CreatedAt:    be.CreatedAt,
	}
}
