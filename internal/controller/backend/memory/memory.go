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

// Package memory provides an in-memory backend implementation.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tombee/agentforge/internal/controller/backend"
	forgeerrors "github.com/tombee/agentforge/pkg/errors"
	"github.com/tombee/agentforge/pkg/pipeline"
)

// Compile-time interface assertions.
var (
	_ backend.RunStore      = (*Backend)(nil)
	_ backend.RunLister     = (*Backend)(nil)
	_ backend.PipelineStore = (*Backend)(nil)
	_ backend.Backend       = (*Backend)(nil)
)

// Backend is an in-memory storage backend. Values are copied on the way in
// and out so callers never share state with the store.
type Backend struct {
	mu        sync.RWMutex
	runs      map[string]*backend.Run
	pipelines map[string]*pipeline.Pipeline
	now       func() time.Time
}

// New creates a new in-memory backend.
func New() *Backend {
	return &Backend{
		runs:      make(map[string]*backend.Run),
		pipelines: make(map[string]*pipeline.Pipeline),
		now:       time.Now,
	}
}

// CreateRun creates a new run.
func (b *Backend) CreateRun(ctx context.Context, run *backend.Run) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.runs[run.ID]; exists {
		return fmt.Errorf("run already exists: %s", run.ID)
	}

	if run.CreatedAt.IsZero() {
		run.CreatedAt = b.now()
	}
	run.UpdatedAt = run.CreatedAt
	b.runs[run.ID] = run.Clone()
	return nil
}

// GetRun retrieves a run by ID.
func (b *Backend) GetRun(ctx context.Context, id string) (*backend.Run, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	run, exists := b.runs[id]
	if !exists {
		return nil, &forgeerrors.NotFoundError{Resource: "run", ID: id}
	}
	return run.Clone(), nil
}

// UpdateRun updates an existing run.
func (b *Backend) UpdateRun(ctx context.Context, run *backend.Run) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	existing, exists := b.runs[run.ID]
	if !exists {
		return &forgeerrors.NotFoundError{Resource: "run", ID: run.ID}
	}

	run.CreatedAt = existing.CreatedAt
	run.UpdatedAt = b.now()
	b.runs[run.ID] = run.Clone()
	return nil
}

// ListRuns lists runs newest first with optional filtering.
func (b *Backend) ListRuns(ctx context.Context, filter backend.RunFilter) ([]*backend.Run, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []*backend.Run
	for _, run := range b.runs {
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		if filter.PipelineID != "" && run.PipelineID != filter.PipelineID {
			continue
		}
		result = append(result, run.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return nil, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}

	return result, nil
}

// LatestCompleted returns the most recently completed run of a pipeline.
func (b *Backend) LatestCompleted(ctx context.Context, pipelineID string) (*backend.Run, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var latest *backend.Run
	for _, run := range b.runs {
		if run.PipelineID != pipelineID || run.Status != backend.StatusCompleted || run.CompletedAt == nil {
			continue
		}
		if latest == nil || run.CompletedAt.After(*latest.CompletedAt) {
			latest = run
		}
	}
	if latest == nil {
		return nil, &forgeerrors.NotFoundError{Resource: "completed run", ID: pipelineID}
	}
	return latest.Clone(), nil
}

// DeleteRun deletes a run.
func (b *Backend) DeleteRun(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.runs, id)
	return nil
}

// DeleteOlderThan deletes finished runs completed before the cutoff.
func (b *Backend) DeleteOlderThan(ctx context.Context, before time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for id, run := range b.runs {
		if run.CompletedAt != nil && run.CompletedAt.Before(before) {
			delete(b.runs, id)
			n++
		}
	}
	return n, nil
}

// GetPipeline returns a pipeline by ID.
func (b *Backend) GetPipeline(ctx context.Context, id string) (*pipeline.Pipeline, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	p, exists := b.pipelines[id]
	if !exists {
		return nil, &forgeerrors.NotFoundError{Resource: "pipeline", ID: id}
	}
	return p.Clone(), nil
}

// ListPipelines returns all pipelines ordered by ID.
func (b *Backend) ListPipelines(ctx context.Context) ([]*pipeline.Pipeline, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]*pipeline.Pipeline, 0, len(b.pipelines))
	for _, p := range b.pipelines {
		result = append(result, p.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// SavePipeline creates or replaces a pipeline.
func (b *Backend) SavePipeline(ctx context.Context, p *pipeline.Pipeline) error {
	if p.ID == "" {
		return &forgeerrors.ValidationError{Field: "id", Message: "pipeline id is required"}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.pipelines[p.ID] = p.Clone()
	return nil
}

// DeletePipeline removes a pipeline.
func (b *Backend) DeletePipeline(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.pipelines, id)
	return nil
}

// Close closes the backend.
func (b *Backend) Close() error {
	return nil
}
