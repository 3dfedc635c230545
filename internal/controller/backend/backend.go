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

// Package backend provides storage backends for runs and pipeline
// definitions.
//
// # Interface Hierarchy
//
// The backend package uses interface segregation to allow minimal implementations:
//
//   - RunStore (core, required): CreateRun, GetRun, UpdateRun
//   - RunLister (optional): ListRuns, LatestCompleted, DeleteRun, DeleteOlderThan
//   - PipelineStore (optional): GetPipeline, ListPipelines, SavePipeline, DeletePipeline
//   - io.Closer (optional): Close
//
// The Backend interface composes all of these for full-featured implementations.
// Components accept the narrowest interface they need.
package backend

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/tombee/agentforge/pkg/pipeline"
)

// ErrReadOnly is returned by stores that cannot persist changes.
var ErrReadOnly = errors.New("store is read-only")

// RunStore is the core interface for run storage operations.
// The run engine writes through it after every log commit.
type RunStore interface {
	// CreateRun creates a new run in storage.
	CreateRun(ctx context.Context, run *Run) error

	// GetRun retrieves a run by ID.
	GetRun(ctx context.Context, id string) (*Run, error)

	// UpdateRun replaces an existing run.
	UpdateRun(ctx context.Context, run *Run) error
}

// RunLister is an optional interface for listing and deleting runs.
type RunLister interface {
	// ListRuns lists runs newest first with optional filtering.
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)

	// LatestCompleted returns the most recently completed run of a pipeline.
	LatestCompleted(ctx context.Context, pipelineID string) (*Run, error)

	// DeleteRun deletes a run by ID.
	DeleteRun(ctx context.Context, id string) error

	// DeleteOlderThan deletes finished runs completed before the cutoff and
	// returns how many were removed.
	DeleteOlderThan(ctx context.Context, before time.Time) (int, error)
}

// PipelineStore persists pipeline definitions.
type PipelineStore interface {
	// GetPipeline returns the pipeline with the given ID.
	GetPipeline(ctx context.Context, id string) (*pipeline.Pipeline, error)

	// ListPipelines returns all pipelines ordered by ID.
	ListPipelines(ctx context.Context) ([]*pipeline.Pipeline, error)

	// SavePipeline creates or replaces a pipeline.
	SavePipeline(ctx context.Context, p *pipeline.Pipeline) error

	// DeletePipeline removes a pipeline. Deleting a missing pipeline is not an error.
	DeletePipeline(ctx context.Context, id string) error
}

// Backend defines the full interface for storage.
type Backend interface {
	RunStore
	RunLister
	PipelineStore
	io.Closer
}

// Run is the persisted form of a pipeline run.
type Run struct {
	ID           string     `json:"id"`
	PipelineID   string     `json:"pipeline_id"`
	PipelineName string     `json:"pipeline_name"`
	Status       string     `json:"status"`
	Trigger      string     `json:"trigger,omitempty"`
	Result       string     `json:"result,omitempty"`
	Logs         []LogEntry `json:"logs,omitempty"`
	TokensUsed   int        `json:"tokens_used"`
	Cost         float64    `json:"cost"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// LogEntry is one persisted run log line.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Agent     string    `json:"agent"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// Clone returns a deep copy of the run.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	c := *r
	c.Logs = append([]LogEntry(nil), r.Logs...)
	if r.StartedAt != nil {
		t := *r.StartedAt
		c.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Status values of a completed run. Mirrors the run engine's terminal states.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// RunFilter contains filtering options for listing runs.
type RunFilter struct {
	PipelineID string
	Status     string
	Limit      int
	Offset     int
}
