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
	stderrors "errors"
	"sync"
	"time"

	"github.com/tombee/agentforge/pkg/pipeline"
)

// RunStatus represents the status of a pipeline run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// Log levels used in run logs.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
	LevelSuccess = "success"
)

// Trigger sources recorded on a run.
const (
	TriggerManual   = "manual"
	TriggerSchedule = "schedule"
	TriggerAPI      = "api"
)

// ErrRunTerminal is returned when mutating a run that has already finished.
var ErrRunTerminal = stderrors.New("run is in a terminal state")

// LogEntry is one line of a run log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Agent     string    `json:"agent"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// TaskResult is the recorded output of one task.
type TaskResult struct {
	Task   string `json:"task"`
	Agent  string `json:"agent"`
	Output string `json:"output"`
	Tokens int    `json:"tokens"`
}

// Run represents one pipeline execution. All mutable fields are guarded
// by mu and change only through the transition methods below.
type Run struct {
	ID           string
	PipelineID   string
	PipelineName string
	Trigger      string
	CreatedAt    time.Time

	mu          sync.RWMutex
	status      RunStatus
	result      string
	logs        []LogEntry
	results     []TaskResult
	tokens      int
	cost        float64
	startedAt   *time.Time
	completedAt *time.Time
	cancelled   bool
	claimed     bool

	// Internal
	pipeline *pipeline.Pipeline
	cancel   context.CancelFunc
	done     chan struct{}
	// err is set before done is closed.
	err error
}

func newRun(id string, p *pipeline.Pipeline, trigger string, now time.Time) *Run {
	return &Run{
		ID:           id,
		PipelineID:   p.ID,
		PipelineName: p.Name,
		Trigger:      trigger,
		CreatedAt:    now,
		status:       RunStatusPending,
		pipeline:     p,
		done:         make(chan struct{}),
	}
}

// Status returns the current status.
func (r *Run) Status() RunStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// claim reserves a pending run for one execution. It returns false if the
// run was already claimed.
func (r *Run) claim() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.claimed || r.status != RunStatusPending {
		return false
	}
	r.claimed = true
	return true
}

// usePipeline replaces the pipeline snapshot of a claimed, pending run.
func (r *Run) usePipeline(p *pipeline.Pipeline) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pipeline = p
	r.PipelineName = p.Name
}

func (r *Run) markRunning(now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != RunStatusPending {
		return ErrRunTerminal
	}
	r.status = RunStatusRunning
	r.startedAt = &now
	return nil
}

func (r *Run) appendLog(e LogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Terminal() {
		return ErrRunTerminal
	}
	r.logs = append(r.logs, e)
	return nil
}

func (r *Run) addResult(res TaskResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Terminal() {
		return ErrRunTerminal
	}
	r.results = append(r.results, res)
	r.tokens += res.Tokens
	return nil
}

// previousResults returns a copy of the results recorded so far.
func (r *Run) previousResults() []TaskResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]TaskResult(nil), r.results...)
}

// finish moves the run to a terminal status, appending final as the last
// log entry in the same step.
func (r *Run) finish(status RunStatus, result string, cost float64, final LogEntry, cancelled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Terminal() {
		return ErrRunTerminal
	}
	r.logs = append(r.logs, final)
	r.status = status
	r.result = result
	r.cost = cost
	r.cancelled = cancelled
	completed := final.Timestamp
	r.completedAt = &completed
	return nil
}

// RunSnapshot is an immutable deep copy of Run state for external access.
type RunSnapshot struct {
	ID           string       `json:"id"`
	PipelineID   string       `json:"pipeline_id"`
	PipelineName string       `json:"pipeline_name"`
	Status       RunStatus    `json:"status"`
	Trigger      string       `json:"trigger,omitempty"`
	Result       string       `json:"result,omitempty"`
	Logs         []LogEntry   `json:"logs,omitempty"`
	Results      []TaskResult `json:"results,omitempty"`
	TokensUsed   int          `json:"tokens_used"`
	Cost         float64      `json:"cost"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	Cancelled    bool         `json:"cancelled,omitempty"`
}

// Snapshot returns a copy with no aliasing to the run's internal state.
func (r *Run) Snapshot() *RunSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return &RunSnapshot{
		ID:           r.ID,
		PipelineID:   r.PipelineID,
		PipelineName: r.PipelineName,
		Status:       r.status,
		Trigger:      r.Trigger,
		Result:       r.result,
		Logs:         append([]LogEntry(nil), r.logs...),
		Results:      append([]TaskResult(nil), r.results...),
		TokensUsed:   r.tokens,
		Cost:         r.cost,
		StartedAt:    copyTime(r.startedAt),
		CompletedAt:  copyTime(r.completedAt),
		CreatedAt:    r.CreatedAt,
		Cancelled:    r.cancelled,
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
