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

// Package backendtest holds a behavior suite shared by backend implementations.
package backendtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/agentforge/internal/controller/backend"
	forgeerrors "github.com/tombee/agentforge/pkg/errors"
	"github.com/tombee/agentforge/pkg/pipeline"
)

// Run exercises be against the backend.Backend contract. newBackend must
// return an empty backend; it is called once per subtest.
func Run(t *testing.T, newBackend func(t *testing.T) backend.Backend) {
	t.Run("CreateAndGetRun", func(t *testing.T) { testCreateAndGet(t, newBackend(t)) })
	t.Run("UpdateRun", func(t *testing.T) { testUpdate(t, newBackend(t)) })
	t.Run("ListRuns", func(t *testing.T) { testList(t, newBackend(t)) })
	t.Run("LatestCompleted", func(t *testing.T) { testLatestCompleted(t, newBackend(t)) })
	t.Run("DeleteOlderThan", func(t *testing.T) { testDeleteOlderThan(t, newBackend(t)) })
	t.Run("Pipelines", func(t *testing.T) { testPipelines(t, newBackend(t)) })
}

func at(minute int) *time.Time {
	t := time.Date(2025, 1, 1, 10, minute, 0, 0, time.UTC)
	return &t
}

func testCreateAndGet(t *testing.T, be backend.Backend) {
	ctx := context.Background()
	defer be.Close()

	run := &backend.Run{
		ID:           "run-1",
		PipelineID:   "digest",
		PipelineName: "Daily digest",
		Status:       "pending",
		Trigger:      "manual",
	}
	require.NoError(t, be.CreateRun(ctx, run))
	assert.Error(t, be.CreateRun(ctx, run), "duplicate id must fail")

	got, err := be.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "digest", got.PipelineID)
	assert.Equal(t, "Daily digest", got.PipelineName)
	assert.Equal(t, "pending", got.Status)
	assert.Equal(t, "manual", got.Trigger)
	assert.Nil(t, got.StartedAt)
	assert.False(t, got.CreatedAt.IsZero())

	_, err = be.GetRun(ctx, "missing")
	assert.True(t, forgeerrors.IsNotFound(err))
}

func testUpdate(t *testing.T, be backend.Backend) {
	ctx := context.Background()
	defer be.Close()

	run := &backend.Run{ID: "run-1", PipelineID: "p", PipelineName: "P", Status: "pending"}
	require.NoError(t, be.CreateRun(ctx, run))

	run.Status = backend.StatusCompleted
	run.StartedAt = at(0)
	run.CompletedAt = at(5)
	run.TokensUsed = 1200
	run.Cost = 0.018
	run.Result = "## research\n**Agent:** Ana\n\ndone"
	run.Logs = []backend.LogEntry{
		{Timestamp: *at(0), Agent: "System", Level: "info", Message: "Run started"},
		{Timestamp: *at(5), Agent: "System", Level: "success", Message: "Run completed"},
	}
	require.NoError(t, be.UpdateRun(ctx, run))

	got, err := be.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, backend.StatusCompleted, got.Status)
	assert.Equal(t, 1200, got.TokensUsed)
	assert.InDelta(t, 0.018, got.Cost, 1e-9)
	assert.Equal(t, run.Result, got.Result)
	require.Len(t, got.Logs, 2)
	assert.Equal(t, "Run completed", got.Logs[1].Message)
	assert.True(t, got.Logs[0].Timestamp.Equal(*at(0)))
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(*at(5)))

	err = be.UpdateRun(ctx, &backend.Run{ID: "missing", Status: "failed"})
	assert.True(t, forgeerrors.IsNotFound(err))
}

func testList(t *testing.T, be backend.Backend) {
	ctx := context.Background()
	defer be.Close()

	for i, spec := range []struct{ id, pipeline, status string }{
		{"r1", "a", "completed"},
		{"r2", "a", "failed"},
		{"r3", "b", "completed"},
	} {
		require.NoError(t, be.CreateRun(ctx, &backend.Run{
			ID: spec.id, PipelineID: spec.pipeline, PipelineName: spec.pipeline,
			Status: spec.status, CreatedAt: *at(i),
		}))
	}

	all, err := be.ListRuns(ctx, backend.RunFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "r3", all[0].ID, "newest first")

	byPipeline, err := be.ListRuns(ctx, backend.RunFilter{PipelineID: "a"})
	require.NoError(t, err)
	assert.Len(t, byPipeline, 2)

	byStatus, err := be.ListRuns(ctx, backend.RunFilter{Status: "completed"})
	require.NoError(t, err)
	assert.Len(t, byStatus, 2)

	limited, err := be.ListRuns(ctx, backend.RunFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "r2", limited[0].ID)

	require.NoError(t, be.DeleteRun(ctx, "r2"))
	all, err = be.ListRuns(ctx, backend.RunFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func testLatestCompleted(t *testing.T, be backend.Backend) {
	ctx := context.Background()
	defer be.Close()

	_, err := be.LatestCompleted(ctx, "a")
	assert.True(t, forgeerrors.IsNotFound(err))

	runs := []*backend.Run{
		{ID: "old", PipelineID: "a", PipelineName: "A", Status: "completed", CompletedAt: at(1)},
		{ID: "new", PipelineID: "a", PipelineName: "A", Status: "completed", CompletedAt: at(9)},
		{ID: "failed", PipelineID: "a", PipelineName: "A", Status: "failed", CompletedAt: at(20)},
		{ID: "other", PipelineID: "b", PipelineName: "B", Status: "completed", CompletedAt: at(30)},
	}
	for _, r := range runs {
		require.NoError(t, be.CreateRun(ctx, r))
	}

	latest, err := be.LatestCompleted(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "new", latest.ID)
}

func testDeleteOlderThan(t *testing.T, be backend.Backend) {
	ctx := context.Background()
	defer be.Close()

	require.NoError(t, be.CreateRun(ctx, &backend.Run{ID: "old", PipelineID: "a", PipelineName: "A", Status: "completed", CompletedAt: at(1)}))
	require.NoError(t, be.CreateRun(ctx, &backend.Run{ID: "recent", PipelineID: "a", PipelineName: "A", Status: "failed", CompletedAt: at(30)}))
	require.NoError(t, be.CreateRun(ctx, &backend.Run{ID: "running", PipelineID: "a", PipelineName: "A", Status: "running", StartedAt: at(0)}))

	n, err := be.DeleteOlderThan(ctx, *at(10))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = be.GetRun(ctx, "old")
	assert.True(t, forgeerrors.IsNotFound(err))
	_, err = be.GetRun(ctx, "running")
	assert.NoError(t, err, "unfinished runs are kept")
}

func testPipelines(t *testing.T, be backend.Backend) {
	ctx := context.Background()
	defer be.Close()

	p := &pipeline.Pipeline{
		ID:      "digest",
		Name:    "Daily digest",
		Process: pipeline.ProcessSequential,
		Agents: []pipeline.Agent{{
			ID: "ana", Name: "Ana", Role: "Researcher", Model: "ollama/gemma3:latest",
			Skills: []pipeline.Skill{{Kind: pipeline.SkillContentFetch, Target: "https://example.com"}},
		}},
		Tasks:   []pipeline.Task{{ID: "t1", Name: "research", Description: "Find news", AgentID: "ana", Order: 1}},
		Trigger: pipeline.Trigger{Kind: pipeline.TriggerCron, Value: "0 9 * * *"},
	}
	require.NoError(t, be.SavePipeline(ctx, p))

	got, err := be.GetPipeline(ctx, "digest")
	require.NoError(t, err)
	assert.Equal(t, p, got)

	p.Name = "Morning digest"
	require.NoError(t, be.SavePipeline(ctx, p))
	require.NoError(t, be.SavePipeline(ctx, &pipeline.Pipeline{ID: "alpha", Name: "Alpha"}))

	list, err := be.ListPipelines(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].ID)
	assert.Equal(t, "Morning digest", list[1].Name)

	require.NoError(t, be.DeletePipeline(ctx, "digest"))
	_, err = be.GetPipeline(ctx, "digest")
	assert.True(t, forgeerrors.IsNotFound(err))
	assert.NoError(t, be.DeletePipeline(ctx, "digest"))
}
