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
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/agentforge/internal/capability"
	"github.com/tombee/agentforge/internal/controller/backend"
	"github.com/tombee/agentforge/internal/controller/backend/memory"
	"github.com/tombee/agentforge/internal/log"
	"github.com/tombee/agentforge/pkg/errors"
	"github.com/tombee/agentforge/pkg/llm"
	"github.com/tombee/agentforge/pkg/pipeline"
)

// recorder is a Generator that records requests and answers from a script.
type recorder struct {
	mu     sync.Mutex
	reqs   []capability.GenerateRequest
	answer func(n int, req capability.GenerateRequest) (*capability.GenerateResult, error)
}

func (g *recorder) Generate(ctx context.Context, req capability.GenerateRequest) (*capability.GenerateResult, error) {
	g.mu.Lock()
	g.reqs = append(g.reqs, req)
	n := len(g.reqs)
	g.mu.Unlock()
	if g.answer == nil {
		return &capability.GenerateResult{Text: fmt.Sprintf("output %d", n), Tokens: 10}, nil
	}
	return g.answer(n, req)
}

func (g *recorder) requests() []capability.GenerateRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]capability.GenerateRequest(nil), g.reqs...)
}

func taskNames(reqs []capability.GenerateRequest) []string {
	var names []string
	for _, r := range reqs {
		line, _, _ := strings.Cut(r.UserPrompt, "\n")
		names = append(names, strings.TrimPrefix(line, "## Task: "))
	}
	return names
}

func twoAgentPipeline() *pipeline.Pipeline {
	return &pipeline.Pipeline{
		ID:      "news",
		Name:    "News Digest",
		Process: pipeline.ProcessSequential,
		Agents: []pipeline.Agent{
			{ID: "researcher", Name: "Researcher", Role: "research", Goal: "find", Model: "ollama/gemma3:latest", Temperature: llm.Float64(0.2), MaxTokens: llm.Int(256)},
			{ID: "writer", Name: "Writer", Role: "write", Goal: "summarize", Model: "gpt-4o-mini", Temperature: llm.Float64(0.7), MaxTokens: llm.Int(512)},
		},
		Tasks: []pipeline.Task{
			{ID: "t1", Name: "Research", Description: "Find news", ExpectedOutput: "bullets", Order: 1, AgentID: "researcher"},
			{ID: "t2", Name: "Write", Description: "Write digest", ExpectedOutput: "prose", Order: 2, AgentID: "writer"},
		},
	}
}

func newTestRunner(t *testing.T, store backend.RunStore, opts ...Option) *Runner {
	t.Helper()
	opts = append([]Option{WithLogger(log.Discard())}, opts...)
	r := New(Config{}, store, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
	})
	return r
}

func warnings(logs []LogEntry) []LogEntry {
	var out []LogEntry
	for _, l := range logs {
		if l.Level == LevelWarning {
			out = append(out, l)
		}
	}
	return out
}

func TestExecute_Completes(t *testing.T) {
	store := memory.New()
	gen := &recorder{}
	r := newTestRunner(t, store, WithGenerator(gen))

	snap, err := r.Execute(context.Background(), twoAgentPipeline())
	require.NoError(t, err)

	assert.Equal(t, RunStatusCompleted, snap.Status)
	assert.Equal(t, "news", snap.PipelineID)
	assert.Equal(t, TriggerManual, snap.Trigger)
	assert.Equal(t, 20, snap.TokensUsed)
	assert.Equal(t, llm.EstimateCost(20, llm.DefaultCostPerToken), snap.Cost)
	assert.Equal(t,
		"## Research\n**Agent:** Researcher\n\noutput 1\n\n---\n\n## Write\n**Agent:** Writer\n\noutput 2",
		snap.Result)
	require.NotNil(t, snap.StartedAt)
	require.NotNil(t, snap.CompletedAt)
	assert.False(t, snap.CompletedAt.Before(*snap.StartedAt))

	require.NotEmpty(t, snap.Logs)
	assert.Equal(t, "Starting pipeline: News Digest", snap.Logs[0].Message)
	last := snap.Logs[len(snap.Logs)-1]
	assert.Equal(t, LevelSuccess, last.Level)
	assert.Equal(t, "Run completed successfully.", last.Message)
	assert.Empty(t, warnings(snap.Logs))

	reqs := gen.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "ollama/gemma3:latest", reqs[0].Model)
	assert.Equal(t, 0.2, reqs[0].Temperature)
	assert.Equal(t, 256, reqs[0].MaxTokens)
	assert.Equal(t, "gpt-4o-mini", reqs[1].Model)

	stored, err := store.GetRun(context.Background(), snap.ID)
	require.NoError(t, err)
	assert.Equal(t, backend.StatusCompleted, stored.Status)
	assert.Equal(t, snap.Result, stored.Result)
	assert.Len(t, stored.Logs, len(snap.Logs))

	assert.Equal(t, 0, r.ActiveRunCount())
	assert.Empty(t, r.Registry().Active())
}

func TestExecute_ValidationError(t *testing.T) {
	store := memory.New()
	r := newTestRunner(t, store, WithGenerator(&recorder{}))

	tests := []struct {
		name string
		p    *pipeline.Pipeline
	}{
		{name: "nil", p: nil},
		{name: "no agents", p: &pipeline.Pipeline{ID: "p", Tasks: []pipeline.Task{{Name: "t"}}}},
		{name: "no tasks", p: &pipeline.Pipeline{ID: "p", Agents: []pipeline.Agent{{ID: "a", Name: "A"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := r.Execute(context.Background(), tt.p)
			assert.Nil(t, snap)
			assert.True(t, errors.IsValidation(err), "got %v", err)
		})
	}

	runs, err := store.ListRuns(context.Background(), backend.RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestExecute_InlineTasks(t *testing.T) {
	gen := &recorder{}
	r := newTestRunner(t, memory.New(), WithGenerator(gen))

	p := &pipeline.Pipeline{
		ID:      "inline",
		Name:    "Inline",
		Process: pipeline.ProcessSequential,
		Agents: []pipeline.Agent{
			{ID: "a", Name: "Alpha", TaskDescription: "do alpha", TaskExpectedOutput: "alpha"},
			{ID: "b", Name: "Beta"},
			{ID: "c", Name: "Gamma", TaskDescription: "do gamma"},
		},
	}
	snap, err := r.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, snap.Status)
	assert.Equal(t, []string{"Alpha", "Gamma"}, taskNames(gen.requests()))
	require.Len(t, snap.Results, 2)
	assert.Equal(t, "Gamma", snap.Results[1].Agent)
	assert.Empty(t, warnings(snap.Logs))
}

func TestExecute_TaskOrder(t *testing.T) {
	gen := &recorder{}
	r := newTestRunner(t, memory.New(), WithGenerator(gen))

	p := twoAgentPipeline()
	p.Tasks = []pipeline.Task{
		{Name: "idx0", Description: "d", Order: 2, AgentID: "writer"},
		{Name: "idx1", Description: "d", Order: 1, AgentID: "writer"},
		{Name: "idx2", Description: "d", Order: 1, AgentID: "writer"},
	}
	_, err := r.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, []string{"idx1", "idx2", "idx0"}, taskNames(gen.requests()))
}

func TestExecute_FallbackAgent(t *testing.T) {
	gen := &recorder{}
	r := newTestRunner(t, memory.New(), WithGenerator(gen))

	p := twoAgentPipeline()
	p.Tasks[1].AgentID = ""
	snap, err := r.Execute(context.Background(), p)
	require.NoError(t, err)

	reqs := gen.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "ollama/gemma3:latest", reqs[1].Model, "falls back to the first agent")
	assert.Equal(t, "Researcher", snap.Results[1].Agent)

	var mentioning []LogEntry
	for _, w := range warnings(snap.Logs) {
		if strings.Contains(w.Message, "'Write'") {
			mentioning = append(mentioning, w)
		}
	}
	require.Len(t, mentioning, 1)
	assert.Equal(t, "Task 'Write' has no assigned agent, using the first available agent.", mentioning[0].Message)
	assert.Empty(t, mentioning[0].Agent)
}

func TestExecute_PreviousResultsDigest(t *testing.T) {
	gen := &recorder{answer: func(n int, _ capability.GenerateRequest) (*capability.GenerateResult, error) {
		return &capability.GenerateResult{Text: strings.Repeat(string(rune('a'+n-1)), 600), Tokens: 1}, nil
	}}
	r := newTestRunner(t, memory.New(), WithGenerator(gen))

	p := twoAgentPipeline()
	p.Tasks = append(p.Tasks, pipeline.Task{Name: "Review", Description: "check", Order: 3, AgentID: "writer"})

	_, err := r.Execute(context.Background(), p)
	require.NoError(t, err)

	reqs := gen.requests()
	require.Len(t, reqs, 3)
	assert.NotContains(t, reqs[0].UserPrompt, "### Previous results:")
	assert.Contains(t, reqs[1].UserPrompt,
		"\n\n### Previous results:\n- **Research** (Researcher): "+strings.Repeat("a", 500))
	assert.NotContains(t, reqs[1].UserPrompt, strings.Repeat("a", 501))
	assert.True(t, strings.HasSuffix(reqs[2].UserPrompt,
		"- **Research** (Researcher): "+strings.Repeat("a", 500)+"\n- **Write** (Writer): "+strings.Repeat("b", 500)))

	// A second run starts with an empty digest.
	_, err = r.Execute(context.Background(), p)
	require.NoError(t, err)
	reqs = gen.requests()
	require.Len(t, reqs, 6)
	assert.NotContains(t, reqs[3].UserPrompt, "### Previous results:")
	assert.NotContains(t, reqs[4].UserPrompt, strings.Repeat("c", 10))
}

func TestExecute_GenerationFailure(t *testing.T) {
	gen := &recorder{answer: func(n int, _ capability.GenerateRequest) (*capability.GenerateResult, error) {
		if n == 1 {
			return nil, stderrors.New("connection refused")
		}
		return &capability.GenerateResult{Text: "fine", Tokens: 7}, nil
	}}
	metrics := &fakeMetrics{}
	r := newTestRunner(t, memory.New(), WithGenerator(gen), WithMetrics(metrics))

	snap, err := r.Execute(context.Background(), twoAgentPipeline())
	require.NoError(t, err)

	assert.Equal(t, RunStatusCompleted, snap.Status)
	require.Len(t, snap.Results, 2)
	assert.Equal(t, "[Error executing with ollama/gemma3:latest]: connection refused", snap.Results[0].Output)
	assert.Equal(t, 0, snap.Results[0].Tokens)
	assert.Equal(t, "fine", snap.Results[1].Output)
	assert.Equal(t, 7, snap.TokensUsed)

	ws := warnings(snap.Logs)
	require.Len(t, ws, 1)
	assert.Equal(t, "Researcher", ws[0].Agent)
	assert.Contains(t, ws[0].Message, "connection refused")

	assert.Equal(t, 1, metrics.capabilityErrors[capability.Generate])
	assert.Equal(t, map[string]int{"error": 1, "success": 1}, metrics.tasks)
	assert.Equal(t, []string{"completed"}, metrics.completed)
}

func TestExecute_Augmentation(t *testing.T) {
	var fetched []string
	fetcher := capability.FetcherFunc(func(_ context.Context, url string) (string, error) {
		fetched = append(fetched, url)
		if strings.Contains(url, "broken") {
			return "", stderrors.New("status 500")
		}
		return strings.Repeat("x", 6000), nil
	})
	var query string
	var max int
	searcher := capability.SearcherFunc(func(_ context.Context, q string, n int) (string, error) {
		query, max = q, n
		return "1. Result", nil
	})
	gen := &recorder{}
	r := newTestRunner(t, memory.New(), WithGenerator(gen), WithFetcher(fetcher), WithSearcher(searcher))

	p := twoAgentPipeline()
	p.Agents[0].Skills = []pipeline.Skill{
		{Kind: pipeline.SkillContentFetch, Name: "Scraper", Target: "https://example.com/"},
		{Kind: pipeline.SkillContentFetch, Target: "https://broken.example/"},
		{Kind: pipeline.SkillTool, Name: "Notes", Description: "keeps notes"},
	}
	p.Agents[0].WebSearch = true
	p.Tasks[0].Description = strings.Repeat("q", 250)
	p.Tasks = p.Tasks[:1]

	snap, err := r.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, snap.Status)

	assert.Equal(t, []string{"https://example.com/", "https://broken.example/"}, fetched)
	assert.Equal(t, strings.Repeat("q", 200), query)
	assert.Equal(t, 5, max)

	reqs := gen.requests()
	require.Len(t, reqs, 1)
	prompt := reqs[0].UserPrompt
	assert.Contains(t, prompt, "\n\n### Content extracted from https://example.com/:\n"+strings.Repeat("x", 5000)+"\n")
	assert.NotContains(t, prompt, strings.Repeat("x", 5001))
	assert.Contains(t, prompt, "\n\n### Web search results:\n1. Result\n")
	assert.NotContains(t, prompt, "broken.example")

	assert.Contains(t, reqs[0].SystemPrompt, "**Skills / Tools:**\n- Scraper\n- scraping\n- Notes: keeps notes\n")

	ws := warnings(snap.Logs)
	require.Len(t, ws, 1)
	assert.Equal(t, "Error in skill execution: status 500", ws[0].Message)

	var infos []string
	for _, l := range snap.Logs {
		if l.Level == LevelInfo && l.Agent == "Researcher" {
			infos = append(infos, l.Message)
		}
	}
	assert.Equal(t, []string{
		"Starting task: Research",
		"Fetching content from https://example.com/",
		"Fetching content from https://broken.example/",
		"Searching the web: " + strings.Repeat("q", 200),
	}, infos)
}

func TestExecute_SearchFailureIsWarning(t *testing.T) {
	searcher := capability.SearcherFunc(func(context.Context, string, int) (string, error) {
		return "", stderrors.New("no results")
	})
	gen := &recorder{}
	r := newTestRunner(t, memory.New(), WithGenerator(gen), WithSearcher(searcher))

	p := twoAgentPipeline()
	p.Agents[1].WebSearch = true
	snap, err := r.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, snap.Status)
	ws := warnings(snap.Logs)
	require.Len(t, ws, 1)
	assert.Equal(t, "Web search failed: no results", ws[0].Message)
	assert.NotContains(t, gen.requests()[1].UserPrompt, "### Web search results:")
}

type fakeModels map[string][3]string

func (f fakeModels) ModelOverride(id string) (string, string, string, bool) {
	v, ok := f[id]
	return v[0], v[1], v[2], ok
}

func TestExecute_ModelOverride(t *testing.T) {
	gen := &recorder{}
	models := fakeModels{"gpt-4o-mini": {"openai", "http://proxy:8080/v1", "sk-test"}}
	r := newTestRunner(t, memory.New(), WithGenerator(gen), WithModelConfig(models))

	_, err := r.Execute(context.Background(), twoAgentPipeline())
	require.NoError(t, err)

	reqs := gen.requests()
	require.Len(t, reqs, 2)
	assert.Empty(t, reqs[0].Provider)
	assert.Empty(t, reqs[0].Endpoint)
	assert.Equal(t, "openai", reqs[1].Provider)
	assert.Equal(t, "http://proxy:8080/v1", reqs[1].Endpoint)
	assert.Equal(t, "sk-test", reqs[1].APIKey)
}

func TestExecute_NoGenerator(t *testing.T) {
	r := newTestRunner(t, memory.New())
	snap, err := r.Execute(context.Background(), twoAgentPipeline())
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, snap.Status)
	assert.Equal(t, "Error: "+errNoGenerator.Error(), snap.Result)
}

func TestExecute_PanicRecovered(t *testing.T) {
	gen := capability.GeneratorFunc(func(context.Context, capability.GenerateRequest) (*capability.GenerateResult, error) {
		panic("kaboom")
	})
	store := memory.New()
	r := newTestRunner(t, store, WithGenerator(gen))

	snap, err := r.Execute(context.Background(), twoAgentPipeline())
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, snap.Status)
	assert.Equal(t, "Error: panic: kaboom", snap.Result)
	require.NotNil(t, snap.CompletedAt)
	last := snap.Logs[len(snap.Logs)-1]
	assert.Equal(t, LevelError, last.Level)
	assert.Equal(t, snap.Result, last.Message)

	stored, err := store.GetRun(context.Background(), snap.ID)
	require.NoError(t, err)
	assert.Equal(t, backend.StatusFailed, stored.Status)
	assert.Empty(t, r.Registry().Active())
}

func TestExecute_ContextCancelledDuringFetch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fetcher := capability.FetcherFunc(func(ctx context.Context, _ string) (string, error) {
		cancel()
		<-ctx.Done()
		return "", ctx.Err()
	})
	gen := &recorder{}
	r := newTestRunner(t, memory.New(), WithGenerator(gen), WithFetcher(fetcher))

	p := twoAgentPipeline()
	p.Agents[0].Skills = []pipeline.Skill{{Kind: pipeline.SkillContentFetch, Target: "https://example.com/"}}

	snap, err := r.Execute(ctx, p)
	var cerr *errors.CancellationError
	require.True(t, stderrors.As(err, &cerr), "got %v", err)
	assert.Equal(t, snap.ID, cerr.RunID)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, RunStatusFailed, snap.Status)
	assert.Equal(t, "Run cancelled by user", snap.Result)
	assert.Empty(t, gen.requests())
	last := snap.Logs[len(snap.Logs)-1]
	assert.Equal(t, LevelWarning, last.Level)
	assert.Equal(t, "Run cancelled by user", last.Message)
}

// blockingGenerator blocks until its context ends and signals each call.
func blockingGenerator(calls chan<- struct{}) capability.Generator {
	return capability.GeneratorFunc(func(ctx context.Context, _ capability.GenerateRequest) (*capability.GenerateResult, error) {
		calls <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	})
}

func TestStop_ActiveRun(t *testing.T) {
	store := memory.New()
	calls := make(chan struct{}, 4)
	r := newTestRunner(t, store, WithGenerator(blockingGenerator(calls)))

	h, err := r.Submit(context.Background(), twoAgentPipeline())
	require.NoError(t, err)
	<-calls

	assert.Equal(t, []string{h.RunID}, r.Registry().Active())
	assert.True(t, r.Stop(h.RunID))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := h.Wait(ctx)
	assert.True(t, errors.IsCancellation(err), "got %v", err)
	require.NotNil(t, snap)
	assert.Equal(t, RunStatusFailed, snap.Status)
	assert.Equal(t, "Run cancelled by user", snap.Result)
	assert.Empty(t, snap.Results)

	stored, err := store.GetRun(context.Background(), h.RunID)
	require.NoError(t, err)
	assert.Equal(t, backend.StatusFailed, stored.Status)
	logCount := len(stored.Logs)

	// Terminal and unknown runs are not stoppable and are left untouched.
	assert.False(t, r.Stop(h.RunID))
	assert.False(t, r.Stop("no-such-run"))
	stored, err = store.GetRun(context.Background(), h.RunID)
	require.NoError(t, err)
	assert.Len(t, stored.Logs, logCount)
	assert.Empty(t, r.Registry().Active())

	got, err := r.GetRun(context.Background(), h.RunID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, got.Status)
}

func TestStop_QueuedRun(t *testing.T) {
	calls := make(chan struct{}, 4)
	r := New(Config{MaxParallel: 1}, memory.New(), WithLogger(log.Discard()), WithGenerator(blockingGenerator(calls)))

	first, err := r.Submit(context.Background(), twoAgentPipeline())
	require.NoError(t, err)
	<-calls

	second, err := r.Submit(context.Background(), twoAgentPipeline())
	require.NoError(t, err)
	assert.True(t, r.Stop(second.RunID))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := second.Wait(ctx)
	assert.True(t, errors.IsCancellation(err))
	assert.Equal(t, RunStatusFailed, snap.Status)
	assert.Nil(t, snap.StartedAt)
	assert.Equal(t, "Run cancelled by user", snap.Result)

	assert.True(t, r.Stop(first.RunID))
	_, err = first.Wait(ctx)
	assert.True(t, errors.IsCancellation(err))
	require.NoError(t, r.Shutdown(ctx))
}

func TestShutdown(t *testing.T) {
	calls := make(chan struct{}, 4)
	r := New(Config{}, memory.New(), WithLogger(log.Discard()), WithGenerator(blockingGenerator(calls)))

	h, err := r.Submit(context.Background(), twoAgentPipeline())
	require.NoError(t, err)
	<-calls

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))

	select {
	case <-h.Done():
	default:
		t.Fatal("run still active after shutdown")
	}
	snap, err := h.Wait(ctx)
	assert.True(t, errors.IsCancellation(err))
	assert.Equal(t, RunStatusFailed, snap.Status)

	_, err = r.Submit(context.Background(), twoAgentPipeline())
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestSubmit_DetachedFromCallerContext(t *testing.T) {
	gen := &recorder{}
	r := newTestRunner(t, memory.New(), WithGenerator(gen))

	ctx, cancel := context.WithCancel(WithTrigger(context.Background(), TriggerSchedule))
	h, err := r.Submit(ctx, twoAgentPipeline())
	require.NoError(t, err)
	cancel()

	wctx, wcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer wcancel()
	snap, err := h.Wait(wctx)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, snap.Status)
	assert.Equal(t, TriggerSchedule, snap.Trigger)
}

func TestNotify(t *testing.T) {
	var got []capability.Notification
	notifier := capability.NotifierFunc(func(_ context.Context, n capability.Notification) error {
		got = append(got, n)
		return nil
	})
	r := newTestRunner(t, memory.New(), WithGenerator(&recorder{}), WithNotifier(notifier))

	p := twoAgentPipeline()
	p.NotifyTo = "ops@example.com"
	snap, err := r.Execute(context.Background(), p)
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, "ops@example.com", got[0].To)
	assert.Equal(t, "News Digest", got[0].Subject)
	assert.Equal(t, snap.Result, got[0].Body)

	n := len(snap.Logs)
	require.GreaterOrEqual(t, n, 2)
	assert.Equal(t, "Report sent to ops@example.com", snap.Logs[n-2].Message)
	assert.Equal(t, "Run completed successfully.", snap.Logs[n-1].Message)
}

func TestNotify_FailureKeepsRunCompleted(t *testing.T) {
	notifier := capability.NotifierFunc(func(context.Context, capability.Notification) error {
		return stderrors.New("smtp: 535 auth failed")
	})
	r := newTestRunner(t, memory.New(), WithGenerator(&recorder{}), WithNotifier(notifier))

	p := twoAgentPipeline()
	p.NotifyTo = "ops@example.com"
	snap, err := r.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, snap.Status)

	ws := warnings(snap.Logs)
	require.Len(t, ws, 1)
	assert.Equal(t, "Failed to send report to ops@example.com: smtp: 535 auth failed", ws[0].Message)
}

// lengthStore records the log length of every committed update.
type lengthStore struct {
	*memory.Backend
	mu      sync.Mutex
	lengths []int
}

func (s *lengthStore) UpdateRun(ctx context.Context, run *backend.Run) error {
	s.mu.Lock()
	s.lengths = append(s.lengths, len(run.Logs))
	s.mu.Unlock()
	return s.Backend.UpdateRun(ctx, run)
}

func TestLogs_AppendOnly(t *testing.T) {
	store := &lengthStore{Backend: memory.New()}
	r := newTestRunner(t, store, WithGenerator(&recorder{}))

	snap, err := r.Execute(context.Background(), twoAgentPipeline())
	require.NoError(t, err)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.NotEmpty(t, store.lengths)
	for i := 1; i < len(store.lengths); i++ {
		assert.GreaterOrEqual(t, store.lengths[i], store.lengths[i-1])
	}
	assert.Equal(t, len(snap.Logs), store.lengths[len(store.lengths)-1])

	for i := 1; i < len(snap.Logs); i++ {
		assert.False(t, snap.Logs[i].Timestamp.Before(snap.Logs[i-1].Timestamp))
	}
}

func TestCreateRunAndStart(t *testing.T) {
	store := memory.New()
	gen := &recorder{}
	r := newTestRunner(t, store, WithGenerator(gen), WithPipelineStore(store))
	ctx := context.Background()

	p := twoAgentPipeline()
	require.NoError(t, store.SavePipeline(ctx, p))

	created, err := r.CreateRun(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, RunStatusPending, created.Status)

	stored, err := store.GetRun(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "pending", stored.Status)

	// Edits made after creation are picked up when the run starts.
	p.Tasks[0].Description = "Find fresh news"
	require.NoError(t, store.SavePipeline(ctx, p))

	events, unsub := r.Subscribe(created.ID)
	defer unsub()

	h, err := r.Start(ctx, created.ID, "news")
	require.NoError(t, err)

	_, err = r.Start(ctx, created.ID, "news")
	assert.Error(t, err)

	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	snap, err := h.Wait(wctx)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, snap.Status)
	assert.Contains(t, gen.requests()[0].UserPrompt, "Find fresh news")

	var streamed []LogEntry
	for e := range events {
		streamed = append(streamed, e)
	}
	assert.Equal(t, snap.Logs, streamed)

	_, err = r.Start(ctx, "missing", "news")
	assert.True(t, errors.IsNotFound(err))
}

func TestStart_WrongPipeline(t *testing.T) {
	store := memory.New()
	r := newTestRunner(t, store, WithGenerator(&recorder{}), WithPipelineStore(store))
	ctx := context.Background()

	created, err := r.CreateRun(ctx, twoAgentPipeline())
	require.NoError(t, err)
	_, err = r.Start(ctx, created.ID, "other")
	assert.True(t, errors.IsValidation(err))

	snap, err := r.GetRun(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, snap.Status)
}

func TestStart_MissingPipelineFailsRun(t *testing.T) {
	store := memory.New()
	metrics := &fakeMetrics{}
	r := newTestRunner(t, store, WithGenerator(&recorder{}), WithPipelineStore(store), WithMetrics(metrics))
	ctx := context.Background()

	created, err := r.CreateRun(ctx, twoAgentPipeline())
	require.NoError(t, err)
	assert.Equal(t, 1, r.ActiveRunCount())

	events, unsub := r.Subscribe(created.ID)
	defer unsub()

	_, err = r.Start(ctx, created.ID, "news")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	snap, err := r.GetRun(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, snap.Status)
	assert.True(t, strings.HasPrefix(snap.Result, "Error: "))
	assert.NotNil(t, snap.CompletedAt)
	require.NotEmpty(t, snap.Logs)
	assert.Equal(t, LevelError, snap.Logs[len(snap.Logs)-1].Level)

	stored, err := store.GetRun(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "failed", stored.Status)
	assert.Equal(t, 0, r.ActiveRunCount())

	var streamed []LogEntry
	for e := range events {
		streamed = append(streamed, e)
	}
	require.Len(t, streamed, 1)
	assert.Equal(t, LevelError, streamed[0].Level)

	metrics.mu.Lock()
	assert.Equal(t, 1, metrics.started)
	assert.Equal(t, []string{"failed"}, metrics.completed)
	metrics.mu.Unlock()

	// The run is terminal; it cannot be started again.
	require.NoError(t, store.SavePipeline(ctx, twoAgentPipeline()))
	_, err = r.Start(ctx, created.ID, "news")
	assert.True(t, errors.IsNotFound(err))
}

func TestStartPipeline_UsesGivenDefinition(t *testing.T) {
	store := memory.New()
	gen := &recorder{}
	r := newTestRunner(t, store, WithGenerator(gen), WithPipelineStore(store))
	ctx := context.Background()

	stale := twoAgentPipeline()
	stale.Tasks[0].Description = "Stale copy"
	require.NoError(t, store.SavePipeline(ctx, stale))

	p := twoAgentPipeline()
	created, err := r.CreateRun(ctx, p)
	require.NoError(t, err)

	h, err := r.StartPipeline(ctx, created.ID, p)
	require.NoError(t, err)
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	snap, err := h.Wait(wctx)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, snap.Status)
	assert.Contains(t, gen.requests()[0].UserPrompt, "Find news")
	assert.NotContains(t, gen.requests()[0].UserPrompt, "Stale copy")

	other, err := r.CreateRun(ctx, p)
	require.NoError(t, err)
	bad := twoAgentPipeline()
	bad.ID = "elsewhere"
	_, err = r.StartPipeline(ctx, other.ID, bad)
	assert.True(t, errors.IsValidation(err))
	failed, err := r.GetRun(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, failed.Status)
}

func TestShutdown_FailsPendingRuns(t *testing.T) {
	store := memory.New()
	r := New(Config{}, store, WithLogger(log.Discard()), WithGenerator(&recorder{}), WithPipelineStore(store))
	ctx := context.Background()

	created, err := r.CreateRun(ctx, twoAgentPipeline())
	require.NoError(t, err)

	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(sctx))

	snap, err := r.GetRun(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, snap.Status)
	assert.Equal(t, "Run cancelled by user", snap.Result)
	assert.Equal(t, 0, r.ActiveRunCount())

	_, err = r.Start(ctx, created.ID, "news")
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestSubscribe_NotInFlightIsClosed(t *testing.T) {
	r := newTestRunner(t, memory.New(), WithGenerator(&recorder{}))

	snap, err := r.Execute(context.Background(), twoAgentPipeline())
	require.NoError(t, err)

	for _, id := range []string{snap.ID, "unknown"} {
		ch, unsub := r.Subscribe(id)
		select {
		case _, ok := <-ch:
			assert.False(t, ok, "run %s", id)
		case <-time.After(time.Second):
			t.Fatalf("subscription to %s was not closed", id)
		}
		unsub()
		assert.Equal(t, 0, r.logs.SubscriberCount(id))
	}
}

func TestShutdown_ConcurrentSubmit(t *testing.T) {
	r := New(Config{MaxParallel: 2}, memory.New(), WithLogger(log.Discard()), WithGenerator(&recorder{}))

	var (
		mu      sync.Mutex
		handles []*Handle
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				h, err := r.Submit(context.Background(), twoAgentPipeline())
				if err != nil {
					assert.ErrorIs(t, err, ErrShuttingDown)
					return
				}
				mu.Lock()
				handles = append(handles, h)
				mu.Unlock()
			}
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for _, h := range handles {
		snap, _ := h.Wait(ctx)
		require.NotNil(t, snap)
		assert.True(t, snap.Status.Terminal())
	}
	assert.Equal(t, 0, r.ActiveRunCount())
}

func TestExecute_ExplicitZeroTemperature(t *testing.T) {
	gen := &recorder{}
	r := newTestRunner(t, memory.New(), WithGenerator(gen))

	p := twoAgentPipeline()
	p.Agents[0].Temperature = llm.Float64(0)
	p.Agents[1].Temperature = nil
	p.Agents[1].MaxTokens = nil

	_, err := r.Execute(context.Background(), p)
	require.NoError(t, err)

	reqs := gen.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, 0.0, reqs[0].Temperature)
	assert.Equal(t, pipeline.DefaultTemperature, reqs[1].Temperature)
	assert.Equal(t, pipeline.DefaultMaxTokens, reqs[1].MaxTokens)
}

func TestListRuns(t *testing.T) {
	store := memory.New()
	r := newTestRunner(t, store, WithGenerator(&recorder{}))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := r.Execute(ctx, twoAgentPipeline())
		require.NoError(t, err)
	}
	runs, err := r.ListRuns(ctx, backend.RunFilter{PipelineID: "news"})
	require.NoError(t, err)
	assert.Len(t, runs, 3)
	for _, run := range runs {
		assert.Equal(t, RunStatusCompleted, run.Status)
	}
}

func TestCustomCostRate(t *testing.T) {
	r := New(Config{CostPerToken: 0.001}, memory.New(), WithLogger(log.Discard()), WithGenerator(&recorder{}))
	snap, err := r.Execute(context.Background(), twoAgentPipeline())
	require.NoError(t, err)
	assert.Equal(t, 0.02, snap.Cost)
}

type fakeMetrics struct {
	mu               sync.Mutex
	started          int
	completed        []string
	tasks            map[string]int
	capabilityErrors map[string]int
}

func (m *fakeMetrics) RecordRunStart(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
}

func (m *fakeMetrics) RecordRunComplete(_, status string, _ time.Duration, _ int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, status)
}

func (m *fakeMetrics) RecordTaskComplete(outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tasks == nil {
		m.tasks = map[string]int{}
	}
	m.tasks[outcome]++
}

func (m *fakeMetrics) RecordCapabilityError(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.capabilityErrors == nil {
		m.capabilityErrors = map[string]int{}
	}
	m.capabilityErrors[name]++
}
