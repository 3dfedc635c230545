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
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/agentforge/internal/capability"
	"github.com/tombee/agentforge/internal/log"
	"github.com/tombee/agentforge/pkg/errors"
	"github.com/tombee/agentforge/pkg/llm"
	"github.com/tombee/agentforge/pkg/pipeline"
)

// Terminal run messages.
const (
	msgCompleted = "Run completed successfully."
	msgCancelled = "Run cancelled by user"
	msgDeadline  = "Run cancelled: deadline exceeded"
)

var errNoGenerator = stderrors.New("no text generation capability configured")

// execute drives run to a terminal state. Registry membership, the active
// run entry and log subscriptions are released on every exit path.
func (r *Runner) execute(ctx context.Context, run *Run) (err error) {
	logger := log.WithRunContext(r.logger, run.ID, run.PipelineID)
	defer func() {
		run.cancel()
		r.registry.Remove(run.ID)
		r.state.forget(run.ID)
		r.logs.closeRun(run.ID)
		run.err = err
		close(run.done)
		r.wg.Done()
	}()
	if r.metrics != nil {
		r.metrics.RecordRunStart(run.PipelineID)
	}

	// Waiting for a slot is a cancellation point.
	select {
	case r.semaphore <- struct{}{}:
		defer func() { <-r.semaphore }()
	case <-ctx.Done():
		logger.Info("run cancelled while queued")
		return r.cancelRun(ctx, run)
	}

	if err := run.markRunning(r.now()); err != nil {
		return err
	}
	r.state.commit(ctx, run)

	ctx, span := r.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run.id", run.ID),
		attribute.String("pipeline.id", run.PipelineID),
		attribute.String("run.trigger", run.Trigger),
	))
	defer span.End()

	logger.Info("run started", slog.String("trigger", run.Trigger))
	r.addLog(ctx, run, "", LevelInfo, "Starting pipeline: "+run.PipelineName)

	fault := r.runTasks(ctx, run)
	if fault == nil {
		r.notifyCompletion(ctx, run)
	}

	switch {
	case ctx.Err() != nil:
		span.SetStatus(codes.Error, "cancelled")
		logger.Info("run cancelled", slog.Any("cause", ctx.Err()))
		return r.cancelRun(ctx, run)
	case fault != nil:
		span.RecordError(fault)
		span.SetStatus(codes.Error, fault.Error())
		logger.Error("run failed", log.Error(fault))
		r.failRun(ctx, run, fault)
		return nil
	default:
		r.completeRun(ctx, run)
		snap := run.Snapshot()
		span.SetAttributes(attribute.Int("run.tokens", snap.TokensUsed))
		logger.Info("run completed", slog.Int("tokens", snap.TokensUsed), slog.Float64("cost", snap.Cost))
		return nil
	}
}

// runTasks executes every task in order. It returns the context error on
// cancellation and any other fault, recovering panics into errors.
func (r *Runner) runTasks(ctx context.Context, run *Run) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("panic: %v", v)
		}
	}()

	if r.generator == nil {
		return errNoGenerator
	}
	p := run.pipeline
	for _, task := range p.RunnableTasks() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.runTask(ctx, run, p, task); err != nil {
			return err
		}
	}
	return nil
}

// runTask executes one task. Capability failures are recorded in the run;
// only cancellation is returned.
func (r *Runner) runTask(ctx context.Context, run *Run, p *pipeline.Pipeline, task pipeline.Task) error {
	agent, ok := p.Agent(task.AgentID)
	if !ok {
		agent = &p.Agents[0]
		r.addLog(ctx, run, "", LevelWarning,
			fmt.Sprintf("Task '%s' has no assigned agent, using the first available agent.", task.Name))
	}

	ctx, span := r.tracer.Start(ctx, "pipeline.task", trace.WithAttributes(
		attribute.String("task.name", task.Name),
		attribute.String("agent.name", agent.Name),
		attribute.String("agent.model", agent.Model),
	))
	defer span.End()

	started := time.Now()
	r.addLog(ctx, run, agent.Name, LevelInfo, "Starting task: "+task.Name)

	augmentation, err := r.augment(ctx, run, agent, task)
	if err != nil {
		return err
	}

	req := capability.GenerateRequest{
		Model:        agent.Model,
		SystemPrompt: systemPrompt(p, agent),
		UserPrompt:   userPrompt(task, augmentation, run.previousResults()),
		Temperature:  agent.Temp(),
		MaxTokens:    agent.TokenLimit(),
	}
	if r.models != nil {
		if provider, endpoint, apiKey, ok := r.models.ModelOverride(agent.Model); ok {
			req.Provider = provider
			req.Endpoint = endpoint
			req.APIKey = apiKey
		}
	}

	res, genErr := r.generator.Generate(ctx, req)
	if genErr != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	result := TaskResult{Task: task.Name, Agent: agent.Name}
	outcome := "success"
	if genErr != nil {
		outcome = "error"
		result.Output = generationError(agent.Model, genErr)
		r.recordCapabilityError(capability.Generate)
		span.RecordError(genErr)
		span.SetStatus(codes.Error, genErr.Error())
	} else if res != nil {
		result.Output = res.Text
		result.Tokens = res.Tokens
		span.SetAttributes(attribute.Int("task.tokens", res.Tokens))
	}

	if err := run.addResult(result); err != nil {
		return err
	}
	if genErr != nil {
		r.addLog(ctx, run, agent.Name, LevelWarning, fmt.Sprintf("Task failed: %s: %v", task.Name, genErr))
	} else {
		r.addLog(ctx, run, agent.Name, LevelSuccess, "Task completed: "+task.Name)
	}
	if r.metrics != nil {
		r.metrics.RecordTaskComplete(outcome, time.Since(started))
	}
	return nil
}

// augment gathers fetched and searched context for the task prompt.
func (r *Runner) augment(ctx context.Context, run *Run, agent *pipeline.Agent, task pipeline.Task) (string, error) {
	var b strings.Builder

	for _, skill := range agent.Skills {
		url, ok := skill.FetchTarget()
		if !ok {
			continue
		}
		if r.fetcher == nil {
			r.addLog(ctx, run, "", LevelWarning, "Content fetch is not configured; skipping "+url)
			continue
		}
		r.addLog(ctx, run, agent.Name, LevelInfo, "Fetching content from "+url)
		content, err := r.fetcher.Fetch(ctx, url)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			r.recordCapabilityError(capability.Fetch)
			r.addLog(ctx, run, "", LevelWarning, fmt.Sprintf("Error in skill execution: %v", err))
			continue
		}
		b.WriteString(fetchSection(url, content))
	}

	if agent.WebSearch {
		if r.searcher == nil {
			r.addLog(ctx, run, "", LevelWarning, "Web search is not configured; skipping search")
			return b.String(), nil
		}
		query := truncate(task.Description, searchQueryLimit)
		r.addLog(ctx, run, agent.Name, LevelInfo, "Searching the web: "+query)
		text, err := r.searcher.Search(ctx, query, searchMaxResults)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			r.recordCapabilityError(capability.Search)
			r.addLog(ctx, run, "", LevelWarning, fmt.Sprintf("Web search failed: %v", err))
		} else {
			b.WriteString(searchSection(text))
		}
	}

	return b.String(), nil
}

// notifyCompletion sends the rendered result to the pipeline's notify
// target. Failures are logged and never change the run outcome.
func (r *Runner) notifyCompletion(ctx context.Context, run *Run) {
	to := run.pipeline.NotifyTo
	if to == "" || ctx.Err() != nil {
		return
	}
	if r.notifier == nil {
		r.addLog(ctx, run, "", LevelWarning, "Notification is not configured; report not sent")
		return
	}
	defer func() {
		if v := recover(); v != nil {
			r.addLog(ctx, run, "", LevelWarning, fmt.Sprintf("Failed to send report to %s: panic: %v", to, v))
		}
	}()
	n := capability.Notification{
		To:      to,
		Subject: run.PipelineName,
		Body:    renderResult(run.previousResults()),
	}
	if err := r.notifier.Notify(ctx, n); err != nil {
		if ctx.Err() != nil {
			return
		}
		r.recordCapabilityError(capability.Notify)
		r.addLog(ctx, run, "", LevelWarning, fmt.Sprintf("Failed to send report to %s: %v", to, err))
		return
	}
	r.addLog(ctx, run, "", LevelInfo, "Report sent to "+to)
}

func (r *Runner) completeRun(ctx context.Context, run *Run) {
	results := run.previousResults()
	tokens := 0
	for _, res := range results {
		tokens += res.Tokens
	}
	entry := LogEntry{Timestamp: r.now(), Level: LevelSuccess, Message: msgCompleted}
	r.finish(ctx, run, RunStatusCompleted, renderResult(results), llm.EstimateCost(tokens, r.costPerToken), entry, false)
}

// cancelRun ends run as failed with a cancellation message and returns
// the error surfaced to the caller.
func (r *Runner) cancelRun(ctx context.Context, run *Run) error {
	cause := ctx.Err()
	if cause == nil {
		cause = context.Canceled
	}
	msg := msgCancelled
	if stderrors.Is(cause, context.DeadlineExceeded) {
		msg = msgDeadline
	}
	entry := LogEntry{Timestamp: r.now(), Level: LevelWarning, Message: msg}
	r.finish(ctx, run, RunStatusFailed, msg, r.runCost(run), entry, true)
	return &errors.CancellationError{RunID: run.ID, Cause: cause}
}

func (r *Runner) failRun(ctx context.Context, run *Run, fault error) {
	msg := "Error: " + fault.Error()
	entry := LogEntry{Timestamp: r.now(), Level: LevelError, Message: msg}
	r.finish(ctx, run, RunStatusFailed, msg, r.runCost(run), entry, false)
}

func (r *Runner) runCost(run *Run) float64 {
	run.mu.RLock()
	defer run.mu.RUnlock()
	return llm.EstimateCost(run.tokens, r.costPerToken)
}

// finish applies the terminal transition and always commits it.
func (r *Runner) finish(ctx context.Context, run *Run, status RunStatus, result string, cost float64, entry LogEntry, cancelled bool) {
	if err := run.finish(status, result, cost, entry, cancelled); err != nil {
		return
	}
	r.logs.publish(run.ID, entry)
	r.state.commit(ctx, run)

	if r.metrics != nil {
		snap := run.Snapshot()
		start := snap.CreatedAt
		if snap.StartedAt != nil {
			start = *snap.StartedAt
		}
		r.metrics.RecordRunComplete(run.PipelineID, string(status), entry.Timestamp.Sub(start), snap.TokensUsed)
	}
}

// addLog appends a run log entry, publishes it and commits the run.
func (r *Runner) addLog(ctx context.Context, run *Run, agent, level, message string) {
	entry := LogEntry{
		Timestamp: r.now(),
		Agent:     agent,
		Level:     level,
		Message:   message,
	}
	if err := run.appendLog(entry); err != nil {
		return
	}
	r.logs.publish(run.ID, entry)
	r.state.commit(ctx, run)
}

func (r *Runner) recordCapabilityError(name string) {
	if r.metrics != nil {
		r.metrics.RecordCapabilityError(name)
	}
}
