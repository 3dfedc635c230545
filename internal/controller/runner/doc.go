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

/*
Package runner provides the pipeline run engine.

The Runner turns a pipeline definition into a stateful, observable,
cancellable Run. Tasks execute strictly in order. Each task builds a
system and user prompt from its agent, optional fetched or searched
content and the outputs of earlier tasks, then calls the configured
Generator.

# Key Types

  - Runner: the execution manager
  - Run: one execution attempt, mutated only by the Runner
  - RunSnapshot: immutable view of run state for callers
  - Registry: cancellation handles of in-flight runs
  - Handle: tracks a background execution

# Usage

	r := runner.New(runner.Config{MaxParallel: 10}, store,
	    runner.WithGenerator(gen),
	    runner.WithFetcher(fetcher),
	    runner.WithPipelineStore(pipelines),
	)

Run a pipeline to completion:

	snap, err := r.Execute(ctx, p)

Run it in the background and wait:

	h, err := r.Submit(ctx, p)
	snap, err := h.Wait(ctx)

Cancel an in-flight run:

	stopped := r.Stop(runID)

# Failure Handling

Only validation errors surface before a run exists. Generation, fetch,
search and notify failures are recorded in the run log and output.
Cancellation and unexpected faults end the run as failed; Execute and
Handle.Wait return a *errors.CancellationError for the former.

# Concurrency Control

MaxParallel bounds simultaneous runs. Queued runs wait for a slot and
can be stopped while waiting.

# Persistence

Every log entry is committed to the RunStore as it is written, so
observers polling the store see progress in near real time.
*/
package runner
