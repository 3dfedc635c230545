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
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/agentforge/internal/capability"
	"github.com/tombee/agentforge/internal/controller/backend"
)

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the process logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithGenerator sets the text generation capability.
func WithGenerator(g capability.Generator) Option {
	return func(r *Runner) {
		r.generator = g
	}
}

// WithFetcher sets the content fetch capability used by scraping skills.
func WithFetcher(f capability.Fetcher) Option {
	return func(r *Runner) {
		r.fetcher = f
	}
}

// WithSearcher sets the web search capability.
func WithSearcher(s capability.Searcher) Option {
	return func(r *Runner) {
		r.searcher = s
	}
}

// WithNotifier sets the completion notifier.
func WithNotifier(n capability.Notifier) Option {
	return func(r *Runner) {
		r.notifier = n
	}
}

// WithPipelineStore sets the store Start loads pipelines from.
func WithPipelineStore(s backend.PipelineStore) Option {
	return func(r *Runner) {
		r.pipelines = s
	}
}

// WithModelConfig sets the per-model endpoint and credential overrides.
func WithModelConfig(mc ModelConfig) Option {
	return func(r *Runner) {
		r.models = mc
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m MetricsCollector) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithTracer sets the tracer used for run and task spans.
func WithTracer(t trace.Tracer) Option {
	return func(r *Runner) {
		if t != nil {
			r.tracer = t
		}
	}
}
