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
Package tracing configures the OpenTelemetry tracer provider used by the
run engine.

# Exporters

Three exporters are supported, selected by tracing.exporter:

  - none: spans are discarded through a no-op tracer
  - stdout: spans are written as JSON lines, for local debugging
  - otlp: spans are sent to an OTLP/HTTP collector at tracing.endpoint

# Usage

	provider, err := tracing.New(ctx, cfg.Tracing, version.Version)
	if err != nil {
	    return err
	}
	defer provider.Shutdown(context.Background())

	r := runner.New(cfg, store, runner.WithTracer(provider.Tracer("agentforge/runner")))

The runner opens a "pipeline.run" span per run and a "pipeline.task" child
span per task.
*/
package tracing
