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

package pipeline

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tombee/agentforge/pkg/errors"
)

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Parse decodes a YAML (or JSON) pipeline definition, applies defaults and
// validates it.
func Parse(data []byte) (*Pipeline, error) {
	var p Pipeline
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline definition: %w", err)
	}

	p.ApplyDefaults()

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// ParseFile reads and parses a pipeline definition from disk.
func ParseFile(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline file: %w", err)
	}
	return Parse(data)
}

// ApplyDefaults fills unset identifiers, agent generation settings,
// the process mode and the trigger kind. Generation settings present in
// the definition are kept even when zero.
func (p *Pipeline) ApplyDefaults() {
	if p.ID == "" {
		p.ID = Slug(p.Name)
	}
	if p.Process == "" {
		p.Process = ProcessSequential
	}
	if p.Trigger.Kind == "" {
		p.Trigger.Kind = TriggerNone
	}
	p.Trigger.Kind = TriggerKind(strings.ToLower(string(p.Trigger.Kind)))

	for i := range p.Agents {
		a := &p.Agents[i]
		if a.ID == "" {
			a.ID = Slug(a.Name)
		}
		if a.ID == "" {
			a.ID = fmt.Sprintf("agent-%d", i+1)
		}
		if a.Model == "" {
			a.Model = DefaultModel
		}
		if a.Temperature == nil {
			t := DefaultTemperature
			a.Temperature = &t
		}
		if a.MaxTokens == nil {
			n := DefaultMaxTokens
			a.MaxTokens = &n
		}
		for j := range a.Skills {
			if a.Skills[j].Kind == "" {
				a.Skills[j].Kind = SkillTool
			}
		}
	}

	for i := range p.Tasks {
		if p.Tasks[i].ID == "" {
			p.Tasks[i].ID = fmt.Sprintf("task-%d", i+1)
		}
	}
}

// Validate checks structural validity of the definition.
func (p *Pipeline) Validate() error {
	if p.ID == "" {
		return &errors.ValidationError{
			Field:          "id",
			Message:        "pipeline needs an id or a name",
			SuggestionText: "Add a 'name:' field to the pipeline definition",
		}
	}

	switch p.Process {
	case ProcessSequential, ProcessHierarchical:
	default:
		return &errors.ValidationError{
			Field:          "process",
			Message:        fmt.Sprintf("unknown process mode %q", p.Process),
			SuggestionText: "Use 'sequential' or 'hierarchical'",
		}
	}

	switch p.Trigger.Kind {
	case TriggerNone, TriggerOnce, TriggerInterval, TriggerCron:
	default:
		return &errors.ValidationError{
			Field:          "schedule.type",
			Message:        fmt.Sprintf("unknown schedule type %q", p.Trigger.Kind),
			SuggestionText: "Use one of none, once, interval, cron",
		}
	}

	seen := make(map[string]bool, len(p.Agents))
	for _, a := range p.Agents {
		if seen[a.ID] {
			return &errors.ValidationError{
				Field:   "agents",
				Message: fmt.Sprintf("duplicate agent id %q", a.ID),
			}
		}
		seen[a.ID] = true
	}

	if p.Process == ProcessHierarchical {
		managers := 0
		for _, a := range p.Agents {
			if a.Manager {
				managers++
			}
		}
		if managers > 1 {
			return &errors.ValidationError{
				Field:          "agents",
				Message:        fmt.Sprintf("hierarchical pipeline has %d managers", managers),
				SuggestionText: "Mark at most one agent with 'manager: true'",
			}
		}
	}

	return p.ValidateRunnable()
}

// ValidateRunnable checks the preconditions for executing the pipeline:
// at least one agent and at least one task, explicit or inline.
func (p *Pipeline) ValidateRunnable() error {
	if len(p.Agents) == 0 {
		return &errors.ValidationError{
			Field:          "agents",
			Message:        "pipeline has no agents",
			SuggestionText: "Define at least one agent",
		}
	}
	if len(p.RunnableTasks()) == 0 {
		return &errors.ValidationError{
			Field:          "tasks",
			Message:        "pipeline has no tasks",
			SuggestionText: "Add a tasks list or set task_description on an agent",
		}
	}
	return nil
}

// Slug lowercases s and replaces runs of non-alphanumerics with dashes.
func Slug(s string) string {
	return strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(s), "-"), "-")
}
