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

// Package validate implements the validate command.
package validate

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/agentforge/internal/commands/shared"
	"github.com/tombee/agentforge/internal/controller/scheduler"
	"github.com/tombee/agentforge/pkg/pipeline"
)

// Report is the --json output of validate.
type Report struct {
	Valid    bool                 `json:"valid"`
	ID       string               `json:"id,omitempty"`
	Name     string               `json:"name,omitempty"`
	Agents   int                  `json:"agents"`
	Tasks    int                  `json:"tasks"`
	Trigger  pipeline.TriggerKind `json:"trigger,omitempty"`
	Warnings []string             `json:"warnings,omitempty"`
	Error    string               `json:"error,omitempty"`
}

// NewCommand creates the validate command
func NewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a pipeline definition",
		Annotations: map[string]string{
			"group": "pipelines",
		},
		Long: `Validate parses a pipeline definition, checks that it has agents and at
least one runnable task, and checks that its schedule is well formed. No
provider configuration is needed.`,
		Example: `  agentforge validate digest.yaml
  agentforge validate digest.yaml --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, args[0], time.Now())
		},
	}
}

func runValidate(cmd *cobra.Command, path string, now time.Time) error {
	report, err := check(path, now)
	if err != nil {
		report.Error = err.Error()
	}

	if shared.GetJSON() {
		if jerr := shared.EmitJSON(cmd.OutOrStdout(), report); jerr != nil {
			return jerr
		}
	} else if err == nil {
		cmd.Printf("%s is valid: %s (%d agents, %d tasks, schedule %s)\n",
			path, report.ID, report.Agents, report.Tasks, report.Trigger)
		for _, w := range report.Warnings {
			cmd.Printf("  warning: %s\n", w)
		}
	}

	if err != nil {
		return shared.NewInvalidPipelineError(fmt.Sprintf("%s is invalid", path), err)
	}
	return nil
}

func check(path string, now time.Time) (Report, error) {
	p, err := pipeline.ParseFile(path)
	if err != nil {
		return Report{}, err
	}
	report := Report{
		ID:      p.ID,
		Name:    p.Name,
		Agents:  len(p.Agents),
		Tasks:   len(p.RunnableTasks()),
		Trigger: p.Trigger.Kind,
	}
	if err := p.ValidateRunnable(); err != nil {
		return report, err
	}
	spec, err := scheduler.ParseTrigger(p.ID, p.Trigger, now)
	if err != nil {
		return report, err
	}
	if spec.Defaulted {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("interval %q is not a number of minutes, %d will be used", p.Trigger.Value, scheduler.DefaultIntervalMinutes))
	}
	for _, t := range p.Tasks {
		if t.AgentID == "" {
			report.Warnings = append(report.Warnings, fmt.Sprintf("task %q has no agent, the first agent will run it", t.Name))
		}
	}
	report.Valid = true
	return report, nil
}
