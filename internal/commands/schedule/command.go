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

// Package schedule implements the schedule command group.
package schedule

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/agentforge/internal/commands/shared"
	"github.com/tombee/agentforge/internal/controller/scheduler"
	"github.com/tombee/agentforge/pkg/pipeline"
)

// Preview is the --json output of schedule preview.
type Preview struct {
	PipelineID string               `json:"pipeline_id"`
	Kind       pipeline.TriggerKind `json:"kind"`
	Value      string               `json:"value,omitempty"`
	Next       []time.Time          `json:"next"`
}

// NewCommand creates the schedule command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Inspect pipeline schedules",
		Annotations: map[string]string{
			"group": "pipelines",
		},
	}
	cmd.AddCommand(newPreviewCommand(time.Now))
	return cmd
}

func newPreviewCommand(now func() time.Time) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "preview <file>",
		Short: "Show the next fire times of a pipeline's schedule",
		Long: `Preview parses the schedule of a pipeline definition and prints its next
fire times in UTC. Cron expressions use five fields, an optional leading
seconds field is accepted, as are descriptors such as @daily.`,
		Example: `  agentforge schedule preview digest.yaml
  agentforge schedule preview digest.yaml -n 10 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := pipeline.ParseFile(args[0])
			if err != nil {
				return shared.NewInvalidPipelineError(fmt.Sprintf("%s is invalid", args[0]), err)
			}
			at := now()
			spec, err := scheduler.ParseTrigger(p.ID, p.Trigger, at)
			if err != nil {
				return shared.NewInvalidPipelineError("invalid schedule", err)
			}

			preview := Preview{
				PipelineID: p.ID,
				Kind:       spec.Kind,
				Value:      spec.Value,
				Next:       spec.Next(at, count),
			}
			if preview.Next == nil {
				preview.Next = []time.Time{}
			}
			if shared.GetJSON() {
				return shared.EmitJSON(cmd.OutOrStdout(), preview)
			}

			if spec.Kind == pipeline.TriggerNone {
				cmd.Printf("%s is not scheduled\n", p.ID)
				return nil
			}
			cmd.Printf("%s (%s %s)\n", p.ID, spec.Kind, spec.Value)
			if spec.Defaulted {
				cmd.Printf("  warning: interval defaulted to %d minutes\n", scheduler.DefaultIntervalMinutes)
			}
			for _, t := range preview.Next {
				cmd.Printf("  %s\n", t.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 5, "Number of fire times to show")
	return cmd
}
