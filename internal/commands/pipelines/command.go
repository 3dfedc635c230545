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

// Package pipelines implements the pipelines command group.
package pipelines

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tombee/agentforge/internal/commands/shared"
	"github.com/tombee/agentforge/pkg/pipeline"
)

// NewCommand creates the pipelines command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipelines",
		Short: "Manage stored pipeline definitions",
		Annotations: map[string]string{
			"group": "pipelines",
		},
	}
	cmd.AddCommand(newImportCommand(), newListCommand(), newDeleteCommand())
	return cmd
}

func newImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>...",
		Short: "Parse definition files and save them to the store",
		Long: `Import parses each file and saves it to the configured store, replacing
any pipeline with the same id. A running agentforged picks up imported
schedules the next time it starts.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var parsed []*pipeline.Pipeline
			for _, path := range args {
				p, err := pipeline.ParseFile(path)
				if err != nil {
					return shared.NewInvalidPipelineError(fmt.Sprintf("%s is invalid", path), err)
				}
				parsed = append(parsed, p)
			}

			d, err := shared.OpenDaemon(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer d.Close()

			for _, p := range parsed {
				if err := d.Store().SavePipeline(cmd.Context(), p); err != nil {
					return fmt.Errorf("failed to save %s: %w", p.ID, err)
				}
				if !shared.GetJSON() {
					cmd.Printf("imported %s (%s)\n", p.ID, p.Name)
				}
			}
			if shared.GetJSON() {
				return shared.EmitJSON(cmd.OutOrStdout(), parsed)
			}
			return nil
		},
	}
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pipelines from the store and the pipelines directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := shared.OpenDaemon(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer d.Close()

			list, err := d.Pipelines().ListPipelines(cmd.Context())
			if err != nil {
				return err
			}
			if shared.GetJSON() {
				return shared.EmitJSON(cmd.OutOrStdout(), list)
			}
			if len(list) == 0 {
				cmd.Println("no pipelines")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tAGENTS\tTASKS\tSCHEDULE")
			for _, p := range list {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", p.ID, p.Name, len(p.Agents), len(p.RunnableTasks()), schedule(p.Trigger))
			}
			return w.Flush()
		},
	}
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a pipeline from the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := shared.OpenDaemon(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer d.Close()

			if err := d.Store().DeletePipeline(cmd.Context(), args[0]); err != nil {
				return err
			}
			cmd.Printf("deleted %s\n", args[0])
			return nil
		},
	}
}

func schedule(t pipeline.Trigger) string {
	if !t.Scheduled() {
		return "-"
	}
	return strings.TrimSpace(string(t.Kind) + " " + t.Value)
}
