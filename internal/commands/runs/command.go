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

// Package runs implements the runs command group.
package runs

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/agentforge/internal/commands/shared"
	"github.com/tombee/agentforge/internal/controller/backend"
	"github.com/tombee/agentforge/internal/controller/runner"
)

// NewCommand creates the runs command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect run history",
		Annotations: map[string]string{
			"group": "runs",
		},
	}
	cmd.AddCommand(newListCommand(), newShowCommand(), newLatestCommand())
	return cmd
}

func newListCommand() *cobra.Command {
	var filter backend.RunFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := shared.OpenDaemon(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer d.Close()

			list, err := d.Runner().ListRuns(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if shared.GetJSON() {
				return shared.EmitJSON(cmd.OutOrStdout(), list)
			}
			if len(list) == 0 {
				cmd.Println("no runs")
				return nil
			}
			return printTable(cmd.OutOrStdout(), list)
		},
	}
	cmd.Flags().StringVar(&filter.PipelineID, "pipeline", "", "Only runs of this pipeline")
	cmd.Flags().StringVar(&filter.Status, "status", "", "Only runs in this status (pending, running, completed, failed)")
	cmd.Flags().IntVar(&filter.Limit, "limit", 20, "Maximum number of runs")
	return cmd
}

func printTable(out io.Writer, list []*runner.RunSnapshot) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPIPELINE\tSTATUS\tTRIGGER\tTOKENS\tCOST\tCREATED")
	for _, r := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t$%.4f\t%s\n",
			r.ID, r.PipelineID, r.Status, r.Trigger, r.TokensUsed, r.Cost,
			r.CreatedAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}

func newShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run with its logs and result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := shared.OpenDaemon(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer d.Close()

			snap, err := d.Runner().GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if shared.GetJSON() {
				return shared.EmitJSON(cmd.OutOrStdout(), snap)
			}
			PrintRun(cmd.OutOrStdout(), snap)
			return nil
		},
	}
}

// PrintRun writes a run summary, its logs and its result.
func PrintRun(out io.Writer, snap *runner.RunSnapshot) {
	fmt.Fprintf(out, "Run %s (%s)\n", snap.ID, snap.PipelineName)
	fmt.Fprintf(out, "  status:  %s\n", snap.Status)
	if snap.Trigger != "" {
		fmt.Fprintf(out, "  trigger: %s\n", snap.Trigger)
	}
	fmt.Fprintf(out, "  tokens:  %d\n", snap.TokensUsed)
	fmt.Fprintf(out, "  cost:    $%.6f\n", snap.Cost)
	if len(snap.Logs) > 0 {
		fmt.Fprintln(out, "\nLogs:")
		for _, e := range snap.Logs {
			fmt.Fprintln(out, "  "+shared.FormatLogEntry(e))
		}
	}
	if snap.Result != "" {
		fmt.Fprintln(out, "\nResult:")
		fmt.Fprintln(out, shared.FormatResult(snap.Result, snap.Results))
	}
}

func newLatestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "latest <pipeline-id>",
		Short: "Print the result of the most recent completed run of a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := shared.OpenDaemon(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer d.Close()

			run, err := d.Store().LatestCompleted(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if shared.GetJSON() {
				v, _ := runner.ParseResult(run.Result, nil)
				return shared.EmitJSON(cmd.OutOrStdout(), map[string]any{
					"run_id":       run.ID,
					"pipeline_id":  run.PipelineID,
					"completed_at": run.CompletedAt,
					"result":       v,
				})
			}
			cmd.Println(shared.FormatResult(run.Result, nil))
			return nil
		},
	}
}
