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

// Package run implements the run command.
package run

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/agentforge/internal/commands/shared"
	"github.com/tombee/agentforge/internal/controller/runner"
	"github.com/tombee/agentforge/pkg/pipeline"
)

// Output is the --json output of run.
type Output struct {
	*runner.RunSnapshot
	Parsed any `json:"parsed_result,omitempty"`
}

// NewCommand creates the run command
func NewCommand() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "run <file|pipeline-id>",
		Short: "Run a pipeline and stream its logs",
		Annotations: map[string]string{
			"group": "execution",
		},
		Long: `Run executes a pipeline in the foreground, streaming its log as it goes,
and prints the result.

The argument is either a definition file or the id of a stored pipeline. A
definition file is saved to the store before it runs, as with
'agentforge pipelines import', so 'agentforge runs latest' can find it.

Interrupting the command, or reaching --timeout, cancels the run. The run
is still recorded as failed with a cancellation message.`,
		Example: `  agentforge run digest.yaml
  agentforge run daily-digest --store sqlite
  agentforge run digest.yaml --json | jq .parsed_result`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			return runPipeline(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0])
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Cancel the run after this long (0 disables)")
	return cmd
}

func loadFile(arg string) (*pipeline.Pipeline, bool, error) {
	info, err := os.Stat(arg)
	if err != nil || info.IsDir() {
		return nil, false, nil
	}
	p, err := pipeline.ParseFile(arg)
	if err != nil {
		return nil, true, shared.NewInvalidPipelineError(fmt.Sprintf("%s is invalid", arg), err)
	}
	return p, true, nil
}

func runPipeline(ctx context.Context, stdout, stderr io.Writer, arg string) error {
	p, isFile, err := loadFile(arg)
	if err != nil {
		return err
	}

	// The engine outlives ctx so a cancelled run can still be recorded.
	d, err := shared.OpenDaemon(context.WithoutCancel(ctx), stderr)
	if err != nil {
		return err
	}
	defer d.Close()

	if !isFile {
		p, err = d.Pipelines().GetPipeline(ctx, arg)
		if err != nil {
			return err
		}
	}

	r := d.Runner()
	snap, err := r.CreateRun(runner.WithTrigger(ctx, runner.TriggerManual), p)
	if err != nil {
		return shared.NewInvalidPipelineError(fmt.Sprintf("%s cannot run", p.ID), err)
	}

	logs, unsubscribe := r.Subscribe(snap.ID)
	defer unsubscribe()

	// A file argument runs exactly as parsed; an id is reloaded at start.
	var h *runner.Handle
	if isFile {
		h, err = r.StartPipeline(ctx, snap.ID, p)
	} else {
		h, err = r.Start(ctx, snap.ID, p.ID)
	}
	if err != nil {
		return err
	}

	stream := !shared.GetJSON() && !shared.GetQuiet()
	if stream {
		fmt.Fprintf(stdout, "Run %s of %s\n", snap.ID, p.Name)
	}

	stopped := false
	for logs != nil {
		select {
		case e, ok := <-logs:
			if !ok {
				logs = nil
				continue
			}
			if stream {
				fmt.Fprintln(stdout, shared.FormatLogEntry(e))
			}
		case <-ctx.Done():
			if !stopped {
				stopped = true
				r.Stop(snap.ID)
			}
			// Keep draining until the run closes its log stream.
			ctx = context.WithoutCancel(ctx)
		}
	}

	final, runErr := h.Wait(context.WithoutCancel(ctx))
	if final == nil {
		return shared.NewExecutionError("run failed", runErr)
	}
	return report(stdout, final)
}

func report(stdout io.Writer, final *runner.RunSnapshot) error {
	if shared.GetJSON() {
		out := Output{RunSnapshot: final}
		if v, ok := runner.ParseResult(final.Result, final.Results); ok {
			out.Parsed = v
		}
		if err := shared.EmitJSON(stdout, out); err != nil {
			return err
		}
	} else if !shared.GetQuiet() {
		fmt.Fprintf(stdout, "\nStatus: %s  tokens: %d  cost: $%.6f\n", final.Status, final.TokensUsed, final.Cost)
		if final.Result != "" {
			fmt.Fprintln(stdout, "\nResult:")
			fmt.Fprintln(stdout, shared.FormatResult(final.Result, final.Results))
		}
	} else if final.Status == runner.RunStatusCompleted {
		fmt.Fprintln(stdout, shared.FormatResult(final.Result, final.Results))
	}

	if final.Status != runner.RunStatusCompleted {
		return shared.NewExecutionError(fmt.Sprintf("run %s %s", final.ID, final.Status), errors.New(final.Result))
	}
	return nil
}
