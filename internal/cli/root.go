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

package cli

import (
	"github.com/spf13/cobra"
	"github.com/tombee/agentforge/internal/commands/shared"
)

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// NewRootCommand creates the root Cobra command for agentforge
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agentforge",
		Short: "agentforge - multi-agent LLM pipelines",
		Long: `agentforge runs pipelines of LLM agents and tasks defined in YAML.

A pipeline names its agents, the tasks they work through and an optional
schedule. Runs are recorded in the configured store so results can be
picked up later with 'agentforge runs'.

Run 'agentforge validate <file>' to check a pipeline before running it.
Run 'agentforge run <file>' to execute it once from the terminal.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	verbose, quiet, json, config, store := shared.RegisterFlagPointers()

	cmd.PersistentFlags().BoolVarP(verbose, "verbose", "v", false, "Enable verbose output")
	cmd.PersistentFlags().BoolVarP(quiet, "quiet", "q", false, "Suppress non-error output")
	cmd.PersistentFlags().BoolVar(json, "json", false, "Output in JSON format")
	cmd.PersistentFlags().StringVar(config, "config", "", "Path to config file (default: ~/.config/agentforge/config.yaml)")
	cmd.PersistentFlags().StringVar(store, "store", "", "Store type override (memory, sqlite, postgres)")

	return cmd
}

// GetVersion returns version information
func GetVersion() (string, string, string) {
	return shared.GetVersion()
}

// HandleExitError handles exit errors with proper exit codes
func HandleExitError(err error) {
	shared.HandleExitError(err)
}
