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
Package cli provides the root command for the agentforge CLI.

It owns the persistent flags, version information and exit code handling.
Individual commands live in the internal/commands subpackages and are
attached by main.

# Command Tree

	agentforge
	├── run           Run a pipeline once and stream its logs
	├── validate      Validate a pipeline file
	├── pipelines     Import, list and delete stored pipelines
	├── runs          List and inspect recorded runs
	├── schedule      Preview upcoming fire times
	├── version       Show version
	└── help          Show help

# Global Flags

	--verbose, -v    Enable verbose output
	--quiet, -q      Suppress non-error output
	--json           Output in JSON format
	--config         Path to config file
	--store          Store type override

# Exit Codes

  - 0: success
  - 1: the run failed or was cancelled
  - 2: the pipeline is invalid
  - 4: a provider or store could not be reached
*/
package cli
