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

package shared

import (
	"fmt"
	"strings"

	"github.com/tombee/agentforge/internal/controller/runner"
)

// FormatLogEntry renders one run log line for terminal output.
func FormatLogEntry(e runner.LogEntry) string {
	agent := e.Agent
	if agent == "" {
		agent = "system"
	}
	return fmt.Sprintf("%s %-7s [%s] %s", e.Timestamp.Local().Format("15:04:05"), strings.ToUpper(e.Level), agent, e.Message)
}

// FormatResult renders a run result. JSON results are pretty-printed.
func FormatResult(result string, results []runner.TaskResult) string {
	v, ok := runner.ParseResult(result, results)
	if !ok {
		return result
	}
	var b strings.Builder
	if err := EmitJSON(&b, v); err != nil {
		return result
	}
	return strings.TrimRight(b.String(), "\n")
}
