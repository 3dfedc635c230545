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

package validate

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/agentforge/internal/commands/shared"
)

func writePipeline(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "p.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const valid = `
name: Daily Digest
agents:
  - id: ana
    name: Ana
    role: Researcher
    goal: Find news
tasks:
  - name: research
    description: Collect headlines
  - name: write
    description: Write digest
    agent: ana
schedule:
  type: interval
  value: soon
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidate_Valid(t *testing.T) {
	path := writePipeline(t, valid)
	out, err := execute(t, path)
	require.NoError(t, err)
	assert.Contains(t, out, "daily-digest (1 agents, 2 tasks, schedule interval)")
	assert.Contains(t, out, `interval "soon" is not a number of minutes`)
	assert.Contains(t, out, `task "research" has no agent`)
}

func TestValidate_JSON(t *testing.T) {
	shared.SetFlagsForTest("", "", true)
	defer shared.SetFlagsForTest("", "", false)

	out, err := execute(t, writePipeline(t, valid))
	require.NoError(t, err)

	var r Report
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	assert.True(t, r.Valid)
	assert.Equal(t, "daily-digest", r.ID)
	assert.Len(t, r.Warnings, 2)
}

func TestCheck_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"syntax", "agents: ["},
		{"no tasks", "name: Empty\nagents:\n  - id: a\n    name: A\n    role: r\n    goal: g\n"},
		{"bad cron", valid[:len(valid)-len("  type: interval\n  value: soon\n")] + "  type: cron\n  value: \"not a cron\"\n"},
		{"past once", valid[:len(valid)-len("  type: interval\n  value: soon\n")] + "  type: once\n  value: \"2001-01-01T00:00:00Z\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := check(writePipeline(t, tt.body), time.Now())
			assert.Error(t, err)
		})
	}
}

func TestValidate_InvalidExitCode(t *testing.T) {
	_, err := execute(t, writePipeline(t, "agents: ["))
	require.Error(t, err)
	assert.Equal(t, shared.ExitInvalidPipeline, shared.ExitCode(err))
}
