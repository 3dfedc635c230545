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

package schedule

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/agentforge/internal/commands/shared"
)

func definition(kind, value string) string {
	return `
name: Daily Digest
agents:
  - id: ana
    name: Ana
    role: Researcher
    goal: Find news
tasks:
  - name: research
    description: Collect headlines
schedule:
  type: ` + kind + `
  value: "` + value + `"
`
}

func preview(t *testing.T, body string, args ...string) (string, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "p.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	now := func() time.Time { return time.Date(2025, 3, 1, 8, 30, 0, 0, time.UTC) }
	cmd := newPreviewCommand(now)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{path}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestPreview_Cron(t *testing.T) {
	out, err := preview(t, definition("cron", "0 9 * * *"), "-n", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "daily-digest (cron 0 9 * * *)")
	assert.Contains(t, out, "2025-03-01T09:00:00Z")
	assert.Contains(t, out, "2025-03-02T09:00:00Z")
	assert.NotContains(t, out, "2025-03-03")
}

func TestPreview_Interval(t *testing.T) {
	out, err := preview(t, definition("interval", "30"), "-n", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "2025-03-01T09:00:00Z")
	assert.Contains(t, out, "2025-03-01T09:30:00Z")
}

func TestPreview_Once(t *testing.T) {
	out, err := preview(t, definition("once", "2025-03-05 10:00"))
	require.NoError(t, err)
	assert.Contains(t, out, "2025-03-05T10:00:00Z")

	_, err = preview(t, definition("once", "2025-02-01 10:00"))
	require.Error(t, err)
	assert.Equal(t, shared.ExitInvalidPipeline, shared.ExitCode(err))
}

func TestPreview_None(t *testing.T) {
	out, err := preview(t, definition("none", ""))
	require.NoError(t, err)
	assert.Contains(t, out, "daily-digest is not scheduled")
}
