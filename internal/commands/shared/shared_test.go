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
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/tombee/agentforge/pkg/errors"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain", errors.New("boom"), ExitExecutionFailed},
		{"invalid", NewInvalidPipelineError("bad", nil), ExitInvalidPipeline},
		{"provider", NewProviderError("no key", nil), ExitProviderError},
		{"wrapped", fmt.Errorf("outer: %w", NewInvalidPipelineError("bad", nil)), ExitInvalidPipeline},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestExitError_Error(t *testing.T) {
	assert.Equal(t, "run failed: boom", NewExecutionError("run failed", errors.New("boom")).Error())
	assert.Equal(t, "run failed", NewExecutionError("run failed", nil).Error())
}

func TestPrintError_Suggestion(t *testing.T) {
	var buf bytes.Buffer
	err := NewInvalidPipelineError("invalid pipeline", &pkgerrors.ValidationError{
		Field:          "tasks",
		Message:        "at least one task is required",
		SuggestionText: "add a task",
	})
	PrintError(&buf, err)
	assert.Contains(t, buf.String(), "Error: invalid pipeline")
	assert.Contains(t, buf.String(), "Suggestion: add a task")
}

func TestLoadConfig_StoreOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  type: memory\n"), 0o600))
	t.Setenv("AGENTFORGE_STORE", "")

	SetFlagsForTest(path, "sqlite", false)
	defer SetFlagsForTest("", "", false)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Type)

	SetFlagsForTest(path, "redis", false)
	_, err = LoadConfig()
	assert.Error(t, err)
}
