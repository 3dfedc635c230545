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

package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/agentforge/internal/controller/backend"
	"github.com/tombee/agentforge/internal/controller/backend/backendtest"
)

func TestMemoryBackend(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) backend.Backend { return New() })
}

func TestMemoryBackend_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	be := New()

	run := &backend.Run{ID: "r1", PipelineID: "p", Status: "running"}
	require.NoError(t, be.CreateRun(ctx, run))

	run.Status = "mutated"
	got, err := be.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "running", got.Status)

	got.Logs = append(got.Logs, backend.LogEntry{Message: "local"})
	again, err := be.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, again.Logs)
}
