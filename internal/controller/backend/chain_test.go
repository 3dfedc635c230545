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

package backend_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/agentforge/internal/controller/backend"
	"github.com/tombee/agentforge/internal/controller/backend/memory"
	forgeerrors "github.com/tombee/agentforge/pkg/errors"
	"github.com/tombee/agentforge/pkg/pipeline"
)

// readOnly serves a fixed set of pipelines and rejects writes.
type readOnly map[string]*pipeline.Pipeline

func (r readOnly) GetPipeline(_ context.Context, id string) (*pipeline.Pipeline, error) {
	if p, ok := r[id]; ok {
		return p, nil
	}
	return nil, &forgeerrors.NotFoundError{Resource: "pipeline", ID: id}
}

func (r readOnly) ListPipelines(context.Context) ([]*pipeline.Pipeline, error) {
	out := make([]*pipeline.Pipeline, 0, len(r))
	for _, p := range r {
		out = append(out, p)
	}
	return out, nil
}

func (readOnly) SavePipeline(context.Context, *pipeline.Pipeline) error { return backend.ErrReadOnly }
func (readOnly) DeletePipeline(context.Context, string) error           { return backend.ErrReadOnly }

func TestChain(t *testing.T) {
	ctx := context.Background()
	files := readOnly{
		"digest": {ID: "digest", Name: "from file"},
	}
	mem := memory.New()
	require.NoError(t, mem.SavePipeline(ctx, &pipeline.Pipeline{ID: "digest", Name: "from store"}))
	require.NoError(t, mem.SavePipeline(ctx, &pipeline.Pipeline{ID: "alerts", Name: "alerts"}))

	chain := backend.Chain{files, mem}

	t.Run("first hit wins", func(t *testing.T) {
		p, err := chain.GetPipeline(ctx, "digest")
		require.NoError(t, err)
		assert.Equal(t, "from file", p.Name)

		p, err = chain.GetPipeline(ctx, "alerts")
		require.NoError(t, err)
		assert.Equal(t, "alerts", p.Name)
	})

	t.Run("missing everywhere", func(t *testing.T) {
		_, err := chain.GetPipeline(ctx, "nope")
		assert.True(t, forgeerrors.IsNotFound(err))
	})

	t.Run("list dedupes and sorts", func(t *testing.T) {
		list, err := chain.ListPipelines(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "alerts", list[0].ID)
		assert.Equal(t, "digest", list[1].ID)
		assert.Equal(t, "from file", list[1].Name)
	})

	t.Run("writes skip read-only stores", func(t *testing.T) {
		require.NoError(t, chain.SavePipeline(ctx, &pipeline.Pipeline{ID: "weekly", Name: "weekly"}))
		_, err := mem.GetPipeline(ctx, "weekly")
		require.NoError(t, err)

		require.NoError(t, chain.DeletePipeline(ctx, "weekly"))
		_, err = mem.GetPipeline(ctx, "weekly")
		assert.True(t, forgeerrors.IsNotFound(err))
	})

	t.Run("all read-only", func(t *testing.T) {
		only := backend.Chain{files}
		assert.ErrorIs(t, only.SavePipeline(ctx, &pipeline.Pipeline{ID: "x"}), backend.ErrReadOnly)
	})
}
