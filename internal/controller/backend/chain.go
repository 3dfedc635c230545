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

package backend

import (
	"context"
	"errors"
	"sort"

	forgeerrors "github.com/tombee/agentforge/pkg/errors"
	"github.com/tombee/agentforge/pkg/pipeline"
)

// Chain combines pipeline stores. Reads consult stores in order and the
// first hit wins. Writes go to the first store that accepts them.
type Chain []PipelineStore

var _ PipelineStore = Chain(nil)

// GetPipeline implements PipelineStore.
func (c Chain) GetPipeline(ctx context.Context, id string) (*pipeline.Pipeline, error) {
	for _, s := range c {
		p, err := s.GetPipeline(ctx, id)
		if err == nil {
			return p, nil
		}
		if !forgeerrors.IsNotFound(err) {
			return nil, err
		}
	}
	return nil, &forgeerrors.NotFoundError{Resource: "pipeline", ID: id}
}

// ListPipelines implements PipelineStore. Duplicate IDs keep the entry from
// the earliest store.
func (c Chain) ListPipelines(ctx context.Context) ([]*pipeline.Pipeline, error) {
	seen := make(map[string]bool)
	var out []*pipeline.Pipeline
	for _, s := range c {
		list, err := s.ListPipelines(ctx)
		if err != nil {
			return nil, err
		}
		for _, p := range list {
			if seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SavePipeline implements PipelineStore.
func (c Chain) SavePipeline(ctx context.Context, p *pipeline.Pipeline) error {
	for _, s := range c {
		err := s.SavePipeline(ctx, p)
		if errors.Is(err, ErrReadOnly) {
			continue
		}
		return err
	}
	return ErrReadOnly
}

// DeletePipeline implements PipelineStore.
func (c Chain) DeletePipeline(ctx context.Context, id string) error {
	for _, s := range c {
		err := s.DeletePipeline(ctx, id)
		if errors.Is(err, ErrReadOnly) {
			continue
		}
		return err
	}
	return ErrReadOnly
}
