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

// Package file provides a read-only pipeline store over a directory of
// YAML or JSON definitions.
package file

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tombee/agentforge/internal/controller/backend"
	forgeerrors "github.com/tombee/agentforge/pkg/errors"
	"github.com/tombee/agentforge/pkg/pipeline"
)

var _ backend.PipelineStore = (*Store)(nil)

// Store reads pipeline definitions from Dir on every call, so edits on disk
// are visible without a reload.
type Store struct {
	dir    string
	logger *slog.Logger
}

// New creates a store for dir. The directory must exist.
func New(dir string, logger *slog.Logger) (*Store, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("pipelines directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("pipelines directory: %s is not a directory", dir)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Dir returns the watched directory.
func (s *Store) Dir() string {
	return s.dir
}

// IsDefinition reports whether path has a pipeline definition extension.
func IsDefinition(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// GetPipeline implements backend.PipelineStore.
func (s *Store) GetPipeline(ctx context.Context, id string) (*pipeline.Pipeline, error) {
	list, err := s.ListPipelines(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range list {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, &forgeerrors.NotFoundError{Resource: "pipeline", ID: id}
}

// ListPipelines implements backend.PipelineStore. Files that fail to parse
// are logged and skipped.
func (s *Store) ListPipelines(ctx context.Context) ([]*pipeline.Pipeline, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipelines directory: %w", err)
	}

	seen := make(map[string]string)
	var out []*pipeline.Pipeline
	for _, entry := range entries {
		if entry.IsDir() || !IsDefinition(entry.Name()) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		p, err := pipeline.ParseFile(path)
		if err != nil {
			s.logger.Warn("skipping invalid pipeline definition", "path", path, "error", err)
			continue
		}
		if prev, dup := seen[p.ID]; dup {
			s.logger.Warn("duplicate pipeline id, keeping first", "id", p.ID, "kept", prev, "skipped", path)
			continue
		}
		seen[p.ID] = path
		out = append(out, p)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SavePipeline returns backend.ErrReadOnly.
func (s *Store) SavePipeline(context.Context, *pipeline.Pipeline) error {
	return backend.ErrReadOnly
}

// DeletePipeline returns backend.ErrReadOnly.
func (s *Store) DeletePipeline(context.Context, string) error {
	return backend.ErrReadOnly
}
