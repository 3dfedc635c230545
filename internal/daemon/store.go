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

package daemon

import (
	"fmt"
	"log/slog"

	"github.com/tombee/agentforge/internal/config"
	"github.com/tombee/agentforge/internal/controller/backend"
	"github.com/tombee/agentforge/internal/controller/backend/file"
	"github.com/tombee/agentforge/internal/controller/backend/memory"
	"github.com/tombee/agentforge/internal/controller/backend/postgres"
	"github.com/tombee/agentforge/internal/controller/backend/sqlite"
)

// OpenStore opens the run and pipeline store selected by cfg.
func OpenStore(cfg config.StoreConfig) (backend.Backend, error) {
	switch cfg.Type {
	case "", config.StoreMemory:
		return memory.New(), nil
	case config.StoreSQLite:
		be, err := sqlite.New(sqlite.Config{Path: cfg.SQLite.Path, WAL: true})
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return be, nil
	case config.StorePostgres:
		be, err := postgres.New(postgres.Config{
			ConnectionString: cfg.Postgres.DSN,
			MaxOpenConns:     cfg.Postgres.MaxOpenConns,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return be, nil
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}

// PipelineSource layers the pipelines directory, when configured, over the
// store. Directory definitions win on id collisions.
func PipelineSource(dir string, be backend.PipelineStore, logger *slog.Logger) (backend.PipelineStore, error) {
	if dir == "" {
		return be, nil
	}
	fs, err := file.New(dir, logger)
	if err != nil {
		return nil, err
	}
	return backend.Chain{fs, be}, nil
}
