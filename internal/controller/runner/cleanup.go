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

package runner

import (
	"context"
	"log/slog"
	"time"

	"github.com/tombee/agentforge/internal/controller/backend"
)

// StartCleanupLoop periodically deletes finished runs older than the
// retention period. It blocks until ctx is cancelled and returns
// immediately when the store cannot delete runs or retention is unset.
func (s *StateManager) StartCleanupLoop(ctx context.Context, retention, interval time.Duration, logger *slog.Logger) {
	lister, ok := s.store.(backend.RunLister)
	if !ok || retention <= 0 {
		return
	}
	if interval <= 0 {
		interval = 60 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("cleanup loop stopped", "reason", ctx.Err())
			return
		case <-ticker.C:
			deleted := s.CleanupOlderThan(ctx, lister, time.Now().UTC().Add(-retention), logger)
			if deleted > 0 {
				logger.Info("cleaned up old runs", "deleted", deleted, "retention", retention)
			}
		}
	}
}

// CleanupOlderThan deletes finished runs completed before cutoff.
func (s *StateManager) CleanupOlderThan(ctx context.Context, lister backend.RunLister, cutoff time.Time, logger *slog.Logger) int {
	deleted, err := lister.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		logger.Warn("run cleanup failed", "error", err)
		return 0
	}
	return deleted
}
