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

// Package sqlstore implements backend.Backend over database/sql. The sqlite
// and postgres backends share it and differ only in Dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tombee/agentforge/internal/controller/backend"
	forgeerrors "github.com/tombee/agentforge/pkg/errors"
	"github.com/tombee/agentforge/pkg/pipeline"
)

// timeLayout is fixed-width UTC so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Dialect captures the differences between SQL engines.
type Dialect struct {
	// Name identifies the dialect in errors.
	Name string

	// Numbered uses $1, $2 ... placeholders instead of ?.
	Numbered bool

	// Migrations are executed in order on open. They must be idempotent.
	Migrations []string
}

// Store is a SQL-backed backend.Backend.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// Compile-time interface assertions.
var (
	_ backend.RunStore      = (*Store)(nil)
	_ backend.RunLister     = (*Store)(nil)
	_ backend.PipelineStore = (*Store)(nil)
	_ backend.Backend       = (*Store)(nil)
)

// New wraps an open database and runs the dialect migrations.
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	s := &Store{db: db, dialect: dialect, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate(ctx context.Context) error {
	for _, migration := range s.dialect.Migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders for numbered dialects.
func (s *Store) rebind(query string) string {
	if !s.dialect.Numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const runColumns = `id, pipeline_id, pipeline_name, status, trigger_source, result, logs,
	tokens_used, cost, started_at, completed_at, created_at, updated_at`

// CreateRun creates a new run.
func (s *Store) CreateRun(ctx context.Context, run *backend.Run) error {
	logsJSON, err := json.Marshal(run.Logs)
	if err != nil {
		return fmt.Errorf("failed to marshal logs: %w", err)
	}

	now := s.now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now

	query := `INSERT INTO runs (` + runColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, s.rebind(query),
		run.ID, run.PipelineID, run.PipelineName, run.Status, nullString(run.Trigger),
		nullString(run.Result), string(logsJSON), run.TokensUsed, run.Cost,
		formatTime(run.StartedAt), formatTime(run.CompletedAt),
		run.CreatedAt.UTC().Format(timeLayout), run.UpdatedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (*backend.Run, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+runColumns+` FROM runs WHERE id = ?`), id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &forgeerrors.NotFoundError{Resource: "run", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// UpdateRun updates an existing run.
func (s *Store) UpdateRun(ctx context.Context, run *backend.Run) error {
	logsJSON, err := json.Marshal(run.Logs)
	if err != nil {
		return fmt.Errorf("failed to marshal logs: %w", err)
	}

	run.UpdatedAt = s.now().UTC()

	query := `UPDATE runs SET status = ?, trigger_source = ?, result = ?, logs = ?, tokens_used = ?,
		cost = ?, started_at = ?, completed_at = ?, updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, s.rebind(query),
		run.Status, nullString(run.Trigger), nullString(run.Result), string(logsJSON),
		run.TokensUsed, run.Cost, formatTime(run.StartedAt), formatTime(run.CompletedAt),
		run.UpdatedAt.Format(timeLayout), run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return &forgeerrors.NotFoundError{Resource: "run", ID: run.ID}
	}
	return nil
}

// ListRuns lists runs newest first with optional filtering.
func (s *Store) ListRuns(ctx context.Context, filter backend.RunFilter) ([]*backend.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any

	if filter.PipelineID != "" {
		query += ` AND pipeline_id = ?`
		args = append(args, filter.PipelineID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}

	query += ` ORDER BY created_at DESC, id DESC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*backend.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}

	if filter.Limit <= 0 && filter.Offset > 0 {
		if filter.Offset >= len(runs) {
			return nil, nil
		}
		runs = runs[filter.Offset:]
	}
	return runs, nil
}

// LatestCompleted returns the most recently completed run of a pipeline.
func (s *Store) LatestCompleted(ctx context.Context, pipelineID string) (*backend.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs
		WHERE pipeline_id = ? AND status = ? AND completed_at IS NOT NULL
		ORDER BY completed_at DESC LIMIT 1`
	run, err := scanRun(s.db.QueryRowContext(ctx, s.rebind(query), pipelineID, backend.StatusCompleted))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &forgeerrors.NotFoundError{Resource: "completed run", ID: pipelineID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}
	return run, nil
}

// DeleteRun deletes a run.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM runs WHERE id = ?`), id); err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return nil
}

// DeleteOlderThan deletes finished runs completed before the cutoff.
func (s *Store) DeleteOlderThan(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM runs WHERE completed_at IS NOT NULL AND completed_at < ?`),
		before.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// GetPipeline returns a pipeline by ID.
func (s *Store) GetPipeline(ctx context.Context, id string) (*pipeline.Pipeline, error) {
	var definition string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT definition FROM pipelines WHERE id = ?`), id).Scan(&definition)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &forgeerrors.NotFoundError{Resource: "pipeline", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pipeline: %w", err)
	}
	return decodePipeline(definition)
}

// ListPipelines returns all pipelines ordered by ID.
func (s *Store) ListPipelines(ctx context.Context) ([]*pipeline.Pipeline, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT definition FROM pipelines ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pipelines: %w", err)
	}
	defer rows.Close()

	var out []*pipeline.Pipeline
	for rows.Next() {
		var definition string
		if err := rows.Scan(&definition); err != nil {
			return nil, fmt.Errorf("failed to scan pipeline: %w", err)
		}
		p, err := decodePipeline(definition)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pipelines: %w", err)
	}
	return out, nil
}

// SavePipeline creates or replaces a pipeline.
func (s *Store) SavePipeline(ctx context.Context, p *pipeline.Pipeline) error {
	if p.ID == "" {
		return &forgeerrors.ValidationError{Field: "id", Message: "pipeline id is required"}
	}

	definition, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal pipeline: %w", err)
	}

	query := `INSERT INTO pipelines (id, name, trigger_kind, definition, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			trigger_kind = excluded.trigger_kind,
			definition = excluded.definition,
			updated_at = excluded.updated_at`
	_, err = s.db.ExecContext(ctx, s.rebind(query),
		p.ID, p.Name, string(p.Trigger.Kind), string(definition), s.now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to save pipeline: %w", err)
	}
	return nil
}

// DeletePipeline removes a pipeline.
func (s *Store) DeletePipeline(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM pipelines WHERE id = ?`), id); err != nil {
		return fmt.Errorf("failed to delete pipeline: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*backend.Run, error) {
	var run backend.Run
	var trigger, result, logsJSON sql.NullString
	var startedAt, completedAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&run.ID, &run.PipelineID, &run.PipelineName, &run.Status, &trigger, &result, &logsJSON,
		&run.TokensUsed, &run.Cost, &startedAt, &completedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	run.Trigger = trigger.String
	run.Result = result.String
	if logsJSON.Valid && logsJSON.String != "" && logsJSON.String != "null" {
		if err := json.Unmarshal([]byte(logsJSON.String), &run.Logs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal logs: %w", err)
		}
	}
	run.StartedAt = parseNullTime(startedAt)
	run.CompletedAt = parseNullTime(completedAt)
	run.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	run.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return &run, nil
}

func decodePipeline(definition string) (*pipeline.Pipeline, error) {
	var p pipeline.Pipeline
	if err := json.Unmarshal([]byte(definition), &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pipeline: %w", err)
	}
	return &p, nil
}

// formatTime converts a *time.Time to a stored string or nil.
func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil
	}
	return &t
}

// nullString returns nil if string is empty, otherwise the string.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
