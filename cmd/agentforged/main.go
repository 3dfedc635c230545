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

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tombee/agentforge/internal/config"
	"github.com/tombee/agentforge/internal/daemon"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath   = flag.String("config", "", "Path to config file (default: ~/.config/agentforge/config.yaml)")
		storeType    = flag.String("store", "", "Store type (memory, sqlite, postgres)")
		sqlitePath   = flag.String("sqlite-path", "", "SQLite database file")
		postgresDSN  = flag.String("postgres-dsn", "", "PostgreSQL connection string")
		pipelinesDir = flag.String("pipelines-dir", "", "Directory of pipeline files to load and watch")
		metricsAddr  = flag.String("metrics-addr", "", "Listen address for /metrics and /healthz")
		showVersion  = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("agentforged %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	path := *configPath
	if path == "" {
		path = config.ConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Apply CLI flag overrides
	if *storeType != "" {
		cfg.Store.Type = *storeType
	}
	if *sqlitePath != "" {
		cfg.Store.SQLite.Path = *sqlitePath
	}
	if *postgresDSN != "" {
		cfg.Store.Postgres.DSN = *postgresDSN
	}
	if *pipelinesDir != "" {
		cfg.PipelinesDir = *pipelinesDir
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := daemon.NewLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := daemon.New(ctx, cfg, daemon.Options{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("Failed to create daemon", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("agentforged starting",
		slog.String("version", version),
		slog.String("store", cfg.Store.Type),
		slog.String("pipelines_dir", cfg.PipelinesDir))

	// Run returns once ctx is cancelled and every component is closed.
	if err := d.Run(ctx); err != nil {
		logger.Error("Daemon error", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("agentforged stopped")
}
