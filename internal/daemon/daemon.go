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

// Package daemon assembles the run engine, scheduler and pipeline watcher
// from configuration and runs them until the context ends.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/tombee/agentforge/internal/capability/fetch"
	"github.com/tombee/agentforge/internal/capability/notify"
	"github.com/tombee/agentforge/internal/capability/search"
	"github.com/tombee/agentforge/internal/config"
	"github.com/tombee/agentforge/internal/controller/backend"
	"github.com/tombee/agentforge/internal/controller/filewatcher"
	"github.com/tombee/agentforge/internal/controller/metrics"
	"github.com/tombee/agentforge/internal/controller/runner"
	"github.com/tombee/agentforge/internal/controller/scheduler"
	internalllm "github.com/tombee/agentforge/internal/llm"
	"github.com/tombee/agentforge/internal/log"
	"github.com/tombee/agentforge/internal/tracing"
)

// DefaultShutdownTimeout bounds graceful shutdown.
const DefaultShutdownTimeout = 30 * time.Second

// Options contains daemon options set at build time.
type Options struct {
	Version   string
	Commit    string
	BuildDate string

	// ShutdownTimeout bounds Close. Zero uses DefaultShutdownTimeout.
	ShutdownTimeout time.Duration

	// Logger overrides the logger built from the log configuration.
	Logger *slog.Logger
}

// Daemon owns every long-lived component.
type Daemon struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	store     backend.Backend
	pipelines backend.PipelineStore
	runner    *runner.Runner
	scheduler *scheduler.Scheduler
	watcher   *filewatcher.Service
	metrics   *metrics.Collector
	registry  *prometheus.Registry
	tracing   *tracing.Provider
	server    *http.Server

	closeOnce sync.Once
	closeErr  error
}

// NewLogger builds the process logger from cfg, writing to w.
func NewLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	return log.New(&log.Config{
		Level:     cfg.Level,
		Format:    log.Format(cfg.Format),
		Output:    w,
		AddSource: cfg.AddSource,
	})
}

// New builds all components from cfg without starting any of them.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Daemon, error) {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = NewLogger(cfg.Log, os.Stderr)
	}
	d := &Daemon{
		cfg:    cfg,
		opts:   opts,
		logger: log.WithComponent(logger, "daemon"),
	}

	store, err := OpenStore(cfg.Store)
	if err != nil {
		return nil, err
	}
	d.store = store

	d.pipelines, err = PipelineSource(cfg.PipelinesDir, store, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	d.tracing, err = tracing.New(ctx, cfg.Tracing, opts.Version, tracing.WithGlobal())
	if err != nil {
		store.Close()
		return nil, err
	}

	d.registry = prometheus.NewRegistry()
	d.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	d.metrics = metrics.New(d.registry)

	runnerOpts, err := capabilityOptions(cfg, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	runnerOpts = append(runnerOpts,
		runner.WithLogger(logger),
		runner.WithPipelineStore(d.pipelines),
		runner.WithModelConfig(cfg),
		runner.WithMetrics(d.metrics),
		runner.WithTracer(d.tracing.Tracer("agentforge/runner")),
	)
	d.runner = runner.New(runner.Config{
		MaxParallel:  cfg.Runner.MaxParallel,
		CostPerToken: cfg.Runner.CostPerToken,
	}, store, runnerOpts...)

	d.scheduler = scheduler.New(d.runner, d.pipelines,
		scheduler.WithLogger(logger),
		scheduler.WithMetrics(d.metrics))

	if cfg.PipelinesDir != "" {
		d.watcher = filewatcher.NewService(cfg.PipelinesDir, d.scheduler, filewatcher.WithLogger(logger))
	}
	return d, nil
}

// capabilityOptions builds the generate, fetch, search and notify adapters.
func capabilityOptions(cfg *config.Config, logger *slog.Logger) ([]runner.Option, error) {
	router, err := internalllm.NewRouter(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to configure LLM providers: %w", err)
	}

	fetcher, err := fetch.New(fetch.Config{
		Timeout:   cfg.Fetch.Timeout,
		MaxChars:  cfg.Fetch.MaxChars,
		CacheSize: cfg.Fetch.CacheSize,
		CacheTTL:  cfg.Fetch.CacheTTL,
		UserAgent: cfg.Fetch.UserAgent,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to configure fetcher: %w", err)
	}

	searcher, err := search.New(search.Config{
		Endpoint:      cfg.Search.Endpoint,
		Timeout:       cfg.Search.Timeout,
		RatePerMinute: cfg.Search.RatePerMinute,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to configure searcher: %w", err)
	}

	smtpCfg := notify.Config{
		Host: cfg.SMTP.Host,
		Port: cfg.SMTP.Port,
		User: cfg.SMTP.User,
		Pass: cfg.SMTP.Pass,
		From: cfg.SMTP.From,
	}
	if !smtpCfg.Configured() {
		logger.Warn("smtp credentials not configured, report e-mails will fail",
			slog.String("hint", "set SMTP_USER and SMTP_PASS"))
	}

	return []runner.Option{
		runner.WithGenerator(internalllm.NewAdapter(router, logger)),
		runner.WithFetcher(fetcher),
		runner.WithSearcher(searcher),
		runner.WithNotifier(notify.NewMailer(smtpCfg, logger)),
	}, nil
}

// Runner returns the run engine.
func (d *Daemon) Runner() *runner.Runner { return d.runner }

// Scheduler returns the scheduler.
func (d *Daemon) Scheduler() *scheduler.Scheduler { return d.scheduler }

// Pipelines returns the pipeline source used for scheduling and runs.
func (d *Daemon) Pipelines() backend.PipelineStore { return d.pipelines }

// Store returns the run store.
func (d *Daemon) Store() backend.Backend { return d.store }

// Run starts the scheduler, the pipeline watcher, the retention sweep and
// the metrics endpoint, then blocks until ctx ends and shuts down.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info("starting agentforged",
		slog.String("version", d.opts.Version),
		slog.String("commit", d.opts.Commit),
		slog.String("store", d.cfg.Store.Type))

	d.scheduler.Start(ctx)
	n, err := d.scheduler.LoadAll(ctx)
	if err != nil {
		d.logger.Error("failed to load schedules", log.Error(err))
	} else {
		d.logger.Info("schedules loaded", slog.Int("count", n))
	}

	if d.watcher != nil {
		if err := d.watcher.Start(ctx); err != nil {
			d.logger.Warn("pipeline directory watch disabled", log.Error(err))
			d.watcher = nil
		}
	}

	var ln net.Listener
	if addr := d.cfg.Metrics.Addr; addr != "" {
		ln, err = net.Listen("tcp", addr)
		if err != nil {
			d.Close()
			return fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
		d.server = &http.Server{
			Handler:           d.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		d.logger.Info("metrics endpoint listening", slog.String("addr", ln.Addr().String()))
	}

	g, gctx := errgroup.WithContext(ctx)

	if d.cfg.Runner.Retention > 0 {
		g.Go(func() error {
			d.runner.StateManager().StartCleanupLoop(gctx, d.cfg.Runner.Retention,
				d.cfg.Runner.CleanupInterval, d.logger)
			return nil
		})
	}

	if d.server != nil {
		g.Go(func() error {
			if err := d.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return d.Close()
	})

	return g.Wait()
}

// Close stops every component in dependency order. It is safe to call
// more than once.
func (d *Daemon) Close() error {
	d.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.opts.ShutdownTimeout)
		defer cancel()
		var errs []error

		if d.watcher != nil {
			if err := d.watcher.Stop(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := d.scheduler.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("scheduler: %w", err))
		}
		if err := d.runner.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("runner: %w", err))
		}
		if d.server != nil {
			if err := d.server.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("metrics server: %w", err))
			}
		}
		if err := d.tracing.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracing: %w", err))
		}
		if err := d.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}

		d.closeErr = errors.Join(errs...)
		if d.closeErr != nil {
			d.logger.Error("shutdown completed with errors", log.Error(d.closeErr))
		} else {
			d.logger.Info("shutdown complete")
		}
	})
	return d.closeErr
}
