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

// Package config loads agentforge settings from defaults, an optional YAML
// file and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	forgeerrors "github.com/tombee/agentforge/pkg/errors"
)

var (
	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

// Store types.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Tracing exporters.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// Config represents the complete agentforge configuration.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Store   StoreConfig   `yaml:"store"`
	Runner  RunnerConfig  `yaml:"runner"`
	LLM     LLMConfig     `yaml:"llm"`
	Fetch   FetchConfig   `yaml:"fetch"`
	Search  SearchConfig  `yaml:"search"`
	SMTP    SMTPConfig    `yaml:"smtp"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`

	// PipelinesDir is a directory of pipeline definitions to load and watch.
	// Empty disables the directory store.
	// Environment: AGENTFORGE_PIPELINES_DIR
	PipelinesDir string `yaml:"pipelines_dir,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is json or text.
	Format string `yaml:"format"`

	// AddSource includes file:line in log records.
	AddSource bool `yaml:"add_source"`
}

// StoreConfig selects and configures the run and pipeline store.
type StoreConfig struct {
	// Type is memory, sqlite or postgres.
	// Environment: AGENTFORGE_STORE
	Type string `yaml:"type"`

	SQLite   SQLiteConfig   `yaml:"sqlite,omitempty"`
	Postgres PostgresConfig `yaml:"postgres,omitempty"`
}

// SQLiteConfig configures the sqlite store.
type SQLiteConfig struct {
	// Path is the database file.
	// Environment: AGENTFORGE_SQLITE_PATH
	Path string `yaml:"path"`
}

// PostgresConfig configures the postgres store.
type PostgresConfig struct {
	// DSN is a libpq or URL connection string.
	// Environment: AGENTFORGE_POSTGRES_DSN
	DSN string `yaml:"dsn"`

	// MaxOpenConns bounds the connection pool. Default: 10.
	MaxOpenConns int `yaml:"max_open_conns,omitempty"`
}

// RunnerConfig configures the run engine.
type RunnerConfig struct {
	// MaxParallel bounds concurrently executing runs. Default: 10.
	MaxParallel int `yaml:"max_parallel"`

	// CostPerToken is the blended estimate used for run cost.
	CostPerToken float64 `yaml:"cost_per_token"`

	// Retention is how long finished runs are kept. Zero keeps them forever.
	Retention time.Duration `yaml:"retention,omitempty"`

	// CleanupInterval is how often the retention sweep runs. Default: 1h.
	CleanupInterval time.Duration `yaml:"cleanup_interval,omitempty"`
}

// LLMConfig configures the generation providers.
type LLMConfig struct {
	// OllamaBaseURL is the Ollama server root.
	// Environment: OLLAMA_API_BASE
	OllamaBaseURL string `yaml:"ollama_base_url"`

	// Environment: OPENAI_API_KEY, OPENAI_BASE_URL
	OpenAIAPIKey  string `yaml:"openai_api_key,omitempty"`
	OpenAIBaseURL string `yaml:"openai_base_url,omitempty"`

	// Environment: ANTHROPIC_API_KEY
	AnthropicAPIKey string `yaml:"anthropic_api_key,omitempty"`

	// Environment: GEMINI_API_KEY
	GeminiAPIKey string `yaml:"gemini_api_key,omitempty"`

	// Timeout bounds one completion call. Default: 5m.
	Timeout time.Duration `yaml:"timeout"`

	// Models holds per-model endpoint and credential overrides.
	Models []ModelConfig `yaml:"models,omitempty"`
}

// ModelConfig overrides routing for one model identifier.
type ModelConfig struct {
	// ID is the model identifier as written on the agent.
	ID string `yaml:"id"`

	// Provider names the backend explicitly, bypassing prefix inference.
	Provider string `yaml:"provider,omitempty"`

	// BaseURL overrides the backend endpoint.
	BaseURL string `yaml:"base_url,omitempty"`

	// APIKey overrides the backend credential.
	APIKey string `yaml:"api_key,omitempty"`
}

// FetchConfig configures the content fetch adapter.
type FetchConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	MaxChars  int           `yaml:"max_chars"`
	CacheSize int           `yaml:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
	UserAgent string        `yaml:"user_agent,omitempty"`
}

// SearchConfig configures the web search adapter.
type SearchConfig struct {
	Endpoint      string        `yaml:"endpoint"`
	RatePerMinute int           `yaml:"rate_per_minute"`
	Timeout       time.Duration `yaml:"timeout"`
}

// SMTPConfig configures report e-mail delivery.
// Environment: SMTP_HOST, SMTP_PORT, SMTP_USER, SMTP_PASS, SMTP_FROM
type SMTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	User string `yaml:"user,omitempty"`
	Pass string `yaml:"pass,omitempty"`
	From string `yaml:"from,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address for /metrics and /healthz. Empty disables it.
	// Environment: AGENTFORGE_METRICS_ADDR
	Addr string `yaml:"addr"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	// Exporter is none, stdout or otlp.
	Exporter string `yaml:"exporter"`

	// Endpoint is the OTLP/HTTP collector host:port.
	Endpoint string `yaml:"endpoint,omitempty"`

	// Insecure disables TLS for the OTLP exporter.
	Insecure bool `yaml:"insecure,omitempty"`

	// SampleRatio is the fraction of runs traced, 0..1. Default: 1.
	SampleRatio float64 `yaml:"sample_ratio"`

	// ServiceName is reported as service.name. Default: agentforge.
	ServiceName string `yaml:"service_name,omitempty"`
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Store: StoreConfig{
			Type: StoreMemory,
			SQLite: SQLiteConfig{
				Path: filepath.Join(DataDir(), "agentforge.db"),
			},
			Postgres: PostgresConfig{
				MaxOpenConns: 10,
			},
		},
		Runner: RunnerConfig{
			MaxParallel:     10,
			CostPerToken:    0.000015,
			CleanupInterval: time.Hour,
		},
		LLM: LLMConfig{
			OllamaBaseURL: "http://localhost:11434",
			Timeout:       5 * time.Minute,
		},
		Fetch: FetchConfig{
			Timeout:   15 * time.Second,
			MaxChars:  10000,
			CacheSize: 128,
			CacheTTL:  10 * time.Minute,
		},
		Search: SearchConfig{
			Endpoint:      "https://html.duckduckgo.com/html/",
			RatePerMinute: 30,
			Timeout:       15 * time.Second,
		},
		SMTP: SMTPConfig{
			Host: "smtp.gmail.com",
			Port: 587,
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9464",
		},
		Tracing: TracingConfig{
			Exporter:    ExporterNone,
			SampleRatio: 1,
			ServiceName: "agentforge",
		},
	}
}

// Load loads configuration from configPath (optional) and the environment.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &forgeerrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	// Apply defaults to any zero values (handles minimal configs)
	cfg.applyDefaults()

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, &forgeerrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

// applyDefaults fills in zero values with defaults.
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}

	if c.Store.Type == "" {
		c.Store.Type = defaults.Store.Type
	}
	if c.Store.SQLite.Path == "" {
		c.Store.SQLite.Path = defaults.Store.SQLite.Path
	}
	if c.Store.Postgres.MaxOpenConns == 0 {
		c.Store.Postgres.MaxOpenConns = defaults.Store.Postgres.MaxOpenConns
	}

	if c.Runner.MaxParallel == 0 {
		c.Runner.MaxParallel = defaults.Runner.MaxParallel
	}
	if c.Runner.CostPerToken == 0 {
		c.Runner.CostPerToken = defaults.Runner.CostPerToken
	}
	if c.Runner.CleanupInterval == 0 {
		c.Runner.CleanupInterval = defaults.Runner.CleanupInterval
	}

	if c.LLM.OllamaBaseURL == "" {
		c.LLM.OllamaBaseURL = defaults.LLM.OllamaBaseURL
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = defaults.LLM.Timeout
	}

	if c.Fetch.Timeout == 0 {
		c.Fetch.Timeout = defaults.Fetch.Timeout
	}
	if c.Fetch.MaxChars == 0 {
		c.Fetch.MaxChars = defaults.Fetch.MaxChars
	}
	if c.Fetch.CacheSize == 0 {
		c.Fetch.CacheSize = defaults.Fetch.CacheSize
	}
	if c.Fetch.CacheTTL == 0 {
		c.Fetch.CacheTTL = defaults.Fetch.CacheTTL
	}

	if c.Search.Endpoint == "" {
		c.Search.Endpoint = defaults.Search.Endpoint
	}
	if c.Search.RatePerMinute == 0 {
		c.Search.RatePerMinute = defaults.Search.RatePerMinute
	}
	if c.Search.Timeout == 0 {
		c.Search.Timeout = defaults.Search.Timeout
	}

	if c.SMTP.Host == "" {
		c.SMTP.Host = defaults.SMTP.Host
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = defaults.SMTP.Port
	}

	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = defaults.Tracing.Exporter
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = defaults.Tracing.ServiceName
	}

	c.PipelinesDir = expandHome(c.PipelinesDir)
	c.Store.SQLite.Path = expandHome(c.Store.SQLite.Path)
}

// loadFromFile loads configuration from a YAML file.
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(expandHome(path))
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables.
func (c *Config) loadFromEnv() {
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("AGENTFORGE_LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_SOURCE"); val != "" {
		c.Log.AddSource = parseBool(val)
	}
	if val := os.Getenv("AGENTFORGE_DEBUG"); parseBool(val) {
		c.Log.Level = "debug"
	}

	if val := os.Getenv("AGENTFORGE_STORE"); val != "" {
		c.Store.Type = strings.ToLower(val)
	}
	if val := os.Getenv("AGENTFORGE_SQLITE_PATH"); val != "" {
		c.Store.SQLite.Path = expandHome(val)
	}
	if val := os.Getenv("AGENTFORGE_POSTGRES_DSN"); val != "" {
		c.Store.Postgres.DSN = val
	}
	if val := os.Getenv("AGENTFORGE_PIPELINES_DIR"); val != "" {
		c.PipelinesDir = expandHome(val)
	}
	if val := os.Getenv("AGENTFORGE_MAX_PARALLEL"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Runner.MaxParallel = n
		}
	}
	if val := os.Getenv("AGENTFORGE_METRICS_ADDR"); val != "" {
		c.Metrics.Addr = val
	}

	if val := os.Getenv("OLLAMA_API_BASE"); val != "" {
		c.LLM.OllamaBaseURL = val
	}
	if val := os.Getenv("OPENAI_API_KEY"); val != "" {
		c.LLM.OpenAIAPIKey = val
	}
	if val := os.Getenv("OPENAI_BASE_URL"); val != "" {
		c.LLM.OpenAIBaseURL = val
	}
	if val := os.Getenv("ANTHROPIC_API_KEY"); val != "" {
		c.LLM.AnthropicAPIKey = val
	}
	if val := os.Getenv("GEMINI_API_KEY"); val != "" {
		c.LLM.GeminiAPIKey = val
	}
	if val := os.Getenv("LLM_REQUEST_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.LLM.Timeout = d
		}
	}

	if val := os.Getenv("SMTP_HOST"); val != "" {
		c.SMTP.Host = val
	}
	if val := os.Getenv("SMTP_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.SMTP.Port = port
		}
	}
	if val := os.Getenv("SMTP_USER"); val != "" {
		c.SMTP.User = val
	}
	if val := os.Getenv("SMTP_PASS"); val != "" {
		c.SMTP.Pass = val
	}
	if val := os.Getenv("SMTP_FROM"); val != "" {
		c.SMTP.From = val
	}

	if val := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); val != "" {
		c.Tracing.Endpoint = val
		if c.Tracing.Exporter == ExporterNone {
			c.Tracing.Exporter = ExporterOTLP
		}
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	switch c.Log.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("log.format must be json or text, got %q", c.Log.Format))
	}

	switch c.Store.Type {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.SQLite.Path == "" {
			errs = append(errs, "store.sqlite.path is required for the sqlite store")
		}
	case StorePostgres:
		if c.Store.Postgres.DSN == "" {
			errs = append(errs, "store.postgres.dsn is required for the postgres store")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.type must be memory, sqlite or postgres, got %q", c.Store.Type))
	}

	if c.Runner.MaxParallel < 1 {
		errs = append(errs, fmt.Sprintf("runner.max_parallel must be at least 1, got %d", c.Runner.MaxParallel))
	}
	if c.Runner.CostPerToken < 0 {
		errs = append(errs, "runner.cost_per_token must not be negative")
	}
	if c.Runner.Retention < 0 {
		errs = append(errs, "runner.retention must not be negative")
	}

	if c.LLM.Timeout < 0 {
		errs = append(errs, "llm.timeout must not be negative")
	}
	seen := make(map[string]bool, len(c.LLM.Models))
	for i, m := range c.LLM.Models {
		id := strings.TrimSpace(m.ID)
		if id == "" {
			errs = append(errs, fmt.Sprintf("llm.models[%d].id is required", i))
			continue
		}
		if seen[id] {
			errs = append(errs, fmt.Sprintf("llm.models[%d].id %q is duplicated", i, id))
		}
		seen[id] = true
	}

	if c.Fetch.MaxChars < 0 {
		errs = append(errs, "fetch.max_chars must not be negative")
	}
	if c.Search.RatePerMinute < 0 {
		errs = append(errs, "search.rate_per_minute must not be negative")
	}
	if c.SMTP.Port < 0 || c.SMTP.Port > 65535 {
		errs = append(errs, fmt.Sprintf("smtp.port must be between 0 and 65535, got %d", c.SMTP.Port))
	}

	switch c.Tracing.Exporter {
	case ExporterNone, ExporterStdout, ExporterOTLP:
	default:
		errs = append(errs, fmt.Sprintf("tracing.exporter must be none, stdout or otlp, got %q", c.Tracing.Exporter))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Sprintf("tracing.sample_ratio must be between 0 and 1, got %v", c.Tracing.SampleRatio))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}

	return nil
}

// ModelOverride returns the routing override configured for modelID.
func (c *Config) ModelOverride(modelID string) (provider, baseURL, apiKey string, ok bool) {
	modelID = strings.TrimSpace(modelID)
	for _, m := range c.LLM.Models {
		if strings.TrimSpace(m.ID) == modelID {
			return m.Provider, m.BaseURL, m.APIKey, true
		}
	}
	return "", "", "", false
}

func parseBool(val string) bool {
	return val == "1" || strings.EqualFold(val, "true")
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
