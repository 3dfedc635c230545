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

package shared

import (
	"context"
	"io"
	"os"

	"github.com/tombee/agentforge/internal/config"
	"github.com/tombee/agentforge/internal/daemon"
)

// LoadConfig loads the --config file, falling back to the default config
// path when it exists, and applies the --store override.
func LoadConfig() (*config.Config, error) {
	path := GetConfigPath()
	if path == "" {
		if p := config.ConfigPath(); p != "" {
			if _, err := os.Stat(p); err == nil {
				path = p
			}
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if store := GetStore(); store != "" {
		cfg.Store.Type = store
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// OpenDaemon builds the engine for a one-shot command. Logs go to stderr
// at warn level, debug with --verbose and error with --quiet. The caller
// must Close the result. Wiring failures map to ExitProviderError.
func OpenDaemon(ctx context.Context, stderr io.Writer) (*daemon.Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}

	level := "warn"
	switch {
	case GetVerbose():
		level = "debug"
	case GetQuiet():
		level = "error"
	}
	logger := daemon.NewLogger(config.LogConfig{Level: level, Format: "text"}, stderr)

	v, c, b := GetVersion()
	d, err := daemon.New(ctx, cfg, daemon.Options{
		Version:   v,
		Commit:    c,
		BuildDate: b,
		Logger:    logger,
	})
	if err != nil {
		return nil, NewProviderError("failed to open the store or providers", err)
	}
	return d, nil
}
