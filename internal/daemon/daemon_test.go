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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/agentforge/internal/config"
	"github.com/tombee/agentforge/internal/controller/backend"
	"github.com/tombee/agentforge/internal/log"
)

const cronYAML = `
name: Morning Brief
agents:
  - id: ana
    name: Ana
    role: Researcher
    goal: Find news
tasks:
  - name: research
    description: Collect headlines
    agent: ana
schedule:
  type: cron
  value: "0 9 * * *"
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Type = config.StoreMemory
	cfg.Metrics.Addr = ""
	return cfg
}

func TestOpenStore(t *testing.T) {
	be, err := OpenStore(config.StoreConfig{Type: config.StoreMemory})
	require.NoError(t, err)
	require.NoError(t, be.Close())

	be, err = OpenStore(config.StoreConfig{
		Type:   config.StoreSQLite,
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "db", "agentforge.db")},
	})
	require.NoError(t, err)
	require.NoError(t, be.Close())

	_, err = OpenStore(config.StoreConfig{Type: "redis"})
	assert.ErrorContains(t, err, "unknown store type")
}

func TestPipelineSource(t *testing.T) {
	be, err := OpenStore(config.StoreConfig{})
	require.NoError(t, err)

	src, err := PipelineSource("", be, log.Discard())
	require.NoError(t, err)
	assert.Same(t, be, src)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "brief.yaml"), []byte(cronYAML), 0o600))
	src, err = PipelineSource(dir, be, log.Discard())
	require.NoError(t, err)
	_, isChain := src.(backend.Chain)
	assert.True(t, isChain)

	p, err := src.GetPipeline(context.Background(), "morning-brief")
	require.NoError(t, err)
	assert.Equal(t, "Morning Brief", p.Name)

	_, err = PipelineSource(filepath.Join(dir, "missing"), be, log.Discard())
	assert.Error(t, err)
}

func TestDaemon_Handler(t *testing.T) {
	d, err := New(context.Background(), testConfig(t), Options{Version: "1.0.0", Logger: log.Discard()})
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	srv := httptest.NewServer(d.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var h Health
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	assert.Equal(t, Health{Status: "ok", Version: "1.0.0"}, h)

	d.metrics.SetSchedulesActive(2)
	mresp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer mresp.Body.Close()
	assert.Equal(t, http.StatusOK, mresp.StatusCode)
}

func TestDaemon_RunLoadsSchedulesAndStops(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "brief.yaml"), []byte(cronYAML), 0o600))

	cfg := testConfig(t)
	cfg.PipelinesDir = dir
	cfg.Metrics.Addr = "127.0.0.1:0"
	cfg.Runner.Retention = time.Hour

	d, err := New(context.Background(), cfg, Options{Logger: log.Discard(), ShutdownTimeout: 5 * time.Second})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return d.Scheduler().Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop")
	}
	assert.Equal(t, 0, d.Scheduler().Len())
	assert.NoError(t, d.Close())
}

func TestNew_InvalidTracing(t *testing.T) {
	cfg := testConfig(t)
	cfg.Tracing.Exporter = "zipkin"
	_, err := New(context.Background(), cfg, Options{Logger: log.Discard()})
	assert.Error(t, err)
}
