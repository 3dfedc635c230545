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

// Package metrics exposes run engine and scheduler metrics to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "agentforge"

// Collector implements the runner and scheduler metrics interfaces on a
// single Prometheus registerer.
type Collector struct {
	runsTotal        *prometheus.CounterVec
	runsActive       prometheus.Gauge
	runDuration      *prometheus.HistogramVec
	tasksTotal       *prometheus.CounterVec
	taskDuration     prometheus.Histogram
	tokensTotal      *prometheus.CounterVec
	capabilityErrors *prometheus.CounterVec
	scheduleFires    *prometheus.CounterVec
	schedulesActive  prometheus.Gauge
}

// New registers all collectors on reg. A nil reg uses a private registry,
// which keeps tests independent.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Collector{
		runsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total finished runs by terminal status",
		}, []string{"status"}),
		runsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_active",
			Help:      "Runs that are queued or executing",
		}),
		runDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time from start to terminal state",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"status"}),
		tasksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Total executed tasks by outcome",
		}, []string{"outcome"}),
		taskDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Per-task wall time including augmentation",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		tokensTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Tokens consumed by finished runs",
		}, []string{"pipeline_id"}),
		capabilityErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capability_errors_total",
			Help:      "Failed capability calls by capability",
		}, []string{"capability"}),
		scheduleFires: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedule_fires_total",
			Help:      "Scheduler fires by trigger kind",
		}, []string{"kind"}),
		schedulesActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "schedules_active",
			Help:      "Pipelines with an armed schedule",
		}),
	}
}

// RecordRunStart marks a run as active.
func (c *Collector) RecordRunStart(string) {
	c.runsActive.Inc()
}

// RecordRunComplete records a terminal run.
func (c *Collector) RecordRunComplete(pipelineID, status string, duration time.Duration, tokens int) {
	c.runsActive.Dec()
	c.runsTotal.WithLabelValues(status).Inc()
	c.runDuration.WithLabelValues(status).Observe(duration.Seconds())
	if tokens > 0 {
		c.tokensTotal.WithLabelValues(pipelineID).Add(float64(tokens))
	}
}

// RecordTaskComplete records one task.
func (c *Collector) RecordTaskComplete(outcome string, duration time.Duration) {
	c.tasksTotal.WithLabelValues(outcome).Inc()
	c.taskDuration.Observe(duration.Seconds())
}

// RecordCapabilityError counts a failed fetch, search, generate or notify.
func (c *Collector) RecordCapabilityError(capability string) {
	c.capabilityErrors.WithLabelValues(capability).Inc()
}

// RecordScheduleFire counts a scheduler fire.
func (c *Collector) RecordScheduleFire(kind string) {
	c.scheduleFires.WithLabelValues(kind).Inc()
}

// SetSchedulesActive reports the number of armed schedules.
func (c *Collector) SetSchedulesActive(n int) {
	c.schedulesActive.Set(float64(n))
}
