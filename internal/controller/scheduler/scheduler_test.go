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

package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/agentforge/internal/controller/backend/memory"
	"github.com/tombee/agentforge/internal/controller/runner"
	"github.com/tombee/agentforge/internal/log"
	"github.com/tombee/agentforge/pkg/errors"
	"github.com/tombee/agentforge/pkg/pipeline"
)

type fakeSubmitter struct {
	mu        sync.Mutex
	submitted []*pipeline.Pipeline
	triggers  []string
	ch        chan string
}

func newFakeSubmitter() *fakeSubmitter {
	return &fakeSubmitter{ch: make(chan string, 16)}
}

func (f *fakeSubmitter) Submit(ctx context.Context, p *pipeline.Pipeline) (*runner.Handle, error) {
	f.mu.Lock()
	f.submitted = append(f.submitted, p)
	f.mu.Unlock()
	f.ch <- p.ID
	return &runner.Handle{RunID: "run-" + p.ID}, nil
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

type fakeMetrics struct {
	mu     sync.Mutex
	fires  map[string]int
	active int
	fired  chan string
}

func (m *fakeMetrics) RecordScheduleFire(kind string) {
	m.mu.Lock()
	if m.fires == nil {
		m.fires = map[string]int{}
	}
	m.fires[kind]++
	m.mu.Unlock()
	if m.fired != nil {
		m.fired <- kind
	}
}

func (m *fakeMetrics) SetSchedulesActive(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = n
}

func scheduled(id string, kind pipeline.TriggerKind, value string) *pipeline.Pipeline {
	return &pipeline.Pipeline{
		ID:      id,
		Name:    id,
		Process: pipeline.ProcessSequential,
		Agents:  []pipeline.Agent{{ID: "a", Name: "A", TaskDescription: "work"}},
		Trigger: pipeline.Trigger{Kind: kind, Value: value},
	}
}

func newTestScheduler(t *testing.T, sub Submitter, src PipelineSource, opts ...Option) *Scheduler {
	t.Helper()
	opts = append([]Option{WithLogger(log.Discard())}, opts...)
	s := New(sub, src, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func inFuture(d time.Duration) string {
	return time.Now().UTC().Add(d).Format(time.RFC3339Nano)
}

func TestSchedule_ReplacesExisting(t *testing.T) {
	metrics := &fakeMetrics{}
	s := newTestScheduler(t, newFakeSubmitter(), memory.New(), WithMetrics(metrics))

	require.NoError(t, s.Schedule(scheduled("p1", pipeline.TriggerInterval, "30")))
	require.NoError(t, s.Schedule(scheduled("p1", pipeline.TriggerCron, "0 9 * * *")))
	require.NoError(t, s.Schedule(scheduled("p2", pipeline.TriggerInterval, "")))

	entries := s.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "p1", entries[0].PipelineID)
	assert.Equal(t, pipeline.TriggerCron, entries[0].Kind)
	assert.Equal(t, "0 9 * * *", entries[0].Value)
	assert.Equal(t, 9, entries[0].Next.Hour())
	assert.Equal(t, "60", entries[1].Value)
	assert.WithinDuration(t, time.Now().Add(60*time.Minute), entries[1].Next, 5*time.Second)

	metrics.mu.Lock()
	assert.Equal(t, 2, metrics.active)
	metrics.mu.Unlock()

	require.NoError(t, s.Schedule(scheduled("p1", pipeline.TriggerNone, "")))
	assert.Equal(t, 1, s.Len())
	assert.True(t, s.Unschedule("p2"))
	assert.False(t, s.Unschedule("p2"))
	assert.Equal(t, 0, s.Len())
}

func TestSchedule_MalformedRegistersNothing(t *testing.T) {
	s := newTestScheduler(t, newFakeSubmitter(), memory.New())

	bad := []pipeline.Trigger{
		{Kind: pipeline.TriggerInterval, Value: "0"},
		{Kind: pipeline.TriggerInterval, Value: "-3"},
		{Kind: pipeline.TriggerCron, Value: "every tuesday"},
		{Kind: pipeline.TriggerOnce, Value: "2001-01-01T00:00:00Z"},
		{Kind: "weekly"},
	}
	for _, trig := range bad {
		// An existing timer is discarded even when the replacement is invalid.
		require.NoError(t, s.Schedule(scheduled("p", pipeline.TriggerInterval, "5")))
		p := scheduled("p", trig.Kind, trig.Value)
		var err error
		assert.NotPanics(t, func() { err = s.Schedule(p) })
		var serr *errors.SchedulingConfigError
		assert.True(t, errors.As(err, &serr), "trigger %+v: got %v", trig, err)
		assert.Equal(t, 0, s.Len(), "trigger %+v", trig)
	}

	assert.Error(t, s.Schedule(&pipeline.Pipeline{}))
}

func TestSchedule_OnceFires(t *testing.T) {
	store := memory.New()
	sub := newFakeSubmitter()
	s := newTestScheduler(t, sub, store)

	p := scheduled("once", pipeline.TriggerOnce, inFuture(50*time.Millisecond))
	require.NoError(t, store.SavePipeline(context.Background(), p))
	require.NoError(t, s.Schedule(p))
	assert.Equal(t, 1, s.Len())

	select {
	case id := <-sub.ch:
		assert.Equal(t, "once", id)
	case <-time.After(3 * time.Second):
		t.Fatal("once trigger did not fire")
	}
	assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestSchedule_LoadsFreshDefinition(t *testing.T) {
	store := memory.New()
	sub := newFakeSubmitter()
	s := newTestScheduler(t, sub, store)
	ctx := context.Background()

	p := scheduled("fresh", pipeline.TriggerOnce, inFuture(100*time.Millisecond))
	require.NoError(t, store.SavePipeline(ctx, p))
	require.NoError(t, s.Schedule(p))

	updated := p.Clone()
	updated.Name = "Fresh v2"
	require.NoError(t, store.SavePipeline(ctx, updated))

	select {
	case <-sub.ch:
	case <-time.After(3 * time.Second):
		t.Fatal("once trigger did not fire")
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	assert.Equal(t, "Fresh v2", sub.submitted[0].Name)
}

func TestSchedule_ReplacedOnceDoesNotFire(t *testing.T) {
	store := memory.New()
	sub := newFakeSubmitter()
	s := newTestScheduler(t, sub, store)

	p := scheduled("p", pipeline.TriggerOnce, inFuture(50*time.Millisecond))
	require.NoError(t, store.SavePipeline(context.Background(), p))
	require.NoError(t, s.Schedule(p))
	require.NoError(t, s.Schedule(scheduled("p", pipeline.TriggerOnce, inFuture(80*time.Millisecond))))

	select {
	case <-sub.ch:
	case <-time.After(3 * time.Second):
		t.Fatal("replacement did not fire")
	}
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, sub.count(), "only the replacement timer fires")

	require.NoError(t, s.Schedule(scheduled("p", pipeline.TriggerOnce, inFuture(30*time.Millisecond))))
	assert.True(t, s.Unschedule("p"))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, sub.count())
}

func TestSchedule_MissingPipelineAtFire(t *testing.T) {
	metrics := &fakeMetrics{fired: make(chan string, 1)}
	sub := newFakeSubmitter()
	s := newTestScheduler(t, sub, memory.New(), WithMetrics(metrics))

	require.NoError(t, s.Schedule(scheduled("gone", pipeline.TriggerOnce, inFuture(30*time.Millisecond))))
	select {
	case kind := <-metrics.fired:
		assert.Equal(t, "once", kind)
	case <-time.After(3 * time.Second):
		t.Fatal("timer did not fire")
	}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, sub.count())
}

func TestSchedule_CronFires(t *testing.T) {
	store := memory.New()
	sub := newFakeSubmitter()
	s := newTestScheduler(t, sub, store)

	p := scheduled("tick", pipeline.TriggerCron, "@every 1s")
	require.NoError(t, store.SavePipeline(context.Background(), p))
	require.NoError(t, s.Schedule(p))
	s.Start(context.Background())

	select {
	case id := <-sub.ch:
		assert.Equal(t, "tick", id)
	case <-time.After(5 * time.Second):
		t.Fatal("cron trigger did not fire")
	}
	assert.Equal(t, 1, s.Len(), "recurring timers stay registered")
}

func TestLoadAll(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	for _, p := range []*pipeline.Pipeline{
		scheduled("manual", pipeline.TriggerNone, ""),
		scheduled("hourly", pipeline.TriggerInterval, "60"),
		scheduled("nightly", pipeline.TriggerCron, "0 2 * * *"),
		scheduled("broken", pipeline.TriggerCron, "nope"),
		scheduled("later", pipeline.TriggerOnce, inFuture(time.Hour)),
	} {
		require.NoError(t, store.SavePipeline(ctx, p))
	}

	s := newTestScheduler(t, newFakeSubmitter(), store)
	n, err := s.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	var ids []string
	for _, e := range s.Entries() {
		ids = append(ids, e.PipelineID)
	}
	assert.Equal(t, []string{"hourly", "later", "nightly"}, ids)
}

func TestStop(t *testing.T) {
	sub := newFakeSubmitter()
	store := memory.New()
	s := New(sub, store, WithLogger(log.Discard()))
	s.Start(context.Background())

	p := scheduled("p", pipeline.TriggerOnce, inFuture(50*time.Millisecond))
	require.NoError(t, store.SavePipeline(context.Background(), p))
	require.NoError(t, s.Schedule(p))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))
	assert.Equal(t, 0, s.Len())
	assert.Error(t, s.Schedule(p))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, sub.count())
}
