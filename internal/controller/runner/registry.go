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
	"sort"
	"sync"
)

// Registry maps in-flight run ids to their cancel functions so a run can
// be stopped from an unrelated request.
type Registry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{cancels: make(map[string]context.CancelFunc)}
}

// Register records the cancel function for runID, replacing any previous one.
func (g *Registry) Register(runID string, cancel context.CancelFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancels[runID] = cancel
}

// Remove drops runID. Removing an unknown id is a no-op.
func (g *Registry) Remove(runID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.cancels, runID)
}

// Stop signals cancellation of runID and reports whether it was in flight.
// The entry stays until the execution removes it on exit.
func (g *Registry) Stop(runID string) bool {
	g.mu.Lock()
	cancel, ok := g.cancels[runID]
	g.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// StopAll cancels every registered run and returns how many were signalled.
func (g *Registry) StopAll() int {
	g.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(g.cancels))
	for _, c := range g.cancels {
		cancels = append(cancels, c)
	}
	g.mu.Unlock()
	for _, c := range cancels {
		c()
	}
	return len(cancels)
}

// Active returns the registered run ids in sorted order.
func (g *Registry) Active() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, 0, len(g.cancels))
	for id := range g.cancels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of in-flight runs.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.cancels)
}
