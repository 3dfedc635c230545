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

package llm

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Router dispatches completion calls to registered providers by name.
type Router struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRouter creates a router with the given providers registered.
func NewRouter(providers ...Provider) *Router {
	r := &Router{providers: make(map[string]Provider)}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds or replaces a provider under its Name.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Provider returns the provider registered under name.
func (r *Router) Provider(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Names lists registered provider names in sorted order.
func (r *Router) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Complete resolves modelID (with an optional provider hint) and sends the
// request to the selected provider. req.Model is replaced with the
// provider-native model name. The resolved provider name is returned
// even when the call fails.
func (r *Router) Complete(ctx context.Context, modelID, hint string, req CompletionRequest) (*CompletionResponse, string, error) {
	route, err := ResolveRoute(modelID, hint)
	if err != nil {
		return nil, "", err
	}
	p, ok := r.Provider(route.Provider)
	if !ok {
		return nil, route.Provider, fmt.Errorf("no provider registered for %q", route.Provider)
	}
	req.Model = route.Model
	resp, err := p.Complete(ctx, req)
	return resp, route.Provider, err
}
