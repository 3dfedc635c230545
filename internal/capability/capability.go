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

// Package capability defines the external operations a run depends on:
// text generation, content fetch, web search and notification.
//
// Each is a plain request/response call that may fail. Callers treat a
// failure as data to record, not as a reason to abort.
package capability

import "context"

// Names used in logs, metrics and errors.
const (
	Generate = "generate"
	Fetch    = "fetch"
	Search   = "search"
	Notify   = "notify"
)

// GenerateRequest is one text-generation call.
type GenerateRequest struct {
	// Model is the routing identifier, e.g. "ollama/gemma3:latest".
	Model        string
	SystemPrompt string
	UserPrompt   string
	Temperature  float64
	MaxTokens    int

	// Provider optionally names the backend, bypassing prefix inference.
	Provider string
	// Endpoint optionally overrides the backend URL.
	Endpoint string
	// APIKey optionally overrides the backend credential.
	APIKey string
}

// GenerateResult is the output of a generation call.
type GenerateResult struct {
	Text   string
	Tokens int
}

// Generator produces text from a prompt pair.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
}

// Fetcher extracts bounded plain text from a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Searcher runs a web search and returns a text summary of the results.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) (string, error)
}

// Notification is an outbound report for a finished run.
type Notification struct {
	// To is the destination address.
	To string
	// Subject is the pipeline display name; adapters build the final subject.
	Subject string
	// Body is the rendered run result in markdown.
	Body string
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req GenerateRequest) (*GenerateResult, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	return f(ctx, req)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, url string) (string, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, url string) (string, error) {
	return f(ctx, url)
}

// SearcherFunc adapts a function to Searcher.
type SearcherFunc func(ctx context.Context, query string, maxResults int) (string, error)

// Search implements Searcher.
func (f SearcherFunc) Search(ctx context.Context, query string, maxResults int) (string, error) {
	return f(ctx, query, maxResults)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}
