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

// Package llm defines the provider contract for chat completion backends
// and the routing rules that map a model identifier to a backend.
package llm

import "context"

// Provider is a chat completion backend.
type Provider interface {
	// Name returns the unique identifier for this provider (e.g., "ollama", "openai").
	Name() string

	// Complete sends a synchronous completion request and returns the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// CompletionRequest is a single chat completion call.
type CompletionRequest struct {
	// Messages is the conversation, usually one system and one user message.
	Messages []Message

	// Model is the provider-native model name, without any routing prefix.
	Model string

	// Temperature controls randomness. If nil, uses provider default.
	Temperature *float64

	// MaxTokens limits the response length. If nil, uses provider default.
	MaxTokens *int

	// BaseURL overrides the provider's configured endpoint for this call.
	BaseURL string

	// APIKey overrides the provider's configured credential for this call.
	APIKey string
}

// Message represents a single message in a conversation.
type Message struct {
	Role    MessageRole
	Content string
}

// MessageRole identifies the sender of a message.
type MessageRole string

const (
	MessageRoleSystem    MessageRole = "system"
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// CompletionResponse is the generated output of a completion call.
type CompletionResponse struct {
	// Content is the generated text response.
	Content string

	// Usage contains token consumption information.
	Usage TokenUsage

	// Model is the actual model ID that handled this request.
	Model string
}

// TokenUsage tracks token consumption for one call.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Total returns TotalTokens, or the sum of input and output when the
// provider did not report a total.
func (u TokenUsage) Total() int {
	if u.TotalTokens > 0 {
		return u.TotalTokens
	}
	return u.InputTokens + u.OutputTokens
}

// Float64 returns a pointer to v.
func Float64(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }
