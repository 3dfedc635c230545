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

package providers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tombee/agentforge/pkg/llm"
)

// Default endpoints for OpenAI-compatible chat completion APIs.
const (
	DefaultOpenAIURL = "https://api.openai.com/v1"
	DefaultGeminiURL = "https://generativelanguage.googleapis.com/v1beta/openai"
)

// OpenAI speaks the /chat/completions protocol. It also serves Gemini and
// any self-hosted server exposing the same API under a different name.
type OpenAI struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewOpenAI creates a provider for api.openai.com.
func NewOpenAI(cfg Config) (*OpenAI, error) {
	return NewOpenAICompatible(llm.ProviderOpenAI, DefaultOpenAIURL, cfg)
}

// NewGemini creates a provider for Gemini's OpenAI-compatible endpoint.
func NewGemini(cfg Config) (*OpenAI, error) {
	return NewOpenAICompatible(llm.ProviderGemini, DefaultGeminiURL, cfg)
}

// NewOpenAICompatible creates a provider registered as name.
func NewOpenAICompatible(name, defaultURL string, cfg Config) (*OpenAI, error) {
	client, err := newHTTPClient(name, cfg)
	if err != nil {
		return nil, err
	}
	return &OpenAI{
		name:       name,
		baseURL:    pick(cfg.BaseURL, defaultURL),
		apiKey:     cfg.APIKey,
		httpClient: client,
	}, nil
}

// Name returns the provider identifier.
func (p *OpenAI) Name() string {
	return p.name
}

// Complete sends a request to POST /chat/completions.
func (p *OpenAI) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	body := openAIChatRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	for _, msg := range req.Messages {
		body.Messages = append(body.Messages, openAIMessage{Role: string(msg.Role), Content: msg.Content})
	}

	headers := map[string]string{}
	if key := pick(req.APIKey, p.apiKey); key != "" {
		headers["Authorization"] = "Bearer " + key
	}

	var resp openAIChatResponse
	url := pick(req.BaseURL, p.baseURL) + "/chat/completions"
	if err := postJSON(ctx, p.httpClient, p.name, url, headers, body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s returned no choices", p.name)
	}

	return &llm.CompletionResponse{
		Content: resp.Choices[0].Message.Content,
		Model:   resp.Model,
		Usage: llm.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}, nil
}

type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}
