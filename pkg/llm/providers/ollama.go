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
	"net/http"

	"github.com/tombee/agentforge/pkg/llm"
)

// DefaultOllamaURL is the default Ollama API endpoint.
const DefaultOllamaURL = "http://localhost:11434"

// Ollama talks to a local or remote Ollama server.
type Ollama struct {
	baseURL    string
	httpClient *http.Client
}

// NewOllama creates an Ollama provider.
func NewOllama(cfg Config) (*Ollama, error) {
	client, err := newHTTPClient(llm.ProviderOllama, cfg)
	if err != nil {
		return nil, err
	}
	return &Ollama{
		baseURL:    pick(cfg.BaseURL, DefaultOllamaURL),
		httpClient: client,
	}, nil
}

// Name returns the provider identifier.
func (p *Ollama) Name() string {
	return llm.ProviderOllama
}

// Complete sends a non-streaming request to POST /api/chat.
func (p *Ollama) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	chatReq := ollamaChatRequest{
		Model:    req.Model,
		Messages: make([]ollamaChatMessage, 0, len(req.Messages)),
		Stream:   false,
		Options:  &ollamaOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens},
	}
	for _, msg := range req.Messages {
		chatReq.Messages = append(chatReq.Messages, ollamaChatMessage{Role: string(msg.Role), Content: msg.Content})
	}

	var chatResp ollamaChatResponse
	url := pick(req.BaseURL, p.baseURL) + "/api/chat"
	if err := postJSON(ctx, p.httpClient, p.Name(), url, nil, chatReq, &chatResp); err != nil {
		return nil, err
	}

	return &llm.CompletionResponse{
		Content: chatResp.Message.Content,
		Model:   chatResp.Model,
		Usage: llm.TokenUsage{
			InputTokens:  chatResp.PromptEvalCount,
			OutputTokens: chatResp.EvalCount,
			TotalTokens:  chatResp.PromptEvalCount + chatResp.EvalCount,
		},
	}, nil
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  *ollamaOptions      `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  *int     `json:"num_predict,omitempty"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Model           string            `json:"model"`
	Message         ollamaChatMessage `json:"message"`
	Done            bool              `json:"done"`
	PromptEvalCount int               `json:"prompt_eval_count"`
	EvalCount       int               `json:"eval_count"`
}
