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
	"strings"

	"github.com/tombee/agentforge/pkg/llm"
)

const (
	// DefaultAnthropicURL is the default Anthropic API root.
	DefaultAnthropicURL = "https://api.anthropic.com"

	anthropicVersion = "2023-06-01"

	// anthropicDefaultMaxTokens is used when the request sets none; the
	// messages API requires the field.
	anthropicDefaultMaxTokens = 4096
)

// Anthropic talks to the Anthropic messages API.
type Anthropic struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewAnthropic creates an Anthropic provider.
func NewAnthropic(cfg Config) (*Anthropic, error) {
	client, err := newHTTPClient(llm.ProviderAnthropic, cfg)
	if err != nil {
		return nil, err
	}
	return &Anthropic{
		baseURL:    pick(cfg.BaseURL, DefaultAnthropicURL),
		apiKey:     cfg.APIKey,
		httpClient: client,
	}, nil
}

// Name returns the provider identifier.
func (p *Anthropic) Name() string {
	return llm.ProviderAnthropic
}

// Complete sends a request to POST /v1/messages. System messages are
// lifted into the top-level system field.
func (p *Anthropic) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	body := anthropicRequest{
		Model:       req.Model,
		MaxTokens:   anthropicDefaultMaxTokens,
		Temperature: req.Temperature,
	}
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		body.MaxTokens = *req.MaxTokens
	}

	var system []string
	for _, msg := range req.Messages {
		if msg.Role == llm.MessageRoleSystem {
			system = append(system, msg.Content)
			continue
		}
		body.Messages = append(body.Messages, anthropicMessage{Role: string(msg.Role), Content: msg.Content})
	}
	body.System = strings.Join(system, "\n\n")

	headers := map[string]string{
		"x-api-key":         pick(req.APIKey, p.apiKey),
		"anthropic-version": anthropicVersion,
	}

	var resp anthropicResponse
	url := pick(req.BaseURL, p.baseURL) + "/v1/messages"
	if err := postJSON(ctx, p.httpClient, p.Name(), url, headers, body, &resp); err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &llm.CompletionResponse{
		Content: text.String(),
		Model:   resp.Model,
		Usage: llm.TokenUsage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			TotalTokens:  resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}
