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

// Package llm connects the provider router in pkg/llm to the run engine's
// generation capability.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tombee/agentforge/internal/capability"
	"github.com/tombee/agentforge/internal/config"
	forgeerrors "github.com/tombee/agentforge/pkg/errors"
	"github.com/tombee/agentforge/pkg/llm"
	"github.com/tombee/agentforge/pkg/llm/providers"
)

// Adapter implements capability.Generator on top of an llm.Router.
type Adapter struct {
	router *llm.Router
	logger *slog.Logger
}

var _ capability.Generator = (*Adapter)(nil)

// NewAdapter creates a new adapter wrapping router.
func NewAdapter(router *llm.Router, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{router: router, logger: logger}
}

// Generate sends a system and user prompt to the provider selected for
// req.Model. Context errors are returned unwrapped.
func (a *Adapter) Generate(ctx context.Context, req capability.GenerateRequest) (*capability.GenerateResult, error) {
	messages := make([]llm.Message, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, llm.Message{Role: llm.MessageRoleSystem, Content: req.SystemPrompt})
	}
	messages = append(messages, llm.Message{Role: llm.MessageRoleUser, Content: req.UserPrompt})

	creq := llm.CompletionRequest{
		Messages:    messages,
		Temperature: llm.Float64(req.Temperature),
		BaseURL:     req.Endpoint,
		APIKey:      req.APIKey,
	}
	if req.MaxTokens > 0 {
		creq.MaxTokens = llm.Int(req.MaxTokens)
	}

	resp, provider, err := a.router.Complete(ctx, req.Model, req.Provider, creq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var capErr *forgeerrors.CapabilityError
		if errors.As(err, &capErr) {
			return nil, err
		}
		return nil, &forgeerrors.CapabilityError{
			Capability: capability.Generate,
			Provider:   provider,
			Message:    "LLM completion failed",
			Cause:      err,
		}
	}

	a.logger.Debug("completion finished",
		slog.String("model", req.Model),
		slog.String("provider", provider),
		slog.Int("tokens", resp.Usage.Total()))

	return &capability.GenerateResult{Text: resp.Content, Tokens: resp.Usage.Total()}, nil
}

// NewRouter builds a router with every built-in provider registered from
// cfg. Model overrides naming an unknown provider with a base URL register
// an OpenAI-compatible provider under that name.
func NewRouter(cfg config.LLMConfig) (*llm.Router, error) {
	router := llm.NewRouter()

	ollama, err := providers.NewOllama(providers.Config{BaseURL: cfg.OllamaBaseURL, Timeout: cfg.Timeout})
	if err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	router.Register(ollama)

	openai, err := providers.NewOpenAI(providers.Config{BaseURL: cfg.OpenAIBaseURL, APIKey: cfg.OpenAIAPIKey, Timeout: cfg.Timeout})
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	router.Register(openai)

	anthropic, err := providers.NewAnthropic(providers.Config{APIKey: cfg.AnthropicAPIKey, Timeout: cfg.Timeout})
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}
	router.Register(anthropic)

	gemini, err := providers.NewGemini(providers.Config{APIKey: cfg.GeminiAPIKey, Timeout: cfg.Timeout})
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	router.Register(gemini)

	for _, m := range cfg.Models {
		name := strings.ToLower(strings.TrimSpace(m.Provider))
		if name == "" || m.BaseURL == "" {
			continue
		}
		if _, exists := router.Provider(name); exists {
			continue
		}
		custom, err := providers.NewOpenAICompatible(name, m.BaseURL, providers.Config{APIKey: m.APIKey, Timeout: cfg.Timeout})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		router.Register(custom)
	}

	return router, nil
}
