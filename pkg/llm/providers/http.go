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

// Package providers implements llm.Provider for Ollama, OpenAI-compatible
// and Anthropic chat APIs.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tombee/agentforge/pkg/errors"
	"github.com/tombee/agentforge/pkg/httpclient"
)

// Config configures a provider endpoint.
type Config struct {
	// BaseURL is the API root. Empty selects the provider default.
	BaseURL string

	// APIKey is the default credential. Requests may override it.
	APIKey string

	// Timeout bounds one completion call. Default: 5m.
	Timeout time.Duration
}

// maxErrorBody bounds how much of an error response is kept in the message.
const maxErrorBody = 512

func newHTTPClient(name string, cfg Config) (*http.Client, error) {
	hc := httpclient.DefaultConfig()
	hc.Timeout = cfg.Timeout
	if hc.Timeout <= 0 {
		hc.Timeout = 5 * time.Minute
	}
	hc.RetryAttempts = 0
	hc.UserAgent = "agentforge-" + name + "/1.0"

	client, err := httpclient.New(hc)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}
	return client, nil
}

// postJSON sends body as JSON and decodes a 200 response into out.
func postJSON(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &errors.CapabilityError{Capability: "generate", Provider: provider, Message: "request failed", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &errors.CapabilityError{
			Capability: "generate",
			Provider:   provider,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(raw)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &errors.CapabilityError{Capability: "generate", Provider: provider, Message: "failed to parse response", Cause: err}
	}
	return nil
}

func pick(override, fallback string) string {
	if override != "" {
		return strings.TrimRight(override, "/")
	}
	return strings.TrimRight(fallback, "/")
}
