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
	"fmt"
	"strings"
)

// Provider names known to the router.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Route is the backend and provider-native model name for a model identifier.
type Route struct {
	Provider string
	Model    string
}

// namespaces maps an identifier prefix (before the first "/") to a provider.
var namespaces = map[string]string{
	"ollama":      ProviderOllama,
	"ollama_chat": ProviderOllama,
	"openai":      ProviderOpenAI,
	"anthropic":   ProviderAnthropic,
	"gemini":      ProviderGemini,
	"google":      ProviderGemini,
}

// ResolveRoute maps a model identifier such as "ollama/gemma3:latest" or
// "gpt-4o" to a provider. Rules, in order:
//
//  1. a non-empty hint names the provider; a known namespace prefix is stripped
//  2. "<namespace>/<model>" with a known namespace routes to that provider
//  3. an identifier without "/" starting with "claude" routes to anthropic
//  4. an identifier without "/" starting with "gemini" routes to gemini
//  5. any other identifier without "/" routes to openai
//
// An unknown namespace is an error.
func ResolveRoute(modelID, hint string) (Route, error) {
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		return Route{}, fmt.Errorf("empty model identifier")
	}

	ns, rest, hasNS := strings.Cut(modelID, "/")
	ns = strings.ToLower(ns)

	if hint != "" {
		hint = strings.ToLower(hint)
		if hasNS {
			if _, known := namespaces[ns]; known {
				return Route{Provider: hint, Model: rest}, nil
			}
		}
		return Route{Provider: hint, Model: modelID}, nil
	}

	if hasNS {
		provider, known := namespaces[ns]
		if !known {
			return Route{}, fmt.Errorf("unknown provider namespace %q in model %q", ns, modelID)
		}
		if rest == "" {
			return Route{}, fmt.Errorf("model %q has no model name after the namespace", modelID)
		}
		return Route{Provider: provider, Model: rest}, nil
	}

	lower := strings.ToLower(modelID)
	switch {
	case strings.HasPrefix(lower, "claude"):
		return Route{Provider: ProviderAnthropic, Model: modelID}, nil
	case strings.HasPrefix(lower, "gemini"):
		return Route{Provider: ProviderGemini, Model: modelID}, nil
	default:
		return Route{Provider: ProviderOpenAI, Model: modelID}, nil
	}
}
