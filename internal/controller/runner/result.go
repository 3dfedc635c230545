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
	"encoding/json"
	"strings"
)

// ParseResult decodes a run result as JSON when it is one, optionally
// wrapped in a markdown code fence. Otherwise it returns the text and false.
//
// Public pipelines ask the model for a single JSON object, so the last
// task's output is also tried when the full result is not JSON.
func ParseResult(result string, results []TaskResult) (any, bool) {
	if v, ok := decodeJSON(result); ok {
		return v, true
	}
	if len(results) > 0 {
		if v, ok := decodeJSON(results[len(results)-1].Output); ok {
			return v, true
		}
	}
	return result, false
}

func decodeJSON(s string) (any, bool) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	if s == "" || (s[0] != '{' && s[0] != '[') {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return v, true
}
