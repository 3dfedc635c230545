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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseResult(t *testing.T) {
	tests := []struct {
		name    string
		result  string
		results []TaskResult
		want    any
		ok      bool
	}{
		{name: "plain text", result: "hello", want: "hello"},
		{name: "object", result: `{"answer": 42}`, want: map[string]any{"answer": float64(42)}, ok: true},
		{name: "fenced", result: "```json\n{\"a\": \"b\"}\n```", want: map[string]any{"a": "b"}, ok: true},
		{name: "array", result: ` [1, 2] `, want: []any{float64(1), float64(2)}, ok: true},
		{name: "broken json", result: `{"a":`, want: `{"a":`},
		{
			name:    "last task output",
			result:  "## T\n**Agent:** A\n\n{\"x\": true}",
			results: []TaskResult{{Task: "T", Agent: "A", Output: "{\"x\": true}"}},
			want:    map[string]any{"x": true},
			ok:      true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseResult(tt.result, tt.results)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
