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
	"fmt"
	"strings"

	"github.com/tombee/agentforge/pkg/pipeline"
)

// Excerpt bounds applied while building prompts.
const (
	fetchExcerptLimit  = 5000
	searchQueryLimit   = 200
	searchMaxResults   = 5
	digestExcerptLimit = 500
)

// systemPrompt builds the persona prompt for agent within p.
func systemPrompt(p *pipeline.Pipeline, agent *pipeline.Agent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, an AI agent with the following profile:\n", agent.Name)
	fmt.Fprintf(&b, "**Role:** %s\n", agent.Role)
	fmt.Fprintf(&b, "**Goal:** %s\n", agent.Goal)
	fmt.Fprintf(&b, "**Backstory:** %s\n", agent.Backstory)

	if p.Process == pipeline.ProcessHierarchical {
		if mgr, ok := p.ManagerAgent(); ok && mgr.ID != agent.ID {
			fmt.Fprintf(&b, "\n**Team manager:** %s (%s). Your work is supervised by this manager.\n", mgr.Name, mgr.Role)
		}
	}

	if len(agent.Skills) > 0 {
		b.WriteString("\n**Skills / Tools:**\n")
		for _, s := range agent.Skills {
			if s.Description != "" {
				fmt.Fprintf(&b, "- %s: %s\n", s.Label(), s.Description)
			} else {
				fmt.Fprintf(&b, "- %s\n", s.Label())
			}
		}
	}

	b.WriteString("\nYou must complete the task precisely and professionally.")

	if p.Public {
		b.WriteString("\n**IMPORTANT:** Your final answer will be consumed by an automated service. " +
			"Reply with a single valid JSON object and nothing else.")
	}
	return b.String()
}

// userPrompt builds the task prompt. augmentation is appended verbatim and
// previous holds the results of earlier tasks in this run.
func userPrompt(task pipeline.Task, augmentation string, previous []TaskResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Task: %s\n\n%s\n\n**Expected output:** %s\n", task.Name, task.Description, task.ExpectedOutput)
	b.WriteString(augmentation)
	if len(previous) > 0 {
		b.WriteString("\n\n### Previous results:\n")
		lines := make([]string, len(previous))
		for i, r := range previous {
			lines[i] = fmt.Sprintf("- **%s** (%s): %s", r.Task, r.Agent, truncate(r.Output, digestExcerptLimit))
		}
		b.WriteString(strings.Join(lines, "\n"))
	}
	return b.String()
}

func fetchSection(url, content string) string {
	return fmt.Sprintf("\n\n### Content extracted from %s:\n%s\n", url, truncate(content, fetchExcerptLimit))
}

func searchSection(text string) string {
	return fmt.Sprintf("\n\n### Web search results:\n%s\n", text)
}

// renderResult joins task results into the final run result.
func renderResult(results []TaskResult) string {
	sections := make([]string, len(results))
	for i, r := range results {
		sections[i] = fmt.Sprintf("## %s\n**Agent:** %s\n\n%s", r.Task, r.Agent, r.Output)
	}
	return strings.Join(sections, "\n\n---\n\n")
}

// generationError is the output recorded for a task whose generation failed.
func generationError(model string, err error) string {
	return fmt.Sprintf("[Error executing with %s]: %v", model, err)
}

// truncate returns at most n runes of s.
func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
