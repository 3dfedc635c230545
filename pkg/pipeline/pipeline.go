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

// Package pipeline defines agents, tasks and pipelines: the read-only
// inputs consumed by one run.
package pipeline

// Default agent settings applied when a definition leaves them unset.
const (
	DefaultModel       = "ollama/gemma3:latest"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 4096
)

// ProcessMode controls how agents relate to each other during a run.
type ProcessMode string

const (
	// ProcessSequential runs tasks in order with no supervision.
	ProcessSequential ProcessMode = "sequential"
	// ProcessHierarchical runs tasks in order under a manager agent.
	ProcessHierarchical ProcessMode = "hierarchical"
)

// SkillKind tags a Skill variant.
type SkillKind string

const (
	// SkillContentFetch fetches Target and feeds the extracted text into the prompt.
	SkillContentFetch SkillKind = "scraping"
	// SkillTool is a descriptive skill with no engine-side behavior.
	SkillTool SkillKind = "tool"
)

// Skill is a capability declared on an agent.
type Skill struct {
	Kind        SkillKind `yaml:"type" json:"type"`
	Name        string    `yaml:"name,omitempty" json:"name,omitempty"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
	Target      string    `yaml:"target,omitempty" json:"target,omitempty"`
}

// FetchTarget returns the URL to fetch and true when the skill is a
// content-fetch skill with a target.
func (s Skill) FetchTarget() (string, bool) {
	if s.Kind != SkillContentFetch || s.Target == "" {
		return "", false
	}
	return s.Target, true
}

// Label is the name shown in the skills summary.
func (s Skill) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return string(s.Kind)
}

// Agent is an LLM persona able to execute tasks.
type Agent struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Role        string   `yaml:"role" json:"role"`
	Goal        string   `yaml:"goal" json:"goal"`
	Backstory   string   `yaml:"backstory,omitempty" json:"backstory,omitempty"`
	Model       string   `yaml:"model,omitempty" json:"model,omitempty"`
	Temperature *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	MaxTokens   *int     `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	Skills      []Skill  `yaml:"skills,omitempty" json:"skills,omitempty"`
	WebSearch   bool     `yaml:"web_search,omitempty" json:"web_search,omitempty"`
	Manager     bool     `yaml:"manager,omitempty" json:"manager,omitempty"`

	// Inline task, used only when the pipeline has no explicit tasks.
	TaskDescription    string `yaml:"task_description,omitempty" json:"task_description,omitempty"`
	TaskExpectedOutput string `yaml:"task_expected_output,omitempty" json:"task_expected_output,omitempty"`
}

// Temp returns the sampling temperature, DefaultTemperature when unset.
// An explicit zero is kept.
func (a Agent) Temp() float64 {
	if a.Temperature == nil {
		return DefaultTemperature
	}
	return *a.Temperature
}

// TokenLimit returns the response token limit, DefaultMaxTokens when unset.
func (a Agent) TokenLimit() int {
	if a.MaxTokens == nil {
		return DefaultMaxTokens
	}
	return *a.MaxTokens
}

// Task is a unit of work executed by one agent.
type Task struct {
	ID             string  `yaml:"id" json:"id"`
	Name           string  `yaml:"name" json:"name"`
	Description    string  `yaml:"description" json:"description"`
	ExpectedOutput string  `yaml:"expected_output,omitempty" json:"expected_output,omitempty"`
	Order          float64 `yaml:"order,omitempty" json:"order,omitempty"`
	AgentID        string  `yaml:"agent,omitempty" json:"agent,omitempty"`
}

// TriggerKind selects how a pipeline is scheduled.
type TriggerKind string

const (
	TriggerNone     TriggerKind = "none"
	TriggerOnce     TriggerKind = "once"
	TriggerInterval TriggerKind = "interval"
	TriggerCron     TriggerKind = "cron"
)

// Trigger is the schedule attached to a pipeline. Value is interpreted
// per Kind: minutes for interval, a cron expression, or a timestamp.
type Trigger struct {
	Kind  TriggerKind `yaml:"type" json:"type"`
	Value string      `yaml:"value,omitempty" json:"value,omitempty"`
}

// Scheduled reports whether the trigger requires a timer.
func (t Trigger) Scheduled() bool {
	return t.Kind != "" && t.Kind != TriggerNone
}

// Pipeline is a named set of agents and tasks.
type Pipeline struct {
	ID          string      `yaml:"id" json:"id"`
	Name        string      `yaml:"name" json:"name"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
	Process     ProcessMode `yaml:"process,omitempty" json:"process,omitempty"`
	Agents      []Agent     `yaml:"agents" json:"agents"`
	Tasks       []Task      `yaml:"tasks,omitempty" json:"tasks,omitempty"`
	Public      bool        `yaml:"public,omitempty" json:"public,omitempty"`
	NotifyTo    string      `yaml:"notify_to,omitempty" json:"notify_to,omitempty"`
	Trigger     Trigger     `yaml:"schedule,omitempty" json:"schedule,omitempty"`
}

// Agent returns the agent with the given id.
func (p *Pipeline) Agent(id string) (*Agent, bool) {
	if id == "" {
		return nil, false
	}
	for i := range p.Agents {
		if p.Agents[i].ID == id {
			return &p.Agents[i], true
		}
	}
	return nil, false
}

// ManagerAgent returns the first agent flagged as manager.
func (p *Pipeline) ManagerAgent() (*Agent, bool) {
	for i := range p.Agents {
		if p.Agents[i].Manager {
			return &p.Agents[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy so an in-flight run is isolated from edits
// to the stored definition.
func (p *Pipeline) Clone() *Pipeline {
	if p == nil {
		return nil
	}
	c := *p
	c.Agents = make([]Agent, len(p.Agents))
	for i, a := range p.Agents {
		a.Skills = append([]Skill(nil), a.Skills...)
		if a.Temperature != nil {
			t := *a.Temperature
			a.Temperature = &t
		}
		if a.MaxTokens != nil {
			n := *a.MaxTokens
			a.MaxTokens = &n
		}
		c.Agents[i] = a
	}
	c.Tasks = append([]Task(nil), p.Tasks...)
	return &c
}
