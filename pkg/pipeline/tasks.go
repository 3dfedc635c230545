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

package pipeline

import "sort"

// RunnableTasks returns the tasks a run executes, in execution order.
//
// Explicit tasks are stable-sorted by Order, so equal orders keep their
// definition order. With no explicit tasks, one task is synthesized per
// agent that declares an inline task description, in agent order.
func (p *Pipeline) RunnableTasks() []Task {
	if len(p.Tasks) > 0 {
		tasks := append([]Task(nil), p.Tasks...)
		sort.SliceStable(tasks, func(i, j int) bool {
			return tasks[i].Order < tasks[j].Order
		})
		return tasks
	}

	var tasks []Task
	for _, a := range p.Agents {
		if a.TaskDescription == "" {
			continue
		}
		tasks = append(tasks, Task{
			ID:             "inline-" + a.ID,
			Name:           a.Name,
			Description:    a.TaskDescription,
			ExpectedOutput: a.TaskExpectedOutput,
			Order:          float64(len(tasks)),
			AgentID:        a.ID,
		})
	}
	return tasks
}
