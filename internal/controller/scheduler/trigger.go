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

package scheduler

import (
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tombee/agentforge/pkg/errors"
	"github.com/tombee/agentforge/pkg/pipeline"
)

// DefaultIntervalMinutes is used when an interval trigger has no usable value.
const DefaultIntervalMinutes = 60

// cronParser accepts standard five-field expressions, an optional leading
// seconds field and descriptors such as @daily or @every 1h.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// onceLayouts are tried after RFC 3339. They carry no zone and parse as UTC.
var onceLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// Spec is a parsed trigger.
type Spec struct {
	Kind pipeline.TriggerKind
	// Value is the normalized trigger value.
	Value string
	// Schedule drives interval and cron triggers.
	Schedule cron.Schedule
	// At is the fire time of a once trigger.
	At time.Time
	// Defaulted is set when an interval fell back to DefaultIntervalMinutes.
	Defaulted bool
}

// Next returns up to n fire times after from, in UTC.
func (s *Spec) Next(from time.Time, n int) []time.Time {
	from = from.UTC()
	var out []time.Time
	switch {
	case s.Kind == pipeline.TriggerOnce:
		if s.At.After(from) && n > 0 {
			out = append(out, s.At)
		}
	case s.Schedule != nil:
		t := from
		for i := 0; i < n; i++ {
			t = s.Schedule.Next(t)
			if t.IsZero() {
				break
			}
			out = append(out, t)
		}
	}
	return out
}

// ParseCron parses a cron expression evaluated in UTC.
func ParseCron(expr string) (cron.Schedule, error) {
	return cronParser.Parse(strings.TrimSpace(expr))
}

// ParseOnce parses a one-shot timestamp. Naive timestamps are UTC.
func ParseOnce(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC(), nil
	}
	var lastErr error
	for _, layout := range onceLayouts {
		t, err := time.ParseInLocation(layout, value, time.UTC)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// ParseTrigger validates the trigger of pipeline pipelineID. A once
// trigger at or before now is rejected. A none trigger returns a Spec with
// no schedule.
func ParseTrigger(pipelineID string, t pipeline.Trigger, now time.Time) (*Spec, error) {
	kind := pipeline.TriggerKind(strings.ToLower(strings.TrimSpace(string(t.Kind))))
	if kind == "" {
		kind = pipeline.TriggerNone
	}
	value := strings.TrimSpace(t.Value)
	fail := func(reason string, cause error) error {
		return &errors.SchedulingConfigError{
			PipelineID: pipelineID,
			Kind:       string(kind),
			Value:      value,
			Reason:     reason,
			Cause:      cause,
		}
	}

	spec := &Spec{Kind: kind, Value: value}
	switch kind {
	case pipeline.TriggerNone:
		return spec, nil

	case pipeline.TriggerInterval:
		minutes, err := strconv.Atoi(value)
		if err != nil {
			minutes = DefaultIntervalMinutes
			spec.Defaulted = true
		}
		if minutes <= 0 {
			return nil, fail("interval must be a positive number of minutes", nil)
		}
		spec.Value = strconv.Itoa(minutes)
		spec.Schedule = cron.Every(time.Duration(minutes) * time.Minute)
		return spec, nil

	case pipeline.TriggerCron:
		if value == "" {
			return nil, fail("cron expression is empty", nil)
		}
		sched, err := ParseCron(value)
		if err != nil {
			return nil, fail("malformed cron expression", err)
		}
		spec.Schedule = sched
		return spec, nil

	case pipeline.TriggerOnce:
		at, err := ParseOnce(value)
		if err != nil {
			return nil, fail("malformed timestamp", err)
		}
		if !at.After(now) {
			return nil, fail("time is in the past", nil)
		}
		spec.At = at
		return spec, nil

	default:
		return nil, fail("unknown trigger type", nil)
	}
}
