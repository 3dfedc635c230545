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

import "sync"

// LogAggregator routes run log entries to subscribers.
type LogAggregator struct {
	mu          sync.RWMutex
	subscribers map[string][]chan LogEntry
}

// NewLogAggregator creates a new LogAggregator.
func NewLogAggregator() *LogAggregator {
	return &LogAggregator{
		subscribers: make(map[string][]chan LogEntry),
	}
}

// publish sends entry to every subscriber of runID. Full channels drop
// the entry; the run log itself is always complete.
func (l *LogAggregator) publish(runID string, entry LogEntry) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, ch := range l.subscribers[runID] {
		select {
		case ch <- entry:
		default:
		}
	}
}

// Subscribe returns a channel that receives log entries for a run and an
// unsubscribe function. The channel is closed when the run finishes or
// on unsubscribe, whichever comes first.
func (l *LogAggregator) Subscribe(runID string) (<-chan LogEntry, func()) {
	return l.subscribeWhile(runID, nil)
}

// subscribeWhile is Subscribe, except that when live reports false the
// channel is returned already closed. live is evaluated under the same
// lock closeRun takes, so a run cannot finish unnoticed in between.
func (l *LogAggregator) subscribeWhile(runID string, live func() bool) (<-chan LogEntry, func()) {
	ch := make(chan LogEntry, 100)

	l.mu.Lock()
	if live != nil && !live() {
		l.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	l.subscribers[runID] = append(l.subscribers[runID], ch)
	l.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			subs := l.subscribers[runID]
			for i, sub := range subs {
				if sub == ch {
					l.subscribers[runID] = append(subs[:i], subs[i+1:]...)
					close(ch)
					break
				}
			}
			if len(l.subscribers[runID]) == 0 {
				delete(l.subscribers, runID)
			}
		})
	}
	return ch, unsub
}

// closeRun closes and drops every subscriber of runID.
func (l *LogAggregator) closeRun(runID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ch := range l.subscribers[runID] {
		close(ch)
	}
	delete(l.subscribers, runID)
}

// SubscriberCount returns the number of subscribers for a run.
func (l *LogAggregator) SubscriberCount(runID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.subscribers[runID])
}
