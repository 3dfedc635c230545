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

package filewatcher

import (
	"sync"
	"time"
)

// Debouncer delays delivery of events until no new event has arrived for
// the same path within the window. Only the latest event per path is
// delivered, so an editor's write-rename-write burst becomes one reload.
type Debouncer struct {
	mu        sync.Mutex
	window    time.Duration
	timers    map[string]*debounceTimer
	onFlush   func(*Event)
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

type debounceTimer struct {
	timer *time.Timer
	event *Event
}

// NewDebouncer creates a debouncer that calls onFlush once per quiet path.
// A zero window delivers events on the next timer tick.
func NewDebouncer(window time.Duration, onFlush func(*Event)) *Debouncer {
	return &Debouncer{
		window:    window,
		timers:    make(map[string]*debounceTimer),
		onFlush:   onFlush,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Add records ev and restarts the timer for its path.
func (d *Debouncer) Add(ev *Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	select {
	case <-d.stopCh:
		return
	default:
	}

	path := ev.Path
	dt, exists := d.timers[path]
	if exists {
		dt.timer.Stop()
		dt.event = ev
	} else {
		dt = &debounceTimer{event: ev}
		d.timers[path] = dt
	}

	dt.timer = time.AfterFunc(d.window, func() {
		d.flush(path, dt)
	})
}

func (d *Debouncer) flush(path string, owner *debounceTimer) {
	d.mu.Lock()
	dt, exists := d.timers[path]
	if !exists || dt != owner {
		d.mu.Unlock()
		return
	}
	ev := dt.event
	delete(d.timers, path)
	d.mu.Unlock()

	// Called outside the lock so onFlush may call Add.
	if d.onFlush != nil && ev != nil {
		d.onFlush(ev)
	}
}

// Stop cancels all timers and delivers their pending events immediately.
// It is safe to call more than once.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	select {
	case <-d.stopCh:
		d.mu.Unlock()
		<-d.stoppedCh
		return
	default:
		close(d.stopCh)
	}

	var pending []*Event
	for path, dt := range d.timers {
		dt.timer.Stop()
		pending = append(pending, dt.event)
		delete(d.timers, path)
	}
	d.mu.Unlock()

	if d.onFlush != nil {
		for _, ev := range pending {
			d.onFlush(ev)
		}
	}
	close(d.stoppedCh)
}

// Pending returns the number of paths with an armed timer.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}
