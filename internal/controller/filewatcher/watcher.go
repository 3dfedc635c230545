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
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tombee/agentforge/internal/controller/backend/file"
	"github.com/tombee/agentforge/internal/log"
)

// Watcher wraps fsnotify.Watcher for a single pipelines directory and
// emits normalized events for definition files only.
type Watcher struct {
	dir       string
	watcher   *fsnotify.Watcher
	eventChan chan *Event
	logger    *slog.Logger
	stopCh    chan struct{}
	doneCh    chan struct{}
	now       func() time.Time
}

// NewWatcher creates a watcher for dir. The directory must exist.
func NewWatcher(dir string, logger *slog.Logger) (*Watcher, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(absDir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", absDir, err)
	}

	return &Watcher{
		dir:       absDir,
		watcher:   fsw,
		eventChan: make(chan *Event, 100),
		logger:    log.WithComponent(log.OrDefault(logger), "filewatcher").With(slog.String("dir", absDir)),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		now:       time.Now,
	}, nil
}

// Dir returns the absolute watched directory.
func (w *Watcher) Dir() string {
	return w.dir
}

// Start begins the event loop. It returns immediately.
func (w *Watcher) Start(ctx context.Context) {
	go w.eventLoop(ctx)
	w.logger.Debug("file watcher started")
}

// Stop ends the event loop and releases the fsnotify handle.
func (w *Watcher) Stop() error {
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	<-w.doneCh
	return w.watcher.Close()
}

// Events returns the channel of definition file events. It is closed when
// the loop exits.
func (w *Watcher) Events() <-chan *Event {
	return w.eventChan
}

func (w *Watcher) eventLoop(ctx context.Context) {
	defer close(w.doneCh)
	defer close(w.eventChan)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				w.logger.Warn("file watcher event channel closed")
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				w.logger.Warn("file watcher error channel closed")
				return
			}
			w.logger.Error("file watcher error", log.Error(err))
		}
	}
}

// classify maps an fsnotify op to an Op. Chmod alone is ignored.
func classify(op fsnotify.Op) (Op, bool) {
	switch {
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return OpRemoved, true
	case op.Has(fsnotify.Create), op.Has(fsnotify.Write):
		return OpChanged, true
	}
	return "", false
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !file.IsDefinition(event.Name) {
		return
	}
	op, ok := classify(event.Op)
	if !ok {
		return
	}

	ev := &Event{Path: event.Name, Op: op, Time: w.now()}
	select {
	case w.eventChan <- ev:
		w.logger.Debug("definition event", slog.String("op", string(op)), slog.String("path", event.Name))
	default:
		w.logger.Warn("event channel full, dropping event", slog.String("path", event.Name))
	}
}
