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
	"path/filepath"
	"time"
)

// Op is the normalized kind of change observed for a definition file.
type Op string

const (
	// OpChanged covers creates and writes; the file should be re-parsed.
	OpChanged Op = "changed"
	// OpRemoved covers removes and renames away from the path.
	OpRemoved Op = "removed"
)

// Event is a single debounced change to a pipeline definition file.
type Event struct {
	Path string
	Op   Op
	Time time.Time
}

// Name returns the base name of the file.
func (e *Event) Name() string {
	return filepath.Base(e.Path)
}
