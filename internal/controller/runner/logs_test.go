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
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogAggregator(t *testing.T) {
	l := NewLogAggregator()
	ch, unsub := l.Subscribe("r1")
	other, unsubOther := l.Subscribe("r2")
	defer unsubOther()
	assert.Equal(t, 1, l.SubscriberCount("r1"))

	entry := LogEntry{Timestamp: time.Now(), Level: LevelInfo, Message: "hello"}
	l.publish("r1", entry)

	select {
	case got := <-ch:
		assert.Equal(t, entry, got)
	default:
		t.Fatal("expected entry")
	}
	select {
	case <-other:
		t.Fatal("entry leaked to another run")
	default:
	}

	unsub()
	unsub()
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, l.SubscriberCount("r1"))
}

func TestLogAggregator_CloseRun(t *testing.T) {
	l := NewLogAggregator()
	ch, unsub := l.Subscribe("r1")

	for i := 0; i < 150; i++ {
		l.publish("r1", LogEntry{Message: "x"})
	}
	l.closeRun("r1")
	unsub()

	count := 0
	for range ch {
		count++
	}
	require.Equal(t, 100, count, "a full buffer drops entries instead of blocking")
}
