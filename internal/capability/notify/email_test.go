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

package notify

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/agentforge/internal/capability"
	forgeerrors "github.com/tombee/agentforge/pkg/errors"
)

func testMailer(send sendFunc) *Mailer {
	m := NewMailer(Config{Host: "smtp.example.com", User: "bot@example.com", Pass: "secret"}, nil)
	m.send = send
	m.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return m
}

func TestMailer_NotConfigured(t *testing.T) {
	m := NewMailer(Config{Host: "smtp.example.com"}, nil)
	err := m.Notify(context.Background(), capability.Notification{To: "a@example.com"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestMailer_Notify(t *testing.T) {
	var (
		gotAddr string
		gotFrom string
		gotTo   []string
		gotMsg  string
	)
	m := testMailer(func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, string(msg)
		return nil
	})

	err := m.Notify(context.Background(), capability.Notification{
		To:      "team@example.com",
		Subject: "Daily digest",
		Body:    "## Research\n**Agent:** Ana\n\n| a | b |\n|---|---|\n| 1 | 2 |",
	})
	require.NoError(t, err)

	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, "bot@example.com", gotFrom)
	assert.Equal(t, []string{"team@example.com"}, gotTo)
	assert.Contains(t, gotMsg, "Subject: Workflow Completed: Daily digest\r\n")
	assert.Contains(t, gotMsg, "Content-Type: text/html; charset=UTF-8")
	assert.Contains(t, gotMsg, "<h2>Research</h2>")
	assert.Contains(t, gotMsg, "<strong>Agent:</strong> Ana")
	assert.Contains(t, gotMsg, "<table>")
	assert.Contains(t, gotMsg, "&copy; 2025")
}

func TestMailer_SendError(t *testing.T) {
	m := testMailer(func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("535 authentication failed")
	})

	err := m.Notify(context.Background(), capability.Notification{To: "x@example.com", Subject: "p"})
	var capErr *forgeerrors.CapabilityError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, "notify", capErr.Capability)
	assert.True(t, strings.Contains(err.Error(), "535"))
}

func TestMailer_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	m := testMailer(func(string, smtp.Auth, string, []string, []byte) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.Notify(ctx, capability.Notification{To: "x@example.com", Subject: "p"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRenderHTML_EscapesPipelineName(t *testing.T) {
	m := testMailer(nil)
	out, err := m.RenderHTML("<b>x</b>", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "&lt;b&gt;x&lt;/b&gt;")
	assert.Contains(t, out, "<p>text</p>")
}
