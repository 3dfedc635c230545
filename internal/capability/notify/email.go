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

// Package notify delivers run reports by e-mail.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/tombee/agentforge/internal/capability"
	forgeerrors "github.com/tombee/agentforge/pkg/errors"
)

// ErrNotConfigured is returned when SMTP credentials are missing.
var ErrNotConfigured = errors.New("smtp credentials not configured")

// SubjectPrefix starts every report subject.
const SubjectPrefix = "Workflow Completed: "

// Config holds SMTP settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Pass     string
	From     string
	FromName string
}

// Configured reports whether credentials are present.
func (c Config) Configured() bool {
	return strings.TrimSpace(c.User) != "" && c.Pass != ""
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Mailer implements capability.Notifier over SMTP.
type Mailer struct {
	cfg    Config
	md     goldmark.Markdown
	send   sendFunc
	now    func() time.Time
	logger *slog.Logger
}

var _ capability.Notifier = (*Mailer)(nil)

// NewMailer creates a Mailer. It does not connect until Notify is called.
func NewMailer(cfg Config, logger *slog.Logger) *Mailer {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.From == "" {
		cfg.From = strings.TrimSpace(cfg.User)
	}
	if cfg.FromName == "" {
		cfg.FromName = "AgentForge"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Mailer{
		cfg: cfg,
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
		send:   smtp.SendMail,
		now:    time.Now,
		logger: logger,
	}
}

// Notify renders n.Body to HTML and sends it to n.To.
func (m *Mailer) Notify(ctx context.Context, n capability.Notification) error {
	if !m.cfg.Configured() {
		m.logger.Warn("smtp credentials not configured, skipping report e-mail", "to", n.To)
		return ErrNotConfigured
	}
	if strings.TrimSpace(n.To) == "" {
		return &forgeerrors.CapabilityError{Capability: capability.Notify, Message: "empty destination"}
	}

	msg, err := m.buildMessage(n)
	if err != nil {
		return &forgeerrors.CapabilityError{Capability: capability.Notify, Message: "failed to render report", Cause: err}
	}

	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	auth := smtp.PlainAuth("", strings.TrimSpace(m.cfg.User), m.cfg.Pass, m.cfg.Host)

	// net/smtp has no context support; the send finishes in the background
	// if ctx ends first.
	done := make(chan error, 1)
	go func() {
		done <- m.send(addr, auth, m.cfg.From, []string{n.To}, msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			return &forgeerrors.CapabilityError{Capability: capability.Notify, Provider: "smtp", Message: addr, Cause: err}
		}
		m.logger.Info("report e-mail sent", "to", n.To)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// buildMessage returns the full RFC 5322 message.
func (m *Mailer) buildMessage(n capability.Notification) ([]byte, error) {
	body, err := m.RenderHTML(n.Subject, n.Body)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s <%s>\r\n", mime.QEncoding.Encode("utf-8", m.cfg.FromName), m.cfg.From)
	fmt.Fprintf(&buf, "To: %s\r\n", n.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", SubjectPrefix+n.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", m.now().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(body)
	return buf.Bytes(), nil
}

// RenderHTML converts the markdown report into the HTML e-mail body.
func (m *Mailer) RenderHTML(pipelineName, markdown string) (string, error) {
	var rendered bytes.Buffer
	if err := m.md.Convert([]byte(markdown), &rendered); err != nil {
		return "", err
	}

	var out bytes.Buffer
	err := reportTemplate.Execute(&out, reportData{
		Pipeline: pipelineName,
		Product:  m.cfg.FromName,
		Body:     template.HTML(rendered.String()),
		Year:     m.now().Year(),
	})
	if err != nil {
		return "", err
	}
	return out.String(), nil
}

type reportData struct {
	Pipeline string
	Product  string
	Body     template.HTML
	Year     int
}

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<style>
body { font-family: 'Segoe UI', Roboto, Helvetica, Arial, sans-serif; line-height: 1.6; color: #1a1a1a; background-color: #f8fafc; margin: 0; }
.container { max-width: 600px; margin: 20px auto; background: #ffffff; border-radius: 12px; border: 1px solid #e2e8f0; overflow: hidden; }
.header { background: #6c5ce7; color: #ffffff; padding: 32px 24px; text-align: center; }
.content { padding: 32px 24px; }
.badge { display: inline-block; padding: 4px 12px; border-radius: 9999px; background-color: #dcfce7; color: #166534; font-weight: 600; }
.report { background-color: #f1f5f9; padding: 24px; border-radius: 8px; color: #334155; }
.report pre { background: #1e293b; color: #f8fafc; padding: 16px; border-radius: 6px; overflow-x: auto; }
table { width: 100%; border-collapse: collapse; }
th, td { padding: 12px; text-align: left; border-bottom: 1px solid #e2e8f0; }
.footer { text-align: center; padding: 24px; color: #64748b; font-size: 12px; }
</style>
</head>
<body>
<div class="container">
  <div class="header"><h1>{{.Product}}</h1><p>Run report</p></div>
  <div class="content">
    <div class="badge">Completed</div>
    <p>The pipeline <strong>{{.Pipeline}}</strong> finished its tasks. Results:</p>
    <div class="report">{{.Body}}</div>
  </div>
  <div class="footer"><p>Automatic report generated by {{.Product}}.</p><p>&copy; {{.Year}}</p></div>
</div>
</body>
</html>
`))
