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

// Package fetch implements capability.Fetcher over HTTP with HTML to text
// extraction and an expiring LRU cache.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/tombee/agentforge/internal/capability"
	"github.com/tombee/agentforge/pkg/errors"
	"github.com/tombee/agentforge/pkg/httpclient"
)

const (
	// DefaultMaxChars caps extracted text.
	DefaultMaxChars = 10000

	maxBodyBytes = 5 << 20
)

// Config configures the fetcher.
type Config struct {
	Timeout   time.Duration
	MaxChars  int
	CacheSize int
	CacheTTL  time.Duration
	UserAgent string
}

// DefaultConfig returns the defaults used when config leaves fields unset.
func DefaultConfig() Config {
	return Config{
		Timeout:   10 * time.Second,
		MaxChars:  DefaultMaxChars,
		CacheSize: 128,
		CacheTTL:  15 * time.Minute,
		UserAgent: "agentforge-fetch/1.0",
	}
}

// Fetcher downloads pages and extracts readable text.
type Fetcher struct {
	client   *http.Client
	cache    *expirable.LRU[string, string]
	maxChars int
	logger   *slog.Logger
}

var _ capability.Fetcher = (*Fetcher)(nil)

// New creates a Fetcher. A CacheSize of zero disables caching.
func New(cfg Config, logger *slog.Logger) (*Fetcher, error) {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = def.MaxChars
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}

	hc := httpclient.DefaultConfig()
	hc.Timeout = cfg.Timeout
	hc.UserAgent = cfg.UserAgent
	client, err := httpclient.New(hc)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	f := &Fetcher{client: client, maxChars: cfg.MaxChars, logger: logger}
	if cfg.CacheSize > 0 {
		f.cache = expirable.NewLRU[string, string](cfg.CacheSize, nil, cfg.CacheTTL)
	}
	return f, nil
}

// Fetch implements capability.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	if f.cache != nil {
		if text, ok := f.cache.Get(url); ok {
			f.logger.Debug("fetch cache hit", "url", url)
			return text, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &errors.CapabilityError{Capability: capability.Fetch, Message: "invalid url", Cause: err}
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &errors.CapabilityError{Capability: capability.Fetch, Message: url, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &errors.CapabilityError{
			Capability: capability.Fetch,
			StatusCode: resp.StatusCode,
			Message:    url,
		}
	}

	body := io.LimitReader(resp.Body, maxBodyBytes)
	var text string
	if isHTML(resp.Header.Get("Content-Type")) {
		text, err = HTMLToText(body)
		if err != nil {
			return "", &errors.CapabilityError{Capability: capability.Fetch, Message: "failed to parse HTML", Cause: err}
		}
	} else {
		raw, err := io.ReadAll(body)
		if err != nil {
			return "", &errors.CapabilityError{Capability: capability.Fetch, Message: "failed to read body", Cause: err}
		}
		text = normalize(string(raw))
	}

	text = Truncate(text, f.maxChars)
	if f.cache != nil {
		f.cache.Add(url, text)
	}
	return text, nil
}

func isHTML(contentType string) bool {
	ct := strings.ToLower(contentType)
	return ct == "" || strings.Contains(ct, "html")
}

// HTMLToText strips non-content elements and returns the page text with
// one phrase per line.
func HTMLToText(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript, nav, footer, header, aside, iframe, svg").Remove()

	// Block elements end with a newline so their text does not run together.
	doc.Find("p, div, li, h1, h2, h3, h4, h5, h6, br, tr, section, article").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	return normalize(root.Text()), nil
}

// normalize trims every line, splits phrases separated by double spaces
// and drops blank lines.
func normalize(text string) string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		for _, phrase := range strings.Split(strings.TrimSpace(line), "  ") {
			if phrase = strings.TrimSpace(phrase); phrase != "" {
				out = append(out, phrase)
			}
		}
	}
	return strings.Join(out, "\n")
}

// Truncate returns at most n runes of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
