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

// Package search implements capability.Searcher against the DuckDuckGo
// HTML endpoint.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/tombee/agentforge/internal/capability"
	"github.com/tombee/agentforge/pkg/errors"
	"github.com/tombee/agentforge/pkg/httpclient"
)

const (
	// DefaultEndpoint is the no-JavaScript DuckDuckGo results page.
	DefaultEndpoint = "https://html.duckduckgo.com/html/"

	// NoResults is returned when the search matched nothing.
	NoResults = "No web results found."
)

// Config configures the searcher.
type Config struct {
	Endpoint string
	Timeout  time.Duration
	// RatePerMinute bounds outgoing queries. Zero means 20.
	RatePerMinute int
}

// Result is one search hit.
type Result struct {
	Title   string
	URL     string
	Snippet string
}

// Searcher queries a web search endpoint and formats the hits.
type Searcher struct {
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
	logger   *slog.Logger
}

var _ capability.Searcher = (*Searcher)(nil)

// New creates a Searcher.
func New(cfg Config, logger *slog.Logger) (*Searcher, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = 20
	}

	hc := httpclient.DefaultConfig()
	hc.Timeout = cfg.Timeout
	hc.UserAgent = "Mozilla/5.0 (compatible; agentforge-search/1.0)"
	client, err := httpclient.New(hc)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Searcher{
		endpoint: cfg.Endpoint,
		client:   client,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), 1),
		logger:   logger,
	}, nil
}

// Search implements capability.Searcher.
func (s *Searcher) Search(ctx context.Context, query string, maxResults int) (string, error) {
	results, err := s.Query(ctx, query, maxResults)
	if err != nil {
		return "", err
	}
	return Format(results), nil
}

// Query returns up to maxResults hits for query.
func (s *Searcher) Query(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &errors.CapabilityError{Capability: capability.Search, Message: "rate limited", Cause: err}
	}

	u, err := url.Parse(s.endpoint)
	if err != nil {
		return nil, &errors.CapabilityError{Capability: capability.Search, Message: "invalid endpoint", Cause: err}
	}
	q := u.Query()
	q.Set("q", query)
	u.RawQuery = q.Encode()

	s.logger.Info("searching web", "query", query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &errors.CapabilityError{Capability: capability.Search, Cause: err}
	}
	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &errors.CapabilityError{Capability: capability.Search, Message: "request failed", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &errors.CapabilityError{Capability: capability.Search, StatusCode: resp.StatusCode, Message: "unexpected status"}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, &errors.CapabilityError{Capability: capability.Search, Message: "failed to parse results", Cause: err}
	}
	return parseResults(doc, maxResults), nil
}

func parseResults(doc *goquery.Document, maxResults int) []Result {
	var results []Result
	doc.Find(".result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if maxResults > 0 && len(results) >= maxResults {
			return false
		}
		link := s.Find("a.result__a").First()
		title := strings.TrimSpace(link.Text())
		if title == "" {
			return true
		}
		href, _ := link.Attr("href")
		results = append(results, Result{
			Title:   title,
			URL:     resolveRedirect(href),
			Snippet: strings.TrimSpace(s.Find(".result__snippet").First().Text()),
		})
		return true
	})
	return results
}

// resolveRedirect unwraps DuckDuckGo's "/l/?uddg=<target>" links.
func resolveRedirect(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme == "" && strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	return href
}

// Format renders results as markdown blocks separated by blank lines.
func Format(results []Result) string {
	if len(results) == 0 {
		return NoResults
	}
	blocks := make([]string, 0, len(results))
	for _, r := range results {
		blocks = append(blocks, fmt.Sprintf("**%s**\n%s\n[Link](%s)", r.Title, r.Snippet, r.URL))
	}
	return strings.Join(blocks, "\n\n")
}
