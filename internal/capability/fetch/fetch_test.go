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

package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/agentforge/pkg/errors"
)

const page = `<html><head><title>T</title><style>body{}</style></head>
<body>
  <nav>Home | About</nav>
  <h1>Quarterly   report</h1>
  <p>Revenue grew  by ten percent.</p>
  <script>alert(1)</script>
  <ul><li>One</li><li>Two</li></ul>
  <footer>(c) corp</footer>
</body></html>`

func TestHTMLToText(t *testing.T) {
	text, err := HTMLToText(strings.NewReader(page))
	require.NoError(t, err)

	assert.Equal(t, "Quarterly\nreport\nRevenue grew\nby ten percent.\nOne\nTwo", text)
	assert.NotContains(t, text, "alert")
	assert.NotContains(t, text, "Home")
	assert.NotContains(t, text, "corp")
}

func TestFetcher_FetchCaches(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
	}))
	defer server.Close()

	f, err := New(Config{CacheSize: 4}, nil)
	require.NoError(t, err)

	first, err := f.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	second, err := f.Fetch(context.Background(), server.URL)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Contains(t, first, "Revenue grew")
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestFetcher_PlainTextTruncated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(strings.Repeat("é", 50)))
	}))
	defer server.Close()

	f, err := New(Config{MaxChars: 10}, nil)
	require.NoError(t, err)

	text, err := f.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("é", 10), text)
}

func TestFetcher_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	f, err := New(Config{}, nil)
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), server.URL)
	var capErr *errors.CapabilityError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, http.StatusNotFound, capErr.StatusCode)
	assert.Equal(t, "fetch", capErr.Capability)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abcdef", 3))
	assert.Equal(t, "ab", Truncate("ab", 3))
	assert.Equal(t, "añ", Truncate("añb", 2))
	assert.Equal(t, "full", Truncate("full", 0))
}
