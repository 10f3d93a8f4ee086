package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const profilePage = `<html><head><title>Aisha Khan</title><script>var x = 1;</script></head>
<body><nav>Home | Jobs</nav>
<h1>Aisha Khan</h1>
<p>VP of Engineering at   Northwind Robotics</p>
<div>Spoke at RoboConf about on-device vision.</div>
<footer>cookie banner</footer></body></html>`

const searchPage = `<html><body>
<div class="result results_links">
  <a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fnorthwind.example%2Fnews&rut=abc">Northwind raises Series B</a>
  <a class="result__snippet">Northwind Robotics raised $40M to scale edge inference.</a>
</div>
<div class="result results_links">
  <a class="result__a" href="https://roboconf.example/talks">RoboConf talks</a>
</div>
<div class="result results_links"><a class="result__snippet">no title</a></div>
</body></html>`

// =============================================================================
// HTML TESTS
// =============================================================================

func TestHTMLToText(t *testing.T) {
	text, err := HTMLToText(profilePage)
	require.NoError(t, err)

	assert.Contains(t, text, "VP of Engineering at Northwind Robotics")
	assert.Contains(t, text, "Spoke at RoboConf")
	assert.NotContains(t, text, "var x")
	assert.NotContains(t, text, "cookie banner")
	assert.NotContains(t, text, "Jobs")
}

func TestParseSearchResults(t *testing.T) {
	results, err := ParseSearchResults(searchPage, 5)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "https://northwind.example/news", results[0].URL)
	assert.Equal(t, "Northwind raises Series B", results[0].Title)
	assert.Contains(t, results[0].Snippet, "$40M")
	assert.Equal(t, "https://roboconf.example/talks", results[1].URL)

	limited, err := ParseSearchResults(searchPage, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	assert.Equal(t, "- Northwind raises Series B: Northwind Robotics raised $40M to scale edge inference.\n- RoboConf talks",
		FormatResults(results))
}

// =============================================================================
// HTTP TESTS
// =============================================================================

func TestFetchProfileText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/profile":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(profilePage))
		case "/plain":
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("  plain   bio  "))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	r := NewResearch(ResearchConfig{Client: srv.Client()})
	ctx := context.Background()

	text, err := r.FetchProfileText(ctx, srv.URL+"/profile")
	require.NoError(t, err)
	assert.Contains(t, text, "Northwind Robotics")

	text, err = r.FetchProfileText(ctx, srv.URL+"/plain")
	require.NoError(t, err)
	assert.Equal(t, "plain bio", text)

	_, err = r.FetchProfileText(ctx, srv.URL+"/missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 404")

	_, err = r.FetchProfileText(ctx, "ftp://example.com/x")
	assert.Error(t, err)
}

func TestFetchProfileTextLimitsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(strings.Repeat("a", 64) + " tail"))
	}))
	defer srv.Close()

	r := NewResearch(ResearchConfig{Client: srv.Client(), MaxBytes: 16})
	text, err := r.FetchProfileText(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Len(t, text, 16)
}

func TestRegisteredToolsOverHTTP(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/search" {
			gotQuery = r.URL.Query().Get("q")
			_, _ = w.Write([]byte(searchPage))
			return
		}
		_, _ = w.Write([]byte(profilePage))
	}))
	defer srv.Close()

	executor := NewToolExecutor()
	require.NoError(t, NewResearch(ResearchConfig{Client: srv.Client(), SearchURL: srv.URL + "/search"}).Register(executor))
	assert.Equal(t, []string{ToolFetchProfile, ToolWebSearch}, executor.List())

	out, err := executor.Execute(context.Background(), ToolWebSearch, map[string]any{"query": "Northwind Robotics news"})
	require.NoError(t, err)
	assert.Equal(t, "Northwind Robotics news", gotQuery)
	assert.Contains(t, out["text"], "Series B")

	out, err = executor.Execute(context.Background(), ToolFetchProfile, map[string]any{"url": srv.URL + "/p"})
	require.NoError(t, err)
	assert.Contains(t, out["text"], "Aisha Khan")

	_, err = executor.Execute(context.Background(), ToolWebSearch, map[string]any{"query": "  "})
	assert.Error(t, err)
}
