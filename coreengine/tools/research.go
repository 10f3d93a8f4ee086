package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const (
	// DefaultMaxBytes caps how much of a response body is read.
	DefaultMaxBytes = 1 << 20
	// DefaultSearchURL is the DuckDuckGo HTML endpoint.
	DefaultSearchURL = "https://html.duckduckgo.com/html/"
	// DefaultMaxResults is how many search results are returned.
	DefaultMaxResults = 5

	userAgent = "Mozilla/5.0 (compatible; outreach-research/1.0)"
)

var (
	multiNewlinePattern = regexp.MustCompile(`\n{3,}`)
	multiSpacePattern   = regexp.MustCompile(`[ \t]{2,}`)
)

// ResearchConfig configures the HTTP-backed research tools.
type ResearchConfig struct {
	Client     *http.Client
	SearchURL  string
	MaxBytes   int64
	MaxResults int
	// Timeout applies to each tool call.
	Timeout time.Duration
}

// SearchResult is one web search hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Research holds the HTTP research tools.
type Research struct {
	cfg ResearchConfig
}

// NewResearch creates the research tools with defaults filled in.
func NewResearch(cfg ResearchConfig) *Research {
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.SearchURL == "" {
		cfg.SearchURL = DefaultSearchURL
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	return &Research{cfg: cfg}
}

// Register adds fetch_profile and web_search to the executor.
func (r *Research) Register(e *ToolExecutor) error {
	if err := e.Register(&ToolDefinition{
		Name:        ToolFetchProfile,
		Description: "Fetch a profile page and return its visible text",
		Timeout:     r.cfg.Timeout,
		Handler: func(ctx context.Context, params map[string]any) (map[string]any, error) {
			target, _ := params["url"].(string)
			text, err := r.FetchProfileText(ctx, target)
			if err != nil {
				return nil, err
			}
			return map[string]any{"text": text, "url": target}, nil
		},
	}); err != nil {
		return err
	}
	return e.Register(&ToolDefinition{
		Name:        ToolWebSearch,
		Description: "Search the web and return result titles and snippets",
		Timeout:     r.cfg.Timeout,
		Handler: func(ctx context.Context, params map[string]any) (map[string]any, error) {
			query, _ := params["query"].(string)
			results, err := r.Search(ctx, query)
			if err != nil {
				return nil, err
			}
			return map[string]any{"text": FormatResults(results), "results": results}, nil
		},
	})
}

// FetchProfileText downloads url and returns its readable text.
func (r *Research) FetchProfileText(ctx context.Context, target string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(target))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "", fmt.Errorf("invalid profile url %q", target)
	}

	body, contentType, err := r.get(ctx, parsed.String())
	if err != nil {
		return "", err
	}
	if strings.Contains(contentType, "text/plain") {
		return cleanText(body), nil
	}
	text, err := HTMLToText(body)
	if err != nil {
		return "", fmt.Errorf("parse profile page: %w", err)
	}
	if text == "" {
		return "", fmt.Errorf("profile page %q has no text", target)
	}
	return text, nil
}

// Search queries the configured DuckDuckGo-compatible HTML endpoint.
func (r *Research) Search(ctx context.Context, query string) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	body, _, err := r.get(ctx, r.cfg.SearchURL+"?q="+url.QueryEscape(query))
	if err != nil {
		return nil, err
	}
	return ParseSearchResults(body, r.cfg.MaxResults)
}

func (r *Research) get(ctx context.Context, target string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")

	resp, err := r.cfg.Client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, r.cfg.MaxBytes))
	if err != nil {
		return "", "", fmt.Errorf("failed to read response: %w", err)
	}
	return string(body), resp.Header.Get("Content-Type"), nil
}

// HTMLToText returns the visible text of an HTML document, one block per line.
func HTMLToText(doc string) (string, error) {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	extractText(root, &sb, 0)
	return cleanText(sb.String()), nil
}

func extractText(n *html.Node, sb *strings.Builder, depth int) {
	if depth > 64 {
		return
	}
	switch n.Type {
	case html.TextNode:
		if text := strings.TrimSpace(n.Data); text != "" {
			sb.WriteString(text)
			sb.WriteString(" ")
		}
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "iframe", "svg", "nav", "footer":
			return
		case "p", "div", "section", "article", "h1", "h2", "h3", "h4", "li", "br", "title":
			sb.WriteString("\n")
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractText(c, sb, depth+1)
	}
}

func cleanText(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(multiSpacePattern.ReplaceAllString(line, " "))
	}
	s = strings.Join(lines, "\n")
	s = multiNewlinePattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// ParseSearchResults extracts results from DuckDuckGo HTML.
func ParseSearchResults(doc string, maxResults int) ([]SearchResult, error) {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var results []SearchResult
	var find func(*html.Node)
	find = func(n *html.Node) {
		if len(results) >= maxResults {
			return
		}
		if n.Type == html.ElementNode && n.Data == "div" && hasClass(n, "result") {
			if res := extractResult(n); res.URL != "" && res.Title != "" {
				results = append(results, res)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			find(c)
		}
	}
	find(root)
	return results, nil
}

func extractResult(n *html.Node) SearchResult {
	var res SearchResult
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			switch {
			case hasClass(n, "result__a"):
				res.URL = attr(n, "href")
				res.Title = textContent(n)
			case hasClass(n, "result__snippet"):
				res.Snippet = textContent(n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)

	const redirect = "//duckduckgo.com/l/?uddg="
	if strings.HasPrefix(res.URL, redirect) {
		if decoded, err := url.QueryUnescape(strings.TrimPrefix(res.URL, redirect)); err == nil {
			if idx := strings.Index(decoded, "&"); idx > 0 {
				decoded = decoded[:idx]
			}
			res.URL = decoded
		}
	}
	return res
}

func hasClass(n *html.Node, class string) bool {
	for _, field := range strings.Fields(attr(n, "class")) {
		if field == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(strings.TrimSpace(n.Data))
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}

// FormatResults renders results as prompt context.
func FormatResults(results []SearchResult) string {
	var sb strings.Builder
	for _, r := range results {
		fmt.Fprintf(&sb, "- %s", r.Title)
		if r.Snippet != "" {
			fmt.Fprintf(&sb, ": %s", r.Snippet)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
