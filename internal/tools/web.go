package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/solsticehq/solstice/internal/security"
	"github.com/solsticehq/solstice/pkg/models"
)

const (
	maxRedirects      = 5
	maxFetchBody      = 1 << 20 // 1 MiB raw body cap before stripping
	defaultFetchChars = 5_000
	userAgent         = "Mozilla/5.0 (compatible; SolsticeBot/1.0)"
)

var (
	scriptRE = regexp.MustCompile(`(?is)<(script|style|noscript)\b[^>]*>.*?</(script|style|noscript)>`)
	tagRE    = regexp.MustCompile(`(?s)<[^>]+>`)
	spaceRE  = regexp.MustCompile(`[ \t]+`)
	blankRE  = regexp.MustCompile(`\n{3,}`)
)

// Web provides fetch_url and web_search. Every fetched URL, including
// every redirect hop, passes the SSRF validator first.
type Web struct {
	validator *security.URLValidator
	client    *http.Client
}

// NewWeb builds the web tool group. Redirects are disabled on the client;
// the fetch loop follows them manually so each hop is validated.
func NewWeb(validator *security.URLValidator) *Web {
	return &Web{
		validator: validator,
		client: &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Register adds fetch_url and web_search to a registry.
func (w *Web) Register(r *Registry) {
	r.Register("fetch_url", w.fetchURL, models.ToolSchema{
		Name:        "fetch_url",
		Description: "Fetch a web page and return its text content (HTML stripped).",
		Parameters: objSchema(map[string]any{
			"url":        map[string]any{"type": "string", "description": "The URL to fetch (http or https)"},
			"max_length": map[string]any{"type": "integer", "description": "Max characters to return (default 5000)"},
		}, "url"),
	})
	r.Register("web_search", w.webSearch, models.ToolSchema{
		Name:        "web_search",
		Description: "Search the web and return titles, URLs, and snippets.",
		Parameters: objSchema(map[string]any{
			"query":       map[string]any{"type": "string", "description": "The search query"},
			"max_results": map[string]any{"type": "integer", "description": "Max results to return (default 5)"},
		}, "query"),
	})
}

func (w *Web) fetchURL(ctx context.Context, args map[string]any) (string, error) {
	target := strings.TrimSpace(stringArg(args, "url", ""))
	maxLength := intArg(args, "max_length", defaultFetchChars)
	if maxLength <= 0 {
		maxLength = defaultFetchChars
	}

	body, finalURL, err := w.get(ctx, target)
	if err != nil {
		if strings.Contains(err.Error(), "blocked") || strings.Contains(err.Error(), "not allowed") {
			return "Error: " + err.Error(), nil
		}
		return fmt.Sprintf("Error fetching %s. Check that the URL is valid and reachable.", target), nil
	}

	text := stripHTML(body)
	if len(text) > maxLength {
		text = text[:maxLength] + "\n... (truncated)"
	}
	return fmt.Sprintf("Content from %s:\n\n%s", finalURL, text), nil
}

// get fetches a URL, following up to maxRedirects hops and validating
// every hop against the SSRF rules. Returns the body and the final URL.
func (w *Web) get(ctx context.Context, target string) (string, string, error) {
	current := target
	for hop := 0; hop <= maxRedirects; hop++ {
		if err := w.validator.Validate(current); err != nil {
			if hop == 0 {
				return "", "", err
			}
			return "", "", fmt.Errorf("redirect blocked: %v", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current, nil)
		if err != nil {
			return "", "", err
		}
		req.Header.Set("User-Agent", userAgent)

		resp, err := w.client.Do(req)
		if err != nil {
			return "", "", err
		}

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			location := resp.Header.Get("Location")
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if location == "" {
				return "", "", fmt.Errorf("redirect with no Location header")
			}
			base, err := url.Parse(current)
			if err != nil {
				return "", "", err
			}
			next, err := base.Parse(location)
			if err != nil {
				return "", "", fmt.Errorf("invalid redirect target %q", location)
			}
			current = next.String()
			continue
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBody))
		resp.Body.Close()
		if err != nil {
			return "", "", err
		}
		if resp.StatusCode >= 400 {
			return "", "", fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		return string(data), current, nil
	}
	return "", "", fmt.Errorf("too many redirects (max %d)", maxRedirects)
}

// stripHTML reduces an HTML page to readable text: scripts and styles
// removed, tags stripped, whitespace collapsed.
func stripHTML(body string) string {
	text := scriptRE.ReplaceAllString(body, " ")
	text = tagRE.ReplaceAllString(text, "\n")
	text = strings.NewReplacer(
		"&nbsp;", " ", "&amp;", "&", "&lt;", "<", "&gt;", ">",
		"&quot;", `"`, "&#39;", "'",
	).Replace(text)

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(spaceRE.ReplaceAllString(line, " "))
		if line != "" {
			lines = append(lines, line)
		}
	}
	return blankRE.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
}

func (w *Web) webSearch(ctx context.Context, args map[string]any) (string, error) {
	query := strings.TrimSpace(stringArg(args, "query", ""))
	if query == "" {
		return "Error: Empty query", nil
	}
	maxResults := intArg(args, "max_results", 5)
	if maxResults <= 0 {
		maxResults = 5
	}
	if maxResults > 20 {
		maxResults = 20
	}

	// DuckDuckGo Instant Answer API: structured results, no API key.
	endpoint := fmt.Sprintf("https://api.duckduckgo.com/?q=%s&format=json&no_html=1", url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Sprintf("Error: Search failed: %v", err), nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Sprintf("Error: Search backend returned status %d", resp.StatusCode), nil
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBody))
	if err != nil {
		return fmt.Sprintf("Error: Search failed: %v", err), nil
	}

	var ddg struct {
		AbstractText  string `json:"AbstractText"`
		AbstractURL   string `json:"AbstractURL"`
		Heading       string `json:"Heading"`
		RelatedTopics []struct {
			FirstURL string `json:"FirstURL"`
			Text     string `json:"Text"`
		} `json:"RelatedTopics"`
	}
	if err := json.Unmarshal(data, &ddg); err != nil {
		return fmt.Sprintf("Error: Search failed: %v", err), nil
	}

	type hit struct{ title, url, body string }
	var hits []hit
	if ddg.AbstractText != "" && ddg.AbstractURL != "" {
		hits = append(hits, hit{title: ddg.Heading, url: ddg.AbstractURL, body: ddg.AbstractText})
	}
	for _, topic := range ddg.RelatedTopics {
		if len(hits) >= maxResults {
			break
		}
		if topic.FirstURL == "" || topic.Text == "" {
			continue
		}
		title := topic.Text
		if len(title) > 100 {
			title = title[:100]
		}
		hits = append(hits, hit{title: title, url: topic.FirstURL, body: topic.Text})
	}

	if len(hits) == 0 {
		return fmt.Sprintf("No results found for: %s", query), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Search results for '%s':\n\n", query)
	for _, h := range hits {
		fmt.Fprintf(&b, "**%s**\n  %s\n  %s\n\n", h.title, h.url, h.body)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
