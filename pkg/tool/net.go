package tool

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const userAgent = "unclaude-daemon/1.0 (+https://github.com/anzal1/unclaude)"

func fetchDocument(ctx context.Context, rawURL string) (*goquery.Document, *url.URL, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, nil, fmt.Errorf("invalid url %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, nil, fmt.Errorf("received status code %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, parsed, nil
}

func extractText(doc *goquery.Document, selector string, maxLength int) string {
	var selection *goquery.Selection
	if strings.TrimSpace(selector) != "" {
		selection = doc.Find(selector)
	} else {
		selection = doc.Find("body")
	}
	text := strings.Join(strings.Fields(selection.Text()), " ")
	if maxLength > 0 && len(text) > maxLength {
		text = text[:maxLength] + "..."
	}
	return text
}

// --- web_fetch ---

type webFetchTool struct{}

func (t *webFetchTool) Name() string { return "web_fetch" }

func (t *webFetchTool) Description() string {
	return "Fetch a URL and extract its visible text, optionally narrowed by a CSS selector."
}

func (t *webFetchTool) Parameters() ParameterSchema {
	return ParameterSchema{
		Type: "object",
		Properties: map[string]PropertySchema{
			"url":        {Type: "string", Description: "URL to fetch (https://...)"},
			"selector":   {Type: "string", Description: "optional CSS selector to narrow extracted content"},
			"max_length": {Type: "integer", Description: "maximum characters of text to return", Default: 4000},
		},
		Required: []string{"url"},
	}
}

func (t *webFetchTool) Execute(ctx context.Context, params map[string]any) (Result, error) {
	rawURL, ok := stringParam(params, "url")
	if !ok {
		return Result{Success: false, Error: "url parameter must be a non-empty string"}, nil
	}
	selector, _ := stringParam(params, "selector")
	maxLength := parseIntParam(params["max_length"], 4000)
	if maxLength <= 0 || maxLength > 20000 {
		maxLength = 4000
	}

	doc, _, err := fetchDocument(ctx, rawURL)
	if err != nil {
		return Result{Success: false, Error: err.Error()}, nil
	}
	return Result{Success: true, Output: extractText(doc, selector, maxLength)}, nil
}

// --- browser_tool ---
//
// browserTool gives the model a read-only way to "navigate" a page: it
// fetches the URL and returns its extracted text plus the discovered link
// targets on the page, rather than driving a headless browser session. It
// covers the browser.navigate capability without pulling in a JS-capable
// automation stack no operation in this core needs.

type browserTool struct{}

func (t *browserTool) Name() string { return "browser_tool" }

func (t *browserTool) Description() string {
	return "Navigate to a URL and return its extracted page text along with the links found on the page."
}

func (t *browserTool) Parameters() ParameterSchema {
	return ParameterSchema{
		Type: "object",
		Properties: map[string]PropertySchema{
			"url": {Type: "string", Description: "URL to navigate to"},
		},
		Required: []string{"url"},
	}
}

type browserLink struct {
	Text string `json:"text"`
	Href string `json:"href"`
}

func (t *browserTool) Execute(ctx context.Context, params map[string]any) (Result, error) {
	rawURL, ok := stringParam(params, "url")
	if !ok {
		return Result{Success: false, Error: "url parameter must be a non-empty string"}, nil
	}

	doc, base, err := fetchDocument(ctx, rawURL)
	if err != nil {
		return Result{Success: false, Error: err.Error()}, nil
	}

	text := extractText(doc, "", 6000)
	var links []browserLink
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if len(links) >= 25 {
			return
		}
		href, _ := s.Attr("href")
		resolved, err := base.Parse(href)
		if err != nil {
			return
		}
		linkText := strings.TrimSpace(s.Text())
		if linkText == "" {
			return
		}
		links = append(links, browserLink{Text: linkText, Href: resolved.String()})
	})

	return Result{
		Success: true,
		Output:  text,
		Data:    map[string]any{"page_text": text, "links": links},
	}, nil
}

// --- web_search ---
//
// webSearchTool queries DuckDuckGo's HTML result page (no API key, no JS
// required) and extracts result titles/URLs/snippets with goquery, the
// same parse-the-markup approach the page-fetch tools use.

type webSearchTool struct{}

func (t *webSearchTool) Name() string { return "web_search" }

func (t *webSearchTool) Description() string {
	return "Search the web for a query and return a ranked list of result titles, URLs, and snippets."
}

func (t *webSearchTool) Parameters() ParameterSchema {
	return ParameterSchema{
		Type: "object",
		Properties: map[string]PropertySchema{
			"query":       {Type: "string", Description: "search query"},
			"max_results": {Type: "integer", Description: "maximum results to return", Default: 5},
		},
		Required: []string{"query"},
	}
}

type searchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

func (t *webSearchTool) Execute(ctx context.Context, params map[string]any) (Result, error) {
	query, ok := stringParam(params, "query")
	if !ok {
		return Result{Success: false, Error: "query parameter must be a non-empty string"}, nil
	}
	maxResults := parseIntParam(params["max_results"], 5)
	if maxResults <= 0 || maxResults > 20 {
		maxResults = 5
	}

	searchURL := "https://html.duckduckgo.com/html/?q=" + url.QueryEscape(query)
	doc, _, err := fetchDocument(ctx, searchURL)
	if err != nil {
		return Result{Success: false, Error: err.Error()}, nil
	}

	var results []searchResult
	doc.Find(".result").Each(func(_ int, s *goquery.Selection) {
		if len(results) >= maxResults {
			return
		}
		link := s.Find(".result__a").First()
		title := strings.TrimSpace(link.Text())
		href, _ := link.Attr("href")
		snippet := strings.TrimSpace(s.Find(".result__snippet").First().Text())
		if title == "" || href == "" {
			return
		}
		results = append(results, searchResult{Title: title, URL: href, Snippet: snippet})
	})

	var sb strings.Builder
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s\n   %s\n   %s\n", i+1, r.Title, r.URL, r.Snippet)
	}
	return Result{Success: true, Output: sb.String(), Data: results}, nil
}
