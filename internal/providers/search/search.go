// Package search implements the search & scrape client (C4.1): a thin
// HTTP wrapper over a search-and-scrape provider (Firecrawl-shaped) used to
// gather competitor pages for stage 1 of the pipeline.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"

	nurl "net/url"

	"github.com/Makar0n1/art-automation/internal/helpers"
	"github.com/Makar0n1/art-automation/models"
)

const (
	defaultBaseURL   = "https://api.firecrawl.dev/v1"
	maxSerpResults   = 10
	interScrapeDelay = 500 * time.Millisecond
)

// contentSelectors is the ordered list of main-content selectors tried
// before falling back to body.
var contentSelectors = []string{
	"article", "main", ".content", ".post-content", ".article-content",
	".entry-content", "#content", ".main-content",
}

// stripSelectors removes chrome that would pollute extracted body text.
var stripSelectors = []string{
	"script", "style", "nav", "header", "footer", "aside",
	"[class*=ad]", "[id*=ad]",
}

var nonTextChars = regexp.MustCompile(`[^\x00-\x{FFFF}]|[^\p{Latin}\p{Cyrillic}\s\p{P}\p{N}]`)
var whitespaceRun = regexp.MustCompile(`\s+`)

// Client is a search & scrape provider client scoped to one API key.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// New builds a Client. An empty apiKey is valid; callers that need the
// client to be "configured" check apiKey before invoking operations.
func New(apiKey string) *Client {
	return &Client{apiKey: apiKey, baseURL: defaultBaseURL, httpClient: &http.Client{Timeout: 30 * time.Second}}
}

// WithBaseURL overrides the provider endpoint, used by tests to point the
// client at an httptest server instead of the live API.
func (c *Client) WithBaseURL(url string) *Client {
	c.baseURL = url
	return c
}

// Configured reports whether a credential has been set.
func (c *Client) Configured() bool { return c.apiKey != "" }

// Result is one ranked search hit.
type Result struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
	Lang  string `json:"lang,omitempty"`
	Country string `json:"country,omitempty"`
}

type searchResponse struct {
	Data []struct {
		URL         string `json:"url"`
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"data"`
}

// Search returns up to limit ordered results for query.
func (c *Client) Search(ctx context.Context, query, region, language string, limit int) ([]Result, error) {
	body, err := json.Marshal(searchRequest{Query: query, Limit: limit, Lang: language, Country: region})
	if err != nil {
		return nil, fmt.Errorf("search: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("search: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search: provider returned status %d", resp.StatusCode)
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("search: decode response: %w", err)
	}
	seen := make(map[string]struct{}, len(parsed.Data))
	out := make([]Result, 0, len(parsed.Data))
	for _, d := range parsed.Data {
		fp, err := helpers.URLFingerprint(d.URL)
		if err != nil {
			fp = d.URL
		}
		if _, dup := seen[fp]; dup {
			continue
		}
		seen[fp] = struct{}{}
		out = append(out, Result{URL: d.URL, Title: d.Title, Description: d.Description})
	}
	return out, nil
}

// Scraped is the normalized outcome of one page fetch.
type Scraped struct {
	Markdown string
	HTML     string
	Metadata map[string]string
}

// Scrape fetches url and returns its raw HTML for DOM walking. Failures are
// returned as errors, never panics.
func (c *Client) Scrape(ctx context.Context, url string) (Scraped, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Scraped{}, fmt.Errorf("scrape: build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; art-automation/1.0)")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Scraped{}, fmt.Errorf("scrape: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return Scraped{}, fmt.Errorf("scrape: status %d", resp.StatusCode)
	}
	body, err := helpers.ReadAllAndClose(resp.Body)
	if err != nil {
		return Scraped{}, fmt.Errorf("scrape: read body: %w", err)
	}
	return Scraped{HTML: string(body)}, nil
}

// ProgressFunc is invoked after each SERP entry completes, successfully or
// not.
type ProgressFunc func(entry models.SerpEntry, index int)

// FetchSerp performs Search for up to ten results and scrapes each in
// order, yielding a SerpEntry per result regardless of scrape outcome.
func (c *Client) FetchSerp(ctx context.Context, query, region, language string, onProgress ProgressFunc) ([]models.SerpEntry, error) {
	results, err := c.Search(ctx, query, region, language, maxSerpResults)
	if err != nil {
		return nil, fmt.Errorf("fetchSerp: search: %w", err)
	}

	entries := make([]models.SerpEntry, 0, len(results))
	for i, r := range results {
		entry := models.SerpEntry{URL: r.URL, Title: r.Title, Rank: i + 1}

		scraped, err := c.Scrape(ctx, r.URL)
		if err != nil {
			entry.Error = err.Error()
		} else {
			headings, body := extractMainContent(scraped.HTML)
			entry.Headings = headings
			entry.Body = body
			entry.WordCount = countWords(body)
		}

		entries = append(entries, entry)
		if onProgress != nil {
			onProgress(entry, i)
		}
		if i < len(results)-1 {
			select {
			case <-ctx.Done():
				return entries, ctx.Err()
			case <-time.After(interScrapeDelay):
			}
		}
	}
	return entries, nil
}

// extractMainContent walks the DOM per the fetchSerp contract: strip
// chrome, collect headings in document order, pick the first matching
// content selector (falling back to body), normalize whitespace and strip
// characters outside BMP/Latin/Cyrillic.
func extractMainContent(html string) (headings []string, body string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, ""
	}
	for _, sel := range stripSelectors {
		doc.Find(sel).Remove()
	}

	doc.Find("h1,h2,h3,h4,h5,h6").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		headings = append(headings, fmt.Sprintf("%s: %s", goquery.NodeName(s), text))
	})

	var main *goquery.Selection
	for _, sel := range contentSelectors {
		if node := doc.Find(sel).First(); node.Length() > 0 {
			main = node
			break
		}
	}
	if main == nil {
		main = doc.Find("body")
	}

	text := main.Text()
	if strings.TrimSpace(text) == "" {
		if article, err := readability.FromReader(strings.NewReader(html), &nurl.URL{}); err == nil {
			text = article.TextContent
		}
	}
	text = nonTextChars.ReplaceAllString(text, "")
	text = whitespaceRun.ReplaceAllString(text, " ")
	return headings, strings.TrimSpace(text)
}

func countWords(s string) int {
	if strings.TrimSpace(s) == "" {
		return 0
	}
	return len(strings.Fields(s))
}

// Ping performs a cheap authenticated call to validate the stored
// credential, used by the settings "test credential" endpoint.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Search(ctx, "ping", "us", "en", 1)
	return err
}
