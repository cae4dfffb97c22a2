// Package llm implements the LLM chat client (C4.2): a single chat
// endpoint wrapper plus the eight higher-level pipeline operations layered
// on top of it, generalizing the request/response shape of a typical
// OpenAI-compatible chat completion API.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Makar0n1/art-automation/internal/helpers"
	"github.com/Makar0n1/art-automation/models"
)

// decodeJSON unmarshals a chat completion's raw text into v, first trying
// to pull a fenced JSON block out of it (models fairly often wrap JSON in
// ```json fences despite being told to respond with JSON only).
func decodeJSON(raw string, v interface{}) error {
	if extracted, err := helpers.ExtractJSON(raw); err == nil {
		raw = extracted
	}
	return json.Unmarshal([]byte(raw), v)
}

const defaultBaseURL = "https://openrouter.ai/api/v1/chat/completions"

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage chatUsage `json:"usage"`
}

// chatUsage is the provider's snake_case usage object.
type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Usage accumulates token counters across calls.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

func (u *Usage) add(o Usage) {
	u.PromptTokens += o.PromptTokens
	u.CompletionTokens += o.CompletionTokens
	u.TotalTokens += o.TotalTokens
}

// Client is an LLM chat client scoped to one credential and model.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client

	mu    sync.Mutex
	usage Usage
}

// New builds a Client for model, backed by apiKey.
func New(apiKey, model string) *Client {
	return &Client{
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// WithBaseURL overrides the provider endpoint, used by tests.
func (c *Client) WithBaseURL(url string) *Client {
	c.baseURL = url
	return c
}

// Configured reports whether a credential has been set.
func (c *Client) Configured() bool { return c.apiKey != "" }

// GetTokenUsage returns the accumulated token counters, optionally
// resetting them atomically.
func (c *Client) GetTokenUsage(reset bool) Usage {
	c.mu.Lock()
	defer c.mu.Unlock()
	u := c.usage
	if reset {
		c.usage = Usage{}
	}
	return u
}

// sendRequest issues one chat completion call and accumulates its token
// usage into the client's running counters.
func (c *Client) sendRequest(ctx context.Context, messages []Message, temperature float64) (string, error) {
	body, err := json.Marshal(chatRequest{Model: c.model, Messages: messages, Temperature: temperature})
	if err != nil {
		return "", fmt.Errorf("llm: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llm: provider returned status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("llm: decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("llm: no choices in response")
	}

	c.mu.Lock()
	c.usage.add(Usage(parsed.Usage))
	c.mu.Unlock()

	return parsed.Choices[0].Message.Content, nil
}

// Ping performs a cheap authenticated call to validate the stored
// credential.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.sendRequest(ctx, []Message{{Role: "user", Content: "ping"}}, 0)
	return err
}

// ---------------------------------------------------------------------
// Op 1: structure analysis
// ---------------------------------------------------------------------

type structureAnalysisResponse struct {
	AverageWordCount     int            `json:"averageWordCount"`
	CommonPatterns       []string       `json:"commonPatterns"`
	Strengths            []string       `json:"strengths"`
	Weaknesses           []string       `json:"weaknesses"`
	RecommendedStructure []models.Block `json:"recommendedStructure"`
}

// AnalyzeStructure synthesizes SERP entries into a recommended block
// structure. Requires at least 5 blocks in the model's response.
func (c *Client) AnalyzeStructure(ctx context.Context, mainKeyword, language string, serp []models.SerpEntry, extraKeywords, lsiKeywords []string, articleType models.ArticleType, styleComment string) (*models.StructureAnalysis, error) {
	system := "You are an SEO content strategist. Respond with a single JSON object only, no prose."
	userPayload := map[string]interface{}{
		"mainKeyword":   mainKeyword,
		"language":      language,
		"articleType":   articleType,
		"extraKeywords": extraKeywords,
		"lsiKeywords":   lsiKeywords,
		"styleComment":  styleComment,
		"competitors":   serp,
	}
	userJSON, err := json.Marshal(userPayload)
	if err != nil {
		return nil, fmt.Errorf("llm: encode structure analysis input: %w", err)
	}
	user := "Analyze these competitor structures and propose a recommendedStructure of Block objects " +
		`(fields: id, type, heading, instruction, lsi, questions). Respond as JSON: ` +
		`{"averageWordCount":int,"commonPatterns":[],"strengths":[],"weaknesses":[],"recommendedStructure":[]}. ` +
		"Input: " + string(userJSON)

	raw, err := c.sendRequest(ctx, []Message{{Role: "system", Content: system}, {Role: "user", Content: user}}, 0.4)
	if err != nil {
		return nil, fmt.Errorf("llm: structure analysis: %w", err)
	}
	var parsed structureAnalysisResponse
	if err := decodeJSON(raw, &parsed); err != nil {
		return nil, fmt.Errorf("llm: parse structure analysis: %w", err)
	}
	if len(parsed.RecommendedStructure) < 5 {
		return nil, fmt.Errorf("llm: structure analysis returned only %d blocks, need at least 5", len(parsed.RecommendedStructure))
	}

	for i := range parsed.RecommendedStructure {
		b := &parsed.RecommendedStructure[i]
		b.ID = i
		if !b.Type.CarriesQuestions() || b.Type == models.BlockConclusion {
			b.Questions = nil
		}
		if b.Type == models.BlockIntro {
			b.Heading = ""
		}
	}

	return &models.StructureAnalysis{
		AverageWordCount:     parsed.AverageWordCount,
		CommonPatterns:       parsed.CommonPatterns,
		Strengths:            parsed.Strengths,
		Weaknesses:           parsed.Weaknesses,
		RecommendedStructure: parsed.RecommendedStructure,
	}, nil
}

// ---------------------------------------------------------------------
// Op 2: block enrichment
// ---------------------------------------------------------------------

// EnrichBlocks rewrites each block's instruction and populates 0-5 research
// questions per content block, renumbering ids contiguously from 0.
func (c *Client) EnrichBlocks(ctx context.Context, blocks []models.Block, mainKeyword string, lsiKeywords []string) ([]models.Block, error) {
	inputJSON, err := json.Marshal(blocks)
	if err != nil {
		return nil, fmt.Errorf("llm: encode blocks: %w", err)
	}
	system := "You are an SEO content editor. Respond with a single JSON array of block objects only."
	user := fmt.Sprintf(
		"Rewrite each block's instruction to be detailed and actionable, and add 0-5 short research "+
			"questions for content blocks (never for h1/intro/faq). Keep the same block count and order. "+
			"Main keyword: %q. LSI keywords: %v. Blocks: %s", mainKeyword, lsiKeywords, string(inputJSON))

	raw, err := c.sendRequest(ctx, []Message{{Role: "system", Content: system}, {Role: "user", Content: user}}, 0.5)
	if err != nil {
		return nil, fmt.Errorf("llm: enrich blocks: %w", err)
	}
	var enriched []models.Block
	if err := decodeJSON(raw, &enriched); err != nil {
		return nil, fmt.Errorf("llm: parse enriched blocks: %w", err)
	}
	for i := range enriched {
		enriched[i].ID = i
		if !enriched[i].Type.CarriesQuestions() {
			enriched[i].Questions = nil
		}
	}
	return enriched, nil
}

// ---------------------------------------------------------------------
// Op 3: block writing
// ---------------------------------------------------------------------

var leadingHeadingRe = regexp.MustCompile(`^#{1,6}\s.*\n+`)

// WriteBlock renders one block's markdown content, using priorContent as
// style context.
func (c *Client) WriteBlock(ctx context.Context, block models.Block, priorContent string, mainKeyword string) (string, error) {
	system := "You are a skilled SEO article writer. Respond with markdown body content only, no heading line."
	user := fmt.Sprintf(
		"Main keyword: %q. Block type: %s. Heading: %q. Instruction: %s. Answered research: %v. "+
			"Match the tone and style of the article so far:\n---\n%s\n---\nWrite only this block's body content.",
		mainKeyword, block.Type, block.Heading, block.Instruction, block.AnsweredQuestions, priorContent)

	raw, err := c.sendRequest(ctx, []Message{{Role: "system", Content: system}, {Role: "user", Content: user}}, 0.7)
	if err != nil {
		return "", fmt.Errorf("llm: write block: %w", err)
	}
	return stripLeadingHeading(raw), nil
}

func stripLeadingHeading(s string) string {
	trimmed := strings.TrimLeft(s, "\n")
	return leadingHeadingRe.ReplaceAllString(trimmed, "")
}

// ---------------------------------------------------------------------
// Op 4: link-block selection (pure, no LLM call)
// ---------------------------------------------------------------------

// LinkAssignment pairs one internal link with the block id it should land in.
type LinkAssignment struct {
	Link    models.InternalLink
	BlockID int
}

// SelectLinkBlocks assigns link descriptors to blocks by position, without
// calling the model. intro/conclusion links all land on the respective
// single block; body links go to distinct h2/h3 blocks in order; any links
// go to distinct non-h1/non-faq blocks in order.
func SelectLinkBlocks(blocks []models.Block, links []models.InternalLink) []LinkAssignment {
	var introID, conclusionID = -1, -1
	var bodyBlocks, anyBlocks []int
	for _, b := range blocks {
		switch b.Type {
		case models.BlockIntro:
			introID = b.ID
		case models.BlockConclusion:
			conclusionID = b.ID
		}
		if b.Type == models.BlockH2 || b.Type == models.BlockH3 {
			bodyBlocks = append(bodyBlocks, b.ID)
		}
		if b.Type != models.BlockH1 && b.Type != models.BlockFAQ {
			anyBlocks = append(anyBlocks, b.ID)
		}
	}

	var assignments []LinkAssignment
	bodyIdx, anyIdx := 0, 0
	for _, link := range links {
		if link.Anchorless {
			link.Anchor = link.URL
		}
		switch link.Position {
		case models.LinkPositionIntro:
			if introID >= 0 {
				assignments = append(assignments, LinkAssignment{Link: link, BlockID: introID})
			}
		case models.LinkPositionConclusion:
			if conclusionID >= 0 {
				assignments = append(assignments, LinkAssignment{Link: link, BlockID: conclusionID})
			}
		case models.LinkPositionBody:
			if bodyIdx < len(bodyBlocks) {
				assignments = append(assignments, LinkAssignment{Link: link, BlockID: bodyBlocks[bodyIdx]})
				bodyIdx++
			}
		default: // "any"
			if anyIdx < len(anyBlocks) {
				assignments = append(assignments, LinkAssignment{Link: link, BlockID: anyBlocks[anyIdx]})
				anyIdx++
			}
		}
	}
	return assignments
}

// ---------------------------------------------------------------------
// Op 5: link insertion
// ---------------------------------------------------------------------

var markdownLinkRe = regexp.MustCompile(`\[([^\]]*)\]\(([^)]+)\)`)

// InsertLinks rewrites a block's rendered content to incorporate the given
// links verbatim, force-appending any link the model's rewrite omitted.
func (c *Client) InsertLinks(ctx context.Context, content string, links []models.InternalLink) (string, error) {
	if len(links) == 0 {
		return content, nil
	}
	linksJSON, err := json.Marshal(links)
	if err != nil {
		return "", fmt.Errorf("llm: encode links: %w", err)
	}
	system := "You are an editor weaving internal links into existing article content. Respond with the rewritten content only."
	user := fmt.Sprintf(
		"Rewrite the following content to naturally incorporate these internal links, using the exact "+
			"anchor text and URL for each as a markdown link [anchor](url). Do not alter content otherwise.\n"+
			"Links: %s\nContent:\n%s", string(linksJSON), content)

	raw, err := c.sendRequest(ctx, []Message{{Role: "system", Content: system}, {Role: "user", Content: user}}, 0.3)
	if err != nil {
		return "", fmt.Errorf("llm: insert links: %w", err)
	}
	return forceAppendMissingLinks(raw, links), nil
}

func forceAppendMissingLinks(text string, links []models.InternalLink) string {
	for _, link := range links {
		if !containsURL(text, link.URL) {
			anchor := link.Anchor
			if anchor == "" {
				anchor = link.URL
			}
			text = strings.TrimRight(text, "\n") + fmt.Sprintf("\n\n[%s](%s)\n", anchor, link.URL)
		}
	}
	return text
}

func containsURL(text, url string) bool {
	withSlash := strings.TrimRight(url, "/") + "/"
	withoutSlash := strings.TrimRight(url, "/")
	return strings.Contains(text, withSlash) || strings.Contains(text, withoutSlash)
}

// extractMarkdownLinks returns every markdown link URL present in text.
func extractMarkdownLinks(text string) []string {
	matches := markdownLinkRe.FindAllStringSubmatch(text, -1)
	urls := make([]string, 0, len(matches))
	for _, m := range matches {
		urls = append(urls, m[2])
	}
	return urls
}

// ---------------------------------------------------------------------
// Op 6: quality review
// ---------------------------------------------------------------------

// ReviewIssue is one quality-review finding against a block.
type ReviewIssue struct {
	BlockID    int      `json:"blockId"`
	Issues     []string `json:"issues"`
	Suggestion string   `json:"suggestion"`
}

// ReviewArticle requests a quality pass over the assembled article,
// padding the result to at least three tasks against randomly chosen
// non-h1 blocks if the model returns fewer than two; when there are fewer
// non-h1 blocks than that, padding stops once each of them has a task.
func (c *Client) ReviewArticle(ctx context.Context, article string, blocks []models.Block) ([]ReviewIssue, error) {
	system := "You are a strict content quality reviewer. Respond with a JSON array of {blockId, issues, suggestion} only."
	user := fmt.Sprintf("Review this article for clarity, accuracy and SEO quality. Article:\n%s", article)

	raw, err := c.sendRequest(ctx, []Message{{Role: "system", Content: system}, {Role: "user", Content: user}}, 0.3)
	if err != nil {
		return nil, fmt.Errorf("llm: review article: %w", err)
	}
	var issues []ReviewIssue
	if err := decodeJSON(raw, &issues); err != nil {
		return nil, fmt.Errorf("llm: parse review: %w", err)
	}
	if len(issues) < 2 {
		issues = padReviewIssues(issues, blocks)
	}
	return issues, nil
}

func padReviewIssues(issues []ReviewIssue, blocks []models.Block) []ReviewIssue {
	var contentBlocks []int
	for _, b := range blocks {
		if b.Type != models.BlockH1 {
			contentBlocks = append(contentBlocks, b.ID)
		}
	}
	if len(contentBlocks) == 0 {
		return issues
	}
	used := map[int]bool{}
	for _, it := range issues {
		used[it.BlockID] = true
	}
	var unused []int
	for _, id := range contentBlocks {
		if !used[id] {
			unused = append(unused, id)
		}
	}
	target := 3
	if len(issues)+len(unused) < target {
		target = len(issues) + len(unused)
	}
	for len(issues) < target {
		i := rand.Intn(len(unused))
		candidate := unused[i]
		unused = append(unused[:i], unused[i+1:]...)
		issues = append(issues, ReviewIssue{
			BlockID:    candidate,
			Issues:     []string{"needs clarity and detail pass"},
			Suggestion: "Expand with more specific, concrete detail.",
		})
	}
	return issues
}

// ---------------------------------------------------------------------
// Op 7: block fix
// ---------------------------------------------------------------------

// FixBlock rewrites a block's content to address listed issues, preserving
// any markdown link present before the fix.
func (c *Client) FixBlock(ctx context.Context, content string, issues []string, suggestion string) (string, error) {
	preLinks := extractMarkdownLinks(content)

	system := "You are an editor fixing flagged issues in article content. Respond with the fixed content only."
	user := fmt.Sprintf("Issues: %v\nSuggestion: %s\nContent:\n%s", issues, suggestion, content)

	raw, err := c.sendRequest(ctx, []Message{{Role: "system", Content: system}, {Role: "user", Content: user}}, 0.4)
	if err != nil {
		return "", fmt.Errorf("llm: fix block: %w", err)
	}

	fixed := raw
	for _, link := range preLinks {
		if !containsURL(fixed, link) {
			fixed = strings.TrimRight(fixed, "\n") + fmt.Sprintf("\n\n[%s](%s)\n", link, link)
		}
	}
	return fixed, nil
}

// ---------------------------------------------------------------------
// Op 8: SEO metadata
// ---------------------------------------------------------------------

// SEOMetadata is the generated title/description pair for the finished article.
type SEOMetadata struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// GenerateSEOMetadata produces a title/description for the article,
// truncated to 60/160 characters, falling back to a generic pair on
// failure.
func (c *Client) GenerateSEOMetadata(ctx context.Context, mainKeyword, article string) SEOMetadata {
	system := "You are an SEO copywriter. Respond with JSON {\"title\":string,\"description\":string} only."
	user := fmt.Sprintf("Main keyword: %q. Write an SEO title (<=60 chars) and meta description (<=160 chars) for this article:\n%s", mainKeyword, article)

	raw, err := c.sendRequest(ctx, []Message{{Role: "system", Content: system}, {Role: "user", Content: user}}, 0.4)
	if err != nil {
		return fallbackSEOMetadata(mainKeyword)
	}
	var meta SEOMetadata
	if err := decodeJSON(raw, &meta); err != nil {
		return fallbackSEOMetadata(mainKeyword)
	}
	meta.Title = truncate(meta.Title, 60)
	meta.Description = truncate(meta.Description, 160)
	return meta
}

func fallbackSEOMetadata(mainKeyword string) SEOMetadata {
	return SEOMetadata{
		Title:       mainKeyword,
		Description: "Comprehensive guide about " + mainKeyword,
	}
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max]))
}
