// Package vector implements the vector-similarity client (C4.3): a single
// embedding call plus a Supabase-pgvector-shaped match_documents RPC, and
// the findAnswer convenience built on top of both.
package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	defaultEmbedURL = "https://openrouter.ai/api/v1/embeddings"
	findAnswerK     = 5
	findAnswerFloor = 0.55
	maxAnswerChars  = 1000
	minResidualLen  = 6
)

// Client is a vector-similarity client: embeddings go through the chat
// provider's embedding endpoint; matches are resolved against a
// pgvector-backed store (Supabase RPC shaped).
type Client struct {
	embedAPIKey string
	embedModel  string
	embedURL    string

	storeBaseURL string
	storeAPIKey  string

	httpClient *http.Client
}

// New builds a Client. embedAPIKey/embedModel drive the embedding call;
// storeBaseURL/storeAPIKey address the pgvector-backed document store.
func New(embedAPIKey, embedModel, storeBaseURL, storeAPIKey string) *Client {
	return &Client{
		embedAPIKey:  embedAPIKey,
		embedModel:   embedModel,
		embedURL:     defaultEmbedURL,
		storeBaseURL: storeBaseURL,
		storeAPIKey:  storeAPIKey,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// WithEmbedURL overrides the embedding endpoint, used by tests.
func (c *Client) WithEmbedURL(url string) *Client {
	c.embedURL = url
	return c
}

// WithStoreBaseURL overrides the document-store endpoint, used by tests.
func (c *Client) WithStoreBaseURL(url string) *Client {
	c.storeBaseURL = url
	return c
}

// Configured reports whether both credentials needed for a full
// embed+match round trip are present.
func (c *Client) Configured() bool {
	return c.embedAPIKey != "" && c.storeBaseURL != ""
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns a single embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: c.embedModel, Input: []string{text}})
	if err != nil {
		return nil, fmt.Errorf("vector: encode embed request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.embedURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("vector: build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.embedAPIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vector: embed request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vector: embed provider returned status %d", resp.StatusCode)
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("vector: decode embed response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("vector: embed response had no vectors")
	}
	return parsed.Data[0].Embedding, nil
}

// Match is one matched document from the vector store.
type Match struct {
	Content    string                 `json:"content"`
	Metadata   map[string]interface{} `json:"metadata"`
	Similarity float64                 `json:"similarity"`
}

type matchRequest struct {
	QueryEmbedding []float32 `json:"query_embedding"`
	MatchCount     int       `json:"match_count"`
	MatchThreshold float64   `json:"match_threshold"`
}

// MatchDocuments queries the document store for the k nearest neighbours
// of vec with similarity at or above minSimilarity.
func (c *Client) MatchDocuments(ctx context.Context, vec []float32, k int, minSimilarity float64) ([]Match, error) {
	body, err := json.Marshal(matchRequest{QueryEmbedding: vec, MatchCount: k, MatchThreshold: minSimilarity})
	if err != nil {
		return nil, fmt.Errorf("vector: encode match request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.storeBaseURL+"/rest/v1/rpc/match_documents", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("vector: build match request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.storeAPIKey)
	req.Header.Set("apikey", c.storeAPIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vector: match request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vector: store returned status %d", resp.StatusCode)
	}

	var matches []Match
	if err := json.NewDecoder(resp.Body).Decode(&matches); err != nil {
		return nil, fmt.Errorf("vector: decode match response: %w", err)
	}
	out := matches[:0]
	for _, m := range matches {
		if m.Similarity >= minSimilarity {
			out = append(out, m)
		}
	}
	return out, nil
}

// Answer is a resolved research-question answer.
type Answer struct {
	Question   string  `json:"question"`
	Answer     string  `json:"answer"`
	Source     string  `json:"source"`
	Similarity float64 `json:"similarity"`
}

var punctuationRe = regexp.MustCompile(`[^\p{L}\p{N}\s]`)

// stopWords spans English, Russian and German, the languages findAnswer's
// stop-word stripping needs to cover.
var stopWords = buildStopWords(
	// English
	"a an the what is are was were be been being of to in on at for with and or but "+
		"if then so as this that these those it its i you he she they we",
	// Russian
	"и в во не что такое он на я с со как а то все она так его но да ты к у же вы за "+
		"бы по только ее мне было вот от меня еще нет о из ему теперь когда",
	// German
	"der die das und ist sind war waren ein eine zu in auf für mit oder aber "+
		"wenn dann so als dies diese diejenigen es ich du er sie wir",
)

func buildStopWords(lists ...string) map[string]bool {
	set := map[string]bool{}
	for _, list := range lists {
		for _, w := range strings.Fields(list) {
			set[w] = true
		}
	}
	return set
}

func stripStopWords(question string) string {
	lowered := strings.ToLower(question)
	noPunct := punctuationRe.ReplaceAllString(lowered, "")
	var kept []string
	for _, tok := range strings.Fields(noPunct) {
		if len(tok) <= 2 || stopWords[tok] {
			continue
		}
		kept = append(kept, tok)
	}
	return strings.Join(kept, " ")
}

// FindAnswer resolves question against the document store: strips
// stop-words and short tokens, falls back to the raw question if what's
// left is too short, embeds the residual query, and returns the top match
// at or above the similarity floor, truncated to 1000 characters.
func (c *Client) FindAnswer(ctx context.Context, question string) (*Answer, error) {
	query := stripStopWords(question)
	if len(query) < minResidualLen {
		query = question
	}

	vec, err := c.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("vector: find answer embed: %w", err)
	}
	matches, err := c.MatchDocuments(ctx, vec, findAnswerK, findAnswerFloor)
	if err != nil {
		return nil, fmt.Errorf("vector: find answer match: %w", err)
	}
	if len(matches) == 0 {
		return nil, nil
	}

	top := matches[0]
	answer := top.Content
	if runes := []rune(answer); len(runes) > maxAnswerChars {
		answer = string(runes[:maxAnswerChars]) + "..."
	}
	source, _ := top.Metadata["URL"].(string)
	return &Answer{Question: question, Answer: answer, Source: source, Similarity: top.Similarity}, nil
}

// Ping performs a cheap authenticated call to validate the stored
// credential: one embedding call for the string "ping". The document
// store is not contacted.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Embed(ctx, "ping")
	return err
}
