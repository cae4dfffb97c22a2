package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Makar0n1/art-automation/models"
)

func TestSelectLinkBlocksAssignsByPosition(t *testing.T) {
	blocks := []models.Block{
		{ID: 0, Type: models.BlockH1},
		{ID: 1, Type: models.BlockIntro},
		{ID: 2, Type: models.BlockH2},
		{ID: 3, Type: models.BlockH2},
		{ID: 4, Type: models.BlockFAQ},
		{ID: 5, Type: models.BlockConclusion},
	}
	links := []models.InternalLink{
		{URL: "https://a.example", Position: models.LinkPositionIntro},
		{URL: "https://b.example", Position: models.LinkPositionBody},
		{URL: "https://c.example", Position: models.LinkPositionBody},
		{URL: "https://d.example", Position: models.LinkPositionConclusion},
		{URL: "https://e.example", Anchorless: true, Position: models.LinkPositionAny},
	}

	got := SelectLinkBlocks(blocks, links)
	require.Len(t, got, 5)
	require.Equal(t, 1, got[0].BlockID) // intro
	require.Equal(t, 2, got[1].BlockID) // first h2
	require.Equal(t, 3, got[2].BlockID) // second h2
	require.Equal(t, 5, got[3].BlockID) // conclusion
	require.Equal(t, "https://e.example", got[4].Link.Anchor)
}

func TestSelectLinkBlocksDropsBodyLinksWhenNoBodyBlocks(t *testing.T) {
	blocks := []models.Block{{ID: 0, Type: models.BlockH1}, {ID: 1, Type: models.BlockIntro}}
	links := []models.InternalLink{{URL: "https://a.example", Position: models.LinkPositionBody}}
	got := SelectLinkBlocks(blocks, links)
	require.Empty(t, got)
}

func TestContainsURLIgnoresTrailingSlash(t *testing.T) {
	require.True(t, containsURL("see [x](https://a.example/page/)", "https://a.example/page"))
	require.True(t, containsURL("see [x](https://a.example/page)", "https://a.example/page/"))
	require.False(t, containsURL("nothing here", "https://a.example/page"))
}

func TestForceAppendMissingLinks(t *testing.T) {
	links := []models.InternalLink{
		{URL: "https://a.example", Anchor: "A"},
		{URL: "https://b.example", Anchor: "B"},
	}
	text := "Some content mentioning [A](https://a.example)."
	out := forceAppendMissingLinks(text, links)
	require.Contains(t, out, "[A](https://a.example)")
	require.Contains(t, out, "[B](https://b.example)")
}

func TestExtractMarkdownLinks(t *testing.T) {
	got := extractMarkdownLinks("[one](https://a.example) and [two](https://b.example)")
	require.Equal(t, []string{"https://a.example", "https://b.example"}, got)
}

func TestStripLeadingHeading(t *testing.T) {
	require.Equal(t, "Body text here.", stripLeadingHeading("## Heading\nBody text here."))
	require.Equal(t, "No heading here.", stripLeadingHeading("No heading here."))
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "short", truncate("short", 60))
	require.Len(t, truncate("this is a very long string that exceeds the limit by quite a lot of characters", 20), 20)
}

func TestPadReviewIssuesReachesThree(t *testing.T) {
	blocks := []models.Block{
		{ID: 0, Type: models.BlockH1},
		{ID: 1, Type: models.BlockIntro},
		{ID: 2, Type: models.BlockH2},
		{ID: 3, Type: models.BlockConclusion},
	}
	padded := padReviewIssues([]ReviewIssue{{BlockID: 1, Issues: []string{"x"}}}, blocks)
	require.GreaterOrEqual(t, len(padded), 3)
}

func TestPadReviewIssuesTerminatesWhenFewerThanThreeContentBlocks(t *testing.T) {
	blocks := []models.Block{
		{ID: 0, Type: models.BlockH1},
		{ID: 1, Type: models.BlockIntro},
	}
	padded := padReviewIssues(nil, blocks)
	require.Len(t, padded, 1)
}

func TestSendRequestAccumulatesUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": "hello"}}},
			"usage":   map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
	defer srv.Close()

	c := New("key", "model").WithBaseURL(srv.URL)
	content, err := c.sendRequest(context.Background(), []Message{{Role: "user", Content: "hi"}}, 0.5)
	require.NoError(t, err)
	require.Equal(t, "hello", content)

	usage := c.GetTokenUsage(false)
	require.Equal(t, 15, usage.TotalTokens)

	reset := c.GetTokenUsage(true)
	require.Equal(t, 15, reset.TotalTokens)
	require.Equal(t, 0, c.GetTokenUsage(false).TotalTokens)
}

func TestAnalyzeStructureStripsQuestionsFromConclusion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		content, _ := json.Marshal(map[string]any{
			"averageWordCount": 1500,
			"commonPatterns":   []string{},
			"strengths":        []string{},
			"weaknesses":       []string{},
			"recommendedStructure": []map[string]any{
				{"type": "h1", "heading": "Title", "questions": []string{"should be dropped"}},
				{"type": "intro", "questions": []string{"should be dropped"}},
				{"type": "h2", "heading": "Body", "questions": []string{"kept"}},
				{"type": "faq", "questions": []string{"should be dropped"}},
				{"type": "conclusion", "questions": []string{"should be dropped too"}},
			},
		})
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": string(content)}}},
		})
	}))
	defer srv.Close()

	c := New("key", "model").WithBaseURL(srv.URL)
	analysis, err := c.AnalyzeStructure(context.Background(), "drills", "en", nil, nil, nil, models.ArticleTypeInformational, "")
	require.NoError(t, err)

	for _, b := range analysis.RecommendedStructure {
		if b.Type == models.BlockConclusion || b.Type == models.BlockH1 || b.Type == models.BlockIntro || b.Type == models.BlockFAQ {
			require.Empty(t, b.Questions, "block type %s must not carry questions", b.Type)
		}
	}
}

func TestGenerateSEOMetadataFallsBackOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New("key", "model").WithBaseURL(srv.URL)
	meta := c.GenerateSEOMetadata(context.Background(), "best drills", "")
	require.Equal(t, "best drills", meta.Title)
	require.Equal(t, "Comprehensive guide about best drills", meta.Description)
}
