package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractMainContentPicksFirstMatchingSelector(t *testing.T) {
	html := `<html><body>
<nav>skip me</nav>
<h1>Title</h1>
<h2>Sub</h2>
<article><p>Real   body   text</p></article>
<footer>skip me too</footer>
</body></html>`

	headings, body := extractMainContent(html)
	require.Equal(t, []string{"h1: Title", "h2: Sub"}, headings)
	require.Equal(t, "Real body text", body)
}

func TestExtractMainContentPreservesDocumentOrderAcrossLevels(t *testing.T) {
	html := `<html><body>
<h2>Sub first</h2>
<h1>Title second</h1>
<h3>Sub sub third</h3>
<article><p>body</p></article>
</body></html>`

	headings, _ := extractMainContent(html)
	require.Equal(t, []string{"h2: Sub first", "h1: Title second", "h3: Sub sub third"}, headings)
}

func TestExtractMainContentFallsBackToBody(t *testing.T) {
	html := `<html><body><p>just some text</p></body></html>`
	_, body := extractMainContent(html)
	require.Equal(t, "just some text", body)
}

func TestCountWords(t *testing.T) {
	require.Equal(t, 0, countWords("   "))
	require.Equal(t, 3, countWords("one two three"))
}

func TestConfigured(t *testing.T) {
	require.False(t, New("").Configured())
	require.True(t, New("key").Configured())
}

func TestSearchParsesResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{
				{"url": "https://a.example/1", "title": "A", "description": "desc a"},
				{"url": "https://a.example/2", "title": "B", "description": "desc b"},
			},
		})
	}))
	defer srv.Close()

	c := New("test-key").WithBaseURL(srv.URL)
	results, err := c.Search(context.Background(), "drills", "us", "en", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "https://a.example/1", results[0].URL)
}

func TestSearchDropsDuplicateURLsByFingerprint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{
				{"url": "https://a.example/post?utm_source=newsletter", "title": "A"},
				{"url": "https://a.example/post?utm_campaign=spring", "title": "A again"},
				{"url": "https://b.example/post", "title": "B"},
			},
		})
	}))
	defer srv.Close()

	c := New("test-key").WithBaseURL(srv.URL)
	results, err := c.Search(context.Background(), "drills", "us", "en", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "https://a.example/post?utm_source=newsletter", results[0].URL)
	require.Equal(t, "https://b.example/post", results[1].URL)
}

func TestSearchNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New("bad-key").WithBaseURL(srv.URL)
	_, err := c.Search(context.Background(), "drills", "us", "en", 5)
	require.Error(t, err)
}
