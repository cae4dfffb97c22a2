package vector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStripStopWordsKeepsOnlyLongContentTokens(t *testing.T) {
	got := stripStopWords("What is the best cordless drill for beginners?")
	require.Equal(t, "best cordless drill beginners", got)
}

func TestStripStopWordsHandlesRussianAndGerman(t *testing.T) {
	require.NotContains(t, stripStopWords("Что такое лучшая дрель для новичков"), "такое")
	require.NotContains(t, stripStopWords("Was ist der beste Akkuschrauber für Anfänger"), "der")
}

func TestFindAnswerFallsBackToRawQuestionWhenResidualTooShort(t *testing.T) {
	var capturedQuery string
	embedSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		capturedQuery = req.Input[0]
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{0.1, 0.2}}},
		})
	}))
	defer embedSrv.Close()

	storeSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]Match{
			{Content: "a cordless drill guide", Metadata: map[string]interface{}{"URL": "https://a.example"}, Similarity: 0.9},
		})
	}))
	defer storeSrv.Close()

	c := New("key", "embed-model", storeSrv.URL, "store-key").WithEmbedURL(embedSrv.URL)
	answer, err := c.FindAnswer(context.Background(), "is it")
	require.NoError(t, err)
	require.Equal(t, "is it", capturedQuery)
	require.NotNil(t, answer)
	require.Equal(t, "https://a.example", answer.Source)
}

func TestFindAnswerReturnsNilWithoutMatches(t *testing.T) {
	embedSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{0.1, 0.2}}},
		})
	}))
	defer embedSrv.Close()

	storeSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]Match{})
	}))
	defer storeSrv.Close()

	c := New("key", "embed-model", storeSrv.URL, "store-key").WithEmbedURL(embedSrv.URL)
	answer, err := c.FindAnswer(context.Background(), "what is the best cordless drill for beginners")
	require.NoError(t, err)
	require.Nil(t, answer)
}

func TestMatchDocumentsFiltersBelowThreshold(t *testing.T) {
	storeSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]Match{
			{Content: "high", Similarity: 0.9},
			{Content: "low", Similarity: 0.1},
		})
	}))
	defer storeSrv.Close()

	c := New("key", "model", storeSrv.URL, "store-key")
	matches, err := c.MatchDocuments(context.Background(), []float32{0.1}, 5, 0.5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "high", matches[0].Content)
}
