package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeBlockContentUnwrapsFence(t *testing.T) {
	raw := "```markdown\nActual body text.\n```"
	require.Equal(t, "Actual body text.", sanitizeBlockContent(raw))
}

func TestSanitizeBlockContentStripsScriptTags(t *testing.T) {
	raw := "Safe text<script>alert(1)</script> more text"
	got := sanitizeBlockContent(raw)
	require.NotContains(t, got, "<script>")
	require.Contains(t, got, "Safe text")
	require.Contains(t, got, "more text")
}

func TestSanitizeBlockContentLeavesPlainMarkdownAlone(t *testing.T) {
	raw := "**Bold** and a [link](https://example.com)."
	require.Equal(t, raw, sanitizeBlockContent(raw))
}
