package mcp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
}

func TestTruncateForStorage_ShortContentUntouched(t *testing.T) {
	content := "AAPL closed at 231.10"
	assert.Equal(t, content, TruncateForStorage(content))
}

func TestTruncateForStorage_LongContentCutAtLineBoundary(t *testing.T) {
	line := strings.Repeat("x", 100) + "\n"
	content := strings.Repeat(line, 1000) // ~101KB, over the 32KB limit

	got := TruncateForStorage(content)
	assert.Less(t, len(got), len(content))
	assert.Contains(t, got, "[TRUNCATED:")

	// The cut lands on a line boundary, not mid-line.
	body := got[:strings.Index(got, "\n\n[TRUNCATED:")]
	for _, l := range strings.Split(body, "\n") {
		assert.LessOrEqual(t, len(l), 100)
	}
}

func TestTruncateAtLineBoundary_MultiByteSafe(t *testing.T) {
	content := strings.Repeat("é", 50)
	got := truncateAtLineBoundary(content, 21, "limit")
	prefix := got[:strings.Index(got, "\n\n[TRUNCATED:")]
	// No partial rune at the cut point.
	assert.True(t, len(prefix)%2 == 0)
}
