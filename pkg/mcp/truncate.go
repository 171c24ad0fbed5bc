package mcp

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// charsPerToken is the approximate number of characters per token for English
// text. Used for threshold estimation only, not exact token counting.
const charsPerToken = 4

// DefaultStorageMaxTokens caps tool output persisted with analysis records,
// protecting history readers from massive text blobs.
const DefaultStorageMaxTokens = 8000

// EstimateTokens returns an approximate token count for the given text using
// the ~4 characters per token heuristic. len(text) counts bytes, so
// multi-byte UTF-8 content overestimates slightly; truncation triggering a
// little early is the safe direction.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// TruncateForStorage truncates tool output before it is persisted with a
// recorded analysis. Applied to all raw results.
func TruncateForStorage(content string) string {
	return truncateAtLineBoundary(content, DefaultStorageMaxTokens*charsPerToken,
		"Output exceeded storage display limit")
}

// truncateAtLineBoundary cuts at the last newline before the limit to avoid
// splitting mid-line, which matters when the content is indented JSON, YAML,
// or tabular output. maxChars is a byte limit; the cut point backs up past
// any partial multi-byte UTF-8 character first.
func truncateAtLineBoundary(content string, maxChars int, marker string) string {
	if maxChars <= 0 || len(content) <= maxChars {
		return content
	}
	cut := maxChars
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	truncated := content[:cut]
	if idx := strings.LastIndex(truncated, "\n"); idx > 0 {
		truncated = truncated[:idx]
	}
	return truncated + fmt.Sprintf(
		"\n\n[TRUNCATED: %s — Original size: %s, limit: %s]",
		marker, formatSize(len(content)), formatSize(maxChars),
	)
}

// formatSize returns a human-readable size string. Uses bytes for values
// under 1KB to avoid confusing "0KB" output on small content.
func formatSize(bytes int) string {
	if bytes < 1024 {
		return fmt.Sprintf("%dB", bytes)
	}
	return fmt.Sprintf("%dKB", bytes/1024)
}
