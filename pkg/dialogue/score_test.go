package dialogue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScoreExpansion_GoodExpansionScoresHigh(t *testing.T) {
	original := "what about TSLA?"
	expanded := "What is the revenue growth of TSLA over the last five years?"
	contextText := "User: What is the revenue growth of AAPL over the last five years?\nAnalysis: revenue grew 8% annually"

	score := ScoreExpansion(original, expanded, contextText)
	assert.GreaterOrEqual(t, score, 0.8)
	assert.LessOrEqual(t, score, 1.0)
}

func TestScoreExpansion_UnchangedQueryScoresLow(t *testing.T) {
	original := "what about TSLA?"
	score := ScoreExpansion(original, original, "")
	assert.Less(t, score, 0.6)
}

func TestScoreExpansion_DroppedTickerPenalized(t *testing.T) {
	original := "compare AAPL and MSFT"
	kept := "What is the price difference between AAPL and MSFT today?"
	dropped := "What is the price difference between AAPL and Microsoft today?"

	ctxText := "User: compare AAPL and MSFT\nAnalysis: AAPL ahead on margins"
	assert.Greater(t,
		ScoreExpansion(original, kept, ctxText),
		ScoreExpansion(original, dropped, ctxText))
}

func TestScoreExpansion_Clamped(t *testing.T) {
	for _, pair := range [][2]string{
		{"", ""},
		{"q", "a very long expanded question about AAPL MSFT NVDA with context words?"},
	} {
		score := ScoreExpansion(pair[0], pair[1], "context words about AAPL MSFT NVDA question")
		assert.GreaterOrEqual(t, score, 0.0)
		assert.LessOrEqual(t, score, 1.0)
	}
}

func TestContextOverlap(t *testing.T) {
	assert.Equal(t, 0.0, contextOverlap([]string{"revenue"}, ""))
	assert.Equal(t, 0.0, contextOverlap(nil, "context"))

	// Full overlap saturates at 1.
	words := []string{"revenue", "growth", "apple"}
	assert.Equal(t, 1.0, contextOverlap(words, "the revenue growth of apple"))
}
