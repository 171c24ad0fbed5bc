package dialogue

import (
	"regexp"
	"strings"
)

// tickerRegex matches asset ticker symbols like AAPL, MSFT, BRK.
var tickerRegex = regexp.MustCompile(`\b[A-Z]{2,5}\b`)

var questionWords = map[string]bool{
	"what": true, "which": true, "how": true, "when": true, "where": true,
	"why": true, "who": true, "is": true, "are": true, "does": true,
	"do": true, "did": true, "can": true, "should": true, "compare": true,
}

// ScoreExpansion rates how trustworthy an expansion is, composed of
// expansion quality (question form, word growth, delta from the original),
// asset-ticker clarity, and lexical overlap with the conversation context.
// The result is clamped to [0, 1].
func ScoreExpansion(original, expanded, contextText string) float64 {
	score := 0.0

	// Question form: a proper standalone question reads as one.
	trimmed := strings.TrimSpace(expanded)
	lowerWords := strings.Fields(strings.ToLower(trimmed))
	if strings.HasSuffix(trimmed, "?") {
		score += 0.15
	}
	if len(lowerWords) > 0 && questionWords[lowerWords[0]] {
		score += 0.15
	}

	// Word growth: expansions resolve references, so they grow.
	origCount := len(strings.Fields(original))
	expCount := len(lowerWords)
	if expCount > origCount {
		score += 0.2
	} else if expCount == origCount {
		score += 0.05
	}

	// Delta: an unchanged query carries no new information.
	if !strings.EqualFold(strings.TrimSpace(original), trimmed) {
		score += 0.1
	}

	// Ticker clarity: the expansion should preserve the original's tickers
	// and usually names at least one.
	origTickers := tickerSet(original)
	expTickers := tickerSet(expanded)
	if len(expTickers) > 0 {
		preserved := true
		for t := range origTickers {
			if !expTickers[t] {
				preserved = false
				break
			}
		}
		if preserved {
			score += 0.2
		} else {
			score += 0.05
		}
	}

	// Context utilization: overlap between expansion words and the context.
	score += 0.2 * contextOverlap(lowerWords, contextText)

	return clamp01(score)
}

func tickerSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range tickerRegex.FindAllString(text, -1) {
		set[t] = true
	}
	return set
}

// contextOverlap is the fraction of expansion words (len > 3, to skip
// stopwords) that appear in the context text, scaled so modest overlap
// already counts as full utilization.
func contextOverlap(expandedWords []string, contextText string) float64 {
	if contextText == "" || len(expandedWords) == 0 {
		return 0
	}
	contextLower := strings.ToLower(contextText)
	considered, matched := 0, 0
	for _, w := range expandedWords {
		w = strings.Trim(w, "?.,!:;\"'")
		if len(w) <= 3 {
			continue
		}
		considered++
		if strings.Contains(contextLower, w) {
			matched++
		}
	}
	if considered == 0 {
		return 0
	}
	ratio := float64(matched) / float64(considered)
	return clamp01(ratio * 3)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
