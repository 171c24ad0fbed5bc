package dialogue

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight-ai/finsight/pkg/llm"
	"github.com/finsight-ai/finsight/pkg/session"
)

func newService(steps ...llm.ScriptStep) (*Service, *llm.ScriptedProvider) {
	provider := llm.NewScriptedProvider(steps...)
	svc := llm.NewService(provider, "claude-sonnet-4-5")
	return NewService(svc, "claude-haiku-4-5"), provider
}

func TestClassify_LLMPath(t *testing.T) {
	tests := []struct {
		name     string
		token    string
		wantType session.QueryType
	}{
		{"standalone", "A", session.QueryStandalone},
		{"contextual", "B", session.QueryContextual},
		{"comparative", "C", session.QueryComparative},
		{"parameter", "D", session.QueryParameter},
		{"lowercase accepted", "b", session.QueryContextual},
		{"whitespace trimmed", " C \n", session.QueryComparative},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, provider := newService(llm.RespondWith(tt.token))
			c := svc.Classify(context.Background(), "what about TSLA?", "revenue of AAPL?")
			assert.Equal(t, tt.wantType, c.Type)
			assert.Equal(t, MethodLLM, c.Method)
			assert.Greater(t, c.Confidence, heuristicConfidenceCap)

			// The dedicated context model handles classification.
			reqs := provider.Requests()
			require.Len(t, reqs, 1)
			assert.Equal(t, "claude-haiku-4-5", reqs[0].Model)
			assert.InDelta(t, classifierTemperature, reqs[0].Temperature, 1e-9)
		})
	}
}

func TestClassify_FirstTurnAlphabet(t *testing.T) {
	// First turn: C and D are out of alphabet and fall back to patterns.
	svc, _ := newService(llm.RespondWith("C"))
	c := svc.Classify(context.Background(), "compare AAPL and MSFT", "")
	assert.Equal(t, MethodHeuristic, c.Method)
	assert.Equal(t, session.QueryComparative, c.Type)

	svc, _ = newService(llm.RespondWith("B"))
	c = svc.Classify(context.Background(), "and the margins?", "")
	assert.Equal(t, MethodLLM, c.Method)
	assert.Equal(t, session.QueryContextual, c.Type)
}

func TestClassify_OutOfAlphabetFallsBack(t *testing.T) {
	svc, _ := newService(llm.RespondWith("The question is contextual."))
	c := svc.Classify(context.Background(), "what about TSLA?", "revenue of AAPL?")
	assert.Equal(t, MethodHeuristic, c.Method)
	assert.LessOrEqual(t, c.Confidence, heuristicConfidenceCap)
}

func TestClassify_LLMErrorFallsBack(t *testing.T) {
	svc, _ := newService(llm.FailWith(errors.New("provider down")))
	c := svc.Classify(context.Background(), "compare NVDA against AMD", "q")
	assert.Equal(t, MethodHeuristic, c.Method)
	assert.Equal(t, session.QueryComparative, c.Type)
}

func TestClassifyHeuristic(t *testing.T) {
	tests := []struct {
		query string
		want  session.QueryType
	}{
		{"compare AAPL and MSFT over five years", session.QueryComparative},
		{"is NVDA better than AMD this quarter", session.QueryComparative},
		{"what about the dividend yield then", session.QueryContextual},
		{"run the same analysis but for TSLA please", session.QueryParameter},
		{"what was the revenue growth of Apple last year", session.QueryStandalone},
		{"and TSLA?", session.QueryContextual}, // very short
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			c := classifyHeuristic(tt.query)
			assert.Equal(t, tt.want, c.Type)
			assert.LessOrEqual(t, c.Confidence, heuristicConfidenceCap)
		})
	}
}

func TestExpand_TrimsAtFirstQuestionMark(t *testing.T) {
	svc, provider := newService(llm.RespondWith(
		"What is the dividend yield of TSLA? Let me know if you need more."))

	expanded, err := svc.Expand(context.Background(), "what about TSLA?", "User: dividend yield of AAPL\nAnalysis: 0.5%")
	require.NoError(t, err)
	assert.Equal(t, "What is the dividend yield of TSLA?", expanded)

	reqs := provider.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Messages[0].Content, "dividend yield of AAPL")
}

func TestExpand_EmptyResponseIsError(t *testing.T) {
	svc, _ := newService(llm.RespondWith("   "))
	_, err := svc.Expand(context.Background(), "q", "ctx")
	require.Error(t, err)
}

func TestBuildContextText_LastThreeTurns(t *testing.T) {
	turns := []session.ConversationTurn{
		{UserQuery: "q1", AnalysisSummary: "s1", Timestamp: time.Now()},
		{UserQuery: "q2", AnalysisSummary: "s2"},
		{UserQuery: "q3", ExpandedQuery: "expanded q3", AnalysisSummary: "s3"},
		{UserQuery: "q4"},
	}

	text := BuildContextText(turns)
	assert.NotContains(t, text, "q1")
	assert.Contains(t, text, "User: q2\nAnalysis: s2")
	assert.Contains(t, text, "User: expanded q3\nAnalysis: s3")
	assert.Contains(t, text, "(no summary recorded)")
	assert.Equal(t, 2, strings.Count(text, "\n---\n"))
}
