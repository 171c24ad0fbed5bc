package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight-ai/finsight/pkg/config"
	"github.com/finsight-ai/finsight/pkg/dialogue"
	"github.com/finsight-ai/finsight/pkg/llm"
	"github.com/finsight-ai/finsight/pkg/session"
)

type stubLibrary struct {
	queries    []string
	topK       int
	threshold  float64
	candidates []AnalysisCandidate
	err        error
}

func (l *stubLibrary) SearchSimilar(_ context.Context, query string, topK int, threshold float64) ([]AnalysisCandidate, error) {
	l.queries = append(l.queries, query)
	l.topK = topK
	l.threshold = threshold
	if l.err != nil {
		return nil, l.err
	}
	return l.candidates, nil
}

func newSearch(steps ...llm.ScriptStep) (*ContextAwareSearch, *session.Manager, *stubLibrary) {
	opts := config.LoadOptions()
	provider := llm.NewScriptedProvider(steps...)
	dlg := dialogue.NewService(llm.NewService(provider, opts.DefaultModel), opts.ContextModel)
	sessions := session.NewManager(opts.SessionTTL, opts.SessionHistoryWindow, opts.SessionMax)
	library := &stubLibrary{candidates: []AnalysisCandidate{
		{FunctionName: "analyze_revenue_growth", Similarity: 0.91, ScriptPath: "scripts/analyze_revenue_growth.py"},
	}}
	return New(sessions, dlg, library, nil, opts), sessions, library
}

func seedTurn(sessions *session.Manager, userQuery, summary string) string {
	sess := sessions.Create()
	sessions.AppendTurn(sess.ID, session.ConversationTurn{
		UserQuery:       userQuery,
		QueryType:       session.QueryStandalone,
		AnalysisSummary: summary,
	})
	return sess.ID
}

func TestSearch_StandaloneProceeds(t *testing.T) {
	svc, sessions, library := newSearch(llm.RespondWith("A"))

	outcome, err := svc.Search(context.Background(), "", "What was the revenue growth of Apple last year?", false)
	require.NoError(t, err)

	assert.Equal(t, DispositionProceed, outcome.Disposition)
	assert.Equal(t, session.QueryStandalone, outcome.QueryType)
	assert.False(t, outcome.ContextUsed)
	assert.Len(t, outcome.Candidates, 1)
	assert.Equal(t, []string{"What was the revenue growth of Apple last year?"}, library.queries)
	assert.Equal(t, 5, library.topK)
	assert.InDelta(t, 0.3, library.threshold, 1e-9)

	// The turn is recorded against the freshly created session.
	sess := sessions.Get(outcome.SessionID)
	require.NotNil(t, sess)
	require.Len(t, sess.Turns, 1)
	assert.Equal(t, "What was the revenue growth of Apple last year?", sess.Turns[0].UserQuery)
	assert.False(t, sess.Turns[0].ContextUsed)
}

func TestSearch_ContextualWithoutHistoryAsksClarification(t *testing.T) {
	svc, sessions, library := newSearch(llm.RespondWith("B"))

	outcome, err := svc.Search(context.Background(), "", "and the margins?", false)
	require.NoError(t, err)

	assert.Equal(t, DispositionNeedsClarification, outcome.Disposition)
	assert.Empty(t, library.queries)
	sess := sessions.Get(outcome.SessionID)
	require.NotNil(t, sess)
	assert.Empty(t, sess.Turns)
}

func TestSearch_ContextualHighConfidenceProceeds(t *testing.T) {
	svc, sessions, library := newSearch(
		llm.RespondWith("B"),
		llm.RespondWith("What is the revenue growth of TSLA over the last five years?"))
	id := seedTurn(sessions, "What is the revenue growth of AAPL over the last five years?", "revenue grew 8% annually")

	outcome, err := svc.Search(context.Background(), id, "what about TSLA?", false)
	require.NoError(t, err)

	assert.Equal(t, DispositionProceed, outcome.Disposition)
	assert.True(t, outcome.ContextUsed)
	assert.GreaterOrEqual(t, outcome.Confidence, 0.8)
	assert.Equal(t, "What is the revenue growth of TSLA over the last five years?", outcome.Query)
	assert.Equal(t, []string{"What is the revenue growth of TSLA over the last five years?"}, library.queries)

	sess := sessions.Get(id)
	require.Len(t, sess.Turns, 2)
	assert.Equal(t, "what about TSLA?", sess.Turns[1].UserQuery)
	assert.Equal(t, "What is the revenue growth of TSLA over the last five years?", sess.Turns[1].ExpandedQuery)
}

func TestSearch_MidConfidenceNeedsConfirmation(t *testing.T) {
	svc, sessions, library := newSearch(
		llm.RespondWith("B"),
		llm.RespondWith("What about margins then?"))
	id := seedTurn(sessions, "What is the revenue growth of AAPL?", "grew 8% annually")

	outcome, err := svc.Search(context.Background(), id, "and the margins?", false)
	require.NoError(t, err)

	assert.Equal(t, DispositionNeedsConfirmation, outcome.Disposition)
	assert.Equal(t, "and the margins?", outcome.Original)
	assert.Equal(t, "What about margins then?", outcome.Expanded)
	assert.GreaterOrEqual(t, outcome.Confidence, 0.5)
	assert.Less(t, outcome.Confidence, 0.8)
	assert.Equal(t, []string{"yes", "no", "clarify"}, outcome.Options)

	// No search, no turn until the user confirms.
	assert.Empty(t, library.queries)
	assert.Len(t, sessions.Get(id).Turns, 1)
}

func TestSearch_MidConfidenceAutoExpandProceeds(t *testing.T) {
	svc, sessions, library := newSearch(
		llm.RespondWith("B"),
		llm.RespondWith("What about margins then?"))
	id := seedTurn(sessions, "What is the revenue growth of AAPL?", "grew 8% annually")

	outcome, err := svc.Search(context.Background(), id, "and the margins?", true)
	require.NoError(t, err)

	assert.Equal(t, DispositionProceed, outcome.Disposition)
	assert.Equal(t, []string{"What about margins then?"}, library.queries)
	assert.Len(t, sessions.Get(id).Turns, 2)
}

func TestSearch_LowConfidenceNeedsClarification(t *testing.T) {
	// An expansion identical to the original carries no new information.
	svc, sessions, library := newSearch(
		llm.RespondWith("B"),
		llm.RespondWith("and the margins?"))
	id := seedTurn(sessions, "What is the revenue growth of AAPL?", "grew 8% annually")

	outcome, err := svc.Search(context.Background(), id, "and the margins?", false)
	require.NoError(t, err)

	assert.Equal(t, DispositionNeedsClarification, outcome.Disposition)
	assert.Less(t, outcome.Confidence, 0.5)
	assert.Empty(t, library.queries)
	assert.Len(t, sessions.Get(id).Turns, 1)
}

func TestSearch_ExpansionFailureAsksForReword(t *testing.T) {
	svc, sessions, library := newSearch(
		llm.RespondWith("B"),
		llm.FailWith(errors.New("context model unavailable")))
	id := seedTurn(sessions, "What is the revenue growth of AAPL?", "grew 8% annually")

	outcome, err := svc.Search(context.Background(), id, "and the margins?", false)
	require.NoError(t, err)

	assert.Equal(t, DispositionNeedsClarification, outcome.Disposition)
	assert.Equal(t, "and the margins?", outcome.Original)
	assert.Contains(t, outcome.Message, "reword")
	assert.Empty(t, library.queries)
	assert.Len(t, sessions.Get(id).Turns, 1)
}

func TestSearch_ExpansionCancellationPropagates(t *testing.T) {
	svc, sessions, _ := newSearch(
		llm.RespondWith("B"),
		llm.FailWith(context.Canceled))
	id := seedTurn(sessions, "What is the revenue growth of AAPL?", "grew 8% annually")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Search(ctx, id, "and the margins?", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expand contextual query")
}

func TestSearch_LibraryErrorPropagates(t *testing.T) {
	svc, _, library := newSearch(llm.RespondWith("A"))
	library.err = errors.New("database unavailable")

	_, err := svc.Search(context.Background(), "", "What is the P/E of NVDA?", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "similarity search")
}

func TestHandleClarification_ConfirmProceedsWithExpansion(t *testing.T) {
	svc, sessions, library := newSearch()
	id := seedTurn(sessions, "What is the revenue growth of AAPL?", "grew 8% annually")

	outcome, kind, err := svc.HandleClarificationResponse(context.Background(),
		id, "yes", "and the margins?", "What are the profit margins of AAPL?", false)
	require.NoError(t, err)

	assert.Equal(t, ClarificationConfirm, kind)
	assert.Equal(t, DispositionProceed, outcome.Disposition)
	assert.Equal(t, []string{"What are the profit margins of AAPL?"}, library.queries)

	sess := sessions.Get(id)
	require.Len(t, sess.Turns, 2)
	assert.Equal(t, "and the margins?", sess.Turns[1].UserQuery)
	assert.True(t, sess.Turns[1].ContextUsed)
}

func TestHandleClarification_RejectAsksForReword(t *testing.T) {
	svc, sessions, library := newSearch()
	id := seedTurn(sessions, "q", "s")

	outcome, kind, err := svc.HandleClarificationResponse(context.Background(),
		id, "no", "and the margins?", "What are the profit margins of AAPL?", false)
	require.NoError(t, err)

	assert.Equal(t, ClarificationReject, kind)
	assert.Equal(t, DispositionNeedsClarification, outcome.Disposition)
	assert.Empty(t, library.queries)
	assert.Len(t, sessions.Get(id).Turns, 1)
}

func TestHandleClarification_NewQueryReclassified(t *testing.T) {
	svc, sessions, library := newSearch(llm.RespondWith("A"))
	id := seedTurn(sessions, "What is the revenue growth of AAPL?", "grew 8% annually")

	outcome, kind, err := svc.HandleClarificationResponse(context.Background(),
		id, "What is the P/E ratio of NVDA?", "and the margins?", "ignored", false)
	require.NoError(t, err)

	assert.Equal(t, ClarificationNew, kind)
	assert.Equal(t, DispositionProceed, outcome.Disposition)
	assert.Equal(t, []string{"What is the P/E ratio of NVDA?"}, library.queries)
}
