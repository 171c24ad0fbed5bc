// Package dialogue provides the conversation-context layer: classifying how
// a query relates to the session so far, expanding contextual queries into
// standalone ones, and scoring expansion confidence.
package dialogue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/finsight-ai/finsight/pkg/agent"
	"github.com/finsight-ai/finsight/pkg/llm"
	"github.com/finsight-ai/finsight/pkg/session"
)

// Classification methods.
const (
	MethodLLM       = "llm"
	MethodHeuristic = "heuristic"
)

// heuristicConfidenceCap bounds pattern-matcher confidence; only the LLM
// path may claim more.
const heuristicConfidenceCap = 0.8

// classifierTemperature keeps the context model near-deterministic.
const classifierTemperature = 0.1

// contextTurnWindow is how many trailing turns feed query expansion.
const contextTurnWindow = 3

// Classification is the outcome of classifying one query.
type Classification struct {
	Type       session.QueryType
	Confidence float64
	Method     string
}

// Dispatcher is the slice of the LLM service this package depends on.
// Satisfied by *llm.Service.
type Dispatcher interface {
	MakeRequest(ctx context.Context, req *llm.Request) (*llm.Response, error)
}

// Service runs the dialogue-context operations against a small dedicated
// model.
type Service struct {
	dispatcher   Dispatcher
	contextModel string
	logger       *slog.Logger
}

// NewService builds the dialogue service. contextModel should be a small,
// fast model; classification sends a single-token request per query.
func NewService(dispatcher Dispatcher, contextModel string) *Service {
	return &Service{
		dispatcher:   dispatcher,
		contextModel: contextModel,
		logger:       slog.Default(),
	}
}

const classifyPrompt = `Classify how the new question relates to the previous one.
Answer with exactly one letter and nothing else:
A - complete standalone question
B - contextual follow-up that depends on the previous question
C - comparative question referring back to the previous subject
D - the same analysis with a changed parameter (ticker, period, metric)

Previous question: %s
New question: %s

Answer:`

const classifyFirstTurnPrompt = `Classify the question below.
Answer with exactly one letter and nothing else:
A - complete standalone question
B - incomplete question that needs more context

Question: %s

Answer:`

// Classify determines the query type for currentQuery. lastQuery is empty on
// the first turn of a session, which reduces the answer alphabet to {A, B}.
// When the LLM path errors (including an out-of-alphabet answer) the
// heuristic fallback is used, its confidence capped at 0.8.
func (s *Service) Classify(ctx context.Context, currentQuery, lastQuery string) Classification {
	c, err := s.classifyLLM(ctx, currentQuery, lastQuery)
	if err == nil {
		return c
	}
	s.logger.Warn("LLM classification failed, falling back to patterns",
		"error", err)
	return classifyHeuristic(currentQuery)
}

func (s *Service) classifyLLM(ctx context.Context, currentQuery, lastQuery string) (Classification, error) {
	var prompt string
	firstTurn := lastQuery == ""
	if firstTurn {
		prompt = fmt.Sprintf(classifyFirstTurnPrompt, currentQuery)
	} else {
		prompt = fmt.Sprintf(classifyPrompt, lastQuery, currentQuery)
	}

	resp, err := s.dispatcher.MakeRequest(ctx, &llm.Request{
		Messages:    []agent.ConversationMessage{{Role: agent.RoleUser, Content: prompt}},
		Model:       s.contextModel,
		MaxTokens:   5,
		Temperature: classifierTemperature,
	})
	if err != nil {
		return Classification{}, err
	}

	token := strings.ToUpper(strings.TrimSpace(resp.Content))
	queryType, ok := decodeClassToken(token, firstTurn)
	if !ok {
		// Out-of-alphabet answers are a hard failure, never silently
		// defaulted.
		return Classification{}, fmt.Errorf("classifier returned %q, expected a single letter", resp.Content)
	}
	return Classification{Type: queryType, Confidence: 0.9, Method: MethodLLM}, nil
}

func decodeClassToken(token string, firstTurn bool) (session.QueryType, bool) {
	if firstTurn {
		switch token {
		case "A":
			return session.QueryStandalone, true
		case "B":
			return session.QueryContextual, true
		}
		return "", false
	}
	switch token {
	case "A":
		return session.QueryStandalone, true
	case "B":
		return session.QueryContextual, true
	case "C":
		return session.QueryComparative, true
	case "D":
		return session.QueryParameter, true
	}
	return "", false
}

// classifyHeuristic is the substring pattern matcher over the lowercased
// query, used only when the LLM path errors.
func classifyHeuristic(query string) Classification {
	q := strings.ToLower(strings.TrimSpace(query))

	comparative := []string{"compare", " vs ", " vs.", "versus", "against", "better than", "instead of"}
	for _, p := range comparative {
		if strings.Contains(q, p) {
			return Classification{Type: session.QueryComparative, Confidence: 0.7, Method: MethodHeuristic}
		}
	}

	parameter := []string{"same analysis", "same thing for", "now for", "change the", "with a different", "but for"}
	for _, p := range parameter {
		if strings.Contains(q, p) {
			return Classification{Type: session.QueryParameter, Confidence: 0.7, Method: MethodHeuristic}
		}
	}

	contextual := []string{"what about", "how about", "and the", "that one", "this one", "those", "it?", "its "}
	for _, p := range contextual {
		if strings.Contains(q, p) {
			return Classification{Type: session.QueryContextual, Confidence: 0.7, Method: MethodHeuristic}
		}
	}
	if len(strings.Fields(q)) <= 3 {
		// Very short queries rarely stand alone.
		return Classification{Type: session.QueryContextual, Confidence: 0.6, Method: MethodHeuristic}
	}

	return Classification{Type: session.QueryStandalone, Confidence: 0.6, Method: MethodHeuristic}
}

const expandPrompt = `Rewrite the follow-up question below as a single standalone question,
using the conversation so far to resolve references. Reply with the rewritten
question only.

Conversation so far:
%s

Follow-up question: %s

Standalone question:`

// Expand rewrites a contextual query into a standalone one using the
// rendered conversation context. The response is trimmed at the first '?'.
func (s *Service) Expand(ctx context.Context, contextualQuery, conversationContext string) (string, error) {
	resp, err := s.dispatcher.MakeRequest(ctx, &llm.Request{
		Messages: []agent.ConversationMessage{{
			Role:    agent.RoleUser,
			Content: fmt.Sprintf(expandPrompt, conversationContext, contextualQuery),
		}},
		Model:       s.contextModel,
		MaxTokens:   200,
		Temperature: classifierTemperature,
	})
	if err != nil {
		return "", fmt.Errorf("query expansion failed: %w", err)
	}

	expanded := strings.TrimSpace(resp.Content)
	if idx := strings.Index(expanded, "?"); idx >= 0 {
		expanded = expanded[:idx+1]
	}
	if expanded == "" {
		return "", fmt.Errorf("query expansion returned empty text")
	}
	return expanded, nil
}

// BuildContextText renders up to the last 3 turns for the expansion prompt.
func BuildContextText(turns []session.ConversationTurn) string {
	if len(turns) > contextTurnWindow {
		turns = turns[len(turns)-contextTurnWindow:]
	}
	parts := make([]string, 0, len(turns))
	for _, turn := range turns {
		query := turn.UserQuery
		if turn.ExpandedQuery != "" {
			query = turn.ExpandedQuery
		}
		summary := turn.AnalysisSummary
		if summary == "" {
			summary = "(no summary recorded)"
		}
		parts = append(parts, fmt.Sprintf("User: %s\nAnalysis: %s", query, summary))
	}
	return strings.Join(parts, "\n---\n")
}
