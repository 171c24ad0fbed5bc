// Package search orchestrates the per-question entry path: resolve the
// session, classify the query against the conversation, expand contextual
// queries, and run the similarity search against the analysis library.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/finsight-ai/finsight/pkg/config"
	"github.com/finsight-ai/finsight/pkg/dialogue"
	"github.com/finsight-ai/finsight/pkg/events"
	"github.com/finsight-ai/finsight/pkg/session"
)

// Disposition is how a question leaves the context layer.
type Disposition string

const (
	// DispositionProceed means the query (possibly expanded) goes on to the
	// reuse evaluation and conversation engine.
	DispositionProceed Disposition = "proceed"

	// DispositionNeedsConfirmation asks the user to confirm a mid-confidence
	// expansion before proceeding.
	DispositionNeedsConfirmation Disposition = "needs_confirmation"

	// DispositionNeedsClarification asks the user to reword the question.
	DispositionNeedsClarification Disposition = "needs_clarification"
)

// AnalysisCandidate is one stored analysis ranked by similarity. Supplied by
// the analysis library; never mutated here.
type AnalysisCandidate struct {
	FunctionName string         `json:"function_name"`
	Filename     string         `json:"filename"`
	Similarity   float64        `json:"similarity"`
	Question     string         `json:"question"`
	Description  string         `json:"description"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	ScriptPath   string         `json:"script_path"`
}

// AnalysisLibrary is the similarity-search edge this package depends on.
// Satisfied by *store.AnalysisLibrary.
type AnalysisLibrary interface {
	SearchSimilar(ctx context.Context, query string, topK int, threshold float64) ([]AnalysisCandidate, error)
}

// Outcome is the envelope returned for every question.
type Outcome struct {
	Disposition Disposition         `json:"disposition"`
	SessionID   string              `json:"session_id"`
	Query       string              `json:"query"` // effective query on proceed
	Original    string              `json:"original_query,omitempty"`
	Expanded    string              `json:"expanded_query,omitempty"`
	Confidence  float64             `json:"confidence,omitempty"`
	QueryType   session.QueryType   `json:"query_type"`
	ContextUsed bool                `json:"context_used"`
	Candidates  []AnalysisCandidate `json:"candidates,omitempty"`
	Message     string              `json:"message,omitempty"`
	Options     []string            `json:"options,omitempty"`
}

// ContextAwareSearch runs the context layer in front of the analysis flow.
type ContextAwareSearch struct {
	sessions *session.Manager
	dialogue *dialogue.Service
	library  AnalysisLibrary
	bus      *events.Bus
	opts     *config.Options
	logger   *slog.Logger
}

// New wires the context-aware search. bus may be nil.
func New(sessions *session.Manager, dlg *dialogue.Service, library AnalysisLibrary, bus *events.Bus, opts *config.Options) *ContextAwareSearch {
	return &ContextAwareSearch{
		sessions: sessions,
		dialogue: dlg,
		library:  library,
		bus:      bus,
		opts:     opts,
		logger:   slog.Default(),
	}
}

// Search classifies the question, expands it when contextual, and runs the
// similarity search. A turn is recorded only when the outcome is proceed.
func (s *ContextAwareSearch) Search(ctx context.Context, sessionID, query string, autoExpand bool) (*Outcome, error) {
	sess := s.sessions.GetOrCreate(sessionID)

	lastQuery := ""
	if last := sess.LastTurn(); last != nil {
		lastQuery = last.UserQuery
		if last.ExpandedQuery != "" {
			lastQuery = last.ExpandedQuery
		}
	}

	classification := s.dialogue.Classify(ctx, query, lastQuery)
	s.emit(sess.ID, events.LevelInfo, "Query classified",
		events.WithDetails(map[string]any{
			"query_type": string(classification.Type),
			"method":     classification.Method,
		}))

	if classification.Type == session.QueryStandalone {
		return s.proceed(ctx, sess, query, session.ConversationTurn{
			UserQuery: query,
			QueryType: classification.Type,
		})
	}

	// Contextual paths need history to expand from.
	if len(sess.Turns) == 0 {
		return &Outcome{
			Disposition: DispositionNeedsClarification,
			SessionID:   sess.ID,
			Original:    query,
			QueryType:   classification.Type,
			Message: "Your question seems to refer to an earlier conversation, but this session has no history. " +
				"Please reword it as a complete question, naming the company or ticker.",
		}, nil
	}

	contextText := dialogue.BuildContextText(sess.Turns)
	expanded, err := s.dialogue.Expand(ctx, query, contextText)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("expand contextual query: %w", err)
		}
		// The context model being down must not fail the request. Ask the
		// user to reword instead of expanding on their behalf.
		s.logger.Warn("Query expansion failed, asking for a reword",
			"session_id", sess.ID, "error", err)
		return &Outcome{
			Disposition: DispositionNeedsClarification,
			SessionID:   sess.ID,
			Original:    query,
			QueryType:   classification.Type,
			Message: "I could not resolve your question from the conversation right now. " +
				"Please reword it as a complete standalone question.",
		}, nil
	}
	confidence := dialogue.ScoreExpansion(query, expanded, contextText)

	s.emit(sess.ID, events.LevelInfo, "Query expanded",
		events.WithDetails(map[string]any{"expanded": expanded, "confidence": confidence}))

	switch {
	case confidence >= s.opts.ConfidenceAuto || autoExpand:
		return s.proceed(ctx, sess, expanded, session.ConversationTurn{
			UserQuery:           query,
			QueryType:           classification.Type,
			ExpandedQuery:       expanded,
			ContextUsed:         true,
			ExpansionConfidence: confidence,
		})

	case confidence >= s.opts.ConfidenceConfirm:
		return &Outcome{
			Disposition: DispositionNeedsConfirmation,
			SessionID:   sess.ID,
			Original:    query,
			Expanded:    expanded,
			Confidence:  confidence,
			QueryType:   classification.Type,
			Message:     fmt.Sprintf("Did you mean: %q?", expanded),
			Options:     []string{"yes", "no", "clarify"},
		}, nil

	default:
		return &Outcome{
			Disposition: DispositionNeedsClarification,
			SessionID:   sess.ID,
			Original:    query,
			Expanded:    expanded,
			Confidence:  confidence,
			QueryType:   classification.Type,
			Message: fmt.Sprintf("I could not confidently resolve your question from the conversation. "+
				"My best guess was %q. Please reword it as a complete question.", expanded),
		}, nil
	}
}

// ClarificationKind classifies a user's reply to a confirmation prompt.
type ClarificationKind string

const (
	ClarificationConfirm ClarificationKind = "confirm"
	ClarificationReject  ClarificationKind = "reject"
	ClarificationNew     ClarificationKind = "new_contextual_query"
)

// HandleClarificationResponse resolves a confirmation follow-up: an
// affirmative proceeds with the previously proposed expansion, a negative
// asks for a reword, and anything else is treated as a fresh question.
func (s *ContextAwareSearch) HandleClarificationResponse(ctx context.Context, sessionID, userResponse, original, expanded string, autoExpand bool) (*Outcome, ClarificationKind, error) {
	switch classifyClarification(userResponse) {
	case ClarificationConfirm:
		sess := s.sessions.GetOrCreate(sessionID)
		contextText := dialogue.BuildContextText(sess.Turns)
		outcome, err := s.proceed(ctx, sess, expanded, session.ConversationTurn{
			UserQuery:           original,
			QueryType:           session.QueryContextual,
			ExpandedQuery:       expanded,
			ContextUsed:         true,
			ExpansionConfidence: dialogue.ScoreExpansion(original, expanded, contextText),
		})
		return outcome, ClarificationConfirm, err

	case ClarificationReject:
		return &Outcome{
			Disposition: DispositionNeedsClarification,
			SessionID:   sessionID,
			Original:    original,
			QueryType:   session.QueryContextual,
			Message:     "Understood. Please reword your question as a complete standalone question.",
		}, ClarificationReject, nil

	default:
		outcome, err := s.Search(ctx, sessionID, userResponse, autoExpand)
		return outcome, ClarificationNew, err
	}
}

func classifyClarification(response string) ClarificationKind {
	switch strings.ToLower(strings.TrimSpace(response)) {
	case "yes", "y", "yeah", "yep", "correct", "confirm", "ok", "sure":
		return ClarificationConfirm
	case "no", "n", "nope", "wrong", "incorrect", "reject":
		return ClarificationReject
	default:
		return ClarificationNew
	}
}

// proceed runs the similarity search and records the turn.
func (s *ContextAwareSearch) proceed(ctx context.Context, sess *session.Session, effectiveQuery string, turn session.ConversationTurn) (*Outcome, error) {
	candidates, err := s.library.SearchSimilar(ctx, effectiveQuery, s.opts.SimilarityTopK, s.opts.SimilarityThreshold)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	s.emit(sess.ID, events.LevelInfo,
		fmt.Sprintf("Found %d similar stored analyses", len(candidates)))

	if !s.sessions.AppendTurn(sess.ID, turn) {
		s.logger.Warn("Session vanished before turn append", "session_id", sess.ID)
	}

	return &Outcome{
		Disposition: DispositionProceed,
		SessionID:   sess.ID,
		Query:       effectiveQuery,
		Original:    turn.UserQuery,
		Expanded:    turn.ExpandedQuery,
		Confidence:  turn.ExpansionConfidence,
		QueryType:   turn.QueryType,
		ContextUsed: turn.ContextUsed,
		Candidates:  candidates,
	}, nil
}

func (s *ContextAwareSearch) emit(sessionID string, level events.Level, message string, opts ...events.Option) {
	if s.bus == nil {
		return
	}
	s.bus.Emit(sessionID, level, message, opts...)
}
