// Package services orchestrates a full analysis request: context-aware
// search, reuse evaluation, the tool-calling conversation, and persistence.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/finsight-ai/finsight/pkg/config"
	"github.com/finsight-ai/finsight/pkg/conversation"
	"github.com/finsight-ai/finsight/pkg/dialogue"
	"github.com/finsight-ai/finsight/pkg/events"
	"github.com/finsight-ai/finsight/pkg/llm"
	"github.com/finsight-ai/finsight/pkg/mcp"
	"github.com/finsight-ai/finsight/pkg/search"
	"github.com/finsight-ai/finsight/pkg/session"
	"github.com/finsight-ai/finsight/pkg/store"
)

// Response types carried in analysis_result envelopes.
const (
	ResponseReuse        = "reuse_decision"
	ResponseScript       = "script_generation"
	ResponseScriptFailed = "script_generation_failed"
)

// AnalyzeRequest is one user question entering the pipeline.
type AnalyzeRequest struct {
	Question      string `json:"question" binding:"required"`
	SessionID     string `json:"session_id"`
	Model         string `json:"model"`
	AutoExpand    bool   `json:"auto_expand"`
	EnableCaching *bool  `json:"enable_caching"` // nil = configured default
	UserID        string `json:"user_id"`
}

// ClarifyRequest resolves a pending confirmation prompt.
type ClarifyRequest struct {
	SessionID     string `json:"session_id" binding:"required"`
	Response      string `json:"response" binding:"required"`
	OriginalQuery string `json:"original_query" binding:"required"`
	ExpandedQuery string `json:"expanded_query"`
	Model         string `json:"model"`
	AutoExpand    bool   `json:"auto_expand"`
	EnableCaching *bool  `json:"enable_caching"`
}

// AnalysisResult is the terminal payload of a completed run.
type AnalysisResult struct {
	ResponseType string `json:"response_type"`
	Data         any    `json:"data"`
}

// Response is the envelope returned for every analyze or clarify call.
type Response struct {
	Success        bool            `json:"success"`
	Timestamp      time.Time       `json:"timestamp"`
	SessionID      string          `json:"session_id,omitempty"`
	AnalysisResult *AnalysisResult `json:"analysis_result,omitempty"`
	NeedsUserInput bool            `json:"needs_user_input,omitempty"`
	ContextResult  *search.Outcome `json:"context_result,omitempty"`
}

// Searcher is the context layer edge. Satisfied by *search.ContextAwareSearch.
type Searcher interface {
	Search(ctx context.Context, sessionID, query string, autoExpand bool) (*search.Outcome, error)
	HandleClarificationResponse(ctx context.Context, sessionID, userResponse, original, expanded string, autoExpand bool) (*search.Outcome, search.ClarificationKind, error)
}

// ReuseEvaluator is the reuse judgment edge. Satisfied by *reuse.Evaluator.
type ReuseEvaluator interface {
	Evaluate(ctx context.Context, query string, candidates []search.AnalysisCandidate) (*conversation.ReuseDecision, error)
}

// ConversationRunner is the engine edge. Satisfied by *conversation.Engine.
type ConversationRunner interface {
	Run(ctx context.Context, req *conversation.Request) (*conversation.Result, error)
}

// Persistence is the database edge. Satisfied by *store.Store.
type Persistence interface {
	SaveCompletedAnalysis(ctx context.Context, rec *store.AnalysisRecord) (uuid.UUID, error)
	GetAnalysisByFunction(ctx context.Context, functionName string) (*store.AnalysisRecord, error)
	AddUserMessage(ctx context.Context, sessionID, content string) (uuid.UUID, error)
	AddAssistantMessage(ctx context.Context, sessionID, content string) (uuid.UUID, error)
	AddAssistantMessageWithAnalysis(ctx context.Context, sessionID, content string, analysisID uuid.UUID) (uuid.UUID, error)
	History(ctx context.Context, sessionID string, limit int) ([]store.ChatMessage, error)
	DeleteHistory(ctx context.Context, sessionID string) error
	Healthy(ctx context.Context) error
}

// AnalysisService runs the end-to-end pipeline.
type AnalysisService struct {
	search   Searcher
	reuse    ReuseEvaluator
	engine   ConversationRunner
	sessions *session.Manager
	db       Persistence
	bus      *events.Bus
	opts     *config.Options
	logger   *slog.Logger
}

// NewAnalysisService wires the pipeline. bus may be nil.
func NewAnalysisService(searcher Searcher, evaluator ReuseEvaluator, engine ConversationRunner,
	sessions *session.Manager, db Persistence, bus *events.Bus, opts *config.Options) *AnalysisService {
	return &AnalysisService{
		search:   searcher,
		reuse:    evaluator,
		engine:   engine,
		sessions: sessions,
		db:       db,
		bus:      bus,
		opts:     opts,
		logger:   slog.Default(),
	}
}

// Analyze runs one question through context resolution and, when it
// proceeds, through reuse evaluation and the conversation engine.
func (s *AnalysisService) Analyze(ctx context.Context, req *AnalyzeRequest) (*Response, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, newRequestError(CodeInvalidRequest, "question must not be empty", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()

	outcome, err := s.search.Search(ctx, req.SessionID, req.Question, req.AutoExpand)
	if err != nil {
		return nil, s.wrapPipelineError(ctx, CodeContextFailed,
			"could not resolve the question against the conversation", err)
	}

	if outcome.Disposition != search.DispositionProceed {
		return &Response{
			Success:        true,
			Timestamp:      time.Now().UTC(),
			SessionID:      outcome.SessionID,
			NeedsUserInput: true,
			ContextResult:  outcome,
		}, nil
	}
	return s.runAnalysis(ctx, req.Model, req.EnableCaching, outcome)
}

// Clarify resolves a confirmation follow-up and, on proceed, continues the
// pipeline with the confirmed query.
func (s *AnalysisService) Clarify(ctx context.Context, req *ClarifyRequest) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()

	outcome, kind, err := s.search.HandleClarificationResponse(ctx,
		req.SessionID, req.Response, req.OriginalQuery, req.ExpandedQuery, req.AutoExpand)
	if err != nil {
		return nil, s.wrapPipelineError(ctx, CodeContextFailed,
			"could not resolve the clarification response", err)
	}
	s.logger.Info("Clarification resolved", "kind", string(kind), "session_id", outcome.SessionID)

	if outcome.Disposition != search.DispositionProceed {
		return &Response{
			Success:        true,
			Timestamp:      time.Now().UTC(),
			SessionID:      outcome.SessionID,
			NeedsUserInput: true,
			ContextResult:  outcome,
		}, nil
	}
	return s.runAnalysis(ctx, req.Model, req.EnableCaching, outcome)
}

// runAnalysis is the post-proceed pipeline: persist the question, try reuse,
// otherwise run the conversation engine and persist its terminal result.
func (s *AnalysisService) runAnalysis(ctx context.Context, model string, enableCaching *bool, outcome *search.Outcome) (*Response, error) {
	if _, err := s.db.AddUserMessage(ctx, outcome.SessionID, outcome.Original); err != nil {
		s.logger.Warn("Failed to persist user message", "error", err)
	}

	decision, err := s.reuse.Evaluate(ctx, outcome.Query, outcome.Candidates)
	if err != nil {
		if ctx.Err() != nil {
			return nil, s.cancellationError(ctx)
		}
		// Reuse evaluation is best-effort; fall through to generation.
		s.logger.Warn("Reuse evaluation failed, generating instead", "error", err)
		decision = nil
	}
	if decision != nil && decision.ShouldReuse {
		return s.finishReuse(ctx, outcome, decision)
	}

	caching := s.opts.EnableCaching
	if enableCaching != nil {
		caching = *enableCaching
	}

	result, err := s.engine.Run(ctx, &conversation.Request{
		SessionID:     outcome.SessionID,
		Question:      outcome.Query,
		ContextBlocks: s.contextBlocks(outcome),
		Model:         model,
		EnableCaching: caching,
	})
	if err != nil {
		return nil, s.wrapPipelineError(ctx, CodeAnalysisFailed,
			"the analysis could not be completed", err)
	}

	switch result.Status {
	case conversation.StatusReuse:
		return s.finishReuse(ctx, outcome, result.Reuse)
	case conversation.StatusScriptSuccess:
		return s.finishScript(ctx, outcome, result)
	default:
		return s.finishFailed(ctx, outcome, result)
	}
}

// contextBlocks renders prior-turn context for the engine's first message.
// The just-appended current turn is excluded.
func (s *AnalysisService) contextBlocks(outcome *search.Outcome) []string {
	if !outcome.ContextUsed {
		return nil
	}
	sess := s.sessions.Get(outcome.SessionID)
	if sess == nil || len(sess.Turns) < 2 {
		return nil
	}
	text := dialogue.BuildContextText(sess.Turns[:len(sess.Turns)-1])
	if text == "" {
		return nil
	}
	return []string{"Conversation context:\n" + text}
}

func (s *AnalysisService) finishReuse(ctx context.Context, outcome *search.Outcome, decision *conversation.ReuseDecision) (*Response, error) {
	summary := fmt.Sprintf("Reusing stored analysis %q", decision.ExistingFunctionName)
	if decision.Reason != "" {
		summary += ": " + decision.Reason
	}

	if rec, err := s.db.GetAnalysisByFunction(ctx, decision.ExistingFunctionName); err == nil && rec != nil {
		if _, err := s.db.AddAssistantMessageWithAnalysis(ctx, outcome.SessionID, summary, rec.ID); err != nil {
			s.logger.Warn("Failed to persist reuse message", "error", err)
		}
	} else if _, err := s.db.AddAssistantMessage(ctx, outcome.SessionID, summary); err != nil {
		s.logger.Warn("Failed to persist reuse message", "error", err)
	}

	s.emit(outcome.SessionID, events.LevelSuccess, "Analysis complete (reused)")
	return &Response{
		Success:        true,
		Timestamp:      time.Now().UTC(),
		SessionID:      outcome.SessionID,
		AnalysisResult: &AnalysisResult{ResponseType: ResponseReuse, Data: decision},
	}, nil
}

func (s *AnalysisService) finishScript(ctx context.Context, outcome *search.Outcome, result *conversation.Result) (*Response, error) {
	script := result.Script
	rec := &store.AnalysisRecord{
		FunctionName: functionNameFromScript(script.ScriptName),
		Filename:     script.ScriptName,
		ScriptPath:   "scripts/" + script.ScriptName,
		Question:     outcome.Query,
		Description:  script.AnalysisDescription,
	}

	summary := mcp.TruncateForStorage(
		fmt.Sprintf("Generated analysis %q: %s", script.ScriptName, script.AnalysisDescription))

	analysisID, err := s.db.SaveCompletedAnalysis(ctx, rec)
	if err != nil {
		s.logger.Warn("Failed to save completed analysis", "error", err)
		if _, err := s.db.AddAssistantMessage(ctx, outcome.SessionID, summary); err != nil {
			s.logger.Warn("Failed to persist assistant message", "error", err)
		}
	} else if _, err := s.db.AddAssistantMessageWithAnalysis(ctx, outcome.SessionID, summary, analysisID); err != nil {
		s.logger.Warn("Failed to persist assistant message", "error", err)
	}

	s.emit(outcome.SessionID, events.LevelSuccess, "Analysis complete")
	return &Response{
		Success:        true,
		Timestamp:      time.Now().UTC(),
		SessionID:      outcome.SessionID,
		AnalysisResult: &AnalysisResult{ResponseType: ResponseScript, Data: script},
	}, nil
}

func (s *AnalysisService) finishFailed(ctx context.Context, outcome *search.Outcome, result *conversation.Result) (*Response, error) {
	summary := fmt.Sprintf("Analysis failed (%s)", result.FailureCode)
	if result.FailureDetail != "" {
		summary += ": " + result.FailureDetail
	}
	if _, err := s.db.AddAssistantMessage(ctx, outcome.SessionID, summary); err != nil {
		s.logger.Warn("Failed to persist failure message", "error", err)
	}

	data := map[string]any{
		"failure_code": result.FailureCode,
		"detail":       result.FailureDetail,
	}
	if result.Script != nil {
		data["script_generation"] = result.Script
	}

	return &Response{
		Success:        false,
		Timestamp:      time.Now().UTC(),
		SessionID:      outcome.SessionID,
		AnalysisResult: &AnalysisResult{ResponseType: ResponseScriptFailed, Data: data},
	}, nil
}

// wrapPipelineError maps an internal failure to a RequestError, preferring
// cancellation and timeout codes when the context is done. Cancelled
// requests persist nothing.
func (s *AnalysisService) wrapPipelineError(ctx context.Context, code, userMessage string, err error) error {
	if ctx.Err() != nil {
		return s.cancellationError(ctx)
	}
	if providerCode := llm.ErrorCode(err); errors.Is(err, llm.ErrUnauthorized) || errors.Is(err, llm.ErrTimeout) {
		return newRequestError(providerCode, "the language model provider rejected the request", err)
	}
	return newRequestError(code, userMessage, err)
}

func (s *AnalysisService) cancellationError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return newRequestError(CodeRequestTimeout, "the request timed out", ctx.Err())
	}
	return newRequestError(CodeRequestCancelled, "the request was cancelled", ctx.Err())
}

// functionNameFromScript derives the library function name from a script
// filename: "analyze_revenue_growth.py" -> "analyze_revenue_growth".
func functionNameFromScript(scriptName string) string {
	name := scriptName
	if idx := strings.LastIndex(name, "."); idx > 0 {
		name = name[:idx]
	}
	return name
}

func (s *AnalysisService) emit(sessionID string, level events.Level, message string, opts ...events.Option) {
	if s.bus == nil {
		return
	}
	s.bus.Emit(sessionID, level, message, opts...)
}
