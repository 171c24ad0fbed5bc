// Package conversation implements the iterative tool-calling loop that
// drives an LLM against the MCP tool catalog until it emits a terminal
// structured verdict.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/finsight-ai/finsight/pkg/agent"
	"github.com/finsight-ai/finsight/pkg/config"
	"github.com/finsight-ai/finsight/pkg/events"
	"github.com/finsight-ai/finsight/pkg/llm"
	"github.com/finsight-ai/finsight/pkg/mcp"
)

// Status is the terminal outcome of one conversation run.
type Status string

const (
	StatusReuse         Status = "reuse_decision"
	StatusScriptSuccess Status = "script_generation"
	StatusFailed        Status = "failed"
)

// Failure codes carried on failed results.
const (
	FailForbiddenTools       = "FORBIDDEN_TOOLS"
	FailIterationBudget      = "ITERATION_BUDGET"
	FailToolCallBudget       = "TOOL_CALL_BUDGET"
	FailNoStructuredResponse = "NO_STRUCTURED_RESPONSE"
	FailScriptGeneration     = "SCRIPT_GENERATION_FAILED"
)

// Dispatcher is the slice of the LLM service the engine depends on.
// Satisfied by *llm.Service.
type Dispatcher interface {
	Provider() llm.Provider
	MakeRequest(ctx context.Context, req *llm.Request) (*llm.Response, error)
}

// ToolRunner is the slice of the MCP executor the engine depends on.
// Satisfied by *mcp.Executor.
type ToolRunner interface {
	Catalog() []agent.ToolDefinition
	Fingerprint() string
	Validate(calls []agent.ToolCall) mcp.ValidationReport
	Execute(ctx context.Context, calls []agent.ToolCall) []agent.ToolResult
}

// Request is one conversation run.
type Request struct {
	SessionID     string
	Question      string
	ContextBlocks []string // prior-turn context rendered by the search layer
	Model         string   // empty = service default
	EnableCaching bool
}

// Result is the outcome of a run. Exactly one of Reuse or Script is set when
// Status is terminal; FailureCode/FailureDetail describe failed runs.
type Result struct {
	Status        Status
	Reuse         *ReuseDecision
	Script        *ScriptGeneration
	FailureCode   string
	FailureDetail string

	AllToolCalls   []agent.ToolCall
	AllToolResults []agent.ToolResult
	Iterations     int
	Usage          agent.TokenUsage
}

// Engine runs the conversation state machine. One Engine is shared across
// requests; each run allocates its own message list.
type Engine struct {
	dispatcher Dispatcher
	tools      ToolRunner
	bus        *events.Bus
	opts       *config.Options
	prompts    *PromptSet

	// advertisedFingerprint tracks the tool catalog last pushed to the
	// provider; a changed fingerprint re-advertises before the next run.
	mu                    sync.Mutex
	advertisedFingerprint string
	initialized           bool

	logger *slog.Logger
}

// NewEngine wires the conversation engine. bus may be nil (no progress
// events).
func NewEngine(dispatcher Dispatcher, tools ToolRunner, bus *events.Bus, opts *config.Options, prompts *PromptSet) *Engine {
	return &Engine{
		dispatcher: dispatcher,
		tools:      tools,
		bus:        bus,
		opts:       opts,
		prompts:    prompts,
		logger:     slog.Default(),
	}
}

// ensureInitialized pushes the system prompt once and (re)advertises the
// tool catalog whenever its fingerprint has drifted since the last run.
func (e *Engine) ensureInitialized() {
	e.mu.Lock()
	defer e.mu.Unlock()

	provider := e.dispatcher.Provider()
	if !e.initialized {
		provider.SetSystemPrompt(e.prompts.SystemPrompt)
		e.initialized = true
	}
	if fp := e.tools.Fingerprint(); fp != e.advertisedFingerprint {
		provider.SetTools(e.tools.Catalog())
		e.advertisedFingerprint = fp
	}
}

// Run executes the state machine for one request. The returned error is
// non-nil only for unrecoverable provider failures or cancellation; budget
// and verdict failures come back as a Result with StatusFailed.
func (e *Engine) Run(ctx context.Context, req *Request) (*Result, error) {
	e.ensureInitialized()

	result := &Result{Status: StatusFailed}

	messages := []agent.ConversationMessage{{
		Role:    agent.RoleUser,
		Content: e.prompts.AnalyzeMessage(req.Question, req.ContextBlocks),
	}}

	provider := e.dispatcher.Provider()
	iterationTimeout := e.opts.DispatchTimeout + e.opts.ToolCallTimeout

	for iteration := 1; iteration <= e.opts.IterationBudget; iteration++ {
		result.Iterations = iteration
		e.emit(req.SessionID, events.LevelInfo,
			fmt.Sprintf("Analysis iteration %d", iteration),
			events.WithStep(iteration, e.opts.IterationBudget))

		iterCtx, iterCancel := context.WithTimeout(ctx, iterationTimeout)

		resp, err := e.dispatcher.MakeRequest(iterCtx, &llm.Request{
			Messages:      messages,
			Model:         req.Model,
			EnableCaching: req.EnableCaching,
		})
		if err != nil {
			iterCancel()
			e.emit(req.SessionID, events.LevelError, "Model request failed",
				events.WithDetails(map[string]any{"code": llm.ErrorCode(err)}))
			return nil, fmt.Errorf("dispatch failed on iteration %d: %w", iteration, err)
		}
		result.Usage.Add(resp.Usage)

		if len(resp.ToolCalls) == 0 {
			iterCancel()
			e.finishFromContent(req.SessionID, resp.Content, result)
			return result, nil
		}

		// Tool calls win over any verdict text in the same message.
		if len(result.AllToolCalls)+len(resp.ToolCalls) > e.opts.ToolCallBudget {
			iterCancel()
			result.FailureCode = FailToolCallBudget
			result.FailureDetail = fmt.Sprintf(
				"tool-call budget of %d exceeded", e.opts.ToolCallBudget)
			e.emit(req.SessionID, events.LevelError, result.FailureDetail)
			return result, nil
		}

		report := e.tools.Validate(resp.ToolCalls)
		if forbidden := report.Forbidden(); len(forbidden) > 0 {
			iterCancel()
			result.FailureCode = FailForbiddenTools
			result.FailureDetail = forbidden[0].Reason
			e.emit(req.SessionID, events.LevelError, "Forbidden tool requested",
				events.WithDetails(map[string]any{"tool": forbidden[0].ToolName}))
			return result, nil
		}

		e.emit(req.SessionID, events.LevelInfo,
			fmt.Sprintf("Executing %d tool call(s)", len(resp.ToolCalls)))

		results := e.executeBatch(iterCtx, resp.ToolCalls, report)
		iterCancel()

		// Partial results from a cancelled request are discarded.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		assistantMsg := provider.FormatToolCalls(resp.ToolCalls)
		assistantMsg.Content = resp.Content
		messages = append(messages, assistantMsg)

		cacheMarked := e.markCacheable(resp.ToolCalls, req.EnableCaching)
		messages = append(messages, provider.FormatToolResults(resp.ToolCalls, results, cacheMarked))

		result.AllToolCalls = append(result.AllToolCalls, resp.ToolCalls...)
		result.AllToolResults = append(result.AllToolResults, results...)
	}

	result.FailureCode = FailIterationBudget
	result.FailureDetail = fmt.Sprintf(
		"no terminal verdict after %d iterations", e.opts.IterationBudget)
	e.emit(req.SessionID, events.LevelError, result.FailureDetail)
	return result, nil
}

// executeBatch runs the validated calls, substituting error payloads for
// calls rejected as unknown so results stay index-paired with calls. The
// model reads those payloads and self-corrects on the next turn.
func (e *Engine) executeBatch(ctx context.Context, calls []agent.ToolCall, report mcp.ValidationReport) []agent.ToolResult {
	rejected := make(map[string]mcp.Violation, len(report.Violations))
	for _, v := range report.Violations {
		rejected[v.CallID] = v
	}

	results := make([]agent.ToolResult, len(calls))
	var execCalls []agent.ToolCall
	var execIdx []int
	for i, call := range calls {
		if v, ok := rejected[call.ID]; ok {
			results[i] = agent.ToolResult{
				CallID:  call.ID,
				Name:    call.Name,
				Content: fmt.Sprintf("%s: %s", v.Code, v.Reason),
				IsError: true,
			}
			continue
		}
		execCalls = append(execCalls, call)
		execIdx = append(execIdx, i)
	}

	for j, r := range e.tools.Execute(ctx, execCalls) {
		results[execIdx[j]] = r
	}
	return results
}

// finishFromContent resolves the terminal state of a no-tool-calls response.
func (e *Engine) finishFromContent(sessionID, content string, result *Result) {
	verdict := ParseVerdict(content)
	switch {
	case verdict == nil:
		result.FailureCode = FailNoStructuredResponse
		result.FailureDetail = "assistant response carried no structured verdict"
		e.emit(sessionID, events.LevelError, "No structured verdict in response")

	case verdict.Reuse != nil && verdict.Reuse.ShouldReuse:
		result.Status = StatusReuse
		result.Reuse = verdict.Reuse
		e.emit(sessionID, events.LevelSuccess, "Reusing existing analysis",
			events.WithDetails(map[string]any{"function": verdict.Reuse.ExistingFunctionName}))

	case verdict.Script != nil && verdict.Script.Status == ScriptStatusSuccess:
		result.Status = StatusScriptSuccess
		result.Script = verdict.Script
		e.emit(sessionID, events.LevelSuccess, "Analysis script generated",
			events.WithDetails(map[string]any{"script": verdict.Script.ScriptName}))

	case verdict.Script != nil && verdict.Script.Status == ScriptStatusFailed:
		result.Script = verdict.Script
		result.FailureCode = FailScriptGeneration
		result.FailureDetail = verdict.Script.FinalError
		e.emit(sessionID, events.LevelError, "Script generation failed",
			events.WithDetails(map[string]any{"error": verdict.Script.FinalError}))

	default:
		// A reuse_decision with should_reuse=false is a valid shape but not
		// a terminal verdict.
		result.FailureCode = FailNoStructuredResponse
		result.FailureDetail = "structured response did not resolve to a terminal verdict"
		e.emit(sessionID, events.LevelError, "No terminal verdict in response")
	}
}

// markCacheable flags tool calls whose base name is in the configured
// cacheable set; the provider annotates the matching results for prompt
// caching.
func (e *Engine) markCacheable(calls []agent.ToolCall, enableCaching bool) []bool {
	marked := make([]bool, len(calls))
	if !enableCaching || !e.opts.EnableCaching {
		return marked
	}
	for i, call := range calls {
		_, toolName, err := mcp.SplitToolName(call.Name)
		if err != nil {
			continue
		}
		marked[i] = e.opts.CacheableToolNames[toolName]
	}
	return marked
}

func (e *Engine) emit(sessionID string, level events.Level, message string, opts ...events.Option) {
	if e.bus == nil {
		return
	}
	e.bus.Emit(sessionID, level, message, opts...)
}
