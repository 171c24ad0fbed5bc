// Package reuse decides whether a stored analysis can answer a new question
// outright, skipping script generation entirely.
package reuse

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/finsight-ai/finsight/pkg/agent"
	"github.com/finsight-ai/finsight/pkg/conversation"
	"github.com/finsight-ai/finsight/pkg/llm"
	"github.com/finsight-ai/finsight/pkg/search"
)

const (
	evaluatorTemperature = 0.1
	evaluatorMaxTokens   = 500
)

// Dispatcher is the slice of the LLM service this package depends on.
// Satisfied by *llm.Service.
type Dispatcher interface {
	MakeRequest(ctx context.Context, req *llm.Request) (*llm.Response, error)
}

// Evaluator asks the model whether one of the similar stored analyses
// answers the question as-is.
type Evaluator struct {
	dispatcher Dispatcher
	model      string
	threshold  float64
	logger     *slog.Logger
}

// NewEvaluator builds a reuse evaluator. threshold is the similarity floor
// below which candidates are never offered, and the confidence floor a
// positive verdict must clear.
func NewEvaluator(dispatcher Dispatcher, model string, threshold float64) *Evaluator {
	return &Evaluator{
		dispatcher: dispatcher,
		model:      model,
		threshold:  threshold,
		logger:     slog.Default(),
	}
}

const evaluatePrompt = `A user asked a financial analysis question. Below are stored analyses
ranked by similarity to the question. Decide whether one of them answers the
question as-is.

Question: %s

Stored analyses:
%s

Reply with a single JSON object and nothing else:
{"reuse_decision": {"should_reuse": true, "existing_function_name": "<name>", "confidence": <0..1>, "reason": "<why>", "parameters": {...}}}
or
{"reuse_decision": {"should_reuse": false, "reason": "<why>"}}

should_reuse must be true only when a stored analysis answers the question
without modification beyond its declared parameters.`

// Evaluate returns the model's reuse verdict, or nil when no judgment could
// be made: no candidate clears the similarity floor, the model emits no
// structured decision, or a positive decision misses the confidence floor.
// A nil decision means the caller proceeds to script generation.
func (e *Evaluator) Evaluate(ctx context.Context, query string, candidates []search.AnalysisCandidate) (*conversation.ReuseDecision, error) {
	eligible := make([]search.AnalysisCandidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Similarity >= e.threshold {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		return nil, nil
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].Similarity > eligible[j].Similarity
	})

	resp, err := e.dispatcher.MakeRequest(ctx, &llm.Request{
		Messages: []agent.ConversationMessage{{
			Role:    agent.RoleUser,
			Content: fmt.Sprintf(evaluatePrompt, query, renderCandidates(eligible)),
		}},
		Model:       e.model,
		MaxTokens:   evaluatorMaxTokens,
		Temperature: evaluatorTemperature,
	})
	if err != nil {
		return nil, fmt.Errorf("reuse evaluation failed: %w", err)
	}

	verdict := conversation.ParseVerdict(resp.Content)
	if verdict == nil || verdict.Reuse == nil {
		e.logger.Warn("Reuse evaluator returned no structured decision")
		return nil, nil
	}

	decision := verdict.Reuse
	if decision.ShouldReuse && decision.Confidence < e.threshold {
		e.logger.Info("Discarding low-confidence reuse verdict",
			"function", decision.ExistingFunctionName,
			"confidence", decision.Confidence)
		return nil, nil
	}
	if decision.ShouldReuse && !knownFunction(decision.ExistingFunctionName, eligible) {
		e.logger.Warn("Reuse verdict names an unknown function, discarding",
			"function", decision.ExistingFunctionName)
		return nil, nil
	}
	return decision, nil
}

func knownFunction(name string, candidates []search.AnalysisCandidate) bool {
	for _, c := range candidates {
		if c.FunctionName == name {
			return true
		}
	}
	return false
}

func renderCandidates(candidates []search.AnalysisCandidate) string {
	var b strings.Builder
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d. %s (similarity %.2f)\n", i+1, c.FunctionName, c.Similarity)
		if c.Question != "" {
			fmt.Fprintf(&b, "   Original question: %s\n", c.Question)
		}
		if c.Description != "" {
			fmt.Fprintf(&b, "   Description: %s\n", c.Description)
		}
		if len(c.Parameters) > 0 {
			fmt.Fprintf(&b, "   Parameters: %v\n", c.Parameters)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
