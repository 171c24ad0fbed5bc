package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/finsight-ai/finsight/pkg/agent"
	"github.com/finsight-ai/finsight/pkg/config"
)

// ScriptedProvider is a Provider for tests: it replays a fixed sequence of
// responses (or errors) and records every request it receives.
type ScriptedProvider struct {
	Dialect config.ProviderType

	mu           sync.Mutex
	script       []ScriptStep
	next         int
	requests     []*Request
	systemPrompt string
	tools        []agent.ToolDefinition
}

// ScriptStep is one scripted dispatch outcome.
type ScriptStep struct {
	Response *Response
	Err      error
}

// NewScriptedProvider builds a test provider replaying the given steps.
func NewScriptedProvider(steps ...ScriptStep) *ScriptedProvider {
	return &ScriptedProvider{Dialect: config.ProviderAnthropic, script: steps}
}

// RespondWith is a convenience step carrying text and tool calls.
func RespondWith(content string, calls ...agent.ToolCall) ScriptStep {
	return ScriptStep{Response: &Response{Content: content, ToolCalls: calls}}
}

// FailWith is a convenience step carrying an error.
func FailWith(err error) ScriptStep {
	return ScriptStep{Err: err}
}

func (p *ScriptedProvider) Type() config.ProviderType { return p.Dialect }

func (p *ScriptedProvider) SetSystemPrompt(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.systemPrompt = text
}

func (p *ScriptedProvider) SetTools(tools []agent.ToolDefinition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tools = tools
}

func (p *ScriptedProvider) FormatToolCalls(calls []agent.ToolCall) agent.ConversationMessage {
	return agent.ConversationMessage{Role: agent.RoleAssistant, ToolCalls: calls}
}

func (p *ScriptedProvider) FormatToolResults(calls []agent.ToolCall, results []agent.ToolResult, cacheMarked []bool) agent.ConversationMessage {
	return agent.ConversationMessage{
		Role:        agent.RoleTool,
		ToolCalls:   calls,
		ToolResults: results,
		CacheMarked: cacheMarked,
	}
}

func (p *ScriptedProvider) MakeRequest(_ context.Context, req *Request) (*Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.next >= len(p.script) {
		return nil, fmt.Errorf("scripted provider exhausted after %d requests", len(p.script))
	}
	step := p.script[p.next]
	p.next++
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Response, nil
}

// Requests returns the recorded dispatches in order.
func (p *ScriptedProvider) Requests() []*Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Request, len(p.requests))
	copy(out, p.requests)
	return out
}

// SystemPrompt returns the last prompt set via SetSystemPrompt.
func (p *ScriptedProvider) SystemPrompt() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.systemPrompt
}

// Tools returns the last catalog set via SetTools.
func (p *ScriptedProvider) Tools() []agent.ToolDefinition {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tools
}
