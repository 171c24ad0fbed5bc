package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/finsight-ai/finsight/pkg/agent"
	"github.com/finsight-ai/finsight/pkg/config"
)

// cacheTTL is the ephemeral cache-control TTL applied to the system prompt,
// the last tool descriptor, and engine-marked tool results.
const cacheTTL = "1h"

// MessagesClient captures the subset of the Anthropic SDK used by the
// provider. Satisfied by *sdk.MessageService; tests pass a mock.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicProvider speaks the native tool-block dialect: a single system
// block list, tool_use blocks on assistant turns, and tool_result blocks
// grouped into one user message per batch.
type AnthropicProvider struct {
	msg MessagesClient

	mu           sync.RWMutex
	systemPrompt string
	tools        []agent.ToolDefinition
}

// NewAnthropicProvider builds a provider over an existing Messages client.
func NewAnthropicProvider(msg MessagesClient) *AnthropicProvider {
	return &AnthropicProvider{msg: msg}
}

// NewAnthropicProviderFromAPIKey constructs a provider with the default
// Anthropic HTTP client.
func NewAnthropicProviderFromAPIKey(apiKey string) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return NewAnthropicProvider(&ac.Messages), nil
}

func (p *AnthropicProvider) Type() config.ProviderType { return config.ProviderAnthropic }

func (p *AnthropicProvider) SetSystemPrompt(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.systemPrompt = text
}

func (p *AnthropicProvider) SetTools(tools []agent.ToolDefinition) {
	copied := make([]agent.ToolDefinition, len(tools))
	copy(copied, tools)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tools = copied
}

func (p *AnthropicProvider) FormatToolCalls(calls []agent.ToolCall) agent.ConversationMessage {
	return agent.ConversationMessage{Role: agent.RoleAssistant, ToolCalls: calls}
}

func (p *AnthropicProvider) FormatToolResults(calls []agent.ToolCall, results []agent.ToolResult, cacheMarked []bool) agent.ConversationMessage {
	return agent.ConversationMessage{
		Role:        agent.RoleTool,
		ToolCalls:   calls,
		ToolResults: results,
		CacheMarked: cacheMarked,
	}
}

// MakeRequest encodes the conversation into MessageNewParams, dispatches,
// and normalizes the response blocks back into text + tool calls.
func (p *AnthropicProvider) MakeRequest(ctx context.Context, req *Request) (*Response, error) {
	p.mu.RLock()
	systemPrompt := p.systemPrompt
	tools := p.tools
	p.mu.RUnlock()

	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}

	if systemPrompt != "" {
		block := sdk.TextBlockParam{Text: systemPrompt}
		if req.EnableCaching {
			block.CacheControl = ephemeralCacheControl()
		}
		params.System = []sdk.TextBlockParam{block}
	}

	encodedTools, err := encodeAnthropicTools(tools, req.EnableCaching)
	if err != nil {
		return nil, err
	}
	if len(encodedTools) > 0 {
		params.Tools = encodedTools
	}

	msgs, err := encodeAnthropicMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	params.Messages = msgs

	msg, err := p.msg.New(ctx, params)
	if err != nil {
		return nil, mapAnthropicError(err)
	}
	return translateAnthropicResponse(msg)
}

func ephemeralCacheControl() sdk.CacheControlEphemeralParam {
	cc := sdk.NewCacheControlEphemeralParam()
	cc.TTL = cacheTTL
	return cc
}

// encodeAnthropicTools converts descriptors to the native tool schema.
// When caching is enabled the last descriptor carries the cache breakpoint,
// covering the whole tool prefix.
func encodeAnthropicTools(defs []agent.ToolDefinition, enableCaching bool) ([]sdk.ToolUnionParam, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	toolList := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		schema, err := anthropicInputSchema(def.ParametersSchema)
		if err != nil {
			return nil, fmt.Errorf("tool %q schema: %w", def.Name, err)
		}
		u := sdk.ToolUnionParamOfTool(schema, def.Name)
		if u.OfTool != nil && def.Description != "" {
			u.OfTool.Description = sdk.String(def.Description)
		}
		toolList = append(toolList, u)
	}
	if enableCaching {
		last := &toolList[len(toolList)-1]
		if last.OfTool != nil {
			last.OfTool.CacheControl = ephemeralCacheControl()
		}
	}
	return toolList, nil
}

func anthropicInputSchema(raw string) (sdk.ToolInputSchemaParam, error) {
	if raw == "" {
		return sdk.ToolInputSchemaParam{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	return sdk.ToolInputSchemaParam{ExtraFields: m}, nil
}

func encodeAnthropicMessages(msgs []agent.ConversationMessage) ([]sdk.MessageParam, error) {
	conversation := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case agent.RoleSystem:
			// System text travels in params.System, not the message list.
			continue

		case agent.RoleUser:
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))

		case agent.RoleAssistant:
			blocks := make([]sdk.ContentBlockParamUnion, 0, 1+len(m.ToolCalls))
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, json.RawMessage(tc.Arguments), tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			conversation = append(conversation, sdk.NewAssistantMessage(blocks...))

		case agent.RoleTool:
			if len(m.ToolResults) != len(m.ToolCalls) {
				return nil, fmt.Errorf("%w: %d tool results for %d calls",
					ErrMalformedResponse, len(m.ToolResults), len(m.ToolCalls))
			}
			blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.ToolResults))
			for i, tr := range m.ToolResults {
				block := sdk.NewToolResultBlock(tr.CallID, tr.Content, tr.IsError)
				if i < len(m.CacheMarked) && m.CacheMarked[i] && block.OfToolResult != nil {
					block.OfToolResult.CacheControl = ephemeralCacheControl()
				}
				blocks = append(blocks, block)
			}
			conversation = append(conversation, sdk.NewUserMessage(blocks...))

		default:
			return nil, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}
	if len(conversation) == 0 {
		return nil, errors.New("at least one user message is required")
	}
	return conversation, nil
}

func translateAnthropicResponse(msg *sdk.Message) (*Response, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: nil message", ErrMalformedResponse)
	}
	resp := &Response{StopReason: string(msg.StopReason)}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Content += block.Text
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, agent.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: string(block.Input),
			})
		}
	}
	resp.Usage = agent.TokenUsage{
		InputTokens:      int(msg.Usage.InputTokens),
		OutputTokens:     int(msg.Usage.OutputTokens),
		TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		CacheReadTokens:  int(msg.Usage.CacheReadInputTokens),
		CacheWriteTokens: int(msg.Usage.CacheCreationInputTokens),
	}
	return resp, nil
}

func mapAnthropicError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var apierr *sdk.Error
	if errors.As(err, &apierr) {
		if apierr.StatusCode == 401 || apierr.StatusCode == 403 {
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		return &HTTPError{Status: apierr.StatusCode, Detail: err.Error()}
	}
	return fmt.Errorf("anthropic messages.new: %w", err)
}
