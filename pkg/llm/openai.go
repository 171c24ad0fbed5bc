package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"github.com/finsight-ai/finsight/pkg/agent"
	"github.com/finsight-ai/finsight/pkg/config"
)

// ChatClient captures the subset of the go-openai client used by the
// provider. Satisfied by *openai.Client; tests pass a mock.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIProvider speaks the OpenAI-style dialect: system prompt as the
// leading message, tool calls on assistant messages, and one role=tool
// message per result. Prompt caching hints are not supported by this
// dialect; EnableCaching is ignored.
type OpenAIProvider struct {
	chat ChatClient

	mu           sync.RWMutex
	systemPrompt string
	tools        []agent.ToolDefinition
}

// NewOpenAIProvider builds a provider over an existing chat client.
func NewOpenAIProvider(chat ChatClient) *OpenAIProvider {
	return &OpenAIProvider{chat: chat}
}

// NewOpenAIProviderFromAPIKey constructs a provider with the default
// go-openai HTTP client.
func NewOpenAIProviderFromAPIKey(apiKey string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key is required")
	}
	return NewOpenAIProvider(openai.NewClient(apiKey)), nil
}

func (p *OpenAIProvider) Type() config.ProviderType { return config.ProviderOpenAI }

func (p *OpenAIProvider) SetSystemPrompt(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.systemPrompt = text
}

func (p *OpenAIProvider) SetTools(tools []agent.ToolDefinition) {
	copied := make([]agent.ToolDefinition, len(tools))
	copy(copied, tools)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tools = copied
}

func (p *OpenAIProvider) FormatToolCalls(calls []agent.ToolCall) agent.ConversationMessage {
	return agent.ConversationMessage{Role: agent.RoleAssistant, ToolCalls: calls}
}

func (p *OpenAIProvider) FormatToolResults(calls []agent.ToolCall, results []agent.ToolResult, cacheMarked []bool) agent.ConversationMessage {
	return agent.ConversationMessage{
		Role:        agent.RoleTool,
		ToolCalls:   calls,
		ToolResults: results,
		CacheMarked: cacheMarked,
	}
}

// MakeRequest encodes the conversation into a ChatCompletionRequest and
// normalizes the first choice back into text + tool calls.
func (p *OpenAIProvider) MakeRequest(ctx context.Context, req *Request) (*Response, error) {
	p.mu.RLock()
	systemPrompt := p.systemPrompt
	tools := p.tools
	p.mu.RUnlock()

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	for _, m := range req.Messages {
		encoded, err := encodeOpenAIMessage(m)
		if err != nil {
			return nil, err
		}
		messages = append(messages, encoded...)
	}

	request := openai.ChatCompletionRequest{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
		Tools:     encodeOpenAITools(tools),
	}
	if req.Temperature > 0 {
		request.Temperature = float32(req.Temperature)
	}

	response, err := p.chat.CreateChatCompletion(ctx, request)
	if err != nil {
		return nil, mapOpenAIError(err)
	}
	return translateOpenAIResponse(response)
}

// encodeOpenAIMessage expands one provider-agnostic message into its wire
// messages. A tool-result batch becomes one role=tool message per result.
func encodeOpenAIMessage(m agent.ConversationMessage) ([]openai.ChatCompletionMessage, error) {
	switch m.Role {
	case agent.RoleSystem:
		return []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: m.Content}}, nil

	case agent.RoleUser:
		return []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: m.Content}}, nil

	case agent.RoleAssistant:
		msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		return []openai.ChatCompletionMessage{msg}, nil

	case agent.RoleTool:
		if len(m.ToolResults) != len(m.ToolCalls) {
			return nil, fmt.Errorf("%w: %d tool results for %d calls",
				ErrMalformedResponse, len(m.ToolResults), len(m.ToolCalls))
		}
		out := make([]openai.ChatCompletionMessage, 0, len(m.ToolResults))
		for _, tr := range m.ToolResults {
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    tr.Content,
				ToolCallID: tr.CallID,
			})
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unsupported message role %q", m.Role)
	}
}

func encodeOpenAITools(defs []agent.ToolDefinition) []openai.Tool {
	if len(defs) == 0 {
		return nil
	}
	tools := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		var schemaMap map[string]any
		if def.ParametersSchema != "" {
			if err := json.Unmarshal([]byte(def.ParametersSchema), &schemaMap); err != nil {
				schemaMap = nil
			}
		}
		if schemaMap == nil {
			schemaMap = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  schemaMap,
			},
		})
	}
	return tools
}

func translateOpenAIResponse(resp openai.ChatCompletionResponse) (*Response, error) {
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}
	choice := resp.Choices[0]
	out := &Response{
		Content:    choice.Message.Content,
		StopReason: string(choice.FinishReason),
		Usage: agent.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, agent.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

func mapOpenAIError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403 {
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		return &HTTPError{Status: apiErr.HTTPStatusCode, Detail: err.Error()}
	}
	return fmt.Errorf("openai chat completion: %w", err)
}
