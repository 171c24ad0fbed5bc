package llm

import (
	"context"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight-ai/finsight/pkg/agent"
)

type fakeMessagesClient struct {
	lastParams sdk.MessageNewParams
	msg        *sdk.Message
	err        error
}

func (f *fakeMessagesClient) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	f.lastParams = body
	if f.err != nil {
		return nil, f.err
	}
	return f.msg, nil
}

func TestEncodeAnthropicMessages_RoundTrip(t *testing.T) {
	p := NewAnthropicProvider(&fakeMessagesClient{})

	calls := []agent.ToolCall{
		{ID: "call_1", Name: "finance__get_stock_price", Arguments: `{"ticker":"AAPL"}`},
		{ID: "call_2", Name: "finance__get_stock_price", Arguments: `{"ticker":"MSFT"}`},
	}
	results := []agent.ToolResult{
		{CallID: "call_1", Name: calls[0].Name, Content: "231.10"},
		{CallID: "call_2", Name: calls[1].Name, Content: "415.22"},
	}

	msgs := []agent.ConversationMessage{
		{Role: agent.RoleUser, Content: "compare AAPL and MSFT"},
		p.FormatToolCalls(calls),
		p.FormatToolResults(calls, results, []bool{false, true}),
	}

	encoded, err := encodeAnthropicMessages(msgs)
	require.NoError(t, err)
	require.Len(t, encoded, 3)

	// Assistant turn carries one tool_use block per call, in order.
	assistant := encoded[1]
	assert.Equal(t, sdk.MessageParamRoleAssistant, assistant.Role)
	require.Len(t, assistant.Content, 2)
	require.NotNil(t, assistant.Content[0].OfToolUse)
	assert.Equal(t, "call_1", assistant.Content[0].OfToolUse.ID)
	require.NotNil(t, assistant.Content[1].OfToolUse)
	assert.Equal(t, "call_2", assistant.Content[1].OfToolUse.ID)

	// Result batch becomes one user message of tool_result blocks, and only
	// the marked result carries a cache annotation.
	batch := encoded[2]
	assert.Equal(t, sdk.MessageParamRoleUser, batch.Role)
	require.Len(t, batch.Content, 2)
	first := batch.Content[0].OfToolResult
	second := batch.Content[1].OfToolResult
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, "call_1", first.ToolUseID)
	assert.Equal(t, "call_2", second.ToolUseID)
	assert.Zero(t, first.CacheControl.Type)
	assert.NotZero(t, second.CacheControl.Type)
	assert.Equal(t, cacheTTL, string(second.CacheControl.TTL))
}

func TestEncodeAnthropicMessages_ResultCountMismatch(t *testing.T) {
	msgs := []agent.ConversationMessage{
		{Role: agent.RoleUser, Content: "hi"},
		{
			Role:        agent.RoleTool,
			ToolCalls:   []agent.ToolCall{{ID: "a"}, {ID: "b"}},
			ToolResults: []agent.ToolResult{{CallID: "a"}},
		},
	}
	_, err := encodeAnthropicMessages(msgs)
	require.ErrorIs(t, err, ErrMalformedResponse)
}

func TestAnthropicMakeRequest_CachingAnnotations(t *testing.T) {
	fake := &fakeMessagesClient{msg: &sdk.Message{}}
	p := NewAnthropicProvider(fake)
	p.SetSystemPrompt("You are a financial analyst.")
	p.SetTools([]agent.ToolDefinition{
		{Name: "finance__get_stock_price", Description: "Fetch a quote", ParametersSchema: `{"type":"object"}`},
		{Name: "finance__get_fundamentals", Description: "Fetch fundamentals", ParametersSchema: `{"type":"object"}`},
	})

	_, err := p.MakeRequest(context.Background(), &Request{
		Messages:      []agent.ConversationMessage{{Role: agent.RoleUser, Content: "price of AAPL?"}},
		Model:         "claude-sonnet-4-5",
		MaxTokens:     1024,
		EnableCaching: true,
	})
	require.NoError(t, err)

	params := fake.lastParams
	require.Len(t, params.System, 1)
	assert.NotZero(t, params.System[0].CacheControl.Type)

	// Only the last tool descriptor carries the cache breakpoint.
	require.Len(t, params.Tools, 2)
	require.NotNil(t, params.Tools[0].OfTool)
	require.NotNil(t, params.Tools[1].OfTool)
	assert.Zero(t, params.Tools[0].OfTool.CacheControl.Type)
	assert.NotZero(t, params.Tools[1].OfTool.CacheControl.Type)
}

func TestAnthropicMakeRequest_CachingDisabled(t *testing.T) {
	fake := &fakeMessagesClient{msg: &sdk.Message{}}
	p := NewAnthropicProvider(fake)
	p.SetSystemPrompt("You are a financial analyst.")
	p.SetTools([]agent.ToolDefinition{{Name: "finance__get_stock_price"}})

	_, err := p.MakeRequest(context.Background(), &Request{
		Messages:  []agent.ConversationMessage{{Role: agent.RoleUser, Content: "price of AAPL?"}},
		Model:     "claude-sonnet-4-5",
		MaxTokens: 1024,
	})
	require.NoError(t, err)

	params := fake.lastParams
	require.Len(t, params.System, 1)
	assert.Zero(t, params.System[0].CacheControl.Type)
	require.Len(t, params.Tools, 1)
	assert.Zero(t, params.Tools[0].OfTool.CacheControl.Type)
}

func TestMapAnthropicError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"unauthorized", &sdk.Error{StatusCode: 401}, ErrUnauthorized},
		{"forbidden", &sdk.Error{StatusCode: 403}, ErrUnauthorized},
		{"deadline", context.DeadlineExceeded, ErrTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapAnthropicError(tt.in), tt.want)
		})
	}

	var httpErr *HTTPError
	err := mapAnthropicError(&sdk.Error{StatusCode: 529})
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, 529, httpErr.Status)
}
