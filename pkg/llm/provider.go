// Package llm provides the provider abstraction over the two supported LLM
// dialects (Anthropic native tool blocks, OpenAI role=tool messages) and a
// thin provider-agnostic service façade used by the conversation engine.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/finsight-ai/finsight/pkg/agent"
	"github.com/finsight-ai/finsight/pkg/config"
)

// Request is a single dispatch to the model.
type Request struct {
	Messages      []agent.ConversationMessage
	Model         string // empty = service default
	MaxTokens     int
	Temperature   float64
	EnableCaching bool
}

// Response is the normalized model output, identical across dialects.
type Response struct {
	Content    string
	ToolCalls  []agent.ToolCall
	Usage      agent.TokenUsage
	StopReason string
}

// Provider formats conversations for one LLM dialect and performs request
// I/O. The conversation engine depends only on this interface.
type Provider interface {
	// Type reports which dialect this provider speaks.
	Type() config.ProviderType

	// SetSystemPrompt populates the system prompt. Set once per service
	// instance; later calls replace it atomically.
	SetSystemPrompt(text string)

	// SetTools replaces the advertised tool catalog atomically.
	SetTools(tools []agent.ToolDefinition)

	// FormatToolCalls produces the assistant message carrying a tool-call
	// batch in provider-agnostic form. The dialect-native encoding happens
	// at dispatch time inside MakeRequest.
	FormatToolCalls(calls []agent.ToolCall) agent.ConversationMessage

	// FormatToolResults produces the tool message answering a call batch.
	// results[i] pairs with calls[i]. cacheMarked[i], when true, asks the
	// provider to annotate that result for prompt caching (dialects without
	// caching ignore it).
	FormatToolResults(calls []agent.ToolCall, results []agent.ToolResult, cacheMarked []bool) agent.ConversationMessage

	// MakeRequest dispatches one request and returns the normalized
	// response. Tool calls are returned in emission order.
	MakeRequest(ctx context.Context, req *Request) (*Response, error)
}

// Provider error kinds. These map to the stable PROVIDER_* codes surfaced
// at the service layer; the wrapped detail is logged, never returned to
// callers of the HTTP API.
var (
	ErrUnauthorized      = errors.New("provider rejected credentials")
	ErrTimeout           = errors.New("provider request timed out")
	ErrMalformedResponse = errors.New("provider returned a malformed response")
)

// HTTPError is a non-auth HTTP failure from the provider.
type HTTPError struct {
	Status int
	Detail string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("provider HTTP error %d: %s", e.Status, e.Detail)
}

// ErrorCode maps a provider error to its stable code.
func ErrorCode(err error) string {
	var httpErr *HTTPError
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "PROVIDER_UNAUTHORIZED"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "PROVIDER_TIMEOUT"
	case errors.Is(err, ErrMalformedResponse):
		return "PROVIDER_MALFORMED_RESPONSE"
	case errors.As(err, &httpErr):
		return "PROVIDER_HTTP_ERROR"
	default:
		return "PROVIDER_HTTP_ERROR"
	}
}
