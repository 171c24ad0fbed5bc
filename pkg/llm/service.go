package llm

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/finsight-ai/finsight/pkg/config"
)

// dispatchTimeout is the global per-request deadline applied to every
// provider dispatch, independent of the caller's own deadline.
const dispatchTimeout = 120 * time.Second

// defaultMaxTokens caps completion length when a request does not specify
// its own limit.
const defaultMaxTokens = 8192

// Service is the provider-agnostic façade the rest of the system talks to.
// It owns one provider adapter and a default model name; it carries no
// other state.
type Service struct {
	provider     Provider
	defaultModel string
}

// NewService wraps a provider with a default model.
func NewService(provider Provider, defaultModel string) *Service {
	return &Service{provider: provider, defaultModel: defaultModel}
}

// NewServiceFromConfig selects and constructs the provider named by
// LLM_PROVIDER, reading API keys from the environment.
func NewServiceFromConfig(opts *config.Options) (*Service, error) {
	switch opts.Provider {
	case config.ProviderAnthropic:
		provider, err := NewAnthropicProviderFromAPIKey(os.Getenv("ANTHROPIC_API_KEY"))
		if err != nil {
			return nil, err
		}
		return NewService(provider, opts.DefaultModel), nil
	case config.ProviderOpenAI:
		provider, err := NewOpenAIProviderFromAPIKey(os.Getenv("OPENAI_API_KEY"))
		if err != nil {
			return nil, err
		}
		return NewService(provider, opts.DefaultModel), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", opts.Provider)
	}
}

// Provider exposes the underlying adapter for one-time initialization
// (system prompt + tools) and message formatting.
func (s *Service) Provider() Provider { return s.provider }

// ProviderType reports the dialect in use.
func (s *Service) ProviderType() config.ProviderType { return s.provider.Type() }

// DefaultModel reports the configured default model identifier.
func (s *Service) DefaultModel() string { return s.defaultModel }

// MakeRequest forwards to the provider, filling in the default model and
// max-token cap and applying the global dispatch deadline.
func (s *Service) MakeRequest(ctx context.Context, req *Request) (*Response, error) {
	if req.Model == "" {
		req.Model = s.defaultModel
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = defaultMaxTokens
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()

	return s.provider.MakeRequest(dispatchCtx, req)
}
