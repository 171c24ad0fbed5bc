package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ProviderType selects the LLM dialect.
type ProviderType string

const (
	// ProviderAnthropic is the native tool-block dialect (single system
	// block, tool_use/tool_result content blocks, prompt caching).
	ProviderAnthropic ProviderType = "anthropic"

	// ProviderOpenAI is the OpenAI-style dialect (role=tool messages).
	ProviderOpenAI ProviderType = "openai"
)

// Options holds the recognized runtime options, populated from the
// environment with documented defaults. All durations are resolved here so the
// rest of the code never re-parses environment state.
type Options struct {
	Provider     ProviderType
	DefaultModel string
	ContextModel string

	SystemPromptFile    string
	MessageTemplateFile string

	SessionTTL           time.Duration
	SessionHistoryWindow int
	SessionMax           int

	SimilarityTopK      int
	SimilarityThreshold float64
	ReuseThreshold      float64

	IterationBudget    int
	ToolCallBudget     int
	MCPFanout          int
	RequestTimeout     time.Duration
	DispatchTimeout    time.Duration
	ToolCallTimeout    time.Duration

	ConfidenceAuto    float64
	ConfidenceConfirm float64

	EnableCaching      bool
	CacheableToolNames map[string]bool
}

// LoadOptions reads all recognized options from the environment, applying
// defaults for anything unset.
func LoadOptions() *Options {
	o := &Options{
		Provider:             ProviderType(getEnv("LLM_PROVIDER", string(ProviderAnthropic))),
		DefaultModel:         getEnv("DEFAULT_MODEL", "claude-sonnet-4-5"),
		ContextModel:         getEnv("CONTEXT_MODEL", "claude-haiku-4-5"),
		SystemPromptFile:     getEnv("SYSTEM_PROMPT_FILE", "config/system_prompt.txt"),
		MessageTemplateFile:  getEnv("ANALYSIS_MESSAGE_TEMPLATE_FILE", "config/analyze_message.txt"),
		SessionTTL:           time.Duration(getEnvInt("SESSION_TTL_MINUTES", 30)) * time.Minute,
		SessionHistoryWindow: getEnvInt("SESSION_HISTORY_WINDOW", 10),
		SessionMax:           getEnvInt("SESSION_MAX", 1000),
		SimilarityTopK:       getEnvInt("SIMILARITY_TOP_K", 5),
		SimilarityThreshold:  getEnvFloat("SIMILARITY_THRESHOLD", 0.3),
		ReuseThreshold:       getEnvFloat("REUSE_THRESHOLD", 0.6),
		IterationBudget:      getEnvInt("ITERATION_BUDGET", 20),
		ToolCallBudget:       getEnvInt("TOOL_CALL_BUDGET_PER_REQUEST", 64),
		MCPFanout:            getEnvInt("MCP_FANOUT", 8),
		RequestTimeout:       5 * time.Minute,
		DispatchTimeout:      120 * time.Second,
		ToolCallTimeout:      time.Duration(getEnvInt("TOOL_CALL_TIMEOUT_SECONDS", 60)) * time.Second,
		ConfidenceAuto:       getEnvFloat("CONFIDENCE_AUTO", 0.8),
		ConfidenceConfirm:    getEnvFloat("CONFIDENCE_CONFIRM", 0.5),
		EnableCaching:        getEnvBool("ENABLE_CACHING", true),
		CacheableToolNames:   parseNameSet(getEnv("CACHEABLE_TOOL_NAMES", "get_function_docstring")),
	}
	return o
}

// parseNameSet splits a comma-separated list into a lookup set.
func parseNameSet(raw string) map[string]bool {
	set := make(map[string]bool)
	for _, name := range strings.Split(raw, ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			set[name] = true
		}
	}
	return set
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
