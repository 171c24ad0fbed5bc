package conversation

import (
	"log/slog"
	"os"
	"strings"
)

// questionPlaceholder is substituted with the user question when rendering
// the analyze-message template.
const questionPlaceholder = "{user_question}"

// defaultSystemPrompt is used when no system prompt file is configured or
// readable. It instructs the model on the two terminal verdict shapes.
const defaultSystemPrompt = `You are a financial analysis orchestrator. You answer user questions about
markets, companies, and portfolios by composing calls to the available tools
and then emitting exactly one structured verdict.

Rules:
- Use the tools to gather the data you need. Tool names are qualified as
  server__tool. Never invent tool names.
- You never interpret financial data yourself beyond what is needed to decide
  which tools to call; the analysis is performed by the generated script.
- When you are done, reply with a single JSON object inside a fenced code
  block. The object must contain exactly one of these root keys:

  "reuse_decision": {
    "should_reuse": true|false,
    "existing_function_name": "<name of the stored analysis>",
    "confidence": 0.0-1.0,
    "reason": "<why this analysis fits or does not>"
  }

  "script_generation": {
    "status": "success"|"failed",
    "script_name": "<snake_case name>",
    "analysis_description": "<one sentence>",
    "mcp_calls": [ ...the tool calls the script performs... ],
    "final_error": "<only when status is failed>"
  }

- Do not add prose after the fenced verdict block.`

// defaultAnalyzeTemplate is the initial user message when no template file is
// configured or readable.
const defaultAnalyzeTemplate = `Analyze the following question and produce a structured verdict.

Question: {user_question}

First inspect the available analysis functions and market-data tools, then
either reuse an existing stored analysis or generate a new analysis script.`

// PromptSet holds the resolved system prompt and analyze-message template.
type PromptSet struct {
	SystemPrompt    string
	analyzeTemplate string
}

// LoadPrompts reads the prompt files, falling back to the built-in defaults
// when a file is missing or unreadable. A missing file is the normal case for
// development setups and logs at debug only.
func LoadPrompts(systemPromptFile, templateFile string) *PromptSet {
	return &PromptSet{
		SystemPrompt:    loadPromptFile(systemPromptFile, defaultSystemPrompt),
		analyzeTemplate: loadPromptFile(templateFile, defaultAnalyzeTemplate),
	}
}

func loadPromptFile(path, fallback string) string {
	if path == "" {
		return fallback
	}
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Debug("Prompt file not readable, using built-in default",
			"path", path, "error", err)
		return fallback
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return fallback
	}
	return text
}

// AnalyzeMessage renders the initial user message for a question. Context
// blocks from earlier turns are appended after the rendered template,
// separated by blank lines.
func (p *PromptSet) AnalyzeMessage(userQuestion string, contextBlocks []string) string {
	msg := strings.ReplaceAll(p.analyzeTemplate, questionPlaceholder, userQuestion)
	for _, block := range contextBlocks {
		block = strings.TrimSpace(block)
		if block != "" {
			msg += "\n\n" + block
		}
	}
	return msg
}
