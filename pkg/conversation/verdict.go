package conversation

import (
	"encoding/json"
	"regexp"
)

// Script generation statuses.
const (
	ScriptStatusSuccess = "success"
	ScriptStatusFailed  = "failed"
)

// ReuseDecision is the structured verdict pointing at an existing stored
// analysis instead of generating a new script.
type ReuseDecision struct {
	ShouldReuse          bool           `json:"should_reuse"`
	ExistingFunctionName string         `json:"existing_function_name,omitempty"`
	Confidence           float64        `json:"confidence,omitempty"`
	Reason               string         `json:"reason,omitempty"`
	ScriptName           string         `json:"script_name,omitempty"`
	Parameters           map[string]any `json:"parameters,omitempty"`
	Execution            map[string]any `json:"execution,omitempty"`
}

// ScriptGeneration is the structured verdict describing a newly generated
// analysis script and the tool calls that informed it.
type ScriptGeneration struct {
	Status              string         `json:"status"`
	ScriptName          string         `json:"script_name,omitempty"`
	AnalysisDescription string         `json:"analysis_description,omitempty"`
	MCPCalls            []any          `json:"mcp_calls,omitempty"`
	Execution           map[string]any `json:"execution,omitempty"`
	FinalError          string         `json:"final_error,omitempty"`
}

// Verdict holds exactly one parsed terminal verdict.
type Verdict struct {
	Reuse  *ReuseDecision
	Script *ScriptGeneration
}

// fencedBlockRegex matches ``` or ```json fenced blocks, capturing the body.
var fencedBlockRegex = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// ParseVerdict scans assistant text for a structured verdict. Fenced JSON
// blocks are tried first in order, then the whole body. The first block that
// parses into a valid verdict shape wins; malformed or unknown JSON is
// ignored, not an error. Pure function: no state, no side effects.
func ParseVerdict(content string) *Verdict {
	for _, match := range fencedBlockRegex.FindAllStringSubmatch(content, -1) {
		if v := tryParseVerdict(match[1]); v != nil {
			return v
		}
	}
	return tryParseVerdict(content)
}

func tryParseVerdict(raw string) *Verdict {
	var root map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &root); err != nil {
		return nil
	}

	if blob, ok := root["reuse_decision"]; ok {
		if rd := parseReuseDecision(blob); rd != nil {
			return &Verdict{Reuse: rd}
		}
		return nil
	}

	if blob, ok := root["script_generation"]; ok {
		if sg := parseScriptGeneration(blob); sg != nil {
			return &Verdict{Script: sg}
		}
		return nil
	}

	return nil
}

// parseReuseDecision validates the reuse shape. should_reuse=true requires
// both existing_function_name and confidence to be present.
func parseReuseDecision(blob json.RawMessage) *ReuseDecision {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(blob, &fields); err != nil {
		return nil
	}
	var rd ReuseDecision
	if err := json.Unmarshal(blob, &rd); err != nil {
		return nil
	}
	if rd.ShouldReuse {
		if rd.ExistingFunctionName == "" {
			return nil
		}
		if _, ok := fields["confidence"]; !ok {
			return nil
		}
	}
	return &rd
}

// parseScriptGeneration validates the script shape. status is required;
// success additionally requires script_name and mcp_calls.
func parseScriptGeneration(blob json.RawMessage) *ScriptGeneration {
	var sg ScriptGeneration
	if err := json.Unmarshal(blob, &sg); err != nil {
		return nil
	}
	switch sg.Status {
	case ScriptStatusSuccess:
		if sg.ScriptName == "" || sg.MCPCalls == nil {
			return nil
		}
	case ScriptStatusFailed:
	default:
		return nil
	}
	return &sg
}
