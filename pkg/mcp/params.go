package mcp

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// NormalizeToolArguments converts the raw argument payload of one tool call
// into the map the MCP server expects. Providers with native tool calling
// emit a JSON object, but plain-text fallbacks produce looser shapes: fenced
// JSON, a bare scalar, YAML, or "key: value" lines.
//
// Resolution order (first shape that decodes wins):
//  1. JSON object, with integers kept integral
//  2. JSON non-object (string, number, array) wrapped as {"input": value}
//  3. YAML carrying structure (arrays or nested maps)
//  4. "key: value" / "key=value" pairs, comma or newline separated
//  5. the raw string as {"input": text}
//
// Empty input means a no-argument tool and yields an empty map.
func NormalizeToolArguments(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(stripCodeFence(raw))
	if raw == "" {
		return map[string]any{}, nil
	}

	if args, ok := decodeJSONArguments(raw); ok {
		return args, nil
	}
	if args, ok := decodeYAMLArguments(raw); ok {
		return args, nil
	}
	if args, ok := decodeKeyValueArguments(raw); ok {
		return args, nil
	}
	return map[string]any{"input": raw}, nil
}

// stripCodeFence removes a surrounding markdown code fence, with or without
// a language tag, leaving everything else untouched.
func stripCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}
	rest := strings.TrimPrefix(trimmed, "```")
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	}
	rest = strings.TrimSpace(rest)
	return strings.TrimSuffix(rest, "```")
}

// decodeJSONArguments decodes a complete JSON document. Numbers are decoded
// via json.Number so "quarters": 8 stays integral for servers that validate
// integer parameters. Trailing text after the first value rejects the parse,
// keeping prose like "8 quarters of data" out of this branch.
func decodeJSONArguments(raw string) (map[string]any, bool) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	if dec.More() {
		return nil, false
	}

	v = concreteNumbers(v)
	if m, ok := v.(map[string]any); ok {
		return m, true
	}
	return map[string]any{"input": v}, true
}

// concreteNumbers replaces json.Number values with int64 where the value is
// integral and float64 otherwise, recursing through containers.
func concreteNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case []any:
		for i := range t {
			t[i] = concreteNumbers(t[i])
		}
	case map[string]any:
		for k := range t {
			t[k] = concreteNumbers(t[k])
		}
	}
	return v
}

// decodeYAMLArguments accepts YAML only when it carries structure (an array
// or nested map value). Flat "key: value" lines go through the key-value
// branch instead, which avoids claiming plain prose that happens to contain
// a colon.
func decodeYAMLArguments(raw string) (map[string]any, bool) {
	var m map[string]any
	if err := yaml.Unmarshal([]byte(raw), &m); err != nil || len(m) == 0 {
		return nil, false
	}
	for _, v := range m {
		switch v.(type) {
		case []any, map[string]any:
			return m, true
		}
	}
	return nil, false
}

// decodeKeyValueArguments parses "key: value" or "key=value" pairs separated
// by commas or newlines. All pairs must parse or the whole input is
// rejected; a value containing a comma mis-splits and falls through to the
// raw-string branch, which is lossy but safe.
func decodeKeyValueArguments(raw string) (map[string]any, bool) {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == '\n'
	})

	args := make(map[string]any)
	for _, field := range fields {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		key, value, ok := splitPair(field)
		if !ok {
			return nil, false
		}
		args[key] = coerceScalar(value)
	}

	if len(args) == 0 {
		return nil, false
	}
	return args, true
}

// splitPair splits one "key: value" or "key=value" fragment. Keys must be
// bare identifiers without spaces.
func splitPair(field string) (key, value string, ok bool) {
	for _, sep := range []string{":", "="} {
		idx := strings.Index(field, sep)
		if idx <= 0 {
			continue
		}
		k := strings.TrimSpace(field[:idx])
		if k != "" && !strings.Contains(k, " ") {
			return k, strings.TrimSpace(field[idx+1:]), true
		}
	}
	return "", "", false
}

// coerceScalar converts a textual value to the matching Go type: booleans,
// null, integers, then floats, falling back to the string itself. NaN and
// infinities stay strings since they are not representable in JSON.
func coerceScalar(s string) any {
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	case "null", "none":
		return nil
	}

	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	return s
}
