package mcp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/finsight-ai/finsight/pkg/agent"
)

// Violation codes returned by Validate.
const (
	ViolationToolUnknown   = "TOOL_UNKNOWN"
	ViolationToolForbidden = "TOOL_FORBIDDEN"
)

// Violation describes one rejected tool call.
type Violation struct {
	CallID   string
	ToolName string
	Code     string
	Reason   string
}

// ValidationReport is the outcome of validating a tool-call batch.
type ValidationReport struct {
	Violations []Violation
}

// OK reports whether every call in the batch passed validation.
func (r ValidationReport) OK() bool { return len(r.Violations) == 0 }

// Forbidden returns the subset of violations caused by the denylist.
func (r ValidationReport) Forbidden() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Code == ViolationToolForbidden {
			out = append(out, v)
		}
	}
	return out
}

// Executor discovers tools across configured MCP servers and executes
// validated tool-call batches with bounded concurrency. One Executor is
// shared by all requests; the catalog is cached until Refresh.
type Executor struct {
	client    *Client
	serverIDs []string
	forbidden map[string]bool // qualified names, never advertised or executed

	fanout      int
	callTimeout time.Duration

	mu          sync.RWMutex
	catalog     []agent.ToolDefinition
	known       map[string]bool // qualified name → advertised
	fingerprint string

	logger *slog.Logger
}

// NewExecutor builds an executor over an initialized client.
// forbidden holds qualified tool names that must never reach a server.
func NewExecutor(client *Client, serverIDs []string, forbidden map[string]bool, fanout int, callTimeout time.Duration) *Executor {
	if fanout <= 0 {
		fanout = 8
	}
	if callTimeout <= 0 {
		callTimeout = 60 * time.Second
	}
	if forbidden == nil {
		forbidden = map[string]bool{}
	}
	return &Executor{
		client:      client,
		serverIDs:   serverIDs,
		forbidden:   forbidden,
		fanout:      fanout,
		callTimeout: callTimeout,
		known:       make(map[string]bool),
		logger:      slog.Default(),
	}
}

// Discover lists tools from every configured server and rebuilds the catalog
// with qualified names. Servers that fail to list are skipped (partial tools
// are better than none). Denylisted tools are dropped from the catalog.
func (e *Executor) Discover(ctx context.Context) error {
	var catalog []agent.ToolDefinition
	known := make(map[string]bool)

	for _, serverID := range e.serverIDs {
		tools, err := e.client.ListTools(ctx, serverID)
		if err != nil {
			e.logger.Warn("Failed to list tools from MCP server",
				"server", serverID, "error", err)
			continue
		}
		for _, tool := range tools {
			qualified := QualifyToolName(serverID, tool.Name)
			if e.forbidden[qualified] {
				continue
			}
			known[qualified] = true
			catalog = append(catalog, agent.ToolDefinition{
				Name:             qualified,
				Description:      tool.Description,
				ParametersSchema: marshalSchema(tool.InputSchema),
			})
		}
	}

	e.mu.Lock()
	e.catalog = catalog
	e.known = known
	e.fingerprint = fingerprintCatalog(catalog)
	e.mu.Unlock()
	return nil
}

// Refresh invalidates every server's tool cache and re-runs discovery.
func (e *Executor) Refresh(ctx context.Context) error {
	for _, serverID := range e.serverIDs {
		e.client.InvalidateToolCache(serverID)
	}
	return e.Discover(ctx)
}

// Catalog returns a copy of the advertised tool descriptors.
func (e *Executor) Catalog() []agent.ToolDefinition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]agent.ToolDefinition, len(e.catalog))
	copy(out, e.catalog)
	return out
}

// Fingerprint returns a stable digest of the advertised catalog, used to
// detect tool-set drift between requests.
func (e *Executor) Fingerprint() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.fingerprint
}

// Validate checks a tool-call batch against the denylist and the advertised
// catalog. Forbidden calls are reported even when the tool is also unknown;
// the denylist verdict wins.
func (e *Executor) Validate(calls []agent.ToolCall) ValidationReport {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var report ValidationReport
	for _, call := range calls {
		switch {
		case e.forbidden[call.Name]:
			report.Violations = append(report.Violations, Violation{
				CallID:   call.ID,
				ToolName: call.Name,
				Code:     ViolationToolForbidden,
				Reason:   fmt.Sprintf("tool %q is forbidden by configuration", call.Name),
			})
		case !e.known[call.Name]:
			report.Violations = append(report.Violations, Violation{
				CallID:   call.ID,
				ToolName: call.Name,
				Code:     ViolationToolUnknown,
				Reason:   fmt.Sprintf("tool %q is not in the advertised catalog", call.Name),
			})
		}
	}
	return report
}

// Execute runs a validated batch concurrently, up to fanout calls at a time.
// results[i] pairs with calls[i]. Failures become error-flagged result
// content rather than Go errors, so one failing call never cancels its
// siblings; the model is expected to read the error and self-correct.
func (e *Executor) Execute(ctx context.Context, calls []agent.ToolCall) []agent.ToolResult {
	results := make([]agent.ToolResult, len(calls))
	sem := make(chan struct{}, e.fanout)
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(i int, call agent.ToolCall) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = e.executeOne(ctx, call)
		}(i, call)
	}
	wg.Wait()
	return results
}

// executeOne runs a single tool call with the per-call deadline applied.
func (e *Executor) executeOne(ctx context.Context, call agent.ToolCall) agent.ToolResult {
	serverID, toolName, err := SplitToolName(call.Name)
	if err != nil {
		return errorResult(call, err.Error())
	}
	if !slices.Contains(e.serverIDs, serverID) {
		return errorResult(call, fmt.Sprintf(
			"MCP server %q is not available. Available servers: %s",
			serverID, strings.Join(e.serverIDs, ", ")))
	}

	params, err := NormalizeToolArguments(call.Arguments)
	if err != nil {
		return errorResult(call, fmt.Sprintf("Failed to parse tool arguments: %s", err))
	}

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	result, err := e.client.CallTool(callCtx, serverID, toolName, params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return errorResult(call, fmt.Sprintf(
				"TOOL_EXECUTION_FAILED: tool call timed out after %s", e.callTimeout))
		}
		return errorResult(call, fmt.Sprintf("TOOL_EXECUTION_FAILED: %s", err))
	}

	return agent.ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Content: extractTextContent(result),
		IsError: result.IsError,
	}
}

// Close releases the underlying client (MCP transports, subprocesses).
func (e *Executor) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

func errorResult(call agent.ToolCall, content string) agent.ToolResult {
	return agent.ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Content: content,
		IsError: true,
	}
}

// fingerprintCatalog digests the sorted descriptors so the same tool set
// always produces the same fingerprint regardless of discovery order.
func fingerprintCatalog(catalog []agent.ToolDefinition) string {
	entries := make([]string, 0, len(catalog))
	for _, def := range catalog {
		entries = append(entries, def.Name+"\x00"+def.Description+"\x00"+def.ParametersSchema)
	}
	sort.Strings(entries)

	h := sha256.New()
	for _, entry := range entries {
		h.Write([]byte(entry))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// extractTextContent extracts text from an MCP CallToolResult, concatenating
// all TextContent items. Non-text content (images, embedded resources) is
// logged at debug level and skipped.
func extractTextContent(result *mcpsdk.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		} else {
			slog.Debug("MCP tool returned non-text content, skipping",
				"content_type", fmt.Sprintf("%T", c))
		}
	}
	return strings.Join(parts, "\n")
}

// marshalSchema serializes a tool's InputSchema to a JSON string.
func marshalSchema(schema any) string {
	if schema == nil {
		return ""
	}
	data, err := json.Marshal(schema)
	if err != nil {
		slog.Debug("Failed to marshal tool input schema", "error", err)
		return ""
	}
	return string(data)
}
