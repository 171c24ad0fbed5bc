package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight-ai/finsight/pkg/agent"
	"github.com/finsight-ai/finsight/pkg/config"
)

func newTestExecutor(t *testing.T, forbidden map[string]bool, catalog []agent.ToolDefinition) *Executor {
	t.Helper()
	registry := config.NewMCPServerRegistry(nil)
	e := NewExecutor(newClient(registry), []string{"finance"}, forbidden, 8, time.Second)
	e.catalog = catalog
	e.known = make(map[string]bool, len(catalog))
	for _, def := range catalog {
		e.known[def.Name] = true
	}
	e.fingerprint = fingerprintCatalog(catalog)
	return e
}

func TestExecutorValidate(t *testing.T) {
	catalog := []agent.ToolDefinition{
		{Name: "finance__get_stock_price"},
		{Name: "finance__get_fundamentals"},
	}
	forbidden := map[string]bool{"finance__place_order": true}
	e := newTestExecutor(t, forbidden, catalog)

	tests := []struct {
		name     string
		calls    []agent.ToolCall
		wantOK   bool
		wantCode string
	}{
		{
			name:   "all known",
			calls:  []agent.ToolCall{{ID: "1", Name: "finance__get_stock_price"}},
			wantOK: true,
		},
		{
			name:     "unknown tool",
			calls:    []agent.ToolCall{{ID: "1", Name: "finance__nonexistent"}},
			wantCode: ViolationToolUnknown,
		},
		{
			name:     "forbidden tool",
			calls:    []agent.ToolCall{{ID: "1", Name: "finance__place_order"}},
			wantCode: ViolationToolForbidden,
		},
		{
			name: "mixed batch reports each violation",
			calls: []agent.ToolCall{
				{ID: "1", Name: "finance__get_stock_price"},
				{ID: "2", Name: "finance__place_order"},
			},
			wantCode: ViolationToolForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := e.Validate(tt.calls)
			if tt.wantOK {
				assert.True(t, report.OK())
				return
			}
			require.False(t, report.OK())
			assert.Equal(t, tt.wantCode, report.Violations[0].Code)
		})
	}
}

func TestExecutorValidate_ForbiddenWinsOverUnknown(t *testing.T) {
	// A denylisted tool is never in the catalog; the denylist verdict must
	// still be reported, not TOOL_UNKNOWN.
	e := newTestExecutor(t, map[string]bool{"finance__place_order": true}, nil)

	report := e.Validate([]agent.ToolCall{{ID: "1", Name: "finance__place_order"}})
	require.Len(t, report.Violations, 1)
	assert.Equal(t, ViolationToolForbidden, report.Violations[0].Code)
	assert.Len(t, report.Forbidden(), 1)
}

func TestExecutorFingerprint_OrderIndependent(t *testing.T) {
	a := fingerprintCatalog([]agent.ToolDefinition{
		{Name: "finance__quote", Description: "Fetch a quote"},
		{Name: "finance__fundamentals", Description: "Fetch fundamentals"},
	})
	b := fingerprintCatalog([]agent.ToolDefinition{
		{Name: "finance__fundamentals", Description: "Fetch fundamentals"},
		{Name: "finance__quote", Description: "Fetch a quote"},
	})
	assert.Equal(t, a, b)

	c := fingerprintCatalog([]agent.ToolDefinition{
		{Name: "finance__quote", Description: "Fetch a delayed quote"},
		{Name: "finance__fundamentals", Description: "Fetch fundamentals"},
	})
	assert.NotEqual(t, a, c)
}

func TestExecutorCatalog_ReturnsCopy(t *testing.T) {
	e := newTestExecutor(t, nil, []agent.ToolDefinition{{Name: "finance__quote"}})

	got := e.Catalog()
	got[0].Name = "mutated"

	again := e.Catalog()
	assert.Equal(t, "finance__quote", again[0].Name)
}

func TestExecutorExecute_ErrorsAsContent(t *testing.T) {
	e := newTestExecutor(t, nil, []agent.ToolDefinition{{Name: "finance__quote"}})

	calls := []agent.ToolCall{
		{ID: "1", Name: "not-a-qualified-name", Arguments: "{}"},
		{ID: "2", Name: "otherserver__quote", Arguments: "{}"},
		{ID: "3", Name: "finance__quote", Arguments: "{}"},
	}

	results := e.Execute(context.Background(), calls)
	require.Len(t, results, 3)

	// Results stay index-paired with their calls.
	assert.Equal(t, "1", results[0].CallID)
	assert.Equal(t, "2", results[1].CallID)
	assert.Equal(t, "3", results[2].CallID)

	// Malformed name.
	assert.True(t, results[0].IsError)
	assert.Contains(t, results[0].Content, "invalid tool name")

	// Server not configured.
	assert.True(t, results[1].IsError)
	assert.Contains(t, results[1].Content, "not available")

	// Valid route but no live session behind it.
	assert.True(t, results[2].IsError)
	assert.Contains(t, results[2].Content, "TOOL_EXECUTION_FAILED")
}

func TestExecutorExecute_OneFailureDoesNotCancelSiblings(t *testing.T) {
	e := newTestExecutor(t, nil, []agent.ToolDefinition{{Name: "finance__quote"}})

	calls := []agent.ToolCall{
		{ID: "1", Name: "bogus", Arguments: "{}"},
		{ID: "2", Name: "also-bogus", Arguments: "{}"},
	}
	results := e.Execute(context.Background(), calls)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.IsError)
		assert.NotEmpty(t, r.Content)
	}
}
