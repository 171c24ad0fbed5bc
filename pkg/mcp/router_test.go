package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQualifyToolName(t *testing.T) {
	assert.Equal(t, "finance__get_stock_price", QualifyToolName("finance", "get_stock_price"))
	assert.Equal(t, "yahoo-finance__quote", QualifyToolName("yahoo-finance", "quote"))
}

func TestSplitToolName(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantServer string
		wantTool   string
		wantErr    bool
	}{
		{
			name:       "simple",
			input:      "finance__quote",
			wantServer: "finance",
			wantTool:   "quote",
		},
		{
			name:       "tool with underscores",
			input:      "finance__get_stock_price",
			wantServer: "finance",
			wantTool:   "get_stock_price",
		},
		{
			name:       "hyphenated server",
			input:      "yahoo-finance__get_fundamentals",
			wantServer: "yahoo-finance",
			wantTool:   "get_fundamentals",
		},
		{
			name:    "no separator",
			input:   "get_stock_price",
			wantErr: true,
		},
		{
			name:    "single underscore only",
			input:   "finance_quote",
			wantErr: true,
		},
		{
			name:    "empty server",
			input:   "__quote",
			wantErr: true,
		},
		{
			name:    "empty tool",
			input:   "finance__",
			wantErr: true,
		},
		{
			name:    "dot separator rejected",
			input:   "finance.quote",
			wantErr: true,
		},
		{
			name:    "spaces rejected",
			input:   "finance__get price",
			wantErr: true,
		},
		{
			name:    "empty string",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, tool, err := SplitToolName(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantServer, server)
			assert.Equal(t, tt.wantTool, tool)
		})
	}
}

func TestSplitToolName_RoundTrip(t *testing.T) {
	qualified := QualifyToolName("finance", "get_income_statement")
	server, tool, err := SplitToolName(qualified)
	require.NoError(t, err)
	assert.Equal(t, "finance", server)
	assert.Equal(t, "get_income_statement", tool)
}
