package mcp

import (
	"fmt"
	"regexp"
)

// qualifiedNameRegex validates the "server__tool" format. The server part is
// matched lazily so the first double underscore is the separator; tool names
// may contain single underscores (e.g. "finance__get_stock_price").
var qualifiedNameRegex = regexp.MustCompile(`^(\w[\w-]*?)__(\w[\w-]*)$`)

// QualifyToolName joins a server ID and a bare tool name into the qualified
// form advertised to the model.
func QualifyToolName(serverID, toolName string) string {
	return serverID + "__" + toolName
}

// SplitToolName splits "server__tool" into (serverID, toolName, error).
// Validates format with strict regex: both parts must start with a word
// character and contain only word characters and hyphens.
func SplitToolName(name string) (serverID, toolName string, err error) {
	matches := qualifiedNameRegex.FindStringSubmatch(name)
	if matches == nil {
		return "", "", fmt.Errorf(
			"invalid tool name %q: must be in 'server__tool' format "+
				"(e.g., 'finance__get_stock_price')", name)
	}
	return matches[1], matches[2], nil
}
