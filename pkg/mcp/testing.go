package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/finsight-ai/finsight/pkg/config"
)

// InjectSession injects a pre-connected MCP SDK session into the Client.
// Intended for test infrastructure wiring in-memory MCP servers without the
// real Initialize() transport path.
func (c *Client) InjectSession(serverID string, session *mcpsdk.ClientSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[serverID] = session
}

// NewTestClientFactory creates a ClientFactory that calls injectFn on each
// freshly-created Client instead of connecting real transports.
func NewTestClientFactory(registry *config.MCPServerRegistry, injectFn func(c *Client)) *ClientFactory {
	return &ClientFactory{
		registry: registry,
		createClientFn: func(_ context.Context, _ []string) (*Client, error) {
			c := newClient(registry)
			injectFn(c)
			return c, nil
		},
	}
}
