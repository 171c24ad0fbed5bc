package mcp

import (
	"context"
	"time"

	"github.com/finsight-ai/finsight/pkg/config"
)

// ClientFactory creates connected Client instances.
type ClientFactory struct {
	registry *config.MCPServerRegistry

	// createClientFn overrides the connection path; set by test factories.
	createClientFn func(ctx context.Context, serverIDs []string) (*Client, error)
}

// NewClientFactory creates a new factory over the server registry.
func NewClientFactory(registry *config.MCPServerRegistry) *ClientFactory {
	return &ClientFactory{registry: registry}
}

// CreateClient creates a new Client connected to the specified servers.
// The caller is responsible for calling Close() when done.
func (f *ClientFactory) CreateClient(ctx context.Context, serverIDs []string) (*Client, error) {
	if f.createClientFn != nil {
		return f.createClientFn(ctx, serverIDs)
	}
	client := newClient(f.registry)
	if err := client.Initialize(ctx, serverIDs); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// CreateExecutor creates a fully-wired Executor with its catalog discovered.
// This is the primary entry point used at startup.
func (f *ClientFactory) CreateExecutor(
	ctx context.Context,
	serverIDs []string,
	forbidden map[string]bool,
	fanout int,
	callTimeout time.Duration,
) (*Executor, error) {
	client, err := f.CreateClient(ctx, serverIDs)
	if err != nil {
		return nil, err
	}
	executor := NewExecutor(client, serverIDs, forbidden, fanout, callTimeout)
	if err := executor.Discover(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return executor, nil
}
