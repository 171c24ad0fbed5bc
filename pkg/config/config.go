// Package config loads and holds all runtime configuration: environment
// options, the MCP server registry, and the tool denylist.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the umbrella configuration object returned by Load and used
// throughout the application.
type Config struct {
	configPath string

	// Runtime options from the environment
	Options *Options

	// MCP server registry from the YAML config file
	MCPServerRegistry *MCPServerRegistry

	// ForbiddenTools are fully qualified "server__tool" names that must
	// never be executed regardless of what the catalog advertises.
	ForbiddenTools map[string]bool
}

// fileSchema mirrors the YAML configuration file layout.
type fileSchema struct {
	MCPServers     map[string]*MCPServerConfig `yaml:"mcp_servers"`
	ForbiddenTools []string                    `yaml:"forbidden_tools,omitempty"`
}

// Load reads the YAML configuration file and environment options.
// A missing file yields an empty registry (useful for tests and for
// deployments that configure MCP servers elsewhere).
func Load(path string) (*Config, error) {
	opts := LoadOptions()

	cfg := &Config{
		configPath:        path,
		Options:           opts,
		MCPServerRegistry: NewMCPServerRegistry(nil),
		ForbiddenTools:    make(map[string]bool),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}

	var file fileSchema
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: parse %q: %v", ErrInvalidConfig, path, err)
	}

	for id, server := range file.MCPServers {
		if server == nil {
			return nil, fmt.Errorf("%w: server %q has no configuration", ErrInvalidConfig, id)
		}
		if err := server.Transport.Validate(); err != nil {
			return nil, fmt.Errorf("server %q: %w", id, err)
		}
	}

	cfg.MCPServerRegistry = NewMCPServerRegistry(file.MCPServers)
	for _, name := range file.ForbiddenTools {
		cfg.ForbiddenTools[name] = true
	}
	return cfg, nil
}

// ConfigPath returns the configuration file path (for logging).
func (c *Config) ConfigPath() string {
	return c.configPath
}

// AllMCPServerIDs returns a sorted list of all configured MCP server IDs.
func (c *Config) AllMCPServerIDs() []string {
	return c.MCPServerRegistry.ServerIDs()
}
