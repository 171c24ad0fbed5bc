package config

import "errors"

var (
	// ErrMCPServerNotFound is returned when a server ID is not in the registry.
	ErrMCPServerNotFound = errors.New("MCP server not found")

	// ErrInvalidConfig is returned when the configuration file fails validation.
	ErrInvalidConfig = errors.New("invalid configuration")
)
