package config

import "time"

// ServerConfig controls the optional network-facing surface (MCP HTTP/WebSocket
// binding) exposed by the nexus-agent serve command.
type ServerConfig struct {
	Host     string `yaml:"host"`
	HTTPPort int    `yaml:"http_port"`
}

// DatabaseConfig points at the durable Postgres-family store backing session
// snapshots and the async tool job registry.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}
