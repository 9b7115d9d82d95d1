// Package config loads, validates, and watches the daemon
// configuration.
package config

import (
	"time"
)

// Config is the toolgate daemon configuration.
type Config struct {
	// Security governs the policy engine.
	Security SecurityConfig `json:"security" mapstructure:"security"`

	// Execution bounds the sandboxed executor.
	Execution ExecutionConfig `json:"execution" mapstructure:"execution"`

	// Server configures the protocol endpoint.
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Bridges are remote servers whose tools are adopted at startup.
	Bridges []BridgeConfig `json:"bridges" mapstructure:"bridges"`

	// ToolDirs are directories scanned at startup; every executable
	// found is spawned as a stdio server and its tools adopted under a
	// prefix derived from the file name.
	ToolDirs []string `json:"tool_dirs" mapstructure:"tool_dirs"`

	// History configures execution persistence.
	History HistoryConfig `json:"history" mapstructure:"history"`

	// Logging configures structured log output.
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// DataDir is where state (history database) lives.
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// SecurityConfig holds the policy settings.
type SecurityConfig struct {
	// Level is one of unrestricted, safe, sandboxed, restricted.
	Level string `json:"level" mapstructure:"level"`
	// AllowedPaths are the path prefixes path-typed arguments may
	// target at sandboxed and restricted levels.
	AllowedPaths []string `json:"allowed_paths" mapstructure:"allowed_paths"`
	// DenyPatterns are glob patterns that always block a path.
	DenyPatterns []string `json:"deny_patterns" mapstructure:"deny_patterns"`
}

// ExecutionConfig bounds tool execution.
type ExecutionConfig struct {
	TimeoutSeconds int `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	MaxConcurrent  int `json:"max_concurrent" mapstructure:"max_concurrent"`
	MaxOutputBytes int `json:"max_output_bytes" mapstructure:"max_output_bytes"`
}

// Timeout returns the execution timeout as a duration.
func (e ExecutionConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// ServerConfig configures the protocol endpoint.
type ServerConfig struct {
	// Transport is one of stdio, websocket, http.
	Transport string `json:"transport" mapstructure:"transport"`
	Host      string `json:"host" mapstructure:"host"`
	Port      int    `json:"port" mapstructure:"port"`
}

// BridgeConfig names one remote server to bridge.
type BridgeConfig struct {
	// Prefix namespaces adopted tools as prefix_name.
	Prefix string `json:"prefix" mapstructure:"prefix"`
	// Transport is one of stdio, websocket, http.
	Transport string `json:"transport" mapstructure:"transport"`
	// URL is the remote endpoint for websocket and http bridges.
	URL string `json:"url" mapstructure:"url"`
	// Command and Args spawn a subprocess server for stdio bridges.
	Command string   `json:"command" mapstructure:"command"`
	Args    []string `json:"args" mapstructure:"args"`
}

// HistoryConfig configures execution persistence.
type HistoryConfig struct {
	Enabled       bool   `json:"enabled" mapstructure:"enabled"`
	Path          string `json:"path" mapstructure:"path"`
	RetentionDays int    `json:"retention_days" mapstructure:"retention_days"`
	PruneSchedule string `json:"prune_schedule" mapstructure:"prune_schedule"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	File   string `json:"file" mapstructure:"file"`
	Pretty bool   `json:"pretty" mapstructure:"pretty"`
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() *Config {
	return &Config{
		Security: SecurityConfig{
			Level: "safe",
		},
		Execution: ExecutionConfig{
			TimeoutSeconds: 30,
			MaxConcurrent:  16,
			MaxOutputBytes: 64 * 1024,
		},
		Server: ServerConfig{
			Transport: "stdio",
			Host:      "127.0.0.1",
			Port:      8719,
		},
		History: HistoryConfig{
			Enabled:       true,
			RetentionDays: 7,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
