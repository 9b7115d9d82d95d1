package config

import (
	"fmt"
	"net/url"
	"path/filepath"

	"github.com/calder/toolgate/pkg/registry"
)

// Validate checks the configuration for contradictions before the
// daemon starts. It returns the first problem found.
func Validate(cfg *Config) error {
	if _, err := registry.ParseLevel(cfg.Security.Level); err != nil {
		return fmt.Errorf("security.level: %w", err)
	}
	for _, pattern := range cfg.Security.DenyPatterns {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("security.deny_patterns: invalid pattern %q: %w", pattern, err)
		}
	}

	if cfg.Execution.TimeoutSeconds < 0 {
		return fmt.Errorf("execution.timeout_seconds cannot be negative")
	}
	if cfg.Execution.MaxConcurrent < 0 {
		return fmt.Errorf("execution.max_concurrent cannot be negative")
	}
	if cfg.Execution.MaxOutputBytes < 0 {
		return fmt.Errorf("execution.max_output_bytes cannot be negative")
	}

	switch cfg.Server.Transport {
	case "stdio", "websocket", "http":
	default:
		return fmt.Errorf("server.transport must be stdio, websocket, or http; got %q", cfg.Server.Transport)
	}
	if cfg.Server.Transport != "stdio" {
		if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
			return fmt.Errorf("server.port must be in 1..65535; got %d", cfg.Server.Port)
		}
	}

	seen := make(map[string]struct{})
	for i, bridge := range cfg.Bridges {
		if bridge.Prefix == "" {
			return fmt.Errorf("bridges[%d].prefix is required", i)
		}
		if _, dup := seen[bridge.Prefix]; dup {
			return fmt.Errorf("bridges[%d].prefix %q is duplicated", i, bridge.Prefix)
		}
		seen[bridge.Prefix] = struct{}{}

		switch bridge.Transport {
		case "stdio":
			if bridge.Command == "" {
				return fmt.Errorf("bridges[%d].command is required for stdio bridges", i)
			}
		case "websocket", "http":
			if _, err := url.Parse(bridge.URL); err != nil || bridge.URL == "" {
				return fmt.Errorf("bridges[%d].url is invalid: %q", i, bridge.URL)
			}
		default:
			return fmt.Errorf("bridges[%d].transport must be stdio, websocket, or http; got %q", i, bridge.Transport)
		}
	}

	for i, dir := range cfg.ToolDirs {
		if dir == "" {
			return fmt.Errorf("tool_dirs[%d] cannot be empty", i)
		}
	}

	if cfg.History.Enabled && cfg.History.RetentionDays <= 0 {
		return fmt.Errorf("history.retention_days must be positive when history is enabled")
	}

	return nil
}
