package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/calder/toolgate/internal/config"
)

// discoverToolServers lists the executable files directly under dir,
// sorted by name. Subdirectories and non-executable files are skipped.
func discoverToolServers(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read tool dir %s: %w", dir, err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.Mode()&0o111 == 0 {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	return paths, nil
}

var prefixCleaner = regexp.MustCompile(`[^a-zA-Z0-9_]+`)

// toolServerPrefix derives the adoption prefix from an executable's
// file name: extension stripped, invalid characters collapsed to
// underscores.
func toolServerPrefix(path string) string {
	name := filepath.Base(path)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	name = prefixCleaner.ReplaceAllString(name, "_")
	return strings.Trim(name, "_")
}

// loadToolDirs spawns every executable under the configured tool
// directories as a stdio server and adopts its tools. A broken server
// is logged and skipped so one bad file doesn't take the daemon down.
func (a *app) loadToolDirs(ctx context.Context) {
	log := a.logger()
	for _, dir := range a.cfg.ToolDirs {
		servers, err := discoverToolServers(dir)
		if err != nil {
			log.Warn().Str("dir", dir).Err(err).Msg("Tool directory scan failed")
			continue
		}
		for _, path := range servers {
			prefix := toolServerPrefix(path)
			if prefix == "" {
				log.Warn().Str("path", path).Msg("Cannot derive a prefix; skipping tool server")
				continue
			}
			bridge := config.BridgeConfig{Prefix: prefix, Transport: "stdio", Command: path}
			if err := a.connectBridge(ctx, bridge); err != nil {
				log.Warn().Str("path", path).Err(err).Msg("Tool server failed; continuing without it")
				continue
			}
			log.Info().Str("path", path).Str("prefix", prefix).Msg("Tool server adopted")
		}
	}
}
