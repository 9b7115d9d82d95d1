package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/calder/toolgate/internal/config"
	"github.com/calder/toolgate/internal/logger"
	"github.com/calder/toolgate/pkg/history"
	"github.com/calder/toolgate/pkg/mcp"
	"github.com/calder/toolgate/pkg/registry"
	"github.com/calder/toolgate/pkg/toolkit"
)

// app bundles the wired runtime: config, logger, policy, registry,
// and optional history store and bridge clients.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	registry *registry.Registry
	policy   *registry.Policy
	history  *history.Store
	watcher  *config.Watcher
	clients  []*mcp.Client
}

// buildApp loads configuration and wires the runtime. Console logging
// goes to stderr so the stdio transport keeps stdout for the wire.
func buildApp(ctx context.Context, withBridges bool) (*app, error) {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	lg, err := logger.New(logger.Config{
		Level:   level,
		File:    cfg.Logging.File,
		Console: true,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &app{cfg: cfg, log: lg}

	secLevel, err := registry.ParseLevel(cfg.Security.Level)
	if err != nil {
		a.Close()
		return nil, err
	}
	policy, err := registry.NewPolicy(secLevel, cfg.Security.AllowedPaths, cfg.Security.DenyPatterns)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("build security policy: %w", err)
	}
	a.policy = policy

	opts := []registry.Option{
		registry.WithLogger(lg.GetZerolog()),
		registry.WithExecutor(registry.NewExecutor(registry.Limits{
			Timeout:        cfg.Execution.Timeout(),
			MaxConcurrent:  cfg.Execution.MaxConcurrent,
			MaxOutputBytes: cfg.Execution.MaxOutputBytes,
		})),
	}

	if cfg.History.Enabled {
		store, err := history.Open(history.Config{
			DBPath:        cfg.History.Path,
			Retention:     time.Duration(cfg.History.RetentionDays) * 24 * time.Hour,
			PruneSchedule: cfg.History.PruneSchedule,
			Logger:        lg.GetZerolog(),
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open history store: %w", err)
		}
		a.history = store
		opts = append(opts, registry.WithRecorder(store))
	}

	a.registry = registry.New(policy, opts...)

	if err := toolkit.RegisterCoreTools(a.registry, toolkit.Options{}); err != nil {
		a.Close()
		return nil, fmt.Errorf("register core tools: %w", err)
	}

	zl := lg.GetZerolog()

	if withBridges {
		for _, bridge := range cfg.Bridges {
			if err := a.connectBridge(ctx, bridge); err != nil {
				// A dead remote should not keep the daemon down.
				zl.Warn().
					Str("prefix", bridge.Prefix).
					Str("url", bridge.URL).
					Err(err).
					Msg("Bridge connection failed; continuing without it")
			}
		}
		a.loadToolDirs(ctx)
	}

	watcher, err := config.NewWatcher(loader, policy, lg.GetZerolog())
	if err != nil {
		zl.Warn().Err(err).Msg("Config watcher unavailable; reload disabled")
	} else {
		a.watcher = watcher
	}

	return a, nil
}

func (a *app) connectBridge(ctx context.Context, bridge config.BridgeConfig) error {
	var transport mcp.Transport
	var err error
	switch bridge.Transport {
	case "stdio":
		transport, err = mcp.SpawnCommand(bridge.Command, bridge.Args...)
	case "websocket":
		transport, err = mcp.DialWS(ctx, bridge.URL)
	case "http":
		transport, err = mcp.DialHTTP(ctx, bridge.URL)
	default:
		return fmt.Errorf("unsupported bridge transport %q", bridge.Transport)
	}
	if err != nil {
		return err
	}

	client := mcp.NewClient(
		mcp.ClientInfo{Name: "toolgate", Version: version},
		transport,
		mcp.WithClientLogger(a.log.GetZerolog()),
	)
	if err := client.Initialize(ctx); err != nil {
		client.Close()
		return err
	}

	adopted, err := mcp.AdoptTools(ctx, client, a.registry, bridge.Prefix)
	if err != nil {
		client.Close()
		return err
	}

	a.clients = append(a.clients, client)
	zl := a.log.GetZerolog()
	zl.Info().
		Str("prefix", bridge.Prefix).
		Int("tools", len(adopted)).
		Msg("Bridge connected")
	return nil
}

func (a *app) logger() zerolog.Logger { return a.log.GetZerolog() }

// Close tears the runtime down in reverse construction order.
func (a *app) Close() {
	for _, client := range a.clients {
		client.Close()
	}
	if a.watcher != nil {
		a.watcher.Close()
	}
	if a.history != nil {
		a.history.Close()
	}
	if a.log != nil {
		a.log.Close()
	}
}
