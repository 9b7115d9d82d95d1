package config

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/calder/toolgate/pkg/registry"
)

// Watcher reloads the configuration file on change and applies the
// security section to a live policy. Reload can only tighten: a level
// raise or a path allow-list shrink is applied, anything that would
// loosen the policy is logged and ignored. Other sections require a
// restart.
type Watcher struct {
	loader *Loader
	policy *registry.Policy
	logger zerolog.Logger

	fsw  *fsnotify.Watcher
	once sync.Once
	done chan struct{}
}

// NewWatcher starts watching the loader's config file.
func NewWatcher(loader *Loader, policy *registry.Policy, logger zerolog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		loader: loader,
		policy: policy,
		logger: logger,
		fsw:    fsw,
		done:   make(chan struct{}),
	}

	// Watch the directory: editors replace files, which drops a watch
	// set on the file itself.
	if err := fsw.Add(filepath.Dir(loader.GetConfigPath())); err != nil {
		fsw.Close()
		return nil, err
	}

	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	target := filepath.Clean(w.loader.GetConfigPath())
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("Config watcher error")
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := w.loader.Load()
	if err != nil {
		w.logger.Error().Err(err).Msg("Config reload failed; keeping current settings")
		return
	}
	if err := Validate(cfg); err != nil {
		w.logger.Error().Err(err).Msg("Reloaded config invalid; keeping current settings")
		return
	}

	level, err := registry.ParseLevel(cfg.Security.Level)
	if err != nil {
		w.logger.Error().Err(err).Msg("Reloaded config has invalid security level")
		return
	}

	if level > w.policy.Level() {
		if err := w.policy.Tighten(level); err != nil {
			w.logger.Warn().Err(err).Msg("Could not apply security level from reload")
		}
	} else if level < w.policy.Level() {
		w.logger.Warn().
			Str("requested", level.String()).
			Str("active", w.policy.Level().String()).
			Msg("Ignoring security level loosening from config reload")
	}

	if len(cfg.Security.AllowedPaths) > 0 {
		if err := w.policy.RestrictPaths(cfg.Security.AllowedPaths); err != nil {
			w.logger.Warn().Err(err).Msg("Ignoring path allow-list change from config reload")
		}
	}

	w.logger.Info().Msg("Config reloaded")
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.fsw.Close()
	})
	return err
}
