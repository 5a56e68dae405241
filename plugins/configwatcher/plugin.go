// Package configwatcher provides config file monitoring for the caresync
// agent. When enabled, it watches the agent's TOML config file and applies
// interception allow-list changes at runtime, so adding an allowed origin
// does not require restarting the agent mid-shift.
package configwatcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/caresync-labs/caresync"
	"github.com/caresync-labs/caresync/internal/cliconfig"
	"github.com/caresync-labs/caresync/pkg/log"
)

// Config holds configuration options for the config watcher plugin.
type Config struct {
	// DebounceDelay is the delay to wait after a file change before
	// reloading. Editors often produce several write events per save.
	// Default: 100 milliseconds
	DebounceDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DebounceDelay: 100 * time.Millisecond,
	}
}

// Plugin implements config file watching.
// It monitors the agent's config file and applies allow-list updates.
type Plugin struct {
	mu sync.Mutex

	debounceDelay time.Duration

	configPath string
	apply      func(origins []string)
	logger     log.Logger
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	debounce   *time.Timer
}

// New creates a config watcher plugin with the given configuration.
func New(cfg Config) *Plugin {
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = 100 * time.Millisecond
	}
	return &Plugin{
		debounceDelay: cfg.DebounceDelay,
	}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "configwatcher"
}

// Initialize sets up the plugin and starts the file watcher. Without a
// config file to watch the plugin stays idle.
func (p *Plugin) Initialize(ctx context.Context, cfg caresync.PluginConfig) error {
	p.mu.Lock()
	p.configPath = cfg.ConfigPath
	p.apply = cfg.SetAllowedOrigins
	p.logger = cfg.Logger
	p.mu.Unlock()

	if p.configPath == "" || p.apply == nil {
		p.logger.Warn("config watcher idle: no config file to watch")
		return nil
	}

	watchCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.logger.Info("config watcher initialized", log.String("path", p.configPath))

	p.wg.Add(1)
	go p.watchLoop(watchCtx)

	return nil
}

// Shutdown stops the config watcher.
func (p *Plugin) Shutdown(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	return nil
}

// watchLoop watches the config file's directory for changes. Watching the
// directory rather than the file survives rename-style atomic saves.
func (p *Plugin) watchLoop(ctx context.Context) {
	defer p.wg.Done()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		p.logger.Error("config watcher: failed to create watcher", log.Err(err))
		return
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(p.configPath)); err != nil {
		p.logger.Error("config watcher: failed to watch directory", log.Err(err))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(p.configPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			p.debounceReload(p.debounceDelay)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("config watcher: watcher error", log.Err(err))
		}
	}
}

func (p *Plugin) debounceReload(delay time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.debounce != nil {
		p.debounce.Stop()
	}
	p.debounce = time.AfterFunc(delay, p.Reload)
}

// Reload re-reads the config file and applies the allow-list. Other
// settings in the file are ignored: they take effect on the next restart.
func (p *Plugin) Reload() {
	fc, err := cliconfig.LoadFileConfig(p.configPath)
	if err != nil {
		p.logger.Warn("config reload failed",
			log.String("path", p.configPath),
			log.Err(err),
		)
		return
	}
	p.apply(fc.AllowedOrigins)
	p.logger.Info("interception allow-list reloaded",
		log.Int("origins", len(fc.AllowedOrigins)),
	)
}
