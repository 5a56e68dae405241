package caresync

import (
	"context"

	"github.com/caresync-labs/caresync/internal/cache"
	"github.com/caresync-labs/caresync/pkg/log"
)

// Plugin extends the agent with optional background behavior. Plugins are
// initialized during Start, after the core components exist but before
// traffic flows, and shut down in reverse order during Stop.
type Plugin interface {
	// Name returns the plugin identifier, used in logs.
	Name() string

	// Initialize starts the plugin. The context is canceled when the
	// agent stops; long-running work must exit with it.
	Initialize(ctx context.Context, cfg PluginConfig) error

	// Shutdown stops the plugin and releases its resources.
	Shutdown(ctx context.Context) error
}

// PluginConfig carries the agent internals a plugin may need.
type PluginConfig struct {
	// DataDir is the agent's durable data directory.
	DataDir string

	// ConfigPath is the TOML config file the agent was started from.
	// Empty when the agent was configured without a file.
	ConfigPath string

	// UpstreamURL is the normalized upstream base URL.
	UpstreamURL string

	// Version is the application version the agent started with.
	Version string

	// Caches is the versioned cache manager. Nil in degraded mode.
	Caches *cache.Manager

	// SetAllowedOrigins replaces the interception allow-list at runtime.
	SetAllowedOrigins func(origins []string)

	// Logger is the agent's logger.
	Logger log.Logger
}

// EventHandler receives run state change notifications.
type EventHandler interface {
	OnStateChange(event StateChangeEvent)
}

// StateChangeEvent describes a run state transition.
type StateChangeEvent struct {
	Previous State
	Current  State
	Reason   string
}
