package configwatcher

import "github.com/caresync-labs/caresync"

// WithConfigWatcher enables config file monitoring.
//
// Usage:
//
//	agent, err := caresync.New(cfg,
//	    configwatcher.WithConfigWatcher(configwatcher.DefaultConfig()),
//	)
func WithConfigWatcher(cfg Config) caresync.Option {
	return caresync.WithPlugin(New(cfg))
}
