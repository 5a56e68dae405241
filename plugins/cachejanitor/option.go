package cachejanitor

import "github.com/caresync-labs/caresync"

// WithCacheJanitor enables periodic cache garbage collection.
//
// Usage:
//
//	agent, err := caresync.New(cfg,
//	    cachejanitor.WithCacheJanitor(cachejanitor.DefaultConfig()),
//	)
func WithCacheJanitor(cfg Config) caresync.Option {
	return caresync.WithPlugin(New(cfg))
}
