// Package cachejanitor provides periodic cache garbage collection for the
// caresync agent. It removes namespaces left behind by superseded
// application versions and expires cache records older than a TTL, keeping
// workstation disk usage bounded across months of shifts.
package cachejanitor

import (
	"context"
	"sync"
	"time"

	"github.com/caresync-labs/caresync"
	"github.com/caresync-labs/caresync/internal/cache"
	"github.com/caresync-labs/caresync/pkg/log"
)

// Config holds configuration options for the cache janitor plugin.
type Config struct {
	// SweepInterval is how often the janitor runs.
	// Default: 1 hour
	SweepInterval time.Duration

	// EntryTTL is the age past which a cached record is deleted. Stale
	// reads are the point of the cache, but months-old clinical data is
	// worse than a placeholder.
	// Default: 7 days
	EntryTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SweepInterval: time.Hour,
		EntryTTL:      7 * 24 * time.Hour,
	}
}

// Plugin implements periodic cache garbage collection.
type Plugin struct {
	mu sync.Mutex

	sweepInterval time.Duration
	entryTTL      time.Duration

	caches *cache.Manager
	logger log.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a cache janitor plugin with the given configuration.
func New(cfg Config) *Plugin {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Hour
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 7 * 24 * time.Hour
	}
	return &Plugin{
		sweepInterval: cfg.SweepInterval,
		entryTTL:      cfg.EntryTTL,
	}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "cachejanitor"
}

// Initialize starts the sweep loop. With no cache manager (degraded mode)
// the plugin stays idle.
func (p *Plugin) Initialize(ctx context.Context, cfg caresync.PluginConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.caches = cfg.Caches
	p.logger = cfg.Logger
	if p.caches == nil {
		p.logger.Warn("cache janitor idle: no cache manager")
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.wg.Add(1)
	go p.run(runCtx)
	return nil
}

// Shutdown stops the sweep loop.
func (p *Plugin) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	return nil
}

func (p *Plugin) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep runs one garbage collection pass: stale namespaces first, then the
// TTL expiry over the surviving ones.
func (p *Plugin) Sweep(ctx context.Context) {
	stale, err := p.caches.Stale(ctx)
	if err != nil {
		p.logger.Warn("stale namespace listing failed", log.Err(err))
	}
	backend := p.caches.Backend()
	for _, ns := range stale {
		if err := backend.DeleteNamespace(ctx, ns); err != nil {
			p.logger.Warn("stale namespace delete failed",
				log.String("namespace", ns),
				log.Err(err),
			)
			continue
		}
		p.logger.Info("stale namespace deleted", log.String("namespace", ns))
	}

	cutoff := time.Now().Add(-p.entryTTL)
	namespaces, err := backend.Namespaces(ctx)
	if err != nil {
		p.logger.Warn("namespace listing failed", log.Err(err))
		return
	}
	var expired int
	for _, ns := range namespaces {
		n, err := backend.DeleteOlderThan(ctx, ns, cutoff)
		if err != nil {
			p.logger.Warn("ttl sweep failed",
				log.String("namespace", ns),
				log.Err(err),
			)
			continue
		}
		expired += n
	}
	if expired > 0 {
		p.logger.Info("expired cache records removed",
			log.Int("count", expired),
			log.Duration("ttl", p.entryTTL),
		)
	}
}
