package caresync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/caresync-labs/caresync/internal/bus"
	"github.com/caresync-labs/caresync/internal/cache"
	"github.com/caresync-labs/caresync/internal/classify"
	"github.com/caresync-labs/caresync/internal/cliconfig"
	"github.com/caresync-labs/caresync/internal/domain"
	"github.com/caresync-labs/caresync/internal/lifecycle"
	"github.com/caresync-labs/caresync/internal/ports"
	"github.com/caresync-labs/caresync/internal/server"
	"github.com/caresync-labs/caresync/internal/store"
	"github.com/caresync-labs/caresync/internal/strategy"
	"github.com/caresync-labs/caresync/internal/syncer"
	"github.com/caresync-labs/caresync/pkg/log"
)

// Config is the agent configuration. See cliconfig.DefaultConfig for defaults.
type Config = cliconfig.Config

// DrainSummary reports the outcome of a queue drain.
type DrainSummary = domain.DrainSummary

// QueuedMutation is one pending write captured while offline.
type QueuedMutation = domain.QueuedMutation

// Agent is an offline-tolerant sync agent for a clinical web application.
// It fronts the upstream EHR on a loopback listener: reads are cached and
// served stale during outages, writes are queued durably and replayed in
// order once connectivity returns. Use New() to create an instance, then
// Start() to begin serving.
type Agent struct {
	config cliconfig.Config
	opts   options
	run    *runState
	logger log.Logger

	upstream   *url.URL
	classifier *classify.Classifier
	bus        *bus.Bus
	engine     *strategy.Engine
	server     *server.Server
	watcher    *server.Connectivity

	// nil in degraded mode
	store       *store.Store
	cacheStore  ports.CacheStore
	caches      *cache.Manager
	mlog        ports.MutationLog
	coordinator *syncer.Coordinator

	plugins []Plugin

	// versionMu guards the version lifecycle managers.
	versionMu sync.Mutex
	active    *lifecycle.Manager
	incoming  *lifecycle.Manager

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an agent with the given configuration. The durable store is
// opened here; if that fails the agent still constructs, in degraded
// live-only mode, and logs the condition loudly.
// The instance is created in StateStopped; call Start() to begin serving.
func New(cfg Config, opts ...Option) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	o := defaultOptions(httpClient)
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger

	upstream, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse upstream: %v", domain.ErrInvalidConfig, err)
	}

	a := &Agent{
		config:     cfg,
		opts:       o,
		logger:     logger,
		upstream:   upstream,
		classifier: classify.New(upstream, cfg.AllowedOrigins),
		bus:        bus.New(logger),
		plugins:    o.plugins,
	}
	a.run = newRunState(logger, o.eventHandler)

	a.openStores()

	var drainer server.Drainer
	if a.mlog != nil {
		a.coordinator = syncer.New(a.mlog, o.httpClient, a.bus, logger)
		drainer = a.coordinator
	}
	a.engine = strategy.New(o.httpClient, upstream, a.caches, a.mlog, a.bus, logger)
	a.server = server.New(cfg.ListenAddr, a.classifier, a.engine, drainer, a, a.bus, a.mlog, logger)
	a.watcher = server.NewConnectivity(o.httpClient, upstream, cfg.PingPath, cfg.PingInterval, drainer, a.bus, logger)

	return a, nil
}

// openStores opens the mutation log and the configured cache backend. Any
// failure leaves the corresponding field nil: the agent runs without it
// rather than refusing to serve live traffic.
func (a *Agent) openStores() {
	if err := os.MkdirAll(a.config.DataDir, 0o700); err != nil {
		a.logger.Error("data directory unusable, running degraded",
			log.String("dir", a.config.DataDir),
			log.Err(errors.Join(domain.ErrStoreUnavailable, err)),
		)
		return
	}

	s, err := store.Open(filepath.Join(a.config.DataDir, "caresync.db"))
	if err != nil {
		a.logger.Error("durable store unavailable, running degraded",
			log.String("dir", a.config.DataDir),
			log.Err(errors.Join(domain.ErrStoreUnavailable, err)),
		)
	} else {
		a.store = s
		a.mlog = store.NewMutationLog(s)
	}

	switch a.config.CacheBackend {
	case cliconfig.BackendRedis:
		rs, err := cache.NewRedisStore(a.config.RedisURL)
		if err != nil {
			a.logger.Error("redis cache unavailable, serving live only",
				log.Err(errors.Join(domain.ErrStoreUnavailable, err)),
			)
			return
		}
		a.cacheStore = rs
	default:
		if a.store == nil {
			return
		}
		a.cacheStore = store.NewCacheStore(a.store)
	}
	a.caches = cache.NewManager(a.cacheStore, a.config.Version, a.logger)
}

// Start begins serving in the background.
// Returns immediately after the listener and workers are launched.
// Returns an error if already running or if startup fails.
// The provided context bounds the lifetime of the serving operation.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.run.CanStart() {
		return domain.ErrAlreadyRunning
	}
	if err := a.run.TransitionTo(StateStarting, "Start() called"); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.ctx = runCtx
	a.cancel = cancel
	a.run.SetCancel(cancel)

	pluginCfg := PluginConfig{
		DataDir:           a.config.DataDir,
		ConfigPath:        a.config.ConfigPath,
		UpstreamURL:       a.config.UpstreamURL,
		Version:           a.config.Version,
		Caches:            a.caches,
		SetAllowedOrigins: a.classifier.SetAllowedOrigins,
		Logger:            a.logger,
	}
	for _, p := range a.plugins {
		if err := p.Initialize(runCtx, pluginCfg); err != nil {
			a.logger.Error("plugin initialization failed",
				log.String("plugin", p.Name()),
				log.Err(err),
			)
			cancel()
			_ = a.run.TransitionTo(StateCrashed, "plugin init failed: "+p.Name())
			return err
		}
		a.logger.Info("plugin initialized", log.String("plugin", p.Name()))
	}

	// Install the configured version. With no clients connected yet this
	// activates immediately and runs the startup safety drain, replaying
	// anything left over from the previous run.
	if a.caches != nil {
		mgr := a.newVersionManager(a.config.Version)
		a.versionMu.Lock()
		a.incoming = mgr
		a.versionMu.Unlock()

		a.run.AddWorker()
		go func() {
			defer a.run.WorkerDone()
			if err := mgr.Install(runCtx); err != nil {
				if errors.Is(err, lifecycle.ErrSuperseded) {
					a.logger.Info("initial install abandoned", log.String("version", a.config.Version))
				} else {
					a.logger.Error("initial install failed", log.Err(err))
				}
				return
			}
			a.promoteIfActive(mgr)
		}()
	}

	a.run.AddWorker()
	go func() {
		defer a.run.WorkerDone()
		if err := a.server.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("server stopped", log.Err(err))
			_ = a.run.TransitionTo(StateCrashed, err.Error())
		}
	}()

	a.run.AddWorker()
	go func() {
		defer a.run.WorkerDone()
		if err := a.watcher.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("connectivity watcher stopped", log.Err(err))
		}
	}()

	if err := a.run.TransitionTo(StateRunning, "agent started"); err != nil {
		return err
	}
	a.logger.Info("agent running",
		log.String("listen", a.config.ListenAddr),
		log.String("upstream", a.config.UpstreamURL),
		log.String("version", a.config.Version),
		log.Bool("degraded", a.engine.Degraded()),
	)
	return nil
}

// Stop gracefully shuts down the agent.
// In-flight requests drain and the durable store is closed.
// Waits up to ShutdownTimeout before forcing shutdown.
// Returns nil on graceful shutdown, ErrShutdownTimeout if forced.
func (a *Agent) Stop() error {
	a.mu.Lock()

	if !a.run.CanStop() {
		a.mu.Unlock()
		return domain.ErrNotRunning
	}
	if err := a.run.TransitionTo(StateStopping, "Stop() called"); err != nil {
		a.mu.Unlock()
		return err
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.mu.Unlock()

	err := a.run.WaitWithTimeout(ShutdownTimeout)

	// Shutdown plugins (in reverse order)
	shutdownCtx := context.Background()
	for i := len(a.plugins) - 1; i >= 0; i-- {
		p := a.plugins[i]
		if shutdownErr := p.Shutdown(shutdownCtx); shutdownErr != nil {
			a.logger.Error("plugin shutdown failed",
				log.String("plugin", p.Name()),
				log.Err(shutdownErr),
			)
		} else {
			a.logger.Info("plugin shutdown complete", log.String("plugin", p.Name()))
		}
	}

	if closer, ok := a.cacheStore.(interface{ Close() error }); ok {
		if closeErr := closer.Close(); closeErr != nil {
			a.logger.Warn("cache backend close failed", log.Err(closeErr))
		}
	}
	if a.store != nil {
		if closeErr := a.store.Close(); closeErr != nil {
			a.logger.Warn("store close failed", log.Err(closeErr))
		}
	}

	if err != nil {
		_ = a.run.TransitionTo(StateCrashed, "shutdown timeout")
	} else {
		_ = a.run.TransitionTo(StateStopped, "graceful shutdown")
	}
	return err
}

// Status returns the current run state.
// Safe to call concurrently from any goroutine.
func (a *Agent) Status() State {
	return a.run.State()
}

// Degraded reports whether the agent is running without a durable store.
func (a *Agent) Degraded() bool {
	return a.engine.Degraded()
}

// ActiveVersion returns the currently active application version, or the
// configured version while the initial install is still running.
func (a *Agent) ActiveVersion() string {
	a.versionMu.Lock()
	defer a.versionMu.Unlock()
	if a.active != nil {
		return a.active.Version()
	}
	return a.config.Version
}

// QueueDepth returns the number of pending queued mutations.
func (a *Agent) QueueDepth(ctx context.Context) (int, error) {
	if a.mlog == nil {
		return 0, domain.ErrStoreUnavailable
	}
	return a.mlog.Count(ctx)
}

// PendingMutations returns every queued mutation in replay order.
func (a *Agent) PendingMutations(ctx context.Context) ([]QueuedMutation, error) {
	if a.mlog == nil {
		return nil, domain.ErrStoreUnavailable
	}
	return a.mlog.ListAll(ctx)
}

// DrainNow replays the queue immediately. If a drain is already in flight
// the request coalesces into it and the summary says so.
func (a *Agent) DrainNow(ctx context.Context) (DrainSummary, error) {
	if a.coordinator == nil {
		return DrainSummary{}, domain.ErrStoreUnavailable
	}
	return a.coordinator.Drain(ctx)
}

// ClearQueue drops every pending mutation and returns how many were
// dropped. Destructive; intended for operator use when queued work is
// known stale.
func (a *Agent) ClearQueue(ctx context.Context) (int, error) {
	if a.mlog == nil {
		return 0, domain.ErrStoreUnavailable
	}
	dropped, err := a.mlog.Clear(ctx)
	if err != nil {
		return 0, err
	}
	a.bus.Broadcast(domain.QueueDepthChanged{PendingCount: 0})
	return dropped, nil
}

// newVersionManager builds the lifecycle manager for one application version.
func (a *Agent) newVersionManager(version string) *lifecycle.Manager {
	var drainer lifecycle.Drainer
	if a.coordinator != nil {
		drainer = a.coordinator
	}
	return lifecycle.NewManager(
		version,
		a.caches,
		a.bus,
		drainer,
		a.bus,
		a.opts.httpClient,
		a.upstream,
		a.config.ShellAssets,
		a.logger,
	)
}

// Update begins installing a new application version: precache its shell,
// announce it, and activate once no client runs an older version.
// Implements the control API's update surface.
func (a *Agent) Update(ctx context.Context, version string) error {
	if a.caches == nil {
		return domain.ErrStoreUnavailable
	}

	a.versionMu.Lock()
	if a.active != nil && a.active.Version() == version {
		a.versionMu.Unlock()
		return fmt.Errorf("version %s is already active", version)
	}
	if a.incoming != nil && a.incoming.Version() == version {
		a.versionMu.Unlock()
		return fmt.Errorf("version %s is already installing", version)
	}
	// A newer update replaces any version still waiting to activate.
	if a.incoming != nil {
		if err := a.incoming.Supersede(); err != nil {
			a.logger.Warn("superseding pending version failed", log.Err(err))
		}
	}
	mgr := a.newVersionManager(version)
	a.incoming = mgr
	a.versionMu.Unlock()

	a.run.AddWorker()
	go func() {
		defer a.run.WorkerDone()
		a.mu.Lock()
		installCtx := a.ctx
		a.mu.Unlock()
		if installCtx == nil {
			installCtx = context.Background()
		}
		if err := mgr.Install(installCtx); err != nil {
			if errors.Is(err, lifecycle.ErrSuperseded) {
				a.logger.Info("install abandoned", log.String("version", version))
			} else {
				a.logger.Error("install failed", log.String("version", version), log.Err(err))
			}
			return
		}
		a.promoteIfActive(mgr)
	}()
	return nil
}

// MaybeActivate activates a waiting version if no client still runs an
// older one. Called by the control API when a client disconnects.
func (a *Agent) MaybeActivate(ctx context.Context) error {
	a.versionMu.Lock()
	mgr := a.incoming
	a.versionMu.Unlock()
	if mgr == nil {
		return nil
	}
	if err := mgr.MaybeActivate(ctx); err != nil {
		return err
	}
	a.promoteIfActive(mgr)
	return nil
}

// promoteIfActive makes mgr the active version once it reaches StateActive,
// superseding the previous one. Only the most recently requested version
// may promote: a manager replaced mid-install must never clobber a newer
// activation, whatever order the install goroutines finish in.
func (a *Agent) promoteIfActive(mgr *lifecycle.Manager) {
	if mgr.State() != lifecycle.StateActive {
		return
	}
	a.versionMu.Lock()
	defer a.versionMu.Unlock()
	if a.incoming != mgr {
		return
	}
	old := a.active
	a.active = mgr
	a.incoming = nil
	if old != nil && old != mgr {
		if err := old.Supersede(); err != nil {
			a.logger.Warn("superseding previous version failed", log.Err(err))
		}
	}
}
