// Package caresync provides an embeddable offline-tolerant sync agent for
// clinical web applications.
//
// The agent runs as a loopback sidecar between a browser-based clinical
// application and its upstream EHR service. Reads flow through versioned
// caches and survive network outages; writes that cannot reach the server
// are captured into a durable ordered queue and replayed verbatim, in
// order, when connectivity returns.
//
// # Basic Usage
//
// To embed the agent in your application:
//
//	cfg := caresync.Config{
//	    UpstreamURL: "https://ehr.hospital.example",
//	    DataDir:     "/var/lib/caresync",
//	}
//
//	agent, err := caresync.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ctx := context.Background()
//	if err := agent.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	// ... run until shutdown signal ...
//
//	if err := agent.Stop(); err != nil {
//	    log.Printf("shutdown error: %v", err)
//	}
//
// Point the application's base URL at the agent's listen address; it
// intercepts the upstream origin and any configured allowed origins, and
// forwards everything else untouched.
//
// # Control API
//
// Clients talk to the agent itself under /caresync/v1/: an SSE event
// stream, queue inspection and drain triggers, and version updates. See
// the internal/server package for the full surface.
//
// # Degraded Mode
//
// If the durable store cannot be opened the agent still starts and
// forwards live traffic; only caching and write queuing are disabled. The
// condition is logged loudly and visible via [Agent.Degraded].
//
// # Dependency Injection
//
// For testing, you can inject custom implementations of external
// dependencies:
//
//	agent, err := caresync.New(cfg,
//	    caresync.WithHTTPClient(mockClient),
//	    caresync.WithLogger(customLogger),
//	)
//
// # Run States
//
// An Agent instance is in one of five states: [StateStopped],
// [StateStarting], [StateRunning], [StateStopping], or [StateCrashed].
// Use [Agent.Status] to query the current state.
//
// # Plugins
//
// Optional behavior ships as plugins:
//
//	import "github.com/caresync-labs/caresync/plugins/cachejanitor"
//	import "github.com/caresync-labs/caresync/plugins/configwatcher"
//
//	agent, err := caresync.New(cfg,
//	    cachejanitor.WithCacheJanitor(cachejanitor.DefaultConfig()),
//	    configwatcher.WithConfigWatcher(configwatcher.DefaultConfig()),
//	)
package caresync
