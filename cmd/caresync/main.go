package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/caresync-labs/caresync"
	"github.com/caresync-labs/caresync/internal/cliconfig"
	logpkg "github.com/caresync-labs/caresync/pkg/log"
	"github.com/caresync-labs/caresync/plugins/cachejanitor"
	"github.com/caresync-labs/caresync/plugins/configwatcher"
)

const helpDescription = `
Keep ward workstations working through network outages.

caresync runs as a loopback sidecar between the clinical web application and
the upstream EHR service. Point the application's base URL at the agent:

  - Reads are cached per application version and served stale when the
    network is down, tagged so clinicians can see their data's age.
  - Writes that cannot reach the server are queued durably, in order, and
    replayed verbatim the moment connectivity returns.
  - The application never sees a connection error mid-shift.

Clients subscribe to queue depth, sync results, and version updates on the
event stream at /caresync/v1/events.
`

var exampleUsage = strings.TrimSpace(`
  caresync --upstream https://ehr.hospital.example
  caresync --config /etc/caresync/config.toml --listen 127.0.0.1:8640
  caresync --upstream https://ehr.hospital.example --cache-backend redis --redis-url redis://localhost:6379/0
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	log := cliconfig.Logger()

	root := &cobra.Command{
		Use:     "caresync",
		Short:   "Offline-tolerant sync agent for clinical workstations",
		Long:    strings.TrimSpace(helpDescription),
		Example: exampleUsage,
		Version: fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Load config file first (default $HOME/.caresync/config.toml),
			// then environment, then flags. Flags always win.
			cfgFile := cfgPath
			if cfgFile == "" {
				cfgFile = cliconfig.DefaultConfigPath()
			}

			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

			if cfgFile != "" && cliconfig.FileExists(cfgFile) {
				fc, err := cliconfig.LoadFileConfig(cfgFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				if err := cliconfig.ApplyFileConfig(&cfg, fc, changed); err != nil {
					return err
				}
				cfg.ConfigPath = cfgFile
			}

			if err := cliconfig.ApplyEnvConfig(&cfg, changed); err != nil {
				return err
			}

			if err := cfg.Validate(); err != nil {
				return err
			}
			log.Info().Interface("config", cfg).Msg("configuration")

			agent, err := caresync.New(cfg,
				caresync.WithLogger(logpkg.NewZerologAdapterWithLogger(log)),
				cachejanitor.WithCacheJanitor(cachejanitor.DefaultConfig()),
				configwatcher.WithConfigWatcher(configwatcher.DefaultConfig()),
			)
			if err != nil {
				return fmt.Errorf("create agent: %w", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			if err := agent.Start(ctx); err != nil {
				return fmt.Errorf("start agent: %w", err)
			}

			doneCh := make(chan struct{})
			go func() {
				ticker := time.NewTicker(100 * time.Millisecond)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						status := agent.Status()
						if status == caresync.StateStopped || status == caresync.StateCrashed {
							close(doneCh)
							return
						}
					}
				}
			}()

			select {
			case <-sigCh:
				log.Info().Msg("received signal, stopping...")
			case <-doneCh:
				if agent.Status() == caresync.StateCrashed {
					log.Error().Msg("agent crashed")
				}
				return nil
			}

			if err := agent.Stop(); err != nil {
				return fmt.Errorf("stop agent: %w", err)
			}
			return nil
		},
	}

	// Flags
	root.Flags().StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.caresync/config.toml)")
	root.Flags().StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "loopback address the agent listens on")
	root.Flags().StringVar(&cfg.UpstreamURL, "upstream", cfg.UpstreamURL, "upstream EHR base URL")
	root.Flags().StringSliceVar(&cfg.AllowedOrigins, "allowed-origin", cfg.AllowedOrigins, "additional origin the agent intercepts (repeatable)")
	root.Flags().StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "durable data directory (default: $HOME/.caresync)")
	root.Flags().StringVar(&cfg.CacheBackend, "cache-backend", cfg.CacheBackend, "cache backend: sqlite or redis")
	root.Flags().StringVar(&cfg.RedisURL, "redis-url", cfg.RedisURL, "redis URL when the redis cache backend is selected")
	root.Flags().StringVar(&cfg.Version, "app-version", cfg.Version, "application version tag to install on startup")
	root.Flags().StringSliceVar(&cfg.ShellAssets, "shell-asset", cfg.ShellAssets, "application shell path precached on install (repeatable)")
	root.Flags().DurationVar(&cfg.HTTPTimeout, "timeout", cfg.HTTPTimeout, "HTTP timeout for upstream calls")
	root.Flags().DurationVar(&cfg.PingInterval, "ping-interval", cfg.PingInterval, "connectivity probe interval")
	root.Flags().StringVar(&cfg.PingPath, "ping-path", cfg.PingPath, "upstream path probed for connectivity")

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("caresync")
		os.Exit(1)
	}
}
