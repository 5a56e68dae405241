package server

import (
	"context"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/caresync-labs/caresync/internal/domain"
	"github.com/caresync-labs/caresync/internal/ports"
	"github.com/caresync-labs/caresync/pkg/log"
)

// Default connectivity probe settings.
const (
	DefaultPingInterval = 15 * time.Second
	DefaultPingPath     = "/healthz"
	probeTimeout        = 5 * time.Second
)

// Drainer triggers a replay of the pending mutation queue.
type Drainer interface {
	Drain(ctx context.Context) (domain.DrainSummary, error)
}

// Connectivity watches the upstream with a periodic probe and triggers a
// drain on every offline-to-online transition. While offline it probes on
// an exponential backoff instead of the fixed interval, so recovery is
// noticed quickly after short outages without hammering a dead link.
type Connectivity struct {
	client   ports.HTTPClient
	probeURL string
	interval time.Duration
	drainer  Drainer
	notifier ports.Notifier
	logger   log.Logger

	online atomic.Bool
}

// NewConnectivity creates a watcher probing upstream at pingPath.
func NewConnectivity(
	client ports.HTTPClient,
	upstream *url.URL,
	pingPath string,
	interval time.Duration,
	drainer Drainer,
	notifier ports.Notifier,
	logger log.Logger,
) *Connectivity {
	if pingPath == "" {
		pingPath = DefaultPingPath
	}
	if interval <= 0 {
		interval = DefaultPingInterval
	}
	probe := *upstream
	probe.Path = pingPath
	probe.RawQuery = ""

	c := &Connectivity{
		client:   client,
		probeURL: probe.String(),
		interval: interval,
		drainer:  drainer,
		notifier: notifier,
		logger:   logger,
	}
	// Assume online until the first probe says otherwise: the hot path
	// always tries live first anyway.
	c.online.Store(true)
	return c
}

// Online reports the result of the most recent probe.
func (c *Connectivity) Online() bool {
	return c.online.Load()
}

// Run probes until the context is canceled.
func (c *Connectivity) Run(ctx context.Context) error {
	bo := newBackoff(DefaultBackoffInitial, c.interval)

	for {
		up := c.probe(ctx)
		c.observe(ctx, up)

		if up {
			bo.Reset()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.interval):
			}
			continue
		}

		if err := bo.Sleep(ctx); err != nil {
			return err
		}
	}
}

func (c *Connectivity) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.probeURL, nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// observe records a probe result and fires the recovery drain on an
// offline-to-online transition.
func (c *Connectivity) observe(ctx context.Context, up bool) {
	was := c.online.Swap(up)
	if was == up {
		return
	}

	if !up {
		c.logger.Warn("upstream unreachable, entering offline operation",
			log.String("probe", c.probeURL),
		)
		return
	}

	c.logger.Info("upstream reachable again, draining queued mutations",
		log.String("probe", c.probeURL),
	)
	if c.drainer == nil {
		return
	}
	summary, err := c.drainer.Drain(ctx)
	if err != nil {
		c.logger.Error("recovery drain failed", log.Err(err))
		return
	}
	if summary.Coalesced {
		return
	}
	c.logger.Info("recovery drain finished",
		log.Int("synced", summary.Synced),
		log.Int("failed", summary.Failed),
		log.Int("remaining", summary.Remaining),
	)
}
