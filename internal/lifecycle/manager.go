// Package lifecycle implements the install/activate state machine for cache
// versions.
//
// A version moves installing → waiting → activating → active → superseded.
// A newer update can supersede a version from installing or waiting too,
// which aborts its install and forbids activation.
// Installing precaches the static shell (best-effort); waiting holds until
// no older version controls any client, or an operator forces the update;
// activating garbage-collects every namespace tagged with another version
// and claims all open clients; a safety drain runs after every activation.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/caresync-labs/caresync/internal/cache"
	"github.com/caresync-labs/caresync/internal/domain"
	"github.com/caresync-labs/caresync/internal/ports"
	"github.com/caresync-labs/caresync/pkg/log"
)

// ErrInvalidTransition is returned for a state change the machine forbids.
var ErrInvalidTransition = errors.New("caresync: invalid lifecycle transition")

// ErrSuperseded is returned by Install when a newer version replaced this
// one before it finished installing.
var ErrSuperseded = errors.New("caresync: version superseded during install")

// State is a cache-version lifecycle state.
type State int

const (
	StateInstalling State = iota
	StateWaiting
	StateActivating
	StateActive
	StateSuperseded
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateInstalling:
		return "installing"
	case StateWaiting:
		return "waiting"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	case StateSuperseded:
		return "superseded"
	default:
		return "unknown"
	}
}

// Drainer triggers the safety sweep after activation.
type Drainer interface {
	Drain(ctx context.Context) (domain.DrainSummary, error)
}

// Clients is the view of connected application instances the manager needs.
type Clients interface {
	// ClaimAll retags every connected client with the version.
	ClaimAll(version string) int

	// CountNotOn returns how many clients another version still controls.
	CountNotOn(version string) int
}

// Manager drives one version through the lifecycle.
type Manager struct {
	version     string
	caches      *cache.Manager
	clients     Clients
	drainer     Drainer
	notifier    ports.Notifier
	httpClient  ports.HTTPClient
	upstream    *url.URL
	shellAssets []string
	logger      log.Logger

	mu    sync.RWMutex
	state State
}

// NewManager creates a manager for the given version, starting in
// StateInstalling. shellAssets are upstream paths precached at install time;
// the index page "/" is always included.
func NewManager(
	version string,
	caches *cache.Manager,
	clients Clients,
	drainer Drainer,
	notifier ports.Notifier,
	httpClient ports.HTTPClient,
	upstream *url.URL,
	shellAssets []string,
	logger log.Logger,
) *Manager {
	return &Manager{
		version:     version,
		caches:      caches,
		clients:     clients,
		drainer:     drainer,
		notifier:    notifier,
		httpClient:  httpClient,
		upstream:    upstream,
		shellAssets: shellAssets,
		logger:      logger,
		state:       StateInstalling,
	}
}

// Version returns the version this manager installs.
func (m *Manager) Version() string { return m.version }

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// transitionTo validates and applies a state change.
func (m *Manager) transitionTo(newState State, reason string) error {
	m.mu.Lock()
	oldState := m.state

	valid := false
	switch oldState {
	case StateInstalling:
		valid = newState == StateWaiting || newState == StateSuperseded
	case StateWaiting:
		valid = newState == StateActivating || newState == StateSuperseded
	case StateActivating:
		valid = newState == StateActive
	case StateActive:
		valid = newState == StateSuperseded
	}
	if !valid {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, oldState, newState)
	}

	m.state = newState
	m.mu.Unlock()

	m.logger.Info("lifecycle transition",
		log.String("version", m.version),
		log.String("from", oldState.String()),
		log.String("to", newState.String()),
		log.String("reason", reason),
	)
	return nil
}

// Install precaches the static shell and moves installing → waiting. A
// missing individual asset is logged but never blocks the transition.
// Afterwards the version activates automatically if no older version
// controls any client.
func (m *Manager) Install(ctx context.Context) error {
	// Open the incoming version's namespaces for writes while the previous
	// version keeps serving.
	m.caches.BeginInstall(m.version)
	shell := m.caches.Namespace(cache.PurposeStaticShell, m.version)

	assets := m.shellAssets
	if !containsPath(assets, "/") {
		assets = append([]string{"/"}, assets...)
	}

	var cached, missing int
	for _, p := range assets {
		if m.State() == StateSuperseded {
			return ErrSuperseded
		}
		if err := m.precache(ctx, shell, p); err != nil {
			missing++
			m.logger.Warn("shell asset not cached",
				log.String("path", p),
				log.Err(err),
			)
			continue
		}
		cached++
	}
	m.logger.Info("static shell installed",
		log.String("version", m.version),
		log.Int("cached", cached),
		log.Int("missing", missing),
	)

	if err := m.transitionTo(StateWaiting, "shell cached"); err != nil {
		if m.State() == StateSuperseded {
			return ErrSuperseded
		}
		return err
	}
	m.notifier.Broadcast(domain.UpdateAvailable{Version: m.version})

	return m.MaybeActivate(ctx)
}

// precache fetches one shell asset from upstream and stores it. The index
// page "/" lands under cache.IndexKey, the key the navigation fallback
// reads.
func (m *Manager) precache(ctx context.Context, shell *cache.Namespace, p string) error {
	u := *m.upstream
	u.Path = strings.TrimSuffix(u.Path, "/") + p
	u.RawQuery = ""

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("upstream returned %d", resp.StatusCode)
	}

	body, err := readBody(resp)
	if err != nil {
		return err
	}
	return shell.Put(ctx, cache.Key(http.MethodGet, &u), domain.CachedResponse{
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: time.Now(),
	})
}

// MaybeActivate activates when waiting and no older version controls any
// client. Called after install and whenever a client detaches.
func (m *Manager) MaybeActivate(ctx context.Context) error {
	if m.State() != StateWaiting {
		return nil
	}
	if n := m.clients.CountNotOn(m.version); n > 0 {
		m.logger.Debug("activation deferred",
			log.String("version", m.version),
			log.Int("older_clients", n),
		)
		return nil
	}
	return m.Activate(ctx)
}

// Activate forces waiting → activating → active: deletes every namespace
// tagged with another version, claims all open clients, broadcasts, and
// runs the post-activation safety drain.
func (m *Manager) Activate(ctx context.Context) error {
	if err := m.transitionTo(StateActivating, "activation"); err != nil {
		return err
	}

	deleted, err := m.caches.Activate(ctx, m.version)
	if err != nil {
		// Namespace GC is retried by the janitor; activation proceeds.
		m.logger.Error("namespace garbage collection incomplete", log.Err(err))
	}

	claimed := m.clients.ClaimAll(m.version)
	m.logger.Info("version activated",
		log.String("version", m.version),
		log.Int("clients_claimed", claimed),
		log.Int("namespaces_deleted", len(deleted)),
	)

	if err := m.transitionTo(StateActive, "activation complete"); err != nil {
		return err
	}
	m.notifier.Broadcast(domain.Activated{Version: m.version})

	// Safety sweep: queued work from the previous version drains under the
	// new one.
	if m.drainer != nil {
		if _, err := m.drainer.Drain(ctx); err != nil {
			m.logger.Warn("post-activation drain failed", log.Err(err))
		}
	}
	return nil
}

// Supersede marks this version replaced by a newer one. Valid at any point
// before activation starts and again once active; a superseded manager
// aborts its install and can never activate.
func (m *Manager) Supersede() error {
	return m.transitionTo(StateSuperseded, "newer version requested")
}

func readBody(resp *http.Response) ([]byte, error) {
	return io.ReadAll(resp.Body)
}

func containsPath(paths []string, p string) bool {
	for _, x := range paths {
		if x == p {
			return true
		}
	}
	return false
}
