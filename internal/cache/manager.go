// Package cache implements the versioned cache namespace manager.
//
// Each agent version owns exactly one namespace per purpose (static shell,
// dynamic page reads, API reads). Namespace names embed the version tag;
// activating a version deletes every namespace tagged with any other version
// and revokes handles bound to superseded versions.
package cache

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/caresync-labs/caresync/internal/domain"
	"github.com/caresync-labs/caresync/internal/ports"
	"github.com/caresync-labs/caresync/pkg/log"
)

// Purpose identifies what a namespace stores.
type Purpose string

const (
	// PurposeStaticShell holds the application shell: index page and the
	// static assets precached at install time.
	PurposeStaticShell Purpose = "static-shell"

	// PurposeDynamicRead holds navigations cached as they are served.
	PurposeDynamicRead Purpose = "dynamic-read"

	// PurposeAPIRead holds idempotent API read responses.
	PurposeAPIRead Purpose = "api-read"
)

// Purposes lists every namespace purpose, one namespace per purpose per
// active version.
var Purposes = []Purpose{PurposeStaticShell, PurposeDynamicRead, PurposeAPIRead}

// prefix maps purposes to the short namespace name prefix.
func (p Purpose) prefix() string {
	switch p {
	case PurposeStaticShell:
		return "shell"
	case PurposeDynamicRead:
		return "pages"
	case PurposeAPIRead:
		return "api"
	default:
		return string(p)
	}
}

// NamespaceName returns the backend namespace for a purpose and version,
// e.g. "api-v7".
func NamespaceName(p Purpose, version string) string {
	return p.prefix() + "-" + version
}

// Key normalizes (method, URL) into the cache key. The fragment is dropped;
// the query is kept because reads with different queries are different
// resources.
func Key(method string, u *url.URL) string {
	c := *u
	c.Fragment = ""
	return strings.ToUpper(method) + " " + c.String()
}

// IndexKey is the cache key of the shell index page: a GET of the upstream
// base path with a trailing slash. The install precache and the navigation
// shell fallback must agree on this key, including for upstreams mounted
// under a base path.
func IndexKey(upstream *url.URL) string {
	u := *upstream
	u.Path = strings.TrimSuffix(u.Path, "/") + "/"
	u.RawQuery = ""
	return Key(http.MethodGet, &u)
}

// Manager tracks the active version, plus at most one version being
// installed, and hands out namespace handles. Handles bound to any other
// version fail immediately rather than touching stale data.
type Manager struct {
	backend ports.CacheStore
	logger  log.Logger

	mu         sync.RWMutex
	version    string
	installing string
}

// NewManager creates a manager over the backend with the given active
// version tag.
func NewManager(backend ports.CacheStore, version string, logger log.Logger) *Manager {
	return &Manager{backend: backend, logger: logger, version: version}
}

// Version returns the active version tag.
func (m *Manager) Version() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// BeginInstall marks version as installing: its namespace handles become
// usable before the version activates, so a new shell can be precached
// while the previous version still serves. A later BeginInstall replaces
// the slot and revokes the abandoned version's handles.
func (m *Manager) BeginInstall(version string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.installing = version
}

// Namespace returns a handle for the purpose under the given version. The
// handle stays valid only while that version is active or installing.
func (m *Manager) Namespace(p Purpose, version string) *Namespace {
	return &Namespace{
		manager: m,
		name:    NamespaceName(p, version),
		version: version,
		purpose: p,
	}
}

// Activate makes version the active one and garbage-collects every backend
// namespace tagged with a different version. Returns the deleted namespaces.
func (m *Manager) Activate(ctx context.Context, version string) ([]string, error) {
	m.mu.Lock()
	m.version = version
	if m.installing == version {
		m.installing = ""
	}
	installing := m.installing
	m.mu.Unlock()

	current := make(map[string]bool, len(Purposes))
	for _, p := range Purposes {
		current[NamespaceName(p, version)] = true
		if installing != "" {
			current[NamespaceName(p, installing)] = true
		}
	}

	existing, err := m.backend.Namespaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("list namespaces: %w", err)
	}

	var deleted []string
	for _, ns := range existing {
		if current[ns] {
			continue
		}
		if err := m.backend.DeleteNamespace(ctx, ns); err != nil {
			return deleted, fmt.Errorf("delete namespace %s: %w", ns, err)
		}
		m.logger.Info("deleted superseded cache namespace", log.String("namespace", ns))
		deleted = append(deleted, ns)
	}
	return deleted, nil
}

// Stale returns the backend namespaces owned by neither the active version
// nor one mid-install. Used by the janitor; Activate performs the actual
// deletion.
func (m *Manager) Stale(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	version := m.version
	installing := m.installing
	m.mu.RUnlock()

	current := make(map[string]bool, len(Purposes))
	for _, p := range Purposes {
		current[NamespaceName(p, version)] = true
		if installing != "" {
			current[NamespaceName(p, installing)] = true
		}
	}

	existing, err := m.backend.Namespaces(ctx)
	if err != nil {
		return nil, err
	}
	var stale []string
	for _, ns := range existing {
		if !current[ns] {
			stale = append(stale, ns)
		}
	}
	return stale, nil
}

// Backend exposes the underlying store for maintenance tasks.
func (m *Manager) Backend() ports.CacheStore {
	return m.backend
}

// Namespace is a handle over one versioned cache partition. All operations
// verify the handle's version is still active or installing.
type Namespace struct {
	manager *Manager
	name    string
	version string
	purpose Purpose
}

// Name returns the backend namespace name.
func (n *Namespace) Name() string { return n.name }

// Purpose returns what this namespace stores.
func (n *Namespace) Purpose() Purpose { return n.purpose }

func (n *Namespace) check() error {
	n.manager.mu.RLock()
	active := n.manager.version
	installing := n.manager.installing
	n.manager.mu.RUnlock()

	if n.version == active || (installing != "" && n.version == installing) {
		return nil
	}
	return domain.ErrNamespaceSuperseded
}

// Put stores a response under the normalized key.
func (n *Namespace) Put(ctx context.Context, key string, resp domain.CachedResponse) error {
	if err := n.check(); err != nil {
		return err
	}
	return n.manager.backend.Put(ctx, n.name, key, resp)
}

// Get returns the response stored under the key, or domain.ErrCacheMiss.
func (n *Namespace) Get(ctx context.Context, key string) (domain.CachedResponse, error) {
	if err := n.check(); err != nil {
		return domain.CachedResponse{}, err
	}
	return n.manager.backend.Get(ctx, n.name, key)
}
