// Package strategy implements the per-category fetch/cache/queue algorithms:
// the hot path every intercepted request runs through.
//
// Only network-layer failures (no response received) are ever queued. A
// server-returned error means the request did reach the server; blindly
// retrying would risk duplicate clinical side effects, so it is surfaced to
// the caller unchanged.
package strategy

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/caresync-labs/caresync/internal/cache"
	"github.com/caresync-labs/caresync/internal/domain"
	"github.com/caresync-labs/caresync/internal/ports"
	"github.com/caresync-labs/caresync/pkg/log"
)

// refreshTimeout bounds the background asset refresh, which is detached
// from the request context.
const refreshTimeout = 30 * time.Second

// Engine serves intercepted requests. With a nil cache manager or mutation
// log (durable store unavailable) it degrades to live-network-only: every
// request is forwarded, nothing is cached or queued, and the agent keeps
// running.
type Engine struct {
	client   ports.HTTPClient
	upstream *url.URL
	caches   *cache.Manager
	mlog     ports.MutationLog
	notifier ports.Notifier
	logger   log.Logger
}

// New creates an engine. caches and mlog may be nil (degraded mode).
func New(
	client ports.HTTPClient,
	upstream *url.URL,
	caches *cache.Manager,
	mlog ports.MutationLog,
	notifier ports.Notifier,
	logger log.Logger,
) *Engine {
	return &Engine{
		client:   client,
		upstream: upstream,
		caches:   caches,
		mlog:     mlog,
		notifier: notifier,
		logger:   logger,
	}
}

// Degraded reports whether the engine runs without a durable store.
func (e *Engine) Degraded() bool {
	return e.caches == nil || e.mlog == nil
}

// Handle serves one intercepted request according to its category. All
// failures are absorbed here: the caller always receives a response, never
// an error.
func (e *Engine) Handle(w http.ResponseWriter, r *http.Request, category domain.Category) {
	switch category {
	case domain.CategoryNavigation:
		e.handleNavigation(w, r)
	case domain.CategoryAPIRead:
		e.handleAPIRead(w, r)
	case domain.CategoryAPIMutation:
		e.handleAPIMutation(w, r)
	case domain.CategoryAsset:
		e.handleAsset(w, r)
	default:
		e.handleOther(w, r)
	}
}

// namespace returns the current version's namespace for the purpose, or nil
// in degraded mode. Resolved per request so an activation mid-flight hands
// out the new version's namespaces immediately.
func (e *Engine) namespace(p cache.Purpose) *cache.Namespace {
	if e.caches == nil {
		return nil
	}
	return e.caches.Namespace(p, e.caches.Version())
}

// targetURL resolves the upstream URL for an intercepted request. Relative
// URLs are rebased onto the configured upstream; absolute URLs (allow-listed
// origins) pass through as issued.
func (e *Engine) targetURL(r *http.Request) *url.URL {
	if r.URL.Host != "" {
		return r.URL
	}
	u := *e.upstream
	u.Path = r.URL.Path
	u.RawQuery = r.URL.RawQuery
	return &u
}

// forward issues the live call and reads the full response body.
// A returned error means no response reached the server.
func (e *Engine) forward(r *http.Request, body []byte) (*http.Response, []byte, error) {
	target := e.targetURL(r)

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	copyHeader(req.Header, r.Header)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		// The response started but the connection died: treat as a
		// network-layer failure.
		return nil, nil, err
	}
	return resp, respBody, nil
}

// cachePut stores a live response, tolerating store failures: a failed
// write only costs a future fallback.
func (e *Engine) cachePut(ctx context.Context, ns *cache.Namespace, key string, resp *http.Response, body []byte) {
	if ns == nil {
		return
	}
	err := ns.Put(ctx, key, domain.CachedResponse{
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: time.Now(),
	})
	if err != nil {
		e.logger.Warn("cache write failed", log.String("key", key), log.Err(err))
	}
}

// cacheGet looks a key up, tolerating store failures.
func (e *Engine) cacheGet(ctx context.Context, ns *cache.Namespace, key string) (domain.CachedResponse, bool) {
	if ns == nil {
		return domain.CachedResponse{}, false
	}
	cached, err := ns.Get(ctx, key)
	if err != nil {
		return domain.CachedResponse{}, false
	}
	return cached, true
}

// handleNavigation: live first; on success cache and return; on failure the
// most recent cached copy, then the cached shell index, then a placeholder.
func (e *Engine) handleNavigation(w http.ResponseWriter, r *http.Request) {
	key := cache.Key(r.Method, e.targetURL(r))
	pages := e.namespace(cache.PurposeDynamicRead)

	resp, body, err := e.forward(r, nil)
	if err == nil {
		if resp.StatusCode/100 == 2 && r.Method == http.MethodGet {
			e.cachePut(r.Context(), pages, key, resp, body)
		}
		writeLive(w, resp, body)
		return
	}

	if cached, ok := e.cacheGet(r.Context(), pages, key); ok {
		writeCached(w, cached, cacheStale)
		return
	}
	if cached, ok := e.cacheGet(r.Context(), e.namespace(cache.PurposeStaticShell), cache.IndexKey(e.upstream)); ok {
		writeCached(w, cached, cacheStale)
		return
	}
	writePlaceholderPage(w)
}

// handleAPIRead: live first, cache on success; stale cached copy on network
// failure; structured unavailable response on a cold miss.
func (e *Engine) handleAPIRead(w http.ResponseWriter, r *http.Request) {
	key := cache.Key(r.Method, e.targetURL(r))
	api := e.namespace(cache.PurposeAPIRead)

	resp, body, err := e.forward(r, nil)
	if err == nil {
		if resp.StatusCode/100 == 2 && r.Method == http.MethodGet {
			e.cachePut(r.Context(), api, key, resp, body)
			w.Header().Set(headerCache, cacheFresh)
		}
		writeLive(w, resp, body)
		return
	}

	if cached, ok := e.cacheGet(r.Context(), api, key); ok {
		writeCached(w, cached, cacheStale)
		return
	}
	writeUnavailable(w, e.Degraded())
}

// handleAPIMutation: live first, response surfaced unchanged whatever the
// status. Only a network-layer failure queues the request.
func (e *Engine) handleAPIMutation(w http.ResponseWriter, r *http.Request) {
	reqBody, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unreadable request body"})
		return
	}

	resp, respBody, err := e.forward(r, reqBody)
	if err == nil {
		// Reached the server. 4xx/5xx included: the caller sees the
		// original outcome and decides, this layer never retries it.
		writeLive(w, resp, respBody)
		return
	}

	if e.mlog == nil {
		e.logger.Warn("mutation lost to degraded mode", log.String("url", r.URL.String()))
		writeUnavailable(w, true)
		return
	}

	m := domain.QueuedMutation{
		Method:     r.Method,
		URL:        e.targetURL(r).String(),
		Header:     r.Header.Clone(),
		Body:       reqBody,
		EnqueuedAt: time.Now(),
	}
	id, err := e.mlog.Append(r.Context(), m)
	if err != nil {
		e.logger.Error("failed to queue mutation", log.String("url", m.URL), log.Err(err))
		writeUnavailable(w, true)
		return
	}

	pending, err := e.mlog.Count(r.Context())
	if err != nil {
		pending = -1
	} else {
		e.notifier.Broadcast(domain.QueueDepthChanged{PendingCount: pending})
	}

	e.logger.Info("mutation queued",
		log.Int64("id", id),
		log.String("method", m.Method),
		log.String("url", m.URL),
		log.Int("pending", pending),
	)
	writeQueued(w, id, pending)
}

// handleAsset: cache first, background refresh; live fetch on a cold miss;
// empty placeholder when both cache and network fail.
func (e *Engine) handleAsset(w http.ResponseWriter, r *http.Request) {
	key := cache.Key(r.Method, e.targetURL(r))
	shell := e.namespace(cache.PurposeStaticShell)

	if cached, ok := e.cacheGet(r.Context(), shell, key); ok {
		go e.refreshAsset(r.Clone(context.Background()), key)
		writeCached(w, cached, cacheFresh)
		return
	}

	resp, body, err := e.forward(r, nil)
	if err == nil {
		if resp.StatusCode/100 == 2 && r.Method == http.MethodGet {
			e.cachePut(r.Context(), shell, key, resp, body)
		}
		writeLive(w, resp, body)
		return
	}

	// Non-critical asset: an empty body beats an error page mid-shift.
	w.Header().Set(headerCache, "placeholder")
	w.WriteHeader(http.StatusOK)
}

// refreshAsset re-fetches an asset and refreshes the cache without blocking
// the response that was served from cache.
func (e *Engine) refreshAsset(r *http.Request, key string) {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	resp, body, err := e.forward(r.WithContext(ctx), nil)
	if err != nil || resp.StatusCode/100 != 2 {
		return
	}
	e.cachePut(ctx, e.namespace(cache.PurposeStaticShell), key, resp, body)
}

// handleOther: live first, cached fallback for GETs; non-GET traffic is
// never cached and never queued.
func (e *Engine) handleOther(w http.ResponseWriter, r *http.Request) {
	var reqBody []byte
	if r.Body != nil {
		var err error
		reqBody, err = io.ReadAll(r.Body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unreadable request body"})
			return
		}
	}

	key := cache.Key(r.Method, e.targetURL(r))
	pages := e.namespace(cache.PurposeDynamicRead)

	resp, body, err := e.forward(r, reqBody)
	if err == nil {
		if resp.StatusCode/100 == 2 && r.Method == http.MethodGet {
			e.cachePut(r.Context(), pages, key, resp, body)
		}
		writeLive(w, resp, body)
		return
	}

	if r.Method == http.MethodGet {
		if cached, ok := e.cacheGet(r.Context(), pages, key); ok {
			writeCached(w, cached, cacheStale)
			return
		}
	}
	writeUnavailable(w, e.Degraded())
}

// Passthrough forwards a request the agent does not own: live only, no
// classification, no cache, no queue.
func (e *Engine) Passthrough(w http.ResponseWriter, r *http.Request) {
	var reqBody []byte
	if r.Body != nil {
		var err error
		reqBody, err = io.ReadAll(r.Body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unreadable request body"})
			return
		}
	}

	resp, body, err := e.forward(r, reqBody)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": "upstream unreachable"})
		return
	}
	writeLive(w, resp, body)
}
