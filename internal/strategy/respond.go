package strategy

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/caresync-labs/caresync/internal/domain"
)

// Response headers the agent adds so callers can tell where a body came
// from. X-Caresync-Cache is "fresh" for a live response that was just
// cached, "stale" for a cached body served because the network failed.
const (
	headerCache    = "X-Caresync-Cache"
	headerStoredAt = "X-Caresync-Stored-At"
	headerQueued   = "X-Caresync-Queued"

	cacheFresh = "fresh"
	cacheStale = "stale"
)

// offlinePlaceholder is the minimal page served for a navigation when
// nothing is cached at all.
const offlinePlaceholder = `<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>Offline</title></head>
<body>
<h1>Working offline</h1>
<p>The clinical system is not reachable and this page has not been cached yet.
Your queued changes will be sent automatically once the connection returns.</p>
</body>
</html>`

// writeLive copies an upstream response to the caller unchanged.
func writeLive(w http.ResponseWriter, resp *http.Response, body []byte) {
	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	w.Write(body)
}

// writeCached serves a stored response, tagged so the caller can tell it is
// not live.
func writeCached(w http.ResponseWriter, cached domain.CachedResponse, tag string) {
	copyHeader(w.Header(), cached.Header)
	w.Header().Set(headerCache, tag)
	w.Header().Set(headerStoredAt, cached.StoredAt.UTC().Format(time.RFC3339))
	w.WriteHeader(cached.Status)
	w.Write(cached.Body)
}

// writeUnavailable serves the structured offline response for reads with no
// cached fallback.
func writeUnavailable(w http.ResponseWriter, degraded bool) {
	writeJSON(w, http.StatusServiceUnavailable, map[string]any{
		"error":    "service unavailable and no cached copy exists",
		"offline":  true,
		"degraded": degraded,
	})
}

// writeQueued serves the optimistic "accepted, queued" response for a
// mutation captured into the log.
func writeQueued(w http.ResponseWriter, id int64, pending int) {
	w.Header().Set(headerQueued, "true")
	w.Header().Set("X-Caresync-Queue-Id", strconv.FormatInt(id, 10))
	writeJSON(w, http.StatusAccepted, map[string]any{
		"queued":   true,
		"id":       id,
		"pending":  pending,
		"queuedAt": time.Now().UTC().Format(time.RFC3339),
	})
}

// writePlaceholderPage serves the offline navigation placeholder.
func writePlaceholderPage(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set(headerCache, "placeholder")
	w.WriteHeader(http.StatusServiceUnavailable)
	w.Write([]byte(offlinePlaceholder))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// hop-by-hop headers are connection-scoped and never forwarded or stored.
var hopByHop = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		if hopByHop[http.CanonicalHeaderKey(k)] {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
