// Package classify categorizes intercepted requests.
//
// Classification is a pure function of (method, URL, headers): no I/O, no
// state, deterministic. The Classifier additionally decides which origins
// the agent owns at all; cross-origin traffic not on the allow-list is
// passed through untouched so third-party requests are unaffected.
package classify

import (
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/caresync-labs/caresync/internal/domain"
)

// assetExtensions are path suffixes treated as static assets.
var assetExtensions = map[string]bool{
	".js":    true,
	".mjs":   true,
	".css":   true,
	".map":   true,
	".png":   true,
	".jpg":   true,
	".jpeg":  true,
	".gif":   true,
	".svg":   true,
	".ico":   true,
	".webp":  true,
	".woff":  true,
	".woff2": true,
	".ttf":   true,
}

// assetPrefixes are path prefixes treated as static assets regardless of
// extension.
var assetPrefixes = []string{"/static/", "/assets/"}

// Classify returns exactly one category for the request. It is total over
// the category set and never returns an error.
func Classify(method string, u *url.URL, header http.Header) domain.Category {
	method = strings.ToUpper(method)
	p := u.Path
	if p == "" {
		p = "/"
	}

	read := method == http.MethodGet || method == http.MethodHead

	if read && acceptsHTML(header) {
		return domain.CategoryNavigation
	}
	if read && isAssetPath(p) {
		return domain.CategoryAsset
	}
	if isAPIPath(p) {
		if read {
			return domain.CategoryAPIRead
		}
		return domain.CategoryAPIMutation
	}
	if read && acceptsJSON(header) {
		return domain.CategoryAPIRead
	}
	return domain.CategoryOther
}

func acceptsHTML(header http.Header) bool {
	return strings.Contains(header.Get("Accept"), "text/html")
}

func acceptsJSON(header http.Header) bool {
	return strings.Contains(header.Get("Accept"), "application/json")
}

func isAssetPath(p string) bool {
	for _, pre := range assetPrefixes {
		if strings.HasPrefix(p, pre) {
			return true
		}
	}
	return assetExtensions[strings.ToLower(path.Ext(p))]
}

func isAPIPath(p string) bool {
	return strings.HasPrefix(p, "/api/") || p == "/api"
}

// Classifier carries the interception boundary: the upstream origin the
// agent fronts plus an allow-list of additional origins. The allow-list is
// hot-reloadable (config watcher), so access is guarded.
type Classifier struct {
	upstream *url.URL

	mu      sync.RWMutex
	allowed map[string]bool
}

// New creates a Classifier owning the upstream origin and the given
// additional origins.
func New(upstream *url.URL, allowedOrigins []string) *Classifier {
	c := &Classifier{upstream: upstream}
	c.SetAllowedOrigins(allowedOrigins)
	return c
}

// Owns reports whether the agent intercepts requests for the URL's origin.
// Relative URLs (no host) belong to the upstream and are always owned.
func (c *Classifier) Owns(u *url.URL) bool {
	if u.Host == "" || hostsEqual(u, c.upstream) {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.allowed[strings.ToLower(u.Host)]
}

// SetAllowedOrigins replaces the cross-origin allow-list. Entries may be
// bare hosts or full URLs; only the host part is kept.
func (c *Classifier) SetAllowedOrigins(origins []string) {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		h := o
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			h = u.Host
		}
		if h != "" {
			allowed[strings.ToLower(h)] = true
		}
	}
	c.mu.Lock()
	c.allowed = allowed
	c.mu.Unlock()
}

func hostsEqual(a, b *url.URL) bool {
	return strings.EqualFold(a.Host, b.Host)
}
