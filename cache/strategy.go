// Package cache is the request interceptor: an http.RoundTripper that
// classifies every outbound request by resource class and applies the
// matching caching strategy, transparently to callers. Cached responses live
// in the local store, in buckets namespaced by the active cache version tag.
package cache

import (
	"net/http"
	"path"
	"strings"
)

// Strategy is a per-resource-class caching behavior.
type Strategy int

const (
	// NetworkFirstDocument: fetch remote, cache, serve; offline falls back to
	// the last cached document, else the bundled offline page.
	NetworkFirstDocument Strategy = iota
	// CacheFirst: serve the cached copy immediately; fetch and cache on miss.
	CacheFirst
	// StaleWhileRevalidate: serve the cached copy while refreshing it in the
	// background.
	StaleWhileRevalidate
	// NetworkFirstAPI: fetch remote, cache, serve; offline serves the last
	// cached response.
	NetworkFirstAPI
	// NetworkOnly: pass through; offline yields a synthetic 503 so the caller
	// can route the write into the write-behind queue.
	NetworkOnly
)

var staticExts = map[string]bool{
	".js": true, ".css": true, ".woff": true, ".woff2": true, ".ttf": true, ".otf": true,
}

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true,
	".svg": true, ".ico": true, ".avif": true,
}

// Classify picks the strategy for a request. First matching rule wins.
func Classify(req *http.Request) Strategy {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return NetworkOnly
	}

	if req.Header.Get("Sec-Fetch-Mode") == "navigate" ||
		strings.Contains(req.Header.Get("Accept"), "text/html") {
		return NetworkFirstDocument
	}

	ext := strings.ToLower(path.Ext(req.URL.Path))
	if staticExts[ext] {
		return CacheFirst
	}
	if imageExts[ext] {
		return StaleWhileRevalidate
	}

	return NetworkFirstAPI
}

// bucketSuffix names the cache bucket a strategy stores into.
func (s Strategy) bucketSuffix() string {
	switch s {
	case NetworkFirstDocument:
		return "documents"
	case CacheFirst:
		return "static"
	case StaleWhileRevalidate:
		return "images"
	default:
		return "api"
	}
}
