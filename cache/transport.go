package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/driftwell/driftwell-go/logging"
	"github.com/driftwell/driftwell-go/store/httpcache"
)

// OfflineHeader marks synthetic responses produced while unreachable.
const OfflineHeader = "X-Driftwell-Offline"

// defaultMaxCachedBody bounds what a single cached response may occupy.
// Larger responses are passed through untouched and never cached.
const defaultMaxCachedBody = 8 << 20

const offlineFallbackPage = `<!doctype html>
<html><head><title>Offline</title></head>
<body><h1>You are offline</h1><p>Reconnect to load this page.</p></body></html>`

// Transport applies the strategy table over an inner RoundTripper.
type Transport struct {
	inner   http.RoundTripper
	repo    httpcache.Repository
	version string
	log     logging.Logger

	// revalidateTimeout bounds background refreshes kicked off by
	// stale-while-revalidate hits.
	revalidateTimeout time.Duration

	// maxBody is the largest response body the transport will buffer for
	// caching. Anything bigger streams through uncached.
	maxBody int64
}

func NewTransport(inner http.RoundTripper, repo httpcache.Repository, version string, log logging.Logger) *Transport {
	if inner == nil {
		inner = http.DefaultTransport
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Transport{
		inner:             inner,
		repo:              repo,
		version:           version,
		log:               log,
		revalidateTimeout: 15 * time.Second,
		maxBody:           defaultMaxCachedBody,
	}
}

// stitchedBody re-attaches an already-buffered prefix to the rest of a live
// response stream.
type stitchedBody struct {
	io.Reader
	io.Closer
}

func (t *Transport) bucket(s Strategy) string {
	return t.version + "-" + s.bucketSuffix()
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	strategy := Classify(req)
	bucket := t.bucket(strategy)

	switch strategy {
	case NetworkOnly:
		resp, err := t.inner.RoundTrip(req)
		if err != nil {
			// The caller is responsible for routing this into the
			// write-behind queue.
			return t.offlineResponse(req), nil
		}
		return resp, nil

	case CacheFirst:
		if cached := t.load(req, bucket); cached != nil {
			return cached, nil
		}
		return t.fetchAndCache(req, bucket)

	case StaleWhileRevalidate:
		if cached := t.load(req, bucket); cached != nil {
			go t.revalidate(req, bucket)
			return cached, nil
		}
		return t.fetchAndCache(req, bucket)

	case NetworkFirstDocument:
		resp, err := t.fetchAndCache(req, bucket)
		if err == nil {
			return resp, nil
		}
		if cached := t.load(req, bucket); cached != nil {
			return cached, nil
		}
		return t.fallbackPage(req), nil

	default: // NetworkFirstAPI
		resp, err := t.fetchAndCache(req, bucket)
		if err == nil {
			return resp, nil
		}
		if cached := t.load(req, bucket); cached != nil {
			return cached, nil
		}
		return nil, err
	}
}

// fetchAndCache performs the network fetch and stores a clone of any
// successful response before handing it back. Responses over the caching
// size bound are handed back whole, with the buffered prefix stitched to the
// still-open remainder of the stream.
func (t *Transport) fetchAndCache(req *http.Request, bucket string) (*http.Response, error) {
	resp, err := t.inner.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBody+1))
	if err != nil {
		_ = resp.Body.Close()
		return nil, err
	}

	if int64(len(body)) > t.maxBody {
		resp.Body = stitchedBody{
			Reader: io.MultiReader(bytes.NewReader(body), resp.Body),
			Closer: resp.Body,
		}
		return resp, nil
	}

	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))

	headers, err := json.Marshal(resp.Header)
	if err != nil {
		return resp, nil
	}
	entry := &httpcache.Entry{
		Bucket:   bucket,
		URL:      req.URL.String(),
		Status:   resp.StatusCode,
		Headers:  headers,
		Body:     body,
		StoredAt: time.Now().UTC(),
	}
	if err := t.repo.Put(req.Context(), entry); err != nil {
		t.log.Warn(req.Context(), "failed to cache response", "url", entry.URL, "error", err)
	}
	return resp, nil
}

// load rebuilds a response from the cache, or returns nil on miss.
func (t *Transport) load(req *http.Request, bucket string) *http.Response {
	entry, err := t.repo.Get(req.Context(), bucket, req.URL.String())
	if err != nil {
		return nil
	}

	header := http.Header{}
	_ = json.Unmarshal(entry.Headers, &header)
	header.Set("X-Driftwell-Cache", "hit")

	return &http.Response{
		StatusCode:    entry.Status,
		Status:        strconv.Itoa(entry.Status) + " " + http.StatusText(entry.Status),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(entry.Body)),
		ContentLength: int64(len(entry.Body)),
		Request:       req,
	}
}

// revalidate refreshes a stale-while-revalidate entry in the background.
func (t *Transport) revalidate(req *http.Request, bucket string) {
	ctx, cancel := context.WithTimeout(context.Background(), t.revalidateTimeout)
	defer cancel()

	clone := req.Clone(ctx)
	clone.Body = nil

	if _, err := t.fetchAndCache(clone, bucket); err != nil {
		t.log.Debug(ctx, "background revalidation failed", "url", req.URL.String(), "error", err)
	}
}

// offlineResponse is the synthetic service-unavailable answer for writes
// attempted with no transport.
func (t *Transport) offlineResponse(req *http.Request) *http.Response {
	header := http.Header{}
	header.Set(OfflineHeader, "1")
	header.Set("Content-Type", "application/json")
	body := []byte(`{"error":"offline"}`)

	return &http.Response{
		StatusCode:    http.StatusServiceUnavailable,
		Status:        "503 " + http.StatusText(http.StatusServiceUnavailable),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

// fallbackPage serves the bundled offline document when no cached copy of a
// navigable document exists.
func (t *Transport) fallbackPage(req *http.Request) *http.Response {
	header := http.Header{}
	header.Set(OfflineHeader, "1")
	header.Set("Content-Type", "text/html; charset=utf-8")
	body := []byte(offlineFallbackPage)

	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 " + http.StatusText(http.StatusOK),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

// Cleanup drops every cache bucket whose version tag no longer matches the
// active one. Run it once per session start and on deploy-version changes.
func (t *Transport) Cleanup(ctx context.Context) error {
	removed, err := t.repo.DeleteBucketsExcept(ctx, t.version)
	if err != nil {
		return err
	}
	if removed > 0 {
		t.log.Info(ctx, "cleaned stale cache buckets", "removedEntries", removed, "version", t.version)
	}
	return nil
}
