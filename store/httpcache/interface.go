package httpcache

import (
	"context"
	"time"
)

// Entry is one cached HTTP response. Headers are a JSON-encoded
// http.Header; Body is the raw response body.
type Entry struct {
	Bucket   string
	URL      string
	Status   int
	Headers  []byte
	Body     []byte
	StoredAt time.Time
}

// Repository persists cached HTTP responses for the request interceptor.
// Buckets are namespaced by the active cache version tag; cleanup drops every
// bucket whose tag no longer matches.
type Repository interface {
	Put(ctx context.Context, e *Entry) error
	Get(ctx context.Context, bucket, url string) (*Entry, error)
	DeleteBucketsExcept(ctx context.Context, versionPrefix string) (int64, error)
}
