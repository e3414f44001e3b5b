package simplecms

import (
	"context"
	"io"
	"time"
)

// ObjectStore is the key-addressed store the repository runs on. It offers no
// transactions, indexes or schema; implementations report failures as
// *StoreError so callers can tell absence, auth and transient problems apart.
type ObjectStore interface {
	// Head returns the metadata of key, or an error wrapping ErrNotFound
	Head(ctx context.Context, key string) (*ObjectMeta, error)

	// Get returns the body and metadata of key. The caller closes Body.
	Get(ctx context.Context, key string) (*Object, error)

	// Put writes an object, replacing any previous body and metadata
	Put(ctx context.Context, params PutParams) error

	// Copy copies SourceKey to DestKey; SourceKey == DestKey rewrites metadata in place
	Copy(ctx context.Context, params CopyParams) error

	// Delete removes key
	Delete(ctx context.Context, key string) error

	// List returns one page of keys under a prefix
	List(ctx context.Context, opts ListOptions) (*ListPage, error)
}

// URLSigner issues retrieval URLs for stored objects.
type URLSigner interface {
	RetrievalURL(ctx context.Context, key string) (string, error)
}

// ObjectMeta contains metadata about an object in storage
type ObjectMeta struct {
	Key          string
	Size         int64
	ContentType  string
	CacheControl string
	ETag         string
	UpdatedAt    time.Time
	Metadata     map[string]string
}

// Object is a fetched body with its metadata
type Object struct {
	ObjectMeta
	Body io.ReadCloser
}

// PutParams contains parameters for writing an object
type PutParams struct {
	Key          string
	Body         io.Reader
	Size         int64 // -1 when unknown
	ContentType  string
	CacheControl string
	Metadata     map[string]string
}

// CopyParams contains parameters for a server-side copy
type CopyParams struct {
	SourceKey string
	DestKey   string

	// ReplaceMetadata replaces the destination metadata with Metadata,
	// ContentType and CacheControl; otherwise the source metadata is kept.
	ReplaceMetadata bool
	Metadata        map[string]string
	ContentType     string
	CacheControl    string
}

// ListOptions configures a List call
type ListOptions struct {
	Prefix            string
	ContinuationToken string
	MaxKeys           int
}

// ListPage is one page of a listing. ContinuationToken is set whenever
// IsTruncated is true.
type ListPage struct {
	Objects           []ObjectSummary
	IsTruncated       bool
	ContinuationToken string
}

// ObjectSummary is a listed key
type ObjectSummary struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}
