package memory

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tendant/simple-cms/pkg/simplecms"
	"github.com/tendant/simple-cms/pkg/simplecms/metadata"
)

// Store operation names accepted by InjectError.
const (
	OpHead   = "head"
	OpGet    = "get"
	OpPut    = "put"
	OpCopy   = "copy"
	OpDelete = "delete"
	OpList   = "list"
)

type object struct {
	data         []byte
	contentType  string
	cacheControl string
	etag         string
	updatedAt    time.Time
	metadata     map[string]string
}

type fault struct {
	op  string
	key string
	err error
}

// Backend is an in-memory implementation of the simplecms.ObjectStore interface.
// Keys are listed in lexical order and continuation tokens are the last key
// of the previous page, like S3.
type Backend struct {
	mu       sync.RWMutex
	objects  map[string]*object
	pageSize int
	faults   []fault
	calls    map[string]int
	now      func() time.Time

	// opaqueETags gives every write a fresh ETag unrelated to the body
	opaqueETags bool
	writes      int
}

// Option configures the backend
type Option func(*Backend)

// WithPageSize caps listing pages regardless of the requested page size.
// Values below 1 keep the default of 1000.
func WithPageSize(n int) Option {
	return func(b *Backend) {
		if n > 0 {
			b.pageSize = n
		}
	}
}

// WithOpaqueETags makes every Put and Copy assign a new ETag that is not the
// MD5 of the body, as S3 does for SSE-KMS encrypted and multipart objects.
func WithOpaqueETags() Option {
	return func(b *Backend) {
		b.opaqueETags = true
	}
}

// WithClock sets the time source for object modification times.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) {
		b.now = now
	}
}

// New creates a new in-memory storage backend
func New(opts ...Option) *Backend {
	b := &Backend{
		objects:  make(map[string]*object),
		pageSize: 1000,
		calls:    make(map[string]int),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// InjectError makes the next matching call fail with err. An empty key
// matches every key. Faults fire once, in the order they were added.
func (b *Backend) InjectError(op, key string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.faults = append(b.faults, fault{op: op, key: key, err: err})
}

// Calls returns how many times op was invoked.
func (b *Backend) Calls(op string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.calls[op]
}

// Keys returns every stored key in lexical order.
func (b *Backend) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sortedKeys("")
}

// must be called with b.mu held for writing
func (b *Backend) enter(op, key string) error {
	b.calls[op]++
	for i, f := range b.faults {
		if f.op == op && (f.key == "" || f.key == key) {
			b.faults = append(b.faults[:i], b.faults[i+1:]...)
			return &simplecms.StoreError{Op: op, Key: key, Kind: kindOf(f.err), Err: f.err}
		}
	}
	return nil
}

func kindOf(err error) error {
	switch {
	case errors.Is(err, simplecms.ErrNotFound):
		return simplecms.ErrNotFound
	case errors.Is(err, simplecms.ErrAuth):
		return simplecms.ErrAuth
	case errors.Is(err, simplecms.ErrInvalidRequest):
		return simplecms.ErrInvalidRequest
	default:
		return simplecms.ErrTransientStore
	}
}

// checkMetadata applies the S3 user metadata limit.
func checkMetadata(op, key string, raw map[string]string) error {
	if err := metadata.Check(raw); err != nil {
		return &simplecms.StoreError{Op: op, Key: key, Kind: simplecms.ErrInvalidRequest, Err: err}
	}
	return nil
}

// must be called with b.mu held for writing
func (b *Backend) etagFor(data []byte) string {
	b.writes++
	if b.opaqueETags {
		return fmt.Sprintf("%032x-%d", b.writes, b.writes)
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func notFound(op, key string) error {
	return &simplecms.StoreError{Op: op, Key: key, Kind: simplecms.ErrNotFound, Err: errors.New("object not found")}
}

func (o *object) meta(key string) simplecms.ObjectMeta {
	return simplecms.ObjectMeta{
		Key:          key,
		Size:         int64(len(o.data)),
		ContentType:  o.contentType,
		CacheControl: o.cacheControl,
		ETag:         o.etag,
		UpdatedAt:    o.updatedAt,
		Metadata:     maps.Clone(o.metadata),
	}
}

// Head returns the metadata of an object
func (b *Backend) Head(ctx context.Context, key string) (*simplecms.ObjectMeta, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.enter(OpHead, key); err != nil {
		return nil, err
	}
	o, exists := b.objects[key]
	if !exists {
		return nil, notFound(OpHead, key)
	}
	meta := o.meta(key)
	return &meta, nil
}

// Get returns the body and metadata of an object
func (b *Backend) Get(ctx context.Context, key string) (*simplecms.Object, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.enter(OpGet, key); err != nil {
		return nil, err
	}
	o, exists := b.objects[key]
	if !exists {
		return nil, notFound(OpGet, key)
	}
	return &simplecms.Object{
		ObjectMeta: o.meta(key),
		Body:       io.NopCloser(bytes.NewReader(o.data)),
	}, nil
}

// Put stores an object, replacing any previous version
func (b *Backend) Put(ctx context.Context, params simplecms.PutParams) error {
	b.mu.Lock()
	if err := b.enter(OpPut, params.Key); err != nil {
		b.mu.Unlock()
		return err
	}
	b.mu.Unlock()
	if err := checkMetadata(OpPut, params.Key, params.Metadata); err != nil {
		return err
	}

	data, err := io.ReadAll(params.Body)
	if err != nil {
		return &simplecms.StoreError{Op: OpPut, Key: params.Key, Kind: simplecms.ErrTransientStore, Err: err}
	}

	contentType := params.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[params.Key] = &object{
		data:         data,
		contentType:  contentType,
		cacheControl: params.CacheControl,
		etag:         b.etagFor(data),
		updatedAt:    b.now(),
		metadata:     lowerKeys(params.Metadata),
	}
	return nil
}

// Copy duplicates an object. With ReplaceMetadata the destination takes the
// given metadata, content type and cache control; otherwise the source's.
func (b *Backend) Copy(ctx context.Context, params simplecms.CopyParams) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.enter(OpCopy, params.SourceKey); err != nil {
		return err
	}
	src, exists := b.objects[params.SourceKey]
	if !exists {
		return notFound(OpCopy, params.SourceKey)
	}
	if params.SourceKey == params.DestKey && !params.ReplaceMetadata {
		return &simplecms.StoreError{
			Op:   OpCopy,
			Key:  params.SourceKey,
			Kind: simplecms.ErrTransientStore,
			Err:  errors.New("copying an object onto itself requires replacing its metadata"),
		}
	}

	if params.ReplaceMetadata {
		if err := checkMetadata(OpCopy, params.DestKey, params.Metadata); err != nil {
			return err
		}
	}

	etag := src.etag
	if b.opaqueETags {
		etag = b.etagFor(src.data)
	}
	dst := &object{
		data:         src.data,
		contentType:  src.contentType,
		cacheControl: src.cacheControl,
		etag:         etag,
		updatedAt:    b.now(),
		metadata:     maps.Clone(src.metadata),
	}
	if params.ReplaceMetadata {
		dst.metadata = lowerKeys(params.Metadata)
		dst.contentType = params.ContentType
		dst.cacheControl = params.CacheControl
	}
	b.objects[params.DestKey] = dst
	return nil
}

// Delete removes an object
func (b *Backend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.enter(OpDelete, key); err != nil {
		return err
	}
	if _, exists := b.objects[key]; !exists {
		return notFound(OpDelete, key)
	}
	delete(b.objects, key)
	return nil
}

// List returns one page of keys under opts.Prefix
func (b *Backend) List(ctx context.Context, opts simplecms.ListOptions) (*simplecms.ListPage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.enter(OpList, opts.Prefix); err != nil {
		return nil, err
	}

	limit := b.pageSize
	if opts.MaxKeys > 0 && opts.MaxKeys < limit {
		limit = opts.MaxKeys
	}

	keys := b.sortedKeys(opts.Prefix)
	start := 0
	if opts.ContinuationToken != "" {
		start = sort.SearchStrings(keys, opts.ContinuationToken)
		if start < len(keys) && keys[start] == opts.ContinuationToken {
			start++
		}
	}

	page := &simplecms.ListPage{}
	end := min(start+limit, len(keys))
	for _, k := range keys[start:end] {
		o := b.objects[k]
		page.Objects = append(page.Objects, simplecms.ObjectSummary{
			Key:          k,
			Size:         int64(len(o.data)),
			ETag:         o.etag,
			LastModified: o.updatedAt,
		})
	}
	if end < len(keys) {
		page.IsTruncated = true
		page.ContinuationToken = keys[end-1]
	}
	return page, nil
}

// RetrievalURL returns a memory:// URL naming the key.
func (b *Backend) RetrievalURL(ctx context.Context, key string) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if _, exists := b.objects[key]; !exists {
		return "", notFound("url", key)
	}
	return fmt.Sprintf("memory://%s", (&url.URL{Path: key}).EscapedPath()), nil
}

func (b *Backend) sortedKeys(prefix string) []string {
	keys := make([]string, 0, len(b.objects))
	for k := range b.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// S3 user metadata keys are case-insensitive and returned lowercased.
func lowerKeys(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = v
	}
	return out
}

var (
	_ simplecms.ObjectStore = (*Backend)(nil)
	_ simplecms.URLSigner   = (*Backend)(nil)
)
