package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tendant/simple-cms/pkg/simplecms"
)

// StorageMetrics holds Prometheus collectors for object store calls.
type StorageMetrics struct {
	bytes   *prometheus.CounterVec
	ops     *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

// NewStorageMetrics registers storage metrics on reg.
func NewStorageMetrics(reg prometheus.Registerer) (*StorageMetrics, error) {
	bytes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "simplecms",
		Subsystem: "store",
		Name:      "bytes_total",
		Help:      "Total body bytes moved by store operations.",
	}, []string{"op"})
	ops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "simplecms",
		Subsystem: "store",
		Name:      "ops_total",
		Help:      "Total number of store operations by result.",
	}, []string{"op", "result"}) // result = "ok" | "not_found" | "auth" | "rejected" | "error"
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "simplecms",
		Subsystem: "store",
		Name:      "op_duration_seconds",
		Help:      "Histogram of store operation durations in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})

	for _, c := range []prometheus.Collector{bytes, ops, latency} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register store metrics: %w", err)
		}
	}

	return &StorageMetrics{bytes: bytes, ops: ops, latency: latency}, nil
}

// Observe records one store call.
func (m *StorageMetrics) Observe(op string, bytes int64, err error, dur time.Duration) {
	if bytes > 0 {
		m.bytes.WithLabelValues(op).Add(float64(bytes))
	}
	m.ops.WithLabelValues(op, result(err)).Inc()
	m.latency.WithLabelValues(op).Observe(dur.Seconds())
}

// OpsCounter returns the operation counter for op and result.
func (m *StorageMetrics) OpsCounter(op, result string) prometheus.Counter {
	return m.ops.WithLabelValues(op, result)
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, simplecms.ErrNotFound):
		return "not_found"
	case errors.Is(err, simplecms.ErrAuth):
		return "auth"
	case errors.Is(err, simplecms.ErrInvalidRequest):
		return "rejected"
	default:
		return "error"
	}
}

// Store wraps an ObjectStore and records every call. It also forwards
// RetrievalURL when the wrapped store issues URLs.
type Store struct {
	next    simplecms.ObjectStore
	metrics *StorageMetrics
	now     func() time.Time
}

// Instrument returns next with metrics recorded on m.
func Instrument(next simplecms.ObjectStore, m *StorageMetrics) *Store {
	return &Store{next: next, metrics: m, now: time.Now}
}

func (s *Store) observe(op string, start time.Time, bytes int64, err error) {
	s.metrics.Observe(op, bytes, err, s.now().Sub(start))
}

func (s *Store) Head(ctx context.Context, key string) (*simplecms.ObjectMeta, error) {
	start := s.now()
	meta, err := s.next.Head(ctx, key)
	s.observe("head", start, 0, err)
	return meta, err
}

// Get records latency up to the first byte; body bytes are counted as they
// are read.
func (s *Store) Get(ctx context.Context, key string) (*simplecms.Object, error) {
	start := s.now()
	obj, err := s.next.Get(ctx, key)
	s.observe("get", start, 0, err)
	if err != nil {
		return nil, err
	}
	obj.Body = &countingBody{ReadCloser: obj.Body, counter: s.metrics.bytes.WithLabelValues("get")}
	return obj, nil
}

func (s *Store) Put(ctx context.Context, params simplecms.PutParams) error {
	start := s.now()
	body := &countingReader{r: params.Body}
	params.Body = body
	err := s.next.Put(ctx, params)
	s.observe("put", start, body.n, err)
	return err
}

func (s *Store) Copy(ctx context.Context, params simplecms.CopyParams) error {
	start := s.now()
	err := s.next.Copy(ctx, params)
	s.observe("copy", start, 0, err)
	return err
}

func (s *Store) Delete(ctx context.Context, key string) error {
	start := s.now()
	err := s.next.Delete(ctx, key)
	s.observe("delete", start, 0, err)
	return err
}

func (s *Store) List(ctx context.Context, opts simplecms.ListOptions) (*simplecms.ListPage, error) {
	start := s.now()
	page, err := s.next.List(ctx, opts)
	s.observe("list", start, 0, err)
	return page, err
}

// RetrievalURL delegates to the wrapped store.
func (s *Store) RetrievalURL(ctx context.Context, key string) (string, error) {
	signer, ok := s.next.(simplecms.URLSigner)
	if !ok {
		return "", &simplecms.ConfigurationError{Field: "url_signer", Reason: "wrapped store does not issue retrieval URLs"}
	}
	start := s.now()
	url, err := signer.RetrievalURL(ctx, key)
	s.observe("presign", start, 0, err)
	return url, err
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

type countingBody struct {
	io.ReadCloser
	counter prometheus.Counter
}

func (c *countingBody) Read(p []byte) (int, error) {
	n, err := c.ReadCloser.Read(p)
	if n > 0 {
		c.counter.Add(float64(n))
	}
	return n, err
}

var (
	_ simplecms.ObjectStore = (*Store)(nil)
	_ simplecms.URLSigner   = (*Store)(nil)
)
