package simplecms

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/tendant/simple-cms/pkg/simplecms/keyspace"
	"github.com/tendant/simple-cms/pkg/simplecms/metadata"
)

// Repository implements entry, media and editorial workflow persistence on an ObjectStore.
type Repository struct {
	store    ObjectStore
	signer   URLSigner
	keys     *keyspace.Mapper
	codec    metadata.Codec
	cfg      Config
	workflow *Workflow
	logger   *slog.Logger
	newID    func() string
}

// Option represents a functional option for configuring the repository
type Option func(*Repository)

// WithStore sets the object store. Required.
func WithStore(store ObjectStore) Option {
	return func(r *Repository) {
		r.store = store
	}
}

// WithURLSigner sets the retrieval URL generator for media. Defaults to the
// store when it implements URLSigner.
func WithURLSigner(signer URLSigner) Option {
	return func(r *Repository) {
		r.signer = signer
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Repository) {
		r.logger = logger
	}
}

// WithIDGenerator replaces the media id generator. Generated ids must be unique.
func WithIDGenerator(gen func() string) Option {
	return func(r *Repository) {
		r.newID = gen
	}
}

// New validates cfg and creates a repository. Configuration problems are
// reported here as *ConfigurationError and never at call time.
func New(cfg Config, options ...Option) (*Repository, error) {
	r := &Repository{
		logger: slog.Default(),
		newID:  uuid.NewString,
	}
	for _, option := range options {
		option(r)
	}

	if r.store == nil {
		return nil, &ConfigurationError{Field: "store", Reason: "an object store is required"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if r.signer == nil {
		signer, ok := r.store.(URLSigner)
		if !ok {
			return nil, &ConfigurationError{Field: "url_signer", Reason: "store does not issue retrieval URLs; use WithURLSigner"}
		}
		r.signer = signer
	}

	r.cfg = cfg
	r.keys = keyspace.New(cfg.prefixes())
	r.logger = r.logger.With("component", "simplecms")
	r.workflow = &Workflow{
		store:  r.store,
		keys:   r.keys,
		cfg:    &r.cfg,
		logger: r.logger.With("subcomponent", "workflow"),
	}
	return r, nil
}

// Workflow returns the workflow engine.
func (r *Repository) Workflow() *Workflow {
	return r.workflow
}

// Keys returns the key mapper.
func (r *Repository) Keys() *keyspace.Mapper {
	return r.keys
}

// Store returns the underlying object store.
func (r *Repository) Store() ObjectStore {
	return r.store
}

// Config returns the validated configuration.
func (r *Repository) Config() Config {
	return r.cfg
}

// ListKeys drains every key of a namespace.
func (r *Repository) ListKeys(ctx context.Context, ns keyspace.Namespace) ([]ObjectSummary, error) {
	return r.listAll(ctx, r.keys.Prefix(ns))
}

// Published entries

// ListByExplicitFiles fetches the published entries named by files, in input
// order. Files without a stored object are skipped; any other failure aborts
// the whole call.
func (r *Repository) ListByExplicitFiles(ctx context.Context, collection string, files []string) ([]Entry, error) {
	keys := make([]string, len(files))
	for i, f := range files {
		key, err := r.keys.EntryKey(keyspace.Published, collection, f)
		if err != nil {
			return nil, err
		}
		keys[i] = key
	}
	return r.fetchEntries(ctx, collection, files, keys)
}

// ListByFolder fetches every published entry of collection whose file name
// ends in extension. Paths are reported relative to the collection prefix.
func (r *Repository) ListByFolder(ctx context.Context, collection, extension string) ([]Entry, error) {
	prefix, err := r.keys.CollectionPrefix(keyspace.Published, collection)
	if err != nil {
		return nil, err
	}
	if extension != "" && !strings.HasPrefix(extension, ".") {
		extension = "." + extension
	}

	objects, err := r.listAll(ctx, prefix)
	if err != nil {
		return nil, err
	}

	var files, keys []string
	for _, o := range objects {
		rel, err := keyspace.StripPrefix(prefix, o.Key)
		if err != nil {
			return nil, err
		}
		if rel == "" || !strings.HasSuffix(rel, extension) {
			continue
		}
		files = append(files, rel)
		keys = append(keys, o.Key)
	}
	return r.fetchEntries(ctx, collection, files, keys)
}

func (r *Repository) fetchEntries(ctx context.Context, collection string, files, keys []string) ([]Entry, error) {
	return fanOut(ctx, r.cfg.MaxConcurrency, len(keys), func(ctx context.Context, i int) (Entry, bool, error) {
		obj, err := r.store.Get(ctx, keys[i])
		if err != nil {
			if IsNotFound(err) {
				r.logger.Debug("listed entry missing, skipping", "key", keys[i])
				return Entry{}, false, nil
			}
			return Entry{}, false, err
		}
		raw, err := readBody(obj)
		if err != nil {
			return Entry{}, false, &StoreError{Op: "get", Key: keys[i], Kind: ErrTransientStore, Err: err}
		}
		return r.newEntry(collection, files[i], raw), true, nil
	})
}

// GetEntry fetches one published entry.
func (r *Repository) GetEntry(ctx context.Context, collection, slug string) (*Entry, error) {
	file := r.cfg.fileName(slug)
	key, err := r.keys.EntryKey(keyspace.Published, collection, file)
	if err != nil {
		return nil, err
	}
	obj, err := r.store.Get(ctx, key)
	if err != nil {
		if IsNotFound(err) {
			return nil, &NotFoundError{Key: key}
		}
		return nil, err
	}
	raw, err := readBody(obj)
	if err != nil {
		return nil, &StoreError{Op: "get", Key: key, Kind: ErrTransientStore, Err: err}
	}
	entry := r.newEntry(collection, file, raw)
	return &entry, nil
}

// PersistEntry writes an entry body with its workflow metadata.
//
// With the workflow enabled the entry is written as a draft; otherwise it is
// written straight to the published namespace. The commit message is kept in
// metadata for audit only. The store keeps just the latest body per key, so
// earlier revisions are gone unless the bucket has versioning enabled.
func (r *Repository) PersistEntry(ctx context.Context, entry Entry, opts PersistOptions) error {
	_, err := r.workflow.Save(ctx, entry, opts)
	return err
}

func (r *Repository) newEntry(collection, file, raw string) Entry {
	return Entry{
		Collection: collection,
		Slug:       r.cfg.slugOf(file),
		Path:       file,
		Raw:        raw,
	}
}

// Editorial workflow

// ListUnpublishedEntries returns every draft with its status and whether a
// published copy exists. The whole unpublished namespace is drained; there is
// no page cap.
func (r *Repository) ListUnpublishedEntries(ctx context.Context) ([]UnpublishedEntry, error) {
	if !r.cfg.UseWorkflow {
		return nil, ErrWorkflowDisabled
	}
	objects, err := r.listAll(ctx, r.keys.Prefix(keyspace.Unpublished))
	if err != nil {
		return nil, err
	}

	return fanOut(ctx, r.cfg.MaxConcurrency, len(objects), func(ctx context.Context, i int) (UnpublishedEntry, bool, error) {
		collection, file, err := r.keys.ParseEntryKey(keyspace.Unpublished, objects[i].Key)
		if err != nil {
			return UnpublishedEntry{}, false, err
		}
		u, err := r.loadUnpublished(ctx, collection, file)
		if err != nil {
			if IsNotFound(err) {
				return UnpublishedEntry{}, false, nil
			}
			return UnpublishedEntry{}, false, err
		}
		return *u, true, nil
	})
}

// GetUnpublishedEntry fetches one draft.
func (r *Repository) GetUnpublishedEntry(ctx context.Context, collection, slug string) (*UnpublishedEntry, error) {
	if !r.cfg.UseWorkflow {
		return nil, ErrWorkflowDisabled
	}
	u, err := r.loadUnpublished(ctx, collection, r.cfg.fileName(slug))
	if err != nil {
		if IsNotFound(err) {
			key, _ := r.keys.EntryKey(keyspace.Unpublished, collection, r.cfg.fileName(slug))
			return nil, &NotFoundError{Key: key}
		}
		return nil, err
	}
	return u, nil
}

func (r *Repository) loadUnpublished(ctx context.Context, collection, file string) (*UnpublishedEntry, error) {
	key, err := r.keys.EntryKey(keyspace.Unpublished, collection, file)
	if err != nil {
		return nil, err
	}
	obj, err := r.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	raw, err := readBody(obj)
	if err != nil {
		return nil, &StoreError{Op: "get", Key: key, Kind: ErrTransientStore, Err: err}
	}

	meta, err := r.codec.Decode(obj.Metadata, metadata.Canonical)
	if err != nil {
		return nil, err
	}
	status, err := r.cfg.statuses.Parse(meta.Status)
	if err != nil {
		return nil, err
	}
	modification, err := r.workflow.ExistsPublished(ctx, collection, file)
	if err != nil {
		return nil, err
	}

	return &UnpublishedEntry{
		Entry:          r.newEntry(collection, file, raw),
		Metadata:       meta,
		Status:         status,
		IsModification: modification,
	}, nil
}

// UpdateUnpublishedEntryStatus sets the status of a draft.
func (r *Repository) UpdateUnpublishedEntryStatus(ctx context.Context, collection, slug, status string) error {
	_, err := r.workflow.SetStatus(ctx, collection, slug, status)
	return err
}

// PublishUnpublishedEntry publishes a draft.
func (r *Repository) PublishUnpublishedEntry(ctx context.Context, collection, slug string) error {
	return r.workflow.Publish(ctx, collection, slug)
}

// DeleteUnpublishedEntry deletes a draft; deleting a missing draft succeeds.
func (r *Repository) DeleteUnpublishedEntry(ctx context.Context, collection, slug string) error {
	return r.workflow.DeleteDraft(ctx, collection, slug)
}

// ExistsPublished reports whether a published copy exists right now.
func (r *Repository) ExistsPublished(ctx context.Context, collection, slug string) (bool, error) {
	return r.workflow.ExistsPublished(ctx, collection, slug)
}

// EntryState returns the workflow state of an entry.
func (r *Repository) EntryState(ctx context.Context, collection, slug string) (State, error) {
	return r.workflow.State(ctx, collection, slug)
}

func readBody(obj *Object) (string, error) {
	defer obj.Body.Close()
	data, err := io.ReadAll(obj.Body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
